package provider

import (
	"context"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/terraform-plugin-testing/helper/resource"
	"github.com/hashicorp/terraform-plugin-testing/terraform"

	"github.com/isometry/terraform-provider-directory/internal/ldap"
)

// Test environment configuration constants.
const (
	// Environment variables for test configuration.
	EnvTestHost         = "DIRECTORY_TEST_HOST"
	EnvTestPort         = "DIRECTORY_TEST_PORT"
	EnvTestBindDN       = "DIRECTORY_TEST_BIND_DN"
	EnvTestBindPassword = "DIRECTORY_TEST_BIND_PASSWORD"
	EnvTestBaseDN       = "DIRECTORY_TEST_BASE_DN"
	EnvTestContainer    = "DIRECTORY_TEST_CONTAINER"

	// Default values for testing.
	DefaultTestPort      = 389
	DefaultTestBaseDN    = "dc=example,dc=com"
	DefaultTestContainer = "ou=people"

	// Test entry name prefix to avoid conflicts.
	TestEntryPrefix = "tf-test-"
)

// TestConfig holds common test configuration.
type TestConfig struct {
	Host         string
	Port         int
	BindDN       string
	BindPassword string
	BaseDN       string
	Container    string
}

// ContainerDN returns the DN under which test entries are created.
func (c *TestConfig) ContainerDN() string {
	return ldap.JoinDN(c.Container, c.BaseDN)
}

// ServerConfig returns the directory server described by the test configuration.
func (c *TestConfig) ServerConfig() *ldap.ServerConfig {
	config := &ldap.ServerConfig{
		ID:            1,
		Name:          "test",
		Host:          c.Host,
		Port:          c.Port,
		BaseDN:        c.BaseDN,
		AdminDN:       c.BindDN,
		AdminPassword: c.BindPassword,
	}
	_ = config.ApplyDefaults()
	return config
}

// GetTestConfig returns the test configuration from environment variables.
func GetTestConfig() *TestConfig {
	port, err := strconv.Atoi(os.Getenv(EnvTestPort))
	if err != nil || port == 0 {
		port = DefaultTestPort
	}

	return &TestConfig{
		Host:         os.Getenv(EnvTestHost),
		Port:         port,
		BindDN:       os.Getenv(EnvTestBindDN),
		BindPassword: os.Getenv(EnvTestBindPassword),
		BaseDN:       getEnvWithDefault(EnvTestBaseDN, DefaultTestBaseDN),
		Container:    getEnvWithDefault(EnvTestContainer, DefaultTestContainer),
	}
}

// IsAccTest returns true if acceptance tests should run.
func IsAccTest() bool {
	return os.Getenv("TF_ACC") != ""
}

// SkipIfNotAccTest skips the test if TF_ACC is not set.
func SkipIfNotAccTest(t *testing.T) {
	if !IsAccTest() {
		t.Skip("Skipping acceptance test - set TF_ACC=1 to run")
	}
}

// testAccPreCheckWithConfig skips the test unless a writable directory server is configured.
func testAccPreCheckWithConfig(t *testing.T) *TestConfig {
	SkipIfNotAccTest(t)

	config := GetTestConfig()

	if config.Host == "" {
		t.Skipf("Skipping test: %s must be set to a real directory server", EnvTestHost)
	}

	if config.BindDN == "" || config.BindPassword == "" {
		t.Skipf("Skipping test: %s and %s must be set", EnvTestBindDN, EnvTestBindPassword)
	}

	return config
}

// TestProviderConfig generates provider configuration for tests.
func TestProviderConfig() string {
	config := GetTestConfig()

	var providerConfig strings.Builder
	providerConfig.WriteString("provider \"directory\" {\n")
	fmt.Fprintf(&providerConfig, "  host          = %q\n", config.Host)
	fmt.Fprintf(&providerConfig, "  port          = %d\n", config.Port)
	fmt.Fprintf(&providerConfig, "  base_dn       = %q\n", config.BaseDN)
	fmt.Fprintf(&providerConfig, "  bind_dn       = %q\n", config.BindDN)
	fmt.Fprintf(&providerConfig, "  bind_password = %q\n", config.BindPassword)
	providerConfig.WriteString("}\n")
	return providerConfig.String()
}

// GenerateTestName generates a unique test name with timestamp.
func GenerateTestName(prefix string) string {
	timestamp := time.Now().Format("20060102-150405")
	shortUUID := uuid.New().String()[:8]
	return fmt.Sprintf("%s%s-%s", prefix, timestamp, shortUUID)
}

// GenerateEntryConfig generates a test directory_entry configuration.
func GenerateEntryConfig(dn, description string) string {
	return fmt.Sprintf(`
resource "directory_entry" "test" {
  dn = %[1]q

  attributes = {
    objectClass = ["top", "organizationalUnit"]
    description = [%[2]q]
  }
}`, dn, description)
}

// TestFixture manages test fixtures for cleanup.
type TestFixture struct {
	client  *ldap.Client
	entries []string
	t       *testing.T
}

// NewTestFixture creates a new test fixture manager.
func NewTestFixture(t *testing.T) *TestFixture {
	config := testAccPreCheckWithConfig(t)

	client, err := testClient(context.Background(), config)
	if err != nil {
		t.Fatalf("Failed to create directory client for test fixture: %v", err)
	}

	return &TestFixture{
		client:  client,
		entries: make([]string, 0),
		t:       t,
	}
}

// RegisterEntry registers an entry for cleanup.
func (f *TestFixture) RegisterEntry(dn string) {
	f.entries = append(f.entries, dn)
}

// Cleanup removes all registered test entries.
func (f *TestFixture) Cleanup() {
	ctx := context.Background()

	for _, dn := range f.entries {
		if _, err := f.client.DeleteEntry(ctx, dn, true); err != nil && !ldap.IsNotFoundError(err) {
			// Log but don't fail the test if cleanup fails
			log.Printf("Failed to cleanup test entry %s: %v", dn, err)
		}
	}

	if err := f.client.Disconnect(); err != nil {
		log.Printf("Failed to close directory client during cleanup: %v", err)
	}
}

// Test check functions for acceptance tests

// TestCheckEntryExists verifies that the entry of a directory_entry resource exists.
func TestCheckEntryExists(resourceName string) resource.TestCheckFunc {
	return func(s *terraform.State) error {
		rs, ok := s.RootModule().Resources[resourceName]
		if !ok {
			return fmt.Errorf("resource not found: %s", resourceName)
		}

		if rs.Primary.ID == "" {
			return fmt.Errorf("resource ID not set")
		}

		ctx := context.Background()
		client, err := testClient(ctx, GetTestConfig())
		if err != nil {
			return err
		}
		defer func() { _ = client.Disconnect() }()

		exists, err := client.EntryExists(ctx, rs.Primary.ID)
		if err != nil {
			return fmt.Errorf("failed to look up entry %s: %w", rs.Primary.ID, err)
		}
		if !exists {
			return fmt.Errorf("entry %s does not exist", rs.Primary.ID)
		}

		return nil
	}
}

// TestCheckEntryDestroy verifies that every directory_entry in state is gone.
func TestCheckEntryDestroy(s *terraform.State) error {
	ctx := context.Background()
	client, err := testClient(ctx, GetTestConfig())
	if err != nil {
		return err
	}
	defer func() { _ = client.Disconnect() }()

	for _, rs := range s.RootModule().Resources {
		if rs.Type != "directory_entry" {
			continue
		}

		exists, err := client.EntryExists(ctx, rs.Primary.ID)
		if err != nil {
			return fmt.Errorf("failed to look up entry %s: %w", rs.Primary.ID, err)
		}
		if exists {
			return fmt.Errorf("entry %s still exists", rs.Primary.ID)
		}
	}

	return nil
}

func testClient(ctx context.Context, config *TestConfig) (*ldap.Client, error) {
	client, err := ldap.NewClient(config.ServerConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to create directory client: %w", err)
	}

	if err := client.Connect(ctx, ldap.Credential{BindDN: config.BindDN, Password: config.BindPassword}); err != nil {
		return nil, fmt.Errorf("failed to connect to directory: %w", err)
	}

	return client, nil
}

func getEnvWithDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
