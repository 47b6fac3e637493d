// Command dirauth is an operator tool for the directory authentication
// engine: it validates logins, lists servers, searches and hashes passwords.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"go.uber.org/zap"
)

const (
	envConfig   = "DIRAUTH_CONFIG"
	envMySQLDSN = "DIRAUTH_MYSQL_DSN"
	envPassword = "DIRAUTH_PASSWORD"

	defaultConfigFile = "dirauth.yaml"
)

// Config is read from the environment, after any .env file.
type Config struct {
	ConfigFile string `envconfig:"DIRAUTH_CONFIG" default:"dirauth.yaml"`
	MySQLDSN   string `envconfig:"DIRAUTH_MYSQL_DSN"`
	Password   string `envconfig:"DIRAUTH_PASSWORD"`
	Debug      bool   `envconfig:"DIRAUTH_DEBUG"`
}

func loadConfig() (Config, error) {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		return Config{}, fmt.Errorf("failed to process environment: %w", err)
	}
	return config, nil
}

const usage = `usage: dirauth <command> [flags]

commands:
  login    -username U            validate a login (password from ` + envPassword + `)
  servers  [-include-empty]       list configured servers
  search   -server S [-base B] [-filter F] [-attr a,b]
  hash     [-password P]          print the {MD5} hash of a password

environment:
  ` + envConfig + `        configuration file (default ` + defaultConfigFile + `)
  ` + envMySQLDSN + `     store accounts in MySQL instead of memory
`

func main() {
	_ = godotenv.Load()

	config, err := loadConfig()
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}

	if err := run(os.Args[1:], os.Stdout, config); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

func run(args []string, stdout io.Writer, config Config) error {
	log, err := newLogger(config.Debug)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	defer func() { _ = log.Sync() }()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if len(args) == 0 {
		_, _ = fmt.Fprint(stdout, usage)
		return fmt.Errorf("missing command")
	}

	c := &cli{
		log:    log,
		stdout: stdout,
		config: config,
	}
	defer c.close()

	switch args[0] {
	case "login":
		return c.login(ctx, args[1:])
	case "servers":
		return c.servers(ctx, args[1:])
	case "search":
		return c.search(ctx, args[1:])
	case "hash":
		return c.hash(args[1:])
	case "help", "-h", "-help", "--help":
		_, _ = fmt.Fprint(stdout, usage)
		return nil
	default:
		_, _ = fmt.Fprint(stdout, usage)
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}

	config := zap.NewProductionConfig()
	config.OutputPaths = []string{"stderr"}
	return config.Build()
}
