package ldap

import (
	"fmt"
	"strings"

	"github.com/go-ldap/ldap/v3"
)

// ValidateDNSyntax validates that a string is a properly formatted Distinguished Name.
func ValidateDNSyntax(dn string) error {
	if strings.TrimSpace(dn) == "" {
		return fmt.Errorf("DN cannot be empty")
	}

	if _, err := ldap.ParseDN(dn); err != nil {
		return fmt.Errorf("invalid DN syntax: %w", err)
	}

	return nil
}

// SplitDN splits dn into its leading RDN and the parent DN. The parent is
// empty for a single-component DN. Escaped commas are respected.
//
// Input:  "cn=Doe\, John,ou=people,dc=example,dc=com"
// Output: "cn=Doe\, John", "ou=people,dc=example,dc=com"
func SplitDN(dn string) (rdn, parent string, err error) {
	if err := ValidateDNSyntax(dn); err != nil {
		return "", "", err
	}

	dn = strings.TrimSpace(dn)
	for i := 0; i < len(dn); i++ {
		switch dn[i] {
		case '\\':
			i++
		case ',':
			return strings.TrimSpace(dn[:i]), strings.TrimSpace(dn[i+1:]), nil
		}
	}

	return dn, "", nil
}

// ParentDN returns the parent DN by removing the first RDN component.
func ParentDN(dn string) (string, error) {
	_, parent, err := SplitDN(dn)
	if err != nil {
		return "", err
	}
	if parent == "" {
		return "", fmt.Errorf("DN has no parent: %s", dn)
	}
	return parent, nil
}

// JoinDN joins a relative DN and a parent DN. Empty parts are omitted.
func JoinDN(rdn, parent string) string {
	switch {
	case rdn == "":
		return parent
	case parent == "":
		return rdn
	default:
		return rdn + "," + parent
	}
}

// EqualDN compares two DNs case-insensitively after parsing. DNs that fail to
// parse are compared as case-folded strings.
func EqualDN(a, b string) bool {
	parsedA, errA := ldap.ParseDN(a)
	parsedB, errB := ldap.ParseDN(b)
	if errA != nil || errB != nil {
		return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
	}
	return parsedA.EqualFold(parsedB)
}

// IsDNChild checks if childDN is a direct or indirect child of parentDN.
func IsDNChild(childDN, parentDN string) (bool, error) {
	if childDN == "" || parentDN == "" {
		return false, fmt.Errorf("DNs cannot be empty")
	}

	parsedChild, err := ldap.ParseDN(childDN)
	if err != nil {
		return false, fmt.Errorf("invalid child DN syntax: %w", err)
	}

	parsedParent, err := ldap.ParseDN(parentDN)
	if err != nil {
		return false, fmt.Errorf("invalid parent DN syntax: %w", err)
	}

	return parsedParent.AncestorOfFold(parsedChild), nil
}

// SubstituteUsername replaces every %username% placeholder in template.
func SubstituteUsername(template, username string) string {
	return strings.ReplaceAll(template, UsernamePlaceholder, username)
}
