package ldap

import (
	"crypto/md5" //nolint:gosec // {MD5} is the scheme the directory expects
	"encoding/base64"
	"strings"
)

// PasswordSchemeMD5 prefixes values produced by HashPassword.
const PasswordSchemeMD5 = "{MD5}"

// HashPassword returns password in the RFC 2307 {MD5} form accepted for
// userPassword: the scheme prefix followed by the base64 encoded raw digest.
func HashPassword(password string) string {
	sum := md5.Sum([]byte(password)) //nolint:gosec
	return PasswordSchemeMD5 + base64.StdEncoding.EncodeToString(sum[:])
}

// IsHashedPassword reports whether value already carries a {SCHEME} prefix.
func IsHashedPassword(value string) bool {
	if !strings.HasPrefix(value, "{") {
		return false
	}
	end := strings.Index(value, "}")
	return end > 1
}
