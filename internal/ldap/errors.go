package ldap

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/go-ldap/ldap/v3"
)

// Operation names carried by LDAPError.
const (
	OpConnect  = "connect"
	OpStartTLS = "start_tls"
	OpBind     = "bind"
	OpSearch   = "search"
	OpAdd      = "add"
	OpModify   = "modify"
	OpRename   = "rename"
	OpDelete   = "delete"
)

var (
	// ErrNotConnected is returned by operations on a client that is not bound.
	ErrNotConnected = errors.New("client is not connected")

	// ErrServerNotFound is returned when a server reference matches no configuration.
	ErrServerNotFound = errors.New("server not found")

	// ErrInvalidServerRef is returned for an empty server reference.
	ErrInvalidServerRef = errors.New("invalid server reference")
)

// ErrorCategory represents different categories of LDAP errors.
type ErrorCategory string

const (
	ErrorCategoryConnection     ErrorCategory = "connection"
	ErrorCategoryAuthentication ErrorCategory = "authentication"
	ErrorCategoryTLS            ErrorCategory = "tls"
	ErrorCategoryTimeout        ErrorCategory = "timeout"
	ErrorCategoryPermission     ErrorCategory = "permission"
	ErrorCategoryNotFound       ErrorCategory = "not_found"
	ErrorCategoryConflict       ErrorCategory = "conflict"
	ErrorCategoryValidation     ErrorCategory = "validation"
	ErrorCategoryServer         ErrorCategory = "server"
	ErrorCategoryUnknown        ErrorCategory = "unknown"
)

// LDAPError provides enhanced error information for LDAP operations.
type LDAPError struct {
	Operation string        // The operation that failed
	Category  ErrorCategory // Error category
	LDAPCode  uint16        // LDAP result code
	Message   string        // Human-readable message
	ServerMsg string        // Server-provided message
	DN        string        // DN involved in the operation (if applicable)
	Retryable bool          // Whether a later attempt may succeed
	Cause     error         // Underlying error
}

func (e *LDAPError) Error() string {
	var parts []string

	if e.LDAPCode > 0 {
		parts = append(parts, fmt.Sprintf("LDAP %s failed (code %d)", e.Operation, e.LDAPCode))
	} else {
		parts = append(parts, fmt.Sprintf("LDAP %s failed", e.Operation))
	}

	if e.Message != "" {
		parts = append(parts, e.Message)
	}

	if e.ServerMsg != "" && e.ServerMsg != e.Message {
		parts = append(parts, fmt.Sprintf("server: %s", e.ServerMsg))
	}

	if e.DN != "" {
		parts = append(parts, fmt.Sprintf("DN: %s", e.DN))
	}

	return strings.Join(parts, " - ")
}

func (e *LDAPError) Unwrap() error {
	return e.Cause
}

// NewLDAPError creates a new LDAP error.
func NewLDAPError(operation string, err error) *LDAPError {
	if err == nil {
		return nil
	}

	ldapErr := &LDAPError{
		Operation: operation,
		Cause:     err,
	}

	var resultErr *ldap.Error
	if errors.As(err, &resultErr) && resultErr.ResultCode < ldap.ErrorNetwork {
		ldapErr.LDAPCode = resultErr.ResultCode
		if resultErr.Err != nil {
			ldapErr.ServerMsg = resultErr.Err.Error()
		}
		ldapErr.Category = categorizeError(resultErr.ResultCode)
		ldapErr.Retryable = isLDAPCodeRetryable(resultErr.ResultCode)
		ldapErr.Message = resultMessage(resultErr.ResultCode)
	} else {
		ldapErr.Category = categorizeGenericError(err)
		ldapErr.Retryable = ldapErr.Category == ErrorCategoryConnection || ldapErr.Category == ErrorCategoryTimeout
		ldapErr.Message = err.Error()
	}

	// Failures before a session exists keep their phase as category.
	switch operation {
	case OpConnect:
		if ldapErr.Category != ErrorCategoryTimeout {
			ldapErr.Category = ErrorCategoryConnection
		}
	case OpStartTLS:
		if ldapErr.Category != ErrorCategoryTimeout {
			ldapErr.Category = ErrorCategoryTLS
		}
	}

	return ldapErr
}

// newOperationError wraps err for operation and records the DN involved.
func newOperationError(operation, dn string, err error) *LDAPError {
	ldapErr := NewLDAPError(operation, err)
	if ldapErr != nil {
		ldapErr.DN = dn
	}
	return ldapErr
}

// resultCategories maps LDAP result codes onto categories. Codes absent
// from the table are ErrorCategoryUnknown.
var resultCategories = map[uint16]ErrorCategory{
	ldap.LDAPResultInvalidCredentials:          ErrorCategoryAuthentication,
	ldap.LDAPResultInappropriateAuthentication: ErrorCategoryAuthentication,
	ldap.LDAPResultStrongAuthRequired:          ErrorCategoryAuthentication,

	ldap.LDAPResultInsufficientAccessRights: ErrorCategoryPermission,
	ldap.LDAPResultUnwillingToPerform:       ErrorCategoryPermission,

	ldap.LDAPResultNoSuchObject:           ErrorCategoryNotFound,
	ldap.LDAPResultNoSuchAttribute:        ErrorCategoryNotFound,
	ldap.LDAPResultUndefinedAttributeType: ErrorCategoryNotFound,

	ldap.LDAPResultEntryAlreadyExists:     ErrorCategoryConflict,
	ldap.LDAPResultAttributeOrValueExists: ErrorCategoryConflict,
	ldap.LDAPResultObjectClassViolation:   ErrorCategoryConflict,
	ldap.LDAPResultNotAllowedOnNonLeaf:    ErrorCategoryConflict,

	ldap.LDAPResultInvalidAttributeSyntax: ErrorCategoryValidation,
	ldap.LDAPResultConstraintViolation:    ErrorCategoryValidation,
	ldap.LDAPResultInvalidDNSyntax:        ErrorCategoryValidation,
	ldap.LDAPResultNamingViolation:        ErrorCategoryValidation,
	ldap.LDAPResultFilterError:            ErrorCategoryValidation,

	ldap.LDAPResultTimeLimitExceeded: ErrorCategoryTimeout,
	ldap.LDAPResultTimeout:           ErrorCategoryTimeout,

	ldap.LDAPResultServerDown:         ErrorCategoryServer,
	ldap.LDAPResultUnavailable:        ErrorCategoryServer,
	ldap.LDAPResultBusy:               ErrorCategoryServer,
	ldap.LDAPResultAdminLimitExceeded: ErrorCategoryServer,

	ldap.LDAPResultConnectError:  ErrorCategoryConnection,
	ldap.LDAPResultProtocolError: ErrorCategoryConnection,
}

func categorizeError(code uint16) ErrorCategory {
	if category, ok := resultCategories[code]; ok {
		return category
	}
	return ErrorCategoryUnknown
}

// categorizeGenericError categorizes errors that carry no LDAP result code.
func categorizeGenericError(err error) ErrorCategory {
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorCategoryTimeout
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrorCategoryTimeout
	}

	if errors.Is(err, ErrNotConnected) || errors.Is(err, context.Canceled) {
		return ErrorCategoryConnection
	}

	if ldap.IsErrorWithCode(err, ldap.ErrorFilterCompile) {
		return ErrorCategoryValidation
	}

	errStr := strings.ToLower(err.Error())

	if strings.Contains(errStr, "timed out") || strings.Contains(errStr, "timeout") {
		return ErrorCategoryTimeout
	}

	if strings.Contains(errStr, "connection") ||
		strings.Contains(errStr, "network") ||
		strings.Contains(errStr, "broken pipe") ||
		strings.Contains(errStr, "connection reset") {
		return ErrorCategoryConnection
	}

	if strings.Contains(errStr, "tls") || strings.Contains(errStr, "certificate") {
		return ErrorCategoryTLS
	}

	return ErrorCategoryUnknown
}

// retryableResults are result codes of transient server conditions.
var retryableResults = map[uint16]bool{
	ldap.LDAPResultBusy:              true,
	ldap.LDAPResultUnavailable:       true,
	ldap.LDAPResultServerDown:        true,
	ldap.LDAPResultTimeLimitExceeded: true,
	ldap.LDAPResultTimeout:           true,
	ldap.LDAPResultConnectError:      true,
}

func isLDAPCodeRetryable(code uint16) bool {
	return retryableResults[code]
}

// resultMessage names an LDAP result code from go-ldap's code table.
func resultMessage(code uint16) string {
	if msg, ok := ldap.LDAPResultCodeMap[code]; ok {
		return msg
	}
	return fmt.Sprintf("Unknown result code %d", code)
}

// WrapError wraps an error with operation context.
func WrapError(operation string, err error) error {
	if err == nil {
		return nil
	}

	var ldapErr *LDAPError
	if errors.As(err, &ldapErr) {
		if ldapErr.Operation == "" {
			ldapErr.Operation = operation
		}
		return err
	}

	return NewLDAPError(operation, err)
}

// GetErrorCategory returns the category of an error.
func GetErrorCategory(err error) ErrorCategory {
	if err == nil {
		return ErrorCategoryUnknown
	}

	var ldapErr *LDAPError
	if errors.As(err, &ldapErr) {
		return ldapErr.Category
	}

	var resultErr *ldap.Error
	if errors.As(err, &resultErr) && resultErr.ResultCode < ldap.ErrorNetwork {
		return categorizeError(resultErr.ResultCode)
	}

	return categorizeGenericError(err)
}

func operationOf(err error) string {
	var ldapErr *LDAPError
	if errors.As(err, &ldapErr) {
		return ldapErr.Operation
	}
	return ""
}

// IsConnectError reports a failure to reach the server.
func IsConnectError(err error) bool {
	return err != nil && operationOf(err) == OpConnect
}

// IsBindError reports rejected credentials or any other bind failure.
func IsBindError(err error) bool {
	return err != nil && operationOf(err) == OpBind
}

// IsTLSError reports a failed StartTLS negotiation.
func IsTLSError(err error) bool {
	return err != nil && (operationOf(err) == OpStartTLS || GetErrorCategory(err) == ErrorCategoryTLS)
}

// IsTimeoutError reports an operation that exceeded its deadline.
func IsTimeoutError(err error) bool {
	return GetErrorCategory(err) == ErrorCategoryTimeout
}

// IsNotFoundError checks if an error indicates a "not found" condition.
func IsNotFoundError(err error) bool {
	return GetErrorCategory(err) == ErrorCategoryNotFound
}

// IsConflictError checks if an error indicates a conflict (already exists).
func IsConflictError(err error) bool {
	return GetErrorCategory(err) == ErrorCategoryConflict
}

// IsAuthenticationError checks if an error indicates an authentication problem.
func IsAuthenticationError(err error) bool {
	return GetErrorCategory(err) == ErrorCategoryAuthentication
}

// IsPermissionError checks if an error indicates a permission problem.
func IsPermissionError(err error) bool {
	return GetErrorCategory(err) == ErrorCategoryPermission
}
