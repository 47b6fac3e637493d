package ldap

import (
	"context"
	"errors"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/go-ldap/ldap/v3"
	"github.com/hashicorp/terraform-plugin-log/tflog"
	"go.uber.org/zap"
)

// Logger interface for LDAP operations.
type Logger interface {
	Debug(msg string, fields map[string]any)
	Info(msg string, fields map[string]any)
	Warn(msg string, fields map[string]any)
	Error(msg string, fields map[string]any)
	Trace(msg string, fields map[string]any)
}

// TFLogger wraps tflog for use in LDAP package. Both adapters redact
// fields through SanitizeFields.
type TFLogger struct {
	ctx       context.Context
	subsystem string
}

// NewTFLogger creates a new logger for LDAP operations.
func NewTFLogger(ctx context.Context, subsystem string) *TFLogger {
	return &TFLogger{
		ctx:       ctx,
		subsystem: subsystem,
	}
}

func (l *TFLogger) Debug(msg string, fields map[string]any) {
	tflog.SubsystemDebug(l.ctx, l.subsystem, msg, SanitizeFields(fields))
}

func (l *TFLogger) Info(msg string, fields map[string]any) {
	tflog.SubsystemInfo(l.ctx, l.subsystem, msg, SanitizeFields(fields))
}

func (l *TFLogger) Warn(msg string, fields map[string]any) {
	tflog.SubsystemWarn(l.ctx, l.subsystem, msg, SanitizeFields(fields))
}

func (l *TFLogger) Error(msg string, fields map[string]any) {
	tflog.SubsystemError(l.ctx, l.subsystem, msg, SanitizeFields(fields))
}

func (l *TFLogger) Trace(msg string, fields map[string]any) {
	tflog.SubsystemTrace(l.ctx, l.subsystem, msg, SanitizeFields(fields))
}

// ZapLogger adapts a zap logger to Logger. Trace is logged at debug level.
type ZapLogger struct {
	logger *zap.Logger
}

// NewZapLogger creates a Logger backed by zap.
func NewZapLogger(logger *zap.Logger) *ZapLogger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ZapLogger{logger: logger}
}

func (l *ZapLogger) Debug(msg string, fields map[string]any) {
	l.logger.Debug(msg, zapFields(fields)...)
}

func (l *ZapLogger) Info(msg string, fields map[string]any) {
	l.logger.Info(msg, zapFields(fields)...)
}

func (l *ZapLogger) Warn(msg string, fields map[string]any) {
	l.logger.Warn(msg, zapFields(fields)...)
}

func (l *ZapLogger) Error(msg string, fields map[string]any) {
	l.logger.Error(msg, zapFields(fields)...)
}

func (l *ZapLogger) Trace(msg string, fields map[string]any) {
	l.logger.Debug(msg, zapFields(fields)...)
}

func zapFields(fields map[string]any) []zap.Field {
	if len(fields) == 0 {
		return nil
	}

	fields = SanitizeFields(fields)
	keys := slices.Sorted(maps.Keys(fields))
	out := make([]zap.Field, 0, len(keys))
	for _, k := range keys {
		out = append(out, zap.Any(k, fields[k]))
	}
	return out
}

// LogOperation runs fn between a start and a finish entry. The finish entry
// carries duration_ms and, on failure, the error at error level. The caller's
// fields are not modified.
func LogOperation(logger Logger, operation string, fields map[string]any, fn func() error) error {
	start := time.Now()

	out := make(map[string]any, len(fields)+3)
	maps.Copy(out, fields)
	out["operation"] = operation

	logger.Debug("Starting operation", out)

	err := fn()

	out["duration_ms"] = time.Since(start).Milliseconds()
	if err != nil {
		out["error"] = err.Error()
		logger.Error("Operation failed", out)
		return err
	}

	logger.Debug("Operation completed successfully", out)
	return nil
}

// LogLDAPError logs LDAP-specific error information.
func LogLDAPError(logger Logger, operation string, err error, fields map[string]any) {
	out := make(map[string]any, len(fields)+4)
	maps.Copy(out, fields)

	out["operation"] = operation
	out["error"] = err.Error()

	var ldapErr *ldap.Error
	if errors.As(err, &ldapErr) {
		out["ldap_result_code"] = ldapErr.ResultCode
		if ldapErr.MatchedDN != "" {
			out["ldap_matched_dn"] = ldapErr.MatchedDN
		}
		if ldapErr.Err != nil {
			out["ldap_diagnostic_message"] = ldapErr.Err.Error()
		}
	}

	logger.Error("LDAP operation failed", out)
}

// sensitiveKeys are field names whose values are never logged.
var sensitiveKeys = []string{
	"password", "passwd", "userpassword", "bind_password", "admin_password",
	"secret", "token", "credential", "credentials",
}

// sensitivePatterns mark string values that embed a secret.
var sensitivePatterns = []string{"password=", "passwd=", "secret=", "token="}

// SanitizeFields returns a copy of fields with secrets replaced by [REDACTED].
func SanitizeFields(fields map[string]any) map[string]any {
	sanitized := make(map[string]any, len(fields))

	for k, v := range fields {
		if slices.Contains(sensitiveKeys, strings.ToLower(k)) {
			sanitized[k] = "[REDACTED]"
			continue
		}
		if str, ok := v.(string); ok && containsSensitivePattern(str) {
			sanitized[k] = "[REDACTED]"
			continue
		}
		sanitized[k] = v
	}

	return sanitized
}

func containsSensitivePattern(s string) bool {
	lower := strings.ToLower(s)
	return slices.ContainsFunc(sensitivePatterns, func(pattern string) bool {
		return strings.Contains(lower, pattern)
	})
}

// LogResourceOperation provides standardized entry/exit logging for Terraform resource operations.
func LogResourceOperation(ctx context.Context, resource, operation string, fields map[string]any) func(error) {
	return logProviderOperation(ctx, "resource", resource, operation, fields)
}

// LogDataSourceOperation provides standardized entry/exit logging for Terraform data source operations.
func LogDataSourceOperation(ctx context.Context, dataSource, operation string, fields map[string]any) func(error) {
	return logProviderOperation(ctx, "data_source", dataSource, operation, fields)
}

func logProviderOperation(ctx context.Context, kind, name, operation string, fields map[string]any) func(error) {
	start := time.Now()
	label := strings.ReplaceAll(kind, "_", " ")

	entryFields := make(map[string]any, len(fields)+2)
	maps.Copy(entryFields, fields)
	entryFields[kind] = name
	entryFields["operation"] = operation

	tflog.SubsystemDebug(ctx, "provider", "Starting "+label+" operation", entryFields)

	return func(err error) {
		exitFields := make(map[string]any, len(fields)+5)
		maps.Copy(exitFields, fields)
		exitFields[kind] = name
		exitFields["operation"] = operation
		exitFields["duration_ms"] = time.Since(start).Milliseconds()
		exitFields["has_error"] = err != nil

		if err != nil {
			exitFields["error"] = err.Error()
			tflog.SubsystemError(ctx, "provider", strings.ToUpper(label[:1])+label[1:]+" operation failed", exitFields)
		} else {
			tflog.SubsystemDebug(ctx, "provider", strings.ToUpper(label[:1])+label[1:]+" operation completed", exitFields)
		}
	}
}
