package ldap

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/go-ldap/ldap/v3"
)

// DefaultDial opens a plain ldap:// connection to the configured host and
// port. The dial is bounded by config.Timeout and by the context deadline.
func DefaultDial(ctx context.Context, config *ServerConfig) (Conn, error) {
	timeout := config.Timeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout || timeout <= 0 {
			timeout = remaining
		}
	}
	if timeout <= 0 && config.Timeout > 0 {
		return nil, context.DeadlineExceeded
	}

	dialer := &net.Dialer{Timeout: timeout}

	conn, err := ldap.DialURL(config.URL(), ldap.DialWithDialer(dialer))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", config.Address(), err)
	}

	return conn, nil
}

// requestTimeout returns the per-request timeout: the configured timeout,
// shortened to the context deadline when that is sooner.
func requestTimeout(ctx context.Context, configured time.Duration) time.Duration {
	deadline, ok := ctx.Deadline()
	if !ok {
		return configured
	}

	remaining := time.Until(deadline)
	if remaining <= 0 {
		return time.Millisecond
	}
	if configured <= 0 || remaining < configured {
		return remaining
	}
	return configured
}
