// errors.go - error classification for panel operations, wrapping
// github.com/pkg/errors the way the rest of the wire/risco packages
// do.

package risco

import "github.com/pkg/errors"

var (
	// ErrUnauthorized is returned when the panel rejects the
	// configured access code during Connect.
	ErrUnauthorized = errors.New("risco: unauthorized")
	// ErrCannotConnect is returned when the LCL handshake step fails.
	ErrCannotConnect = errors.New("risco: cannot connect")
	// ErrOperationFailed wraps a failed command (bad CRC or an N/B
	// panel error reply).
	ErrOperationFailed = errors.New("risco: operation failed")
	// ErrOperationTimeout names a command that got no reply within the
	// wire package's response timeout. Panel methods do not return it:
	// a timed-out command reaches the caller as the wire package's own
	// timeout error.
	ErrOperationTimeout = errors.New("risco: operation timed out")
	// ErrConnectionLost is returned by in-flight operations once the
	// underlying connection has failed or been closed.
	ErrConnectionLost = errors.New("risco: connection lost")
)

func errUnknownPanelType(panelType string) error {
	return errors.Errorf("risco: unknown panel type %q", panelType)
}
