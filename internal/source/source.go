// Package source defines the remote-mailbox capability boundary. The
// droplet state machine calls exactly three operations (connect, fetch
// unread, close) and interprets only success or failure, never protocol
// internals.
package source

import (
	"context"
	"errors"
	"fmt"

	"github.com/nhle/rainfeed/internal/model"
)

// UnreachableError indicates that no network path to the source host
// exists. It is raised by the pre-handshake reachability probe and is a
// transient condition, safe to retry later.
type UnreachableError struct {
	Host string
	Err  error
}

func (e *UnreachableError) Error() string {
	return fmt.Sprintf("source %s unreachable: %v", e.Host, e.Err)
}

func (e *UnreachableError) Unwrap() error { return e.Err }

// IsUnreachable reports whether err (or any error in its chain) is an
// UnreachableError.
func IsUnreachable(err error) bool {
	var unreachable *UnreachableError
	return errors.As(err, &unreachable)
}

// ConnectError indicates that the protocol handshake or authentication
// failed even though the host was reachable. It is surfaced to the user
// for correction rather than retried blindly.
type ConnectError struct {
	Host     string
	Username string
	Err      error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connecting %s@%s: %v", e.Username, e.Host, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// IsConnectError reports whether err (or any error in its chain) is a
// ConnectError.
func IsConnectError(err error) bool {
	var connect *ConnectError
	return errors.As(err, &connect)
}

// Connector dials and authenticates one remote mailbox.
type Connector interface {
	// Connect establishes an authenticated connection. Failures are an
	// UnreachableError when no network path exists or a ConnectError when
	// the handshake itself fails.
	Connect(ctx context.Context, settings model.AccountSettings) (Conn, error)
}

// Conn is one live connection to a remote mailbox.
type Conn interface {
	// FetchUnread returns the currently unseen messages as ripples. The
	// result may be empty; what counts as unseen is source-defined.
	FetchUnread(ctx context.Context) ([]model.Ripple, error)

	// Close releases the connection. It must tolerate an already-broken
	// transport.
	Close() error
}
