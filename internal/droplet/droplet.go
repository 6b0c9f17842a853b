// Package droplet implements the synchronization core: the per-account
// droplet state machine and the registry that owns all active droplets,
// schedules their fetch cycles, and publishes merged feed snapshots.
package droplet

import (
	"context"
	"fmt"
	"sync"

	"github.com/nhle/rainfeed/internal/dispatch"
	"github.com/nhle/rainfeed/internal/logging"
	"github.com/nhle/rainfeed/internal/model"
	"github.com/nhle/rainfeed/internal/source"
)

// State is the lifecycle state of a droplet.
type State int

const (
	StateUninitialized State = iota
	StateConnecting
	StateReady
	StateFetching
	StateReconfiguring
	StateFailed
	StateDestroyed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateConnecting:
		return "connecting"
	case StateReady:
		return "ready"
	case StateFetching:
		return "fetching"
	case StateReconfiguring:
		return "reconfiguring"
	case StateFailed:
		return "failed"
	case StateDestroyed:
		return "destroyed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// StateError reports an operation attempted from a state that does not
// permit it.
type StateError struct {
	Op    string
	State State
}

func (e *StateError) Error() string {
	return fmt.Sprintf("droplet: %s not valid in state %s", e.Op, e.State)
}

// Droplet wraps one remote-source connection and its current account
// settings. All operations that touch the connection take the per-droplet
// lock, so a fetch never races a reconfiguration or teardown on the same
// droplet.
type Droplet struct {
	id        model.Identifier
	guard     *dispatch.Dispatcher
	connector source.Connector
	log       logging.Logger

	mu       sync.Mutex
	state    State
	settings model.AccountSettings
	conn     source.Conn
}

// Create allocates a droplet in the uninitialized state. It must be
// called off the dispatcher, like every other operation that may reach
// the network.
func Create(
	id model.Identifier,
	settings model.AccountSettings,
	connector source.Connector,
	guard *dispatch.Dispatcher,
	log logging.Logger,
) (*Droplet, error) {
	if err := guard.AssertWorker(); err != nil {
		return nil, err
	}

	return &Droplet{
		id:        id,
		guard:     guard,
		connector: connector,
		log:       log.With("droplet", id.String()),
		state:     StateUninitialized,
		settings:  settings,
	}, nil
}

// ID returns the droplet's immutable identifier.
func (d *Droplet) ID() model.Identifier {
	return d.id
}

// State returns the current lifecycle state.
func (d *Droplet) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Settings returns the current account settings.
func (d *Droplet) Settings() model.AccountSettings {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.settings
}

// DisplayName returns the label for the droplet's current account.
func (d *Droplet) DisplayName() string {
	return d.Settings().DisplayName()
}

// Init connects and authenticates, moving Uninitialized → Connecting →
// Ready. On failure the droplet returns to Uninitialized and may be
// retried; the error is an UnreachableError when no network path exists
// or a ConnectError when the handshake failed.
func (d *Droplet) Init(ctx context.Context) error {
	if err := d.guard.AssertWorker(); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state != StateUninitialized {
		return &StateError{Op: "init", State: d.state}
	}

	d.state = StateConnecting
	conn, err := d.connector.Connect(ctx, d.settings)
	if err != nil {
		d.state = StateUninitialized
		return err
	}

	d.conn = conn
	d.state = StateReady
	d.log.Debug(ctx, "droplet connected", "host", d.settings.Host)
	return nil
}

// FetchUpdates retrieves the source's unseen items. Valid only from
// Ready; the droplet passes through Fetching and returns to Ready whether
// or not the fetch succeeded. A failed cycle is an error for that cycle,
// not a state change. Account settings are never touched.
func (d *Droplet) FetchUpdates(ctx context.Context) ([]model.Ripple, error) {
	if err := d.guard.AssertWorker(); err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state != StateReady {
		return nil, &StateError{Op: "fetch", State: d.state}
	}

	d.state = StateFetching
	ripples, err := d.conn.FetchUnread(ctx)
	d.state = StateReady

	if err != nil {
		return nil, fmt.Errorf("fetching updates for %s: %w", d.settings.DisplayName(), err)
	}
	return ripples, nil
}

// Reconfigure tears down the connection and reconnects with newSettings.
// If the new settings fail, the previous settings are restored and
// reconnected so the droplet keeps a working mailbox; the new-settings
// error is still returned. Only when even the rollback fails does the
// droplet end in Failed.
func (d *Droplet) Reconfigure(ctx context.Context, newSettings model.AccountSettings) error {
	if err := d.guard.AssertWorker(); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state != StateReady {
		return &StateError{Op: "reconfigure", State: d.state}
	}

	d.state = StateReconfiguring
	previous := d.settings

	if d.conn != nil {
		_ = d.conn.Close()
		d.conn = nil
	}

	conn, err := d.connector.Connect(ctx, newSettings)
	if err == nil {
		d.conn = conn
		d.settings = newSettings
		d.state = StateReady
		return nil
	}

	newErr := err
	d.log.Warn(ctx, "reconfigure failed, rolling back",
		"host", newSettings.Host, "error", err)

	conn, err = d.connector.Connect(ctx, previous)
	if err != nil {
		d.state = StateFailed
		return fmt.Errorf(
			"reconfigure failed (%v) and rollback to %s failed: %w",
			newErr, previous.DisplayName(), err,
		)
	}

	d.conn = conn
	d.settings = previous
	d.state = StateReady
	return fmt.Errorf("reconfigure rolled back to %s: %w", previous.DisplayName(), newErr)
}

// Destroy releases the connection and moves the droplet to its terminal
// state. It is idempotent, succeeds from any state, and never reports an
// error even when the transport is already broken. When called on the
// dispatcher, the network teardown is pushed to a worker so the
// dispatcher never blocks on I/O.
func (d *Droplet) Destroy() {
	d.mu.Lock()
	conn := d.conn
	d.conn = nil
	alreadyDead := d.state == StateDestroyed
	d.state = StateDestroyed
	d.mu.Unlock()

	if alreadyDead || conn == nil {
		return
	}

	if d.guard.AssertWorker() == nil {
		_ = conn.Close()
		return
	}
	go func() { _ = conn.Close() }()
}
