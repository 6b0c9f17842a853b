package droplet

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/nhle/rainfeed/internal/dispatch"
	"github.com/nhle/rainfeed/internal/feed"
	"github.com/nhle/rainfeed/internal/logging"
	"github.com/nhle/rainfeed/internal/model"
	"github.com/nhle/rainfeed/internal/source"
)

// ErrDuplicateAccount is the policy violation for registering a second
// droplet on an already-managed mailbox.
var ErrDuplicateAccount = errors.New("droplet: account already managed")

// ErrRegistryClosed is returned for structural operations after Close.
var ErrRegistryClosed = errors.New("droplet: registry closed")

// ErrUnknownDroplet is returned when an operation names an identifier
// that is not registered.
var ErrUnknownDroplet = errors.New("droplet: no such droplet")

// CreationError wraps whatever prevented a droplet from being created and
// initialized: an unreachable source, a failed handshake, or a duplicate
// account.
type CreationError struct {
	Err error
}

func (e *CreationError) Error() string {
	return "droplet creation failed: " + e.Err.Error()
}

func (e *CreationError) Unwrap() error { return e.Err }

// Event is one feed update published to the presentation boundary.
// Snapshot is a defensive copy; consumers may keep it.
type Event struct {
	Owner    model.Identifier
	Snapshot model.DropletModel
	Removed  bool
}

// Archive persists merged ripples per logical account (user@host) so the
// feed survives restarts. All methods are called off the dispatcher.
type Archive interface {
	SaveRipples(ctx context.Context, account string, ripples []model.Ripple) error
	LoadRipples(ctx context.Context, account string) ([]model.Ripple, error)
	Purge(ctx context.Context, account string) error
}

// initialPollDelay is how long after SchedulePolling the first cycle
// fires.
const initialPollDelay = 3 * time.Second

// Registry owns all active droplets. Structural changes (add/remove) take
// the registry-wide lock; operational changes go through each droplet's
// own lock. The only permitted lock order is registry before droplet, so
// no deadlock cycle can form. Visible snapshots live on the dispatcher
// goroutine exclusively.
type Registry struct {
	guard     *dispatch.Dispatcher
	connector source.Connector
	log       logging.Logger
	archive   Archive

	allowDuplicates bool

	mu       sync.Mutex
	droplets map[model.Identifier]*Droplet
	shutdown bool

	// Dispatcher-owned; touched only from guard tasks.
	snapshots map[model.Identifier]model.DropletModel
	closed    bool

	events chan Event

	pollMu   sync.Mutex
	pollStop chan struct{}
	polling  bool
}

// Option configures a Registry.
type Option func(*Registry)

// WithArchive persists and restores feed snapshots through the given
// archive.
func WithArchive(a Archive) Option {
	return func(r *Registry) { r.archive = a }
}

// WithLogger sets the registry logger.
func WithLogger(l logging.Logger) Option {
	return func(r *Registry) { r.log = l }
}

// WithAllowDuplicateAccounts restores the permissive policy where a
// second droplet for an already-managed mailbox is a second independent
// entry instead of an error.
func WithAllowDuplicateAccounts() Option {
	return func(r *Registry) { r.allowDuplicates = true }
}

// NewRegistry creates an empty registry publishing feed events for the
// given dispatcher.
func NewRegistry(connector source.Connector, guard *dispatch.Dispatcher, opts ...Option) *Registry {
	r := &Registry{
		guard:     guard,
		connector: connector,
		log:       logging.Discard(),
		droplets:  make(map[model.Identifier]*Droplet),
		snapshots: make(map[model.Identifier]model.DropletModel),
		events:    make(chan Event, 16),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Events is the stream of feed updates for the presentation layer. Sends
// never block; when the consumer lags, the oldest buffered events are
// dropped first. Later events supersede earlier ones for the same
// droplet (snapshots are full state, removal is terminal), so the newest
// event for each droplet always gets through.
func (r *Registry) Events() <-chan Event {
	return r.events
}

// AddDroplet creates, connects, and registers a droplet for the given
// account, returning its new identifier. On any failure the registry is
// left unchanged and a CreationError wraps the cause. Must be called off
// the dispatcher.
func (r *Registry) AddDroplet(ctx context.Context, accountSettings model.AccountSettings) (model.Identifier, error) {
	if err := r.guard.AssertWorker(); err != nil {
		return model.Identifier{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.shutdown {
		return model.Identifier{}, ErrRegistryClosed
	}

	if !r.allowDuplicates {
		for _, existing := range r.droplets {
			if existing.Settings().SameAccount(accountSettings) {
				return model.Identifier{}, &CreationError{Err: ErrDuplicateAccount}
			}
		}
	}

	id := model.NewIdentifier()
	d, err := Create(id, accountSettings, r.connector, r.guard, r.log)
	if err != nil {
		return model.Identifier{}, &CreationError{Err: err}
	}
	if err := d.Init(ctx); err != nil {
		return model.Identifier{}, &CreationError{Err: err}
	}

	r.droplets[id] = d

	initial := model.DropletModel{
		OwnerID:     id,
		DisplayName: accountSettings.DisplayName(),
	}
	if r.archive != nil {
		archived, err := r.archive.LoadRipples(ctx, accountSettings.DisplayName())
		if err != nil {
			r.log.Warn(ctx, "loading archived ripples failed",
				"account", accountSettings.DisplayName(), "error", err)
		} else {
			initial = feed.Merge(initial, archived)
		}
	}

	r.guard.RunWait(func() {
		if r.closed {
			return
		}
		r.snapshots[id] = initial
		r.emit(Event{Owner: id, Snapshot: initial.Clone()})
	})

	r.log.Info(ctx, "droplet registered",
		"droplet", id.String(), "account", accountSettings.DisplayName())
	return id, nil
}

// RemoveDroplet destroys and unregisters the droplet. Returns false when
// no droplet with that identifier exists; that is not an error.
func (r *Registry) RemoveDroplet(id model.Identifier) bool {
	r.mu.Lock()
	d, ok := r.droplets[id]
	if ok {
		delete(r.droplets, id)
	}
	r.mu.Unlock()

	if !ok {
		return false
	}

	account := d.Settings().DisplayName()
	d.Destroy()

	if r.archive != nil {
		purge := func() {
			if err := r.archive.Purge(context.Background(), account); err != nil {
				r.log.Warn(context.Background(), "purging archive failed",
					"account", account, "error", err)
			}
		}
		if r.guard.AssertWorker() == nil {
			purge()
		} else {
			go purge()
		}
	}

	r.guard.Run(func() {
		if r.closed {
			return
		}
		delete(r.snapshots, id)
		r.emit(Event{Owner: id, Removed: true})
	})

	return true
}

// ReconfigureDroplet applies new settings to a registered droplet. When
// the logical account changes, the droplet's visible snapshot and archive
// rows are rebound to the new identity: the old account's archive rows
// are purged, the new account's archive (if any) seeds the fresh
// snapshot, and an event under the new display name is published. A
// failed reconfigure leaves identity untouched along with the settings.
// Must be called off the dispatcher.
func (r *Registry) ReconfigureDroplet(ctx context.Context, id model.Identifier, newSettings model.AccountSettings) error {
	if err := r.guard.AssertWorker(); err != nil {
		return err
	}

	r.mu.Lock()
	if r.shutdown {
		r.mu.Unlock()
		return ErrRegistryClosed
	}
	d, ok := r.droplets[id]
	if !ok {
		r.mu.Unlock()
		return ErrUnknownDroplet
	}
	if !r.allowDuplicates {
		for otherID, existing := range r.droplets {
			if otherID != id && existing.Settings().SameAccount(newSettings) {
				r.mu.Unlock()
				return ErrDuplicateAccount
			}
		}
	}
	oldAccount := d.Settings().DisplayName()
	r.mu.Unlock()

	if err := d.Reconfigure(ctx, newSettings); err != nil {
		return err
	}

	newAccount := newSettings.DisplayName()
	if newAccount == oldAccount {
		return nil
	}

	rebound := model.DropletModel{OwnerID: id, DisplayName: newAccount}
	if r.archive != nil {
		if err := r.archive.Purge(ctx, oldAccount); err != nil {
			r.log.Warn(ctx, "purging archive after reconfigure failed",
				"account", oldAccount, "error", err)
		}
		archived, err := r.archive.LoadRipples(ctx, newAccount)
		if err != nil {
			r.log.Warn(ctx, "loading archived ripples failed",
				"account", newAccount, "error", err)
		} else {
			rebound = feed.Merge(rebound, archived)
		}
	}

	r.guard.RunWait(func() {
		if r.closed {
			return
		}
		if _, ok := r.snapshots[id]; !ok {
			// Removed while reconfiguring.
			return
		}
		r.snapshots[id] = rebound
		r.emit(Event{Owner: id, Snapshot: rebound.Clone()})
	})

	r.log.Info(ctx, "droplet reconfigured",
		"droplet", id.String(), "from", oldAccount, "to", newAccount)
	return nil
}

// Droplet returns the registered droplet for id, if any.
func (r *Registry) Droplet(id model.Identifier) (*Droplet, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.droplets[id]
	return d, ok
}

// Accounts returns the current settings of every registered droplet, for
// persistence through the settings store.
func (r *Registry) Accounts() []model.AccountSettings {
	r.mu.Lock()
	defer r.mu.Unlock()

	accounts := make([]model.AccountSettings, 0, len(r.droplets))
	for _, d := range r.droplets {
		accounts = append(accounts, d.Settings())
	}
	return accounts
}

// Snapshot returns a copy of the current feed snapshot for one droplet.
// Dispatcher-only.
func (r *Registry) Snapshot(id model.Identifier) (model.DropletModel, bool) {
	if err := r.guard.AssertDispatcher(); err != nil {
		return model.DropletModel{}, false
	}
	s, ok := r.snapshots[id]
	if !ok {
		return model.DropletModel{}, false
	}
	return s.Clone(), true
}

// Snapshots returns copies of all current feed snapshots. Dispatcher-only.
func (r *Registry) Snapshots() []model.DropletModel {
	if err := r.guard.AssertDispatcher(); err != nil {
		return nil
	}
	out := make([]model.DropletModel, 0, len(r.snapshots))
	for _, s := range r.snapshots {
		out = append(out, s.Clone())
	}
	return out
}

// SchedulePolling starts the recurring background fetch: a short initial
// delay, then one cycle per interval. Within a cycle every droplet
// fetches concurrently on its own worker; one droplet's failure never
// cancels the others. No-op when polling is already scheduled.
func (r *Registry) SchedulePolling(interval time.Duration) {
	r.pollMu.Lock()
	defer r.pollMu.Unlock()

	if r.polling {
		return
	}
	r.polling = true
	r.pollStop = make(chan struct{})

	go r.pollLoop(interval, r.pollStop)
}

// StopPolling cancels the recurring fetch. Idempotent and safe before any
// SchedulePolling call.
func (r *Registry) StopPolling() {
	r.pollMu.Lock()
	defer r.pollMu.Unlock()

	if !r.polling {
		return
	}
	close(r.pollStop)
	r.polling = false
}

func (r *Registry) pollLoop(interval time.Duration, stop <-chan struct{}) {
	delay := initialPollDelay
	if interval < delay {
		delay = interval
	}

	initial := time.NewTimer(delay)
	defer initial.Stop()

	select {
	case <-stop:
		return
	case <-initial.C:
		r.RefreshAll()
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			r.RefreshAll()
		}
	}
}

// RefreshAll triggers an immediate fetch cycle for every registered
// droplet. Safe to call from any goroutine; the work happens on fresh
// workers.
func (r *Registry) RefreshAll() {
	r.mu.Lock()
	droplets := make([]*Droplet, 0, len(r.droplets))
	for _, d := range r.droplets {
		droplets = append(droplets, d)
	}
	r.mu.Unlock()

	for _, d := range droplets {
		go r.fetchCycle(d)
	}
}

// Refresh triggers an immediate fetch cycle for one droplet. Returns
// false when the droplet is not registered.
func (r *Registry) Refresh(id model.Identifier) bool {
	d, ok := r.Droplet(id)
	if !ok {
		return false
	}
	go r.fetchCycle(d)
	return true
}

// fetchCycle runs one fetch for one droplet and folds the result into the
// visible snapshot on the dispatcher. Failures are logged and leave the
// last-known-good snapshot untouched.
func (r *Registry) fetchCycle(d *Droplet) {
	ctx := context.Background()

	ripples, err := d.FetchUpdates(ctx)
	if err != nil {
		r.log.Warn(ctx, "fetch cycle failed",
			"droplet", d.ID().String(),
			"account", d.DisplayName(),
			"error", err)
		return
	}

	if r.archive != nil && len(ripples) > 0 {
		if err := r.archive.SaveRipples(ctx, d.DisplayName(), ripples); err != nil {
			r.log.Warn(ctx, "archiving ripples failed",
				"account", d.DisplayName(), "error", err)
		}
	}

	id := d.ID()
	r.guard.Run(func() {
		if r.closed {
			return
		}
		prev, ok := r.snapshots[id]
		if !ok {
			// Removed while the fetch was in flight.
			return
		}
		next := feed.Merge(prev, ripples)
		r.snapshots[id] = next
		r.emit(Event{Owner: id, Snapshot: next.Clone()})
	})
}

// emit publishes without blocking the dispatcher. When the buffer is
// full the oldest event is discarded to make room; emits only run on the
// dispatcher, so the single producer always terminates.
func (r *Registry) emit(ev Event) {
	for {
		select {
		case r.events <- ev:
			return
		default:
		}
		select {
		case <-r.events:
		default:
		}
	}
}

// Close stops polling, destroys every droplet, and discards the results
// of any still-running fetches. After Close returns, no further snapshot
// is merged and the event channel is closed. Close is idempotent.
func (r *Registry) Close() {
	r.StopPolling()

	r.mu.Lock()
	r.shutdown = true
	droplets := make([]*Droplet, 0, len(r.droplets))
	for _, d := range r.droplets {
		droplets = append(droplets, d)
	}
	r.droplets = make(map[model.Identifier]*Droplet)
	r.mu.Unlock()

	for _, d := range droplets {
		d.Destroy()
	}

	r.guard.RunWait(func() {
		if r.closed {
			return
		}
		r.closed = true
		r.snapshots = make(map[model.Identifier]model.DropletModel)
		// Emits are dispatcher tasks gated on closed, so no send can
		// follow this close.
		close(r.events)
	})
}
