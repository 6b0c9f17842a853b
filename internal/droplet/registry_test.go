package droplet_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/rainfeed/internal/dispatch"
	"github.com/nhle/rainfeed/internal/droplet"
	"github.com/nhle/rainfeed/internal/model"
	"github.com/nhle/rainfeed/internal/source"
	"github.com/nhle/rainfeed/tests/testutil"
)

func newRegistry(t *testing.T, connector *stubConnector, opts ...droplet.Option) (*droplet.Registry, *dispatch.Dispatcher) {
	t.Helper()

	guard := dispatch.New()
	t.Cleanup(guard.Stop)

	r := droplet.NewRegistry(connector, guard, opts...)
	t.Cleanup(r.Close)
	return r, guard
}

// snapshotOf reads a droplet's snapshot from the dispatcher side.
func snapshotOf(r *droplet.Registry, guard *dispatch.Dispatcher, id model.Identifier) (model.DropletModel, bool) {
	var s model.DropletModel
	var ok bool
	guard.RunWait(func() {
		s, ok = r.Snapshot(id)
	})
	return s, ok
}

func TestAddThenRemoveRestoresMembership(t *testing.T) {
	r, guard := newRegistry(t, newStubConnector())

	id, err := r.AddDroplet(context.Background(), settingsFor("alice"))
	require.NoError(t, err)

	_, ok := snapshotOf(r, guard, id)
	assert.True(t, ok)

	assert.True(t, r.RemoveDroplet(id))
	assert.Empty(t, r.Accounts())

	_, ok = snapshotOf(r, guard, id)
	assert.False(t, ok)
}

func TestAddDropletFailureLeavesRegistryUnchanged(t *testing.T) {
	connector := newStubConnector()
	cause := &source.ConnectError{Host: "mail.example.com", Username: "alice", Err: errors.New("bad credentials")}
	connector.failFor("pw-alice", cause)
	r, _ := newRegistry(t, connector)

	_, err := r.AddDroplet(context.Background(), settingsFor("alice"))

	var creation *droplet.CreationError
	require.ErrorAs(t, err, &creation)
	assert.True(t, source.IsConnectError(err))
	assert.Empty(t, r.Accounts())
}

func TestAddDropletRejectedOnDispatcher(t *testing.T) {
	r, guard := newRegistry(t, newStubConnector())

	var err error
	guard.RunWait(func() {
		_, err = r.AddDroplet(context.Background(), settingsFor("alice"))
	})

	assert.ErrorIs(t, err, dispatch.ErrBlockingOnDispatcher)
}

func TestDuplicateAccountRejectedByDefault(t *testing.T) {
	r, _ := newRegistry(t, newStubConnector())

	_, err := r.AddDroplet(context.Background(), settingsFor("alice"))
	require.NoError(t, err)

	again := settingsFor("alice")
	again.Password = "different-password"
	_, err = r.AddDroplet(context.Background(), again)

	assert.ErrorIs(t, err, droplet.ErrDuplicateAccount)
	assert.Len(t, r.Accounts(), 1)
}

func TestDuplicateAccountAllowedByPolicy(t *testing.T) {
	r, _ := newRegistry(t, newStubConnector(), droplet.WithAllowDuplicateAccounts())

	_, err := r.AddDroplet(context.Background(), settingsFor("alice"))
	require.NoError(t, err)
	_, err = r.AddDroplet(context.Background(), settingsFor("alice"))
	require.NoError(t, err)

	assert.Len(t, r.Accounts(), 2)
}

func TestRemoveAbsentDropletReturnsFalse(t *testing.T) {
	r, _ := newRegistry(t, newStubConnector())

	assert.False(t, r.RemoveDroplet(model.NewIdentifier()))
}

func TestFetchCycleMergesIntoSnapshot(t *testing.T) {
	connector := newStubConnector()
	connector.scheduleBatches("alice@mail.example.com",
		[]model.Ripple{ripple(1, "hello", 100)},
		[]model.Ripple{ripple(1, "hello", 100), ripple(2, "again", 200)},
	)
	r, guard := newRegistry(t, connector)
	events := r.Events()

	id, err := r.AddDroplet(context.Background(), settingsFor("alice"))
	require.NoError(t, err)
	waitEvent(t, events) // initial empty snapshot

	// First cycle delivers one item.
	require.True(t, r.Refresh(id))
	ev := waitEvent(t, events)
	require.Len(t, ev.Snapshot.Ripples, 1)

	// Second cycle re-delivers it plus a newer one; dedup keeps two
	// items, newest first.
	require.True(t, r.Refresh(id))
	ev = waitEvent(t, events)
	require.Len(t, ev.Snapshot.Ripples, 2)
	assert.Equal(t, uint32(2), ev.Snapshot.Ripples[0].ID)
	assert.Equal(t, uint32(1), ev.Snapshot.Ripples[1].ID)

	s, ok := snapshotOf(r, guard, id)
	require.True(t, ok)
	assert.Len(t, s.Ripples, 2)
}

func TestFailingDropletDoesNotDisturbOthers(t *testing.T) {
	connector := newStubConnector()
	sickConn := connector.scheduleBatches("alice@mail.example.com",
		[]model.Ripple{ripple(1, "before the outage", 100)},
	)
	connector.scheduleBatches("bob@mail.example.com",
		[]model.Ripple{ripple(7, "unaffected", 700)},
	)
	r, guard := newRegistry(t, connector)
	events := r.Events()

	sickID, err := r.AddDroplet(context.Background(), settingsFor("alice"))
	require.NoError(t, err)
	waitEvent(t, events)
	healthyID, err := r.AddDroplet(context.Background(), settingsFor("bob"))
	require.NoError(t, err)
	waitEvent(t, events)

	// Seed alice's snapshot, then make her connection fail.
	require.True(t, r.Refresh(sickID))
	waitEvent(t, events)
	before, ok := snapshotOf(r, guard, sickID)
	require.True(t, ok)
	require.Len(t, before.Ripples, 1)

	sickConn.mu.Lock()
	sickConn.err = &source.UnreachableError{Host: "mail.example.com", Err: errors.New("no route")}
	sickConn.mu.Unlock()

	r.RefreshAll()

	// Bob's cycle completes normally.
	ev := waitEvent(t, events)
	assert.Equal(t, healthyID, ev.Owner)
	require.Len(t, ev.Snapshot.Ripples, 1)
	assert.Equal(t, "unaffected", ev.Snapshot.Ripples[0].Subject)

	// Alice's snapshot is exactly what it was before the failed cycle.
	after, ok := snapshotOf(r, guard, sickID)
	require.True(t, ok)
	assert.Equal(t, before.Ripples, after.Ripples)
}

func TestSchedulePollingFetchesPeriodically(t *testing.T) {
	connector := newStubConnector()
	connector.scheduleBatches("alice@mail.example.com",
		[]model.Ripple{ripple(1, "tick", 100)},
	)
	r, _ := newRegistry(t, connector)
	events := r.Events()

	_, err := r.AddDroplet(context.Background(), settingsFor("alice"))
	require.NoError(t, err)
	waitEvent(t, events)

	r.SchedulePolling(20 * time.Millisecond)
	defer r.StopPolling()

	ev := waitEvent(t, events)
	require.Len(t, ev.Snapshot.Ripples, 1)
	assert.Equal(t, "tick", ev.Snapshot.Ripples[0].Subject)
}

func TestStopPollingIsIdempotentAndSafeBeforeStart(t *testing.T) {
	r, _ := newRegistry(t, newStubConnector())

	r.StopPolling()
	r.SchedulePolling(time.Hour)
	r.StopPolling()
	r.StopPolling()
}

func TestCloseDiscardsInFlightResults(t *testing.T) {
	connector := newStubConnector()
	conn := connector.scheduleBatches("alice@mail.example.com")
	r, guard := newRegistry(t, connector)
	events := r.Events()

	id, err := r.AddDroplet(context.Background(), settingsFor("alice"))
	require.NoError(t, err)
	waitEvent(t, events)

	// Block the fetch until Close has run.
	release := make(chan struct{})
	started := make(chan struct{})
	var once sync.Once
	conn.mu.Lock()
	conn.blocker = func() {
		once.Do(func() { close(started) })
		<-release
	}
	conn.batches = [][]model.Ripple{{ripple(1, "late", 100)}}
	conn.mu.Unlock()

	require.True(t, r.Refresh(id))
	<-started

	go func() {
		r.Close()
	}()
	// Close blocks StopPolling/destroy paths but not on the in-flight
	// fetch; give it a moment to flip the discard flag.
	time.Sleep(50 * time.Millisecond)
	close(release)
	time.Sleep(50 * time.Millisecond)

	var snapshots []model.DropletModel
	guard.RunWait(func() {
		snapshots = r.Snapshots()
	})
	assert.Empty(t, snapshots)
}

func TestReconfigureRebindsAccountIdentity(t *testing.T) {
	connector := newStubConnector()
	connector.scheduleBatches("alice@mail.example.com",
		[]model.Ripple{ripple(1, "for alice", 100)},
	)
	connector.scheduleBatches("bob@mail.example.com",
		[]model.Ripple{ripple(7, "for bob", 700)},
	)
	archive := testutil.NewTestArchive(t)
	r, _ := newRegistry(t, connector, droplet.WithArchive(archive))
	events := r.Events()
	ctx := context.Background()

	id, err := r.AddDroplet(ctx, settingsFor("alice"))
	require.NoError(t, err)
	waitEvent(t, events) // initial empty snapshot

	require.True(t, r.Refresh(id))
	ev := waitEvent(t, events)
	assert.Equal(t, "alice@mail.example.com", ev.Snapshot.DisplayName)
	require.Len(t, ev.Snapshot.Ripples, 1)

	// Switching mailboxes rebinds the visible identity and drops the old
	// account's archive rows.
	require.NoError(t, r.ReconfigureDroplet(ctx, id, settingsFor("bob")))
	ev = waitEvent(t, events)
	assert.Equal(t, "bob@mail.example.com", ev.Snapshot.DisplayName)
	assert.Empty(t, ev.Snapshot.Ripples)

	orphaned, err := archive.LoadRipples(ctx, "alice@mail.example.com")
	require.NoError(t, err)
	assert.Empty(t, orphaned)

	// Fetches now publish and archive under the new account.
	require.True(t, r.Refresh(id))
	ev = waitEvent(t, events)
	assert.Equal(t, "bob@mail.example.com", ev.Snapshot.DisplayName)
	require.Len(t, ev.Snapshot.Ripples, 1)
	assert.Equal(t, "for bob", ev.Snapshot.Ripples[0].Subject)

	// Removing the droplet purges the new key, leaving nothing behind.
	require.True(t, r.RemoveDroplet(id))
	stored, err := archive.LoadRipples(ctx, "bob@mail.example.com")
	require.NoError(t, err)
	assert.Empty(t, stored)
}

func TestReconfigureSameAccountKeepsSnapshot(t *testing.T) {
	connector := newStubConnector()
	connector.scheduleBatches("alice@mail.example.com",
		[]model.Ripple{ripple(1, "hello", 100)},
	)
	r, guard := newRegistry(t, connector)
	events := r.Events()
	ctx := context.Background()

	id, err := r.AddDroplet(ctx, settingsFor("alice"))
	require.NoError(t, err)
	waitEvent(t, events)
	require.True(t, r.Refresh(id))
	waitEvent(t, events)

	// Rotating the password keeps the account identity and the feed.
	rotated := settingsFor("alice")
	rotated.Password = "rotated"
	require.NoError(t, r.ReconfigureDroplet(ctx, id, rotated))

	s, ok := snapshotOf(r, guard, id)
	require.True(t, ok)
	assert.Equal(t, "alice@mail.example.com", s.DisplayName)
	assert.Len(t, s.Ripples, 1)
}

func TestReconfigureRejectsDuplicateAccount(t *testing.T) {
	connector := newStubConnector()
	r, _ := newRegistry(t, connector)

	_, err := r.AddDroplet(context.Background(), settingsFor("alice"))
	require.NoError(t, err)
	id, err := r.AddDroplet(context.Background(), settingsFor("bob"))
	require.NoError(t, err)

	err = r.ReconfigureDroplet(context.Background(), id, settingsFor("alice"))
	assert.ErrorIs(t, err, droplet.ErrDuplicateAccount)

	d, ok := r.Droplet(id)
	require.True(t, ok)
	assert.Equal(t, "bob@mail.example.com", d.DisplayName())
}

func TestRemovalEventSurvivesSlowConsumer(t *testing.T) {
	connector := newStubConnector()
	r, _ := newRegistry(t, connector)
	events := r.Events()

	// Overflow the event buffer without consuming anything; each add
	// emits one snapshot event synchronously.
	var last model.Identifier
	for i := 0; i < 24; i++ {
		id, err := r.AddDroplet(context.Background(), settingsFor(fmt.Sprintf("user%02d", i)))
		require.NoError(t, err)
		last = id
	}

	require.True(t, r.RemoveDroplet(last))

	// The removal must come through even though the oldest snapshot
	// events were discarded to make room.
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-events:
			if ev.Removed {
				assert.Equal(t, last, ev.Owner)
				return
			}
		case <-deadline:
			t.Fatal("removal event never arrived")
		}
	}
}
