package droplet_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nhle/rainfeed/internal/droplet"
	"github.com/nhle/rainfeed/internal/model"
	"github.com/nhle/rainfeed/internal/source"
)

// stubConn is a scripted remote-mailbox connection.
type stubConn struct {
	mu      sync.Mutex
	batches [][]model.Ripple
	fetches int
	err     error
	blocker func()
	closed  atomic.Bool
}

func (c *stubConn) FetchUnread(_ context.Context) ([]model.Ripple, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.fetches++
	if c.blocker != nil {
		c.blocker()
	}
	if c.err != nil {
		return nil, c.err
	}
	if len(c.batches) == 0 {
		return nil, nil
	}
	batch := c.batches[0]
	if len(c.batches) > 1 {
		c.batches = c.batches[1:]
	}
	return batch, nil
}

func (c *stubConn) Close() error {
	c.closed.Store(true)
	return nil
}

// stubConnector hands out scripted connections and can be told to fail
// for specific passwords, which tests use to mark settings invalid.
type stubConnector struct {
	mu       sync.Mutex
	conns    map[string]*stubConn // keyed by user@host
	failPass map[string]error     // keyed by password
	connects int
}

func newStubConnector() *stubConnector {
	return &stubConnector{
		conns:    make(map[string]*stubConn),
		failPass: make(map[string]error),
	}
}

func (c *stubConnector) failFor(password string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failPass[password] = err
}

func (c *stubConnector) clearFail(password string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.failPass, password)
}

// scheduleBatches sets the fetch results for an account's next
// connection; the final batch repeats.
func (c *stubConnector) scheduleBatches(account string, batches ...[]model.Ripple) *stubConn {
	c.mu.Lock()
	defer c.mu.Unlock()
	conn := &stubConn{batches: batches}
	c.conns[account] = conn
	return conn
}

func (c *stubConnector) Connect(_ context.Context, settings model.AccountSettings) (source.Conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.connects++
	if err, ok := c.failPass[settings.Password]; ok {
		return nil, err
	}

	account := settings.DisplayName()
	if conn, ok := c.conns[account]; ok {
		return conn, nil
	}
	conn := &stubConn{}
	c.conns[account] = conn
	return conn, nil
}

func settingsFor(user string) model.AccountSettings {
	return model.AccountSettings{
		Host:     "mail.example.com",
		Protocol: model.ProtocolIMAPS,
		Username: user,
		Password: "pw-" + user,
	}
}

func ripple(id uint32, subject string, unix int64) model.Ripple {
	return model.Ripple{
		ID:         id,
		Origin:     "someone@example.com",
		Subject:    subject,
		Content:    "body of " + subject,
		ReceivedAt: time.Unix(unix, 0).UTC(),
	}
}

// waitEvent reads the next feed event or fails the test after a timeout.
func waitEvent(t *testing.T, events <-chan droplet.Event) droplet.Event {
	t.Helper()
	select {
	case ev := <-events:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for feed event")
		return droplet.Event{}
	}
}
