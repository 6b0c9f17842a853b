// Package email implements the remote-mailbox capability over IMAP using
// go-imap v2. It is the only package that speaks the wire protocol; the
// droplet layer above sees just Connect, FetchUnread, and Close.
package email

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"

	"github.com/nhle/rainfeed/internal/model"
	"github.com/nhle/rainfeed/internal/source"
)

// Ports used when the account settings carry no explicit port.
const (
	portIMAPS    = "993"
	portStartTLS = "143"
)

// probeTimeout bounds the pre-handshake TCP reachability check.
const probeTimeout = 10 * time.Second

// Connector implements source.Connector for IMAP mailboxes.
type Connector struct{}

// NewConnector returns an IMAP connector.
func NewConnector() *Connector {
	return &Connector{}
}

// Connect probes reachability, dials the server (implicit TLS for imaps,
// STARTTLS for imap), and authenticates. A failed TCP probe yields an
// UnreachableError before any protocol traffic; handshake and login
// failures yield a ConnectError.
func (c *Connector) Connect(
	_ context.Context, settings model.AccountSettings,
) (source.Conn, error) {
	port := portStartTLS
	if settings.Protocol == model.ProtocolIMAPS {
		port = portIMAPS
	}
	addr := net.JoinHostPort(settings.Host, port)

	probe, err := net.DialTimeout("tcp", addr, probeTimeout)
	if err != nil {
		return nil, &source.UnreachableError{Host: settings.Host, Err: err}
	}
	_ = probe.Close()

	var client *imapclient.Client
	if settings.Protocol == model.ProtocolIMAPS {
		client, err = imapclient.DialTLS(addr, nil)
	} else {
		client, err = imapclient.DialStartTLS(addr, nil)
	}
	if err != nil {
		return nil, &source.ConnectError{
			Host:     settings.Host,
			Username: settings.Username,
			Err:      fmt.Errorf("dialing IMAP: %w", err),
		}
	}

	if err := client.Login(settings.Username, settings.Password).Wait(); err != nil {
		_ = client.Logout().Wait()
		return nil, &source.ConnectError{
			Host:     settings.Host,
			Username: settings.Username,
			Err:      fmt.Errorf("login: %w", err),
		}
	}

	return &conn{client: client, host: settings.Host}, nil
}

// conn is one authenticated IMAP session.
type conn struct {
	client *imapclient.Client
	host   string
}

// FetchUnread selects INBOX, searches for unseen messages, and fetches
// their envelopes and bodies as ripples.
func (c *conn) FetchUnread(_ context.Context) ([]model.Ripple, error) {
	if _, err := c.client.Select("INBOX", nil).Wait(); err != nil {
		return nil, fmt.Errorf("selecting INBOX on %s: %w", c.host, err)
	}

	criteria := &imap.SearchCriteria{
		NotFlag: []imap.Flag{imap.FlagSeen},
	}
	searchData, err := c.client.UIDSearch(criteria, nil).Wait()
	if err != nil {
		return nil, fmt.Errorf("searching unseen messages: %w", err)
	}

	uids := searchData.AllUIDs()
	if len(uids) == 0 {
		return nil, nil
	}

	bodySection := &imap.FetchItemBodySection{Peek: true}
	fetchOpts := &imap.FetchOptions{
		Envelope:    true,
		UID:         true,
		BodySection: []*imap.FetchItemBodySection{bodySection},
	}

	fetchCmd := c.client.Fetch(imap.UIDSetNum(uids...), fetchOpts)
	defer fetchCmd.Close()

	var ripples []model.Ripple
	for {
		msg := fetchCmd.Next()
		if msg == nil {
			break
		}

		buf, err := msg.Collect()
		if err != nil {
			continue
		}

		ripples = append(ripples, rippleFromBuffer(buf, bodySection))
	}

	if err := fetchCmd.Close(); err != nil {
		return ripples, fmt.Errorf("fetching unseen messages: %w", err)
	}

	return ripples, nil
}

// Close logs out of the session. Errors from an already-broken transport
// are swallowed; the session is gone either way.
func (c *conn) Close() error {
	_ = c.client.Logout().Wait()
	return nil
}

// rippleFromBuffer maps a fetched message to a ripple.
func rippleFromBuffer(
	buf *imapclient.FetchMessageBuffer,
	bodySection *imap.FetchItemBodySection,
) model.Ripple {
	ripple := model.Ripple{
		ID: uint32(buf.UID),
	}

	if buf.Envelope != nil {
		ripple.Subject = buf.Envelope.Subject
		ripple.ReceivedAt = buf.Envelope.Date.UTC()

		if len(buf.Envelope.From) > 0 {
			from := buf.Envelope.From[0]
			if from.Name != "" {
				ripple.Origin = from.Name
			} else {
				ripple.Origin = from.Addr()
			}
		}
	}

	if raw := buf.FindBodySection(bodySection); raw != nil {
		ripple.Content = textFromMIME(raw)
	}

	return ripple
}
