package model

import "fmt"

// Protocol identifies the remote-mailbox protocol of an account.
type Protocol string

const (
	ProtocolIMAP  Protocol = "imap"
	ProtocolIMAPS Protocol = "imaps"
)

// ParseProtocol maps a protocol token from settings to a Protocol value.
func ParseProtocol(s string) (Protocol, error) {
	switch Protocol(s) {
	case ProtocolIMAP:
		return ProtocolIMAP, nil
	case ProtocolIMAPS:
		return ProtocolIMAPS, nil
	default:
		return "", fmt.Errorf("unknown protocol %q", s)
	}
}

// AccountSettings holds the connection parameters for one remote mailbox.
// It is an immutable value; a droplet replaces it wholesale on
// reconfiguration, never field by field. The password is plaintext in
// memory and encrypted at rest by the settings store.
type AccountSettings struct {
	Host     string
	Protocol Protocol
	Username string
	Password string
}

// DisplayName is the label shown for a droplet using these settings.
func (s AccountSettings) DisplayName() string {
	return s.Username + "@" + s.Host
}

// SameAccount reports whether two settings address the same logical
// mailbox, ignoring the password. Used by the duplicate-account policy.
func (s AccountSettings) SameAccount(other AccountSettings) bool {
	return s.Host == other.Host && s.Username == other.Username
}
