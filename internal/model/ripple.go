package model

import (
	"time"

	"github.com/google/uuid"
)

// Identifier uniquely names one droplet for its whole life. It is assigned
// once at creation and never reused after the droplet is destroyed.
type Identifier = uuid.UUID

// NewIdentifier returns a fresh droplet identifier.
func NewIdentifier() Identifier {
	return uuid.New()
}

// Ripple is one message-like unit of content fetched from a remote source.
type Ripple struct {
	// ID is the per-source sequence number (e.g., an IMAP UID).
	ID uint32 `json:"id" db:"source_seq"`

	// Origin is the sender as reported by the source.
	Origin string `json:"origin" db:"origin"`

	// Subject is the message subject line.
	Subject string `json:"subject" db:"subject"`

	// Content is the plain-text body.
	Content string `json:"content" db:"content"`

	// ReceivedAt is when the source received the message.
	ReceivedAt time.Time `json:"received_at" db:"received_at"`
}

// Equal reports whether two ripples are structural duplicates. All five
// fields participate.
func (r Ripple) Equal(other Ripple) bool {
	return r.ID == other.ID &&
		r.Origin == other.Origin &&
		r.Subject == other.Subject &&
		r.Content == other.Content &&
		r.ReceivedAt.Equal(other.ReceivedAt)
}

// Less reports whether r sorts before other in feed order: newest
// ReceivedAt first, ties broken by ascending ID. This is the single
// definition of feed order; every sorted view uses it.
func (r Ripple) Less(other Ripple) bool {
	if !r.ReceivedAt.Equal(other.ReceivedAt) {
		return r.ReceivedAt.After(other.ReceivedAt)
	}
	return r.ID < other.ID
}

// DropletModel is the deduplicated, feed-ordered view of all ripples for
// one droplet at a point in time. Instances are never mutated; every merge
// builds a fresh one.
type DropletModel struct {
	// OwnerID is the identifier of the droplet this snapshot belongs to.
	OwnerID Identifier `json:"owner_id"`

	// DisplayName is the human-readable label for the droplet,
	// typically "user@host".
	DisplayName string `json:"display_name"`

	// Ripples is the ordered, duplicate-free item sequence.
	Ripples []Ripple `json:"ripples"`
}

// Clone returns a copy whose ripple slice shares no storage with the
// receiver.
func (m DropletModel) Clone() DropletModel {
	out := m
	out.Ripples = make([]Ripple, len(m.Ripples))
	copy(out.Ripples, m.Ripples)
	return out
}
