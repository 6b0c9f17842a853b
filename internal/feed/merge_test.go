package feed_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/rainfeed/internal/feed"
	"github.com/nhle/rainfeed/internal/model"
)

func ripple(id uint32, subject string, unix int64) model.Ripple {
	return model.Ripple{
		ID:         id,
		Origin:     "sender@example.com",
		Subject:    subject,
		Content:    "body of " + subject,
		ReceivedAt: time.Unix(unix, 0).UTC(),
	}
}

func snapshot(ripples ...model.Ripple) model.DropletModel {
	return model.DropletModel{
		OwnerID:     model.NewIdentifier(),
		DisplayName: "sender@example.com",
		Ripples:     ripples,
	}
}

func TestMergeOrdersNewestFirst(t *testing.T) {
	s := feed.Merge(snapshot(), []model.Ripple{
		ripple(1, "old", 100),
		ripple(3, "newest", 300),
		ripple(2, "middle", 200),
	})

	require.Len(t, s.Ripples, 3)
	assert.Equal(t, "newest", s.Ripples[0].Subject)
	assert.Equal(t, "middle", s.Ripples[1].Subject)
	assert.Equal(t, "old", s.Ripples[2].Subject)
}

func TestMergeBreaksTimestampTiesByAscendingID(t *testing.T) {
	s := feed.Merge(snapshot(), []model.Ripple{
		ripple(7, "second", 100),
		ripple(2, "first", 100),
	})

	require.Len(t, s.Ripples, 2)
	assert.Equal(t, uint32(2), s.Ripples[0].ID)
	assert.Equal(t, uint32(7), s.Ripples[1].ID)
}

func TestMergeIsIdempotent(t *testing.T) {
	base := snapshot(ripple(1, "a", 100))
	batch := []model.Ripple{ripple(2, "b", 200), ripple(3, "c", 300)}

	once := feed.Merge(base, batch)
	twice := feed.Merge(once, batch)

	assert.Equal(t, once, twice)
}

func TestMergeUnionNeverDropsItems(t *testing.T) {
	base := snapshot(ripple(1, "a", 100))
	x1 := []model.Ripple{ripple(2, "b", 200)}
	x2 := []model.Ripple{ripple(3, "c", 300), ripple(1, "a", 100)}

	forward := feed.Merge(feed.Merge(base, x1), x2)
	backward := feed.Merge(feed.Merge(base, x2), x1)

	require.Len(t, forward.Ripples, 3)
	assert.Equal(t, forward.Ripples, backward.Ripples)
}

func TestMergeOverlappingFetchCycles(t *testing.T) {
	// Two cycles where the second re-delivers the first cycle's item.
	first := []model.Ripple{ripple(1, "hello", 100)}
	second := []model.Ripple{ripple(1, "hello", 100), ripple(2, "again", 200)}

	s := feed.Merge(feed.Merge(snapshot(), first), second)

	require.Len(t, s.Ripples, 2)
	assert.Equal(t, uint32(2), s.Ripples[0].ID)
	assert.Equal(t, int64(200), s.Ripples[0].ReceivedAt.Unix())
}

func TestMergeDistinguishesNearDuplicates(t *testing.T) {
	// Same sequence number and timestamp but different subject is not a
	// duplicate; equality is structural over all fields.
	a := ripple(1, "a", 100)
	b := ripple(1, "b", 100)

	s := feed.Merge(snapshot(a), []model.Ripple{b})

	assert.Len(t, s.Ripples, 2)
}

func TestMergePreservesOwnerAndDisplayName(t *testing.T) {
	base := snapshot()
	s := feed.Merge(base, []model.Ripple{ripple(1, "a", 100)})

	assert.Equal(t, base.OwnerID, s.OwnerID)
	assert.Equal(t, base.DisplayName, s.DisplayName)
}

func TestMergeDoesNotMutateInputs(t *testing.T) {
	base := snapshot(ripple(2, "b", 200), ripple(1, "a", 100))
	incoming := []model.Ripple{ripple(3, "c", 300)}

	_ = feed.Merge(base, incoming)

	assert.Equal(t, "b", base.Ripples[0].Subject)
	assert.Len(t, base.Ripples, 2)
	assert.Len(t, incoming, 1)
}

func TestMergeEmptyIncomingKeepsSnapshot(t *testing.T) {
	base := feed.Merge(snapshot(), []model.Ripple{ripple(1, "a", 100)})
	s := feed.Merge(base, nil)

	assert.Equal(t, base.Ripples, s.Ripples)
}
