// Package feed implements the pure merge step that folds freshly fetched
// ripples into a droplet's displayed snapshot.
package feed

import (
	"sort"

	"github.com/nhle/rainfeed/internal/model"
)

// Merge combines an existing snapshot with newly fetched ripples into a
// fresh snapshot: concatenate, sort into feed order, drop structural
// duplicates. The inputs are not modified.
//
// Merge is idempotent, Merge(Merge(s, x), x) equals Merge(s, x), and
// never drops a non-duplicate item regardless of how incremental batches
// are interleaved, so polling the same source twice can neither
// double-display nor lose a message.
func Merge(existing model.DropletModel, incoming []model.Ripple) model.DropletModel {
	combined := make([]model.Ripple, 0, len(existing.Ripples)+len(incoming))
	combined = append(combined, existing.Ripples...)
	combined = append(combined, incoming...)

	sort.SliceStable(combined, func(i, j int) bool {
		return combined[i].Less(combined[j])
	})

	deduped := combined[:0:0]
	for _, r := range combined {
		if n := len(deduped); n > 0 && deduped[n-1].Equal(r) {
			continue
		}
		deduped = append(deduped, r)
	}

	return model.DropletModel{
		OwnerID:     existing.OwnerID,
		DisplayName: existing.DisplayName,
		Ripples:     deduped,
	}
}
