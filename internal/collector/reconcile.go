package collector

import (
	"sort"
	"time"

	"github.com/MertK96/azure-boardmetrics/internal/azdo"
	"github.com/MertK96/azure-boardmetrics/internal/store"
)

// needsRefresh decides whether an item's revision history must be re-fetched.
// If the newest stored revision is at least as recent as the snapshot's
// change timestamp, the history is assumed unchanged and the fetch skipped.
func needsRefresh(stored []store.Revision, itemChanged time.Time) bool {
	if len(stored) == 0 {
		return true
	}
	if itemChanged.IsZero() {
		return false
	}
	var maxStored time.Time
	for _, r := range stored {
		if r.ChangedDate.After(maxStored) {
			maxStored = r.ChangedDate
		}
	}
	return itemChanged.After(maxStored)
}

// mergeRevisions diffs a freshly fetched history against the stored one.
// It returns the full merged set ordered by revision number, plus the subset
// / that must be written: fetched revisions that are new, or that collide with
// a stored revision number while carrying different field values (upstream
// corrections are overwritten in place).
func mergeRevisions(itemID int, stored []store.Revision, fetched []azdo.Revision) (merged, dirty []store.Revision) {
	byRev := make(map[int]store.Revision, len(stored))
	for _, r := range stored {
		byRev[r.Rev] = r
	}

	for _, f := range fetched {
		next := store.Revision{
			WorkItemID:  itemID,
			Rev:         f.Rev,
			ChangedDate: f.ChangedDate,
			State:       f.State,
			DueDate:     f.DueDate,
			Effort:      f.Effort,
		}
		prev, ok := byRev[f.Rev]
		if ok && revisionsEqual(prev, next) {
			continue
		}
		byRev[f.Rev] = next
		dirty = append(dirty, next)
	}

	merged = make([]store.Revision, 0, len(byRev))
	for _, r := range byRev {
		merged = append(merged, r)
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].Rev < merged[j].Rev })
	return merged, dirty
}

func revisionsEqual(a, b store.Revision) bool {
	return a.Rev == b.Rev &&
		a.ChangedDate.Equal(b.ChangedDate) &&
		a.State == b.State &&
		timePtrEqual(a.DueDate, b.DueDate) &&
		floatPtrEqual(a.Effort, b.Effort)
}

func timePtrEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

func floatPtrEqual(a, b *float64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
