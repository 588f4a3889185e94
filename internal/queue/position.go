// Package queue holds the pure position and wait-time computations. No I/O
// happens here; callers pass in whatever snapshot of entries they hold.
package queue

import (
	"sort"

	"github.com/bookacut/queuesync/internal/models"
)

const (
	// DefaultServiceMinutes is assumed when a service has no known duration.
	DefaultServiceMinutes = 30

	// HandlingBufferMinutes is added per entry ahead to cover changeover time
	// between customers.
	HandlingBufferMinutes = 5
)

// ComputeWaitMinutes sums the service time of every waiting entry positioned
// ahead of targetPosition, plus a handling buffer per entry ahead.
//
// Entries already in service are excluded: the estimate deliberately ignores
// their remaining time, which under-estimates the wait for anyone behind an
// in-progress service. Known accuracy limitation, kept as observed behavior.
func ComputeWaitMinutes(targetPosition int, entries []models.QueueEntry) int {
	total := 0
	for i := range entries {
		e := &entries[i]
		if e.Status != models.EntryStatusWaiting {
			continue
		}
		if e.Position >= targetPosition {
			continue
		}
		total += EntryServiceMinutes(e) + HandlingBufferMinutes
	}
	if total < 0 {
		return 0
	}
	return total
}

// EntryServiceMinutes sums the durations of an entry's services, defaulting
// each unknown duration to DefaultServiceMinutes.
func EntryServiceMinutes(e *models.QueueEntry) int {
	if len(e.Services) == 0 {
		return DefaultServiceMinutes
	}
	total := 0
	for _, svc := range e.Services {
		if svc.DurationMinutes > 0 {
			total += svc.DurationMinutes
		} else {
			total += DefaultServiceMinutes
		}
	}
	return total
}

// NextPosition returns (max position among waiting entries)+1. Positions are
// never compacted when earlier entries leave the waiting set, so gaps are
// expected. Callers must compute this against a fresh read immediately before
// insertion; two concurrent joiners can still race (accepted limitation).
func NextPosition(entries []models.QueueEntry) int {
	max := 0
	for i := range entries {
		e := &entries[i]
		if e.Status != models.EntryStatusWaiting {
			continue
		}
		if e.Position > max {
			max = e.Position
		}
	}
	return max + 1
}

// SortForDisplay returns a copy of entries stably sorted by position ascending.
func SortForDisplay(entries []models.QueueEntry) []models.QueueEntry {
	out := make([]models.QueueEntry, len(entries))
	copy(out, entries)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Position < out[j].Position
	})
	return out
}

// SortByRecentJoin returns a copy of entries stably sorted by join time,
// most recent first. Used for a customer's cross-shop view.
func SortByRecentJoin(entries []models.QueueEntry) []models.QueueEntry {
	out := make([]models.QueueEntry, len(entries))
	copy(out, entries)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].JoinedAt.After(out[j].JoinedAt)
	})
	return out
}

// ApplyEstimates recomputes EstimatedWaitMinutes for every entry in place,
// each against the full set.
func ApplyEstimates(entries []models.QueueEntry) {
	for i := range entries {
		entries[i].EstimatedWaitMinutes = ComputeWaitMinutes(entries[i].Position, entries)
	}
}
