package queue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/bookacut/queuesync/internal/models"
)

func waitingEntry(id string, pos int, serviceMinutes int) models.QueueEntry {
	e := models.QueueEntry{
		ID:       id,
		ShopID:   "shop-1",
		Position: pos,
		Status:   models.EntryStatusWaiting,
		JoinedAt: time.Now(),
	}
	if serviceMinutes > 0 {
		e.Services = []models.ServiceSummary{{ID: "svc", DurationMinutes: serviceMinutes}}
	}
	return e
}

func TestComputeWaitMinutes_NoPredecessors(t *testing.T) {
	entries := []models.QueueEntry{waitingEntry("a", 1, 30)}

	assert.Equal(t, 0, ComputeWaitMinutes(1, entries))
	assert.Equal(t, 0, ComputeWaitMinutes(1, nil))
}

func TestComputeWaitMinutes_SumsWaitingPredecessorsWithBuffer(t *testing.T) {
	entries := []models.QueueEntry{
		waitingEntry("a", 1, 30),
		waitingEntry("b", 2, 20),
		waitingEntry("c", 3, 45),
	}

	assert.Equal(t, 35, ComputeWaitMinutes(2, entries))
	assert.Equal(t, 60, ComputeWaitMinutes(3, entries))
	assert.Equal(t, 110, ComputeWaitMinutes(4, entries))
}

func TestComputeWaitMinutes_DefaultsUnknownDurations(t *testing.T) {
	ahead := waitingEntry("a", 1, 0) // no services attached
	entries := []models.QueueEntry{ahead, waitingEntry("b", 2, 20)}

	assert.Equal(t, DefaultServiceMinutes+HandlingBufferMinutes, ComputeWaitMinutes(2, entries))

	// Individual service with unknown duration also falls back to the default.
	ahead.Services = []models.ServiceSummary{{ID: "svc-1", DurationMinutes: 0}, {ID: "svc-2", DurationMinutes: 15}}
	entries[0] = ahead
	assert.Equal(t, DefaultServiceMinutes+15+HandlingBufferMinutes, ComputeWaitMinutes(2, entries))
}

func TestComputeWaitMinutes_IgnoresInServicePredecessors(t *testing.T) {
	inService := waitingEntry("a", 1, 30)
	inService.Status = models.EntryStatusInService
	entries := []models.QueueEntry{inService, waitingEntry("b", 2, 20)}

	// Baseline estimate counts waiting predecessors only.
	assert.Equal(t, 0, ComputeWaitMinutes(2, entries))
}

func TestComputeWaitMinutes_ToleratesPositionGaps(t *testing.T) {
	entries := []models.QueueEntry{
		waitingEntry("a", 2, 30),
		waitingEntry("b", 7, 20),
	}

	assert.Equal(t, 35, ComputeWaitMinutes(7, entries))
}

func TestNextPosition(t *testing.T) {
	assert.Equal(t, 1, NextPosition(nil))

	entries := []models.QueueEntry{
		waitingEntry("a", 1, 30),
		waitingEntry("b", 4, 20),
	}
	assert.Equal(t, 5, NextPosition(entries))

	// Entries outside the waiting set do not influence the next position.
	done := waitingEntry("c", 9, 30)
	done.Status = models.EntryStatusCompleted
	entries = append(entries, done)
	assert.Equal(t, 5, NextPosition(entries))
}

func TestNextPosition_Monotonic(t *testing.T) {
	var entries []models.QueueEntry
	last := 0
	for i := 0; i < 10; i++ {
		pos := NextPosition(entries)
		assert.Greater(t, pos, last)
		entries = append(entries, waitingEntry("e", pos, 15))
		last = pos
	}
}

func TestSortForDisplay_StableByPosition(t *testing.T) {
	entries := []models.QueueEntry{
		waitingEntry("c", 3, 10),
		waitingEntry("a", 1, 10),
		waitingEntry("b", 2, 10),
	}

	sorted := SortForDisplay(entries)

	assert.Equal(t, []string{"a", "b", "c"}, []string{sorted[0].ID, sorted[1].ID, sorted[2].ID})
	// Input order untouched.
	assert.Equal(t, "c", entries[0].ID)
}

func TestSortByRecentJoin(t *testing.T) {
	now := time.Now()
	older := waitingEntry("older", 1, 10)
	older.JoinedAt = now.Add(-time.Hour)
	newer := waitingEntry("newer", 2, 10)
	newer.JoinedAt = now

	sorted := SortByRecentJoin([]models.QueueEntry{older, newer})

	assert.Equal(t, "newer", sorted[0].ID)
	assert.Equal(t, "older", sorted[1].ID)
}

func TestApplyEstimates_EndToEndScenario(t *testing.T) {
	// Empty shop: first joiner waits nothing.
	c1 := waitingEntry("c1", 1, 30)
	entries := []models.QueueEntry{c1}
	ApplyEstimates(entries)
	assert.Equal(t, 0, entries[0].EstimatedWaitMinutes)

	// Second joiner waits the first's 30 minutes plus the handling buffer.
	c2 := waitingEntry("c2", 2, 20)
	entries = append(entries, c2)
	ApplyEstimates(entries)
	assert.Equal(t, 35, entries[1].EstimatedWaitMinutes)

	// First customer moves to the chair: no waiting predecessor remains.
	entries[0].Status = models.EntryStatusInService
	ApplyEstimates(entries)
	assert.Equal(t, 0, entries[1].EstimatedWaitMinutes)
}

func TestComputeWaitMinutes_NeverNegative(t *testing.T) {
	entries := []models.QueueEntry{
		waitingEntry("a", 1, 30),
		waitingEntry("b", 2, 20),
	}

	for pos := 0; pos <= 5; pos++ {
		assert.GreaterOrEqual(t, ComputeWaitMinutes(pos, entries), 0)
	}
}
