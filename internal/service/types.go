package service

import (
	"github.com/bookacut/queuesync/internal/connectivity"
	"github.com/bookacut/queuesync/internal/models"
)

type JoinQueueInput struct {
	ShopID     string
	CustomerID string
	BookingID  string
}

type JoinQueueOutput struct {
	Outcome connectivity.Outcome
	// MutationID is set when the join was enqueued for later replay.
	MutationID string
	// Entry is set when the join was applied directly.
	Entry                *models.QueueEntry
	Position             int
	EstimatedWaitMinutes int
}

// EntryRef identifies a queue entry together with the scopes its change
// signals fan out to. Callers hold all three from the snapshot they act on.
type EntryRef struct {
	EntryID    string
	ShopID     string
	CustomerID string
}

type MutationOutput struct {
	Outcome    connectivity.Outcome
	MutationID string
}
