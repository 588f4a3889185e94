package events

import "time"

const (
	TopicQueueJoined     = "queue.joined"
	TopicQueueLeft       = "queue.left"
	TopicStatusChanged   = "queue.status_changed"
	TopicReplaySucceeded = "sync.replay_succeeded"
	TopicReplayDropped   = "sync.replay_dropped"
)

type QueueJoinedEvent struct {
	EntryID    string    `json:"entry_id"`
	ShopID     string    `json:"shop_id"`
	CustomerID string    `json:"customer_id"`
	BookingID  string    `json:"booking_id"`
	Position   int       `json:"position"`
	JoinedAt   time.Time `json:"joined_at"`
	Timestamp  time.Time `json:"timestamp"`
}

type QueueLeftEvent struct {
	EntryID    string    `json:"entry_id"`
	ShopID     string    `json:"shop_id"`
	CustomerID string    `json:"customer_id"`
	Reason     string    `json:"reason"` // cancelled_by_customer, cancelled_by_shop
	Timestamp  time.Time `json:"timestamp"`
}

type StatusChangedEvent struct {
	EntryID   string    `json:"entry_id"`
	ShopID    string    `json:"shop_id"`
	OldStatus string    `json:"old_status,omitempty"`
	NewStatus string    `json:"new_status"`
	Timestamp time.Time `json:"timestamp"`
}

type ReplaySucceededEvent struct {
	MutationID string    `json:"mutation_id"`
	Endpoint   string    `json:"endpoint"`
	Method     string    `json:"method"`
	EnqueuedAt time.Time `json:"enqueued_at"`
	Timestamp  time.Time `json:"timestamp"`
}

type ReplayDroppedEvent struct {
	MutationID string    `json:"mutation_id"`
	Endpoint   string    `json:"endpoint"`
	Method     string    `json:"method"`
	RetryCount int       `json:"retry_count"`
	Reason     string    `json:"reason"` // retry_cap_exceeded, permanent_failure
	Timestamp  time.Time `json:"timestamp"`
}
