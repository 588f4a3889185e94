package models

import "time"

type EntryStatus string

const (
	EntryStatusWaiting   EntryStatus = "waiting"
	EntryStatusInService EntryStatus = "in_service"
	EntryStatusCompleted EntryStatus = "completed"
	EntryStatusCancelled EntryStatus = "cancelled"
)

// ServiceSummary is a read-time projection of a booked service, joined from
// the booking/service records by the remote store. Never written back.
type ServiceSummary struct {
	ID              string  `json:"id"`
	Name            string  `json:"name"`
	DurationMinutes int     `json:"duration_minutes"`
	Price           float64 `json:"price"`
}

type QueueEntry struct {
	ID         string      `json:"id"`
	ShopID     string      `json:"shop_id"`
	CustomerID string      `json:"customer_id"`
	BookingID  string      `json:"booking_id"`
	Position   int         `json:"position"`
	Status     EntryStatus `json:"status"`

	// Derived estimate, may be stale between recomputations.
	EstimatedWaitMinutes int `json:"estimated_wait_minutes"`

	JoinedAt    time.Time  `json:"joined_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// Display projections joined at read time.
	CustomerName string           `json:"customer_name,omitempty"`
	Services     []ServiceSummary `json:"services,omitempty"`
	TotalPrice   float64          `json:"total_price,omitempty"`
}

func (e *QueueEntry) IsActive() bool {
	return e.Status == EntryStatusWaiting || e.Status == EntryStatusInService
}

func (e *QueueEntry) IsTerminal() bool {
	return e.Status == EntryStatusCompleted || e.Status == EntryStatusCancelled
}
