package models

import "time"

// ChangeEvent is a server-push notification that something in the subscribed
// scope changed. The payload is not trusted for content; it only signals that
// a full re-read is due.
type ChangeEvent struct {
	Scope      string    `json:"scope"`
	ScopeID    string    `json:"scope_id"`
	ReceivedAt time.Time `json:"received_at"`
}
