package models

import (
	"encoding/json"
	"time"
)

// PendingMutation is a write that could not be delivered while the device was
// offline. It is persisted locally and replayed in enqueue order once
// connectivity returns.
type PendingMutation struct {
	ID         string            `json:"id"`
	Endpoint   string            `json:"endpoint"`
	Method     string            `json:"method"`
	Body       json.RawMessage   `json:"body,omitempty"`
	Headers    map[string]string `json:"headers,omitempty"`
	EnqueuedAt time.Time         `json:"enqueued_at"`
	RetryCount int               `json:"retry_count"`
}
