// Package store is the request/response client for the remote relational
// store. Every call carries a bounded timeout; failures are classified as
// retryable or permanent for the connectivity coordinator.
package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bookacut/queuesync/internal/models"
	"github.com/bookacut/queuesync/pkg/logger"
)

const defaultTimeout = 12 * time.Second

type Config struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

type Client struct {
	baseURL string
	token   string
	httpc   *http.Client
	l       logger.Logger
}

func NewClient(cfg Config, l logger.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.Token,
		httpc:   &http.Client{Timeout: timeout},
		l:       l,
	}
}

// Endpoint paths, shared with callers that enqueue offline mutations.
func ShopQueuePath(shopID string) string {
	return fmt.Sprintf("/shops/%s/queue-entries", url.PathEscape(shopID))
}

func CustomerQueuePath(customerID string) string {
	return fmt.Sprintf("/customers/%s/queue-entries", url.PathEscape(customerID))
}

const QueueEntriesPath = "/queue-entries"

func QueueEntryPath(entryID string) string {
	return fmt.Sprintf("/queue-entries/%s", url.PathEscape(entryID))
}

// FetchShopQueue reads the active entries (waiting or in service) for a shop,
// with customer/service/booking summaries joined in by the store.
func (c *Client) FetchShopQueue(ctx context.Context, shopID string) ([]models.QueueEntry, error) {
	var entries []models.QueueEntry
	if err := c.doJSON(ctx, http.MethodGet, ShopQueuePath(shopID)+"?status=active", nil, &entries); err != nil {
		c.l.Errorf(ctx, "store.Client.FetchShopQueue: %v", err)
		return nil, err
	}
	return entries, nil
}

// FetchCustomerQueue reads one customer's active entries across shops.
func (c *Client) FetchCustomerQueue(ctx context.Context, customerID string) ([]models.QueueEntry, error) {
	var entries []models.QueueEntry
	if err := c.doJSON(ctx, http.MethodGet, CustomerQueuePath(customerID)+"?status=active", nil, &entries); err != nil {
		c.l.Errorf(ctx, "store.Client.FetchCustomerQueue: %v", err)
		return nil, err
	}
	return entries, nil
}

type InsertQueueEntryInput struct {
	ShopID     string `json:"shop_id"`
	CustomerID string `json:"customer_id"`
	BookingID  string `json:"booking_id"`
	// Position 0 asks the store to assign one at insert time; used for
	// replayed offline joins where no fresh read was possible.
	Position int `json:"position,omitempty"`
}

func (c *Client) InsertQueueEntry(ctx context.Context, in InsertQueueEntryInput) (*models.QueueEntry, error) {
	body, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal insert input: %w", err)
	}

	var entry models.QueueEntry
	if err := c.doJSON(ctx, http.MethodPost, QueueEntriesPath, body, &entry); err != nil {
		c.l.Errorf(ctx, "store.Client.InsertQueueEntry: %v", err)
		return nil, err
	}
	return &entry, nil
}

type statusUpdate struct {
	Status      models.EntryStatus `json:"status"`
	StartedAt   *time.Time         `json:"started_at,omitempty"`
	CompletedAt *time.Time         `json:"completed_at,omitempty"`
}

// UpdateQueueEntryStatus transitions an entry, stamping startedAt or
// completedAt exactly once on the corresponding transition.
func (c *Client) UpdateQueueEntryStatus(ctx context.Context, entryID string, status models.EntryStatus) (*models.QueueEntry, error) {
	upd := statusUpdate{Status: status}
	now := time.Now()
	switch status {
	case models.EntryStatusInService:
		upd.StartedAt = &now
	case models.EntryStatusCompleted:
		upd.CompletedAt = &now
	}

	body, err := json.Marshal(upd)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal status update: %w", err)
	}

	return c.patchEntry(ctx, entryID, body)
}

// StatusUpdateBody builds the patch payload for a transition, for callers
// that enqueue the mutation instead of sending it directly.
func StatusUpdateBody(status models.EntryStatus, at time.Time) ([]byte, error) {
	upd := statusUpdate{Status: status}
	switch status {
	case models.EntryStatusInService:
		upd.StartedAt = &at
	case models.EntryStatusCompleted:
		upd.CompletedAt = &at
	}
	return json.Marshal(upd)
}

func (c *Client) patchEntry(ctx context.Context, entryID string, body []byte) (*models.QueueEntry, error) {
	var entry models.QueueEntry
	if err := c.doJSON(ctx, http.MethodPatch, QueueEntryPath(entryID), body, &entry); err != nil {
		c.l.Errorf(ctx, "store.Client.patchEntry: %v", err)
		return nil, err
	}
	return &entry, nil
}

// Send performs a raw request against the store. The connectivity coordinator
// replays pending mutations through it.
func (c *Client) Send(ctx context.Context, endpoint, method string, body []byte, headers map[string]string) error {
	req, err := c.newRequest(ctx, method, endpoint, body)
	if err != nil {
		return err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return c.statusError(resp)
	}
	io.Copy(io.Discard, resp.Body)
	return nil
}

// Ping probes the store's health endpoint. Used as the upstream-reachability
// signal by the connectivity coordinator.
func (c *Client) Ping(ctx context.Context) error {
	return c.Send(ctx, "/health", http.MethodGet, nil, nil)
}

func (c *Client) doJSON(ctx context.Context, method, endpoint string, body []byte, out any) error {
	req, err := c.newRequest(ctx, method, endpoint, body)
	if err != nil {
		return err
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return c.statusError(resp)
	}

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, body []byte) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	return req, nil
}

func (c *Client) statusError(resp *http.Response) error {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(b))}
}
