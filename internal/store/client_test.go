package store

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bookacut/queuesync/internal/models"
	"github.com/bookacut/queuesync/pkg/logger"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(Config{BaseURL: srv.URL, Token: "test-token"}, logger.InitializeTestZapLogger())
}

func TestClient_FetchShopQueue(t *testing.T) {
	entries := []models.QueueEntry{
		{ID: "q1", ShopID: "s1", Position: 1, Status: models.EntryStatusInService},
		{ID: "q2", ShopID: "s1", Position: 2, Status: models.EntryStatusWaiting},
	}

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/shops/s1/queue-entries", r.URL.Path)
		assert.Equal(t, "active", r.URL.Query().Get("status"))
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode(entries)
	})

	got, err := c.FetchShopQueue(context.Background(), "s1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "q1", got[0].ID)
	assert.Equal(t, models.EntryStatusWaiting, got[1].Status)
}

func TestClient_InsertQueueEntry(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/queue-entries", r.URL.Path)

		var in InsertQueueEntryInput
		require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		assert.Equal(t, "s1", in.ShopID)
		assert.Equal(t, 3, in.Position)

		json.NewEncoder(w).Encode(models.QueueEntry{
			ID:       "q-new",
			ShopID:   in.ShopID,
			Position: in.Position,
			Status:   models.EntryStatusWaiting,
		})
	})

	entry, err := c.InsertQueueEntry(context.Background(), InsertQueueEntryInput{
		ShopID:     "s1",
		CustomerID: "c1",
		BookingID:  "b1",
		Position:   3,
	})
	require.NoError(t, err)
	assert.Equal(t, "q-new", entry.ID)
	assert.Equal(t, 3, entry.Position)
}

func TestClient_UpdateQueueEntryStatus_StampsTransitionTimes(t *testing.T) {
	var received map[string]any
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPatch, r.Method)
		assert.Equal(t, "/queue-entries/q1", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		json.NewEncoder(w).Encode(models.QueueEntry{ID: "q1", Status: models.EntryStatusInService})
	})

	_, err := c.UpdateQueueEntryStatus(context.Background(), "q1", models.EntryStatusInService)
	require.NoError(t, err)
	assert.Equal(t, "in_service", received["status"])
	assert.NotEmpty(t, received["started_at"])
	assert.Nil(t, received["completed_at"])
}

func TestClient_Send_NonSuccessIsStatusError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "validation failed", http.StatusUnprocessableEntity)
	})

	err := c.Send(context.Background(), "/queue-entries", http.MethodPost, []byte(`{}`), nil)
	require.Error(t, err)

	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusUnprocessableEntity, se.StatusCode)
	assert.Contains(t, se.Body, "validation failed")
}

func TestClient_Send_ForwardsReplayHeaders(t *testing.T) {
	var got string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("X-Idempotency-Key")
		w.WriteHeader(http.StatusOK)
	})

	err := c.Send(context.Background(), "/queue-entries", http.MethodPost, []byte(`{}`), map[string]string{"X-Idempotency-Key": "m-1"})
	require.NoError(t, err)
	assert.Equal(t, "m-1", got)
}

func TestErrorClassification(t *testing.T) {
	assert.False(t, IsRetryable(nil))

	netErr := errors.New("dial tcp: connection refused")
	assert.True(t, IsRetryable(netErr))
	assert.False(t, IsPermanent(netErr))

	serverErr := &StatusError{StatusCode: http.StatusBadGateway}
	assert.True(t, IsRetryable(serverErr))
	assert.False(t, IsPermanent(serverErr))

	clientErr := &StatusError{StatusCode: http.StatusUnprocessableEntity}
	assert.False(t, IsRetryable(clientErr))
	assert.True(t, IsPermanent(clientErr))
}

func TestClient_TimeoutIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	t.Cleanup(srv.Close)

	c := NewClient(Config{BaseURL: srv.URL, Timeout: 20 * time.Millisecond}, logger.InitializeTestZapLogger())

	_, err := c.FetchShopQueue(context.Background(), "s1")
	require.Error(t, err)
	assert.True(t, IsRetryable(err))
}
