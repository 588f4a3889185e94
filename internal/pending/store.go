// Package pending persists write operations that could not reach the remote
// store, in the order they were issued. The connectivity coordinator replays
// them oldest-first once the device is back online, so causal intent like
// "join queue" before "cancel" is preserved.
package pending

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/bookacut/queuesync/internal/kvstore"
	"github.com/bookacut/queuesync/internal/models"
	"github.com/bookacut/queuesync/pkg/logger"
)

const namespace = "pending"

var ErrMutationNotFound = errors.New("pending mutation not found")

type Store interface {
	Enqueue(ctx context.Context, endpoint, method string, body []byte, headers map[string]string) (string, error)
	// List returns all pending mutations oldest-first.
	List(ctx context.Context) ([]models.PendingMutation, error)
	Remove(ctx context.Context, id string) error
	// BumpRetry increments the mutation's retry count and returns the new
	// value. The caller compares it against the cap and drops via Remove.
	BumpRetry(ctx context.Context, id string) (int, error)
	Count(ctx context.Context) (int, error)
}

type kvPendingStore struct {
	kv  kvstore.Store
	l   logger.Logger
	now func() time.Time
}

func NewStore(kv kvstore.Store, l logger.Logger) Store {
	return &kvPendingStore{
		kv:  kv,
		l:   l,
		now: time.Now,
	}
}

func (s *kvPendingStore) Enqueue(ctx context.Context, endpoint, method string, body []byte, headers map[string]string) (string, error) {
	m := models.PendingMutation{
		ID:         uuid.NewString(),
		Endpoint:   endpoint,
		Method:     method,
		Body:       body,
		Headers:    headers,
		EnqueuedAt: s.now(),
		RetryCount: 0,
	}

	data, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("failed to marshal pending mutation: %w", err)
	}

	if err := s.kv.Put(ctx, namespace, m.ID, data); err != nil {
		s.l.Errorf(ctx, "pending.kvPendingStore.Enqueue: %v", err)
		return "", err
	}

	s.l.Info(ctx, "Mutation enqueued for replay",
		"mutation_id", m.ID,
		"endpoint", endpoint,
		"method", method,
	)

	return m.ID, nil
}

func (s *kvPendingStore) List(ctx context.Context) ([]models.PendingMutation, error) {
	entries, err := s.kv.List(ctx, namespace)
	if err != nil {
		s.l.Errorf(ctx, "pending.kvPendingStore.List: %v", err)
		return nil, err
	}

	muts := make([]models.PendingMutation, 0, len(entries))
	for _, entry := range entries {
		var m models.PendingMutation
		if err := json.Unmarshal(entry.Value, &m); err != nil {
			s.l.Warnf(ctx, "pending.kvPendingStore.List: dropping unreadable mutation %s: %v", entry.Key, err)
			_ = s.kv.Delete(ctx, namespace, entry.Key)
			continue
		}
		muts = append(muts, m)
	}

	return muts, nil
}

func (s *kvPendingStore) Remove(ctx context.Context, id string) error {
	if err := s.kv.Delete(ctx, namespace, id); err != nil {
		s.l.Errorf(ctx, "pending.kvPendingStore.Remove: %v", err)
		return err
	}
	return nil
}

func (s *kvPendingStore) BumpRetry(ctx context.Context, id string) (int, error) {
	raw, err := s.kv.Get(ctx, namespace, id)
	if err == kvstore.ErrKeyNotFound {
		return 0, ErrMutationNotFound
	}
	if err != nil {
		s.l.Errorf(ctx, "pending.kvPendingStore.BumpRetry: %v", err)
		return 0, err
	}

	var m models.PendingMutation
	if err := json.Unmarshal(raw, &m); err != nil {
		return 0, fmt.Errorf("failed to unmarshal pending mutation: %w", err)
	}

	m.RetryCount++

	data, err := json.Marshal(m)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal pending mutation: %w", err)
	}

	if err := s.kv.Put(ctx, namespace, id, data); err != nil {
		s.l.Errorf(ctx, "pending.kvPendingStore.BumpRetry: %v", err)
		return 0, err
	}

	return m.RetryCount, nil
}

func (s *kvPendingStore) Count(ctx context.Context) (int, error) {
	entries, err := s.kv.List(ctx, namespace)
	if err != nil {
		return 0, err
	}
	return len(entries), nil
}
