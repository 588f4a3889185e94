// Package cache is a short-lived read cache with per-entry expiry, backed by
// the durable local KV store. It absorbs redundant reads during resync bursts
// and survives process restarts (expired entries are swept on startup).
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/bookacut/queuesync/internal/kvstore"
	"github.com/bookacut/queuesync/pkg/logger"
)

const namespace = "cache"

type envelope struct {
	Data      json.RawMessage `json:"data"`
	WrittenAt time.Time       `json:"written_at"`
	TTLMillis int64           `json:"ttl_ms"`
}

func (e *envelope) expired(now time.Time) bool {
	return now.After(e.WrittenAt.Add(time.Duration(e.TTLMillis) * time.Millisecond))
}

type Cache struct {
	kv    kvstore.Store
	l     logger.Logger
	now   func() time.Time
	group singleflight.Group
}

func New(kv kvstore.Store, l logger.Logger) *Cache {
	return &Cache{
		kv:  kv,
		l:   l,
		now: time.Now,
	}
}

// Set stores value under key with an absolute expiry of now+ttl, overwriting
// any existing entry.
func (c *Cache) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal cache value: %w", err)
	}

	env := envelope{
		Data:      data,
		WrittenAt: c.now(),
		TTLMillis: ttl.Milliseconds(),
	}

	raw, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal cache envelope: %w", err)
	}

	return c.kv.Put(ctx, namespace, key, raw)
}

// Get unmarshals the cached value into dest and reports whether a valid entry
// was found. An expired entry is deleted as a side effect and reported as a
// miss.
func (c *Cache) Get(ctx context.Context, key string, dest any) (bool, error) {
	raw, err := c.getRaw(ctx, key)
	if err != nil {
		return false, err
	}
	if raw == nil {
		return false, nil
	}

	if err := json.Unmarshal(raw, dest); err != nil {
		return false, fmt.Errorf("failed to unmarshal cache value: %w", err)
	}
	return true, nil
}

// GetOrFetch returns the cached value if valid, otherwise invokes fetch,
// stores the result, and returns it. A failing fetch propagates its error and
// writes nothing. Concurrent fetches for the same key are collapsed into one.
func (c *Cache) GetOrFetch(ctx context.Context, key string, ttl time.Duration, dest any, fetch func(context.Context) (any, error)) error {
	raw, err := c.getRaw(ctx, key)
	if err != nil {
		return err
	}
	if raw != nil {
		return json.Unmarshal(raw, dest)
	}

	shared, err, _ := c.group.Do(key, func() (any, error) {
		// Re-check under the flight: another caller may have just filled it.
		raw, err := c.getRaw(ctx, key)
		if err != nil {
			return nil, err
		}
		if raw != nil {
			return json.RawMessage(raw), nil
		}

		value, err := fetch(ctx)
		if err != nil {
			return nil, err
		}

		data, err := json.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal fetched value: %w", err)
		}

		if err := c.Set(ctx, key, json.RawMessage(data), ttl); err != nil {
			// The fetched value is still good; losing the cache write only
			// costs a future re-fetch.
			c.l.Warnf(ctx, "cache.Cache.GetOrFetch: failed to store %s: %v", key, err)
		}

		return json.RawMessage(data), nil
	})
	if err != nil {
		return err
	}

	return json.Unmarshal(shared.(json.RawMessage), dest)
}

func (c *Cache) Remove(ctx context.Context, key string) error {
	return c.kv.Delete(ctx, namespace, key)
}

func (c *Cache) Clear(ctx context.Context) error {
	return c.kv.Clear(ctx, namespace)
}

func (c *Cache) ClearPrefix(ctx context.Context, prefix string) error {
	return c.kv.DeletePrefix(ctx, namespace, prefix)
}

// PurgeExpired sweeps every entry and removes those past expiry, returning the
// number removed. Meant to run once at process start and optionally on a timer.
func (c *Cache) PurgeExpired(ctx context.Context) (int, error) {
	entries, err := c.kv.List(ctx, namespace)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, entry := range entries {
		var env envelope
		if err := json.Unmarshal(entry.Value, &env); err != nil {
			// Unreadable entries are as good as expired.
			if err := c.kv.Delete(ctx, namespace, entry.Key); err == nil {
				removed++
			}
			continue
		}
		if !env.expired(c.now()) {
			continue
		}
		if err := c.kv.Delete(ctx, namespace, entry.Key); err != nil {
			c.l.Warnf(ctx, "cache.Cache.PurgeExpired: failed to delete %s: %v", entry.Key, err)
			continue
		}
		removed++
	}

	if removed > 0 {
		c.l.Debug(ctx, "Purged expired cache entries", "count", removed)
	}

	return removed, nil
}

// getRaw returns the payload bytes of a valid entry, nil on a miss. Expired
// entries are deleted before reporting the miss.
func (c *Cache) getRaw(ctx context.Context, key string) ([]byte, error) {
	raw, err := c.kv.Get(ctx, namespace, key)
	if err == kvstore.ErrKeyNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cache envelope: %w", err)
	}

	if env.expired(c.now()) {
		if err := c.kv.Delete(ctx, namespace, key); err != nil {
			c.l.Warnf(ctx, "cache.Cache.getRaw: failed to delete expired %s: %v", key, err)
		}
		return nil, nil
	}

	return env.Data, nil
}
