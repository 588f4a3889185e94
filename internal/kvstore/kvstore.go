// Package kvstore provides the durable local key/value storage shared by the
// TTL cache and the pending-mutation store. Keys live under a namespace so
// unrelated persisted state cannot collide.
package kvstore

import (
	"context"
	"errors"
)

var ErrKeyNotFound = errors.New("key not found")

type Entry struct {
	Key   string
	Value []byte
}

type Store interface {
	Put(ctx context.Context, namespace, key string, value []byte) error
	Get(ctx context.Context, namespace, key string) ([]byte, error)
	Delete(ctx context.Context, namespace, key string) error
	// List returns all entries in a namespace in first-insertion order.
	// Updating an existing key does not change its place in the order.
	List(ctx context.Context, namespace string) ([]Entry, error)
	DeletePrefix(ctx context.Context, namespace, prefix string) error
	Clear(ctx context.Context, namespace string) error
	Close() error
}
