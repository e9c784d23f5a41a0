// Package kvstore is the durable key-value substrate that the queue, the
// entity cache and the status reporter persist through.
package kvstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrClosed is returned by operations on a closed store
var ErrClosed = errors.New("kvstore: store is closed")

// Reader reads single keys
type Reader interface {
	// Get returns nil, nil when the key is absent
	Get(ctx context.Context, key string) ([]byte, error)
}

// Writer writes single keys
type Writer interface {
	Set(ctx context.Context, key string, value []byte) error
	Remove(ctx context.Context, keys ...string) error
}

// Tx is the view of the store inside Update. Writes become visible only when
// the update function returns nil.
type Tx interface {
	Reader
	Writer
}

// Store defines durable key-value persistence
type Store interface {
	Reader
	Writer
	RemovePrefix(ctx context.Context, prefix string) error
	Keys(ctx context.Context, prefix string) ([]string, error)

	// Update runs fn as one atomic read-modify-write. Updates are serialized
	// against every other writer of the same database, including other
	// processes. fn may run more than once and must not call the Store itself.
	Update(ctx context.Context, fn func(tx Tx) error) error

	Close() error
}

// GetJSON decodes the value stored under key into v. It reports whether the
// key was present.
func GetJSON(ctx context.Context, s Reader, key string, v any) (bool, error) {
	data, err := s.Get(ctx, key)
	if err != nil {
		return false, err
	}
	if data == nil {
		return false, nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return true, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

// SetJSON encodes v and stores it under key
func SetJSON(ctx context.Context, s Writer, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return s.Set(ctx, key, data)
}
