// Package cache keeps last-known-good snapshots of domain entities and the
// photos captured for each task, so callers can render without a network
// round trip.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"fieldsync/internal/kvstore"
)

const (
	// PrefixSnapshot namespaces snapshot keys
	PrefixSnapshot = "offline_tasks_"
	// PrefixPhotos namespaces per-task photo lists
	PrefixPhotos = "offline_photos_"
)

// Status tracks whether a snapshot still has to reach the backend
type Status string

const (
	StatusPending Status = "pending"
	StatusSynced  Status = "synced"
	StatusError   Status = "error"
)

// Entry is a cached snapshot
type Entry struct {
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`
	Status    Status          `json:"status"`
}

// Decode unmarshals the snapshot data into v
func (e *Entry) Decode(v any) error {
	return json.Unmarshal(e.Data, v)
}

// Photo is a locally stored photo awaiting upload
type Photo struct {
	URI       string `json:"uri"`
	Timestamp int64  `json:"timestamp"`
	Synced    bool   `json:"synced"`
}

// Cache is the offline entity cache
type Cache struct {
	store kvstore.Store
	now   func() time.Time
}

// New creates a cache persisted through store
func New(store kvstore.Store, now func() time.Time) *Cache {
	if now == nil {
		now = time.Now
	}
	return &Cache{store: store, now: now}
}

// Store writes data under key with status pending, replacing any previous entry
func (c *Cache) Store(ctx context.Context, key string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot %s: %w", key, err)
	}

	entry := Entry{
		Data:      raw,
		Timestamp: c.now().UnixMilli(),
		Status:    StatusPending,
	}
	return kvstore.SetJSON(ctx, c.store, PrefixSnapshot+key, entry)
}

// Fetch returns the entry for key, or nil if none has been stored
func (c *Cache) Fetch(ctx context.Context, key string) (*Entry, error) {
	return fetch(ctx, c.store, key)
}

func fetch(ctx context.Context, r kvstore.Reader, key string) (*Entry, error) {
	var entry Entry
	found, err := kvstore.GetJSON(ctx, r, PrefixSnapshot+key, &entry)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	return &entry, nil
}

// FetchInto decodes the snapshot for key into v and reports whether it existed
func (c *Cache) FetchInto(ctx context.Context, key string, v any) (bool, error) {
	entry, err := c.Fetch(ctx, key)
	if err != nil || entry == nil {
		return false, err
	}
	if err := entry.Decode(v); err != nil {
		return true, fmt.Errorf("failed to decode snapshot %s: %w", key, err)
	}
	return true, nil
}

// SetStatus updates the status of an existing entry. Missing keys are ignored.
func (c *Cache) SetStatus(ctx context.Context, key string, status Status) error {
	return c.store.Update(ctx, func(tx kvstore.Tx) error {
		entry, err := fetch(ctx, tx, key)
		if err != nil || entry == nil {
			return err
		}
		if entry.Status == status {
			return nil
		}
		entry.Status = status
		return kvstore.SetJSON(ctx, tx, PrefixSnapshot+key, entry)
	})
}

// AddPhoto appends a photo for taskID. Duplicate URIs are kept.
func (c *Cache) AddPhoto(ctx context.Context, taskID, uri string) error {
	photo := Photo{
		URI:       uri,
		Timestamp: c.now().UnixMilli(),
	}
	return c.store.Update(ctx, func(tx kvstore.Tx) error {
		photos, err := photosOf(ctx, tx, taskID)
		if err != nil {
			return err
		}
		return kvstore.SetJSON(ctx, tx, PrefixPhotos+taskID, append(photos, photo))
	})
}

// Photos returns the photos stored for taskID, oldest first
func (c *Cache) Photos(ctx context.Context, taskID string) ([]Photo, error) {
	return photosOf(ctx, c.store, taskID)
}

func photosOf(ctx context.Context, r kvstore.Reader, taskID string) ([]Photo, error) {
	var photos []Photo
	if _, err := kvstore.GetJSON(ctx, r, PrefixPhotos+taskID, &photos); err != nil {
		return nil, err
	}
	if photos == nil {
		photos = []Photo{}
	}
	return photos, nil
}

// MarkPhotoSynced flags every photo of taskID with the given uri as synced.
// It reports whether any record changed.
func (c *Cache) MarkPhotoSynced(ctx context.Context, taskID, uri string) (bool, error) {
	changed := false
	err := c.store.Update(ctx, func(tx kvstore.Tx) error {
		changed = false
		photos, err := photosOf(ctx, tx, taskID)
		if err != nil {
			return err
		}
		for i := range photos {
			if photos[i].URI == uri && !photos[i].Synced {
				photos[i].Synced = true
				changed = true
			}
		}
		if !changed {
			return nil
		}
		return kvstore.SetJSON(ctx, tx, PrefixPhotos+taskID, photos)
	})
	if err != nil {
		return false, err
	}
	return changed, nil
}

// Clear removes every snapshot and photo list
func (c *Cache) Clear(ctx context.Context) error {
	if err := c.store.RemovePrefix(ctx, PrefixSnapshot); err != nil {
		return err
	}
	return c.store.RemovePrefix(ctx, PrefixPhotos)
}
