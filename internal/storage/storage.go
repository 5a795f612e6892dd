// Package storage is the best-effort key-value persistence used for local
// chat history and notification state. Failures are logged and swallowed;
// callers fall back to defaults.
package storage

import (
	"context"
	"encoding/json"

	"captain/pkg/logger"
)

type Store interface {
	// GetItem reports ok=false when the key is absent.
	GetItem(ctx context.Context, key string) (value string, ok bool, err error)
	SetItem(ctx context.Context, key, value string) error
}

// LoadJSON decodes the value stored at key into dest. It returns false and
// leaves dest untouched when the key is missing, the store fails, or the
// stored data is malformed.
func LoadJSON(ctx context.Context, store Store, log *logger.Logger, key string, dest interface{}) bool {
	if store == nil {
		return false
	}
	raw, ok, err := store.GetItem(ctx, key)
	if err != nil {
		log.WithError(err).WithField("key", key).Warn("Failed to read stored item")
		return false
	}
	if !ok {
		return false
	}
	if err := json.Unmarshal([]byte(raw), dest); err != nil {
		log.WithError(err).WithField("key", key).Warn("Discarding malformed stored item")
		return false
	}
	return true
}

// SaveJSON encodes value and stores it at key, logging any failure.
func SaveJSON(ctx context.Context, store Store, log *logger.Logger, key string, value interface{}) {
	if store == nil {
		return
	}
	data, err := json.Marshal(value)
	if err != nil {
		log.WithError(err).WithField("key", key).Warn("Failed to encode item for storage")
		return
	}
	if err := store.SetItem(ctx, key, string(data)); err != nil {
		log.WithError(err).WithField("key", key).Warn("Failed to write stored item")
	}
}
