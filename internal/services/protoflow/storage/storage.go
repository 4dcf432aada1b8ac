package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound indicates a requested key is missing.
var ErrNotFound = errors.New("record not found")

// Store persists opaque values by key.
type Store interface {
	// Get returns the value stored under key or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)
	// Put replaces the value stored under key.
	Put(ctx context.Context, key string, value []byte) error
	// Close releases the backend.
	Close() error
}

// NormalizeKey trims key and rejects empty values.
func NormalizeKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", fmt.Errorf("storage key is required")
	}
	return key, nil
}
