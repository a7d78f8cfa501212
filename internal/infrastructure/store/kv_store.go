package store

import (
	"context"
	"errors"
)

// Keys persisted by the storefront client.
const (
	KeyToken     = "token"
	KeySessionID = "session_id"
)

var ErrEmptyKey = errors.New("key is required")

// KeyValueStore is the durable key/value storage that survives process
// restarts. Each store is scoped to a namespace (one per CLI profile).
type KeyValueStore interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}
