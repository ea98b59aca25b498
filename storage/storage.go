// Package storage provides the persisted blob store backing the cart.
// The cart is written as one serialized blob per user; concurrent writers
// are last-writer-wins, which is accepted for a single-shopper cart.
package storage

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotFound reports that no blob exists for the key. Absence is not a
// persistence failure: a missing cart is simply an empty cart.
var ErrNotFound = errors.New("blob not found")

// Error wraps a storage-layer failure. It must reach the caller as-is so
// that an unavailable store is never mistaken for an empty cart.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string { return fmt.Sprintf("storage %s: %v", e.Op, e.Err) }

func (e *Error) Unwrap() error { return e.Err }

// Blob is a key-value store of opaque serialized payloads.
type Blob interface {
	Load(ctx context.Context, key string) ([]byte, error)
	Save(ctx context.Context, key string, data []byte) error
	Delete(ctx context.Context, key string) error
}
