// Package kvstore defines the durable local key-value store the sync core
// runs on. In the extension the backing area is supplied by the browser;
// this package carries the contract plus a Memory implementation for tests
// and a SQLite implementation for shells that own their storage.
package kvstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/akorchen/gridsync/common"
)

// Store is a durable key-value area shared across extension contexts.
//
// Contract:
//   - Get returns only the keys that exist; absent keys are simply missing
//     from the result map, never an error.
//   - Set and Remove of multiple keys are applied atomically where the
//     backend supports it.
//   - Keys lists all stored keys with the given prefix.
//   - An unavailable backend is reported as common.ErrStorageUnavailable
//     (wrapped); callers treat it as a cache miss, never as fatal.
type Store interface {
	Get(ctx context.Context, keys []string) (map[string][]byte, error)
	Set(ctx context.Context, items map[string][]byte) error
	Remove(ctx context.Context, keys []string) error
	Keys(ctx context.Context, prefix string) ([]string, error)
	Clear(ctx context.Context) error
}

// storageErr tags a backend failure with the ErrStorageUnavailable sentinel
// so callers can branch with errors.Is.
func storageErr(op string, err error) error {
	return fmt.Errorf("%s: %w", op, errors.Join(common.ErrStorageUnavailable, err))
}
