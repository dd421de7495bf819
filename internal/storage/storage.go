// Package storage is the durable client-local key-value store used to keep
// the last recording across restarts. Backends live in sub-packages and
// register themselves by driver name.
package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/kozaktomas/facecam/internal/config"
	"github.com/kozaktomas/facecam/internal/session"
)

// ErrNotFound is returned by Get when the key has no value.
var ErrNotFound = errors.New("key not found")

// KV is a durable string-keyed byte store.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	// Set overwrites any existing value.
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// OpenFunc opens a backend from the storage config.
type OpenFunc func(ctx context.Context, cfg *config.StorageConfig) (KV, error)

var (
	driversMu sync.RWMutex
	drivers   = map[string]OpenFunc{
		"memory": func(context.Context, *config.StorageConfig) (KV, error) { return NewMemory(), nil },
	}
)

// Register makes a backend available under name. Backend packages call it
// from init.
func Register(name string, open OpenFunc) {
	driversMu.Lock()
	defer driversMu.Unlock()
	if open == nil {
		panic("storage: Register open func is nil")
	}
	drivers[name] = open
}

// Drivers returns the registered driver names, sorted.
func Drivers() []string {
	driversMu.RLock()
	defer driversMu.RUnlock()
	names := make([]string, 0, len(drivers))
	for name := range drivers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Open opens the configured backend and applies the value quota.
func Open(ctx context.Context, cfg *config.StorageConfig) (KV, error) {
	driversMu.RLock()
	open, ok := drivers[cfg.Driver]
	driversMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown storage driver %q (available: %v)", cfg.Driver, Drivers())
	}

	kv, err := open(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s storage: %w", cfg.Driver, err)
	}
	return WithQuota(kv, cfg.MaxValueBytes), nil
}

type quotaKV struct {
	KV
	max int
}

// WithQuota rejects values larger than max bytes with a storage-quota error.
// A non-positive max disables the check.
func WithQuota(kv KV, max int) KV {
	if max <= 0 {
		return kv
	}
	return &quotaKV{KV: kv, max: max}
}

func (q *quotaKV) Set(ctx context.Context, key string, value []byte) error {
	if len(value) > q.max {
		return session.E(session.KindStorageQuota, "storage.Set",
			fmt.Sprintf("value of %d bytes exceeds quota of %d bytes", len(value), q.max), nil)
	}
	return q.KV.Set(ctx, key, value)
}
