// Package storage provides the durable key/value scope that backs visitor
// identity and behavioral profiles, with change notifications so that every
// instance holding the same visitor observes writes made by the others.
package storage

import (
	"context"
	"errors"
	"strings"
	"time"
)

const visitorKeyspace = "visitor:"

var (
	ErrNotFound      = errors.New("storage: key not found")
	ErrQuotaExceeded = errors.New("storage: quota exceeded")
	ErrUnavailable   = errors.New("storage: backend unavailable")
)

type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	// Set stores value under key. A zero ttl keeps the value until deleted.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	// Watch delivers the new value every time key is written. The channel is
	// closed when ctx is done.
	Watch(ctx context.Context, key string) (<-chan []byte, error)
	Ping(ctx context.Context) error
	Close() error
}

// Scoped prefixes every key of an underlying store. Closing a Scoped store
// does not close the underlying one.
type Scoped struct {
	store  Store
	prefix string
}

func Scope(store Store, prefix string) *Scoped {
	return &Scoped{store: store, prefix: prefix}
}

// VisitorScope scopes store to one visitor's keys. Every key it writes falls
// in the same partition, so per-visitor quotas apply to it as a whole.
func VisitorScope(store Store, visitorKey string) *Scoped {
	return Scope(store, visitorKeyspace+visitorKey+":")
}

// PartitionOf returns the quota partition of key: the visitor prefix for
// visitor keys, the first segment for other namespaced keys, and "" for
// keys without a namespace.
func PartitionOf(key string) string {
	if rest, ok := strings.CutPrefix(key, visitorKeyspace); ok {
		if i := strings.IndexByte(rest, ':'); i >= 0 {
			return key[:len(visitorKeyspace)+i+1]
		}
		return key
	}
	if i := strings.IndexByte(key, ':'); i >= 0 {
		return key[:i+1]
	}
	return ""
}

func (s *Scoped) Prefix() string { return s.prefix }

func (s *Scoped) Get(ctx context.Context, key string) ([]byte, error) {
	return s.store.Get(ctx, s.prefix+key)
}

func (s *Scoped) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return s.store.Set(ctx, s.prefix+key, value, ttl)
}

func (s *Scoped) Delete(ctx context.Context, key string) error {
	return s.store.Delete(ctx, s.prefix+key)
}

func (s *Scoped) Watch(ctx context.Context, key string) (<-chan []byte, error) {
	return s.store.Watch(ctx, s.prefix+key)
}

func (s *Scoped) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Scoped) Close() error { return nil }
