package storage

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

func (e memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// MemoryStore is an in-process Store used for single-instance deployments
// and tests. The byte quota applies to each partition (see PartitionOf), so
// one visitor filling their share never blocks another.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	usage   map[string]int
	quota   int
	closed  bool
	changes *changeHub
	now     func() time.Time
}

// NewMemoryStore creates a store holding at most quota bytes of keys and
// values per partition; quota <= 0 means unlimited.
func NewMemoryStore(quota int) *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]memoryEntry),
		usage:   make(map[string]int),
		quota:   quota,
		changes: newChangeHub(),
		now:     time.Now,
	}
}

func (m *MemoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrUnavailable
	}

	entry, ok := m.entries[key]
	if !ok {
		return nil, ErrNotFound
	}
	if entry.expired(m.now()) {
		m.removeLocked(key)
		return nil, ErrNotFound
	}

	return append([]byte(nil), entry.value...), nil
}

func (m *MemoryStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrUnavailable
	}

	partition := PartitionOf(key)
	size := len(key) + len(value)
	previous := 0
	if old, ok := m.entries[key]; ok {
		previous = len(key) + len(old.value)
	}
	if m.quota > 0 && m.usage[partition]-previous+size > m.quota {
		// Expired entries still count until reclaimed; reclaim this
		// partition before refusing the write.
		m.sweepPartitionLocked(partition)
		if old, ok := m.entries[key]; ok {
			previous = len(key) + len(old.value)
		} else {
			previous = 0
		}
		if m.usage[partition]-previous+size > m.quota {
			return ErrQuotaExceeded
		}
	}

	entry := memoryEntry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		entry.expiresAt = m.now().Add(ttl)
	}
	m.entries[key] = entry
	m.usage[partition] += size - previous

	m.changes.publish(key, value)
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrUnavailable
	}
	m.removeLocked(key)
	return nil
}

func (m *MemoryStore) Watch(ctx context.Context, key string) (<-chan []byte, error) {
	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()

	if closed {
		return nil, ErrUnavailable
	}
	return m.changes.subscribe(ctx, key)
}

func (m *MemoryStore) Ping(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrUnavailable
	}
	return nil
}

// Close drops all data and closes every open watch channel.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true
	m.changes.close()
	m.entries = make(map[string]memoryEntry)
	m.usage = make(map[string]int)
	return nil
}

// Sweep removes every expired entry and returns how many were removed.
func (m *MemoryStore) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	removed := 0
	for key, entry := range m.entries {
		if entry.expired(now) {
			m.removeLocked(key)
			removed++
		}
	}
	return removed
}

// Run sweeps expired entries every interval until ctx is done.
func (m *MemoryStore) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep()
		}
	}
}

// Used returns the number of bytes held across all partitions.
func (m *MemoryStore) Used() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	total := 0
	for _, n := range m.usage {
		total += n
	}
	return total
}

// UsedBy returns the bytes counted against one partition's quota.
func (m *MemoryStore) UsedBy(partition string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.usage[partition]
}

func (m *MemoryStore) sweepPartitionLocked(partition string) {
	now := m.now()
	for key, entry := range m.entries {
		if entry.expired(now) && PartitionOf(key) == partition {
			m.removeLocked(key)
		}
	}
}

func (m *MemoryStore) removeLocked(key string) {
	entry, ok := m.entries[key]
	if !ok {
		return
	}
	partition := PartitionOf(key)
	m.usage[partition] -= len(key) + len(entry.value)
	if m.usage[partition] <= 0 {
		delete(m.usage, partition)
	}
	delete(m.entries, key)
}
