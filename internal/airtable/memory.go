package airtable

import (
	"context"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// MemoryStore is a size-bounded in-process tier whose entries expire
// after a fixed TTL.
type MemoryStore struct {
	lru *expirable.LRU[string, []Record]
}

// NewMemoryStore creates a tier holding at most size entries for ttl.
func NewMemoryStore(size int, ttl time.Duration) *MemoryStore {
	if size <= 0 {
		size = 256
	}
	return &MemoryStore{lru: expirable.NewLRU[string, []Record](size, nil, ttl)}
}

func (m *MemoryStore) Get(_ context.Context, key string) ([]Record, bool, error) {
	records, ok := m.lru.Get(key)
	return records, ok, nil
}

func (m *MemoryStore) Set(_ context.Context, _, key string, records []Record) error {
	m.lru.Add(key, records)
	return nil
}

func (m *MemoryStore) InvalidateTable(_ context.Context, table string) error {
	prefix := table + ":"
	for _, key := range m.lru.Keys() {
		if strings.HasPrefix(key, prefix) && tableOf(key) == table {
			m.lru.Remove(key)
		}
	}
	return nil
}

// Len returns the number of live entries.
func (m *MemoryStore) Len() int {
	return m.lru.Len()
}
