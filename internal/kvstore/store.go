// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package kvstore provides the flat string key-value store the cache layer
// persists into. The store is synchronous, has no transactions and no native
// namespacing; callers that need grouping build it into their keys.
package kvstore

import (
	"errors"
	"sort"
	"sync"
)

// ErrQuotaExceeded is returned by Set when a write would push the store past
// its configured size limit.
var ErrQuotaExceeded = errors.New("kvstore: quota exceeded")

// Store is a synchronous string key-value store with a size limit.
type Store interface {
	// Get returns the value for key and whether it was present.
	Get(key string) (string, bool)

	// Set writes key to value. It may fail with ErrQuotaExceeded.
	Set(key, value string) error

	// Delete removes key. Deleting an absent key is a no-op.
	Delete(key string)

	// Keys returns all stored keys in lexical order.
	Keys() []string

	// Len returns the number of stored entries.
	Len() int
}

// =============================================================================
// MEMORY STORE
// =============================================================================

// MemoryStore is a map-backed Store. The zero value is not usable; use
// NewMemoryStore.
type MemoryStore struct {
	mu       sync.RWMutex
	data     map[string]string
	maxBytes int64
	size     int64
}

// NewMemoryStore creates an in-memory store. maxBytes <= 0 means unlimited.
func NewMemoryStore(maxBytes int64) *MemoryStore {
	return &MemoryStore{
		data:     make(map[string]string),
		maxBytes: maxBytes,
	}
}

// Get returns the value for key.
func (s *MemoryStore) Get(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[key]
	return v, ok
}

// Set writes key to value, enforcing the byte quota.
func (s *MemoryStore) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delta := int64(len(key) + len(value))
	if old, ok := s.data[key]; ok {
		delta -= int64(len(key) + len(old))
	}
	if s.maxBytes > 0 && s.size+delta > s.maxBytes {
		return ErrQuotaExceeded
	}

	s.data[key] = value
	s.size += delta
	return nil
}

// Delete removes key.
func (s *MemoryStore) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.data[key]; ok {
		s.size -= int64(len(key) + len(old))
		delete(s.data, key)
	}
}

// Keys returns all keys in lexical order.
func (s *MemoryStore) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.data))
	for k := range s.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Len returns the number of stored entries.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}
