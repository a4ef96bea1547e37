package core

import (
	"slices"
	"sync"
)

// =============================================================================
// PartialResultStore
// =============================================================================

// PartialResultStore records the last successful output per step or task name.
// It uses sync.Map for concurrent-safe storage and may be shared by several
// chains. Entries never expire; the last write wins.
type PartialResultStore struct {
	data sync.Map // map[string]any
}

// NewPartialResultStore creates an empty store.
func NewPartialResultStore() *PartialResultStore {
	return &PartialResultStore{}
}

// Put stores result under name, replacing any previous value.
func (s *PartialResultStore) Put(name string, result any) {
	s.data.Store(name, result)
}

// Get returns the value stored under name.
func (s *PartialResultStore) Get(name string) (any, bool) {
	return s.data.Load(name)
}

// Delete removes the value stored under name.
func (s *PartialResultStore) Delete(name string) {
	s.data.Delete(name)
}

// Names returns the stored names in sorted order.
func (s *PartialResultStore) Names() []string {
	var names []string
	s.data.Range(func(key, value any) bool {
		names = append(names, key.(string))
		return true
	})
	slices.Sort(names)
	return names
}

// Len returns the number of stored entries.
func (s *PartialResultStore) Len() int {
	count := 0
	s.data.Range(func(key, value any) bool {
		count++
		return true
	})
	return count
}
