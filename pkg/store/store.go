// Package store is the registry of the data produced by the modules for one
// configuration. Items are looked up by name and carry a version counter that
// is bumped every time their content changes.
package store

import (
	"fmt"
	"sort"
	"sync"
)

// Cloner is implemented by values that must be deep copied when a store is
// cloned.
type Cloner interface {
	Clone() any
}

// Item is a named value of the store.
type Item struct {
	Name      string
	Value     any
	Version   int
	InRestart bool
}

// Store holds the items of a configuration. It is safe for concurrent use.
type Store struct {
	mu    sync.RWMutex
	items map[string]*Item
}

// New returns an empty store.
func New() *Store {
	return &Store{items: make(map[string]*Item)}
}

// Realise returns the value called name, creating it with create if it
// doesn't exist yet. The second result reports whether the item was created.
func Realise[T any](s *Store, name string, inRestart bool, create func() T) (T, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if it, ok := s.items[name]; ok {
		v, ok := it.Value.(T)
		if !ok {
			var zero T
			return zero, false, fmt.Errorf("item `%s` has type %T", name, it.Value)
		}
		it.InRestart = it.InRestart || inRestart
		return v, false, nil
	}

	v := create()
	s.items[name] = &Item{Name: name, Value: v, InRestart: inRestart}
	return v, true, nil
}

// Get returns the value called name with the expected type.
func Get[T any](s *Store, name string) (T, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var zero T
	it, ok := s.items[name]
	if !ok {
		return zero, false
	}
	v, ok := it.Value.(T)
	if !ok {
		return zero, false
	}
	return v, true
}

// Set stores value under name and bumps its version.
func (s *Store) Set(name string, value any, inRestart bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	it, ok := s.items[name]
	if !ok {
		s.items[name] = &Item{Name: name, Value: value, InRestart: inRestart}
		return
	}
	it.Value = value
	it.InRestart = it.InRestart || inRestart
	it.Version++
}

// SetItem stores a complete item, version included. Used when reading a
// restart file.
func (s *Store) SetItem(it Item) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[it.Name] = &it
}

// Value returns the raw value called name.
func (s *Store) Value(name string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	it, ok := s.items[name]
	if !ok {
		return nil, false
	}
	return it.Value, true
}

// Contains reports whether an item called name exists.
func (s *Store) Contains(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.items[name]
	return ok
}

// Version returns the version of the item called name, or -1.
func (s *Store) Version(name string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	it, ok := s.items[name]
	if !ok {
		return -1
	}
	return it.Version
}

// Bump increments the version of the item called name after its value was
// modified in place.
func (s *Store) Bump(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if it, ok := s.items[name]; ok {
		it.Version++
	}
}

// Names returns the sorted names of the items.
func (s *Store) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.items))
	for k := range s.items {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Items returns copies of the items flagged for the restart file, sorted by
// name.
func (s *Store) Items(restartOnly bool) []Item {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var list []Item
	for _, it := range s.items {
		if restartOnly && !it.InRestart {
			continue
		}
		list = append(list, *it)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Name < list[j].Name })
	return list
}

// Clone returns a deep copy of the store. Values implementing Cloner and
// float64 slices are copied, other values are shared.
func (s *Store) Clone() *Store {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c := New()
	for k, it := range s.items {
		cp := *it
		switch v := it.Value.(type) {
		case Cloner:
			cp.Value = v.Clone()
		case []float64:
			cp.Value = append([]float64(nil), v...)
		}
		c.items[k] = &cp
	}
	return c
}
