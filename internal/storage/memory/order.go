// Package memory implements in-process storage for order records.
package memory

import (
	"sync"

	"github.com/xenking/order-router/internal/domain/order"
)

var _ order.Store = (*OrderStore)(nil)

// OrderStore implements order.Store with one mutex per order id, so
// mutations of a single order are serialized while different orders never
// wait on each other. The outer lock only guards the index and is never held
// while an order is being mutated.
type OrderStore struct {
	mu      sync.RWMutex
	entries map[order.ID]*entry
}

// entry holds one order slot. A nil order marks an id that was touched by an
// Upsert that failed; it reads as absent.
type entry struct {
	mu    sync.Mutex
	order *order.Order
}

// NewOrderStore returns an empty store.
func NewOrderStore() *OrderStore {
	return &OrderStore{entries: make(map[order.ID]*entry)}
}

// Get returns a copy of the order with the given id.
func (s *OrderStore) Get(id order.ID) (order.Order, bool) {
	s.mu.RLock()
	e, ok := s.entries[id]
	s.mu.RUnlock()
	if !ok {
		return order.Order{}, false
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.order == nil {
		return order.Order{}, false
	}
	return e.order.Clone(), true
}

// Upsert replaces the order with the result of fn while holding the order's
// lock. fn must not call back into the store for the same id.
func (s *OrderStore) Upsert(id order.ID, fn func(cur *order.Order) (order.Order, error)) (order.Order, error) {
	e := s.slot(id)

	e.mu.Lock()
	defer e.mu.Unlock()

	var cur *order.Order
	if e.order != nil {
		c := e.order.Clone()
		cur = &c
	}

	next, err := fn(cur)
	if err != nil {
		return order.Order{}, err
	}
	next.ID = id
	e.order = &next
	return next.Clone(), nil
}

// Len returns the number of stored orders.
func (s *OrderStore) Len() int {
	s.mu.RLock()
	entries := make([]*entry, 0, len(s.entries))
	for _, e := range s.entries {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	n := 0
	for _, e := range entries {
		e.mu.Lock()
		if e.order != nil {
			n++
		}
		e.mu.Unlock()
	}
	return n
}

// slot returns the entry for id, creating it if needed.
func (s *OrderStore) slot(id order.ID) *entry {
	s.mu.RLock()
	e, ok := s.entries[id]
	s.mu.RUnlock()
	if ok {
		return e
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[id]; ok {
		return e
	}
	e = &entry{}
	s.entries[id] = e
	return e
}
