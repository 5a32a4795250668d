package channel

import (
	"sync"
)

// Subscriber is one connection attached to a channel.
type Subscriber interface {
	// ID uniquely identifies the connection for its lifetime.
	ID() string
	// Send queues msg for delivery. It must not block and must fail once
	// the subscriber is closed.
	Send(msg []byte) error
}

// members is the subscriber set of a single channel.
type members struct {
	mu  sync.RWMutex
	set map[string]Subscriber
}

// Registry maps channel names to their current subscribers. The set of
// channels is fixed at construction, so lookups take no registry-wide lock;
// each channel's member set has its own lock.
type Registry struct {
	channels map[Name]*members
}

// NewRegistry creates a registry for the given channels, or for Known when
// none are given.
func NewRegistry(names ...Name) *Registry {
	if len(names) == 0 {
		names = Known
	}
	r := &Registry{channels: make(map[Name]*members, len(names))}
	for _, n := range names {
		r.channels[n] = &members{set: make(map[string]Subscriber)}
	}
	return r
}

// Has reports whether name is a channel of this registry.
func (r *Registry) Has(name Name) bool {
	_, ok := r.channels[name]
	return ok
}

// Subscribe adds s to the channel. Subscribing the same connection twice
// keeps a single entry.
func (r *Registry) Subscribe(name Name, s Subscriber) error {
	m, ok := r.channels[name]
	if !ok {
		return &UnknownChannelError{Name: name}
	}

	m.mu.Lock()
	m.set[s.ID()] = s
	m.mu.Unlock()
	return nil
}

// Unsubscribe removes s from the channel. Once it returns, no snapshot taken
// by Members includes s.
func (r *Registry) Unsubscribe(name Name, s Subscriber) bool {
	m, ok := r.channels[name]
	if !ok {
		return false
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.set[s.ID()]; !ok {
		return false
	}
	delete(m.set, s.ID())
	return true
}

// Members returns a snapshot of the channel's subscribers. ok is false for an
// unknown channel.
func (r *Registry) Members(name Name) (subs []Subscriber, ok bool) {
	m, ok := r.channels[name]
	if !ok {
		return nil, false
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	subs = make([]Subscriber, 0, len(m.set))
	for _, s := range m.set {
		subs = append(subs, s)
	}
	return subs, true
}

// Count returns the number of subscribers on the channel.
func (r *Registry) Count(name Name) int {
	m, ok := r.channels[name]
	if !ok {
		return 0
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.set)
}
