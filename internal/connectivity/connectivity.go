// Package connectivity answers "is the device online" and reports
// transitions. The sync queue asks point-in-time; the reconciliation
// loop subscribes to changes to trigger an immediate drain on the
// offline-to-online edge.
package connectivity

import (
	"context"
	"sync"
)

// Checker is the connectivity source contract.
type Checker interface {
	// IsOnline returns the point-in-time connectivity state. Callers
	// must not cache the answer across a drain pass.
	IsOnline(ctx context.Context) bool

	// OnChange registers a callback invoked with the new state on every
	// transition. Returns an unsubscribe function.
	OnChange(callback func(online bool)) (func(), error)
}

// Manual is a Checker flipped by explicit SetOnline calls. The daemon
// uses it when no platform source is configured; tests drive it
// directly.
type Manual struct {
	mu     sync.Mutex
	online bool
	subs   map[int]func(bool)
	nextID int
}

// NewManual creates a manual checker in the given initial state.
func NewManual(online bool) *Manual {
	return &Manual{online: online, subs: make(map[int]func(bool))}
}

// IsOnline returns the current state.
func (m *Manual) IsOnline(ctx context.Context) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// SetOnline updates the state, notifying subscribers on a transition.
func (m *Manual) SetOnline(online bool) {
	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return
	}
	m.online = online
	subs := make([]func(bool), 0, len(m.subs))
	for _, cb := range m.subs {
		subs = append(subs, cb)
	}
	m.mu.Unlock()

	for _, cb := range subs {
		cb(online)
	}
}

// OnChange registers a transition callback.
func (m *Manual) OnChange(callback func(bool)) (func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextID
	m.nextID++
	m.subs[id] = callback

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.subs, id)
	}, nil
}
