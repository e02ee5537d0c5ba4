// Package projection fans each durably committed event out to registered
// read-model observers in commit order, isolating any one observer's
// failure from the others and from the ingest call itself.
package projection

import (
	"log"
	"sync"

	"github.com/cacack/eventstore/internal/domain"
)

// Projection is a derived, incrementally-maintained view of events.
type Projection interface {
	// Name identifies the projection for stats and error reporting.
	Name() string
	// Process applies event to the projection's state. An error is
	// recorded but never unwinds the ingest that produced event.
	Process(event domain.Event) error
	// Clear discards all accumulated state, used by tests and by a
	// from-scratch rebuild.
	Clear()
}

// FailureStats tracks a projection's error count and most recent error,
// readable through Manager.Failures.
type FailureStats struct {
	Count     int
	LastError string
}

// Manager dispatches each accepted event to every registered projection,
// in registration order, on the same goroutine that committed the WAL
// record, so observers always see events in commit order.
type Manager struct {
	mu          sync.Mutex
	projections []Projection
	failures    map[string]*FailureStats
}

// NewManager creates an empty Manager.
func NewManager() *Manager {
	return &Manager{failures: make(map[string]*FailureStats)}
}

// Register adds p to the dispatch list. Registration order is dispatch
// order for every subsequent event.
func (m *Manager) Register(p Projection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.projections = append(m.projections, p)
	if _, ok := m.failures[p.Name()]; !ok {
		m.failures[p.Name()] = &FailureStats{}
	}
}

// Dispatch sends event to every registered projection. A projection
// returning an error is recorded in its FailureStats and logged; it does
// not stop dispatch to the remaining projections, and it never causes
// Dispatch itself to return an error — the event is already durable.
func (m *Manager) Dispatch(event domain.Event) {
	m.mu.Lock()
	projections := make([]Projection, len(m.projections))
	copy(projections, m.projections)
	m.mu.Unlock()

	for _, p := range projections {
		if err := p.Process(event); err != nil {
			m.recordFailure(p.Name(), err)
			log.Printf("projection %s failed on event %s: %v", p.Name(), event.ID, err)
		}
	}
}

func (m *Manager) recordFailure(name string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stats, ok := m.failures[name]
	if !ok {
		stats = &FailureStats{}
		m.failures[name] = stats
	}
	stats.Count++
	stats.LastError = err.Error()
}

// Failures returns a snapshot of every registered projection's failure
// stats, keyed by name.
func (m *Manager) Failures() map[string]FailureStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]FailureStats, len(m.failures))
	for name, stats := range m.failures {
		out[name] = *stats
	}
	return out
}

// Clear resets every registered projection's accumulated state.
func (m *Manager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.projections {
		p.Clear()
	}
}
