package projection

import (
	"sync"

	"github.com/cacack/eventstore/internal/domain"
)

// eventCounterKey scopes counts by tenant and event type.
type eventCounterKey struct {
	tenant    domain.TenantID
	eventType domain.EventType
}

// EventCounter is a built-in projection that maintains a per-(tenant,
// event_type) count of processed events.
type EventCounter struct {
	mu     sync.RWMutex
	counts map[eventCounterKey]uint64
}

// NewEventCounter creates an empty EventCounter projection.
func NewEventCounter() *EventCounter {
	return &EventCounter{counts: make(map[eventCounterKey]uint64)}
}

// Name implements Projection.
func (c *EventCounter) Name() string { return "event_counter" }

// Process implements Projection.
func (c *EventCounter) Process(event domain.Event) error {
	key := eventCounterKey{tenant: event.TenantID, eventType: event.EventType}
	c.mu.Lock()
	c.counts[key]++
	c.mu.Unlock()
	return nil
}

// Clear implements Projection.
func (c *EventCounter) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts = make(map[eventCounterKey]uint64)
}

// Count returns the number of events of eventType processed for tenantID.
func (c *EventCounter) Count(tenantID domain.TenantID, eventType domain.EventType) uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.counts[eventCounterKey{tenant: tenantID, eventType: eventType}]
}

// Total returns the total number of events processed across all tenants
// and types.
func (c *EventCounter) Total() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var total uint64
	for _, n := range c.counts {
		total += n
	}
	return total
}

// DistinctEventTypes returns the number of distinct event types seen
// across all tenants.
func (c *EventCounter) DistinctEventTypes() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	seen := make(map[domain.EventType]struct{})
	for key := range c.counts {
		seen[key.eventType] = struct{}{}
	}
	return len(seen)
}
