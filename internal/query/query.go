// Package query provides read-side services over the event store: a
// filter-driven planner and entity-state reconstruction. Both are
// read-only — they never touch the stream repository's write path.
package query

import (
	"sort"
	"time"

	"github.com/cacack/eventstore/internal/domain"
	"github.com/cacack/eventstore/internal/index"
	"github.com/cacack/eventstore/internal/streamrepo"
)

// Request describes a query's filters. At least one of EntityID or
// EventType must be set, or Since and Until must both be set.
type Request struct {
	TenantID  domain.TenantID
	EntityID  *domain.EntityID
	EventType *domain.EventType
	AsOf      *time.Time
	Since     *time.Time
	Until     *time.Time
	Limit     int
}

// Planner answers Request queries by selecting one of a fixed set of
// access plans over the index and stream repository.
type Planner struct {
	index   *index.Index
	streams streamrepo.StreamReader
}

// NewPlanner creates a Planner over idx and streams.
func NewPlanner(idx *index.Index, streams streamrepo.StreamReader) *Planner {
	return &Planner{index: idx, streams: streams}
}

// Query selects a plan (first match wins), executes it, applies
// post-filters, sorts ascending by (timestamp, version, id), and
// truncates to req.Limit if set.
//
// Cold-store files hold a subset of what the stream repository already
// has in memory (every committed event is rehydrated from the WAL at
// startup), so the hot/cold merge is the degenerate union and the scans
// below read memory only; coldstore.Read serves archival consumers and
// the integrity verifier, not this path.
func (p *Planner) Query(req Request) ([]domain.Event, error) {
	var events []domain.Event

	switch {
	case req.EntityID != nil && req.AsOf != nil:
		events = p.scanEntityAsOf(req.TenantID, *req.EntityID, *req.AsOf)
	case req.EntityID != nil:
		events = p.scanEntity(req.TenantID, *req.EntityID)
	case req.EventType != nil:
		events = p.scanType(req.TenantID, *req.EventType)
	case req.Since != nil && req.Until != nil:
		events = p.scanTimeRange(req.TenantID, *req.Since, *req.Until)
	default:
		return nil, domain.InvalidInput("query requires at least one filter")
	}

	events = postFilter(events, req.Since, req.Until)

	sort.Slice(events, func(i, j int) bool {
		return lessEvent(events[i], events[j])
	})

	if req.Limit > 0 && len(events) > req.Limit {
		events = events[:req.Limit]
	}

	return events, nil
}

// scanEntity implements plan 2: a full scan of one entity's stream, read
// from the stream repository.
func (p *Planner) scanEntity(tenantID domain.TenantID, entityID domain.EntityID) []domain.Event {
	stream, ok := p.streams.LoadStream(tenantID, entityID)
	if !ok {
		return nil
	}
	out := make([]domain.Event, len(stream.Events))
	copy(out, stream.Events)
	return out
}

// scanEntityAsOf implements plan 1: replay one entity up to (and
// including) the last event at or before asOf.
func (p *Planner) scanEntityAsOf(tenantID domain.TenantID, entityID domain.EntityID, asOf time.Time) []domain.Event {
	all := p.scanEntity(tenantID, entityID)
	out := make([]domain.Event, 0, len(all))
	for _, e := range all {
		if !e.Timestamp.After(asOf) {
			out = append(out, e)
		}
	}
	return out
}

// scanType implements plan 3: the type-index scan, resolving each
// indexed entry back to its full event via the owning stream.
func (p *Planner) scanType(tenantID domain.TenantID, eventType domain.EventType) []domain.Event {
	entries := p.index.ByType(tenantID, eventType)
	out := make([]domain.Event, 0, len(entries))
	for _, entry := range entries {
		if event, ok := p.resolve(entry); ok {
			out = append(out, event)
		}
	}
	return out
}

// scanTimeRange implements plan 4: a scan bounded by [since, until],
// iterating every stream the tenant owns since no global time index is
// maintained. The result is unordered; Query sorts it.
func (p *Planner) scanTimeRange(tenantID domain.TenantID, since, until time.Time) []domain.Event {
	streams := p.streams.GetStreamsByTenant(tenantID)
	var out []domain.Event
	for _, stream := range streams {
		for _, e := range stream.Events {
			if !e.Timestamp.Before(since) && !e.Timestamp.After(until) {
				out = append(out, e)
			}
		}
	}
	return out
}

// resolve maps an index.Entry back to the full domain.Event held by its
// owning stream, using the invariant that position v-1 in a gapless
// stream holds version v.
func (p *Planner) resolve(entry index.Entry) (domain.Event, bool) {
	stream, ok := p.streams.LoadStream(entry.TenantID, entry.EntityID)
	if !ok {
		return domain.Event{}, false
	}
	idx := entry.Version - 1
	if idx < 0 || idx >= int64(len(stream.Events)) {
		return domain.Event{}, false
	}
	return stream.Events[idx], true
}

func postFilter(events []domain.Event, since, until *time.Time) []domain.Event {
	if since == nil && until == nil {
		return events
	}
	out := make([]domain.Event, 0, len(events))
	for _, e := range events {
		if since != nil && e.Timestamp.Before(*since) {
			continue
		}
		if until != nil && e.Timestamp.After(*until) {
			continue
		}
		out = append(out, e)
	}
	return out
}

func lessEvent(a, b domain.Event) bool {
	if !a.Timestamp.Equal(b.Timestamp) {
		return a.Timestamp.Before(b.Timestamp)
	}
	if a.Version != b.Version {
		return a.Version < b.Version
	}
	return a.ID.String() < b.ID.String()
}
