package domain

import (
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"
)

const (
	maxTenantIDLen = 64
	maxEntityIDLen = 128
	maxEventType   = 128

	// DefaultPartitionCount is used when a caller does not configure one.
	DefaultPartitionCount = 32
)

// TenantID is a validated tenant identifier: 1-64 chars of
// [A-Za-z0-9_-]. Equality and hashing are by the contained string.
type TenantID string

// NewTenantID validates s and returns it as a TenantID.
func NewTenantID(s string) (TenantID, error) {
	if s == "" {
		return "", InvalidInput("tenant_id must not be empty")
	}
	if len(s) > maxTenantIDLen {
		return "", InvalidInput("tenant_id exceeds 64 characters")
	}
	for _, r := range s {
		if !isTenantChar(r) {
			return "", InvalidInput("tenant_id contains invalid character")
		}
	}
	return TenantID(s), nil
}

func isTenantChar(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z':
		return true
	case r >= 'A' && r <= 'Z':
		return true
	case r >= '0' && r <= '9':
		return true
	case r == '-' || r == '_':
		return true
	default:
		return false
	}
}

func (t TenantID) String() string { return string(t) }

// EntityID is a validated entity identifier: 1-128 visible chars, no
// leading/trailing whitespace, no control characters.
type EntityID string

// NewEntityID validates s and returns it as an EntityID.
func NewEntityID(s string) (EntityID, error) {
	if s == "" {
		return "", InvalidInput("entity_id must not be empty")
	}
	if len(s) > maxEntityIDLen {
		return "", InvalidInput("entity_id exceeds 128 characters")
	}
	if strings.TrimSpace(s) == "" {
		return "", InvalidInput("entity_id must not be all whitespace")
	}
	if s != strings.TrimSpace(s) {
		return "", InvalidInput("entity_id must not have leading or trailing whitespace")
	}
	for _, r := range s {
		if unicode.IsControl(r) {
			return "", InvalidInput("entity_id must not contain control characters")
		}
	}
	return EntityID(s), nil
}

func (e EntityID) String() string { return string(e) }

// EventType is a validated, short event-type tag such as "user.created".
type EventType string

// NewEventType validates s and returns it as an EventType.
func NewEventType(s string) (EventType, error) {
	if s == "" {
		return "", InvalidInput("event_type must not be empty")
	}
	if len(s) > maxEventType {
		return "", InvalidInput("event_type exceeds 128 characters")
	}
	return EventType(s), nil
}

func (t EventType) String() string { return string(t) }

// PartitionKey is one of a fixed number of buckets assigned to an entity
// by a stable, non-cryptographic hash of its entity id.
type PartitionKey int

// PartitionFromEntityID derives the partition for entityID under
// partitionCount using xxhash, a stable 64-bit non-cryptographic hash:
// identical (entityID, partitionCount) always yields the same partition,
// across processes and runs.
func PartitionFromEntityID(entityID string, partitionCount int) PartitionKey {
	if partitionCount <= 0 {
		partitionCount = DefaultPartitionCount
	}
	h := xxhash.Sum64String(entityID)
	return PartitionKey(h % uint64(partitionCount))
}
