package domain_test

import (
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cacack/eventstore/internal/domain"
)

func TestNewTenantID(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"valid alnum", "tenant-1_A", false},
		{"empty", "", true},
		{"too long", strings.Repeat("a", 65), true},
		{"at limit", strings.Repeat("a", 64), false},
		{"invalid char", "tenant!", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := domain.NewTenantID(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				var derr *domain.Error
				require.ErrorAs(t, err, &derr)
				assert.Equal(t, domain.KindInvalidInput, derr.Kind)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.input, id.String())
		})
	}
}

func TestNewEntityID(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"valid", "user-42", false},
		{"empty", "", true},
		{"too long", strings.Repeat("x", 129), true},
		{"leading space", " user-42", true},
		{"trailing space", "user-42 ", true},
		{"all whitespace", "   ", true},
		{"control char", "user\x00-42", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := domain.NewEntityID(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.input, id.String())
		})
	}
}

func TestNewEventType(t *testing.T) {
	_, err := domain.NewEventType("")
	require.Error(t, err)

	et, err := domain.NewEventType("user.created")
	require.NoError(t, err)
	assert.Equal(t, "user.created", et.String())
}

func TestPartitionFromEntityID_Deterministic(t *testing.T) {
	p1 := domain.PartitionFromEntityID("entity-123", 32)
	p2 := domain.PartitionFromEntityID("entity-123", 32)
	assert.Equal(t, p1, p2)
}

func TestPartitionFromEntityID_Distribution(t *testing.T) {
	const partitionCount = 32
	counts := make(map[domain.PartitionKey]int)
	for i := 0; i < 1000; i++ {
		id := "entity-" + strconv.Itoa(i)
		p := domain.PartitionFromEntityID(id, partitionCount)
		counts[p]++
	}

	assert.Len(t, counts, partitionCount, "every partition should receive at least one entity")
	for p, c := range counts {
		assert.GreaterOrEqualf(t, c, 10, "partition %d has too few entities: %d", p, c)
		assert.LessOrEqualf(t, c, 60, "partition %d has too many entities: %d", p, c)
	}
}
