// Package postgres provides a PostgreSQL-backed SnapshotStore.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/cacack/eventstore/internal/domain"
	"github.com/cacack/eventstore/internal/projectionstore"
)

// SnapshotStore is a PostgreSQL implementation of projectionstore.SnapshotStore.
type SnapshotStore struct {
	db *sql.DB
}

// OpenDB opens a PostgreSQL database connection.
func OpenDB(connStr string) (*sql.DB, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	return db, nil
}

// NewSnapshotStore creates a new PostgreSQL snapshot store, creating its
// table if it doesn't exist.
func NewSnapshotStore(db *sql.DB) (*SnapshotStore, error) {
	store := &SnapshotStore{db: db}
	if err := store.createTables(); err != nil {
		return nil, fmt.Errorf("create tables: %w", err)
	}
	return store, nil
}

func (s *SnapshotStore) createTables() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS snapshots (
			tenant_id  TEXT NOT NULL,
			entity_id  TEXT NOT NULL,
			id         UUID NOT NULL,
			state      JSONB NOT NULL,
			version    BIGINT NOT NULL,
			timestamp  TIMESTAMPTZ NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (tenant_id, entity_id)
		);
	`)
	return err
}

// Save implements projectionstore.SnapshotStore. An existing snapshot
// for the same (tenant_id, entity_id) is replaced.
func (s *SnapshotStore) Save(ctx context.Context, snapshot *domain.Snapshot) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO snapshots (tenant_id, entity_id, id, state, version, timestamp, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (tenant_id, entity_id) DO UPDATE SET
			id = excluded.id,
			state = excluded.state,
			version = excluded.version,
			timestamp = excluded.timestamp,
			created_at = excluded.created_at
	`,
		string(snapshot.TenantID),
		string(snapshot.EntityID),
		snapshot.ID,
		[]byte(snapshot.State),
		snapshot.Version,
		snapshot.Timestamp,
		snapshot.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert snapshot: %w", err)
	}
	return nil
}

// Latest implements projectionstore.SnapshotStore.
func (s *SnapshotStore) Latest(ctx context.Context, tenantID domain.TenantID, entityID domain.EntityID) (*domain.Snapshot, error) {
	var (
		id        string
		state     []byte
		version   int64
		timestamp time.Time
		createdAt time.Time
	)

	err := s.db.QueryRowContext(ctx, `
		SELECT id, state, version, timestamp, created_at
		FROM snapshots
		WHERE tenant_id = $1 AND entity_id = $2
	`, string(tenantID), string(entityID)).Scan(&id, &state, &version, &timestamp, &createdAt)

	if err == sql.ErrNoRows {
		return nil, projectionstore.ErrSnapshotNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query snapshot: %w", err)
	}

	snapshotID, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("parse snapshot id: %w", err)
	}

	return &domain.Snapshot{
		ID:        snapshotID,
		TenantID:  tenantID,
		EntityID:  entityID,
		State:     state,
		Version:   version,
		Timestamp: timestamp,
		CreatedAt: createdAt,
	}, nil
}

// Close implements projectionstore.SnapshotStore.
func (s *SnapshotStore) Close() error {
	return s.db.Close()
}

var _ projectionstore.SnapshotStore = (*SnapshotStore)(nil)
