// Package sqlite provides a SQLite-backed SnapshotStore.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/cacack/eventstore/internal/domain"
	"github.com/cacack/eventstore/internal/projectionstore"
)

// SnapshotStore is a SQLite implementation of projectionstore.SnapshotStore.
type SnapshotStore struct {
	db *sql.DB
}

// OpenDB opens a SQLite database connection with recommended settings.
// The mattn/go-sqlite3 driver should be built with CGO_ENABLED=1.
func OpenDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)
	return db, nil
}

// NewSnapshotStore creates a new SQLite snapshot store, creating its
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
			id         TEXT NOT NULL,
			state      TEXT NOT NULL,
			version    INTEGER NOT NULL,
			timestamp  TEXT NOT NULL,
			created_at TEXT NOT NULL,
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
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (tenant_id, entity_id) DO UPDATE SET
			id = excluded.id,
			state = excluded.state,
			version = excluded.version,
			timestamp = excluded.timestamp,
			created_at = excluded.created_at
	`,
		string(snapshot.TenantID),
		string(snapshot.EntityID),
		snapshot.ID.String(),
		string(snapshot.State),
		snapshot.Version,
		formatTimestamp(snapshot.Timestamp),
		formatTimestamp(snapshot.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert snapshot: %w", err)
	}
	return nil
}

// Latest implements projectionstore.SnapshotStore.
func (s *SnapshotStore) Latest(ctx context.Context, tenantID domain.TenantID, entityID domain.EntityID) (*domain.Snapshot, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, state, version, timestamp, created_at
		FROM snapshots
		WHERE tenant_id = ? AND entity_id = ?
	`, string(tenantID), string(entityID))

	return scanSnapshot(row, tenantID, entityID)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSnapshot(row rowScanner, tenantID domain.TenantID, entityID domain.EntityID) (*domain.Snapshot, error) {
	var (
		idStr, state, timestampStr, createdAtStr string
		version                                  int64
	)
	if err := row.Scan(&idStr, &state, &version, &timestampStr, &createdAtStr); err != nil {
		if err == sql.ErrNoRows {
			return nil, projectionstore.ErrSnapshotNotFound
		}
		return nil, fmt.Errorf("scan snapshot: %w", err)
	}

	id, err := parseUUID(idStr)
	if err != nil {
		return nil, fmt.Errorf("parse snapshot id: %w", err)
	}
	timestamp, err := parseTimestamp(timestampStr)
	if err != nil {
		timestamp = time.Now().UTC()
	}
	createdAt, err := parseTimestamp(createdAtStr)
	if err != nil {
		createdAt = time.Now().UTC()
	}

	return &domain.Snapshot{
		ID:        id,
		TenantID:  tenantID,
		EntityID:  entityID,
		State:     []byte(state),
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
