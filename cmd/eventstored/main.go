// Package main is the entry point for the event store core daemon.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/cacack/eventstore/internal/admin"
	"github.com/cacack/eventstore/internal/config"
	"github.com/cacack/eventstore/internal/core"
	"github.com/cacack/eventstore/internal/integrity"
	"github.com/cacack/eventstore/internal/projectionstore"
	"github.com/cacack/eventstore/internal/projectionstore/memory"
	"github.com/cacack/eventstore/internal/projectionstore/postgres"
	"github.com/cacack/eventstore/internal/projectionstore/sqlite"
)

// Build-time variables injected by goreleaser.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		runServer()
	case "verify":
		runVerify()
	case "version":
		fmt.Printf("eventstored %s (commit: %s, built: %s)\n", version, commit, date)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`eventstored - Multi-tenant event store core

Usage:
  eventstored <command>

Commands:
  serve     Start the ingestion/query engine and admin HTTP surface
  verify    Run the integrity verifier once and exit
  version   Show version information
  help      Show this help message

Environment Variables:
  STORAGE_DIR               Root directory for WAL and cold-store data (default: ./data)
  WAL_DIR, COLD_DIR         Override the WAL/cold-store subdirectories
  WAL_SYNC_POLICY           sync_on_write, interval, batch (default: sync_on_write)
  WAL_SEGMENT_SIZE          Bytes before a WAL segment rolls (default: 64MiB)
  COLD_FLUSH_BATCH          Events buffered before a columnar flush (default: 1000)
  COLD_FLUSH_INTERVAL       Seconds between time-based columnar flushes (default: 30)
  QUEUE_CAPACITY            Bounded ingestion queue capacity (default: 10000)
  PARTITION_COUNT           Entity-id hash partitions (default: 32)
  SNAPSHOT_EVENT_THRESHOLD  Events between auto-snapshots (default: 100)
  SNAPSHOT_AUTO             Whether to auto-snapshot (default: true)
  INTEGRITY_STRICT          Fail startup on checksum mismatch (default: false)
  DATABASE_URL              PostgreSQL connection string (optional, uses SQLite by default)
  SQLITE_PATH               SQLite database path (default: ./eventstore.db)
  PORT                      Admin HTTP server port (default: 8080)
  LOG_LEVEL, LOG_FORMAT     Logging level/format (default: info, text)`)
}

func openSnapshotStore(cfg *config.Config) (projectionstore.SnapshotStore, error) {
	switch {
	case cfg.UsePostgreSQL():
		db, err := postgres.OpenDB(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		return postgres.NewSnapshotStore(db)
	case cfg.SQLitePath != "":
		db, err := sqlite.OpenDB(cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		return sqlite.NewSnapshotStore(db)
	default:
		return memory.NewSnapshotStore(), nil
	}
}

func runServer() {
	cfg := config.Load()

	snapshots, err := openSnapshotStore(cfg)
	if err != nil {
		log.Fatalf("open snapshot store: %v", err)
	}

	engine, err := core.New(cfg, snapshots)
	if err != nil {
		log.Fatalf("open engine: %v", err)
	}

	log.Printf("Recovering from WAL at %s", cfg.WALDir)
	if err := engine.Recover(); err != nil {
		log.Fatalf("recover: %v", err)
	}

	if report, err := engine.Verify(integrityMode(cfg)); err != nil {
		log.Fatalf("integrity verification failed: %v", err)
	} else if len(report.Quarantined) > 0 {
		log.Printf("integrity: %d path(s) quarantined", len(report.Quarantined))
	}

	ctx, cancel := context.WithCancel(context.Background())
	engine.Start(ctx)

	adminServer := admin.NewServer(cfg, engine)

	log.Printf("Starting eventstored admin surface on port %d", cfg.Port)
	if cfg.UsePostgreSQL() {
		log.Printf("Snapshot store: PostgreSQL")
	} else {
		log.Printf("Snapshot store: SQLite (%s)", cfg.SQLitePath)
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Println("Shutting down eventstored...")
		cancel()
		if err := adminServer.Shutdown(); err != nil {
			log.Printf("Error during admin server shutdown: %v", err)
		}
		if err := engine.Close(); err != nil {
			log.Printf("Error closing engine: %v", err)
		}
		if err := snapshots.Close(); err != nil {
			log.Printf("Error closing snapshot store: %v", err)
		}
	}()

	if err := adminServer.Start(); err != nil {
		log.Printf("admin server stopped: %v", err)
	}
}

func runVerify() {
	cfg := config.Load()
	report, err := integrityVerifier(cfg)
	if err != nil {
		log.Fatalf("verify: %v", err)
	}
	fmt.Printf("WAL segments checked: %d, cold files checked: %d, quarantined: %d\n",
		len(report.WAL), len(report.Cold), len(report.Quarantined))
	for _, q := range report.Quarantined {
		fmt.Printf("  quarantined: %s\n", q)
	}
	if len(report.Quarantined) > 0 {
		os.Exit(1)
	}
}

func integrityVerifier(cfg *config.Config) (*integrity.Report, error) {
	verifier := integrity.New(cfg.WALDir, cfg.ColdDir)
	return verifier.Verify(integrityMode(cfg))
}

func integrityMode(cfg *config.Config) integrity.Mode {
	if cfg.IntegrityStrict {
		return integrity.Strict
	}
	return integrity.Lenient
}
