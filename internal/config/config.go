// Package config provides configuration loading and management.
package config

import (
	"os"
	"strconv"
	"strings"
)

// Config holds the application configuration.
type Config struct {
	// Storage layout
	StorageDir string // root directory for WAL segments and cold-store files
	WALDir     string // WAL segment directory (default: <StorageDir>/wal)
	ColdDir    string // cold columnar storage directory (default: <StorageDir>/cold)

	// WAL
	WALSyncPolicy  string // sync_on_write, interval, batch (default: sync_on_write)
	WALSyncMillis  int    // flush interval in ms, used when WALSyncPolicy is "interval"
	WALBatchSize   int    // writes per fsync, used when WALSyncPolicy is "batch"
	WALSegmentSize int64  // bytes before a WAL segment is rolled (default: 64MiB)

	// Cold storage
	ColdFlushBatch    int // events buffered before a columnar flush (default: 1000)
	ColdFlushInterval int // seconds between time-based columnar flushes (default: 30)

	// Ingestion
	QueueCapacity  int // bounded MPMC queue capacity (default: 10000)
	PartitionCount int // number of entity-id hash partitions (default: 32)
	WorkerCount    int // ingestion worker goroutines (default: 4)

	// Snapshots
	SnapshotEventThreshold int  // events since last snapshot before auto-snapshotting (default: 100)
	SnapshotAuto           bool // whether the core takes snapshots automatically

	// Integrity
	IntegrityStrict bool // fail startup on checksum mismatch instead of quarantining

	// Durable projection/snapshot store
	DatabaseURL string // PostgreSQL connection string (if set, uses PostgreSQL)
	SQLitePath  string // SQLite database path (default: ./eventstore.db)

	// Admin HTTP surface
	Port      int    // admin HTTP server port (default: 8080)
	LogLevel  string // Logging level: debug, info, warn, error (default: info)
	LogFormat string // Log format: text, json (default: text)
}

// Load reads configuration from environment variables.
func Load() *Config {
	storageDir := getEnvOrDefault("STORAGE_DIR", "./data")
	cfg := &Config{
		StorageDir: storageDir,
		WALDir:     getEnvOrDefault("WAL_DIR", storageDir+"/wal"),
		ColdDir:    getEnvOrDefault("COLD_DIR", storageDir+"/cold"),

		WALSyncPolicy:  getEnvOrDefault("WAL_SYNC_POLICY", "sync_on_write"),
		WALSyncMillis:  getEnvIntOrDefault("WAL_SYNC_MILLIS", 100),
		WALBatchSize:   getEnvIntOrDefault("WAL_BATCH_SIZE", 50),
		WALSegmentSize: getEnvInt64OrDefault("WAL_SEGMENT_SIZE", 64*1024*1024),

		ColdFlushBatch:    getEnvIntOrDefault("COLD_FLUSH_BATCH", 1000),
		ColdFlushInterval: getEnvIntOrDefault("COLD_FLUSH_INTERVAL", 30),

		QueueCapacity:  getEnvIntOrDefault("QUEUE_CAPACITY", 10000),
		PartitionCount: getEnvIntOrDefault("PARTITION_COUNT", 32),
		WorkerCount:    getEnvIntOrDefault("WORKER_COUNT", 4),

		SnapshotEventThreshold: getEnvIntOrDefault("SNAPSHOT_EVENT_THRESHOLD", 100),
		SnapshotAuto:           getEnvBoolOrDefault("SNAPSHOT_AUTO", true),

		IntegrityStrict: getEnvBoolOrDefault("INTEGRITY_STRICT", false),

		DatabaseURL: os.Getenv("DATABASE_URL"),
		SQLitePath:  getEnvOrDefault("SQLITE_PATH", "./eventstore.db"),

		Port:      getEnvIntOrDefault("PORT", 8080),
		LogLevel:  getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat: getEnvOrDefault("LOG_FORMAT", "text"),
	}
	return cfg
}

// UsePostgreSQL returns true if PostgreSQL should be used for the
// projection and snapshot store.
func (c *Config) UsePostgreSQL() bool {
	return c.DatabaseURL != ""
}

// getEnvOrDefault returns the environment variable value or a default.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBoolOrDefault returns the environment variable as bool or a default.
func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		switch strings.ToLower(value) {
		case "true", "1", "yes":
			return true
		case "false", "0", "no":
			return false
		}
	}
	return defaultValue
}

// getEnvIntOrDefault returns the environment variable as int or a default.
func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

// getEnvInt64OrDefault returns the environment variable as int64 or a default.
func getEnvInt64OrDefault(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}
