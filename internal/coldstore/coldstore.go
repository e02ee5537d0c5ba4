// Package coldstore provides batched, compressed, immutable columnar
// storage holding an archival copy of every committed event. Files are
// written atomically (tmp file, fsync, rename) so a reader never observes
// a partially written file.
package coldstore

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/cacack/eventstore/internal/domain"
)

// Config configures a Store.
type Config struct {
	Dir           string
	FlushBatch    int           // events buffered before a size-triggered flush
	FlushInterval time.Duration // max time an event waits before a time-triggered flush
}

// Store batches incoming events in memory and periodically flushes them
// to zstd-compressed, checksummed files under Dir. Each file holds one
// batch's events as newline-delimited JSON before compression.
type Store struct {
	cfg Config

	mu      sync.Mutex
	pending []domain.Event
	lastAt  time.Time

	stop chan struct{}
	done chan struct{}
}

// Open creates Dir if needed and starts the background flush timer.
func Open(cfg Config) (*Store, error) {
	if cfg.FlushBatch <= 0 {
		cfg.FlushBatch = 1000
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 30 * time.Second
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, domain.StorageError("create cold store dir", err)
	}
	s := &Store{
		cfg:    cfg,
		lastAt: time.Now(),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go s.flushLoop()
	return s, nil
}

// Add buffers event for the next flush. It flushes synchronously once the
// buffer reaches the configured batch size.
func (s *Store) Add(event domain.Event) error {
	s.mu.Lock()
	s.pending = append(s.pending, event)
	shouldFlush := len(s.pending) >= s.cfg.FlushBatch
	s.mu.Unlock()

	if shouldFlush {
		return s.Flush()
	}
	return nil
}

// Flush writes the current buffer to a new columnar file, if non-empty.
func (s *Store) Flush() error {
	s.mu.Lock()
	batch := s.pending
	s.pending = nil
	s.lastAt = time.Now()
	s.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}
	return writeBatch(s.cfg.Dir, batch)
}

func (s *Store) flushLoop() {
	defer close(s.done)
	interval := s.cfg.FlushInterval / 4
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.mu.Lock()
			due := len(s.pending) > 0 && time.Since(s.lastAt) >= s.cfg.FlushInterval
			s.mu.Unlock()
			if due {
				_ = s.Flush()
			}
		case <-s.stop:
			return
		}
	}
}

// Close stops the background flush timer and flushes any remaining
// buffered events.
func (s *Store) Close() error {
	close(s.stop)
	<-s.done
	return s.Flush()
}

// fileName returns a monotonically sortable name so Files() returns
// batches in write order.
func fileName(now time.Time) string {
	return fmt.Sprintf("%020d.cold", now.UnixNano())
}

// writeBatch compresses batch as newline-delimited JSON and writes it to
// Dir using a temp-file-then-rename so the file only ever appears fully
// formed. A sidecar .sha256 file records the checksum of the compressed
// bytes for the integrity verifier.
func writeBatch(dir string, batch []domain.Event) error {
	name := fileName(time.Now())
	finalPath := filepath.Join(dir, name)
	tmpPath := finalPath + ".tmp"

	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return domain.StorageError("create cold store tmp file", err)
	}

	hash := sha256.New()
	mw := io.MultiWriter(f, hash)
	bw := bufio.NewWriter(mw)

	enc, err := zstd.NewWriter(bw)
	if err != nil {
		f.Close()
		os.Remove(tmpPath)
		return domain.StorageError("create zstd encoder", err)
	}

	for _, event := range batch {
		line, err := json.Marshal(event)
		if err != nil {
			enc.Close()
			f.Close()
			os.Remove(tmpPath)
			return domain.InternalError("marshal cold store event: " + err.Error())
		}
		if _, err := enc.Write(line); err != nil {
			enc.Close()
			f.Close()
			os.Remove(tmpPath)
			return domain.StorageError("write cold store event", err)
		}
		if _, err := enc.Write([]byte("\n")); err != nil {
			enc.Close()
			f.Close()
			os.Remove(tmpPath)
			return domain.StorageError("write cold store delimiter", err)
		}
	}

	if err := enc.Close(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return domain.StorageError("close zstd encoder", err)
	}
	if err := bw.Flush(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return domain.StorageError("flush cold store writer", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return domain.StorageError("fsync cold store file", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return domain.StorageError("close cold store tmp file", err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return domain.StorageError("rename cold store file", err)
	}

	sumPath := finalPath + ".sha256"
	if err := os.WriteFile(sumPath, []byte(hex.EncodeToString(hash.Sum(nil))), 0o644); err != nil {
		return domain.StorageError("write cold store checksum sidecar", err)
	}
	return nil
}

// Files returns the cold-store file paths under dir in write order,
// excluding checksum sidecars and stray temp files.
func Files(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, domain.StorageError("list cold store files", err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if filepath.Ext(name) == ".cold" {
			files = append(files, filepath.Join(dir, name))
		}
	}
	sort.Strings(files)
	return files, nil
}

// VerifyChecksum recomputes the SHA-256 of path's compressed bytes and
// compares it to its .sha256 sidecar file.
func VerifyChecksum(path string) error {
	want, err := os.ReadFile(path + ".sha256")
	if err != nil {
		return domain.StorageError("read cold store checksum sidecar", err)
	}
	f, err := os.Open(path)
	if err != nil {
		return domain.StorageError("open cold store file", err)
	}
	defer f.Close()

	hash := sha256.New()
	if _, err := io.Copy(hash, f); err != nil {
		return domain.StorageError("hash cold store file", err)
	}
	got := hex.EncodeToString(hash.Sum(nil))
	if got != string(want) {
		return fmt.Errorf("coldstore: checksum mismatch for %s", path)
	}
	return nil
}

// Read decompresses and decodes every event in a cold-store file produced
// by writeBatch, calling fn for each in file order.
func Read(path string, fn func(domain.Event) error) error {
	f, err := os.Open(path)
	if err != nil {
		return domain.StorageError("open cold store file", err)
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return domain.StorageError("create zstd decoder", err)
	}
	defer dec.Close()

	scanner := bufio.NewScanner(dec)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		var event domain.Event
		if err := json.Unmarshal(scanner.Bytes(), &event); err != nil {
			return domain.StorageError("decode cold store event", err)
		}
		if err := fn(event); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return domain.StorageError("scan cold store file", err)
	}
	return nil
}
