// Package integrity verifies stored data against its checksums: sealed
// WAL segments and cold-store files. It reports a result per path rather
// than failing fast, so callers can choose strict (any mismatch aborts
// startup) or lenient (mismatches are quarantined and surfaced as
// metrics) handling.
package integrity

import (
	"log"
	"sync"

	"github.com/cacack/eventstore/internal/coldstore"
	"github.com/cacack/eventstore/internal/wal"
)

// CheckResult is the outcome of verifying one stored path.
type CheckResult struct {
	Path     string
	Valid    bool
	Checksum string
	Err      error
}

// Report aggregates every check made by a single Verify call.
type Report struct {
	WAL         []CheckResult
	Cold        []CheckResult
	Mode        Mode
	Quarantined []string
}

// Mode selects how Verify reacts to a checksum mismatch.
type Mode int

const (
	// Strict fails the whole verification (and, by convention, process
	// startup) on the first mismatch.
	Strict Mode = iota
	// Lenient records the mismatch, quarantines the affected path, and
	// continues.
	Lenient
)

// Verifier checksum-verifies the WAL and cold-store directories.
type Verifier struct {
	walDir  string
	coldDir string

	mu          sync.Mutex
	quarantined map[string]bool
}

// New creates a Verifier over the given WAL and cold-store directories.
func New(walDir, coldDir string) *Verifier {
	return &Verifier{
		walDir:      walDir,
		coldDir:     coldDir,
		quarantined: make(map[string]bool),
	}
}

// Verify checksum-checks every sealed WAL segment and every cold-store
// file. In Strict mode, the first mismatch short-circuits with an error.
// In Lenient mode, every path is checked, mismatches are recorded in
// Report.Quarantined, and Verify itself never returns an error for a
// checksum mismatch (only for I/O failures listing the directories).
func (v *Verifier) Verify(mode Mode) (*Report, error) {
	report := &Report{Mode: mode}

	walChecks, err := wal.VerifySegments(v.walDir)
	if err != nil {
		return nil, err
	}
	for _, c := range walChecks {
		result := CheckResult{Path: c.Path, Valid: c.Valid, Checksum: c.Checksum, Err: c.Err}
		report.WAL = append(report.WAL, result)
		if !result.Valid {
			if mode == Strict {
				return report, result.Err
			}
			v.quarantine(result.Path)
			report.Quarantined = append(report.Quarantined, result.Path)
		}
	}

	coldFiles, err := coldstore.Files(v.coldDir)
	if err != nil {
		return nil, err
	}
	for _, path := range coldFiles {
		result := CheckResult{Path: path}
		if err := coldstore.VerifyChecksum(path); err != nil {
			result.Err = err
			result.Valid = false
		} else {
			result.Valid = true
		}
		report.Cold = append(report.Cold, result)

		if !result.Valid {
			if mode == Strict {
				return report, result.Err
			}
			v.quarantine(result.Path)
			report.Quarantined = append(report.Quarantined, result.Path)
		}
	}

	return report, nil
}

func (v *Verifier) quarantine(path string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.quarantined[path] {
		return
	}
	v.quarantined[path] = true
	log.Printf("integrity: quarantining %s after checksum mismatch", path)
}

// IsQuarantined reports whether path has been quarantined by a prior
// lenient Verify call.
func (v *Verifier) IsQuarantined(path string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.quarantined[path]
}

// QuarantineCount returns the number of currently quarantined paths, for
// metrics.
func (v *Verifier) QuarantineCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.quarantined)
}
