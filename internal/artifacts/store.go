// Package artifacts writes a benchmark run's output files (spec.md
// §6): inputs.json, profile_export.jsonl, profile_export_aiperf.json,
// profile_export_aiperf.csv, and the optional timeslice CSV/JSON.
//
// Store is adapted from the teacher's internal/artifacts/store.go
// FilesystemStore: same "ensure base dir, write under {baseDir}/{run}"
// shape, simplified from its {runID}/{artifactType}/{filename} layout
// (reports/telemetry/config subdirectories) down to this module's flat
// artifact_dir/<run_name>/<file> layout, since spec.md §6 names exactly
// five files rather than an open-ended artifact type taxonomy.
package artifacts

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Store writes named files under a single run directory.
type Store struct {
	baseDir string
	runName string
	mu      sync.Mutex
}

// NewStore creates a Store rooted at baseDir/runName, creating the
// directory if needed.
func NewStore(baseDir, runName string) (*Store, error) {
	if baseDir == "" {
		return nil, fmt.Errorf("artifacts: base directory cannot be empty")
	}
	if runName == "" {
		return nil, fmt.Errorf("artifacts: run name cannot be empty")
	}
	dir := filepath.Join(baseDir, runName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("artifacts: create run directory: %w", err)
	}
	return &Store{baseDir: baseDir, runName: runName}, nil
}

// Dir returns the run's artifact directory.
func (s *Store) Dir() string {
	return filepath.Join(s.baseDir, s.runName)
}

// Write stores one named file's full contents.
func (s *Store) Write(filename string, data []byte) (string, error) {
	if filepath.Base(filename) != filename {
		return "", fmt.Errorf("artifacts: filename %q cannot contain path separators", filename)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.Dir(), filename)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("artifacts: write %s: %w", filename, err)
	}
	return path, nil
}

// AppendWriter opens filename for sequential line-by-line appends
// (used for profile_export.jsonl, whose records are written as each
// one is sealed rather than buffered in memory).
func (s *Store) AppendWriter(filename string) (*os.File, error) {
	if filepath.Base(filename) != filename {
		return nil, fmt.Errorf("artifacts: filename %q cannot contain path separators", filename)
	}
	path := filepath.Join(s.Dir(), filename)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("artifacts: open %s: %w", filename, err)
	}
	return f, nil
}

// Read retrieves a previously written file's contents (used by tests).
func (s *Store) Read(filename string) ([]byte, error) {
	path := filepath.Join(s.Dir(), filename)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("artifacts: read %s: %w", filename, err)
	}
	return data, nil
}
