package agents

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// PhaseMin and PhaseMax bound the phase file numbering.
const (
	PhaseMin = 1
	PhaseMax = 4
)

type cacheEntry struct {
	modTime time.Time
	records []Record
}

// Store reads and writes the phase YAML files. Reads are cached keyed by
// (path, mtime) so repeated lookups during a task don't reparse; a save or
// an explicit ClearCache invalidates.
type Store struct {
	dir    string
	logger *slog.Logger

	mu    sync.Mutex
	cache map[string]cacheEntry
}

// NewStore creates a record store over the given config directory.
func NewStore(dir string) *Store {
	return &Store{
		dir:    dir,
		logger: slog.Default().With("component", "agents"),
		cache:  make(map[string]cacheEntry),
	}
}

// Dir returns the configured directory.
func (s *Store) Dir() string { return s.dir }

// Path returns the file path for a phase.
func (s *Store) Path(phase int) string {
	return filepath.Join(s.dir, fmt.Sprintf("phase%d_agents_config.yaml", phase))
}

// Phase loads one phase file. A missing file is not an error: it returns
// no records and exists=false so the API can report it.
func (s *Store) Phase(phase int) ([]Record, bool, error) {
	if phase < PhaseMin || phase > PhaseMax {
		return nil, false, invalid("", "phase", "must be within [%d, %d]", PhaseMin, PhaseMax)
	}
	return s.load(s.Path(phase))
}

// Records returns the analyst records of phase 1, the set the graph
// controller enumerates.
func (s *Store) Records() ([]Record, error) {
	records, _, err := s.Phase(PhaseMin)
	return records, err
}

func (s *Store) load(path string) ([]Record, bool, error) {
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("stat %s: %w", path, err)
	}

	s.mu.Lock()
	if entry, ok := s.cache[path]; ok && entry.modTime.Equal(info.ModTime()) {
		records := entry.records
		s.mu.Unlock()
		return records, true, nil
	}
	s.mu.Unlock()

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, false, fmt.Errorf("read %s: %w", path, err)
	}
	var file PhaseFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, false, fmt.Errorf("parse %s: %w", path, err)
	}

	s.mu.Lock()
	s.cache[path] = cacheEntry{modTime: info.ModTime(), records: file.CustomModes}
	s.mu.Unlock()

	return file.CustomModes, true, nil
}

// Find looks a record up by slug, derived internal key, or display name.
// Returns nil when no record matches.
func (s *Store) Find(phase int, key string) (*Record, error) {
	records, _, err := s.Phase(phase)
	if err != nil {
		return nil, err
	}
	key = strings.TrimSpace(key)
	for i := range records {
		r := &records[i]
		if r.Slug == key || r.InternalKey() == key || r.Name == key {
			return r, nil
		}
	}
	return nil, nil
}

// SlugByName resolves a display name back to its slug, "" when unknown.
func (s *Store) SlugByName(phase int, name string) (string, error) {
	records, _, err := s.Phase(phase)
	if err != nil {
		return "", err
	}
	for _, r := range records {
		if r.Name == name {
			return r.Slug, nil
		}
	}
	return "", nil
}

// Save validates, normalizes, and atomically overwrites one phase file,
// then drops the record cache so the next load sees the new set. The
// normalized records are returned for the API response.
func (s *Store) Save(phase int, records []Record) ([]Record, error) {
	if phase < PhaseMin || phase > PhaseMax {
		return nil, invalid("", "phase", "must be within [%d, %d]", PhaseMin, PhaseMax)
	}
	if err := Validate(records); err != nil {
		return nil, err
	}
	normalized := Normalize(records)

	raw, err := yaml.Marshal(PhaseFile{CustomModes: normalized})
	if err != nil {
		return nil, fmt.Errorf("encode phase %d records: %w", phase, err)
	}

	path := s.Path(phase)

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create config dir: %w", err)
	}
	// Write-then-rename keeps a concurrent reader from seeing a torn file.
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return nil, fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return nil, fmt.Errorf("replace %s: %w", path, err)
	}

	for k := range s.cache {
		delete(s.cache, k)
	}
	s.logger.Info("Agent records saved", "phase", phase, "count", len(normalized))

	return normalized, nil
}

// ClearCache drops all cached phase files; the next read reparses.
func (s *Store) ClearCache() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k := range s.cache {
		delete(s.cache, k)
	}
}
