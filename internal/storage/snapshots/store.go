// Package snapshots provides file-based storage for saving and restoring
// named sketches.
package snapshots

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fidde/simple_hll/pkg/models"
)

// Default configuration values
const (
	DefaultDir             = "./data/snapshots"
	DefaultMaxSnapshotSize = 16 * 1024 * 1024 // 16MB
	DefaultMaxSnapshots    = 100
	FileExtension          = ".json.gz"
	CurrentVersion         = 1
)

// Config contains snapshot storage configuration.
type Config struct {
	// Dir is the directory where snapshots are stored
	Dir string

	// MaxSnapshotSize is the maximum size of a single serialized snapshot in bytes
	MaxSnapshotSize int64

	// MaxSnapshots is the maximum number of snapshots to keep
	MaxSnapshots int
}

// DefaultConfig returns the default snapshot storage configuration.
func DefaultConfig() Config {
	return Config{
		Dir:             DefaultDir,
		MaxSnapshotSize: DefaultMaxSnapshotSize,
		MaxSnapshots:    DefaultMaxSnapshots,
	}
}

// Store is a file-based snapshot storage.
type Store struct {
	config Config
	mu     sync.RWMutex
}

// New creates a new snapshot store, creating its directory if needed.
func New(config Config) (*Store, error) {
	if config.Dir == "" {
		config.Dir = DefaultDir
	}
	if config.MaxSnapshotSize <= 0 {
		config.MaxSnapshotSize = DefaultMaxSnapshotSize
	}
	if config.MaxSnapshots <= 0 {
		config.MaxSnapshots = DefaultMaxSnapshots
	}

	if err := os.MkdirAll(config.Dir, 0755); err != nil {
		return nil, fmt.Errorf("creating snapshot directory: %w", err)
	}

	return &Store{config: config}, nil
}

// Save writes a snapshot to disk, replacing an existing one of the same name.
func (s *Store) Save(ctx context.Context, snap *models.Snapshot) error {
	if snap == nil {
		return errors.New("snapshot cannot be nil")
	}
	if snap.Sketch == nil {
		return errors.New("snapshot has no sketch")
	}
	if err := models.ValidateName(snap.Name); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	exists, err := fileExists(s.path(snap.Name))
	if err != nil {
		return err
	}
	if !exists {
		count, err := s.countLocked()
		if err != nil {
			return fmt.Errorf("listing snapshots: %w", err)
		}
		if count >= s.config.MaxSnapshots {
			return models.ErrTooManySnapshots
		}
	}

	snap.Version = CurrentVersion
	if snap.Created.IsZero() {
		snap.Created = time.Now().UTC()
	}

	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshaling snapshot: %w", err)
	}

	if int64(len(data)) > s.config.MaxSnapshotSize {
		return models.ErrSnapshotTooLarge
	}

	if err := writeGzip(s.path(snap.Name), data); err != nil {
		return fmt.Errorf("writing snapshot file: %w", err)
	}

	return nil
}

// Load reads a snapshot from disk.
func (s *Store) Load(ctx context.Context, name string) (*models.Snapshot, error) {
	if err := models.ValidateName(name); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.loadLocked(name)
}

func (s *Store) loadLocked(name string) (*models.Snapshot, error) {
	data, err := readGzip(s.path(name))
	if errors.Is(err, os.ErrNotExist) {
		return nil, models.ErrSnapshotNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading snapshot file: %w", err)
	}

	var snap models.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshaling snapshot: %w", err)
	}
	if snap.Version > CurrentVersion {
		return nil, fmt.Errorf("snapshot %s has version %d, newest supported is %d", name, snap.Version, CurrentVersion)
	}

	return &snap, nil
}

// Delete removes a snapshot from disk.
func (s *Store) Delete(ctx context.Context, name string) error {
	if err := models.ValidateName(name); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.path(name))
	if errors.Is(err, os.ErrNotExist) {
		return models.ErrSnapshotNotFound
	}
	if err != nil {
		return fmt.Errorf("removing snapshot file: %w", err)
	}

	return nil
}

// List returns metadata for all saved snapshots, newest first.
func (s *Store) List(ctx context.Context) ([]*models.SnapshotMetadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := s.entriesLocked()
	if err != nil {
		return nil, err
	}

	var out []*models.SnapshotMetadata
	for _, entry := range entries {
		name := strings.TrimSuffix(entry.Name(), FileExtension)

		info, err := entry.Info()
		if err != nil {
			continue // Skip files we can't stat
		}

		snap, err := s.loadLocked(name)
		if err != nil {
			continue // Skip corrupted files
		}

		out = append(out, &models.SnapshotMetadata{
			Name:        name,
			Description: snap.Description,
			Created:     snap.Created,
			SizeBytes:   info.Size(),
			Cardinality: snap.Cardinality,
		})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Created.Equal(out[j].Created) {
			return out[i].Name < out[j].Name
		}
		return out[i].Created.After(out[j].Created)
	})

	return out, nil
}

func (s *Store) path(name string) string {
	return filepath.Join(s.config.Dir, name+FileExtension)
}

func (s *Store) entriesLocked() ([]os.DirEntry, error) {
	entries, err := os.ReadDir(s.config.Dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading snapshot directory: %w", err)
	}

	out := entries[:0]
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), FileExtension) {
			continue
		}
		if models.ValidateName(strings.TrimSuffix(entry.Name(), FileExtension)) != nil {
			continue
		}
		out = append(out, entry)
	}
	return out, nil
}

func (s *Store) countLocked() (int, error) {
	entries, err := s.entriesLocked()
	return len(entries), err
}

func fileExists(path string) (bool, error) {
	_, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("stat snapshot file: %w", err)
	}
	return true, nil
}

// writeGzip writes data to a gzip-compressed file. The file is written next
// to its destination and renamed, so readers never see a partial snapshot.
func writeGzip(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".snapshot-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	gw := gzip.NewWriter(tmp)
	if _, err := gw.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := gw.Close(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	return os.Rename(tmp.Name(), path)
}

// readGzip reads data from a gzip-compressed file.
func readGzip(path string) ([]byte, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	gr, err := gzip.NewReader(file)
	if err != nil {
		return nil, err
	}
	defer gr.Close()

	return io.ReadAll(gr)
}
