// Package registry keeps named HyperLogLog sketches in memory.
//
// Every sketch has its own lock, so concurrent producers feeding the same
// sketch are serialized while different sketches proceed independently.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/fidde/simple_hll/internal/storage/snapshots"
	"github.com/fidde/simple_hll/pkg/hashing"
	"github.com/fidde/simple_hll/pkg/hyperloglog"
	"github.com/fidde/simple_hll/pkg/models"
)

// ErrSnapshotsDisabled is returned by Snapshot and Restore when the registry
// has no snapshot store.
var ErrSnapshotsDisabled = errors.New("snapshots are disabled")

type entry struct {
	mu     sync.Mutex
	sketch *hyperloglog.HyperLogLog
	added  uint64
}

func (e *entry) info(name string) *models.SketchInfo {
	return &models.SketchInfo{
		Name:        name,
		Precision:   e.sketch.Precision(),
		HashBits:    e.sketch.HashBits(),
		Buckets:     e.sketch.Buckets(),
		Added:       e.added,
		Cardinality: e.sketch.Cardinality(),
		MemoryBytes: e.sketch.MemorySize(),
	}
}

// Registry is a concurrency-safe set of named sketches.
type Registry struct {
	mu        sync.RWMutex
	sketches  map[string]*entry
	snapshots *snapshots.Store
	logger    *slog.Logger
}

// New creates an empty registry. snaps may be nil, which disables
// Snapshot and Restore.
func New(snaps *snapshots.Store, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Registry{
		sketches:  make(map[string]*entry),
		snapshots: snaps,
		logger:    logger,
	}
}

func (r *Registry) lookup(name string) (*entry, error) {
	r.mu.RLock()
	e, ok := r.sketches[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", models.ErrSketchNotFound, name)
	}
	return e, nil
}

func (r *Registry) insert(name string, e *entry, replace bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sketches[name]; ok && !replace {
		return fmt.Errorf("%w: %s", models.ErrSketchExists, name)
	}
	r.sketches[name] = e
	return nil
}

// Create registers an empty sketch over 31-bit hashes.
func (r *Registry) Create(name string, precision uint8) (*models.SketchInfo, error) {
	if err := models.ValidateName(name); err != nil {
		return nil, err
	}

	sketch, err := hyperloglog.New(precision)
	if err != nil {
		return nil, err
	}

	e := &entry{sketch: sketch}
	if err := r.insert(name, e, false); err != nil {
		return nil, err
	}

	r.logger.Debug("sketch created", "name", name, "precision", precision)
	return e.info(name), nil
}

// Get describes a sketch.
func (r *Registry) Get(name string) (*models.SketchInfo, error) {
	e, err := r.lookup(name)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.info(name), nil
}

// Add records pre-hashed values. The batch is applied atomically: if any
// hash is zero within the sketch's domain nothing is added.
func (r *Registry) Add(name string, hashes []uint64) (*models.SketchInfo, error) {
	e, err := r.lookup(name)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	for i, h := range hashes {
		if e.sketch.IsZeroHash(h) {
			return nil, fmt.Errorf("hash %d: %w", i, hyperloglog.ErrZeroHash)
		}
	}

	for _, h := range hashes {
		if err := e.sketch.Add(h); err != nil {
			return nil, err
		}
	}
	e.added += uint64(len(hashes))

	return e.info(name), nil
}

// AddValues hashes values with hasher and records them. Nil values are
// skipped. A nil hasher selects hashing.Default.
func (r *Registry) AddValues(name string, values []any, hasher hashing.Hasher) (*models.SketchInfo, error) {
	if hasher == nil {
		hasher = hashing.Default()
	}

	hashes := make([]uint64, 0, len(values))
	for i, v := range values {
		if v == nil {
			continue
		}
		h, err := hashing.Value(hasher, v)
		if err != nil {
			return nil, fmt.Errorf("value %d: %w", i, err)
		}
		hashes = append(hashes, h)
	}

	return r.Add(name, hashes)
}

// Cardinality returns the estimate with its intermediate values.
func (r *Registry) Cardinality(name string) (hyperloglog.Estimate, error) {
	e, err := r.lookup(name)
	if err != nil {
		return hyperloglog.Estimate{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sketch.Estimate(), nil
}

// Merge folds src into dst. src is left unchanged.
func (r *Registry) Merge(dst, src string) (*models.SketchInfo, error) {
	target, err := r.lookup(dst)
	if err != nil {
		return nil, err
	}
	source, err := r.lookup(src)
	if err != nil {
		return nil, err
	}
	if target == source {
		return r.Get(dst)
	}

	// Copy the source first so the two locks are never held together.
	source.mu.Lock()
	other := source.sketch.Clone()
	added := source.added
	source.mu.Unlock()

	target.mu.Lock()
	defer target.mu.Unlock()

	if err := target.sketch.Merge(other); err != nil {
		return nil, fmt.Errorf("merging %s into %s: %w", src, dst, err)
	}
	target.added += added

	return target.info(dst), nil
}

// Delete removes a sketch.
func (r *Registry) Delete(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sketches[name]; !ok {
		return fmt.Errorf("%w: %s", models.ErrSketchNotFound, name)
	}
	delete(r.sketches, name)
	return nil
}

// List describes all sketches, ordered by name.
func (r *Registry) List() []*models.SketchInfo {
	r.mu.RLock()
	names := make([]string, 0, len(r.sketches))
	entries := make(map[string]*entry, len(r.sketches))
	for name, e := range r.sketches {
		names = append(names, name)
		entries[name] = e
	}
	r.mu.RUnlock()

	sort.Strings(names)

	out := make([]*models.SketchInfo, 0, len(names))
	for _, name := range names {
		e := entries[name]
		e.mu.Lock()
		out = append(out, e.info(name))
		e.mu.Unlock()
	}
	return out
}

// Export returns the binary encoding of a sketch.
func (r *Registry) Export(name string) ([]byte, error) {
	e, err := r.lookup(name)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sketch.MarshalBinary()
}

// Import registers a sketch from its binary encoding.
func (r *Registry) Import(name string, data []byte) (*models.SketchInfo, error) {
	if err := models.ValidateName(name); err != nil {
		return nil, err
	}

	sketch, err := hyperloglog.FromBytes(data)
	if err != nil {
		return nil, err
	}

	e := &entry{sketch: sketch}
	if err := r.insert(name, e, false); err != nil {
		return nil, err
	}
	return e.info(name), nil
}

// Snapshot persists a sketch under its own name.
func (r *Registry) Snapshot(ctx context.Context, name, description string) (*models.SnapshotMetadata, error) {
	if r.snapshots == nil {
		return nil, ErrSnapshotsDisabled
	}

	e, err := r.lookup(name)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	serialized, err := models.MarshalHLL(e.sketch)
	snap := &models.Snapshot{
		Name:        name,
		Description: description,
		Added:       e.added,
		Cardinality: e.sketch.Cardinality(),
		Sketch:      serialized,
	}
	e.mu.Unlock()
	if err != nil {
		return nil, err
	}

	if err := r.snapshots.Save(ctx, snap); err != nil {
		return nil, err
	}

	r.logger.Info("sketch snapshot saved", "name", name, "cardinality", snap.Cardinality)
	return &models.SnapshotMetadata{
		Name:        snap.Name,
		Description: snap.Description,
		Created:     snap.Created,
		Cardinality: snap.Cardinality,
	}, nil
}

// Restore replaces (or creates) a sketch from its saved snapshot.
func (r *Registry) Restore(ctx context.Context, name string) (*models.SketchInfo, error) {
	if r.snapshots == nil {
		return nil, ErrSnapshotsDisabled
	}

	snap, err := r.snapshots.Load(ctx, name)
	if err != nil {
		return nil, err
	}

	sketch, err := models.UnmarshalHLL(snap.Sketch)
	if err != nil {
		return nil, fmt.Errorf("decoding snapshot %s: %w", name, err)
	}
	if sketch == nil {
		return nil, fmt.Errorf("snapshot %s: %w", name, hyperloglog.ErrInvalidData)
	}

	e := &entry{sketch: sketch, added: snap.Added}
	if err := r.insert(name, e, true); err != nil {
		return nil, err
	}

	r.logger.Info("sketch restored", "name", name, "cardinality", sketch.Cardinality())
	return e.info(name), nil
}

// Snapshots lists saved snapshots.
func (r *Registry) Snapshots(ctx context.Context) ([]*models.SnapshotMetadata, error) {
	if r.snapshots == nil {
		return nil, ErrSnapshotsDisabled
	}
	return r.snapshots.List(ctx)
}
