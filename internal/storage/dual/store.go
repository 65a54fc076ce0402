// Package dual mirrors dataset writes into a second backend, for comparing
// backends or migrating between them.
package dual

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/fidde/simple_hll/internal/storage"
	"github.com/fidde/simple_hll/pkg/models"
)

// Store wraps two storage backends for dual-write migration.
// Writes go to both primary and secondary.
// Reads come from primary only.
type Store struct {
	primary   storage.Storage
	secondary storage.Storage
	logger    *slog.Logger
}

// Config holds dual store configuration.
type Config struct {
	Primary   storage.Storage
	Secondary storage.Storage
	Logger    *slog.Logger
}

// New creates a new dual-write store.
func New(cfg Config) *Store {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Store{
		primary:   cfg.Primary,
		secondary: cfg.Secondary,
		logger:    cfg.Logger,
	}
}

// Secondary exposes the mirror, for comparing counts across backends.
func (s *Store) Secondary() storage.Storage {
	return s.secondary
}

// dualWrite performs a write to both backends.
// Errors from secondary are logged but don't fail the operation. The
// secondary write runs after the primary one returns, on the caller's
// goroutine, so batches are never shared with a write still in flight.
func (s *Store) dualWrite(op string, primaryWrite, secondaryWrite func() error) error {
	// Write to primary (this determines success/failure)
	if err := primaryWrite(); err != nil {
		return err
	}

	if err := secondaryWrite(); err != nil {
		s.logger.Error("dual-write to secondary failed",
			"operation", op,
			"error", err,
		)
	}

	return nil
}

// StoreGroup stores a group in both backends.
func (s *Store) StoreGroup(ctx context.Context, group *models.Group) error {
	return s.dualWrite("StoreGroup",
		func() error { return s.primary.StoreGroup(ctx, group) },
		func() error { return s.secondary.StoreGroup(ctx, group) },
	)
}

// StoreSessions stores a batch of sessions in both backends.
func (s *Store) StoreSessions(ctx context.Context, sessions []*models.Session) error {
	return s.dualWrite("StoreSessions",
		func() error { return s.primary.StoreSessions(ctx, sessions) },
		func() error { return s.secondary.StoreSessions(ctx, sessions) },
	)
}

// ListGroups lists groups from primary backend only.
func (s *Store) ListGroups(ctx context.Context) ([]*models.Group, error) {
	return s.primary.ListGroups(ctx)
}

// SampleValues samples the primary backend only.
func (s *Store) SampleValues(ctx context.Context, field models.Field, n int) ([]any, error) {
	return s.primary.SampleValues(ctx, field, n)
}

// CountDistinct counts on the primary backend only.
func (s *Store) CountDistinct(ctx context.Context, q models.CardinalityQuery) (*models.CardinalityResult, error) {
	return s.primary.CountDistinct(ctx, q)
}

// CountDistinctByDate counts on the primary backend only.
func (s *Store) CountDistinctByDate(ctx context.Context, q models.CardinalityQuery) ([]*models.DateCardinality, error) {
	return s.primary.CountDistinctByDate(ctx, q)
}

// Stats gets stats from primary backend only.
func (s *Store) Stats(ctx context.Context) (*models.DatasetStats, error) {
	return s.primary.Stats(ctx)
}

// Clear clears both backends.
func (s *Store) Clear(ctx context.Context) error {
	// Clear primary first
	if err := s.primary.Clear(ctx); err != nil {
		return fmt.Errorf("clear primary: %w", err)
	}

	// Clear secondary (best effort)
	if err := s.secondary.Clear(ctx); err != nil {
		s.logger.Error("failed to clear secondary backend",
			"error", err,
		)
	}

	return nil
}

// Close closes both backends.
func (s *Store) Close() error {
	var primaryErr, secondaryErr error

	primaryErr = s.primary.Close()
	secondaryErr = s.secondary.Close()

	if primaryErr != nil {
		return fmt.Errorf("close primary: %w", primaryErr)
	}
	if secondaryErr != nil {
		return fmt.Errorf("close secondary: %w", secondaryErr)
	}

	return nil
}

var _ storage.Storage = (*Store)(nil)
