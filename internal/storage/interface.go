// Package storage defines the storage interface for the session dataset.
package storage

import (
	"context"

	"github.com/fidde/simple_hll/pkg/models"
)

// Storage is the interface for storing the session dataset and counting its
// distinct values, exactly and approximately.
// Implementations must be safe for concurrent use.
type Storage interface {
	// Dataset writes
	StoreGroup(ctx context.Context, group *models.Group) error
	StoreSessions(ctx context.Context, sessions []*models.Session) error

	// ListGroups returns the groups ordered by creation time.
	ListGroups(ctx context.Context) ([]*models.Group, error)

	// SampleValues returns the column values of the first n sessions in
	// insertion order, typed as Field.ParseBound would type them.
	SampleValues(ctx context.Context, field models.Field, n int) ([]any, error)

	// CountDistinct computes the exact and approximate distinct counts of a
	// column over the rows matching the query.
	CountDistinct(ctx context.Context, q models.CardinalityQuery) (*models.CardinalityResult, error)

	// CountDistinctByDate is CountDistinct grouped by the UTC day of the
	// session, ordered by day.
	CountDistinctByDate(ctx context.Context, q models.CardinalityQuery) ([]*models.DateCardinality, error)

	Stats(ctx context.Context) (*models.DatasetStats, error)

	// Clear all data
	Clear(ctx context.Context) error

	// Close the storage (for cleanup, e.g., DB connections)
	Close() error
}
