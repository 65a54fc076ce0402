package dual

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/fidde/simple_hll/internal/dataset"
	"github.com/fidde/simple_hll/internal/storage/memory"
	"github.com/fidde/simple_hll/pkg/models"
)

var testDay = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func testSessions(n int) (*models.Group, []*models.Session) {
	group := &models.Group{ID: dataset.UUIDFromInt(1), Created: testDay}
	sessions := make([]*models.Session, 0, n)
	for i := 0; i < n; i++ {
		s := dataset.NewSession(int64(i), group, testDay)
		s.ID = int64(i + 1)
		sessions = append(sessions, s)
	}
	return group, sessions
}

func TestDualWrite(t *testing.T) {
	// Create two in-memory backends for testing
	primary := memory.New()
	secondary := memory.New()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))

	store := New(Config{
		Primary:   primary,
		Secondary: secondary,
		Logger:    logger,
	})
	defer store.Close()

	ctx := context.Background()
	group, sessions := testSessions(50)

	if err := store.StoreGroup(ctx, group); err != nil {
		t.Fatalf("StoreGroup failed: %v", err)
	}
	if err := store.StoreSessions(ctx, sessions); err != nil {
		t.Fatalf("StoreSessions failed: %v", err)
	}

	for name, backend := range map[string]interface {
		Stats(context.Context) (*models.DatasetStats, error)
	}{"primary": primary, "secondary": secondary} {
		stats, err := backend.Stats(ctx)
		if err != nil {
			t.Fatalf("%s Stats failed: %v", name, err)
		}
		if stats.Groups != 1 || stats.Sessions != 50 {
			t.Errorf("%s: expected 1 group and 50 sessions, got %+v", name, stats)
		}
	}

	q := models.CardinalityQuery{Field: models.FieldUserInt, Precision: 12}
	want, err := secondary.CountDistinct(ctx, q)
	if err != nil {
		t.Fatalf("secondary CountDistinct failed: %v", err)
	}
	got, err := store.Secondary().CountDistinct(ctx, q)
	if err != nil {
		t.Fatalf("CountDistinct via Secondary failed: %v", err)
	}
	if *got != *want {
		t.Errorf("Secondary() returned a different backend: %+v vs %+v", got, want)
	}
}

func TestReadFromPrimary(t *testing.T) {
	primary := memory.New()
	secondary := memory.New()

	store := New(Config{
		Primary:   primary,
		Secondary: secondary,
	})
	defer store.Close()

	ctx := context.Background()

	// Write directly to primary only
	group, sessions := testSessions(10)
	if err := primary.StoreGroup(ctx, group); err != nil {
		t.Fatalf("primary StoreGroup failed: %v", err)
	}
	if err := primary.StoreSessions(ctx, sessions); err != nil {
		t.Fatalf("primary StoreSessions failed: %v", err)
	}

	// Reads via the dual store see primary's data
	res, err := store.CountDistinct(ctx, models.CardinalityQuery{Field: models.FieldUserInt, Precision: 10})
	if err != nil {
		t.Fatalf("CountDistinct failed: %v", err)
	}
	if res.Exact != 10 {
		t.Errorf("expected exact 10, got %d", res.Exact)
	}

	values, err := store.SampleValues(ctx, models.FieldUserInt, 3)
	if err != nil {
		t.Fatalf("SampleValues failed: %v", err)
	}
	if len(values) != 3 {
		t.Errorf("expected 3 samples, got %d", len(values))
	}

	groups, err := store.ListGroups(ctx)
	if err != nil || len(groups) != 1 {
		t.Errorf("ListGroups = %v, %v", groups, err)
	}

	// Secondary should not have it
	stats, err := secondary.Stats(ctx)
	if err != nil {
		t.Fatalf("secondary Stats failed: %v", err)
	}
	if stats.Sessions != 0 {
		t.Errorf("expected empty secondary, got %+v", stats)
	}
}

func TestSecondaryWriteFailure(t *testing.T) {
	primary := memory.New()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))

	store := New(Config{
		Primary:   primary,
		Secondary: &failingStore{},
		Logger:    logger,
	})
	defer store.Close()

	ctx := context.Background()
	group, sessions := testSessions(5)

	// Writes succeed even if secondary fails
	if err := store.StoreGroup(ctx, group); err != nil {
		t.Fatalf("StoreGroup should succeed even if secondary fails: %v", err)
	}
	if err := store.StoreSessions(ctx, sessions); err != nil {
		t.Fatalf("StoreSessions should succeed even if secondary fails: %v", err)
	}

	byDate, err := store.CountDistinctByDate(ctx, models.CardinalityQuery{Field: models.FieldUserInt, Precision: 10})
	if err != nil {
		t.Fatalf("CountDistinctByDate failed: %v", err)
	}
	if len(byDate) != 1 || byDate[0].Exact != 5 {
		t.Errorf("unexpected by-date result: %+v", byDate)
	}
}

func TestPrimaryWriteFailure(t *testing.T) {
	secondary := memory.New()

	store := New(Config{
		Primary:   &failingStore{},
		Secondary: secondary,
	})

	ctx := context.Background()
	_, sessions := testSessions(5)

	if err := store.StoreSessions(ctx, sessions); err == nil {
		t.Fatal("expected primary failure to be returned")
	}

	// Nothing reaches the secondary when the primary rejects a write
	stats, _ := secondary.Stats(ctx)
	if stats.Sessions != 0 {
		t.Errorf("expected empty secondary, got %+v", stats)
	}
}

func TestClear(t *testing.T) {
	primary := memory.New()
	secondary := memory.New()
	store := New(Config{Primary: primary, Secondary: secondary})

	ctx := context.Background()
	group, sessions := testSessions(5)
	store.StoreGroup(ctx, group)
	store.StoreSessions(ctx, sessions)

	if err := store.Clear(ctx); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}

	for _, backend := range []*memory.Store{primary, secondary} {
		stats, _ := backend.Stats(ctx)
		if stats.Sessions != 0 || stats.Groups != 0 {
			t.Errorf("expected empty backend after Clear, got %+v", stats)
		}
	}
}

// failingStore is a mock storage that always fails writes
type failingStore struct{}

var errSimulated = errors.New("simulated failure")

func (f *failingStore) StoreGroup(ctx context.Context, group *models.Group) error {
	return errSimulated
}

func (f *failingStore) StoreSessions(ctx context.Context, sessions []*models.Session) error {
	return errSimulated
}

func (f *failingStore) ListGroups(ctx context.Context) ([]*models.Group, error) {
	return nil, nil
}

func (f *failingStore) SampleValues(ctx context.Context, field models.Field, n int) ([]any, error) {
	return nil, nil
}

func (f *failingStore) CountDistinct(ctx context.Context, q models.CardinalityQuery) (*models.CardinalityResult, error) {
	return nil, models.ErrNotFound
}

func (f *failingStore) CountDistinctByDate(ctx context.Context, q models.CardinalityQuery) ([]*models.DateCardinality, error) {
	return nil, models.ErrNotFound
}

func (f *failingStore) Stats(ctx context.Context) (*models.DatasetStats, error) {
	return &models.DatasetStats{}, nil
}

func (f *failingStore) Clear(ctx context.Context) error {
	return nil
}

func (f *failingStore) Close() error {
	return nil
}
