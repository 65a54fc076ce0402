//go:build integration

package clickhouse

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/fidde/simple_hll/internal/dataset"
	"github.com/fidde/simple_hll/internal/storage/memory"
	"github.com/fidde/simple_hll/pkg/models"
)

// TestClickHouseIntegration checks that ClickHouse counts agree with the
// in-memory backend on the same dataset.
// Run with: go test -tags=integration ./internal/storage/clickhouse -v
func TestClickHouseIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test")
	}

	ctx := context.Background()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelWarn}))

	config := DefaultConfig()
	if addr := os.Getenv("HLL_CLICKHOUSE_ADDR"); addr != "" {
		config.Addr = addr
	}

	store, err := NewStore(ctx, config, logger)
	if err != nil {
		t.Skipf("ClickHouse not available: %v", err)
	}
	defer store.Close()

	if err := store.Clear(ctx); err != nil {
		t.Fatalf("Failed to clear: %v", err)
	}

	cfg := dataset.Config{
		Users:     700,
		Days:      7,
		BatchSize: 250,
		Base:      time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		Seed:      9,
	}

	mem := memory.New()
	for _, sink := range []dataset.Sink{store, mem} {
		gen, err := dataset.New(cfg, logger)
		if err != nil {
			t.Fatalf("dataset.New failed: %v", err)
		}
		if _, err := gen.Run(ctx, sink); err != nil {
			t.Fatalf("Failed to seed: %v", err)
		}
	}

	t.Run("Stats", func(t *testing.T) {
		stats, err := store.Stats(ctx)
		if err != nil {
			t.Fatalf("Failed to get stats: %v", err)
		}
		if stats.Groups != 8 || stats.Sessions != 2800 {
			t.Errorf("Unexpected stats: %+v", stats)
		}
	})

	t.Run("ListGroups", func(t *testing.T) {
		groups, err := store.ListGroups(ctx)
		if err != nil {
			t.Fatalf("Failed to list groups: %v", err)
		}
		if len(groups) != 8 || groups[0].ID != dataset.UUIDFromInt(0) {
			t.Errorf("Unexpected groups: %v", groups)
		}
	})

	for _, field := range models.Fields() {
		field := field
		t.Run("CountDistinct/"+string(field), func(t *testing.T) {
			samples, err := store.SampleValues(ctx, field, 10)
			if err != nil {
				t.Fatalf("Failed to sample: %v", err)
			}
			memSamples, err := mem.SampleValues(ctx, field, 10)
			if err != nil {
				t.Fatalf("Failed to sample memory: %v", err)
			}
			if len(samples) != 10 || samples[9] != memSamples[9] {
				t.Fatalf("Samples differ: %v vs %v", samples, memSamples)
			}

			for _, upper := range []any{nil, samples[0], samples[9]} {
				q := models.CardinalityQuery{Field: field, Precision: 10, Upper: upper}

				got, err := store.CountDistinct(ctx, q)
				if err != nil {
					t.Fatalf("CountDistinct failed: %v", err)
				}
				want, err := mem.CountDistinct(ctx, q)
				if err != nil {
					t.Fatalf("memory CountDistinct failed: %v", err)
				}
				if *got != *want {
					t.Errorf("upper=%v: clickhouse %+v, memory %+v", upper, got, want)
				}

				gotDays, err := store.CountDistinctByDate(ctx, q)
				if err != nil {
					t.Fatalf("CountDistinctByDate failed: %v", err)
				}
				wantDays, err := mem.CountDistinctByDate(ctx, q)
				if err != nil {
					t.Fatalf("memory CountDistinctByDate failed: %v", err)
				}
				if len(gotDays) != len(wantDays) {
					t.Fatalf("upper=%v: %d days, memory %d", upper, len(gotDays), len(wantDays))
				}
				for i := range gotDays {
					if *gotDays[i] != *wantDays[i] {
						t.Errorf("upper=%v day %d: clickhouse %+v, memory %+v", upper, i, gotDays[i], wantDays[i])
					}
				}
			}
		})
	}

	t.Run("Clear", func(t *testing.T) {
		if err := store.Clear(ctx); err != nil {
			t.Fatalf("Failed to clear: %v", err)
		}
		stats, err := store.Stats(ctx)
		if err != nil {
			t.Fatalf("Failed to get stats: %v", err)
		}
		if stats.Sessions != 0 {
			t.Errorf("Expected no sessions after clear, got %d", stats.Sessions)
		}
	})
}
