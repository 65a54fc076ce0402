package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/fidde/simple_hll/internal/dataset"
	"github.com/fidde/simple_hll/pkg/models"
)

// BenchmarkSessionWrites measures write throughput in dataset-sized batches
func BenchmarkSessionWrites(b *testing.B) {
	store := setupTestStore(b)
	ctx := context.Background()

	group := &models.Group{ID: dataset.UUIDFromInt(1), Created: time.Now().UTC()}
	if err := store.StoreGroup(ctx, group); err != nil {
		b.Fatalf("StoreGroup failed: %v", err)
	}

	batch := make([]*models.Session, dataset.DefaultBatchSize)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		for j := range batch {
			batch[j] = dataset.NewSession(int64(i*len(batch)+j), group, group.Created)
		}
		if err := store.StoreSessions(ctx, batch); err != nil {
			b.Fatalf("StoreSessions failed: %v", err)
		}
	}
	b.StopTimer()

	b.ReportMetric(float64(b.N*len(batch))/b.Elapsed().Seconds(), "sessions/sec")
}

// BenchmarkCountDistinct measures one exact plus approximate count over 28k sessions
func BenchmarkCountDistinct(b *testing.B) {
	store := setupTestStore(b)
	ctx := context.Background()

	gen, err := dataset.New(dataset.Config{Users: 7000, Days: 7, BatchSize: 2500, Base: time.Now()}, nil)
	if err != nil {
		b.Fatalf("dataset.New failed: %v", err)
	}
	if _, err := gen.Run(ctx, store); err != nil {
		b.Fatalf("seeding failed: %v", err)
	}

	for _, field := range []models.Field{models.FieldUserInt, models.FieldUserStr} {
		b.Run(string(field), func(b *testing.B) {
			q := models.CardinalityQuery{Field: field, Precision: 12}
			for i := 0; i < b.N; i++ {
				if _, err := store.CountDistinct(ctx, q); err != nil {
					b.Fatalf("CountDistinct failed: %v", err)
				}
			}
		})
	}
}
