package clickhouse

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/fidde/simple_hll/pkg/models"
)

const maxRetries = 3

// batchWriter inserts rows with PrepareBatch/Append/Send, retrying failed
// inserts with exponential backoff. Writes are synchronous: the dataset is
// read back for counting right after seeding.
type batchWriter struct {
	conn    driver.Conn
	timeout time.Duration
	logger  *slog.Logger
}

func (w *batchWriter) insertGroup(ctx context.Context, group *models.Group) error {
	return w.retryInsert(ctx, "session_groups", 1, func(ctx context.Context) error {
		batch, err := w.conn.PrepareBatch(ctx, "INSERT INTO session_groups")
		if err != nil {
			return err
		}
		if err := batch.Append(group.ID, group.Created.UTC()); err != nil {
			return err
		}
		return batch.Send()
	})
}

func (w *batchWriter) insertSessions(ctx context.Context, sessions []*models.Session) error {
	return w.retryInsert(ctx, "sessions", len(sessions), func(ctx context.Context) error {
		batch, err := w.conn.PrepareBatch(ctx, "INSERT INTO sessions")
		if err != nil {
			return err
		}

		for _, s := range sessions {
			err = batch.Append(
				s.ID,
				s.UserUUID,
				s.UserInt,
				s.UserStr,
				s.UserHash,
				s.Created.UTC(),
				s.GroupID,
			)
			if err != nil {
				return err
			}
		}

		return batch.Send()
	})
}

// retryInsert retries insert operation with exponential backoff
func (w *batchWriter) retryInsert(ctx context.Context, table string, rows int, fn func(context.Context) error) error {
	var err error
	retryDelay := 100 * time.Millisecond
	start := time.Now()

	for attempt := 1; attempt <= maxRetries; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, w.timeout)
		err = fn(attemptCtx)
		cancel()

		if err == nil {
			w.logger.Debug("inserted rows",
				"table", table,
				"row_count", rows,
				"duration_ms", time.Since(start).Milliseconds(),
			)
			return nil
		}

		w.logger.Warn("insert attempt failed",
			"table", table,
			"attempt", attempt,
			"error", err,
		)

		if attempt < maxRetries {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(retryDelay):
				retryDelay *= 2
			}
		}
	}

	return fmt.Errorf("insert into %s failed after %d attempts: %w", table, maxRetries, err)
}
