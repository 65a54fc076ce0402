package clickhouse

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/google/uuid"

	"github.com/fidde/simple_hll/internal/aggregate"
	"github.com/fidde/simple_hll/pkg/hashing"
	"github.com/fidde/simple_hll/pkg/models"
)

// Store implements the storage.Storage interface using ClickHouse.
//
// Exact counts use uniqExact. ClickHouse has its own HyperLogLog functions
// with different hashing, so approximations stream the column to Go and fold
// it through the same aggregate as the other backends.
type Store struct {
	conn   driver.Conn
	writer *batchWriter
	hasher hashing.Hasher
	logger *slog.Logger
}

// NewStore creates a new ClickHouse storage instance
func NewStore(ctx context.Context, config *ConnectionConfig, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if config == nil {
		config = DefaultConfig()
	}

	// Connect to ClickHouse
	conn, err := Connect(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("connecting to ClickHouse: %w", err)
	}

	// Initialize schema
	if err := InitializeSchema(ctx, conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("initializing schema: %w", err)
	}

	timeout := config.InsertTimeout
	if timeout <= 0 {
		timeout = defaultInsertTimeout
	}

	return &Store{
		conn:   conn,
		writer: &batchWriter{conn: conn, timeout: timeout, logger: logger},
		hasher: hashing.Default(),
		logger: logger,
	}, nil
}

// Dataset writes

func (s *Store) StoreGroup(ctx context.Context, group *models.Group) error {
	if group == nil {
		return errors.New("group cannot be nil")
	}
	return s.writer.insertGroup(ctx, group)
}

func (s *Store) StoreSessions(ctx context.Context, sessions []*models.Session) error {
	if len(sessions) == 0 {
		return nil
	}
	return s.writer.insertSessions(ctx, sessions)
}

func (s *Store) ListGroups(ctx context.Context) ([]*models.Group, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT id, created
		FROM session_groups FINAL
		ORDER BY created, id
	`)
	if err != nil {
		return nil, fmt.Errorf("querying groups: %w", err)
	}
	defer rows.Close()

	var groups []*models.Group
	for rows.Next() {
		var (
			id      uuid.UUID
			created time.Time
		)
		if err := rows.Scan(&id, &created); err != nil {
			return nil, fmt.Errorf("scanning group: %w", err)
		}
		groups = append(groups, &models.Group{ID: id, Created: created.UTC()})
	}
	return groups, rows.Err()
}

func (s *Store) SampleValues(ctx context.Context, field models.Field, n int) ([]any, error) {
	expr, err := columnExpr(field)
	if err != nil {
		return nil, err
	}

	rows, err := s.conn.Query(ctx, fmt.Sprintf("SELECT %s FROM sessions ORDER BY id LIMIT ?", expr), n)
	if err != nil {
		return nil, fmt.Errorf("querying samples: %w", err)
	}
	defer rows.Close()

	var values []any
	for rows.Next() {
		v, err := scanValue(rows, field)
		if err != nil {
			return nil, err
		}
		values = append(values, v)
	}
	return values, rows.Err()
}

func (s *Store) CountDistinct(ctx context.Context, q models.CardinalityQuery) (*models.CardinalityResult, error) {
	expr, where, args, err := buildFilter(q)
	if err != nil {
		return nil, err
	}

	var exact uint64
	row := s.conn.QueryRow(ctx, fmt.Sprintf("SELECT uniqExact(%s) FROM sessions%s", expr, where), args...)
	if err := row.Scan(&exact); err != nil {
		return nil, fmt.Errorf("counting %s: %w", q.Field, err)
	}

	agg, err := s.newAggregator(q)
	if err != nil {
		return nil, err
	}

	rows, err := s.conn.Query(ctx, fmt.Sprintf("SELECT %s FROM sessions%s", expr, where), args...)
	if err != nil {
		return nil, fmt.Errorf("streaming %s: %w", q.Field, err)
	}
	defer rows.Close()

	for rows.Next() {
		v, err := scanValue(rows, q.Field)
		if err != nil {
			return nil, err
		}
		if err := agg.Step(v); err != nil {
			return nil, fmt.Errorf("approximate aggregate: %w", err)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("streaming %s: %w", q.Field, err)
	}

	return &models.CardinalityResult{Exact: exact, Approx: agg.Result()}, nil
}

func (s *Store) CountDistinctByDate(ctx context.Context, q models.CardinalityQuery) ([]*models.DateCardinality, error) {
	expr, where, args, err := buildFilter(q)
	if err != nil {
		return nil, err
	}

	exactRows, err := s.conn.Query(ctx, fmt.Sprintf(`
		SELECT toString(toDate(created)) AS day, uniqExact(%s)
		FROM sessions%s
		GROUP BY day
		ORDER BY day
	`, expr, where), args...)
	if err != nil {
		return nil, fmt.Errorf("counting %s by date: %w", q.Field, err)
	}
	defer exactRows.Close()

	var out []*models.DateCardinality
	for exactRows.Next() {
		dc := &models.DateCardinality{}
		if err := exactRows.Scan(&dc.Date, &dc.Exact); err != nil {
			return nil, fmt.Errorf("scanning date row: %w", err)
		}
		out = append(out, dc)
	}
	if err := exactRows.Err(); err != nil {
		return nil, err
	}

	var grouped *aggregate.Grouped[string]
	if q.PreHashed {
		grouped, err = aggregate.NewGroupedHashed[string](q.Precision)
	} else {
		grouped, err = aggregate.NewGrouped[string](q.Precision, s.hasher)
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.conn.Query(ctx, fmt.Sprintf("SELECT toString(toDate(created)), %s FROM sessions%s", expr, where), args...)
	if err != nil {
		return nil, fmt.Errorf("streaming %s by date: %w", q.Field, err)
	}
	defer rows.Close()

	for rows.Next() {
		day, v, err := scanDayValue(rows, q.Field)
		if err != nil {
			return nil, err
		}
		if err := grouped.Step(day, v); err != nil {
			return nil, fmt.Errorf("approximate aggregate: %w", err)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("streaming %s by date: %w", q.Field, err)
	}

	for _, dc := range out {
		dc.Approx = grouped.Result(dc.Date)
	}
	return out, nil
}

func (s *Store) Stats(ctx context.Context) (*models.DatasetStats, error) {
	var groups, sessions uint64
	row := s.conn.QueryRow(ctx, `
		SELECT (SELECT count() FROM session_groups FINAL), (SELECT count() FROM sessions)
	`)
	if err := row.Scan(&groups, &sessions); err != nil {
		return nil, fmt.Errorf("querying stats: %w", err)
	}
	return &models.DatasetStats{Groups: int64(groups), Sessions: int64(sessions)}, nil
}

// Utility operations

func (s *Store) Clear(ctx context.Context) error {
	tables := []string{"sessions", "session_groups"}

	for _, table := range tables {
		if err := s.conn.Exec(ctx, fmt.Sprintf("TRUNCATE TABLE %s", table)); err != nil {
			return fmt.Errorf("truncating table %s: %w", table, err)
		}
	}

	return nil
}

func (s *Store) Close() error {
	return s.conn.Close()
}

func (s *Store) newAggregator(q models.CardinalityQuery) (*aggregate.Aggregator, error) {
	if q.PreHashed {
		return aggregate.NewHashed(q.Precision)
	}
	return aggregate.New(q.Precision, s.hasher)
}

// columnExpr returns the select expression of a field. UUIDs are read and
// compared as canonical text, matching the other backends.
func columnExpr(field models.Field) (string, error) {
	f, err := models.ParseField(string(field))
	if err != nil {
		return "", err
	}
	if f == models.FieldUserUUID {
		return "toString(user_uuid)", nil
	}
	return string(f), nil
}

func buildFilter(q models.CardinalityQuery) (expr, where string, args []any, err error) {
	if err := q.Validate(); err != nil {
		return "", "", nil, err
	}
	expr, err = columnExpr(q.Field)
	if err != nil {
		return "", "", nil, err
	}

	if q.Upper != nil {
		where = fmt.Sprintf(" WHERE %s <= ?", expr)
		args = append(args, q.Upper)
	}
	return expr, where, args, nil
}

func scanValue(rows driver.Rows, field models.Field) (any, error) {
	if field.Integer() {
		var v int64
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scanning %s: %w", field, err)
		}
		return v, nil
	}
	var v string
	if err := rows.Scan(&v); err != nil {
		return nil, fmt.Errorf("scanning %s: %w", field, err)
	}
	return v, nil
}

func scanDayValue(rows driver.Rows, field models.Field) (string, any, error) {
	var day string
	if field.Integer() {
		var v int64
		if err := rows.Scan(&day, &v); err != nil {
			return "", nil, fmt.Errorf("scanning %s: %w", field, err)
		}
		return day, v, nil
	}
	var v string
	if err := rows.Scan(&day, &v); err != nil {
		return "", nil, fmt.Errorf("scanning %s: %w", field, err)
	}
	return day, v, nil
}
