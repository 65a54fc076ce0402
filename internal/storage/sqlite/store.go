// Package sqlite provides a SQLite-backed storage implementation.
//
// Approximate distinct counts are computed inside SQLite by the hll_*
// functions registered in functions.go; exact counts use COUNT(DISTINCT).
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fidde/simple_hll/pkg/models"
)

//go:embed migrations/001_initial_schema.up.sql
var migrationSQL string

// ErrClosed is returned by writes after Close.
var ErrClosed = errors.New("store is closed")

// Store is a SQLite-backed storage for the session dataset.
type Store struct {
	db     *sql.DB
	logger *slog.Logger

	// Batch writer
	writeCh   chan writeOp
	closeCh   chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// writeOp represents a write operation to be batched.
type writeOp struct {
	opType string
	data   interface{}
	done   chan error
}

// Config holds SQLite store configuration.
type Config struct {
	DBPath        string
	BatchSize     int
	FlushInterval time.Duration
}

// DefaultConfig returns default SQLite configuration.
func DefaultConfig(dbPath string) Config {
	return Config{
		DBPath:        dbPath,
		BatchSize:     100,
		FlushInterval: 100 * time.Millisecond,
	}
}

// New creates a new SQLite store with the given configuration.
func New(cfg Config, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	// Functions must exist before the first connection is opened
	if err := RegisterFunctions(); err != nil {
		return nil, fmt.Errorf("registering hll functions: %w", err)
	}

	db, err := sql.Open("sqlite", cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Every connection to :memory: is a separate database
	if cfg.DBPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	// Set pragmas for performance
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA cache_size=-64000", // 64MB cache
		"PRAGMA temp_store=MEMORY",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("setting pragma: %w", err)
		}
	}

	// Run migrations
	if _, err := db.Exec(migrationSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	store := &Store{
		db:      db,
		logger:  logger,
		writeCh: make(chan writeOp, 1000),
		closeCh: make(chan struct{}),
	}

	// Start batch writer goroutine
	store.wg.Add(1)
	go store.batchWriter(cfg.BatchSize, cfg.FlushInterval)

	logger.Info("sqlite store opened", "path", cfg.DBPath)
	return store, nil
}

// batchWriter runs in a goroutine and batches write operations.
func (s *Store) batchWriter(batchSize int, flushInterval time.Duration) {
	defer s.wg.Done()

	batch := make([]writeOp, 0, batchSize)
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}

		// Execute batch in a transaction
		err := s.executeBatch(batch)
		if err != nil {
			s.logger.Error("batch write failed", "ops", len(batch), "error", err)
		}

		// Send result to all ops in batch
		for i := range batch {
			if batch[i].done != nil {
				batch[i].done <- err
				close(batch[i].done)
			}
		}

		batch = batch[:0]
	}

	for {
		select {
		case op := <-s.writeCh:
			batch = append(batch, op)
			if batchSize > 0 && len(batch) >= batchSize {
				flush()
			}

		case <-ticker.C:
			flush()

		case <-s.closeCh:
			// Drain remaining ops
			for {
				select {
				case op := <-s.writeCh:
					batch = append(batch, op)
				default:
					flush()
					return
				}
			}
		}
	}
}

// executeBatch runs a batch of write operations in a single transaction.
func (s *Store) executeBatch(batch []writeOp) error {
	if len(batch) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, op := range batch {
		var err error
		switch op.opType {
		case "StoreGroup":
			err = s.storeGroupTx(tx, op.data.(*models.Group))
		case "StoreSessions":
			err = s.storeSessionsTx(tx, op.data.([]*models.Session))
		default:
			err = fmt.Errorf("unknown operation: %s", op.opType)
		}

		if err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	return nil
}

// submit hands op to the batch writer and waits for its transaction.
func (s *Store) submit(ctx context.Context, opType string, data interface{}) error {
	done := make(chan error, 1)

	select {
	case <-s.closeCh:
		return ErrClosed
	default:
	}

	select {
	case s.writeCh <- writeOp{opType: opType, data: data, done: done}:
		select {
		case err := <-done:
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	case <-ctx.Done():
		return ctx.Err()
	case <-s.closeCh:
		return ErrClosed
	}
}

// Close closes the store and releases resources.
func (s *Store) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closeCh)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

// Clear removes all stored data.
func (s *Store) Clear(ctx context.Context) error {
	tables := []string{
		"sessions",
		"session_groups",
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, table := range tables {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("clearing %s: %w", table, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	return nil
}

// StoreGroup stores or updates a group.
func (s *Store) StoreGroup(ctx context.Context, group *models.Group) error {
	if group == nil {
		return errors.New("group cannot be nil")
	}
	return s.submit(ctx, "StoreGroup", group)
}

func (s *Store) storeGroupTx(tx *sql.Tx, group *models.Group) error {
	_, err := tx.Exec(`
		INSERT INTO session_groups (id, created) VALUES (?, ?)
		ON CONFLICT(id) DO UPDATE SET created = excluded.created
	`, group.ID.String(), group.Created.UnixMilli())
	if err != nil {
		return fmt.Errorf("upserting group %s: %w", group.ID, err)
	}
	return nil
}

// StoreSessions inserts sessions. Sessions with ID 0 get the next free id.
func (s *Store) StoreSessions(ctx context.Context, sessions []*models.Session) error {
	if len(sessions) == 0 {
		return nil
	}
	for _, sess := range sessions {
		if sess == nil {
			return errors.New("session cannot be nil")
		}
	}
	return s.submit(ctx, "StoreSessions", sessions)
}

func (s *Store) storeSessionsTx(tx *sql.Tx, sessions []*models.Session) error {
	stmt, err := tx.Prepare(`
		INSERT INTO sessions (id, user_uuid, user_int, user_str, user_hash, created, group_id)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("preparing session insert: %w", err)
	}
	defer stmt.Close()

	for _, sess := range sessions {
		var id any
		if sess.ID != 0 {
			id = sess.ID
		}
		_, err := stmt.Exec(id, sess.UserUUID.String(), sess.UserInt, sess.UserStr,
			sess.UserHash, sess.Created.UnixMilli(), sess.GroupID.String())
		if err != nil {
			return fmt.Errorf("inserting session of user %d: %w", sess.UserInt, err)
		}
	}
	return nil
}

// ListGroups returns all groups ordered by creation time.
func (s *Store) ListGroups(ctx context.Context) ([]*models.Group, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, created FROM session_groups ORDER BY created, id`)
	if err != nil {
		return nil, fmt.Errorf("querying groups: %w", err)
	}
	defer rows.Close()

	var groups []*models.Group
	for rows.Next() {
		var (
			id      string
			created int64
		)
		if err := rows.Scan(&id, &created); err != nil {
			return nil, fmt.Errorf("scanning group: %w", err)
		}
		gid, err := uuid.Parse(id)
		if err != nil {
			return nil, fmt.Errorf("parsing group id %q: %w", id, err)
		}
		groups = append(groups, &models.Group{ID: gid, Created: time.UnixMilli(created).UTC()})
	}
	return groups, rows.Err()
}

// SampleValues returns the column values of the first n sessions by id.
func (s *Store) SampleValues(ctx context.Context, field models.Field, n int) ([]any, error) {
	column, err := columnFor(field)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `SELECT `+column+` FROM sessions ORDER BY id LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("querying samples: %w", err)
	}
	defer rows.Close()

	var values []any
	for rows.Next() {
		if field.Integer() {
			var v int64
			if err := rows.Scan(&v); err != nil {
				return nil, fmt.Errorf("scanning sample: %w", err)
			}
			values = append(values, v)
			continue
		}
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scanning sample: %w", err)
		}
		values = append(values, v)
	}
	return values, rows.Err()
}

// CountDistinct runs COUNT(DISTINCT) and the approximate aggregate side by side.
func (s *Store) CountDistinct(ctx context.Context, q models.CardinalityQuery) (*models.CardinalityResult, error) {
	query, args, err := buildCountQuery(q, false)
	if err != nil {
		return nil, err
	}

	var exact, approx int64
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&exact, &approx); err != nil {
		return nil, fmt.Errorf("counting %s: %w", q.Field, err)
	}

	return &models.CardinalityResult{Exact: uint64(exact), Approx: uint64(approx)}, nil
}

// CountDistinctByDate is CountDistinct grouped by UTC day.
func (s *Store) CountDistinctByDate(ctx context.Context, q models.CardinalityQuery) ([]*models.DateCardinality, error) {
	query, args, err := buildCountQuery(q, true)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("counting %s by date: %w", q.Field, err)
	}
	defer rows.Close()

	var out []*models.DateCardinality
	for rows.Next() {
		var (
			day           string
			exact, approx int64
		)
		if err := rows.Scan(&day, &exact, &approx); err != nil {
			return nil, fmt.Errorf("scanning date row: %w", err)
		}
		out = append(out, &models.DateCardinality{
			Date:              day,
			CardinalityResult: models.CardinalityResult{Exact: uint64(exact), Approx: uint64(approx)},
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("counting %s by date: %w", q.Field, err)
	}
	return out, nil
}

// Stats returns the number of stored groups and sessions.
func (s *Store) Stats(ctx context.Context) (*models.DatasetStats, error) {
	var stats models.DatasetStats
	err := s.db.QueryRowContext(ctx, `
		SELECT (SELECT COUNT(*) FROM session_groups), (SELECT COUNT(*) FROM sessions)
	`).Scan(&stats.Groups, &stats.Sessions)
	if err != nil {
		return nil, fmt.Errorf("querying stats: %w", err)
	}
	return &stats, nil
}

// columnFor maps a field to its column. Only validated names reach SQL text.
func columnFor(field models.Field) (string, error) {
	f, err := models.ParseField(string(field))
	if err != nil {
		return "", err
	}
	return string(f), nil
}

func buildCountQuery(q models.CardinalityQuery, byDate bool) (string, []any, error) {
	if err := q.Validate(); err != nil {
		return "", nil, err
	}
	column, err := columnFor(q.Field)
	if err != nil {
		return "", nil, err
	}

	fn := FuncApproxCardinality
	if q.PreHashed {
		fn = FuncApproxCardinalityHashed
	}

	var b strings.Builder
	b.WriteString("SELECT ")
	if byDate {
		b.WriteString("date(created / 1000, 'unixepoch') AS day, ")
	}
	fmt.Fprintf(&b, "COUNT(DISTINCT %s), %s(%s, ?) FROM sessions", column, fn, column)

	args := []any{int64(q.Precision)}
	if q.Upper != nil {
		fmt.Fprintf(&b, " WHERE %s <= ?", column)
		args = append(args, q.Upper)
	}
	if byDate {
		b.WriteString(" GROUP BY day ORDER BY day")
	}
	return b.String(), args, nil
}
