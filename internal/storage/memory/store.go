// Package memory provides an in-memory storage implementation for the
// session dataset.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/fidde/simple_hll/internal/aggregate"
	"github.com/fidde/simple_hll/pkg/hashing"
	"github.com/fidde/simple_hll/pkg/models"
)

// Store is an in-memory storage for the session dataset. Distinct counts are
// computed by scanning; approximations run through the same aggregate the SQL
// backends register, so results agree with them row for row.
type Store struct {
	mu       sync.RWMutex
	groups   []*models.Group
	sessions []*models.Session

	hasher hashing.Hasher
}

// New creates a new in-memory store hashing values with the default hasher.
func New() *Store {
	return NewWithHasher(hashing.Default())
}

// NewWithHasher creates a new in-memory store using hasher for approximations.
func NewWithHasher(hasher hashing.Hasher) *Store {
	return &Store{hasher: hasher}
}

// StoreGroup stores a group.
func (s *Store) StoreGroup(ctx context.Context, group *models.Group) error {
	if group == nil {
		return errors.New("group cannot be nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for i, g := range s.groups {
		if g.ID == group.ID {
			s.groups[i] = group
			return nil
		}
	}
	s.groups = append(s.groups, group)
	return nil
}

// StoreSessions appends sessions in order.
func (s *Store) StoreSessions(ctx context.Context, sessions []*models.Session) error {
	for _, sess := range sessions {
		if sess == nil {
			return errors.New("session cannot be nil")
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessions = append(s.sessions, sessions...)
	return nil
}

// ListGroups returns all groups ordered by creation time.
func (s *Store) ListGroups(ctx context.Context) ([]*models.Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	groups := make([]*models.Group, len(s.groups))
	copy(groups, s.groups)
	sort.SliceStable(groups, func(i, j int) bool {
		return groups[i].Created.Before(groups[j].Created)
	})
	return groups, nil
}

// SampleValues returns the column values of the first n sessions.
func (s *Store) SampleValues(ctx context.Context, field models.Field, n int) ([]any, error) {
	if _, err := models.ParseField(string(field)); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	n = min(n, len(s.sessions))
	values := make([]any, 0, n)
	for _, sess := range s.sessions[:n] {
		values = append(values, field.Value(sess))
	}
	return values, nil
}

// CountDistinct scans every session matching q.
func (s *Store) CountDistinct(ctx context.Context, q models.CardinalityQuery) (*models.CardinalityResult, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	c, err := s.newCounter(q)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, sess := range s.sessions {
		ok, err := s.matches(q, sess)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		if err := c.add(q.Field.Value(sess)); err != nil {
			return nil, err
		}
	}

	return c.result(), nil
}

// CountDistinctByDate scans every session matching q, grouped by day.
func (s *Store) CountDistinctByDate(ctx context.Context, q models.CardinalityQuery) ([]*models.DateCardinality, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	counters := make(map[string]*counter)
	for _, sess := range s.sessions {
		ok, err := s.matches(q, sess)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}

		day := models.DateKey(sess.Created)
		c, exists := counters[day]
		if !exists {
			c, err = s.newCounter(q)
			if err != nil {
				return nil, err
			}
			counters[day] = c
		}
		if err := c.add(q.Field.Value(sess)); err != nil {
			return nil, err
		}
	}

	days := make([]string, 0, len(counters))
	for day := range counters {
		days = append(days, day)
	}
	sort.Strings(days)

	out := make([]*models.DateCardinality, 0, len(days))
	for _, day := range days {
		out = append(out, &models.DateCardinality{Date: day, CardinalityResult: *counters[day].result()})
	}
	return out, nil
}

// Stats returns the number of stored groups and sessions.
func (s *Store) Stats(ctx context.Context) (*models.DatasetStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return &models.DatasetStats{
		Groups:   int64(len(s.groups)),
		Sessions: int64(len(s.sessions)),
	}, nil
}

// Clear removes all stored data.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.groups = nil
	s.sessions = nil
	return nil
}

// Close is a no-op for in-memory storage.
func (s *Store) Close() error {
	return nil
}

func (s *Store) matches(q models.CardinalityQuery, sess *models.Session) (bool, error) {
	if q.Upper == nil {
		return true, nil
	}
	return q.Field.AtMost(sess, q.Upper)
}

func (s *Store) newCounter(q models.CardinalityQuery) (*counter, error) {
	var (
		agg *aggregate.Aggregator
		err error
	)
	if q.PreHashed {
		agg, err = aggregate.NewHashed(q.Precision)
	} else {
		agg, err = aggregate.New(q.Precision, s.hasher)
	}
	if err != nil {
		return nil, err
	}
	return &counter{exact: make(map[any]struct{}), approx: agg}, nil
}

// counter tracks one COUNT(DISTINCT) and one approximate aggregate.
type counter struct {
	exact  map[any]struct{}
	approx *aggregate.Aggregator
}

func (c *counter) add(v any) error {
	c.exact[v] = struct{}{}
	if err := c.approx.Step(v); err != nil {
		return fmt.Errorf("approximate aggregate: %w", err)
	}
	return nil
}

func (c *counter) result() *models.CardinalityResult {
	return &models.CardinalityResult{
		Exact:  uint64(len(c.exact)),
		Approx: c.approx.Result(),
	}
}
