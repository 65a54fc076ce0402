// Package aggregate implements the two aggregate-function contracts of the
// estimator: approximate distinct count over a value set (values are hashed
// first) and over pre-hashed values.
//
// An Aggregator is the streaming state of one aggregate evaluation, the same
// shape a SQL engine drives: one Step per row, one Result at the end. The
// storage backends use it directly; the helpers below cover the one-shot case.
package aggregate

import (
	"errors"
	"fmt"
	"math"

	"github.com/fidde/simple_hll/pkg/hashing"
	"github.com/fidde/simple_hll/pkg/hyperloglog"
)

// ErrNotInteger is returned when a pre-hashed aggregate receives a value that
// is not a non-negative integer.
var ErrNotInteger = errors.New("aggregate: pre-hashed value must be a non-negative integer")

// Aggregator folds rows into a HyperLogLog sketch.
// It is not safe for concurrent use; one evaluation owns one Aggregator.
type Aggregator struct {
	hasher  hashing.Hasher
	sketch  *hyperloglog.HyperLogLog
	rows    uint64
	skipped uint64
}

// New returns an Aggregator that hashes every value with hasher before adding
// it. A nil hasher selects hashing.Default.
func New(precision uint8, hasher hashing.Hasher) (*Aggregator, error) {
	if hasher == nil {
		hasher = hashing.Default()
	}
	sketch, err := hyperloglog.NewWithHashBits(precision, hasher.Bits())
	if err != nil {
		return nil, err
	}
	return &Aggregator{hasher: hasher, sketch: sketch}, nil
}

// NewHashed returns an Aggregator for values that already are 31-bit hashes.
//
// The estimate is only as good as the hash: feeding sequential identifiers
// here produces meaningless results because they are not uniformly spread.
func NewHashed(precision uint8) (*Aggregator, error) {
	sketch, err := hyperloglog.New(precision)
	if err != nil {
		return nil, err
	}
	return &Aggregator{sketch: sketch}, nil
}

// Step adds one row. NULL (nil) rows are skipped, as in SQL aggregates.
func (a *Aggregator) Step(v any) error {
	if v == nil {
		a.skipped++
		return nil
	}

	if a.hasher == nil {
		hash, err := toHash(v)
		if err != nil {
			return err
		}
		return a.StepHash(hash)
	}

	hash, err := hashing.Value(a.hasher, v)
	if err != nil {
		return err
	}
	return a.StepHash(hash)
}

// StepHash adds one already hashed row.
func (a *Aggregator) StepHash(hash uint64) error {
	if err := a.sketch.Add(hash); err != nil {
		return err
	}
	a.rows++
	return nil
}

// Result returns the approximate distinct count of the rows seen so far.
func (a *Aggregator) Result() uint64 {
	return a.sketch.Cardinality()
}

// Rows returns the number of rows added.
func (a *Aggregator) Rows() uint64 { return a.rows }

// Skipped returns the number of NULL rows skipped.
func (a *Aggregator) Skipped() uint64 { return a.skipped }

// Sketch exposes the underlying sketch, for merging partial aggregates.
func (a *Aggregator) Sketch() *hyperloglog.HyperLogLog { return a.sketch }

// toHash converts a database integer into a hash.
func toHash(v any) (uint64, error) {
	switch x := v.(type) {
	case int64:
		if x < 0 {
			return 0, fmt.Errorf("%w: %d", ErrNotInteger, x)
		}
		return uint64(x), nil
	case int:
		if x < 0 {
			return 0, fmt.Errorf("%w: %d", ErrNotInteger, x)
		}
		return uint64(x), nil
	case int32:
		if x < 0 {
			return 0, fmt.Errorf("%w: %d", ErrNotInteger, x)
		}
		return uint64(x), nil
	case uint64:
		return x, nil
	case uint32:
		return uint64(x), nil
	case uint:
		return uint64(x), nil
	case float64:
		// Some drivers hand back integral REALs.
		if x < 0 || x != math.Trunc(x) || x >= math.MaxUint64 {
			return 0, fmt.Errorf("%w: %v", ErrNotInteger, x)
		}
		return uint64(x), nil
	default:
		return 0, fmt.Errorf("%w: got %T", ErrNotInteger, v)
	}
}

// ApproxCardinality estimates the number of distinct values. Nil values are
// ignored.
func ApproxCardinality[T any](values []T, precision uint8, hasher hashing.Hasher) (uint64, error) {
	agg, err := New(precision, hasher)
	if err != nil {
		return 0, err
	}
	for _, v := range values {
		if err := agg.Step(v); err != nil {
			return 0, fmt.Errorf("adding value %v: %w", v, err)
		}
	}
	return agg.Result(), nil
}

// ApproxCardinalityHashed estimates the number of distinct hashes.
func ApproxCardinalityHashed(hashes []uint64, precision uint8) (uint64, error) {
	agg, err := NewHashed(precision)
	if err != nil {
		return 0, err
	}
	for _, h := range hashes {
		if err := agg.StepHash(h); err != nil {
			return 0, fmt.Errorf("adding hash %#x: %w", h, err)
		}
	}
	return agg.Result(), nil
}
