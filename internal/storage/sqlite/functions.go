package sqlite

import (
	"database/sql/driver"
	"errors"
	"fmt"
	"sync"

	msqlite "modernc.org/sqlite"

	"github.com/fidde/simple_hll/internal/aggregate"
	"github.com/fidde/simple_hll/pkg/hashing"
)

// SQL function names.
const (
	FuncHash                    = "hll_hash"
	FuncApproxCardinality       = "hll_approx_cardinality"
	FuncApproxCardinalityHashed = "hll_approx_cardinality_hashed"
)

var (
	registerOnce sync.Once
	registerErr  error
)

// RegisterFunctions makes the hll_* functions available to every SQLite
// connection opened afterwards. Registration is process-wide and happens once;
// later calls return the first result.
//
//	hll_hash(value)                                -> 31-bit integer, NULL for NULL
//	hll_approx_cardinality(value, precision)       -> approximate COUNT(DISTINCT value)
//	hll_approx_cardinality_hashed(hash, precision) -> same over pre-hashed integers
func RegisterFunctions() error {
	registerOnce.Do(func() {
		registerErr = errors.Join(
			msqlite.RegisterFunction(FuncHash, &msqlite.FunctionImpl{
				NArgs:         1,
				Deterministic: true,
				Scalar:        hashScalar,
			}),
			msqlite.RegisterFunction(FuncApproxCardinality, &msqlite.FunctionImpl{
				NArgs:         2,
				Deterministic: true,
				MakeAggregate: func(msqlite.FunctionContext) (msqlite.AggregateFunction, error) {
					return &approxAggregate{}, nil
				},
			}),
			msqlite.RegisterFunction(FuncApproxCardinalityHashed, &msqlite.FunctionImpl{
				NArgs:         2,
				Deterministic: true,
				MakeAggregate: func(msqlite.FunctionContext) (msqlite.AggregateFunction, error) {
					return &approxAggregate{hashed: true}, nil
				},
			}),
		)
	})
	return registerErr
}

func hashScalar(_ *msqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
	if args[0] == nil {
		return nil, nil
	}
	h, err := hashing.Value(hashing.Default(), args[0])
	if err != nil {
		return nil, fmt.Errorf("%s: %w", FuncHash, err)
	}
	return int64(h), nil
}

// approxAggregate is one evaluation of an hll_approx_cardinality* aggregate.
// The aggregator is created on the first row, where the precision argument
// becomes known.
type approxAggregate struct {
	hashed    bool
	precision int64
	agg       *aggregate.Aggregator
}

func (a *approxAggregate) Step(_ *msqlite.FunctionContext, args []driver.Value) error {
	precision, ok := args[1].(int64)
	if !ok {
		return fmt.Errorf("precision must be an integer, got %T", args[1])
	}

	if a.agg == nil {
		if precision < 0 || precision > 255 {
			return fmt.Errorf("invalid precision %d", precision)
		}
		var err error
		if a.hashed {
			a.agg, err = aggregate.NewHashed(uint8(precision))
		} else {
			a.agg, err = aggregate.New(uint8(precision), hashing.Default())
		}
		if err != nil {
			return err
		}
		a.precision = precision
	} else if precision != a.precision {
		return fmt.Errorf("precision changed from %d to %d within one aggregate", a.precision, precision)
	}

	return a.agg.Step(args[0])
}

func (a *approxAggregate) WindowInverse(*msqlite.FunctionContext, []driver.Value) error {
	return errors.New("hll aggregates cannot remove rows and do not support sliding windows")
}

func (a *approxAggregate) WindowValue(*msqlite.FunctionContext) (driver.Value, error) {
	if a.agg == nil {
		return int64(0), nil
	}
	return int64(a.agg.Result()), nil
}

func (a *approxAggregate) Final(*msqlite.FunctionContext) {}
