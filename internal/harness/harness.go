// Package harness measures how closely the approximate distinct count of a
// storage backend tracks the exact count.
//
// For each field and precision it takes the first Samples values of the
// column as upper bounds and compares COUNT(DISTINCT field) with the
// approximation over the rows where field <= bound, once over the whole
// dataset (Total) and once per day (ByDate).
package harness

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/fidde/simple_hll/internal/aggregate"
	"github.com/fidde/simple_hll/internal/storage"
	"github.com/fidde/simple_hll/pkg/hyperloglog"
	"github.com/fidde/simple_hll/pkg/models"
)

// Default configuration values
const (
	DefaultSamples   = 10
	DefaultTolerance = 1.5
)

// Modes of a report
const (
	ModeTotal  = "total"
	ModeByDate = "by-date"
)

// Config selects what the harness measures.
type Config struct {
	Fields     []models.Field
	Precisions []uint8
	Samples    int

	// Tolerance scales the expected relative error into the pass bound.
	Tolerance float64
}

// DefaultConfig returns the reference grid: the three value columns at the
// precisions 5 and 8 to 12.
func DefaultConfig() Config {
	return Config{
		Fields:     []models.Field{models.FieldUserInt, models.FieldUserUUID, models.FieldUserStr},
		Precisions: []uint8{5, 8, 9, 10, 11, 12},
		Samples:    DefaultSamples,
		Tolerance:  DefaultTolerance,
	}
}

// Observation is one exact-versus-approximate measurement.
type Observation struct {
	Upper any    `json:"upper"`
	Date  string `json:"date,omitempty"`
	aggregate.Observation
}

// Report is the outcome of one (mode, field, precision) run.
type Report struct {
	Mode         string         `json:"mode"`
	Field        models.Field   `json:"field"`
	Precision    uint8          `json:"precision"`
	Observations []*Observation `json:"observations"`

	// ExpectedError is the theoretical relative standard error.
	ExpectedError float64 `json:"expected_error"`
	Tolerance     float64 `json:"tolerance"`
	RelativeRMS   float64 `json:"relative_rms"`
	AbsoluteRMS   float64 `json:"absolute_rms"`

	// Passed reports RelativeRMS <= ExpectedError * Tolerance.
	Passed bool `json:"passed"`

	// AbsolutePassed reports AbsoluteRMS <= ExpectedError, comparing an
	// absolute error with a relative bound. It only holds for tiny counts.
	AbsolutePassed bool `json:"absolute_passed"`
}

func (r *Report) String() string {
	status := "PASS"
	if !r.Passed {
		status = "FAIL"
	}
	return fmt.Sprintf("%-4s %-7s %-9s p=%-2d n=%-3d rel_rms=%.4f bound=%.4f abs_rms=%.3f",
		status, r.Mode, r.Field, r.Precision, len(r.Observations),
		r.RelativeRMS, r.ExpectedError*r.Tolerance, r.AbsoluteRMS)
}

// Runner executes accuracy runs against a backend.
type Runner struct {
	store  storage.Storage
	cfg    Config
	logger *slog.Logger
}

// New validates cfg and returns a Runner.
func New(store storage.Storage, cfg Config, logger *slog.Logger) (*Runner, error) {
	if store == nil {
		return nil, errors.New("harness: storage cannot be nil")
	}
	if cfg.Samples <= 0 {
		return nil, fmt.Errorf("harness: samples must be positive, got %d", cfg.Samples)
	}
	if cfg.Tolerance <= 0 {
		cfg.Tolerance = DefaultTolerance
	}
	for _, f := range cfg.Fields {
		if _, err := models.ParseField(string(f)); err != nil {
			return nil, fmt.Errorf("harness: %w", err)
		}
	}
	for _, p := range cfg.Precisions {
		if p < hyperloglog.MinPrecision || p > hyperloglog.MaxPrecision {
			return nil, fmt.Errorf("harness: %w: %d", hyperloglog.ErrInvalidPrecision, p)
		}
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Runner{store: store, cfg: cfg, logger: logger}, nil
}

// Total measures the whole dataset for one field and precision.
func (r *Runner) Total(ctx context.Context, field models.Field, precision uint8) (*Report, error) {
	bounds, err := r.store.SampleValues(ctx, field, r.cfg.Samples)
	if err != nil {
		return nil, fmt.Errorf("sampling %s: %w", field, err)
	}

	report := r.newReport(ModeTotal, field, precision)
	for _, upper := range bounds {
		res, err := r.store.CountDistinct(ctx, models.CardinalityQuery{
			Field:     field,
			Precision: precision,
			Upper:     upper,
		})
		if err != nil {
			return nil, fmt.Errorf("counting %s <= %v: %w", field, upper, err)
		}
		report.Observations = append(report.Observations, &Observation{
			Upper:       upper,
			Observation: aggregate.Observation{Exact: res.Exact, Approx: res.Approx},
		})
	}

	r.finish(report)
	return report, nil
}

// ByDate measures each day separately for one field and precision.
func (r *Runner) ByDate(ctx context.Context, field models.Field, precision uint8) (*Report, error) {
	bounds, err := r.store.SampleValues(ctx, field, r.cfg.Samples)
	if err != nil {
		return nil, fmt.Errorf("sampling %s: %w", field, err)
	}

	report := r.newReport(ModeByDate, field, precision)
	for _, upper := range bounds {
		days, err := r.store.CountDistinctByDate(ctx, models.CardinalityQuery{
			Field:     field,
			Precision: precision,
			Upper:     upper,
		})
		if err != nil {
			return nil, fmt.Errorf("counting %s <= %v by date: %w", field, upper, err)
		}
		for _, day := range days {
			report.Observations = append(report.Observations, &Observation{
				Upper:       upper,
				Date:        day.Date,
				Observation: aggregate.Observation{Exact: day.Exact, Approx: day.Approx},
			})
		}
	}

	r.finish(report)
	return report, nil
}

// Run measures every configured field and precision in both modes.
// It stops at the first backend error.
func (r *Runner) Run(ctx context.Context) ([]*Report, error) {
	var reports []*Report
	for _, field := range r.cfg.Fields {
		for _, precision := range r.cfg.Precisions {
			for _, measure := range []func(context.Context, models.Field, uint8) (*Report, error){r.Total, r.ByDate} {
				if err := ctx.Err(); err != nil {
					return reports, err
				}
				report, err := measure(ctx, field, precision)
				if err != nil {
					return reports, err
				}
				r.logger.Info("accuracy measured",
					"mode", report.Mode,
					"field", field,
					"precision", precision,
					"relative_rms", report.RelativeRMS,
					"passed", report.Passed)
				reports = append(reports, report)
			}
		}
	}
	return reports, nil
}

// Failed returns the reports that did not pass.
func Failed(reports []*Report) []*Report {
	var out []*Report
	for _, r := range reports {
		if !r.Passed {
			out = append(out, r)
		}
	}
	return out
}

func (r *Runner) newReport(mode string, field models.Field, precision uint8) *Report {
	return &Report{
		Mode:          mode,
		Field:         field,
		Precision:     precision,
		ExpectedError: aggregate.ExpectedError(precision),
		Tolerance:     r.cfg.Tolerance,
	}
}

func (r *Runner) finish(report *Report) {
	obs := make([]aggregate.Observation, len(report.Observations))
	for i, o := range report.Observations {
		obs[i] = o.Observation
	}

	report.AbsoluteRMS = aggregate.AbsoluteRMS(obs)
	report.RelativeRMS = aggregate.RelativeRMS(obs)
	report.Passed = !math.IsInf(report.RelativeRMS, 0) &&
		report.RelativeRMS <= report.ExpectedError*report.Tolerance
	report.AbsolutePassed = report.AbsoluteRMS <= report.ExpectedError
}
