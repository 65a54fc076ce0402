package models

import (
	"fmt"

	"github.com/fidde/simple_hll/pkg/hyperloglog"
)

// CardinalityQuery describes one exact-versus-approximate distinct count.
type CardinalityQuery struct {
	// Field is the counted column.
	Field Field `json:"field"`

	// Precision of the approximation, 4 to 18.
	Precision uint8 `json:"precision"`

	// Upper restricts the rows to Field <= Upper. Nil counts every row.
	// Use Field.ParseBound to build it.
	Upper any `json:"upper,omitempty"`

	// PreHashed feeds column values to the sketch without hashing them.
	// Only meaningful for FieldUserHash.
	PreHashed bool `json:"prehashed,omitempty"`
}

// CardinalityResult pairs the exact distinct count with the estimate.
type CardinalityResult struct {
	Exact  uint64 `json:"exact"`
	Approx uint64 `json:"approx"`
}

// DateCardinality is a CardinalityResult for one day.
type DateCardinality struct {
	Date string `json:"date"`
	CardinalityResult
}

// Validate checks the query before it reaches a backend.
func (q CardinalityQuery) Validate() error {
	if _, err := ParseField(string(q.Field)); err != nil {
		return err
	}
	if q.Precision < hyperloglog.MinPrecision || q.Precision > hyperloglog.MaxPrecision {
		return fmt.Errorf("%w: %d not in [%d, %d]", hyperloglog.ErrInvalidPrecision,
			q.Precision, hyperloglog.MinPrecision, hyperloglog.MaxPrecision)
	}
	if q.PreHashed && !q.Field.Integer() {
		return fmt.Errorf("%w: %s cannot be read as pre-hashed", ErrUnsupportedField, q.Field)
	}
	return nil
}
