// Package models defines the data structures shared by the storage
// backends, the sketch registry and the API.
package models

import "errors"

var (
	// ErrNotFound is returned when a requested item is not found.
	ErrNotFound = errors.New("not found")

	// ErrUnsupportedField is returned for a column the dataset does not have.
	ErrUnsupportedField = errors.New("unsupported field")

	// ErrInvalidBound is returned when an upper bound does not parse for its field.
	ErrInvalidBound = errors.New("invalid upper bound")
)
