package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Group is one day of sessions.
type Group struct {
	ID      uuid.UUID `json:"id"`
	Created time.Time `json:"created"`
}

// Session is one user visit. Every identifier column carries the same user in
// a different representation, so their exact distinct counts agree.
type Session struct {
	ID       int64     `json:"id"`
	UserUUID uuid.UUID `json:"user_uuid"`
	UserInt  int64     `json:"user_int"`
	UserStr  string    `json:"user_str"`
	UserHash int64     `json:"user_hash"`
	Created  time.Time `json:"created"`
	GroupID  uuid.UUID `json:"group_id"`
}

// Field names a session column that can be counted.
type Field string

const (
	FieldUserInt  Field = "user_int"
	FieldUserUUID Field = "user_uuid"
	FieldUserStr  Field = "user_str"
	// FieldUserHash holds a 31-bit hash of the user and is the column the
	// pre-hashed aggregate is meant for.
	FieldUserHash Field = "user_hash"
)

// Fields lists every countable column.
func Fields() []Field {
	return []Field{FieldUserInt, FieldUserUUID, FieldUserStr, FieldUserHash}
}

// ParseField validates a column name.
func ParseField(name string) (Field, error) {
	switch f := Field(strings.ToLower(strings.TrimSpace(name))); f {
	case FieldUserInt, FieldUserUUID, FieldUserStr, FieldUserHash:
		return f, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedField, name)
	}
}

// Integer reports whether the column holds integers.
func (f Field) Integer() bool {
	return f == FieldUserInt || f == FieldUserHash
}

// Value returns the column value of s. UUIDs are returned in their canonical
// text form, which is how the SQL backends store them.
func (f Field) Value(s *Session) any {
	switch f {
	case FieldUserInt:
		return s.UserInt
	case FieldUserUUID:
		return s.UserUUID.String()
	case FieldUserStr:
		return s.UserStr
	case FieldUserHash:
		return s.UserHash
	default:
		return nil
	}
}

// ParseBound converts the text form of an upper bound to the column's type:
// int64 for integer columns, string otherwise. UUID bounds are normalized to
// their canonical form.
func (f Field) ParseBound(raw string) (any, error) {
	switch f {
	case FieldUserInt, FieldUserHash:
		v, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w for %s: %q", ErrInvalidBound, f, raw)
		}
		return v, nil
	case FieldUserUUID:
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("%w for %s: %q", ErrInvalidBound, f, raw)
		}
		return id.String(), nil
	case FieldUserStr:
		return raw, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedField, f)
	}
}

// AtMost reports whether the column value of s is <= bound. Strings compare
// bytewise, the SQLite BINARY collation.
func (f Field) AtMost(s *Session, bound any) (bool, error) {
	switch v := f.Value(s).(type) {
	case int64:
		b, ok := bound.(int64)
		if !ok {
			return false, fmt.Errorf("%w for %s: %v", ErrInvalidBound, f, bound)
		}
		return v <= b, nil
	case string:
		b, ok := bound.(string)
		if !ok {
			return false, fmt.Errorf("%w for %s: %v", ErrInvalidBound, f, bound)
		}
		return v <= b, nil
	default:
		return false, fmt.Errorf("%w: %q", ErrUnsupportedField, f)
	}
}

// DateKey is the calendar day of t in UTC, the by-date grouping key.
func DateKey(t time.Time) string {
	return t.UTC().Format(time.DateOnly)
}

// DatasetStats summarizes stored data.
type DatasetStats struct {
	Groups   int64 `json:"groups"`
	Sessions int64 `json:"sessions"`
}
