package hashing

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNullValue is returned when encoding a nil value. Aggregates skip NULLs.
	ErrNullValue = errors.New("hashing: null value")

	// ErrUnsupportedType is returned for values without a canonical encoding.
	ErrUnsupportedType = errors.New("hashing: unsupported value type")

	// ErrUnknownHasher is returned by ByName for an unregistered name.
	ErrUnknownHasher = errors.New("hashing: unknown hasher")
)

// Encode renders a field value in its canonical text form, the form a
// database casts it to before hashing. Integers are decimal, UUIDs use the
// hyphenated lowercase form and times are RFC 3339 in UTC.
func Encode(v any) ([]byte, error) {
	switch x := v.(type) {
	case nil:
		return nil, ErrNullValue
	case []byte:
		return x, nil
	case string:
		return []byte(x), nil
	case int:
		return strconv.AppendInt(nil, int64(x), 10), nil
	case int8:
		return strconv.AppendInt(nil, int64(x), 10), nil
	case int16:
		return strconv.AppendInt(nil, int64(x), 10), nil
	case int32:
		return strconv.AppendInt(nil, int64(x), 10), nil
	case int64:
		return strconv.AppendInt(nil, x, 10), nil
	case uint:
		return strconv.AppendUint(nil, uint64(x), 10), nil
	case uint8:
		return strconv.AppendUint(nil, uint64(x), 10), nil
	case uint16:
		return strconv.AppendUint(nil, uint64(x), 10), nil
	case uint32:
		return strconv.AppendUint(nil, uint64(x), 10), nil
	case uint64:
		return strconv.AppendUint(nil, x, 10), nil
	case float32:
		return strconv.AppendFloat(nil, float64(x), 'g', -1, 32), nil
	case float64:
		return strconv.AppendFloat(nil, x, 'g', -1, 64), nil
	case bool:
		return strconv.AppendBool(nil, x), nil
	case uuid.UUID:
		return []byte(x.String()), nil
	case time.Time:
		return []byte(x.UTC().Format(time.RFC3339Nano)), nil
	case fmt.Stringer:
		return []byte(x.String()), nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedType, v)
	}
}

// Value encodes v and hashes it with h.
func Value(h Hasher, v any) (uint64, error) {
	data, err := Encode(v)
	if err != nil {
		return 0, err
	}
	return h.Sum(data), nil
}
