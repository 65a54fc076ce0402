package hashing

import (
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestKnownVectors(t *testing.T) {
	tests := []struct {
		name   string
		hasher Hasher
		input  string
		want   uint64
	}{
		{"murmur3 seed 0", Murmur3{}, "hello", 0x248bfa47},
		{"murmur3 seed 0 top bit dropped", Murmur3{}, "42", 0x3c58a436},
		{"murmur3 default", Default(), "hello", 0x5d7f56e8},
		{"murmur3 default empty", Default(), "", 0x6bb6c228},
		{"murmur3 default uuid", Default(), "00000000-0000-0000-0000-000000000001", 0x2262d92},
		{"xxhash empty", XXHash{}, "", 0x77a36d9b},
		{"xxhash abc", XXHash{}, "abc", 0x225e167a},
		{"blake2s empty", Blake2s{}, "", 1017475413},
		{"blake2s hello", Blake2s{}, "hello", 1447439588},
		{"blake2s uuid 0 hex", Blake2s{}, "00000000000000000000000000000000", 52927294},
		{"blake2s uuid 1 hex", Blake2s{}, "00000000000000000000000000000001", 1188046015},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, tt.hasher.Sum([]byte(tt.input)))
		})
	}
}

func TestMurmurSeedZeroFixedPoint(t *testing.T) {
	require.Zero(t, Murmur3{}.Sum(nil))
	require.NotZero(t, Default().Sum(nil))
}

func TestHashersStayInDomain(t *testing.T) {
	for _, name := range Names() {
		h, err := ByName(name)
		require.NoError(t, err)
		require.Equal(t, uint8(Bits), h.Bits())
		require.Equal(t, name, h.Name())

		for i := 0; i < 10000; i++ {
			v := h.Sum([]byte(fmt.Sprintf("value_%d", i)))
			require.Less(t, v, uint64(1)<<Bits, "%s produced %#x", name, v)
		}
	}
}

// TestHashersAreUniform checks the leading-bit distribution the sketch relies
// on: about half of the hashes have the top bit set, a quarter the next one.
func TestHashersAreUniform(t *testing.T) {
	const n = 200000

	for _, name := range Names() {
		t.Run(name, func(t *testing.T) {
			h, err := ByName(name)
			require.NoError(t, err)

			var top, second, odd int
			for i := 0; i < n; i++ {
				v := h.Sum([]byte(fmt.Sprintf("%d-%s", i, uuid.UUID{byte(i >> 8), byte(i)}.String())))
				switch {
				case v>>(Bits-1) == 1:
					top++
				case v>>(Bits-2) == 1:
					second++
				}
				if v&1 == 1 {
					odd++
				}
			}

			// 5 sigma of a binomial with p=1/2 or 1/4 over 200k draws is < 1.2%.
			require.InDelta(t, 0.5, float64(top)/n, 0.012)
			require.InDelta(t, 0.25, float64(second)/n, 0.012)
			require.InDelta(t, 0.5, float64(odd)/n, 0.012)
		})
	}
}

func TestByName(t *testing.T) {
	h, err := ByName("")
	require.NoError(t, err)
	require.Equal(t, Default(), h)

	_, err = ByName("md5")
	require.ErrorIs(t, err, ErrUnknownHasher)

	require.Equal(t, []string{"blake2s", "farm", "murmur3", "xxhash"}, Names())
}

func TestEncode(t *testing.T) {
	id := uuid.MustParse("00000000-0000-0000-0000-0000000222e0")

	tests := []struct {
		name  string
		value any
		want  string
	}{
		{"string", "user_1", "user_1"},
		{"bytes", []byte{0x61, 0x62}, "ab"},
		{"int", 42, "42"},
		{"int64 negative", int64(-7), "-7"},
		{"int32", int32(1 << 20), "1048576"},
		{"uint64 max", uint64(math.MaxUint64), "18446744073709551615"},
		{"float", 1.5, "1.5"},
		{"bool", true, "true"},
		{"uuid", id, "00000000-0000-0000-0000-0000000222e0"},
		{"time", time.Date(2024, 3, 1, 12, 0, 0, 0, time.FixedZone("x", 3600)), "2024-03-01T11:00:00Z"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Encode(tt.value)
			require.NoError(t, err)
			require.Equal(t, tt.want, string(got))
		})
	}
}

func TestEncodeErrors(t *testing.T) {
	_, err := Encode(nil)
	require.ErrorIs(t, err, ErrNullValue)

	_, err = Encode(struct{}{})
	require.ErrorIs(t, err, ErrUnsupportedType)

	_, err = Value(Default(), nil)
	require.ErrorIs(t, err, ErrNullValue)
}

func TestValueMatchesEncodedSum(t *testing.T) {
	h := Default()

	fromInt, err := Value(h, int64(123))
	require.NoError(t, err)
	fromString, err := Value(h, "123")
	require.NoError(t, err)

	require.Equal(t, fromString, fromInt, "integers hash like their decimal text")
}
