package aggregate

import (
	"context"
	"fmt"
	"math"
	"testing"

	"github.com/fidde/simple_hll/pkg/hashing"
	"github.com/fidde/simple_hll/pkg/hyperloglog"
	"github.com/stretchr/testify/require"
)

// uniformHashes returns n distinct non-zero 31-bit hashes (splitmix64).
func uniformHashes(seed uint64, n int) []uint64 {
	out := make([]uint64, 0, n)
	seen := make(map[uint64]struct{}, n)
	for i := uint64(0); len(out) < n; i++ {
		z := seed<<32 | i
		z += 0x9e3779b97f4a7c15
		z = (z ^ z>>30) * 0xbf58476d1ce4e5b9
		z = (z ^ z>>27) * 0x94d049bb133111eb
		h := (z ^ z>>31) >> 33
		if _, dup := seen[h]; h == 0 || dup {
			continue
		}
		seen[h] = struct{}{}
		out = append(out, h)
	}
	return out
}

func TestApproxCardinality(t *testing.T) {
	values := make([]string, 1000)
	for i := range values {
		values[i] = fmt.Sprintf("value_%d", i)
	}

	got, err := ApproxCardinality(values, 10, nil)
	require.NoError(t, err)
	require.Equal(t, uint64(1081), got)

	// Duplicates do not move the estimate.
	again, err := ApproxCardinality(append(values, values...), 10, hashing.Default())
	require.NoError(t, err)
	require.Equal(t, got, again)
}

func TestApproxCardinalityIntegers(t *testing.T) {
	values := make([]any, 0, 5002)
	for i := int64(1); i <= 5000; i++ {
		values = append(values, i)
	}
	values = append(values, nil, nil)

	agg, err := New(12, nil)
	require.NoError(t, err)
	for _, v := range values {
		require.NoError(t, agg.Step(v))
	}

	require.Equal(t, uint64(5165), agg.Result())
	require.Equal(t, uint64(5000), agg.Rows())
	require.Equal(t, uint64(2), agg.Skipped())
}

func TestApproxCardinalityInvalidPrecision(t *testing.T) {
	_, err := ApproxCardinality([]string{"a"}, 3, nil)
	require.ErrorIs(t, err, hyperloglog.ErrInvalidPrecision)

	_, err = ApproxCardinalityHashed([]uint64{1}, 19)
	require.ErrorIs(t, err, hyperloglog.ErrInvalidPrecision)
}

func TestApproxCardinalityHashed(t *testing.T) {
	hashes := uniformHashes(7, 1000)

	got, err := ApproxCardinalityHashed(hashes, 10)
	require.NoError(t, err)

	h := hyperloglog.MustNew(10)
	for _, v := range hashes {
		require.NoError(t, h.Add(v))
	}
	require.Equal(t, h.Cardinality(), got)
	require.Equal(t, uint64(1039), got)
}

func TestApproxCardinalityHashedZero(t *testing.T) {
	_, err := ApproxCardinalityHashed([]uint64{5, 0, 9}, 10)
	require.ErrorIs(t, err, hyperloglog.ErrZeroHash)
}

func TestHashedStepConversions(t *testing.T) {
	agg, err := NewHashed(8)
	require.NoError(t, err)

	require.NoError(t, agg.Step(int64(0x25)))
	require.NoError(t, agg.Step(uint32(0x10)))
	require.NoError(t, agg.Step(float64(0x7FFFFFF0)))
	require.NoError(t, agg.Step(nil))
	require.Equal(t, uint64(3), agg.Rows())
	require.Equal(t, uint64(1), agg.Skipped())

	for _, bad := range []any{int64(-1), "12", 1.5, []byte{1}} {
		require.ErrorIs(t, agg.Step(bad), ErrNotInteger, "value %v", bad)
	}
	require.Equal(t, uint64(3), agg.Rows())
}

func TestGrouped(t *testing.T) {
	g, err := NewGrouped[int](10, nil)
	require.NoError(t, err)

	for i := 0; i < 3000; i++ {
		require.NoError(t, g.Step(i%3, i))
	}

	require.Equal(t, []int{0, 1, 2}, g.Keys())
	require.Equal(t, map[int]uint64{0: 1050, 1: 1058, 2: 1009}, g.Results())
	require.Zero(t, g.Result(7))
}

func TestGroupedHashed(t *testing.T) {
	g, err := NewGroupedHashed[string](10)
	require.NoError(t, err)

	hashes := uniformHashes(7, 1000)
	for _, h := range hashes {
		require.NoError(t, g.Step("all", h))
	}
	require.Equal(t, uint64(1039), g.Result("all"))

	_, err = NewGroupedHashed[string](2)
	require.ErrorIs(t, err, hyperloglog.ErrInvalidPrecision)
}

func TestParallelMatchesSequential(t *testing.T) {
	hashes := uniformHashes(11, 20000)

	sequential := hyperloglog.MustNew(14)
	for _, h := range hashes {
		require.NoError(t, sequential.Add(h))
	}

	for _, workers := range []int{0, 1, 3, 8, 64} {
		t.Run(fmt.Sprintf("workers=%d", workers), func(t *testing.T) {
			got, err := Parallel(context.Background(), hashes, 14, workers)
			require.NoError(t, err)
			require.Equal(t, sequential.Registers(), got.Registers())
			require.Equal(t, uint64(20631), got.Cardinality())
		})
	}
}

func TestParallelSmallInputs(t *testing.T) {
	got, err := Parallel(context.Background(), nil, 10, 4)
	require.NoError(t, err)
	require.Zero(t, got.Cardinality())

	got, err = Parallel(context.Background(), []uint64{1, 2, 3, 4, 5}, 10, 4)
	require.NoError(t, err)
	require.Equal(t, uint64(5), got.Cardinality())
}

func TestParallelErrors(t *testing.T) {
	hashes := uniformHashes(3, 50000)
	hashes[40000] = 0

	_, err := Parallel(context.Background(), hashes, 12, 4)
	require.ErrorIs(t, err, hyperloglog.ErrZeroHash)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = Parallel(ctx, uniformHashes(3, 50000), 12, 4)
	require.ErrorIs(t, err, context.Canceled)
}

func TestExpectedError(t *testing.T) {
	// sqrt(3 ln 2 - 1) is the 1.04 of the usual 1.04/sqrt(m).
	require.InDelta(t, 1.0390, ExpectedError(0), 1e-4)
	require.InDelta(t, 0.04592, ExpectedError(9), 1e-5)
	require.InDelta(t, ExpectedError(10)/2, ExpectedError(12), 1e-12)
}

func TestRMS(t *testing.T) {
	obs := []Observation{
		{Exact: 100, Approx: 110},
		{Exact: 200, Approx: 180},
		{Exact: 50, Approx: 50},
	}

	require.InDelta(t, math.Sqrt((100.0+400.0)/3), AbsoluteRMS(obs), 1e-9)
	require.InDelta(t, math.Sqrt((0.01+0.01)/3), RelativeRMS(obs), 1e-9)
	require.Zero(t, AbsoluteRMS(nil))
	require.Zero(t, RelativeRMS(nil))

	require.Zero(t, Observation{}.RelativeError())
	require.True(t, math.IsInf(Observation{Approx: 1}.RelativeError(), 1))
}

func BenchmarkAggregatorStep(b *testing.B) {
	agg, err := New(14, nil)
	require.NoError(b, err)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = agg.Step(i)
	}
}

func BenchmarkParallel(b *testing.B) {
	hashes := uniformHashes(1, 1<<20)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := Parallel(context.Background(), hashes, 14, 0); err != nil {
			b.Fatal(err)
		}
	}
}
