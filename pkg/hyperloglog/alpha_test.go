package hyperloglog

import (
	"math"
	"testing"
)

func TestAlpha(t *testing.T) {
	tests := []struct {
		buckets uint32
		want    float64
	}{
		{16, 0.673},
		{32, 0.697},
		{64, 0.709},
		{128, 0.7213 / (1 + 1.079/128)},
		{1024, 0.7213 / (1 + 1.079/1024)},
		{1 << 18, 0.7213 / (1 + 1.079/float64(1<<18))},
	}

	for _, tt := range tests {
		if got := Alpha(tt.buckets); math.Abs(got-tt.want) > 1e-12 {
			t.Errorf("Alpha(%d) = %v, want %v", tt.buckets, got, tt.want)
		}
	}

	if got := Alpha(128); math.Abs(got-0.7152705) > 1e-6 {
		t.Errorf("Alpha(128) = %.7f, want 0.7152705", got)
	}
}

func TestSketchUsesAlpha(t *testing.T) {
	for p := uint8(MinPrecision); p <= MaxPrecision; p++ {
		hll := mustNew(t, p)
		if hll.alpha != Alpha(hll.Buckets()) {
			t.Errorf("precision %d: alpha = %v, want %v", p, hll.alpha, Alpha(hll.Buckets()))
		}
	}
}
