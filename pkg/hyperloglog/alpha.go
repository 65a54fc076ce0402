package hyperloglog

// Empirical bias-correction constants from Flajolet et al. (2007).
const (
	alpha16 = 0.673
	alpha32 = 0.697
	alpha64 = 0.709
)

// Alpha returns the bias-correction constant for a sketch with the given
// number of registers. The small sizes use the tabulated constants; from 128
// registers on the closed-form approximation applies.
func Alpha(buckets uint32) float64 {
	switch buckets {
	case 16:
		return alpha16
	case 32:
		return alpha32
	case 64:
		return alpha64
	default:
		return 0.7213 / (1 + 1.079/float64(buckets))
	}
}
