package aggregate

import "math"

// ExpectedError is the theoretical relative standard error of a sketch with
// 2^precision registers: sqrt(3 ln 2 - 1) / sqrt(m), about 1.04/sqrt(m).
func ExpectedError(precision uint8) float64 {
	return math.Sqrt(3*math.Ln2-1) / math.Sqrt(math.Ldexp(1, int(precision)))
}

// Observation pairs an exact distinct count with its approximation.
type Observation struct {
	Exact  uint64 `json:"exact"`
	Approx uint64 `json:"approx"`
}

// RelativeError returns (approx - exact) / exact, or 0 when exact is 0 and
// the approximation agrees.
func (o Observation) RelativeError() float64 {
	diff := float64(o.Approx) - float64(o.Exact)
	if o.Exact == 0 {
		if o.Approx == 0 {
			return 0
		}
		return math.Inf(1)
	}
	return diff / float64(o.Exact)
}

// AbsoluteRMS is the root mean square of approx - exact.
func AbsoluteRMS(obs []Observation) float64 {
	if len(obs) == 0 {
		return 0
	}
	var sum float64
	for _, o := range obs {
		d := float64(o.Approx) - float64(o.Exact)
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(obs)))
}

// RelativeRMS is the root mean square of the relative errors, comparable
// with ExpectedError.
func RelativeRMS(obs []Observation) float64 {
	if len(obs) == 0 {
		return 0
	}
	var sum float64
	for _, o := range obs {
		r := o.RelativeError()
		sum += r * r
	}
	return math.Sqrt(sum / float64(len(obs)))
}
