package aggregate

import (
	"cmp"
	"slices"

	"github.com/fidde/simple_hll/pkg/hashing"
)

// Grouped evaluates one aggregate per group key, the GROUP BY form.
type Grouped[K cmp.Ordered] struct {
	precision uint8
	hasher    hashing.Hasher
	hashed    bool
	groups    map[K]*Aggregator
}

// NewGrouped returns a Grouped aggregate hashing values with hasher.
// The precision is validated up front so a bad configuration fails before the
// first row.
func NewGrouped[K cmp.Ordered](precision uint8, hasher hashing.Hasher) (*Grouped[K], error) {
	if _, err := New(precision, hasher); err != nil {
		return nil, err
	}
	return &Grouped[K]{precision: precision, hasher: hasher, groups: make(map[K]*Aggregator)}, nil
}

// NewGroupedHashed is NewGrouped for pre-hashed values.
func NewGroupedHashed[K cmp.Ordered](precision uint8) (*Grouped[K], error) {
	if _, err := NewHashed(precision); err != nil {
		return nil, err
	}
	return &Grouped[K]{precision: precision, hashed: true, groups: make(map[K]*Aggregator)}, nil
}

// Step adds v to the group identified by key.
func (g *Grouped[K]) Step(key K, v any) error {
	agg, ok := g.groups[key]
	if !ok {
		var err error
		if g.hashed {
			agg, err = NewHashed(g.precision)
		} else {
			agg, err = New(g.precision, g.hasher)
		}
		if err != nil {
			return err
		}
		g.groups[key] = agg
	}
	return agg.Step(v)
}

// Keys returns the group keys in ascending order.
func (g *Grouped[K]) Keys() []K {
	keys := make([]K, 0, len(g.groups))
	for k := range g.groups {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// Result returns the estimate for key, or 0 for an unseen key.
func (g *Grouped[K]) Result(key K) uint64 {
	agg, ok := g.groups[key]
	if !ok {
		return 0
	}
	return agg.Result()
}

// Results returns the estimate of every group.
func (g *Grouped[K]) Results() map[K]uint64 {
	out := make(map[K]uint64, len(g.groups))
	for k, agg := range g.groups {
		out[k] = agg.Result()
	}
	return out
}
