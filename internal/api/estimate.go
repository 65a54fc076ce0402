package api

import (
	"net/http"
	"runtime"

	"github.com/fidde/simple_hll/internal/aggregate"
	"github.com/fidde/simple_hll/pkg/hashing"
	"github.com/fidde/simple_hll/pkg/hyperloglog"
)

// HashRequest is the body of POST /hash.
type HashRequest struct {
	Hasher string `json:"hasher,omitempty"`
	Values []any  `json:"values"`
}

// HashResponse lists one hash per value; nil values hash to nil.
type HashResponse struct {
	Hasher string    `json:"hasher"`
	Hashes []*uint64 `json:"hashes"`
}

// CardinalityRequest is the body of POST /cardinality. Exactly one of
// Values and Hashes is used.
type CardinalityRequest struct {
	Precision *uint8   `json:"precision,omitempty"`
	Hasher    string   `json:"hasher,omitempty"`
	Values    []any    `json:"values,omitempty"`
	Hashes    []uint64 `json:"hashes,omitempty"`
}

// CardinalityResponse is the estimate with its intermediate values.
type CardinalityResponse struct {
	Precision uint8                `json:"precision"`
	Hasher    string               `json:"hasher,omitempty"`
	Rows      int                  `json:"rows"`
	Estimate  hyperloglog.Estimate `json:"estimate"`
}

// hashValues hashes values the way the approximate aggregate does.
// POST /api/v1/hash
func (s *Server) hashValues(w http.ResponseWriter, r *http.Request) {
	var req HashRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.respondErr(w, r, err)
		return
	}

	hasher, err := s.resolveHasher(req.Hasher)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}

	hashes := make([]*uint64, len(req.Values))
	for i, v := range req.Values {
		if v == nil {
			continue
		}
		h, err := hashing.Value(hasher, v)
		if err != nil {
			s.respondErr(w, r, valueError(i, err))
			return
		}
		hashes[i] = &h
	}

	s.respondJSON(w, http.StatusOK, HashResponse{
		Hasher: hasher.Name(),
		Hashes: hashes,
	})
}

// estimateCardinality estimates the distinct count of the posted values or
// hashes without keeping any state.
// POST /api/v1/cardinality
func (s *Server) estimateCardinality(w http.ResponseWriter, r *http.Request) {
	var req CardinalityRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.respondErr(w, r, err)
		return
	}
	if len(req.Values) > 0 && len(req.Hashes) > 0 {
		s.respondErr(w, r, badRequest("values and hashes are mutually exclusive"))
		return
	}

	precision := s.resolvePrecision(req.Precision)

	if req.Values == nil {
		sketch, err := aggregate.Parallel(r.Context(), req.Hashes, precision, runtime.GOMAXPROCS(0))
		if err != nil {
			s.respondErr(w, r, err)
			return
		}
		s.respondJSON(w, http.StatusOK, CardinalityResponse{
			Precision: precision,
			Rows:      len(req.Hashes),
			Estimate:  sketch.Estimate(),
		})
		return
	}

	hasher, err := s.resolveHasher(req.Hasher)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}

	agg, err := aggregate.New(precision, hasher)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	for i, v := range req.Values {
		if err := agg.Step(v); err != nil {
			s.respondErr(w, r, valueError(i, err))
			return
		}
	}

	s.respondJSON(w, http.StatusOK, CardinalityResponse{
		Precision: precision,
		Hasher:    hasher.Name(),
		Rows:      int(agg.Rows()),
		Estimate:  agg.Sketch().Estimate(),
	})
}
