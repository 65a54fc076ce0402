package api

import (
	"net/http"
	"strconv"

	"github.com/fidde/simple_hll/internal/harness"
	"github.com/fidde/simple_hll/pkg/models"
)

// CardinalityQueryResponse echoes the query next to its result.
type CardinalityQueryResponse struct {
	Query  models.CardinalityQuery   `json:"query"`
	Result *models.CardinalityResult `json:"result"`
}

// DateCardinalityResponse echoes the query next to the per-day results.
type DateCardinalityResponse struct {
	Query models.CardinalityQuery   `json:"query"`
	Days  []*models.DateCardinality `json:"days"`
}

// AccuracyResponse lists harness reports.
type AccuracyResponse struct {
	Reports []*harness.Report `json:"reports"`
	Failed  int               `json:"failed"`
}

// parseCardinalityQuery reads field, precision, upper and prehashed from the
// query string.
func (s *Server) parseCardinalityQuery(r *http.Request) (models.CardinalityQuery, error) {
	params := r.URL.Query()

	field, err := models.ParseField(params.Get("field"))
	if err != nil {
		return models.CardinalityQuery{}, err
	}

	q := models.CardinalityQuery{Field: field, Precision: s.cfg.DefaultPrecision}

	if raw := params.Get("precision"); raw != "" {
		p, err := strconv.ParseUint(raw, 10, 8)
		if err != nil {
			return q, badRequest("invalid precision %q", raw)
		}
		q.Precision = uint8(p)
	}

	if params.Has("upper") {
		q.Upper, err = field.ParseBound(params.Get("upper"))
		if err != nil {
			return q, err
		}
	}

	if raw := params.Get("prehashed"); raw != "" {
		q.PreHashed, err = strconv.ParseBool(raw)
		if err != nil {
			return q, badRequest("invalid prehashed %q", raw)
		}
	}

	return q, q.Validate()
}

// datasetStats returns the number of stored groups and sessions.
// GET /api/v1/dataset/stats
func (s *Server) datasetStats(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		s.respondErr(w, r, errNoStorage)
		return
	}

	stats, err := s.store.Stats(r.Context())
	if err != nil {
		s.respondErr(w, r, err)
		return
	}

	s.respondJSON(w, http.StatusOK, stats)
}

// datasetCardinality compares the exact and approximate distinct count of a
// column, optionally restricted to field <= upper.
// GET /api/v1/dataset/cardinality?field=&precision=&upper=&prehashed=
func (s *Server) datasetCardinality(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		s.respondErr(w, r, errNoStorage)
		return
	}

	q, err := s.parseCardinalityQuery(r)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}

	res, err := s.store.CountDistinct(r.Context(), q)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}

	s.respondJSON(w, http.StatusOK, CardinalityQueryResponse{Query: q, Result: res})
}

// datasetCardinalityByDate is datasetCardinality per UTC day.
// GET /api/v1/dataset/cardinality/by-date?field=&precision=&upper=&prehashed=
func (s *Server) datasetCardinalityByDate(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		s.respondErr(w, r, errNoStorage)
		return
	}

	q, err := s.parseCardinalityQuery(r)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}

	days, err := s.store.CountDistinctByDate(r.Context(), q)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	if days == nil {
		days = []*models.DateCardinality{}
	}

	s.respondJSON(w, http.StatusOK, DateCardinalityResponse{Query: q, Days: days})
}

// datasetAccuracy runs the accuracy harness. With field and precision it
// measures that pair only; otherwise the configured grid.
// GET /api/v1/dataset/accuracy?field=&precision=
func (s *Server) datasetAccuracy(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		s.respondErr(w, r, errNoStorage)
		return
	}

	cfg := s.cfg.Harness
	params := r.URL.Query()

	if raw := params.Get("field"); raw != "" {
		field, err := models.ParseField(raw)
		if err != nil {
			s.respondErr(w, r, err)
			return
		}
		cfg.Fields = []models.Field{field}
	}
	if raw := params.Get("precision"); raw != "" {
		p, err := strconv.ParseUint(raw, 10, 8)
		if err != nil {
			s.respondErr(w, r, badRequest("invalid precision %q", raw))
			return
		}
		cfg.Precisions = []uint8{uint8(p)}
	}
	if raw := params.Get("samples"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			s.respondErr(w, r, badRequest("invalid samples %q", raw))
			return
		}
		cfg.Samples = n
	}

	runner, err := harness.New(s.store, cfg, s.logger)
	if err != nil {
		s.respondErr(w, r, badRequest("%v", err))
		return
	}

	reports, err := runner.Run(r.Context())
	if err != nil {
		s.respondErr(w, r, err)
		return
	}

	s.respondJSON(w, http.StatusOK, AccuracyResponse{
		Reports: reports,
		Failed:  len(harness.Failed(reports)),
	})
}
