package api

import (
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/fidde/simple_hll/pkg/hyperloglog"
	"github.com/fidde/simple_hll/pkg/models"
)

// CreateSketchRequest is the body of PUT /sketches/{name}.
type CreateSketchRequest struct {
	Precision *uint8 `json:"precision,omitempty"`
}

// AddHashesRequest is the body of POST /sketches/{name}/hashes.
type AddHashesRequest struct {
	Hashes []uint64 `json:"hashes"`
}

// AddValuesRequest is the body of POST /sketches/{name}/values.
type AddValuesRequest struct {
	Hasher string `json:"hasher,omitempty"`
	Values []any  `json:"values"`
}

// SnapshotRequest is the body of POST /sketches/{name}/snapshot.
type SnapshotRequest struct {
	Description string `json:"description,omitempty"`
}

// SketchResponse describes a sketch together with its current estimate.
type SketchResponse struct {
	*models.SketchInfo
	Estimate hyperloglog.Estimate `json:"estimate"`
}

// listSketches returns all sketches ordered by name.
// Supports pagination via ?limit=N&offset=M query parameters.
// GET /api/v1/sketches
func (s *Server) listSketches(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, paginateSlice(s.registry.List(), parsePaginationParams(r)))
}

// createSketch registers an empty sketch.
// PUT /api/v1/sketches/{name}
func (s *Server) createSketch(w http.ResponseWriter, r *http.Request) {
	var req CreateSketchRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.respondErr(w, r, err)
		return
	}

	info, err := s.registry.Create(chi.URLParam(r, "name"), s.resolvePrecision(req.Precision))
	if err != nil {
		s.respondErr(w, r, err)
		return
	}

	s.respondJSON(w, http.StatusCreated, info)
}

// getSketch describes a sketch.
// GET /api/v1/sketches/{name}
func (s *Server) getSketch(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	info, err := s.registry.Get(name)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	est, err := s.registry.Cardinality(name)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}

	s.respondJSON(w, http.StatusOK, SketchResponse{SketchInfo: info, Estimate: est})
}

// deleteSketch removes a sketch. Saved snapshots are kept.
// DELETE /api/v1/sketches/{name}
func (s *Server) deleteSketch(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	if err := s.registry.Delete(name); err != nil {
		s.respondErr(w, r, err)
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]string{
		"message": fmt.Sprintf("Sketch %s deleted", name),
	})
}

// addHashes records pre-hashed values.
// POST /api/v1/sketches/{name}/hashes
func (s *Server) addHashes(w http.ResponseWriter, r *http.Request) {
	var req AddHashesRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.respondErr(w, r, err)
		return
	}

	info, err := s.registry.Add(chi.URLParam(r, "name"), req.Hashes)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}

	s.respondJSON(w, http.StatusOK, info)
}

// addValues hashes and records values.
// POST /api/v1/sketches/{name}/values
func (s *Server) addValues(w http.ResponseWriter, r *http.Request) {
	var req AddValuesRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.respondErr(w, r, err)
		return
	}

	hasher, err := s.resolveHasher(req.Hasher)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}

	info, err := s.registry.AddValues(chi.URLParam(r, "name"), req.Values, hasher)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}

	s.respondJSON(w, http.StatusOK, info)
}

// mergeSketch folds the source sketch into the named one.
// POST /api/v1/sketches/{name}/merge/{source}
func (s *Server) mergeSketch(w http.ResponseWriter, r *http.Request) {
	info, err := s.registry.Merge(chi.URLParam(r, "name"), chi.URLParam(r, "source"))
	if err != nil {
		s.respondErr(w, r, err)
		return
	}

	s.respondJSON(w, http.StatusOK, info)
}

// exportSketch returns the binary encoding of a sketch.
// GET /api/v1/sketches/{name}/export
func (s *Server) exportSketch(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	data, err := s.registry.Export(name)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name+".hll"))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		s.logger.Warn("writing sketch export", "name", name, "error", err)
	}
}

// importSketch registers a sketch from a binary export.
// PUT /api/v1/sketches/{name}/import
func (s *Server) importSketch(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		s.respondErr(w, r, badRequest("reading body: %v", err))
		return
	}

	info, err := s.registry.Import(chi.URLParam(r, "name"), data)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}

	s.respondJSON(w, http.StatusCreated, info)
}

// snapshotSketch saves a sketch to the snapshot store.
// POST /api/v1/sketches/{name}/snapshot
func (s *Server) snapshotSketch(w http.ResponseWriter, r *http.Request) {
	var req SnapshotRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.respondErr(w, r, err)
		return
	}

	meta, err := s.registry.Snapshot(r.Context(), chi.URLParam(r, "name"), req.Description)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}

	s.respondJSON(w, http.StatusCreated, meta)
}

// restoreSketch replaces a sketch with its saved snapshot.
// POST /api/v1/sketches/{name}/restore
func (s *Server) restoreSketch(w http.ResponseWriter, r *http.Request) {
	info, err := s.registry.Restore(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		s.respondErr(w, r, err)
		return
	}

	s.respondJSON(w, http.StatusOK, info)
}

// listSnapshots returns metadata for all saved snapshots, newest first.
// GET /api/v1/snapshots
func (s *Server) listSnapshots(w http.ResponseWriter, r *http.Request) {
	list, err := s.registry.Snapshots(r.Context())
	if err != nil {
		s.respondErr(w, r, err)
		return
	}

	s.respondJSON(w, http.StatusOK, paginateSlice(list, parsePaginationParams(r)))
}
