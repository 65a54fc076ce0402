package api

import (
	"net/http"
	"runtime"
	"time"

	"github.com/fidde/simple_hll/pkg/models"
)

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string               `json:"status"`
	Timestamp time.Time            `json:"timestamp"`
	Version   string               `json:"version,omitempty"`
	Uptime    string               `json:"uptime,omitempty"`
	Hasher    string               `json:"hasher"`
	Sketches  int                  `json:"sketches"`
	Dataset   *models.DatasetStats `json:"dataset,omitempty"`
	Memory    *MemoryStats         `json:"memory,omitempty"`
}

// MemoryStats represents memory usage statistics
type MemoryStats struct {
	AllocMB      uint64 `json:"alloc_mb"`
	TotalAllocMB uint64 `json:"total_alloc_mb"`
	SysMB        uint64 `json:"sys_mb"`
	NumGC        uint32 `json:"num_gc"`
}

var startTime = time.Now()

// HandleHealth returns the health status of the application. A failing
// dataset backend degrades the status but still answers 200.
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	response := HealthResponse{
		Status:    "ok",
		Timestamp: time.Now(),
		Version:   "1.0.0",
		Uptime:    time.Since(startTime).String(),
		Hasher:    s.cfg.Hasher.Name(),
		Sketches:  len(s.registry.List()),
		Memory: &MemoryStats{
			AllocMB:      m.Alloc / 1024 / 1024,
			TotalAllocMB: m.TotalAlloc / 1024 / 1024,
			SysMB:        m.Sys / 1024 / 1024,
			NumGC:        m.NumGC,
		},
	}

	if s.store != nil {
		stats, err := s.store.Stats(r.Context())
		if err != nil {
			s.logger.Warn("health: dataset stats", "error", err)
			response.Status = "degraded"
		} else {
			response.Dataset = stats
		}
	}

	s.respondJSON(w, http.StatusOK, response)
}
