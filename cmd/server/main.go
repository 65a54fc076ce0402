// Package main is the entry point for the simple_hll API server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fidde/simple_hll/internal/api"
	"github.com/fidde/simple_hll/internal/config"
	"github.com/fidde/simple_hll/internal/dataset"
	"github.com/fidde/simple_hll/internal/harness"
	"github.com/fidde/simple_hll/internal/registry"
	"github.com/fidde/simple_hll/internal/storage"
	"github.com/fidde/simple_hll/internal/storage/dual"
	"github.com/fidde/simple_hll/internal/storage/snapshots"
	"github.com/fidde/simple_hll/pkg/models"
)

func main() {
	configPath := flag.String("config", os.Getenv("HLL_CONFIG"), "path to YAML config file")
	flag.Parse()

	log.Println("Starting simple_hll server...")

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Loading configuration: %v", err)
	}
	logger := cfg.NewLogger()

	ctx := context.Background()

	// Create storage
	store, err := storage.NewStorage(ctx, cfg.StorageConfig(), logger)
	if err != nil {
		log.Fatalf("Creating storage: %v", err)
	}
	if mirrorCfg, ok := cfg.MirrorConfig(); ok {
		mirror, err := storage.NewStorage(ctx, mirrorCfg, logger)
		if err != nil {
			log.Fatalf("Creating mirror storage: %v", err)
		}
		log.Printf("Mirroring writes to %s", mirrorCfg.Backend)
		store = dual.New(dual.Config{Primary: store, Secondary: mirror, Logger: logger})
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Printf("Error closing storage: %v", err)
		}
	}()

	if cfg.Dataset.Seed {
		if err := seed(ctx, cfg, store); err != nil {
			log.Fatalf("Seeding dataset: %v", err)
		}
	}

	// Sketch registry with optional snapshot persistence
	var snaps *snapshots.Store
	if cfg.Snapshots.Enabled {
		snaps, err = snapshots.New(cfg.SnapshotConfig())
		if err != nil {
			log.Fatalf("Creating snapshot store: %v", err)
		}
		log.Printf("Snapshots stored in %s", cfg.Snapshots.Dir)
	}
	reg := registry.New(snaps, logger)

	// Create REST API server
	apiCfg := api.Config{
		Addr:             cfg.Server.APIAddr,
		RequestTimeout:   cfg.Server.RequestTimeout,
		DefaultPrecision: cfg.Estimator.Precision,
		Hasher:           cfg.Hasher(),
		Harness: harness.Config{
			Fields:     harness.DefaultConfig().Fields,
			Precisions: cfg.Harness.Precisions,
			Samples:    cfg.Harness.Samples,
			Tolerance:  cfg.Harness.Tolerance,
		},
	}
	apiServer := api.NewServer(apiCfg, store, reg, logger)

	// Start pprof server for profiling (separate port)
	if cfg.Server.PprofAddr != "" {
		go func() {
			log.Printf("Starting pprof server on http://%s/debug/pprof", cfg.Server.PprofAddr)
			if err := http.ListenAndServe(cfg.Server.PprofAddr, nil); err != nil {
				log.Printf("pprof server error: %v", err)
			}
		}()
	}

	errChan := make(chan error, 1)
	go func() {
		log.Printf("Starting REST API server on %s", cfg.Server.APIAddr)
		if err := apiServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("API server error: %w", err)
		}
	}()

	log.Println("API endpoints:")
	log.Printf("  - Health: http://%s/api/v1/health", cfg.Server.APIAddr)
	log.Printf("  - Estimate: http://%s/api/v1/cardinality", cfg.Server.APIAddr)
	log.Printf("  - Sketches: http://%s/api/v1/sketches", cfg.Server.APIAddr)
	log.Printf("  - Dataset: http://%s/api/v1/dataset/cardinality", cfg.Server.APIAddr)
	log.Printf("  - Accuracy: http://%s/api/v1/dataset/accuracy", cfg.Server.APIAddr)

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errChan:
		log.Fatalf("Server error: %v", err)
	case sig := <-sigChan:
		log.Printf("Received signal: %v, shutting down...", sig)
	}

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	log.Println("Shutting down API server...")
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("Error shutting down API server: %v", err)
	}

	log.Println("Shutdown complete")
}

// seed generates the session dataset unless the backend already holds data.
func seed(ctx context.Context, cfg *config.Config, store storage.Storage) error {
	stats, err := store.Stats(ctx)
	if err != nil {
		return err
	}
	if stats.Sessions > 0 {
		log.Printf("Dataset already present (%d sessions), skipping seed", stats.Sessions)
		return nil
	}

	dsCfg := cfg.DatasetConfig()
	gen, err := dataset.New(dsCfg, cfg.NewLogger())
	if err != nil {
		return err
	}

	start := time.Now()
	n, err := gen.Run(ctx, store)
	if err != nil {
		return err
	}
	log.Printf("Seeded %d sessions for %d users over %d days (starting %s) in %v",
		n, dsCfg.Users, dsCfg.Days, models.DateKey(dsCfg.Base), time.Since(start).Round(time.Millisecond))
	return nil
}
