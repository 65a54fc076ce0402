// Command accuracy seeds a backend with the session dataset and checks how
// closely its approximate distinct counts track the exact ones.
//
// It exits with status 1 when any measurement exceeds its error bound.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/fidde/simple_hll/internal/config"
	"github.com/fidde/simple_hll/internal/dataset"
	"github.com/fidde/simple_hll/internal/harness"
	"github.com/fidde/simple_hll/internal/storage"
	"github.com/fidde/simple_hll/pkg/models"
)

func main() {
	var (
		configPath = flag.String("config", os.Getenv("HLL_CONFIG"), "path to YAML config file")
		backend    = flag.String("backend", "", "storage backend override: memory, sqlite or clickhouse")
		users      = flag.Int("users", 0, "number of users to generate (0 keeps the configured value)")
		fields     = flag.String("fields", "", "comma-separated fields (default user_int,user_uuid,user_str)")
		precisions = flag.String("precisions", "", "comma-separated precisions (default from config)")
		noSeed     = flag.Bool("no-seed", false, "use the data already in the backend")
		asJSON     = flag.Bool("json", false, "print reports as JSON")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Loading configuration: %v", err)
	}
	if *backend != "" {
		cfg.Storage.Backend = *backend
	}
	if *users > 0 {
		cfg.Dataset.Users = *users
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	hcfg := harness.Config{
		Fields:     harness.DefaultConfig().Fields,
		Precisions: cfg.Harness.Precisions,
		Samples:    cfg.Harness.Samples,
		Tolerance:  cfg.Harness.Tolerance,
	}
	if *fields != "" {
		hcfg.Fields, err = parseFields(*fields)
		if err != nil {
			log.Fatal(err)
		}
	}
	if *precisions != "" {
		hcfg.Precisions, err = parsePrecisions(*precisions)
		if err != nil {
			log.Fatal(err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := cfg.NewLogger()

	store, err := storage.NewStorage(ctx, cfg.StorageConfig(), logger)
	if err != nil {
		log.Fatalf("Creating storage: %v", err)
	}
	defer store.Close()

	if !*noSeed {
		if err := store.Clear(ctx); err != nil {
			log.Fatalf("Clearing storage: %v", err)
		}
		gen, err := dataset.New(cfg.DatasetConfig(), logger)
		if err != nil {
			log.Fatalf("Creating generator: %v", err)
		}
		n, err := gen.Run(ctx, store)
		if err != nil {
			log.Fatalf("Seeding dataset: %v", err)
		}
		log.Printf("Seeded %d sessions", n)
	}

	runner, err := harness.New(store, hcfg, logger)
	if err != nil {
		log.Fatalf("Creating harness: %v", err)
	}

	reports, err := runner.Run(ctx)
	if err != nil {
		log.Fatalf("Running harness: %v", err)
	}

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(reports); err != nil {
			log.Fatalf("Encoding reports: %v", err)
		}
	} else {
		for _, r := range reports {
			fmt.Println(r)
		}
	}

	failed := harness.Failed(reports)
	fmt.Printf("%d/%d passed\n", len(reports)-len(failed), len(reports))
	if len(failed) > 0 {
		store.Close()
		os.Exit(1)
	}
}

func parseFields(s string) ([]models.Field, error) {
	var out []models.Field
	for _, part := range strings.Split(s, ",") {
		f, err := models.ParseField(part)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, nil
}

func parsePrecisions(s string) ([]uint8, error) {
	var out []uint8
	for _, part := range strings.Split(s, ",") {
		p, err := strconv.ParseUint(strings.TrimSpace(part), 10, 8)
		if err != nil {
			return nil, fmt.Errorf("invalid precision %q: %w", part, err)
		}
		out = append(out, uint8(p))
	}
	return out, nil
}
