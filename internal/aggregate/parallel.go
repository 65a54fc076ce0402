package aggregate

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"

	"github.com/fidde/simple_hll/pkg/hyperloglog"
)

// parallelChunk is how many hashes a worker adds between context checks.
const parallelChunk = 4096

// Parallel builds a sketch from hashes using several workers. Each worker
// fills a private sketch from a contiguous shard and the shards are merged at
// the end, so the result is identical to adding every hash sequentially.
// workers <= 0 uses GOMAXPROCS.
func Parallel(ctx context.Context, hashes []uint64, precision uint8, workers int) (*hyperloglog.HyperLogLog, error) {
	result, err := hyperloglog.New(precision)
	if err != nil {
		return nil, err
	}

	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	if workers > len(hashes) {
		workers = len(hashes)
	}
	if workers <= 1 {
		for _, h := range hashes {
			if err := result.Add(h); err != nil {
				return nil, fmt.Errorf("adding hash %#x: %w", h, err)
			}
		}
		return result, nil
	}

	workCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	shards := make([]*hyperloglog.HyperLogLog, workers)
	errs := make([]error, workers)
	size := (len(hashes) + workers - 1) / workers

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		lo := min(w*size, len(hashes))
		hi := min(lo+size, len(hashes))
		shards[w] = result.Clone()

		wg.Add(1)
		go func(w int, part []uint64) {
			defer wg.Done()
			errs[w] = fill(workCtx, shards[w], part)
			if errs[w] != nil {
				cancel()
			}
		}(w, hashes[lo:hi])
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	for _, err := range errs {
		// A failing worker cancels the others; report the failure, not the
		// cancellations it caused.
		if err != nil && !errors.Is(err, context.Canceled) {
			return nil, err
		}
	}
	for _, shard := range shards {
		if err := result.Merge(shard); err != nil {
			return nil, err
		}
	}
	return result, nil
}

func fill(ctx context.Context, sketch *hyperloglog.HyperLogLog, hashes []uint64) error {
	for i, h := range hashes {
		if i%parallelChunk == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		if err := sketch.Add(h); err != nil {
			return fmt.Errorf("adding hash %#x: %w", h, err)
		}
	}
	return nil
}
