// Package main provides a benchmark tool for rungate to measure gate throughput against a store.
// Each worker owns a set of engines and hammers RunIfNeeded on them; only the first call per
// engine and period should get through.
//
// Usage:
//
//	go run benchmark/main.go -store redis -ops 100000
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/guido-cesarano/rungate/pkg/gate"
	"github.com/guido-cesarano/rungate/pkg/store"
)

func main() {
	backend := flag.String("store", "redis", "Backend to benchmark: redis, sqlite or memory")
	addr := flag.String("redis-addr", "localhost:6379", "Redis address")
	path := flag.String("sqlite-path", "rungate-bench.db", "SQLite database file")
	numOps := flag.Int("ops", 100000, "Number of RunIfNeeded calls")
	numWorkers := flag.Int("workers", 10, "Number of concurrent workers")
	numEngines := flag.Int("engines", 100, "Identities per worker")
	flag.Parse()

	st, err := store.Open(store.Config{Type: *backend, Addr: *addr, Path: *path})
	if err != nil {
		fmt.Printf("Error opening store: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()
	ctx := context.Background()

	fmt.Printf("rungate Benchmark\n")
	fmt.Printf("=================\n")
	fmt.Printf("Store: %s\n", *backend)
	fmt.Printf("Calls: %d\n", *numOps)
	fmt.Printf("Concurrent workers: %d (%d engines each)\n\n", *numWorkers, *numEngines)

	// Every identity of this run shares a prefix so cleanup leaves other gate state alone.
	runPrefix := "bench-" + uuid.NewString() + "-"

	var wg sync.WaitGroup
	var calls, runs, failed atomic.Int64
	opsPerWorker := *numOps / *numWorkers

	start := time.Now()
	for i := 0; i < *numWorkers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()

			engines := make([]*gate.Engine, *numEngines)
			for k := range engines {
				e, err := gate.NewEngine(fmt.Sprintf("%s%d-%d", runPrefix, workerID, k), st, gate.WithPeriod(gate.OnceADay))
				if err != nil {
					fmt.Printf("Worker %d: %v\n", workerID, err)
					return
				}
				engines[k] = e
			}

			for j := 0; j < opsPerWorker; j++ {
				ran, err := engines[j%len(engines)].RunIfNeeded(ctx, func(context.Context) bool { return true })
				if err != nil {
					failed.Add(1)
					continue
				}
				calls.Add(1)
				if ran {
					runs.Add(1)
				}
			}
		}(i)
	}
	wg.Wait()
	elapsed := time.Since(start)

	fmt.Printf("✓ %d decisions in %s\n", calls.Load(), elapsed)
	fmt.Printf("  Throughput: %.2f decisions/sec\n", float64(calls.Load())/elapsed.Seconds())
	fmt.Printf("  Runs allowed: %d (expected %d)\n", runs.Load(), int64(*numWorkers**numEngines))
	if n := failed.Load(); n > 0 {
		fmt.Printf("  Store errors: %d\n", n)
	}

	fmt.Printf("\nCleaning up...\n")
	cleanStart := time.Now()
	removed, err := store.DeletePrefix(ctx, st, gate.KeyPrefix+"."+runPrefix)
	if err != nil {
		fmt.Printf("Error cleaning up: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("✓ Removed %d benchmark keys in %s\n", removed, time.Since(cleanStart))
}
