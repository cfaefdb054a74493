// Package main - test-runner
// Runs the scheduler soak scenarios and exits non-zero when any fails.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/MRamiBalles/CrowdCombat/server/internal/platform/logger"
	"github.com/MRamiBalles/CrowdCombat/server/internal/soak"
)

func main() {
	opts := soak.DefaultOptions()
	flag.IntVar(&opts.Population, "population", opts.Population, "Participants per scenario")
	flag.IntVar(&opts.BatchSize, "batch", opts.BatchSize, "Batch size")
	flag.IntVar(&opts.Fires, "fires", opts.Fires, "Fires per scenario")
	flag.Int64Var(&opts.Seed, "seed", opts.Seed, "Random seed for churn")
	filter := flag.String("run", "", "Only run scenarios whose name contains this")
	asJSON := flag.Bool("json", false, "Print results as JSON")
	level := flag.String("log-level", "info", "Log level")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log := logger.New(os.Stderr, logger.ParseLevel(*level))

	fmt.Println("CROWD SCHEDULER - SOAK SUITE")
	fmt.Println(strings.Repeat("=", 60))
	fmt.Printf("population=%d batch=%d fires=%d seed=%d\n", opts.Population, opts.BatchSize, opts.Fires, opts.Seed)

	results := soak.RunAll(ctx, opts, log, *filter)

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		enc.Encode(results)
	}

	passed, failed := 0, 0
	fmt.Println(strings.Repeat("=", 60))
	for _, r := range results {
		status := "PASS"
		if r.Passed {
			passed++
		} else {
			failed++
			status = "FAIL"
		}
		fmt.Printf("  [%s] %-18s %6d fires %8d ticks  %s\n", status, r.Scenario, r.Fires, r.Ticks, r.Reason)
	}
	fmt.Println(strings.Repeat("=", 60))
	fmt.Printf("   Passed: %d\n", passed)
	fmt.Printf("   Failed: %d\n", failed)

	if failed > 0 || len(results) == 0 {
		os.Exit(1)
	}
}
