package soak

import (
	"context"
	"testing"

	"github.com/MRamiBalles/CrowdCombat/server/internal/platform/logger"
)

func TestScenariosPass(t *testing.T) {
	opts := Options{Population: 45, BatchSize: 20, Fires: 200, Seed: 7}
	results := RunAll(context.Background(), opts, logger.NewNopLogger(), "")

	if len(results) != len(Scenarios()) {
		t.Fatalf("got %d results, want %d", len(results), len(Scenarios()))
	}
	for _, r := range results {
		if !r.Passed {
			t.Errorf("%s failed: %s", r.Scenario, r.Reason)
		}
	}
}

func TestFilter(t *testing.T) {
	results := RunAll(context.Background(), DefaultOptions(), logger.NewNopLogger(), "static")
	if len(results) != 1 || results[0].Scenario != "static-coverage" {
		t.Fatalf("unexpected results: %+v", results)
	}
	if results[0].MaxGap != 10 {
		t.Errorf("200/20 static max gap = %d, want 10", results[0].MaxGap)
	}
}

func TestCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	for _, r := range RunAll(ctx, DefaultOptions(), logger.NewNopLogger(), "") {
		if r.Passed || r.Reason != "cancelled" {
			t.Errorf("%s ran under a cancelled context: %+v", r.Scenario, r)
		}
	}
}
