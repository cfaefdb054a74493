package config

import (
	"fmt"
	"time"
)

// TargetCoverage is how long a full sweep of the eligible set may take
// before batches are considered too small. Matches the crowd's direction
// change period so every monster is visited at least once per turn.
const TargetCoverage = 2 * time.Second

// dispatchBudget is the share of one frame a dispatch pass may consume.
const dispatchBudget = 0.5

// Recommendations provides suggestions based on observed metrics.
type Recommendations struct {
	IncreaseBatchSize       bool     `json:"increase_batch_size"`
	DecreaseBatchSize       bool     `json:"decrease_batch_size"`
	IncreaseBroadcastBuffer bool     `json:"increase_broadcast_buffer"`
	Notes                   []string `json:"notes"`
}

// Analyze examines a metrics snapshot (see metrics.Collector.Snapshot)
// against the active config and returns tuning recommendations.
func Analyze(cfg *ServerConfig, metrics map[string]interface{}) *Recommendations {
	rec := &Recommendations{
		Notes: make([]string, 0),
	}

	if sched, ok := metrics["scheduler"].(map[string]interface{}); ok {
		if eligible, ok := sched["last_eligible"].(int); ok && eligible > 0 {
			frames := cfg.Scheduler.CoverageFrames(eligible)
			coverage := time.Duration(frames) * cfg.FrameInterval()
			if coverage > TargetCoverage {
				rec.IncreaseBatchSize = true
				rec.Notes = append(rec.Notes, fmt.Sprintf(
					"Full sweep of %d participants takes %s (> %s) - increase batch size",
					eligible, coverage, TargetCoverage))
			}
		}

		budget := float64(cfg.FrameInterval()) / 1e6 * dispatchBudget
		if maxMs, ok := sched["max_dispatch_ms"].(float64); ok && maxMs > budget {
			rec.DecreaseBatchSize = true
			rec.Notes = append(rec.Notes, fmt.Sprintf(
				"Dispatch pass peaked at %.2fms (budget %.2fms) - decrease batch size", maxMs, budget))
		}

		if failures, ok := sched["failures"].(uint64); ok && failures > 0 {
			rec.Notes = append(rec.Notes, fmt.Sprintf(
				"%d dispatch failures recorded - check /api/events?type=DISPATCH_FAILURE", failures))
		}
	}

	if hub, ok := metrics["hub"].(map[string]interface{}); ok {
		if dropped, ok := hub["dropped"].(uint64); ok && dropped > 0 {
			rec.IncreaseBroadcastBuffer = true
			rec.Notes = append(rec.Notes, "Frame reports dropped - increase broadcast buffer")
		}
	}

	return rec
}

// ApplyRecommendations modifies config based on recommendations.
// A decrease wins over an increase.
func ApplyRecommendations(config *ServerConfig, rec *Recommendations) *ServerConfig {
	switch {
	case rec.DecreaseBatchSize:
		config.Scheduler.BatchSize = max(1, config.Scheduler.BatchSize/2)
	case rec.IncreaseBatchSize:
		config.Scheduler.BatchSize *= 2
	}
	if rec.IncreaseBroadcastBuffer {
		config.BroadcastBuffer *= 2
		config.ClientSendBuffer *= 2
	}
	return config
}
