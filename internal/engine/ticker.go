// Package engine is the composition root of the crowd server: it owns the
// tick scheduler and the monster pool and drives them one frame at a time.
//
// The scheduler is not safe for concurrent use. Anything outside the driver
// goroutine talks to the engine through Submit or Do.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/MRamiBalles/CrowdCombat/server/internal/platform/logger"
)

// Ticker is the frame driver. It knows nothing about monsters or the
// scheduler, only how often to call step.
type Ticker struct {
	interval time.Duration
	step     func()
	logger   *logger.Logger
	stopChan chan struct{}
	stopOnce sync.Once
	frames   int64
}

// NewTicker creates a frame driver calling step every interval.
func NewTicker(interval time.Duration, step func(), log *logger.Logger) *Ticker {
	return &Ticker{
		interval: interval,
		step:     step,
		logger:   log,
		stopChan: make(chan struct{}),
	}
}

// Start begins the frame loop. Call in a goroutine.
func (t *Ticker) Start(ctx context.Context) {
	t.logger.Info(fmt.Sprintf("Frame driver started (%s per frame)", t.interval))

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			t.logger.Info(fmt.Sprintf("Frame driver stopped by context after %d frames.", t.frames))
			return
		case <-t.stopChan:
			t.logger.Info(fmt.Sprintf("Frame driver stopped manually after %d frames.", t.frames))
			return
		case <-ticker.C:
			t.frames++
			t.step()
		}
	}
}

// Stop gracefully stops the ticker. Safe to call more than once.
func (t *Ticker) Stop() {
	t.stopOnce.Do(func() { close(t.stopChan) })
}
