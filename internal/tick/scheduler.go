package tick

import (
	"fmt"
	"runtime/debug"
	"time"

	"github.com/MRamiBalles/CrowdCombat/server/internal/platform/logger"
)

// Pass describes one AdvanceFrame call.
type Pass struct {
	Frame        uint64
	Fired        bool
	Eligible     int // snapshot size n
	Batch        int // k = min(BatchSize, n)
	Ticked       int
	Failed       int
	Skipped      int // removed mid-pass, not ticked
	CursorBefore int
	CursorAfter  int
	Duration     time.Duration
}

// Stats is a point-in-time view of the scheduler.
type Stats struct {
	Frame         uint64  `json:"frame"`
	Cursor        int     `json:"cursor"`
	Registered    int     `json:"registered"`
	LastEligible  int     `json:"last_eligible"`
	Fires         uint64  `json:"fires"`
	Ticks         uint64  `json:"ticks"`
	Failures      uint64  `json:"failures"`
	Skipped       uint64  `json:"skipped"`
	Config        Config  `json:"config"`
	PendingConfig *Config `json:"pending_config,omitempty"`
}

// Option customizes a Scheduler.
type Option func(*Scheduler)

// WithFailureHandler receives every DispatchFailure.
func WithFailureHandler(fn func(Failure)) Option {
	return func(s *Scheduler) { s.onFailure = fn }
}

// WithPassObserver receives every Pass, fired or not.
func WithPassObserver(fn func(Pass)) Option {
	return func(s *Scheduler) { s.onPass = fn }
}

// Scheduler is the amortized round-robin dispatcher.
type Scheduler struct {
	logger   *logger.Logger
	registry *Registry
	gate     *FrameGate

	config  Config
	pending *Config

	cursor   int
	epoch    uint64 // bumped by Clear so an in-flight pass does not restore the cursor
	snapshot []Tickable
	running  bool

	fires, ticks, failures, skipped uint64
	lastEligible                    int

	onFailure func(Failure)
	onPass    func(Pass)
}

// NewScheduler validates cfg and creates a scheduler with an empty registry.
func NewScheduler(cfg Config, log *logger.Logger, opts ...Option) (*Scheduler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.NewNopLogger()
	}
	s := &Scheduler{
		logger:   log,
		registry: NewRegistry(),
		gate:     NewFrameGate(cfg.TickIntervalFrames),
		config:   cfg,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Register adds a participant. Safe to call from inside Tick.
func (s *Scheduler) Register(p Tickable) {
	s.registry.Register(p)
}

// Unregister removes a participant. It receives no further Tick calls,
// including later in the pass currently running.
func (s *Scheduler) Unregister(p Tickable) {
	s.registry.Unregister(p)
}

// Clear removes every participant and resets the cursor.
func (s *Scheduler) Clear() {
	s.registry.Clear()
	s.cursor = 0
	s.epoch++
}

// Count returns the number of registered participants.
func (s *Scheduler) Count() int {
	return s.registry.Count()
}

// Contains reports whether p is registered.
func (s *Scheduler) Contains(p Tickable) bool {
	return s.registry.Contains(p)
}

// Config returns the active configuration.
func (s *Scheduler) Config() Config {
	return s.config
}

// Reconfigure validates cfg and stages it for the next fire boundary.
func (s *Scheduler) Reconfigure(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	s.pending = &cfg
	return nil
}

// Stats returns counters and the current cursor.
func (s *Scheduler) Stats() Stats {
	st := Stats{
		Frame:        s.gate.Frame(),
		Cursor:       s.cursor,
		Registered:   s.registry.Count(),
		LastEligible: s.lastEligible,
		Fires:        s.fires,
		Ticks:        s.ticks,
		Failures:     s.failures,
		Skipped:      s.skipped,
		Config:       s.config,
	}
	if s.pending != nil {
		p := *s.pending
		st.PendingConfig = &p
	}
	return st
}

// AdvanceFrame is the per-step entry point. Call it exactly once per frame.
func (s *Scheduler) AdvanceFrame() Pass {
	if s.running {
		s.logger.Warn("[tick] AdvanceFrame called from inside a pass; ignored")
		return Pass{}
	}

	fired := s.gate.Advance()
	pass := Pass{Frame: s.gate.Frame(), Fired: fired, CursorBefore: s.cursor, CursorAfter: s.cursor}
	if fired {
		s.applyPending()
		s.fires++
		pass = s.dispatch(pass)
	}

	if s.onPass != nil {
		s.onPass(pass)
	}
	return pass
}

func (s *Scheduler) applyPending() {
	if s.pending == nil {
		return
	}
	s.config = *s.pending
	s.pending = nil
	s.gate.SetInterval(s.config.TickIntervalFrames)
	s.logger.Info(fmt.Sprintf("[tick] config applied: batch=%d interval=%d",
		s.config.BatchSize, s.config.TickIntervalFrames))
}

// dispatch ticks one contiguous, wrapped slice of the eligible snapshot.
func (s *Scheduler) dispatch(pass Pass) Pass {
	start := time.Now()
	s.running = true
	defer func() { s.running = false }()

	s.snapshot = s.registry.Snapshot(s.snapshot, func(p Tickable, err error) {
		s.report(Failure{Frame: pass.Frame, Index: -1, Phase: PhaseEligibility, Participant: p, Err: err})
	})
	n := len(s.snapshot)
	s.lastEligible = n
	pass.Eligible = n
	if n == 0 {
		pass.Duration = time.Since(start)
		return pass
	}

	k := min(s.config.BatchSize, n)
	first := s.cursor % n
	epoch := s.epoch
	pass.Batch = k

	for i := 0; i < k; i++ {
		idx := (first + i) % n
		p := s.snapshot[idx]
		if !s.registry.Contains(p) {
			pass.Skipped++
			continue
		}
		if err := invoke(p); err != nil {
			pass.Failed++
			s.report(Failure{Frame: pass.Frame, Index: idx, Phase: PhaseTick, Participant: p, Err: err})
		}
		pass.Ticked++
	}

	if s.epoch == epoch {
		s.cursor = (first + k) % n
	}
	pass.CursorAfter = s.cursor

	// Drop references so removed participants can be collected.
	clear(s.snapshot)
	s.snapshot = s.snapshot[:0]

	s.ticks += uint64(pass.Ticked)
	s.skipped += uint64(pass.Skipped)
	pass.Duration = time.Since(start)
	return pass
}

func (s *Scheduler) report(f Failure) {
	s.failures++
	s.logger.Error(fmt.Sprintf("[tick] dispatch failure: %v", f))
	if s.onFailure != nil {
		s.onFailure(f)
	}
}

func invoke(p Tickable) (err error) {
	defer func() {
		if v := recover(); v != nil {
			err = &PanicError{Value: v, Stack: debug.Stack()}
		}
	}()
	return p.Tick()
}
