// Package soak runs long scheduler scenarios against a real tick.Scheduler
// and reports pass/fail per scenario. cmd/test-runner is its front end.
package soak

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/MRamiBalles/CrowdCombat/server/internal/platform/logger"
	"github.com/MRamiBalles/CrowdCombat/server/internal/tick"
)

// Result captures the outcome of each scenario.
type Result struct {
	Scenario string        `json:"scenario"`
	Fires    int           `json:"fires"`
	Ticks    uint64        `json:"ticks"`
	Failures uint64        `json:"failures"`
	MaxGap   int           `json:"max_gap"` // fires between two ticks of one participant
	Passed   bool          `json:"passed"`
	Reason   string        `json:"reason"`
	Duration time.Duration `json:"duration"`
}

// Options sizes the scenarios.
type Options struct {
	Population int
	BatchSize  int
	Fires      int
	Seed       int64
}

// DefaultOptions is a few minutes' worth of server time at the default config.
func DefaultOptions() Options {
	return Options{Population: 200, BatchSize: 20, Fires: 600, Seed: 1}
}

// Scenario is one named soak run.
type Scenario struct {
	Name        string
	Description string
	Run         func(ctx context.Context, opts Options) Result
}

// Scenarios returns every scenario in run order.
func Scenarios() []Scenario {
	return []Scenario{
		{"static-coverage", "static population: full coverage within ceil(n/B) fires, tick gap <= 1", staticCoverage},
		{"failure-isolation", "10% failing, one panicking: nobody else loses a tick", failureIsolation},
		{"churn", "random register/unregister and self-removal: removed never tick, fairness stays approximate", churn},
		{"reconfigure", "batch size change applies at the next fire boundary", reconfigure},
	}
}

// RunAll runs the scenarios whose name contains filter (all when empty).
func RunAll(ctx context.Context, opts Options, log *logger.Logger, filter string) []Result {
	var results []Result
	for _, sc := range Scenarios() {
		if filter != "" && !strings.Contains(sc.Name, filter) {
			continue
		}
		if ctx.Err() != nil {
			results = append(results, Result{Scenario: sc.Name, Reason: "cancelled"})
			continue
		}
		start := time.Now()
		r := sc.Run(ctx, opts)
		r.Scenario = sc.Name
		r.Duration = time.Since(start)
		log.Info(fmt.Sprintf("[soak] %s: passed=%v fires=%d ticks=%d max_gap=%d (%s)",
			sc.Name, r.Passed, r.Fires, r.Ticks, r.MaxGap, r.Reason))
		results = append(results, r)
	}
	return results
}

// harness tracks per-participant tick history for one scenario. Every
// AdvanceFrame of a harness scheduler is a fire (interval 1). Scheduler
// logging is discarded.
type harness struct {
	sched      *tick.Scheduler
	fire       int
	violations int // ticks delivered after removal
	all        []*participant
}

type participant struct {
	h        *harness
	id       int
	ticks    int
	since    int // fire of last tick, or of registration
	maxGap   int
	removed  bool
	fail     error
	panics   bool
	lifetime int // self-unregisters after this many ticks when > 0
}

func (p *participant) Tick() error {
	if p.removed {
		p.h.violations++
	}
	p.ticks++
	p.maxGap = max(p.maxGap, p.h.fire-p.since)
	p.since = p.h.fire

	if p.lifetime > 0 && p.ticks >= p.lifetime {
		p.h.remove(p)
	}
	if p.panics {
		panic(fmt.Sprintf("participant %d exploded", p.id))
	}
	return p.fail
}

func (p *participant) IsEligible() bool { return true }

func newHarness(cfg tick.Config, opts ...tick.Option) (*harness, error) {
	s, err := tick.NewScheduler(cfg, logger.NewNopLogger(), opts...)
	if err != nil {
		return nil, err
	}
	return &harness{sched: s}, nil
}

func (h *harness) add() *participant {
	p := &participant{h: h, id: len(h.all), since: h.fire}
	h.all = append(h.all, p)
	h.sched.Register(p)
	return p
}

func (h *harness) remove(p *participant) {
	p.removed = true
	h.sched.Unregister(p)
}

func (h *harness) step() tick.Pass {
	h.fire++
	return h.sched.AdvanceFrame()
}

// maxGap includes the open gap of participants that are still registered.
func (h *harness) maxGap() int {
	gap := 0
	for _, p := range h.all {
		gap = max(gap, p.maxGap)
		if !p.removed {
			gap = max(gap, h.fire-p.since)
		}
	}
	return gap
}

func (h *harness) tickRange() (lo, hi int) {
	lo = -1
	for _, p := range h.all {
		if p.removed {
			continue
		}
		if lo < 0 || p.ticks < lo {
			lo = p.ticks
		}
		hi = max(hi, p.ticks)
	}
	return lo, hi
}

func (h *harness) result(fires int) Result {
	st := h.sched.Stats()
	return Result{Fires: fires, Ticks: st.Ticks, Failures: st.Failures, MaxGap: h.maxGap()}
}

func staticCoverage(ctx context.Context, opts Options) Result {
	h, err := newHarness(tick.Config{BatchSize: opts.BatchSize, TickIntervalFrames: 1})
	if err != nil {
		return Result{Reason: err.Error()}
	}
	for i := 0; i < opts.Population; i++ {
		h.add()
	}

	cover := tick.Config{BatchSize: opts.BatchSize}.CoverageFires(opts.Population)
	fires := 0
	for ; fires < cover; fires++ {
		h.step()
	}
	if lo, _ := h.tickRange(); lo < 1 {
		r := h.result(fires)
		r.Reason = fmt.Sprintf("not everyone ticked after %d fires", cover)
		return r
	}

	for ; fires < opts.Fires && ctx.Err() == nil; fires++ {
		h.step()
		if lo, hi := h.tickRange(); hi-lo > 1 {
			r := h.result(fires)
			r.Reason = fmt.Sprintf("tick gap %d at fire %d", hi-lo, fires)
			return r
		}
	}

	r := h.result(fires)
	r.Passed = r.MaxGap <= cover
	r.Reason = fmt.Sprintf("coverage %d fires, max gap %d", cover, r.MaxGap)
	return r
}

func failureIsolation(ctx context.Context, opts Options) Result {
	var failures int
	h, err := newHarness(tick.Config{BatchSize: opts.BatchSize, TickIntervalFrames: 1},
		tick.WithFailureHandler(func(tick.Failure) { failures++ }))
	if err != nil {
		return Result{Reason: err.Error()}
	}
	boom := errors.New("boom")
	for i := 0; i < opts.Population; i++ {
		p := h.add()
		if i%10 == 3 {
			p.fail = boom
		}
	}
	h.all[len(h.all)/2].panics = true

	fires := 0
	for ; fires < opts.Fires && ctx.Err() == nil; fires++ {
		h.step()
	}

	r := h.result(fires)
	lo, hi := h.tickRange()
	expected := 0
	for _, p := range h.all {
		if p.fail != nil || p.panics {
			expected += p.ticks
		}
	}
	switch {
	case hi-lo > 1:
		r.Reason = fmt.Sprintf("failures distorted fairness: tick gap %d", hi-lo)
	case failures != expected || r.Failures != uint64(expected):
		r.Reason = fmt.Sprintf("reported %d failures, expected %d", failures, expected)
	default:
		r.Passed = true
		r.Reason = fmt.Sprintf("%d failures isolated", failures)
	}
	return r
}

func churn(ctx context.Context, opts Options) Result {
	h, err := newHarness(tick.Config{BatchSize: opts.BatchSize, TickIntervalFrames: 1})
	if err != nil {
		return Result{Reason: err.Error()}
	}
	rng := rand.New(rand.NewSource(opts.Seed))
	for i := 0; i < opts.Population; i++ {
		p := h.add()
		if i%25 == 0 {
			p.lifetime = 3
		}
	}

	peak := opts.Population
	fires := 0
	for ; fires < opts.Fires && ctx.Err() == nil; fires++ {
		// One random removal and one addition per fire keeps the size stable.
		live := make([]*participant, 0, len(h.all))
		for _, p := range h.all {
			if !p.removed {
				live = append(live, p)
			}
		}
		if len(live) > 0 {
			h.remove(live[rng.Intn(len(live))])
		}
		p := h.add()
		if rng.Intn(20) == 0 {
			p.lifetime = 1 + rng.Intn(3)
		}
		peak = max(peak, h.sched.Count())

		h.step()
	}

	r := h.result(fires)
	// Index shifts may skip a participant for a cycle; five cycles without a
	// tick would mean the cursor is starving someone.
	bound := 5 * tick.Config{BatchSize: opts.BatchSize}.CoverageFires(peak)
	switch {
	case h.violations > 0:
		r.Reason = fmt.Sprintf("%d ticks delivered to removed participants", h.violations)
	case r.MaxGap > bound:
		r.Reason = fmt.Sprintf("max gap %d fires exceeds %d", r.MaxGap, bound)
	default:
		r.Passed = true
		r.Reason = fmt.Sprintf("max gap %d fires (bound %d), %d participants seen", r.MaxGap, bound, len(h.all))
	}
	return r
}

func reconfigure(ctx context.Context, opts Options) Result {
	h, err := newHarness(tick.Config{BatchSize: opts.BatchSize, TickIntervalFrames: 1})
	if err != nil {
		return Result{Reason: err.Error()}
	}
	for i := 0; i < opts.Population; i++ {
		h.add()
	}

	half := max(1, opts.BatchSize/2)
	fires := 0
	for ; fires < opts.Fires && ctx.Err() == nil; fires++ {
		want := min(opts.BatchSize, opts.Population)
		if fires >= opts.Fires/2 {
			want = min(half, opts.Population)
		}
		if fires == opts.Fires/2 {
			if err := h.sched.Reconfigure(tick.Config{BatchSize: half, TickIntervalFrames: 1}); err != nil {
				return Result{Fires: fires, Reason: err.Error()}
			}
		}
		if p := h.step(); p.Ticked != want {
			r := h.result(fires)
			r.Reason = fmt.Sprintf("fire %d ticked %d, want %d", fires, p.Ticked, want)
			return r
		}
	}

	r := h.result(fires)
	r.Passed = true
	r.Reason = fmt.Sprintf("batch %d -> %d applied at fire %d", opts.BatchSize, half, opts.Fires/2+1)
	return r
}
