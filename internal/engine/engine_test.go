package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MRamiBalles/CrowdCombat/server/internal/events"
	"github.com/MRamiBalles/CrowdCombat/server/internal/platform/config"
	"github.com/MRamiBalles/CrowdCombat/server/internal/platform/logger"
	"github.com/MRamiBalles/CrowdCombat/server/internal/tick"
)

func newTestEngine(t *testing.T, pool int, sched tick.Config) (*Engine, *events.EventLog) {
	t.Helper()
	cfg := config.LowResourceConfig()
	cfg.PoolSize = pool
	cfg.Scheduler = sched
	el := events.NewEventLog(nil)
	e, err := NewEngine(cfg, el, nil, logger.NewNopLogger())
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return e, el
}

func stepUntilFire(t *testing.T, e *Engine) tick.Pass {
	t.Helper()
	for i := 0; i < 1000; i++ {
		if p := e.Step(); p.Fired {
			return p
		}
	}
	t.Fatal("scheduler never fired")
	return tick.Pass{}
}

func TestSpawnRegistersMonsters(t *testing.T) {
	e, el := newTestEngine(t, 10, tick.Config{BatchSize: 5, TickIntervalFrames: 2})

	if got := e.Scheduler().Count(); got != 10 {
		t.Errorf("registered = %d, want 10", got)
	}
	stats := e.LatestStats()
	if stats.PoolSize != 10 || stats.PoolActive != 10 || !stats.PoolEnabled {
		t.Errorf("unexpected snapshot: %+v", stats)
	}
	spawns := el.GetByType(events.EventTypePopulationSpawn)
	if len(spawns) != 1 || spawns[0].ActorID != ActorSystem {
		t.Errorf("expected one SYSTEM spawn event, got %+v", spawns)
	}
}

func TestStepDispatchesBatchAndNotifies(t *testing.T) {
	e, _ := newTestEngine(t, 10, tick.Config{BatchSize: 4, TickIntervalFrames: 2})

	var reports []FrameReport
	e.OnFrame(func(r FrameReport) { reports = append(reports, r) })

	// Frame 1 does not fire
	if p := e.Step(); p.Fired {
		t.Fatalf("frame 1 fired: %+v", p)
	}
	// Frame 2 fires
	p := e.Step()
	if !p.Fired || p.Ticked != 4 || p.CursorAfter != 4 {
		t.Fatalf("unexpected pass: %+v", p)
	}

	if len(reports) != 1 {
		t.Fatalf("got %d reports, want 1", len(reports))
	}
	r := reports[0]
	if r.Frame != 2 || r.Eligible != 10 || r.Batch != 4 || r.Registered != 10 {
		t.Errorf("unexpected report: %+v", r)
	}
	if s := e.LatestStats().Scheduler; s.Frame != 2 || s.Cursor != 4 || s.Ticks != 4 {
		t.Errorf("unexpected stats: %+v", s)
	}
}

func TestCommandsRunOnStep(t *testing.T) {
	e, el := newTestEngine(t, 3, tick.Config{BatchSize: 3, TickIntervalFrames: 1})
	victim := e.Pool().Monsters()[0]

	if err := e.Submit(func(e *Engine) { e.Despawn(victim.ID, "tester") }); err != nil {
		t.Fatal(err)
	}
	if got := e.Scheduler().Count(); got != 3 {
		t.Fatalf("command ran before Step: count = %d", got)
	}

	p := e.Step()
	if p.Eligible != 2 || e.Scheduler().Contains(victim) {
		t.Errorf("despawned monster still scheduled: %+v", p)
	}
	if victim.Ticks() != 0 {
		t.Errorf("despawned monster ticked %d times", victim.Ticks())
	}
	if got := el.GetByActor("tester"); len(got) != 1 || got[0].Type != events.EventTypePopulationDespawn {
		t.Errorf("despawn not journaled: %+v", got)
	}
}

func TestSubmitQueueFull(t *testing.T) {
	cfg := config.LowResourceConfig()
	cfg.PoolSize = 0
	cfg.CommandQueueSize = 1
	e, err := NewEngine(cfg, nil, nil, nil)
	if err != nil {
		t.Fatal(err)
	}

	noop := func(*Engine) {}
	if err := e.Submit(noop); err != nil {
		t.Fatalf("first submit: %v", err)
	}
	if err := e.Submit(noop); !errors.Is(err, ErrQueueFull) {
		t.Errorf("second submit = %v, want ErrQueueFull", err)
	}
}

func TestDoWaitsForDriver(t *testing.T) {
	e, el := newTestEngine(t, 5, tick.Config{BatchSize: 5, TickIntervalFrames: 1})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	e.Start(ctx)
	defer e.Stop()

	err := e.Do(ctx, func(e *Engine) error {
		return e.Reconfigure(tick.Config{BatchSize: 0, TickIntervalFrames: 1}, "tester")
	})
	if !errors.Is(err, tick.ErrInvalidBatchSize) {
		t.Fatalf("Do = %v, want ErrInvalidBatchSize", err)
	}

	err = e.Do(ctx, func(e *Engine) error {
		return e.Reconfigure(tick.Config{BatchSize: 2, TickIntervalFrames: 1}, "tester")
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if got := el.GetByType(events.EventTypeConfigChanged); len(got) != 1 {
		t.Errorf("CONFIG_CHANGED events = %d, want 1", len(got))
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if e.LatestStats().Scheduler.Config.BatchSize == 2 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Error("new batch size never applied")
}

func TestDisabledPoolIsIneligible(t *testing.T) {
	e, el := newTestEngine(t, 6, tick.Config{BatchSize: 3, TickIntervalFrames: 1})

	e.SetPoolEnabled(false, "tester")
	p := e.Step()
	if p.Eligible != 0 || p.Ticked != 0 {
		t.Errorf("disabled pool dispatched: %+v", p)
	}
	if e.Scheduler().Count() != 6 {
		t.Errorf("monsters should stay registered while the pool is disabled")
	}

	e.SetPoolEnabled(true, "tester")
	if p := e.Step(); p.Eligible != 6 || p.Ticked != 3 {
		t.Errorf("re-enabled pool: %+v", p)
	}
	if len(el.GetByType(events.EventTypePoolDisabled)) != 1 || len(el.GetByType(events.EventTypePoolEnabled)) != 1 {
		t.Errorf("pool toggles not journaled")
	}
}

func TestClearThenReactivate(t *testing.T) {
	e, el := newTestEngine(t, 8, tick.Config{BatchSize: 3, TickIntervalFrames: 1})
	e.Step()

	e.Clear("tester")
	p := e.Step()
	if p.Eligible != 0 || e.Scheduler().Count() != 0 || e.Pool().Active() != 0 {
		t.Errorf("clear left participants behind: %+v", p)
	}
	if p.CursorAfter != 0 {
		t.Errorf("cursor = %d after clear, want 0", p.CursorAfter)
	}
	if len(el.GetByType(events.EventTypeSchedulerCleared)) != 1 {
		t.Error("clear not journaled")
	}

	e.ReactivateAll("tester")
	if got := e.Scheduler().Count(); got != 8 {
		t.Errorf("registered after reactivate = %d, want 8", got)
	}
}

func TestFailureIsJournaled(t *testing.T) {
	e, el := newTestEngine(t, 0, tick.Config{BatchSize: 10, TickIntervalFrames: 3})

	healthy := 0
	e.Scheduler().Register(tick.NewTask("ok", func() error {
		healthy++
		return nil
	}))
	e.Scheduler().Register(tick.NewTask("bad", func() error { return errors.New("boom") }))
	e.Scheduler().Register(tick.NewTask("worse", func() error { panic("kaboom") }))

	p := stepUntilFire(t, e)
	if p.Failed != 2 || p.Ticked != 3 || healthy != 1 {
		t.Fatalf("unexpected pass: %+v (healthy=%d)", p, healthy)
	}

	failures := el.GetByType(events.EventTypeDispatchFailure)
	if len(failures) != 2 {
		t.Fatalf("got %d failure events, want 2", len(failures))
	}
	bad := failures[0].Payload.(events.FailurePayload)
	if failures[0].ActorID != "bad" || bad.Error != "boom" || bad.Panic || bad.Phase != "tick" {
		t.Errorf("unexpected failure event: %+v", failures[0])
	}
	worse := failures[1].Payload.(events.FailurePayload)
	if failures[1].ActorID != "worse" || !worse.Panic || failures[1].Frame != 3 {
		t.Errorf("unexpected panic event: %+v", failures[1])
	}
	if got := e.LatestStats().Scheduler.Failures; got != 2 {
		t.Errorf("stats failures = %d, want 2", got)
	}
}

func TestDoPublishesBeforeReturning(t *testing.T) {
	e, _ := newTestEngine(t, 4, tick.Config{BatchSize: 2, TickIntervalFrames: 50})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	e.Start(ctx)
	defer e.Stop()

	err := e.Do(ctx, func(e *Engine) error {
		e.SetPoolEnabled(false, "tester")
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if e.LatestStats().PoolEnabled {
		t.Error("LatestStats does not reflect the command yet")
	}
}
