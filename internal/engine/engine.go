package engine

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MRamiBalles/CrowdCombat/server/internal/domain/crowd"
	"github.com/MRamiBalles/CrowdCombat/server/internal/events"
	"github.com/MRamiBalles/CrowdCombat/server/internal/platform/config"
	"github.com/MRamiBalles/CrowdCombat/server/internal/platform/logger"
	"github.com/MRamiBalles/CrowdCombat/server/internal/platform/metrics"
	"github.com/MRamiBalles/CrowdCombat/server/internal/tick"
)

// ActorSystem is the actor recorded for changes the engine makes on its own.
const ActorSystem = "SYSTEM"

// ErrQueueFull is returned by Submit when the command queue is saturated.
var ErrQueueFull = errors.New("engine: command queue full")

// Command is work executed on the driver goroutine between frames.
type Command func(*Engine)

// Snapshot is the read-only view published after every frame.
type Snapshot struct {
	Scheduler   tick.Stats `json:"scheduler"`
	PoolSize    int        `json:"pool_size"`
	PoolActive  int        `json:"pool_active"`
	PoolEnabled bool       `json:"pool_enabled"`
}

// FrameReport is broadcast to listeners once per fire.
type FrameReport struct {
	Frame          uint64 `json:"frame" msgpack:"frame"`
	Eligible       int    `json:"eligible" msgpack:"eligible"`
	Batch          int    `json:"batch" msgpack:"batch"`
	Ticked         int    `json:"ticked" msgpack:"ticked"`
	Failed         int    `json:"failed" msgpack:"failed"`
	Skipped        int    `json:"skipped" msgpack:"skipped"`
	CursorBefore   int    `json:"cursor_before" msgpack:"cursor_before"`
	CursorAfter    int    `json:"cursor_after" msgpack:"cursor_after"`
	DurationMicros int64  `json:"duration_us" msgpack:"duration_us"`
	Registered     int    `json:"registered" msgpack:"registered"`
	PoolActive     int    `json:"pool_active" msgpack:"pool_active"`
	PoolEnabled    bool   `json:"pool_enabled" msgpack:"pool_enabled"`
	Timestamp      int64  `json:"ts" msgpack:"ts"` // unix millis
}

// Option customizes an Engine.
type Option func(*Engine)

// WithClock replaces the wall clock monsters measure their deltas with.
func WithClock(c crowd.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// Engine is the composition root: it owns the scheduler, the monster pool
// and the command queue, and is driven one frame at a time by Step.
//
// Everything except Submit, Do, LatestStats, OnFrame and the accessors for
// thread-safe collaborators must run on the driver goroutine.
type Engine struct {
	cfg      *config.ServerConfig
	eventLog *events.EventLog
	metrics  *metrics.Collector
	logger   *logger.Logger
	ticker   *Ticker

	clock     crowd.Clock
	scheduler *tick.Scheduler
	pool      *crowd.Pool

	commands chan Command
	replies  []func() // Do completions, released once the frame's stats are published
	stats    atomic.Pointer[Snapshot]

	listenersMu sync.RWMutex
	listeners   []func(FrameReport)
}

// NewEngine wires the scheduler to the monster pool and spawns the
// configured population.
func NewEngine(cfg *config.ServerConfig, eventLog *events.EventLog, collector *metrics.Collector, log *logger.Logger, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("engine config: %w", err)
	}
	if log == nil {
		log = logger.NewNopLogger()
	}
	if eventLog == nil {
		eventLog = events.NewEventLog(nil)
	}
	if collector == nil {
		collector = metrics.NewCollector()
	}

	e := &Engine{
		cfg:      cfg,
		eventLog: eventLog,
		metrics:  collector,
		logger:   log,
		clock:    crowd.SystemClock{},
		commands: make(chan Command, cfg.CommandQueueSize),
	}
	for _, opt := range opts {
		opt(e)
	}

	sched, err := tick.NewScheduler(cfg.Scheduler, log.With("tick"),
		tick.WithFailureHandler(e.onFailure),
		tick.WithPassObserver(collector.ObservePass),
	)
	if err != nil {
		return nil, err
	}
	e.scheduler = sched

	arena := crowd.Arena{
		HalfExtents: crowd.Vec2{X: cfg.SpawnHalfX, Z: cfg.SpawnHalfZ},
		Margin:      cfg.FloorMargin,
	}
	e.pool = crowd.NewPool(arena, e.clock, rand.New(rand.NewSource(cfg.Seed)), crowd.Hooks{
		OnEnable:  func(m *crowd.Monster) { e.scheduler.Register(m) },
		OnDisable: func(m *crowd.Monster) { e.scheduler.Unregister(m) },
	})
	e.ticker = NewTicker(cfg.FrameInterval(), func() { e.Step() }, log)

	if cfg.PoolSize > 0 {
		e.Spawn(cfg.PoolSize, ActorSystem)
	}
	e.publish()
	return e, nil
}

// Start runs the frame driver until ctx is cancelled or Stop is called.
func (e *Engine) Start(ctx context.Context) {
	e.logger.Info(fmt.Sprintf("Starting crowd engine: %d monsters, batch=%d interval=%d, %d fps",
		e.pool.Len(), e.cfg.Scheduler.BatchSize, e.cfg.Scheduler.TickIntervalFrames, e.cfg.FrameRate))
	go e.ticker.Start(ctx)
}

// Stop halts the frame driver.
func (e *Engine) Stop() {
	e.ticker.Stop()
}

// Submit enqueues cmd for the driver goroutine without waiting.
func (e *Engine) Submit(cmd Command) error {
	select {
	case e.commands <- cmd:
		return nil
	default:
		return ErrQueueFull
	}
}

// Do enqueues fn and waits until the driver has run it. When Do returns,
// LatestStats already reflects fn's effects.
func (e *Engine) Do(ctx context.Context, fn func(*Engine) error) error {
	done := make(chan error, 1)
	err := e.Submit(func(e *Engine) {
		err := fn(e)
		e.replies = append(e.replies, func() { done <- err })
	})
	if err != nil {
		return err
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// OnFrame registers a listener for fire reports. Listeners run on the
// driver goroutine and must not block.
func (e *Engine) OnFrame(fn func(FrameReport)) {
	e.listenersMu.Lock()
	defer e.listenersMu.Unlock()
	e.listeners = append(e.listeners, fn)
}

// Step runs one frame: pending commands, monster movement, then the scheduler.
func (e *Engine) Step() tick.Pass {
	e.drain()

	dt := e.cfg.FrameInterval()
	for _, m := range e.pool.Monsters() {
		m.Move(dt)
	}

	pass := e.scheduler.AdvanceFrame()
	e.metrics.SetRegistered(e.scheduler.Count())
	e.publish()

	if pass.Fired {
		e.notify(e.report(pass))
	}
	return pass
}

// LatestStats returns the snapshot published after the last frame.
func (e *Engine) LatestStats() Snapshot {
	return *e.stats.Load()
}

// Config returns the server config with the scheduler section reflecting
// the active scheduler settings.
func (e *Engine) Config() config.ServerConfig {
	cfg := *e.cfg
	cfg.Scheduler = e.LatestStats().Scheduler.Config
	return cfg
}

// EventLog exposes the journal for read-side queries.
func (e *Engine) EventLog() *events.EventLog {
	return e.eventLog
}

// Metrics exposes the collector.
func (e *Engine) Metrics() *metrics.Collector {
	return e.metrics
}

// Scheduler exposes the scheduler. Driver goroutine only.
func (e *Engine) Scheduler() *tick.Scheduler {
	return e.scheduler
}

// Pool exposes the monster pool. Driver goroutine only.
func (e *Engine) Pool() *crowd.Pool {
	return e.pool
}

// Spawn adds n active monsters.
func (e *Engine) Spawn(n int, actor string) []*crowd.Monster {
	if n <= 0 {
		return nil
	}
	spawned := e.pool.Spawn(n)
	ids := make([]string, len(spawned))
	for i, m := range spawned {
		ids[i] = m.ID
	}
	e.journal(events.EventTypePopulationSpawn, actor, map[string]interface{}{"count": n, "ids": ids})
	return spawned
}

// Despawn destroys one monster. It is unregistered immediately.
func (e *Engine) Despawn(id, actor string) bool {
	if !e.pool.Despawn(id) {
		return false
	}
	e.journal(events.EventTypePopulationDespawn, actor, map[string]interface{}{"id": id})
	return true
}

// SetActive toggles one monster's own activity flag.
func (e *Engine) SetActive(id string, active bool) bool {
	m, ok := e.pool.Get(id)
	if !ok {
		return false
	}
	e.pool.SetActive(m, active)
	return true
}

// DeactivateAll turns every monster off, unregistering them.
func (e *Engine) DeactivateAll(actor string) {
	e.pool.DeactivateAll()
	e.journal(events.EventTypePopulationDespawn, actor, map[string]interface{}{"deactivated": e.pool.Len()})
}

// ReactivateAll re-positions every monster and registers it again.
func (e *Engine) ReactivateAll(actor string) {
	e.pool.ReactivateAll()
	e.journal(events.EventTypePopulationSpawn, actor, map[string]interface{}{"reactivated": e.pool.Len()})
}

// SetPoolEnabled toggles the pool. Monsters stay registered but are
// ineligible while it is disabled.
func (e *Engine) SetPoolEnabled(enabled bool, actor string) {
	if e.pool.Enabled() == enabled {
		return
	}
	e.pool.SetEnabled(enabled)
	if enabled {
		e.journal(events.EventTypePoolEnabled, actor, nil)
	} else {
		e.journal(events.EventTypePoolDisabled, actor, nil)
	}
}

// Reconfigure stages new scheduler settings for the next fire.
func (e *Engine) Reconfigure(cfg tick.Config, actor string) error {
	if err := e.scheduler.Reconfigure(cfg); err != nil {
		return err
	}
	e.journal(events.EventTypeConfigChanged, actor, cfg)
	return nil
}

// Clear tears down the scene: the registry is emptied, the cursor reset
// and every monster deactivated so ReactivateAll can bring them back.
func (e *Engine) Clear(actor string) {
	e.scheduler.Clear()
	e.pool.DeactivateAll()
	e.journal(events.EventTypeSchedulerCleared, actor, nil)
}

func (e *Engine) drain() {
	ran := 0
loop:
	for {
		select {
		case cmd := <-e.commands:
			cmd(e)
			ran++
		default:
			break loop
		}
	}
	if ran == 0 {
		return
	}
	e.publish()
	for _, reply := range e.replies {
		reply()
	}
	clear(e.replies)
	e.replies = e.replies[:0]
}

func (e *Engine) publish() {
	e.stats.Store(&Snapshot{
		Scheduler:   e.scheduler.Stats(),
		PoolSize:    e.pool.Len(),
		PoolActive:  e.pool.Active(),
		PoolEnabled: e.pool.Enabled(),
	})
}

func (e *Engine) report(p tick.Pass) FrameReport {
	return FrameReport{
		Frame:          p.Frame,
		Eligible:       p.Eligible,
		Batch:          p.Batch,
		Ticked:         p.Ticked,
		Failed:         p.Failed,
		Skipped:        p.Skipped,
		CursorBefore:   p.CursorBefore,
		CursorAfter:    p.CursorAfter,
		DurationMicros: p.Duration.Microseconds(),
		Registered:     e.scheduler.Count(),
		PoolActive:     e.pool.Active(),
		PoolEnabled:    e.pool.Enabled(),
		Timestamp:      time.Now().UnixMilli(),
	}
}

func (e *Engine) notify(r FrameReport) {
	e.listenersMu.RLock()
	defer e.listenersMu.RUnlock()
	for _, fn := range e.listeners {
		fn(r)
	}
}

func (e *Engine) onFailure(f tick.Failure) {
	e.metrics.RecordFailure(f)

	var pe *tick.PanicError
	e.eventLog.Append(events.GameEvent{
		Type:    events.EventTypeDispatchFailure,
		ActorID: participantID(f.Participant),
		Frame:   f.Frame,
		Payload: events.FailurePayload{
			Phase: string(f.Phase),
			Index: f.Index,
			Error: f.Err.Error(),
			Panic: errors.As(f.Err, &pe),
		},
	})
}

func (e *Engine) journal(t events.EventType, actor string, payload interface{}) {
	ev := e.eventLog.Append(events.GameEvent{
		Type:    t,
		ActorID: actor,
		Payload: payload,
		Frame:   e.scheduler.Stats().Frame,
	})
	e.logger.Event(string(t), actor, ev.ID)
}

func participantID(p tick.Tickable) string {
	switch v := p.(type) {
	case *crowd.Monster:
		return v.ID
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprintf("%T", p)
	}
}
