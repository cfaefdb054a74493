package crowd

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/google/uuid"
)

const (
	DefaultDirectionChangeInterval = 2 * time.Second
	DefaultForwardCheckDistance    = 1.0
	DefaultMoveSpeed               = 3.0 // units per second

	// First Tick has no previous tick to measure against.
	fixedDelta     = 20 * time.Millisecond
	firstTickDelta = fixedDelta * 10
)

// ErrNoGround means the monster is standing off the floor.
var ErrNoGround = errors.New("crowd: monster is off the ground")

// Monster wanders the arena. Movement runs every frame through Move; the
// decision logic runs in Tick, which the scheduler calls every few fires.
type Monster struct {
	ID       string  `json:"id"`
	Position Vec2    `json:"position"`
	MoveDir  Vec2    `json:"move_dir"`
	Speed    float64 `json:"speed"`

	DirectionChangeInterval time.Duration `json:"-"`
	ForwardCheckDistance    float64       `json:"-"`

	directionTimer time.Duration
	lastTick       time.Time
	ticks          int
	active         bool

	pool   *Pool
	ground Ground
	clock  Clock
	rng    *rand.Rand
}

// NewMonster creates an inactive monster at pos with a random heading.
func NewMonster(pos Vec2, ground Ground, clock Clock, rng *rand.Rand) *Monster {
	m := &Monster{
		ID:                      uuid.NewString(),
		Position:                pos,
		Speed:                   DefaultMoveSpeed,
		DirectionChangeInterval: DefaultDirectionChangeInterval,
		ForwardCheckDistance:    DefaultForwardCheckDistance,
		ground:                  ground,
		clock:                   clock,
		rng:                     rng,
	}
	m.pickNewDirection()
	return m
}

// Tick is the AI step. It measures real elapsed time itself because the
// scheduler only guarantees which monsters run, not when.
func (m *Monster) Tick() error {
	if !m.Position.IsFinite() {
		return fmt.Errorf("crowd: monster %s has invalid position %v", m.ID, m.Position)
	}
	if !m.ground.HasGround(m.Position) {
		return fmt.Errorf("%w: %s at (%.2f, %.2f)", ErrNoGround, m.ID, m.Position.X, m.Position.Z)
	}

	now := m.clock.Now()
	delta := now.Sub(m.lastTick)
	if m.lastTick.IsZero() {
		delta = firstTickDelta
	}
	m.lastTick = now
	m.directionTimer -= delta
	m.ticks++

	if m.directionTimer <= 0 || !m.hasGroundAhead() {
		m.pickNewDirection()
	}
	return nil
}

// IsEligible is true while the monster is active and its pool is enabled.
func (m *Monster) IsEligible() bool {
	if !m.active {
		return false
	}
	return m.pool == nil || m.pool.Enabled()
}

// Move advances the monster along its heading. Called every frame.
func (m *Monster) Move(dt time.Duration) {
	if !m.IsEligible() {
		return
	}
	next := m.Position.Add(m.MoveDir.Scale(m.Speed * dt.Seconds()))
	if m.ground.HasGround(next) {
		m.Position = next
	}
}

// Active reports the monster's own activity flag.
func (m *Monster) Active() bool { return m.active }

// Ticks returns how many AI ticks the monster has run.
func (m *Monster) Ticks() int { return m.ticks }

// DirectionTimer returns the time left before the next heading change.
func (m *Monster) DirectionTimer() time.Duration { return m.directionTimer }

func (m *Monster) hasGroundAhead() bool {
	ahead := m.Position.Add(m.MoveDir.Normalized().Scale(m.ForwardCheckDistance))
	return m.ground.HasGround(ahead)
}

func (m *Monster) pickNewDirection() {
	angle := m.rng.Float64() * 2 * math.Pi
	m.MoveDir = Vec2{X: math.Cos(angle), Z: math.Sin(angle)}
	m.directionTimer = m.DirectionChangeInterval
}
