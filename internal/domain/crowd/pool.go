package crowd

import (
	"math/rand"
)

// DefaultPoolSize is the number of monsters spawned by default.
const DefaultPoolSize = 200

// Hooks connect monster lifecycle to whoever drives them. OnEnable fires
// when a monster becomes active, OnDisable when it goes inactive or is
// despawned.
type Hooks struct {
	OnEnable  func(*Monster)
	OnDisable func(*Monster)
}

// Pool owns every spawned monster. Its enabled flag plays the role of the
// parent object: disabling the pool makes all monsters ineligible without
// deactivating them one by one.
type Pool struct {
	arena    Arena
	clock    Clock
	rng      *rand.Rand
	hooks    Hooks
	enabled  bool
	monsters []*Monster
	byID     map[string]*Monster
}

// NewPool creates an enabled, empty pool.
func NewPool(arena Arena, clock Clock, rng *rand.Rand, hooks Hooks) *Pool {
	return &Pool{
		arena:   arena,
		clock:   clock,
		rng:     rng,
		hooks:   hooks,
		enabled: true,
		byID:    make(map[string]*Monster),
	}
}

// Spawn creates n monsters on the floor and activates them.
func (p *Pool) Spawn(n int) []*Monster {
	spawned := make([]*Monster, 0, n)
	for i := 0; i < n; i++ {
		m := NewMonster(p.arena.RandomPoint(p.rng), p.arena, p.clock, p.rng)
		m.pool = p
		p.monsters = append(p.monsters, m)
		p.byID[m.ID] = m
		p.SetActive(m, true)
		spawned = append(spawned, m)
	}
	return spawned
}

// Despawn removes a monster from the pool for good.
func (p *Pool) Despawn(id string) bool {
	m, ok := p.byID[id]
	if !ok {
		return false
	}
	p.SetActive(m, false)
	delete(p.byID, id)
	for i, cur := range p.monsters {
		if cur == m {
			p.monsters = append(p.monsters[:i], p.monsters[i+1:]...)
			break
		}
	}
	m.pool = nil
	return true
}

// SetActive flips one monster's own activity flag and fires the hooks.
func (p *Pool) SetActive(m *Monster, active bool) {
	if m.active == active {
		return
	}
	m.active = active
	if active && p.hooks.OnEnable != nil {
		p.hooks.OnEnable(m)
	}
	if !active && p.hooks.OnDisable != nil {
		p.hooks.OnDisable(m)
	}
}

// DeactivateAll turns every monster off.
func (p *Pool) DeactivateAll() {
	for _, m := range p.monsters {
		p.SetActive(m, false)
	}
}

// ReactivateAll re-positions every monster on the floor and turns it back on.
func (p *Pool) ReactivateAll() {
	for _, m := range p.monsters {
		m.Position = p.arena.RandomPoint(p.rng)
		p.SetActive(m, true)
	}
}

// SetEnabled toggles the whole pool. Monsters stay registered but become
// ineligible while the pool is disabled.
func (p *Pool) SetEnabled(enabled bool) {
	p.enabled = enabled
}

// Enabled reports the pool-level flag.
func (p *Pool) Enabled() bool { return p.enabled }

// Get returns a monster by id.
func (p *Pool) Get(id string) (*Monster, bool) {
	m, ok := p.byID[id]
	return m, ok
}

// Len returns the number of spawned monsters.
func (p *Pool) Len() int { return len(p.monsters) }

// Active returns the number of monsters whose own flag is on.
func (p *Pool) Active() int {
	n := 0
	for _, m := range p.monsters {
		if m.active {
			n++
		}
	}
	return n
}

// Monsters returns the spawned monsters in spawn order.
func (p *Pool) Monsters() []*Monster {
	out := make([]*Monster, len(p.monsters))
	copy(out, p.monsters)
	return out
}

// RandomMonster picks any spawned monster, nil when the pool is empty.
func (p *Pool) RandomMonster() *Monster {
	if len(p.monsters) == 0 {
		return nil
	}
	return p.monsters[p.rng.Intn(len(p.monsters))]
}
