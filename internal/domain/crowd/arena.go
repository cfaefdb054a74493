// Package crowd defines the autonomous monsters driven by the tick scheduler.
// This package is PURE and must NOT import any infrastructure packages (network, events, platform).
package crowd

import (
	"math"
	"math/rand"
	"time"
)

// Vec2 is a position or direction on the XZ ground plane.
type Vec2 struct {
	X float64 `json:"x"`
	Z float64 `json:"z"`
}

func (v Vec2) Add(o Vec2) Vec2 {
	return Vec2{v.X + o.X, v.Z + o.Z}
}

func (v Vec2) Scale(f float64) Vec2 {
	return Vec2{v.X * f, v.Z * f}
}

func (v Vec2) Len() float64 {
	return math.Hypot(v.X, v.Z)
}

func (v Vec2) IsFinite() bool {
	return !math.IsNaN(v.X+v.Z) && !math.IsInf(v.X+v.Z, 0)
}

// Normalized returns the unit vector, or zero for a zero vector.
func (v Vec2) Normalized() Vec2 {
	l := v.Len()
	if l == 0 {
		return Vec2{}
	}
	return v.Scale(1 / l)
}

// Ground answers "is there floor under this point".
type Ground interface {
	HasGround(p Vec2) bool
}

// Clock is the shared wall clock monsters measure their own deltas against.
type Clock interface {
	Now() time.Time
}

// SystemClock reads time.Now.
type SystemClock struct{}

func (SystemClock) Now() time.Time {
	return time.Now()
}

// Arena is a rectangular floor centered on Center.
type Arena struct {
	Center      Vec2    `json:"center"`
	HalfExtents Vec2    `json:"half_extents"`
	Margin      float64 `json:"margin"` // floor extends this far past the spawn area
}

// DefaultArena is a 40x40 spawn area.
func DefaultArena() Arena {
	return Arena{HalfExtents: Vec2{X: 20, Z: 20}, Margin: 1}
}

// HasGround reports whether p lies on the floor.
func (a Arena) HasGround(p Vec2) bool {
	dx := math.Abs(p.X - a.Center.X)
	dz := math.Abs(p.Z - a.Center.Z)
	return dx <= a.HalfExtents.X+a.Margin && dz <= a.HalfExtents.Z+a.Margin
}

// RandomPoint picks a uniform point inside the spawn area.
func (a Arena) RandomPoint(rng *rand.Rand) Vec2 {
	return Vec2{
		X: a.Center.X + (rng.Float64()*2-1)*a.HalfExtents.X,
		Z: a.Center.Z + (rng.Float64()*2-1)*a.HalfExtents.Z,
	}
}
