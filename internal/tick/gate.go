package tick

// FrameGate decides which frames fire. Cadence follows call count, not
// wall-clock time.
type FrameGate struct {
	frame    uint64
	interval uint64
}

// NewFrameGate creates a gate firing every interval frames. interval must be > 0.
func NewFrameGate(interval int) *FrameGate {
	if interval <= 0 {
		panic("tick.NewFrameGate: interval must be > 0")
	}
	return &FrameGate{interval: uint64(interval)}
}

// Advance increments the frame counter and reports whether this frame fires.
func (g *FrameGate) Advance() bool {
	g.frame++
	return g.frame%g.interval == 0
}

// Frame returns the number of frames advanced so far.
func (g *FrameGate) Frame() uint64 {
	return g.frame
}

// SetInterval changes the cadence. The counter is kept.
func (g *FrameGate) SetInterval(interval int) {
	if interval <= 0 {
		panic("tick.FrameGate.SetInterval: interval must be > 0")
	}
	g.interval = uint64(interval)
}
