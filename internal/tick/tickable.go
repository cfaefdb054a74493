// Package tick is the amortized tick scheduler.
// It spreads periodic AI updates over many frames so per-frame cost does not
// scale with population size.
//
// The scheduler is NOT safe for concurrent use. It is driven by exactly one
// goroutine; other goroutines go through the engine command queue.
package tick

// Tickable is the capability a participant implements.
// Implementations must be comparable (use pointer receivers): identity is
// interface equality.
type Tickable interface {
	// Tick runs one slice of the participant's work. Must not block.
	Tick() error
	// IsEligible reports whether the participant is live this pass.
	IsEligible() bool
}

// Task adapts plain functions to Tickable. Always use it by pointer.
type Task struct {
	Name     string
	TickFn   func() error
	Eligible func() bool
}

// NewTask returns a Task that is always eligible.
func NewTask(name string, fn func() error) *Task {
	return &Task{Name: name, TickFn: fn}
}

func (t *Task) Tick() error {
	if t.TickFn == nil {
		return nil
	}
	return t.TickFn()
}

func (t *Task) IsEligible() bool {
	if t.Eligible == nil {
		return true
	}
	return t.Eligible()
}

func (t *Task) String() string {
	return t.Name
}
