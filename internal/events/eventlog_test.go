package events

import (
	"errors"
	"sync"
	"testing"
	"time"
)

type recordingPersister struct {
	mu     sync.Mutex
	events []GameEvent
	err    error
	done   chan struct{}
}

func (p *recordingPersister) Append(e GameEvent) error {
	p.mu.Lock()
	p.events = append(p.events, e)
	p.mu.Unlock()
	p.done <- struct{}{}
	return p.err
}

func TestAppendFillsIDAndTimestamp(t *testing.T) {
	el := NewEventLog(nil)
	e := el.Append(GameEvent{Type: EventTypeConfigChanged, ActorID: "operator"})

	if e.ID == "" || e.Timestamp.IsZero() {
		t.Fatalf("Append did not fill ID/Timestamp: %+v", e)
	}
	if el.Len() != 1 {
		t.Errorf("Len = %d, want 1", el.Len())
	}
}

func TestQueries(t *testing.T) {
	el := NewEventLog(nil)
	el.Append(GameEvent{Type: EventTypeDispatchFailure, ActorID: "m-1"})
	el.Append(GameEvent{Type: EventTypePopulationSpawn, ActorID: "operator"})
	el.Append(GameEvent{Type: EventTypeDispatchFailure, ActorID: "m-2"})

	if got := len(el.GetByType(EventTypeDispatchFailure)); got != 2 {
		t.Errorf("GetByType = %d events, want 2", got)
	}
	if got := el.GetByActor("operator"); len(got) != 1 || got[0].Type != EventTypePopulationSpawn {
		t.Errorf("GetByActor = %+v", got)
	}
	if got := el.Since(1); len(got) != 2 || got[0].ActorID != "operator" {
		t.Errorf("Since(1) = %+v", got)
	}
	if got := el.Since(10); got != nil {
		t.Errorf("Since past the end = %+v, want nil", got)
	}

	replay := el.Replay()
	replay[0].ActorID = "mutated"
	if el.Replay()[0].ActorID != "m-1" {
		t.Errorf("Replay must return a copy")
	}
}

func TestPersisterWriteThrough(t *testing.T) {
	p := &recordingPersister{err: errors.New("disk full"), done: make(chan struct{}, 1)}
	el := NewEventLog(p)
	errs := make(chan error, 1)
	el.OnPersistError(func(err error) { errs <- err })

	el.Append(GameEvent{Type: EventTypeSchedulerCleared})

	select {
	case <-p.done:
	case <-time.After(time.Second):
		t.Fatal("persister was not called")
	}
	select {
	case err := <-errs:
		if err.Error() != "disk full" {
			t.Errorf("unexpected error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("persist error was not reported")
	}
}
