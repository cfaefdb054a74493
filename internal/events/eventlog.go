// Package events provides the scheduler journal: an append-only log of
// dispatch failures, population churn and configuration changes.
package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventType defines the category of a journal entry.
type EventType string

const (
	EventTypeDispatchFailure   EventType = "DISPATCH_FAILURE"
	EventTypeConfigChanged     EventType = "CONFIG_CHANGED"
	EventTypePopulationSpawn   EventType = "POPULATION_SPAWN"
	EventTypePopulationDespawn EventType = "POPULATION_DESPAWN"
	EventTypePoolEnabled       EventType = "POOL_ENABLED"
	EventTypePoolDisabled      EventType = "POOL_DISABLED"
	EventTypeSchedulerCleared  EventType = "SCHEDULER_CLEARED"
)

// FailurePayload describes a DispatchFailure.
type FailurePayload struct {
	Phase string `json:"phase"`
	Index int    `json:"index"`
	Error string `json:"error"`
	Panic bool   `json:"panic"`
}

// GameEvent is an immutable journal record.
type GameEvent struct {
	ID        string      `json:"id"`
	Timestamp time.Time   `json:"timestamp"`
	Type      EventType   `json:"type"`
	ActorID   string      `json:"actor_id"` // participant or operator that caused it
	Payload   interface{} `json:"payload"`
	Frame     uint64      `json:"frame"`
}

// EventPersister defines how an event is durably stored.
type EventPersister interface {
	Append(event GameEvent) error
}

// EventLog is the in-memory append-only log.
type EventLog struct {
	mu        sync.RWMutex
	events    []GameEvent
	persister EventPersister
	onError   func(error)
}

// NewEventLog creates an event log. persister may be nil.
func NewEventLog(persister EventPersister) *EventLog {
	return &EventLog{
		events:    make([]GameEvent, 0, 256),
		persister: persister,
	}
}

// OnPersistError registers a callback for failed write-throughs.
func (el *EventLog) OnPersistError(fn func(error)) {
	el.mu.Lock()
	defer el.mu.Unlock()
	el.onError = fn
}

// Append adds a new event, filling ID and Timestamp when empty.
func (el *EventLog) Append(event GameEvent) GameEvent {
	if event.ID == "" {
		event.ID = GenerateEventID()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	el.mu.Lock()
	el.events = append(el.events, event)
	persister, onError := el.persister, el.onError
	el.mu.Unlock()

	if persister != nil {
		// Write-through off the frame loop.
		go func(e GameEvent) {
			if err := persister.Append(e); err != nil && onError != nil {
				onError(err)
			}
		}(event)
	}
	return event
}

// GetByActor returns all events caused by a specific actor.
func (el *EventLog) GetByActor(actorID string) []GameEvent {
	el.mu.RLock()
	defer el.mu.RUnlock()

	var result []GameEvent
	for _, e := range el.events {
		if e.ActorID == actorID {
			result = append(result, e)
		}
	}
	return result
}

// GetByType returns all events of one type.
func (el *EventLog) GetByType(t EventType) []GameEvent {
	el.mu.RLock()
	defer el.mu.RUnlock()

	var result []GameEvent
	for _, e := range el.events {
		if e.Type == t {
			result = append(result, e)
		}
	}
	return result
}

// Since returns a copy of the events at or after offset.
func (el *EventLog) Since(offset int) []GameEvent {
	el.mu.RLock()
	defer el.mu.RUnlock()
	if offset < 0 {
		offset = 0
	}
	if offset >= len(el.events) {
		return nil
	}
	out := make([]GameEvent, len(el.events)-offset)
	copy(out, el.events[offset:])
	return out
}

// Replay returns a copy of the full history.
func (el *EventLog) Replay() []GameEvent {
	return el.Since(0)
}

// Len returns the number of events.
func (el *EventLog) Len() int {
	el.mu.RLock()
	defer el.mu.RUnlock()
	return len(el.events)
}

// GenerateEventID creates a unique event identifier.
func GenerateEventID() string {
	return uuid.NewString()
}
