// Package storage provides the persistence layer for the scheduler journal.
// This package implements the repository pattern to keep the domain pure.
package storage

import (
	"context"
	"time"
)

// JournalEvent mirrors events.GameEvent for persistence.
// The events package should NOT import this; use interfaces instead.
type JournalEvent struct {
	ID        string                 `json:"id" db:"id"`
	Timestamp time.Time              `json:"timestamp" db:"timestamp"`
	EventType string                 `json:"event_type" db:"event_type"`
	ActorID   string                 `json:"actor_id" db:"actor_id"`
	Payload   map[string]interface{} `json:"payload" db:"payload"`
	Frame     uint64                 `json:"frame" db:"frame"`
}

// EventRepository defines the interface for journal persistence.
type EventRepository interface {
	// Append adds a new event to the journal.
	Append(ctx context.Context, event JournalEvent) error

	// GetByEventType retrieves the most recent events of one type, oldest first.
	GetByEventType(ctx context.Context, eventType string, limit int) ([]JournalEvent, error)

	// GetByActorID retrieves every event caused by one actor.
	GetByActorID(ctx context.Context, actorID string) ([]JournalEvent, error)

	// CountByEventType returns how many events of each type were journaled.
	CountByEventType(ctx context.Context) (map[string]int, error)
}
