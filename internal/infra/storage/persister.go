package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/MRamiBalles/CrowdCombat/server/internal/events"
)

// JournalPersister writes events.GameEvent records through an EventRepository.
type JournalPersister struct {
	repo    EventRepository
	timeout time.Duration
}

var _ events.EventPersister = (*JournalPersister)(nil)

// NewJournalPersister adapts repo to the event log. Each write gets its own
// timeout.
func NewJournalPersister(repo EventRepository, timeout time.Duration) *JournalPersister {
	return &JournalPersister{repo: repo, timeout: timeout}
}

// Append converts and stores one event.
func (p *JournalPersister) Append(e events.GameEvent) error {
	payload, err := toPayloadMap(e.Payload)
	if err != nil {
		return fmt.Errorf("persist event %s: %w", e.ID, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	return p.repo.Append(ctx, JournalEvent{
		ID:        e.ID,
		Timestamp: e.Timestamp,
		EventType: string(e.Type),
		ActorID:   e.ActorID,
		Payload:   payload,
		Frame:     e.Frame,
	})
}

// toPayloadMap flattens any payload to a JSON object. Non-object payloads
// are stored under "value".
func toPayloadMap(v interface{}) (map[string]interface{}, error) {
	if v == nil {
		return nil, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err == nil {
		return m, nil
	}
	var scalar interface{}
	if err := json.Unmarshal(raw, &scalar); err != nil {
		return nil, err
	}
	return map[string]interface{}{"value": scalar}, nil
}
