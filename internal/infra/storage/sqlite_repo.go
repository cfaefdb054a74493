package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// SQLiteEventRepository implements EventRepository for SQLite.
type SQLiteEventRepository struct {
	db *sql.DB
}

func NewSQLiteEventRepository(db *sql.DB) *SQLiteEventRepository {
	return &SQLiteEventRepository{db: db}
}

func (r *SQLiteEventRepository) Append(ctx context.Context, event JournalEvent) error {
	payloadBytes, err := json.Marshal(event.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	query := `
		INSERT INTO events (id, timestamp, event_type, actor_id, payload, frame)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	_, err = r.db.ExecContext(ctx, query,
		event.ID, event.Timestamp, event.EventType, event.ActorID, string(payloadBytes), int64(event.Frame),
	)
	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}
	return nil
}

func (r *SQLiteEventRepository) getMany(ctx context.Context, query string, args ...interface{}) ([]JournalEvent, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []JournalEvent
	for rows.Next() {
		var e JournalEvent
		var payloadStr string
		var frame int64
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.EventType, &e.ActorID, &payloadStr, &frame); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(payloadStr), &e.Payload); err != nil {
			return nil, err
		}
		e.Frame = uint64(frame)
		events = append(events, e)
	}
	return events, rows.Err()
}

func (r *SQLiteEventRepository) GetByEventType(ctx context.Context, eventType string, limit int) ([]JournalEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT id, timestamp, event_type, actor_id, payload, frame FROM (
		SELECT * FROM events WHERE event_type = ? ORDER BY frame DESC, timestamp DESC LIMIT ?
	) ORDER BY frame ASC, timestamp ASC`
	return r.getMany(ctx, query, eventType, limit)
}

func (r *SQLiteEventRepository) GetByActorID(ctx context.Context, actorID string) ([]JournalEvent, error) {
	query := `SELECT id, timestamp, event_type, actor_id, payload, frame FROM events WHERE actor_id = ? ORDER BY frame ASC, timestamp ASC`
	return r.getMany(ctx, query, actorID)
}

func (r *SQLiteEventRepository) CountByEventType(ctx context.Context) (map[string]int, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT event_type, COUNT(*) FROM events GROUP BY event_type`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var t string
		var n int
		if err := rows.Scan(&t, &n); err != nil {
			return nil, err
		}
		counts[t] = n
	}
	return counts, rows.Err()
}
