package storage

import (
	"context"
	"testing"
	"time"
)

func newTestRepo(t *testing.T) *SQLiteEventRepository {
	t.Helper()
	db, err := InitSQLite(InMemoryDSN)
	if err != nil {
		t.Fatalf("InitSQLite: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewSQLiteEventRepository(db)
}

func TestAppendAndQuery(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	evs := []JournalEvent{
		{ID: "e1", Timestamp: base, EventType: "DISPATCH_FAILURE", ActorID: "m-1", Frame: 10, Payload: map[string]interface{}{"error": "boom"}},
		{ID: "e2", Timestamp: base.Add(time.Second), EventType: "POPULATION_SPAWN", ActorID: "operator", Frame: 11, Payload: map[string]interface{}{"count": 5}},
		{ID: "e3", Timestamp: base.Add(2 * time.Second), EventType: "DISPATCH_FAILURE", ActorID: "m-2", Frame: 20, Payload: map[string]interface{}{"error": "again"}},
	}
	for _, e := range evs {
		if err := repo.Append(ctx, e); err != nil {
			t.Fatalf("Append(%s): %v", e.ID, err)
		}
	}

	failures, err := repo.GetByEventType(ctx, "DISPATCH_FAILURE", 10)
	if err != nil {
		t.Fatalf("GetByEventType: %v", err)
	}
	if len(failures) != 2 || failures[0].ID != "e1" || failures[1].Frame != 20 {
		t.Fatalf("unexpected failures: %+v", failures)
	}
	if failures[0].Payload["error"] != "boom" {
		t.Errorf("payload not round-tripped: %+v", failures[0].Payload)
	}

	latest, err := repo.GetByEventType(ctx, "DISPATCH_FAILURE", 1)
	if err != nil || len(latest) != 1 || latest[0].ID != "e3" {
		t.Errorf("limit 1 should return the newest failure, got %+v (%v)", latest, err)
	}

	byActor, err := repo.GetByActorID(ctx, "operator")
	if err != nil || len(byActor) != 1 || byActor[0].EventType != "POPULATION_SPAWN" {
		t.Errorf("GetByActorID = %+v (%v)", byActor, err)
	}

	counts, err := repo.CountByEventType(ctx)
	if err != nil {
		t.Fatalf("CountByEventType: %v", err)
	}
	if counts["DISPATCH_FAILURE"] != 2 || counts["POPULATION_SPAWN"] != 1 {
		t.Errorf("counts = %v", counts)
	}
}

func TestAppendDuplicateIDFails(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	e := JournalEvent{ID: "dup", Timestamp: time.Now(), EventType: "CONFIG_CHANGED", ActorID: "operator"}
	if err := repo.Append(ctx, e); err != nil {
		t.Fatal(err)
	}
	if err := repo.Append(ctx, e); err == nil {
		t.Errorf("expected primary key violation")
	}
}
