package queue

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func mustQueue(t *testing.T, capacity int) *Queue {
	t.Helper()
	db, err := OpenSQLite(filepath.Join(t.TempDir(), "queue.db"), nil)
	if err != nil {
		t.Fatalf("open queue database: %v", err)
	}
	q, err := New(Config{
		Database: db,
		Capacity: capacity,
		Clock:    func() time.Time { return time.Unix(1700000000, 0) },
	})
	if err != nil {
		t.Fatalf("new queue: %v", err)
	}
	return q
}

func mustLen(t *testing.T, q *Queue, want int64) {
	t.Helper()
	count, err := q.Len(context.Background())
	if err != nil {
		t.Fatalf("queue length: %v", err)
	}
	if count != want {
		t.Fatalf("expected %d entries, got %d", want, count)
	}
}

func TestNewValidatesConfig(t *testing.T) {
	if _, err := New(Config{Capacity: 10}); err == nil {
		t.Fatalf("expected error for missing database")
	}
	db, err := OpenSQLite(filepath.Join(t.TempDir(), "queue.db"), nil)
	if err != nil {
		t.Fatalf("open queue database: %v", err)
	}
	if _, err := New(Config{Database: db}); err == nil {
		t.Fatalf("expected error for non-positive capacity")
	}
}

func TestDrainReplaysInEnqueueOrder(t *testing.T) {
	q := mustQueue(t, 10)
	ctx := context.Background()

	for _, id := range []string{"p1", "p2", "p3"} {
		if err := q.Enqueue(ctx, "plato-actualizado", map[string]string{"platoId": id}); err != nil {
			t.Fatalf("enqueue %s: %v", id, err)
		}
	}
	mustLen(t, q, 3)

	var replayed []string
	report, err := q.Drain(ctx, map[string]Handler{
		"plato-actualizado": func(ctx context.Context, data json.RawMessage) error {
			var payload struct {
				PlatoID string `json:"platoId"`
			}
			if err := json.Unmarshal(data, &payload); err != nil {
				return err
			}
			replayed = append(replayed, payload.PlatoID)
			return nil
		},
	})
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if report.Applied != 3 || report.Failed != 0 || report.Skipped != 0 {
		t.Fatalf("unexpected report: %+v", report)
	}
	if len(replayed) != 3 || replayed[0] != "p1" || replayed[1] != "p2" || replayed[2] != "p3" {
		t.Fatalf("expected replay order p1,p2,p3, got %v", replayed)
	}
	mustLen(t, q, 0)
}

func TestEnqueueOverflowDropsOldest(t *testing.T) {
	q := mustQueue(t, 2)
	ctx := context.Background()

	for _, id := range []string{"p1", "p2", "p3"} {
		if err := q.Enqueue(ctx, "plato-actualizado", map[string]string{"platoId": id}); err != nil {
			t.Fatalf("enqueue %s: %v", id, err)
		}
	}
	mustLen(t, q, 2)

	var replayed []string
	if _, err := q.Drain(ctx, map[string]Handler{
		"plato-actualizado": func(ctx context.Context, data json.RawMessage) error {
			var payload struct {
				PlatoID string `json:"platoId"`
			}
			if err := json.Unmarshal(data, &payload); err != nil {
				return err
			}
			replayed = append(replayed, payload.PlatoID)
			return nil
		},
	}); err != nil {
		t.Fatalf("drain: %v", err)
	}
	if len(replayed) != 2 || replayed[0] != "p2" || replayed[1] != "p3" {
		t.Fatalf("expected oldest entry dropped, got %v", replayed)
	}
}

func TestDrainDiscardsFailedEntries(t *testing.T) {
	q := mustQueue(t, 10)
	ctx := context.Background()

	if err := q.Enqueue(ctx, "plato-actualizado", map[string]string{"platoId": "p1"}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := q.Enqueue(ctx, "plato-actualizado", map[string]string{"platoId": "p2"}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	calls := 0
	report, err := q.Drain(ctx, map[string]Handler{
		"plato-actualizado": func(ctx context.Context, data json.RawMessage) error {
			calls++
			if calls == 1 {
				return errors.New("apply failed")
			}
			return nil
		},
	})
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if report.Applied != 1 || report.Failed != 1 {
		t.Fatalf("unexpected report: %+v", report)
	}
	mustLen(t, q, 0)

	second, err := q.Drain(ctx, map[string]Handler{})
	if err != nil {
		t.Fatalf("second drain: %v", err)
	}
	if second.Applied != 0 || second.Failed != 0 || second.Skipped != 0 {
		t.Fatalf("expected failed entry gone after first drain, got %+v", second)
	}
}

func TestDrainSkipsUnknownEventTypes(t *testing.T) {
	q := mustQueue(t, 10)
	ctx := context.Background()

	if err := q.Enqueue(ctx, "evento-desconocido", map[string]string{"x": "y"}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	report, err := q.Drain(ctx, map[string]Handler{})
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if report.Skipped != 1 {
		t.Fatalf("expected 1 skipped entry, got %+v", report)
	}
	mustLen(t, q, 0)
}

func TestDrainIsNotReentrant(t *testing.T) {
	q := mustQueue(t, 10)
	ctx := context.Background()

	if err := q.Enqueue(ctx, "plato-actualizado", map[string]string{"platoId": "p1"}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	var nested DrainReport
	report, err := q.Drain(ctx, map[string]Handler{
		"plato-actualizado": func(ctx context.Context, data json.RawMessage) error {
			inner, err := q.Drain(ctx, map[string]Handler{})
			if err != nil {
				return err
			}
			nested = inner
			return nil
		},
	})
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if report.Applied != 1 {
		t.Fatalf("expected outer drain to apply the entry, got %+v", report)
	}
	if nested.Applied != 0 || nested.Failed != 0 || nested.Skipped != 0 {
		t.Fatalf("expected nested drain to be a no-op, got %+v", nested)
	}
}

func TestEnqueueValidatesEventType(t *testing.T) {
	q := mustQueue(t, 10)
	if err := q.Enqueue(context.Background(), "", nil); err == nil {
		t.Fatalf("expected error for empty event type")
	}
}
