package events

import (
	"fmt"
	"testing"

	"github.com/splax/routedev/internal/domain"
)

func eventN(i int) domain.Event {
	return domain.Event{ID: fmt.Sprintf("ev-%d", i), RouteID: "routes/index", Kind: domain.KindLoader}
}

func TestQueueRetainsMostRecent(t *testing.T) {
	q := NewQueue(0)
	for i := 0; i < 95; i++ {
		q.Push(eventN(i))
	}
	items := q.All()
	if len(items) != DefaultCapacity {
		t.Fatalf("expected %d events, got %d", DefaultCapacity, len(items))
	}
	for i, ev := range items {
		want := fmt.Sprintf("ev-%d", 95-DefaultCapacity+i)
		if ev.ID != want {
			t.Fatalf("position %d: expected %s, got %s", i, want, ev.ID)
		}
	}
	if q.Total() != 95 {
		t.Fatalf("expected total 95, got %d", q.Total())
	}
}

func TestQueueAllDoesNotDrain(t *testing.T) {
	q := NewQueue(3)
	q.Push(eventN(1))
	q.Push(eventN(2))
	first := q.All()
	second := q.All()
	if len(first) != 2 || len(second) != 2 {
		t.Fatalf("expected reads to be non-destructive, got %d then %d", len(first), len(second))
	}
	first[0].ID = "mutated"
	if q.All()[0].ID != "ev-1" {
		t.Fatalf("expected All to return a copy")
	}
}

func TestQueueSince(t *testing.T) {
	q := NewQueue(3)
	for i := 0; i < 2; i++ {
		q.Push(eventN(i))
	}
	_, cursor := q.Since(0)
	if cursor != 2 {
		t.Fatalf("expected cursor 2, got %d", cursor)
	}
	for i := 2; i < 7; i++ {
		q.Push(eventN(i))
	}
	items, cursor := q.Since(cursor)
	if cursor != 7 {
		t.Fatalf("expected cursor 7, got %d", cursor)
	}
	if len(items) != 3 || items[0].ID != "ev-4" || items[2].ID != "ev-6" {
		t.Fatalf("unexpected delta %+v", items)
	}
	if items, _ := q.Since(cursor); len(items) != 0 {
		t.Fatalf("expected empty delta, got %d", len(items))
	}
}

func TestQueueClearKeepsTotal(t *testing.T) {
	q := NewQueue(5)
	q.Push(eventN(1))
	q.Push(eventN(2))
	if n := q.Clear(); n != 2 {
		t.Fatalf("expected 2 cleared, got %d", n)
	}
	if q.Len() != 0 {
		t.Fatalf("expected empty queue")
	}
	if q.Total() != 2 {
		t.Fatalf("expected total to survive clear, got %d", q.Total())
	}
}
