package invalidation

import (
	"testing"
	"time"
)

func mustTS() time.Time { return time.Date(2025, 10, 26, 12, 30, 45, 0, time.UTC) }

const hash = "0123456789abcdef0123456789abcdef"

func TestNewEvent_Validates(t *testing.T) {
	ev := NewEvent(OpDeleted, hash)
	if err := ev.Validate(); err != nil {
		t.Fatalf("unexpected: %v", err)
	}
	if other := NewEvent(OpDeleted, hash); other.ID == ev.ID {
		t.Fatalf("event ids should be unique")
	}
}

func TestEvent_Validate_Rejects(t *testing.T) {
	base := Event{Version: 1, ID: "7d444840-9dc0-11d1-b245-5ffdce74fad2", Op: OpStored, Hash: hash, TS: mustTS()}
	cases := map[string]func(*Event){
		"version": func(e *Event) { e.Version = 2 },
		"id":      func(e *Event) { e.ID = "not-a-uuid" },
		"op":      func(e *Event) { e.Op = "update" },
		"hash":    func(e *Event) { e.Hash = "ABCDEF" },
		"ts":      func(e *Event) { e.TS = time.Time{} },
	}
	for name, mutate := range cases {
		ev := base
		mutate(&ev)
		if err := ev.Validate(); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
	if err := base.Validate(); err != nil {
		t.Fatalf("base event should validate: %v", err)
	}
}
