package kafka

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// eventDedupe remembers recently applied event ids so redelivered messages
// are skipped.
type eventDedupe struct {
	mu  sync.Mutex
	lru *lru.Cache[string, struct{}]
}

func newEventDedupe(size int) *eventDedupe {
	if size <= 0 {
		size = 4096
	}
	c, _ := lru.New[string, struct{}](size)
	return &eventDedupe{lru: c}
}

// returns true the first time id is seen
func (d *eventDedupe) shouldApply(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.lru.Contains(id) {
		return false
	}
	d.lru.Add(id, struct{}{})
	return true
}
