// Package invalidation describes model store change events and publishes
// them so other replicas can drop cached models.
package invalidation

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	OpStored  = "stored"
	OpDeleted = "deleted"
)

var hashRE = regexp.MustCompile(`^[0-9a-f]{32}$`)

type Event struct {
	Version int       `json:"version"`
	ID      string    `json:"id"`
	Op      string    `json:"op"`
	Hash    string    `json:"hash"`
	Size    int64     `json:"size,omitempty"`
	Source  string    `json:"source,omitempty"`
	TS      time.Time `json:"ts"`
}

// NewEvent stamps a fresh event id and the current time.
func NewEvent(op, hash string) Event {
	return Event{Version: 1, ID: uuid.NewString(), Op: op, Hash: hash, TS: time.Now().UTC()}
}

func (e Event) Validate() error {
	if e.Version != 1 {
		return fmt.Errorf("version must be 1")
	}
	if _, err := uuid.Parse(e.ID); err != nil {
		return fmt.Errorf("id must be a uuid: %w", err)
	}
	switch e.Op {
	case OpStored, OpDeleted:
	default:
		return fmt.Errorf("op must be stored|deleted")
	}
	if !hashRE.MatchString(strings.TrimSpace(e.Hash)) {
		return fmt.Errorf("hash must be 32 lowercase hex characters")
	}
	if e.TS.IsZero() {
		return fmt.Errorf("ts is required")
	}
	return nil
}
