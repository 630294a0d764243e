package domain

import (
	"errors"
	"time"
)

// Action is the kind of an attempt event.
type Action string

const (
	// ActionServed records that an item was handed to a learner.
	ActionServed Action = "served"
	// ActionAnswered records a graded answer.
	ActionAnswered Action = "answered"
)

// Valid reports whether a is a known action.
func (a Action) Valid() bool {
	return a == ActionServed || a == ActionAnswered
}

// AttemptEvent is one append-only log record. Events are never mutated or
// deleted once written.
type AttemptEvent struct {
	Timestamp time.Time `json:"ts"`
	SessionID string    `json:"session_id"`
	ServeID   string    `json:"serve_id,omitempty"`
	AttemptID string    `json:"attempt_id,omitempty"`
	ItemID    string    `json:"item_id"`
	ItemType  string    `json:"item_type"`
	Action    Action    `json:"action"`
	Correct   *bool     `json:"correct,omitempty"`
}

// Validate checks the fields every backend relies on.
func (e AttemptEvent) Validate() error {
	if e.SessionID == "" {
		return errors.New("event session_id is required")
	}
	if !e.Action.Valid() {
		return errors.New("event action must be served or answered")
	}
	return nil
}

// BoolPtr returns a pointer to b.
func BoolPtr(b bool) *bool {
	return &b
}
