// Package audit records what the agent programmed: one event per applied
// state delta, warm boot or learning batch.
package audit

import (
	"fmt"
	"time"
)

// Operation names the kind of work an event records.
type Operation string

const (
	OperationApply      Operation = "apply"
	OperationWarmBoot   Operation = "warmboot"
	OperationL2Learning Operation = "l2-learning"
	OperationRevert     Operation = "revert"
)

// Event is one audited unit of work.
type Event struct {
	ID        string        `json:"id"`
	Timestamp time.Time     `json:"timestamp"`
	User      string        `json:"user,omitempty"`
	Switch    string        `json:"switch"`
	Operation Operation     `json:"operation"`
	Delta     string        `json:"delta,omitempty"`
	Changes   []string      `json:"changes,omitempty"`
	Reverted  int           `json:"reverted,omitempty"`
	Success   bool          `json:"success"`
	Error     string        `json:"error,omitempty"`
	Duration  time.Duration `json:"duration"`
}

// Filter selects events in Query. Zero fields match everything.
type Filter struct {
	Switch      string
	Operation   Operation
	Delta       string
	StartTime   time.Time
	EndTime     time.Time
	SuccessOnly bool
	FailureOnly bool
	Limit       int
	Offset      int
}

// NewEvent starts an event for op on a switch.
func NewEvent(switchID string, op Operation, delta string) *Event {
	return &Event{
		ID:        fmt.Sprintf("%d", time.Now().UnixNano()),
		Timestamp: time.Now(),
		Switch:    switchID,
		Operation: op,
		Delta:     delta,
	}
}

// WithUser sets the user that triggered the event.
func (e *Event) WithUser(user string) *Event {
	e.User = user
	return e
}

// WithChanges sets the applied changes, one line each.
func (e *Event) WithChanges(changes []string) *Event {
	e.Changes = changes
	return e
}

// WithResult marks the event successful when err is nil, failed otherwise.
func (e *Event) WithResult(err error) *Event {
	e.Success = err == nil
	e.Error = ""
	if err != nil {
		e.Error = err.Error()
	}
	return e
}

// WithReverted records how many changes were rolled back.
func (e *Event) WithReverted(n int) *Event {
	e.Reverted = n
	return e
}

// WithDuration sets how long the operation took.
func (e *Event) WithDuration(d time.Duration) *Event {
	e.Duration = d
	return e
}

func (f Filter) matches(e *Event) bool {
	switch {
	case f.Switch != "" && e.Switch != f.Switch:
		return false
	case f.Operation != "" && e.Operation != f.Operation:
		return false
	case f.Delta != "" && e.Delta != f.Delta:
		return false
	case !f.StartTime.IsZero() && e.Timestamp.Before(f.StartTime):
		return false
	case !f.EndTime.IsZero() && e.Timestamp.After(f.EndTime):
		return false
	case f.SuccessOnly && !e.Success:
		return false
	case f.FailureOnly && e.Success:
		return false
	}
	return true
}

// page applies Offset and Limit.
func (f Filter) page(events []*Event) []*Event {
	if f.Offset > 0 {
		if f.Offset >= len(events) {
			return nil
		}
		events = events[f.Offset:]
	}
	if f.Limit > 0 && f.Limit < len(events) {
		events = events[:f.Limit]
	}
	return events
}
