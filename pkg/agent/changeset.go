package agent

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ChangeType represents the type of an applied change.
type ChangeType string

const (
	ChangeAdd    ChangeType = "add"
	ChangeModify ChangeType = "modify"
	ChangeDelete ChangeType = "delete"
)

func changeType[T comparable](before, after T) ChangeType {
	var zero T
	switch {
	case before == zero:
		return ChangeAdd
	case after == zero:
		return ChangeDelete
	}
	return ChangeModify
}

// Change is one applied change and the function that undoes it.
type Change struct {
	Table string
	Key   string
	Type  ChangeType
	undo  func() error
}

// ChangeSet journals the changes of one delta application in order.
type ChangeSet struct {
	Operation string
	Timestamp time.Time
	Changes   []Change
}

// NewChangeSet creates an empty journal.
func NewChangeSet(operation string) *ChangeSet {
	return &ChangeSet{
		Operation: operation,
		Timestamp: time.Now(),
	}
}

// Add records an applied change. undo may be nil for changes with no
// hardware effect.
func (cs *ChangeSet) Add(table, key string, changeType ChangeType, undo func() error) {
	cs.Changes = append(cs.Changes, Change{
		Table: table,
		Key:   key,
		Type:  changeType,
		undo:  undo,
	})
}

// IsEmpty returns true if there are no changes.
func (cs *ChangeSet) IsEmpty() bool {
	return len(cs.Changes) == 0
}

// Revert undoes the recorded changes, newest first, and empties the set.
// Every undo is attempted; their errors are joined.
func (cs *ChangeSet) Revert() (int, error) {
	var errs []error
	n := 0
	for i := len(cs.Changes) - 1; i >= 0; i-- {
		c := cs.Changes[i]
		if c.undo == nil {
			continue
		}
		n++
		if err := c.undo(); err != nil {
			errs = append(errs, fmt.Errorf("reverting %s %s|%s: %w", c.Type, c.Table, c.Key, err))
		}
	}
	cs.Changes = nil
	return n, errors.Join(errs...)
}

// Lines returns one line per change, as in String.
func (cs *ChangeSet) Lines() []string {
	lines := make([]string, 0, len(cs.Changes))
	for _, c := range cs.Changes {
		typeStr := ""
		switch c.Type {
		case ChangeAdd:
			typeStr = "[ADD]"
		case ChangeModify:
			typeStr = "[MOD]"
		case ChangeDelete:
			typeStr = "[DEL]"
		}
		lines = append(lines, fmt.Sprintf("%s %s|%s", typeStr, c.Table, c.Key))
	}
	return lines
}

// String returns a human-readable representation of the changes.
func (cs *ChangeSet) String() string {
	if cs.IsEmpty() {
		return "No changes"
	}
	var sb strings.Builder
	for _, line := range cs.Lines() {
		sb.WriteString("  " + line + "\n")
	}
	return sb.String()
}

// Preview returns the operation header followed by the changes.
func (cs *ChangeSet) Preview() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Operation: %s\n", cs.Operation))
	sb.WriteString(fmt.Sprintf("Changes:\n%s", cs.String()))
	return sb.String()
}
