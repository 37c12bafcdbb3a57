// Package managed implements entries whose hardware object may only exist
// while the objects it depends on exist.
//
// An Entry subscribes to each dependency by publisher key and tracks which
// ones are live. Dependencies are never owned: the entry only knows their
// keys and the owner of the target resolves them in their stores when it
// needs the handles. Every change in dependency presence is handed to the
// Target, which realizes or tears down its object.
package managed

import (
	"errors"
	"fmt"
	"sync"

	"github.com/newtron-network/hwagent/pkg/hw"
	"github.com/newtron-network/hwagent/pkg/publisher"
)

// Dependency names one object an entry needs.
type Dependency struct {
	Type hw.ObjectType
	Key  string
}

func (d Dependency) String() string {
	return fmt.Sprintf("%s %s", d.Type.Short(), d.Key)
}

// Target owns the hardware object of an entry. Calls are serialized by the
// entry.
type Target interface {
	// Update brings the target in line with dependency presence: ready is
	// true when every dependency is live.
	Update(ready bool) error
	// Teardown drops the target object for good.
	Teardown() error
}

// Entry tracks the dependencies of one target.
type Entry struct {
	mu      sync.Mutex
	pub     *publisher.Publisher
	name    string
	target  Target
	deps    []Dependency
	present map[Dependency]bool
	started bool
	closed  bool
}

// New returns an entry that is not subscribed yet.
func New(pub *publisher.Publisher, name string, target Target, deps ...Dependency) *Entry {
	return &Entry{
		pub:     pub,
		name:    name,
		target:  target,
		deps:    deps,
		present: make(map[Dependency]bool, len(deps)),
	}
}

// Name returns the entry name used in logs and errors.
func (e *Entry) Name() string {
	return e.name
}

// types returns the dependency types in first-seen order.
func (e *Entry) types() []hw.ObjectType {
	var out []hw.ObjectType
	seen := make(map[hw.ObjectType]bool)
	for _, d := range e.deps {
		if !seen[d.Type] {
			seen[d.Type] = true
			out = append(out, d.Type)
		}
	}
	return out
}

func (e *Entry) filter(t hw.ObjectType) publisher.Filter {
	keys := make(map[string]bool)
	for _, d := range e.deps {
		if d.Type == t {
			keys[d.Key] = true
		}
	}
	return func(key string) bool { return keys[key] }
}

// Start subscribes to every dependency type. Live dependencies are replayed
// during subscription; the target sees one Update once all subscriptions are
// in place. On error the entry is closed again.
func (e *Entry) Start() error {
	for _, t := range e.types() {
		if err := e.pub.Subscribe(t, e, e.filter(t)); err != nil {
			return errors.Join(fmt.Errorf("%s: subscribing to %s: %w", e.name, t.Short(), err), e.Close())
		}
	}

	e.mu.Lock()
	e.started = true
	err := e.target.Update(e.readyLocked())
	e.mu.Unlock()
	if err != nil {
		return errors.Join(fmt.Errorf("%s: %w", e.name, err), e.Close())
	}
	return nil
}

// Close unsubscribes and tears the target down. It is safe to call more
// than once.
func (e *Entry) Close() error {
	for _, t := range e.types() {
		e.pub.Unsubscribe(t, e)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	if err := e.target.Teardown(); err != nil {
		return fmt.Errorf("%s: %w", e.name, err)
	}
	return nil
}

// Reevaluate hands the current dependency presence to the target again,
// for changes the publisher does not carry such as link state.
func (e *Entry) Reevaluate() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.started || e.closed {
		return nil
	}
	if err := e.target.Update(e.readyLocked()); err != nil {
		return fmt.Errorf("%s: %w", e.name, err)
	}
	return nil
}

// Ready reports whether every dependency is live.
func (e *Entry) Ready() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.readyLocked()
}

// Missing returns the dependencies that are not live.
func (e *Entry) Missing() []Dependency {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []Dependency
	for _, d := range e.deps {
		if !e.present[d] {
			out = append(out, d)
		}
	}
	return out
}

func (e *Entry) readyLocked() bool {
	for _, d := range e.deps {
		if !e.present[d] {
			return false
		}
	}
	return true
}

func (e *Entry) set(ev publisher.Event, live bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	d := Dependency{Type: ev.Type, Key: ev.Key}
	if e.present[d] == live {
		return nil
	}
	e.present[d] = live
	if !e.started {
		return nil
	}
	if err := e.target.Update(e.readyLocked()); err != nil {
		return fmt.Errorf("%s: %s %s: %w", e.name, d, ev.Kind, err)
	}
	return nil
}

// ObjectCreated implements publisher.Subscriber.
func (e *Entry) ObjectCreated(ev publisher.Event) error {
	return e.set(ev, true)
}

// ObjectRemoved implements publisher.Subscriber.
func (e *Entry) ObjectRemoved(ev publisher.Event) error {
	return e.set(ev, false)
}
