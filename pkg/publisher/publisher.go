// Package publisher routes hardware object lifecycle events to the entries
// that depend on them.
//
// A subscriber registers for one object type, optionally filtered to a
// single publisher key. On Subscribe it is replayed a Created event for every
// live object of that type, in creation order, before any live event, and
// the replay has been delivered when Subscribe returns. Each
// subscription owns a queue that is drained without the publisher lock held,
// so callbacks may publish, subscribe or unsubscribe.
package publisher

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/newtron-network/hwagent/pkg/hw"
	"github.com/newtron-network/hwagent/pkg/util"
)

// EventKind distinguishes object creation from removal.
type EventKind int

const (
	Created EventKind = iota
	Removed
)

func (k EventKind) String() string {
	if k == Created {
		return "created"
	}
	return "removed"
}

// Event is one lifecycle notification.
type Event struct {
	Kind EventKind
	Type hw.ObjectType
	// Key is the publisher key of the object, stable across warm boot.
	Key string
	// Object is the store handle of the object.
	Object any
	// Seq orders objects of a type by creation.
	Seq uint64
	// Replay is set on the synthetic Created events sent by Subscribe.
	Replay bool
}

// Subscriber receives events. Errors returned by a callback are passed back
// to whoever triggered the delivery.
type Subscriber interface {
	ObjectCreated(ev Event) error
	ObjectRemoved(ev Event) error
}

// Filter selects which events a subscription sees. It must depend on the
// event key only, so a Created and its paired Removed are both seen or both
// skipped.
type Filter func(key string) bool

// KeyFilter matches exactly one publisher key.
func KeyFilter(key string) Filter {
	return func(k string) bool { return k == key }
}

type subscription struct {
	sub      Subscriber
	filter   Filter
	queue    []Event
	draining bool
	closed   bool
}

type liveObject struct {
	seq    uint64
	object any
}

// Publisher is the registry of live objects and their subscribers.
type Publisher struct {
	mu   sync.Mutex
	idle *sync.Cond // signalled when a subscription stops draining
	seq  uint64
	live map[hw.ObjectType]map[string]liveObject
	subs map[hw.ObjectType][]*subscription
}

// New returns an empty publisher.
func New() *Publisher {
	p := &Publisher{
		live: make(map[hw.ObjectType]map[string]liveObject),
		subs: make(map[hw.ObjectType][]*subscription),
	}
	p.idle = sync.NewCond(&p.mu)
	return p
}

// Subscribe registers sub for events of type t and synchronously replays the
// live objects that pass filter (nil matches everything). Errors from the
// replayed callbacks are returned; the subscription stays registered. When a
// concurrent Publish picks up the replay first, Subscribe waits for it to be
// delivered and the callback errors go to that Publish.
func (p *Publisher) Subscribe(t hw.ObjectType, sub Subscriber, filter Filter) error {
	p.mu.Lock()
	for _, s := range p.subs[t] {
		if s.sub == sub {
			p.mu.Unlock()
			return fmt.Errorf("%w: subscriber already registered for %s", util.ErrDuplicateEntry, t)
		}
	}

	s := &subscription{sub: sub, filter: filter}
	for key, obj := range p.live[t] {
		s.queue = append(s.queue, Event{
			Kind:   Created,
			Type:   t,
			Key:    key,
			Object: obj.object,
			Seq:    obj.seq,
			Replay: true,
		})
	}
	sort.Slice(s.queue, func(i, j int) bool { return s.queue[i].Seq < s.queue[j].Seq })

	// Copy on write: in-flight Publish calls keep iterating their snapshot.
	subs := make([]*subscription, 0, len(p.subs[t])+1)
	subs = append(subs, p.subs[t]...)
	p.subs[t] = append(subs, s)
	p.mu.Unlock()

	err := p.drain(s)

	p.mu.Lock()
	for s.draining {
		p.idle.Wait()
	}
	p.mu.Unlock()
	return err
}

// Unsubscribe removes sub from type t. Queued events are dropped and no
// callback starts after it returns; a callback already running on another
// goroutine may still finish. Returns false if sub was not registered.
func (p *Publisher) Unsubscribe(t hw.ObjectType, sub Subscriber) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i, s := range p.subs[t] {
		if s.sub != sub {
			continue
		}
		s.closed = true
		s.queue = nil
		subs := make([]*subscription, 0, len(p.subs[t])-1)
		subs = append(subs, p.subs[t][:i]...)
		p.subs[t] = append(subs, p.subs[t][i+1:]...)
		return true
	}
	return false
}

// Publish announces that an object became live (Created) or went away
// (Removed). A Removed for a key that is not live is ignored, as is a second
// Created for a live key. The callback errors of every delivery drained by
// this call are joined and returned.
func (p *Publisher) Publish(kind EventKind, t hw.ObjectType, key string, object any) error {
	p.mu.Lock()
	live := p.live[t]
	if live == nil {
		live = make(map[string]liveObject)
		p.live[t] = live
	}

	ev := Event{Kind: kind, Type: t, Key: key, Object: object}
	switch kind {
	case Created:
		if _, ok := live[key]; ok {
			p.mu.Unlock()
			return nil
		}
		p.seq++
		ev.Seq = p.seq
		live[key] = liveObject{seq: ev.Seq, object: object}
	case Removed:
		obj, ok := live[key]
		if !ok {
			p.mu.Unlock()
			return nil
		}
		ev.Seq = obj.seq
		ev.Object = obj.object
		delete(live, key)
	}

	targets := p.subs[t]
	for _, s := range targets {
		s.queue = append(s.queue, ev)
	}
	p.mu.Unlock()

	var errs []error
	for _, s := range targets {
		if err := p.drain(s); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// drain delivers queued events to one subscription. If the subscription is
// already being drained further up the stack or on another goroutine, the
// events are left for that drainer, which preserves per-subscriber order.
func (p *Publisher) drain(s *subscription) error {
	p.mu.Lock()
	if s.draining {
		p.mu.Unlock()
		return nil
	}
	s.draining = true

	var errs []error
	for !s.closed && len(s.queue) > 0 {
		ev := s.queue[0]
		s.queue = s.queue[1:]
		p.mu.Unlock()

		if s.filter == nil || s.filter(ev.Key) {
			if err := deliver(s.sub, ev); err != nil {
				errs = append(errs, err)
			}
		}

		p.mu.Lock()
	}
	s.draining = false
	p.idle.Broadcast()
	p.mu.Unlock()

	return errors.Join(errs...)
}

func deliver(sub Subscriber, ev Event) error {
	if ev.Kind == Created {
		return sub.ObjectCreated(ev)
	}
	return sub.ObjectRemoved(ev)
}

// IsLive reports whether the object with key is currently published.
func (p *Publisher) IsLive(t hw.ObjectType, key string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.live[t][key]
	return ok
}

// Live returns the number of published objects of type t.
func (p *Publisher) Live(t hw.ObjectType) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.live[t])
}

// Subscribers returns the number of subscriptions on type t.
func (p *Publisher) Subscribers(t hw.ObjectType) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.subs[t])
}
