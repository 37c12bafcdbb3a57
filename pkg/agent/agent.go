// Package agent wires the object stores and entry managers into a switch
// agent. All state changes run on a single update context: Run drains a
// queue of updates and every exported mutating method submits one and waits
// for it.
package agent

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	events "github.com/docker/go-events"
	"github.com/sirupsen/logrus"

	"github.com/newtron-network/hwagent/pkg/audit"
	"github.com/newtron-network/hwagent/pkg/hw"
	"github.com/newtron-network/hwagent/pkg/l2l3"
	"github.com/newtron-network/hwagent/pkg/linkstate"
	"github.com/newtron-network/hwagent/pkg/metrics"
	"github.com/newtron-network/hwagent/pkg/neighbor"
	"github.com/newtron-network/hwagent/pkg/nexthop"
	"github.com/newtron-network/hwagent/pkg/objects"
	"github.com/newtron-network/hwagent/pkg/publisher"
	"github.com/newtron-network/hwagent/pkg/state"
	"github.com/newtron-network/hwagent/pkg/util"
)

var (
	// ErrStopped is returned by updates submitted after Run returned.
	ErrStopped = errors.New("agent stopped")

	// ErrNotEmpty is returned by WarmBoot on an agent that already holds state.
	ErrNotEmpty = errors.New("agent already holds state")
)

// Options configures an Agent.
type Options struct {
	SwitchID hw.ObjectID
	// Links answers link eligibility. Nil selects a linkstate.Static, which
	// the link transitions of applied deltas then drive.
	Links linkstate.Source
	// StaticL2ForNeighbors programs a static MAC entry for every resolved
	// neighbor.
	StaticL2ForNeighbors bool
	// Audit receives one event per delta application. Nil disables auditing.
	Audit audit.Logger
	// StatePath is where the software state is saved after each delta, for
	// the next warm boot. Empty disables saving.
	StatePath string
	// User is recorded in audit events.
	User string
}

type update struct {
	name string
	fn   func() error
	errc chan error
}

// Agent programs a switch from state deltas.
type Agent struct {
	opts   Options
	api    hw.API
	stores *objects.Stores
	links  linkstate.Source
	static *linkstate.Static

	rifs     *l2l3.RouterInterfaceManager
	fdbs     *l2l3.FdbManager
	arp      *neighbor.Manager[*state.ArpEntry]
	ndp      *neighbor.Manager[*state.NdpEntry]
	nexthops *nexthop.Manager
	audit    audit.Logger

	// current is only accessed from the update context.
	current *state.State

	updates  chan *update
	done     chan struct{}
	running  atomic.Bool
	ctx      context.Context
	cancel   context.CancelFunc
	learning *events.Queue
}

// New builds an agent over api. Run must be started before any update is
// submitted.
func New(api hw.API, opts Options) *Agent {
	links := opts.Links
	static, _ := links.(*linkstate.Static)
	if links == nil {
		static = linkstate.NewStatic()
		links = static
	}
	auditLog := opts.Audit
	if auditLog == nil {
		auditLog = audit.Nop{}
	}

	stores := objects.NewStores(api, publisher.New(), opts.SwitchID)
	a := &Agent{
		opts:     opts,
		api:      api,
		stores:   stores,
		links:    links,
		static:   static,
		rifs:     l2l3.NewRouterInterfaceManager(stores),
		fdbs:     l2l3.NewFdbManager(stores),
		arp:      neighbor.NewManager[*state.ArpEntry]("arp", stores, links),
		ndp:      neighbor.NewManager[*state.NdpEntry]("ndp", stores, links),
		nexthops: nexthop.NewManager(stores),
		audit:    auditLog,
		current:  state.NewState(),
		updates:  make(chan *update),
		done:     make(chan struct{}),
	}
	if opts.StaticL2ForNeighbors {
		observer := &staticL2{fdbs: a.fdbs}
		a.arp.SetObserver(observer)
		a.ndp.SetObserver(observer)
	}
	a.ctx, a.cancel = context.WithCancel(context.Background())
	a.learning = events.NewQueue(&learningSink{agent: a})
	return a
}

// Run executes submitted updates one at a time until ctx is done.
func (a *Agent) Run(ctx context.Context) error {
	if !a.running.CompareAndSwap(false, true) {
		return errors.New("agent is already running")
	}
	defer close(a.done)

	util.WithField("switch", a.opts.SwitchID).Info("agent update loop started")
	for {
		select {
		case u := <-a.updates:
			start := time.Now()
			err := u.fn()
			util.WithFields(map[string]interface{}{
				"update":   u.name,
				"duration": time.Since(start),
			}).Debug("update done")
			u.errc <- err
		case <-ctx.Done():
			util.Infof("agent update loop stopped")
			return nil
		}
	}
}

// Update runs fn on the update context and returns its error. name is used
// for logging.
func (a *Agent) Update(ctx context.Context, name string, fn func() error) error {
	u := &update{name: name, fn: fn, errc: make(chan error, 1)}
	select {
	case a.updates <- u:
	case <-a.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-u.errc:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting learning updates. Queued ones that have not run
// yet are dropped. Close does not touch hardware: objects stay programmed
// for the next warm boot.
func (a *Agent) Close() error {
	a.cancel()
	return a.learning.Close()
}

// Apply applies d atomically: either every change is programmed or, on the
// first failure, the applied ones are reverted and the error returned.
func (a *Agent) Apply(ctx context.Context, d *state.Delta) error {
	return a.Update(ctx, "apply "+d.Name, func() error {
		return a.applyDelta(audit.OperationApply, d)
	})
}

// State returns the software state the hardware currently reflects.
func (a *Agent) State(ctx context.Context) (*state.State, error) {
	var s *state.State
	err := a.Update(ctx, "state", func() error {
		s = a.current
		return nil
	})
	return s, err
}

func (a *Agent) applyDelta(op audit.Operation, d *state.Delta) error {
	start := time.Now()
	log := util.WithOperation(string(op)).WithField("delta", d.Name)
	event := audit.NewEvent(string(a.opts.SwitchID), op, d.Name).WithUser(a.opts.User)

	cs := NewChangeSet(d.Name)
	err := validateDelta(d)
	if err == nil {
		err = a.applyChanges(cs, d)
	}
	event.WithChanges(cs.Lines())

	if err != nil {
		log.WithError(err).Errorf("delta failed after %d changes, reverting", len(cs.Changes))
		n, rerr := cs.Revert()
		event.WithReverted(n)
		if rerr != nil {
			log.WithError(rerr).Error("revert incomplete")
			err = errors.Join(err, rerr)
		}
	} else {
		a.current = a.current.Apply(d)
		log.WithFields(logrus.Fields{
			"changes":  d.Summary(),
			"duration": time.Since(start),
		}).Info("delta applied")
		if a.opts.StatePath != "" {
			if serr := state.SaveState(a.opts.StatePath, a.current); serr != nil {
				log.WithError(serr).Warn("saving warm-boot state")
			}
		}
	}

	metrics.DeltaApplications.WithLabelValues(metrics.Outcome(err)).Inc()
	if aerr := a.audit.Log(event.WithResult(err).WithDuration(time.Since(start))); aerr != nil {
		log.WithError(aerr).Warn("writing audit event")
	}
	return err
}

// applier adapts one manager to the generic change loop.
type applier[T comparable] struct {
	table  string
	key    func(T) string
	add    func(T) error
	remove func(T) error
	change func(before, after T) error
}

func applyTable[T comparable](cs *ChangeSet, ap applier[T], changes []state.Change[T]) error {
	var zero T
	for _, c := range changes {
		var (
			err  error
			key  string
			undo func() error
		)
		switch {
		case c.Old == zero && c.New == zero:
			continue
		case c.Old == zero:
			key = ap.key(c.New)
			err = ap.add(c.New)
			undo = func() error { return ap.remove(c.New) }
		case c.New == zero:
			key = ap.key(c.Old)
			err = ap.remove(c.Old)
			undo = func() error { return ap.add(c.Old) }
		default:
			key = ap.key(c.New)
			err = ap.change(c.Old, c.New)
			undo = func() error { return ap.change(c.New, c.Old) }
		}
		if err != nil {
			return fmt.Errorf("%s %s: %w", ap.table, key, err)
		}
		cs.Add(ap.table, key, changeType(c.Old, c.New), undo)
	}
	return nil
}

func neighborApplier[E state.Neighbor](m *neighbor.Manager[E]) applier[E] {
	return applier[E]{
		table:  m.Kind(),
		key:    func(e E) string { return e.Key().String() },
		add:    m.Add,
		remove: m.Remove,
		change: m.Change,
	}
}

// applyChanges programs d in dependency order: interfaces, MAC entries,
// neighbors, next hops, then link transitions.
func (a *Agent) applyChanges(cs *ChangeSet, d *state.Delta) error {
	if err := applyTable(cs, applier[*state.Interface]{
		table:  "interface",
		key:    func(i *state.Interface) string { return strconv.FormatUint(uint64(i.ID), 10) },
		add:    a.rifs.Add,
		remove: a.rifs.Remove,
		change: a.rifs.Change,
	}, d.Interfaces); err != nil {
		return err
	}
	if err := applyTable(cs, applier[*state.MacEntry]{
		table:  "mac",
		key:    func(e *state.MacEntry) string { return e.Key().String() },
		add:    a.fdbs.Add,
		remove: a.fdbs.Remove,
		change: a.fdbs.Change,
	}, d.MacEntries); err != nil {
		return err
	}
	if err := applyTable(cs, neighborApplier(a.arp), d.Arp); err != nil {
		return err
	}
	if err := applyTable(cs, neighborApplier(a.ndp), d.Ndp); err != nil {
		return err
	}
	if err := applyTable(cs, applier[*state.NextHop]{
		table:  "nexthop",
		key:    func(n *state.NextHop) string { return n.Key().String() },
		add:    a.nexthops.Add,
		remove: a.nexthops.Remove,
		change: func(before, after *state.NextHop) error {
			if before.Key() == after.Key() {
				return nil
			}
			if err := a.nexthops.Remove(before); err != nil {
				return err
			}
			return a.nexthops.Add(after)
		},
	}, d.NextHops); err != nil {
		return err
	}

	for _, l := range d.Links {
		undo := func() error { return a.linkStateChanged(l.Port) }
		if a.static != nil {
			prev := a.static.PortOperUp(l.Port)
			a.static.SetPort(l.Port, l.Up)
			undo = func() error {
				a.static.SetPort(l.Port, prev)
				return a.linkStateChanged(l.Port)
			}
		}
		cs.Add("link", l.Port, ChangeModify, undo)
		if err := a.linkStateChanged(l.Port); err != nil {
			return fmt.Errorf("link %s: %w", l.Port, err)
		}
	}
	return nil
}

func validateNew[T interface {
	comparable
	Validate() error
}](v *util.ValidationBuilder, changes []state.Change[T]) {
	var zero T
	for _, c := range changes {
		if c.New == zero {
			continue
		}
		if err := c.New.Validate(); err != nil {
			v.AddErrorf("%v", err)
		}
	}
}

func validateDelta(d *state.Delta) error {
	v := &util.ValidationBuilder{}
	validateNew(v, d.Interfaces)
	validateNew(v, d.MacEntries)
	validateNew(v, d.Arp)
	validateNew(v, d.Ndp)
	for _, c := range d.NextHops {
		if c.New != nil {
			v.Add(c.New.IP.IsValid(), fmt.Sprintf("next hop on interface %d has no IP", c.New.InterfaceID))
		}
	}
	for _, l := range d.Links {
		v.Add(l.Port != "", "link change has no port")
	}
	return v.Build()
}

// LinkStateChanged re-evaluates the neighbors behind ports. Use it when the
// link source changes outside of applied deltas, as STATE_DB does.
func (a *Agent) LinkStateChanged(ctx context.Context, ports ...string) error {
	return a.Update(ctx, "link state", func() error {
		return a.linkStateChanged(ports...)
	})
}

func (a *Agent) linkStateChanged(ports ...string) error {
	return errors.Join(a.arp.LinkStateChanged(ports...), a.ndp.LinkStateChanged(ports...))
}

// WarmBoot reattaches to the objects the hardware already holds. The stores
// are reloaded from the API, snapshot is replayed inside the warm-boot
// window, and every reloaded object the replay did not claim is removed.
func (a *Agent) WarmBoot(ctx context.Context, snapshot *state.State) error {
	return a.Update(ctx, "warm boot", func() error {
		return a.warmBoot(snapshot)
	})
}

func (a *Agent) warmBoot(snapshot *state.State) error {
	if a.current.Len() > 0 {
		return ErrNotEmpty
	}
	log := util.WithOperation(string(audit.OperationWarmBoot))

	reloaded, err := a.stores.Reload()
	if err != nil {
		return fmt.Errorf("reloading hardware objects: %w", err)
	}
	log.WithField("objects", countsField(reloaded)).Info("hardware objects reloaded")

	a.arp.BeginWarmBoot()
	a.ndp.BeginWarmBoot()
	err = a.applyDelta(audit.OperationWarmBoot, snapshot.Delta("warm-boot"))
	if endErr := errors.Join(a.arp.EndWarmBoot(), a.ndp.EndWarmBoot()); endErr != nil {
		err = errors.Join(err, endErr)
	}
	if err != nil {
		return err
	}

	released, err := a.stores.ReleaseUnclaimed()
	log.WithField("objects", countsField(released)).Info("unclaimed objects released")
	return err
}

func countsField(counts map[hw.ObjectType]int) map[string]int {
	out := make(map[string]int, len(counts))
	for t, n := range counts {
		out[t.Short()] = n
	}
	return out
}

// RefreshLinks re-evaluates every neighbor against the link source. Sources
// that change on their own, such as STATE_DB, are polled this way.
func (a *Agent) RefreshLinks(ctx context.Context) error {
	return a.Update(ctx, "link refresh", func() error {
		return a.linkStateChanged(a.current.Ports()...)
	})
}
