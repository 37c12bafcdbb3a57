// Package neighbor turns ARP and NDP entries into neighbor hardware objects.
//
// A Manager owns one managed entry per resolved neighbor. The entry waits
// for the neighbor's router interface and FDB entry to be published and for
// its egress link to be eligible before the neighbor object is programmed,
// and drops the object as soon as any of these goes away. Pending entries
// and IPv6 link-local neighbors are never programmed.
package neighbor

import (
	"errors"
	"sort"
	"sync/atomic"

	"github.com/newtron-network/hwagent/pkg/linkstate"
	"github.com/newtron-network/hwagent/pkg/metrics"
	"github.com/newtron-network/hwagent/pkg/objects"
	"github.com/newtron-network/hwagent/pkg/state"
	"github.com/newtron-network/hwagent/pkg/util"
)

// Observer is told when a neighbor starts or stops being managed, before
// its entry subscribes and after it is closed.
type Observer interface {
	NeighborResolved(key state.NeighborKey, attrs state.NeighborAttributes) error
	NeighborUnresolved(key state.NeighborKey, attrs state.NeighborAttributes) error
}

type core struct {
	stores   *objects.Stores
	links    linkstate.Source
	warmBoot atomic.Bool
}

// Manager manages the neighbors of one protocol. All methods must be called
// from the agent's update context.
type Manager[E state.Neighbor] struct {
	core     *core
	kind     string
	observer Observer
	entries  map[state.NeighborKey]*managedNeighbor
	pending  map[state.NeighborKey]bool
}

// NewManager returns a manager for kind ("arp" or "ndp").
func NewManager[E state.Neighbor](kind string, stores *objects.Stores, links linkstate.Source) *Manager[E] {
	return &Manager[E]{
		core:    &core{stores: stores, links: links},
		kind:    kind,
		entries: make(map[state.NeighborKey]*managedNeighbor),
		pending: make(map[state.NeighborKey]bool),
	}
}

// SetObserver registers o. Pass nil to remove it.
func (m *Manager[E]) SetObserver(o Observer) {
	m.observer = o
}

// Kind returns the protocol name.
func (m *Manager[E]) Kind() string {
	return m.kind
}

// Add starts managing a resolved neighbor. A pending entry is only
// recorded, and an IPv6 link-local entry is skipped.
func (m *Manager[E]) Add(e E) error {
	key := e.Key()
	log := util.WithNeighbor(key.InterfaceID, key.IP.String())

	if e.IsPending() {
		m.pending[key] = true
		log.Debugf("%s entry pending, not programmed", m.kind)
		m.updateGauge()
		return nil
	}
	if util.IsIPv6LinkLocal(key.IP) {
		log.Debugf("skipping link-local neighbor")
		return nil
	}
	if _, ok := m.entries[key]; ok {
		err := util.NewDuplicateEntryError(m.kind, key.String())
		log.Error(err)
		return err
	}

	attrs := e.Attributes()
	if m.observer != nil {
		if err := m.observer.NeighborResolved(key, attrs); err != nil {
			return err
		}
	}
	n := newManagedNeighbor(m.core, m.kind, key, attrs)
	if err := n.entry.Start(); err != nil {
		if m.observer != nil {
			err = errors.Join(err, m.observer.NeighborUnresolved(key, attrs))
		}
		return err
	}
	delete(m.pending, key)
	m.entries[key] = n
	m.updateGauge()
	log.Debugf("%s entry added", m.kind)
	return nil
}

// Remove stops managing a neighbor and releases its hardware object.
// Pending and link-local entries are silently ignored, as in Add.
func (m *Manager[E]) Remove(e E) error {
	key := e.Key()
	log := util.WithNeighbor(key.InterfaceID, key.IP.String())

	if e.IsPending() {
		delete(m.pending, key)
		m.updateGauge()
		return nil
	}
	if util.IsIPv6LinkLocal(key.IP) {
		return nil
	}
	n, ok := m.entries[key]
	if !ok {
		err := util.NewNotFoundError(m.kind, key.String())
		log.Error(err)
		return err
	}

	delete(m.entries, key)
	err := n.entry.Close()
	if m.observer != nil {
		err = errors.Join(err, m.observer.NeighborUnresolved(key, n.attrs))
	}
	m.updateGauge()
	log.Debugf("%s entry removed", m.kind)
	return err
}

// Change moves a neighbor from before to after. Resolved entries are never
// updated in place: a material change removes the old entry and adds the
// new one. If the add fails the old entry is restored. Next hops that
// reference a neighbor going pending see its removal through the publisher.
func (m *Manager[E]) Change(before, after E) error {
	switch {
	case before.IsPending() && after.IsPending():
		return nil
	case !before.IsPending() && !after.IsPending() && state.NeighborsEqual(before, after):
		return nil
	}

	if err := m.Remove(before); err != nil {
		return err
	}
	if err := m.Add(after); err != nil {
		if rerr := m.Add(before); rerr != nil {
			return errors.Join(err, rerr)
		}
		return err
	}
	return nil
}

// IsLinkEligible reports whether traffic may egress port.
func (m *Manager[E]) IsLinkEligible(port state.PortDescriptor) bool {
	return linkstate.Eligible(m.core.links, port)
}

// LinkStateChanged re-evaluates the neighbors egressing the given physical
// ports and every neighbor behind an aggregate.
func (m *Manager[E]) LinkStateChanged(ports ...string) error {
	changed := make(map[string]bool, len(ports))
	for _, p := range ports {
		changed[p] = true
	}

	var errs []error
	for _, key := range m.sortedKeys() {
		n := m.entries[key]
		if n.attrs.Port.IsAggregate() || changed[n.attrs.Port.Name] {
			if err := n.entry.Reevaluate(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	m.updateGauge()
	return errors.Join(errs...)
}

// BeginWarmBoot starts the warm-boot window: neighbors whose link is not
// eligible are pre-created unresolved instead of dropped.
func (m *Manager[E]) BeginWarmBoot() {
	m.core.warmBoot.Store(true)
}

// EndWarmBoot closes the window and re-evaluates every neighbor, resolving
// or dropping the pre-created ones.
func (m *Manager[E]) EndWarmBoot() error {
	m.core.warmBoot.Store(false)
	var errs []error
	for _, key := range m.sortedKeys() {
		if err := m.entries[key].entry.Reevaluate(); err != nil {
			errs = append(errs, err)
		}
	}
	m.updateGauge()
	return errors.Join(errs...)
}

// Handle returns the neighbor object realized for key, or nil.
func (m *Manager[E]) Handle(key state.NeighborKey) *objects.Neighbor {
	n, ok := m.entries[key]
	if !ok {
		return nil
	}
	return n.object()
}

// Status describes one managed neighbor.
type Status struct {
	Key      state.NeighborKey
	Attrs    state.NeighborAttributes
	Pending  bool
	Realized bool
	Resolved bool
	Missing  []string
}

// Entries returns the managed and pending neighbors in key order.
func (m *Manager[E]) Entries() []Status {
	var out []Status
	for _, key := range m.sortedKeys() {
		n := m.entries[key]
		st := Status{Key: key, Attrs: n.attrs}
		if obj := n.object(); obj != nil {
			st.Realized = true
			st.Resolved = obj.Resolved()
		}
		for _, d := range n.entry.Missing() {
			st.Missing = append(st.Missing, d.String())
		}
		out = append(out, st)
	}
	for key := range m.pending {
		out = append(out, Status{Key: key, Pending: true})
	}
	sort.SliceStable(out, func(i, j int) bool { return keyLess(out[i].Key, out[j].Key) })
	return out
}

// Len returns the number of managed (non-pending) neighbors.
func (m *Manager[E]) Len() int {
	return len(m.entries)
}

// Clear drops every managed neighbor.
func (m *Manager[E]) Clear() error {
	var errs []error
	for _, key := range m.sortedKeys() {
		n := m.entries[key]
		delete(m.entries, key)
		if err := n.entry.Close(); err != nil {
			errs = append(errs, err)
		}
		if m.observer != nil {
			if err := m.observer.NeighborUnresolved(key, n.attrs); err != nil {
				errs = append(errs, err)
			}
		}
	}
	clear(m.pending)
	m.updateGauge()
	return errors.Join(errs...)
}

func keyLess(a, b state.NeighborKey) bool {
	if a.InterfaceID != b.InterfaceID {
		return a.InterfaceID < b.InterfaceID
	}
	return a.IP.Less(b.IP)
}

func (m *Manager[E]) sortedKeys() []state.NeighborKey {
	keys := make([]state.NeighborKey, 0, len(m.entries))
	for k := range m.entries {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keyLess(keys[i], keys[j]) })
	return keys
}

func (m *Manager[E]) updateGauge() {
	realized := 0
	for _, n := range m.entries {
		if n.object() != nil {
			realized++
		}
	}
	metrics.ManagedEntries.WithLabelValues(m.kind, "realized").Set(float64(realized))
	metrics.ManagedEntries.WithLabelValues(m.kind, "unrealized").Set(float64(len(m.entries) - realized))
	metrics.ManagedEntries.WithLabelValues(m.kind, "pending").Set(float64(len(m.pending)))
}
