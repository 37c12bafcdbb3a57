// Package nexthop programs IP next hops on top of neighbor objects. A next
// hop object exists only while its neighbor is published as resolved, so a
// neighbor that goes pending or loses a dependency takes its next hops down
// with it.
package nexthop

import (
	"errors"
	"sort"
	"strconv"
	"sync"

	"github.com/newtron-network/hwagent/pkg/hw"
	"github.com/newtron-network/hwagent/pkg/managed"
	"github.com/newtron-network/hwagent/pkg/metrics"
	"github.com/newtron-network/hwagent/pkg/objects"
	"github.com/newtron-network/hwagent/pkg/state"
	"github.com/newtron-network/hwagent/pkg/util"
)

type managedNextHop struct {
	stores *objects.Stores
	key    objects.NextHopKey
	entry  *managed.Entry

	mu  sync.Mutex
	obj *objects.NextHopObject
}

func (n *managedNextHop) Update(ready bool) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if !ready {
		return n.dropLocked()
	}
	if n.obj != nil {
		return nil
	}
	obj, err := n.stores.NextHop.SetObject(n.key, objects.NextHopAttributes{}, true)
	if err != nil {
		if obj != nil {
			err = errors.Join(err, obj.Release())
		}
		return err
	}
	n.obj = obj
	return nil
}

func (n *managedNextHop) Teardown() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.dropLocked()
}

func (n *managedNextHop) dropLocked() error {
	if n.obj == nil {
		return nil
	}
	obj := n.obj
	n.obj = nil
	return obj.Release()
}

func (n *managedNextHop) object() *objects.NextHopObject {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.obj
}

// Manager owns the next hops. Methods must be called from the agent's
// update context.
type Manager struct {
	stores  *objects.Stores
	entries map[state.NextHopKey]*managedNextHop
}

// NewManager returns an empty manager.
func NewManager(stores *objects.Stores) *Manager {
	return &Manager{
		stores:  stores,
		entries: make(map[state.NextHopKey]*managedNextHop),
	}
}

// Add starts managing a next hop. Its router interface must exist.
func (m *Manager) Add(nh *state.NextHop) error {
	key := nh.Key()
	if _, ok := m.entries[key]; ok {
		return util.NewDuplicateEntryError("next hop", key.String())
	}
	rif := m.stores.RouterInterface.Get(objects.RouterInterfaceKey{InterfaceID: nh.InterfaceID})
	if rif == nil {
		return util.NewDependencyError("next hop "+key.String(), "router interface",
			strconv.FormatUint(uint64(nh.InterfaceID), 10))
	}

	neighbor := objects.NeighborEntry{
		SwitchID:          m.stores.SwitchID,
		RouterInterfaceID: rif.ID(),
		IP:                nh.IP,
	}
	n := &managedNextHop{
		stores: m.stores,
		key:    objects.NextHopKey{RouterInterfaceID: rif.ID(), IP: nh.IP},
	}
	n.entry = managed.New(m.stores.Publisher, "next hop "+key.String(), n,
		managed.Dependency{Type: hw.ObjectTypeRouterInterface, Key: objects.RouterInterfacePublisherKey(nh.InterfaceID)},
		managed.Dependency{Type: hw.ObjectTypeNeighborEntry, Key: objects.NeighborPublisherKey(neighbor)},
	)
	if err := n.entry.Start(); err != nil {
		return err
	}
	m.entries[key] = n
	m.updateGauge()
	return nil
}

// Remove stops managing a next hop and releases its object.
func (m *Manager) Remove(nh *state.NextHop) error {
	key := nh.Key()
	n, ok := m.entries[key]
	if !ok {
		return util.NewNotFoundError("next hop", key.String())
	}
	delete(m.entries, key)
	err := n.entry.Close()
	m.updateGauge()
	return err
}

// Handle returns the realized next hop object for key, or nil.
func (m *Manager) Handle(key state.NextHopKey) *objects.NextHopObject {
	n, ok := m.entries[key]
	if !ok {
		return nil
	}
	return n.object()
}

// Keys returns the managed next hops in key order.
func (m *Manager) Keys() []state.NextHopKey {
	keys := make([]state.NextHopKey, 0, len(m.entries))
	for k := range m.entries {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].InterfaceID != keys[j].InterfaceID {
			return keys[i].InterfaceID < keys[j].InterfaceID
		}
		return keys[i].IP.Less(keys[j].IP)
	})
	return keys
}

// Len returns the number of managed next hops.
func (m *Manager) Len() int {
	return len(m.entries)
}

// Clear drops every next hop.
func (m *Manager) Clear() error {
	var errs []error
	for _, key := range m.Keys() {
		n := m.entries[key]
		delete(m.entries, key)
		if err := n.entry.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	m.updateGauge()
	return errors.Join(errs...)
}

func (m *Manager) updateGauge() {
	realized := 0
	for _, n := range m.entries {
		if n.object() != nil {
			realized++
		}
	}
	metrics.ManagedEntries.WithLabelValues("nexthop", "realized").Set(float64(realized))
	metrics.ManagedEntries.WithLabelValues("nexthop", "unrealized").Set(float64(len(m.entries) - realized))
}
