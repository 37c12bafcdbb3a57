package neighbor

import (
	"errors"
	"sync"

	"github.com/newtron-network/hwagent/pkg/hw"
	"github.com/newtron-network/hwagent/pkg/linkstate"
	"github.com/newtron-network/hwagent/pkg/managed"
	"github.com/newtron-network/hwagent/pkg/objects"
	"github.com/newtron-network/hwagent/pkg/state"
	"github.com/newtron-network/hwagent/pkg/util"
)

// managedNeighbor is the target of one resolved neighbor. Its hardware
// object exists iff the router interface and FDB entry are live and the
// egress link is eligible; during warm boot a link-down neighbor is kept
// unresolved instead of dropped.
type managedNeighbor struct {
	core  *core
	key   state.NeighborKey
	attrs state.NeighborAttributes
	entry *managed.Entry

	mu  sync.Mutex
	obj *objects.Neighbor
}

func newManagedNeighbor(c *core, kind string, key state.NeighborKey, attrs state.NeighborAttributes) *managedNeighbor {
	n := &managedNeighbor{core: c, key: key, attrs: attrs}
	n.entry = managed.New(c.stores.Publisher, kind+" "+key.String(), n,
		managed.Dependency{
			Type: hw.ObjectTypeRouterInterface,
			Key:  objects.RouterInterfacePublisherKey(key.InterfaceID),
		},
		managed.Dependency{
			Type: hw.ObjectTypeFdbEntry,
			Key:  objects.FdbPublisherKey(key.InterfaceID, attrs.MAC),
		},
	)
	return n
}

// Update implements managed.Target.
func (n *managedNeighbor) Update(ready bool) error {
	if !ready {
		return n.drop()
	}
	eligible := linkstate.Eligible(n.core.links, n.attrs.Port)
	if !eligible && !n.core.warmBoot.Load() {
		return n.drop()
	}
	return n.realize(eligible)
}

// Teardown implements managed.Target.
func (n *managedNeighbor) Teardown() error {
	return n.drop()
}

// hardwareKey builds the neighbor key from the live dependencies. Only
// called once both dependencies were published, so a missing one is a
// broken invariant.
func (n *managedNeighbor) hardwareKey() objects.NeighborEntry {
	stores := n.core.stores
	rif := stores.RouterInterface.Get(objects.RouterInterfaceKey{InterfaceID: n.key.InterfaceID})
	if rif == nil {
		util.Panicf("%v: neighbor %s: router interface %d", util.ErrDependencyMissing, n.key, n.key.InterfaceID)
	}
	fdb := stores.Fdb.Get(objects.FdbEntry{SwitchID: stores.SwitchID, InterfaceID: n.key.InterfaceID, MAC: n.attrs.MAC})
	if fdb == nil {
		util.Panicf("%v: neighbor %s: fdb entry %s", util.ErrDependencyMissing, n.key, n.attrs.MAC)
	}
	return objects.NeighborEntry{
		SwitchID:          fdb.Key().SwitchID,
		RouterInterfaceID: rif.ID(),
		IP:                n.key.IP,
	}
}

func (n *managedNeighbor) realize(resolve bool) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.obj != nil && (!resolve || n.obj.Resolved()) {
		return nil
	}

	key := n.hardwareKey()
	attrs := objects.NeighborAttributes{MAC: n.attrs.MAC, ClassID: n.attrs.ClassID}
	obj, err := n.core.stores.Neighbor.SetObject(key, attrs, resolve)
	if err != nil {
		if obj != nil {
			err = errors.Join(err, obj.Release())
		}
		return err
	}

	// Resolving a pre-created object takes a second reference; drop the
	// first one.
	if n.obj != nil {
		if err := n.obj.Release(); err != nil {
			util.WithNeighbor(n.key.InterfaceID, n.key.IP.String()).Warnf("releasing pre-created object: %v", err)
		}
	}
	n.obj = obj
	log := util.WithNeighbor(n.key.InterfaceID, n.key.IP.String())
	if resolve {
		log.Debugf("realized %s", obj.ID())
	} else {
		log.Debugf("pre-created %s unresolved", obj.ID())
	}
	return nil
}

func (n *managedNeighbor) drop() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.obj == nil {
		return nil
	}
	obj := n.obj
	n.obj = nil
	util.WithNeighbor(n.key.InterfaceID, n.key.IP.String()).Debugf("unrealized %s", obj.ID())
	return obj.Release()
}

func (n *managedNeighbor) object() *objects.Neighbor {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.obj
}
