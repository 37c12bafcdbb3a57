// Package l2l3 owns the objects neighbors depend on: one router interface
// per VLAN interface and one FDB entry per learned or configured MAC.
package l2l3

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/newtron-network/hwagent/pkg/objects"
	"github.com/newtron-network/hwagent/pkg/state"
	"github.com/newtron-network/hwagent/pkg/util"
)

// handle is the part of a store object the managers hold on to.
type handle interface {
	Release() error
}

// set takes a handle from setObject. If the object was created but a
// dependent failed to follow it, the reference is dropped again and the
// error returned.
func set[H handle](obj H, err error) (H, error) {
	var zero H
	if err != nil {
		if any(obj) != any(zero) {
			err = errors.Join(err, obj.Release())
		}
		return zero, err
	}
	return obj, nil
}

// RouterInterfaceManager owns the router interfaces.
type RouterInterfaceManager struct {
	stores  *objects.Stores
	entries map[uint32]*objects.RouterInterface
}

// NewRouterInterfaceManager returns an empty manager.
func NewRouterInterfaceManager(stores *objects.Stores) *RouterInterfaceManager {
	return &RouterInterfaceManager{
		stores:  stores,
		entries: make(map[uint32]*objects.RouterInterface),
	}
}

func rifAttributes(intf *state.Interface) objects.RouterInterfaceAttributes {
	return objects.RouterInterfaceAttributes{SrcMAC: intf.MAC, MTU: intf.MTU}
}

// Add programs the router interface of intf.
func (m *RouterInterfaceManager) Add(intf *state.Interface) error {
	if _, ok := m.entries[intf.ID]; ok {
		return util.NewDuplicateEntryError("interface", strconv.FormatUint(uint64(intf.ID), 10))
	}
	obj, err := set(m.stores.RouterInterface.SetObject(
		objects.RouterInterfaceKey{InterfaceID: intf.ID}, rifAttributes(intf), true))
	if err != nil {
		return fmt.Errorf("interface %d: %w", intf.ID, err)
	}
	m.entries[intf.ID] = obj
	util.WithField("intf", intf.ID).Debugf("router interface %s", obj.ID())
	return nil
}

// Remove releases the router interface of intf. Neighbors on it are
// unrealized first.
func (m *RouterInterfaceManager) Remove(intf *state.Interface) error {
	obj, ok := m.entries[intf.ID]
	if !ok {
		return util.NewNotFoundError("interface", strconv.FormatUint(uint64(intf.ID), 10))
	}
	delete(m.entries, intf.ID)
	if err := obj.Release(); err != nil {
		return fmt.Errorf("interface %d: %w", intf.ID, err)
	}
	return nil
}

// Change updates an interface in place; only a changed ID recreates it.
func (m *RouterInterfaceManager) Change(before, after *state.Interface) error {
	if before.ID != after.ID {
		if err := m.Remove(before); err != nil {
			return err
		}
		return m.Add(after)
	}
	old, ok := m.entries[before.ID]
	if !ok {
		return util.NewNotFoundError("interface", strconv.FormatUint(uint64(before.ID), 10))
	}
	obj, err := set(m.stores.RouterInterface.SetObject(
		objects.RouterInterfaceKey{InterfaceID: after.ID}, rifAttributes(after), true))
	if err != nil {
		return fmt.Errorf("interface %d: %w", after.ID, err)
	}
	m.entries[after.ID] = obj
	return old.Release()
}

// Get returns the router interface of an interface ID, or nil.
func (m *RouterInterfaceManager) Get(id uint32) *objects.RouterInterface {
	return m.entries[id]
}

// Len returns the number of managed interfaces.
func (m *RouterInterfaceManager) Len() int {
	return len(m.entries)
}

type macRef struct {
	obj   *objects.Fdb
	attrs objects.FdbAttributes
}

type staticRef struct {
	obj   *objects.Fdb
	port  string
	count int
}

// FdbManager owns the FDB entries: entries from MAC table deltas and L2
// learning, and static entries held for resolved neighbors. Both kinds
// share the hardware object of a MAC. While a hold exists the entry stays
// static whatever the MAC table says; the MAC table entry's own attributes
// come back once the last hold goes.
type FdbManager struct {
	stores  *objects.Stores
	entries map[state.MacKey]*macRef
	static  map[state.MacKey]*staticRef
}

// NewFdbManager returns an empty manager.
func NewFdbManager(stores *objects.Stores) *FdbManager {
	return &FdbManager{
		stores:  stores,
		entries: make(map[state.MacKey]*macRef),
		static:  make(map[state.MacKey]*staticRef),
	}
}

func (m *FdbManager) hardwareKey(key state.MacKey) objects.FdbEntry {
	return objects.FdbEntry{SwitchID: m.stores.SwitchID, InterfaceID: key.InterfaceID, MAC: key.MAC}
}

func fdbAttributes(e *state.MacEntry) objects.FdbAttributes {
	return objects.FdbAttributes{
		Port:    e.Port.Name,
		Static:  e.Type == state.MacEntryStatic,
		ClassID: e.ClassID,
	}
}

// effective returns what hardware should hold for key given the MAC table
// attributes attrs.
func (m *FdbManager) effective(key state.MacKey, attrs objects.FdbAttributes) objects.FdbAttributes {
	if _, held := m.static[key]; held {
		attrs.Static = true
	}
	return attrs
}

// Add programs a MAC entry.
func (m *FdbManager) Add(e *state.MacEntry) error {
	key := e.Key()
	if _, ok := m.entries[key]; ok {
		return util.NewDuplicateEntryError("mac entry", key.String())
	}
	attrs := fdbAttributes(e)
	obj, err := set(m.stores.Fdb.SetObject(m.hardwareKey(key), m.effective(key, attrs), true))
	if err != nil {
		return fmt.Errorf("mac entry %s: %w", key, err)
	}
	m.entries[key] = &macRef{obj: obj, attrs: attrs}
	return nil
}

// Remove releases a MAC entry. The hardware entry stays, static on the
// held port, while a neighbor holds it.
func (m *FdbManager) Remove(e *state.MacEntry) error {
	key := e.Key()
	ref, ok := m.entries[key]
	if !ok {
		return util.NewNotFoundError("mac entry", key.String())
	}
	delete(m.entries, key)
	if err := ref.obj.Release(); err != nil {
		return fmt.Errorf("mac entry %s: %w", key, err)
	}
	if hold, held := m.static[key]; held {
		if err := hold.obj.Update(objects.FdbAttributes{Port: hold.port, Static: true}); err != nil {
			return fmt.Errorf("static mac entry %s: %w", key, err)
		}
	}
	return nil
}

// Change moves a MAC entry, in place when the key is unchanged.
func (m *FdbManager) Change(before, after *state.MacEntry) error {
	if before.Key() != after.Key() {
		if err := m.Remove(before); err != nil {
			return err
		}
		return m.Add(after)
	}
	key := before.Key()
	old, ok := m.entries[key]
	if !ok {
		return util.NewNotFoundError("mac entry", key.String())
	}
	attrs := fdbAttributes(after)
	obj, err := set(m.stores.Fdb.SetObject(m.hardwareKey(key), m.effective(key, attrs), true))
	if err != nil {
		return fmt.Errorf("mac entry %s: %w", key, err)
	}
	m.entries[key] = &macRef{obj: obj, attrs: attrs}
	return old.obj.Release()
}

// AcquireStatic holds a static entry for key on port. Calls are counted;
// each must be paired with ReleaseStatic. An existing MAC table entry keeps
// its port and class and is made static.
func (m *FdbManager) AcquireStatic(key state.MacKey, port state.PortDescriptor) error {
	if ref, ok := m.static[key]; ok {
		ref.count++
		return nil
	}
	attrs := objects.FdbAttributes{Port: port.Name, Static: true}
	if learned, ok := m.entries[key]; ok {
		attrs = learned.attrs
		attrs.Static = true
	}
	obj, err := set(m.stores.Fdb.SetObject(m.hardwareKey(key), attrs, true))
	if err != nil {
		return fmt.Errorf("static mac entry %s: %w", key, err)
	}
	m.static[key] = &staticRef{obj: obj, port: port.Name, count: 1}
	util.WithField("mac", key.String()).Debugf("static entry on %s", port)
	return nil
}

// ReleaseStatic drops one hold taken by AcquireStatic. Dropping the last
// hold returns a MAC table entry to its own attributes.
func (m *FdbManager) ReleaseStatic(key state.MacKey) error {
	ref, ok := m.static[key]
	if !ok {
		return util.NewNotFoundError("static mac entry", key.String())
	}
	ref.count--
	if ref.count > 0 {
		return nil
	}
	delete(m.static, key)
	if err := ref.obj.Release(); err != nil {
		return fmt.Errorf("static mac entry %s: %w", key, err)
	}
	if learned, ok := m.entries[key]; ok {
		if err := learned.obj.Update(learned.attrs); err != nil {
			return fmt.Errorf("mac entry %s: %w", key, err)
		}
	}
	return nil
}

// Has reports whether a MAC entry is managed for key.
func (m *FdbManager) Has(key state.MacKey) bool {
	_, ok := m.entries[key]
	return ok
}

// StaticHolds returns the number of static holds on key.
func (m *FdbManager) StaticHolds(key state.MacKey) int {
	if ref, ok := m.static[key]; ok {
		return ref.count
	}
	return 0
}

// Len returns the number of managed MAC entries, static holds excluded.
func (m *FdbManager) Len() int {
	return len(m.entries)
}
