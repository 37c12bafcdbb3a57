// Package objects defines the hardware object kinds the agent programs and
// how their keys and attributes map onto SAI attributes.
//
// Router interfaces and next hops are OID-keyed; FDB and neighbor entries
// are keyed by their serialized entry, in the JSON form ASIC_DB uses. All
// keys derive from data rebuilt identically at warm boot.
package objects

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/netip"
	"strconv"

	"github.com/newtron-network/hwagent/pkg/hw"
	"github.com/newtron-network/hwagent/pkg/publisher"
	"github.com/newtron-network/hwagent/pkg/store"
	"github.com/newtron-network/hwagent/pkg/util"
)

// SAI attribute names.
const (
	AttrRifType   = "SAI_ROUTER_INTERFACE_ATTR_TYPE"
	AttrRifVlanID = "SAI_ROUTER_INTERFACE_ATTR_VLAN_ID"
	AttrRifSrcMAC = "SAI_ROUTER_INTERFACE_ATTR_SRC_MAC_ADDRESS"
	AttrRifMTU    = "SAI_ROUTER_INTERFACE_ATTR_MTU"

	AttrFdbType     = "SAI_FDB_ENTRY_ATTR_TYPE"
	AttrFdbPort     = "SAI_FDB_ENTRY_ATTR_BRIDGE_PORT_ID"
	AttrFdbMetaData = "SAI_FDB_ENTRY_ATTR_META_DATA"

	AttrNeighborDstMAC   = "SAI_NEIGHBOR_ENTRY_ATTR_DST_MAC_ADDRESS"
	AttrNeighborMetaData = "SAI_NEIGHBOR_ENTRY_ATTR_META_DATA"

	AttrNextHopType = "SAI_NEXT_HOP_ATTR_TYPE"
	AttrNextHopIP   = "SAI_NEXT_HOP_ATTR_IP"
	AttrNextHopRif  = "SAI_NEXT_HOP_ATTR_ROUTER_INTERFACE_ID"

	rifTypeVlan     = "SAI_ROUTER_INTERFACE_TYPE_VLAN"
	fdbTypeStatic   = "SAI_FDB_ENTRY_TYPE_STATIC"
	fdbTypeDynamic  = "SAI_FDB_ENTRY_TYPE_DYNAMIC"
	nextHopTypeIP   = "SAI_NEXT_HOP_TYPE_IP"
	defaultRifMTU   = 9100
	errForeignEntry = "not managed by the agent"
)

func parseUint32(attrs hw.Attributes, name string) (uint32, error) {
	v, ok := attrs[name]
	if !ok {
		return 0, nil
	}
	n, err := strconv.ParseUint(v, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("attribute %s: %w", name, err)
	}
	return uint32(n), nil
}

// ============================================================================
// Router interface
// ============================================================================

// RouterInterfaceKey identifies a VLAN router interface.
type RouterInterfaceKey struct {
	InterfaceID uint32
}

// RouterInterfaceAttributes are the programmable fields of a router
// interface. An MTU of 0 means the platform default.
type RouterInterfaceAttributes struct {
	SrcMAC string
	MTU    uint32
}

// RouterInterfaceTraits maps router interfaces onto the hardware API.
type RouterInterfaceTraits struct{}

func (RouterInterfaceTraits) ObjectType() hw.ObjectType { return hw.ObjectTypeRouterInterface }

func (RouterInterfaceTraits) EntryID(RouterInterfaceKey) hw.ObjectID { return "" }

func (RouterInterfaceTraits) PublisherKey(k RouterInterfaceKey) string {
	return RouterInterfacePublisherKey(k.InterfaceID)
}

func (RouterInterfaceTraits) Encode(k RouterInterfaceKey, a RouterInterfaceAttributes) hw.Attributes {
	mtu := a.MTU
	if mtu == 0 {
		mtu = defaultRifMTU
	}
	return hw.Attributes{
		AttrRifType:   rifTypeVlan,
		AttrRifVlanID: strconv.FormatUint(uint64(k.InterfaceID), 10),
		AttrRifSrcMAC: a.SrcMAC,
		AttrRifMTU:    strconv.FormatUint(uint64(mtu), 10),
	}
}

func (RouterInterfaceTraits) Decode(obj hw.Object) (RouterInterfaceKey, RouterInterfaceAttributes, error) {
	if obj.Attributes[AttrRifType] != rifTypeVlan {
		return RouterInterfaceKey{}, RouterInterfaceAttributes{}, errors.New("router interface is not a VLAN interface")
	}
	vlan, err := parseUint32(obj.Attributes, AttrRifVlanID)
	if err != nil {
		return RouterInterfaceKey{}, RouterInterfaceAttributes{}, err
	}
	if vlan == 0 {
		return RouterInterfaceKey{}, RouterInterfaceAttributes{}, errors.New("router interface has no VLAN ID")
	}
	mtu, err := parseUint32(obj.Attributes, AttrRifMTU)
	if err != nil {
		return RouterInterfaceKey{}, RouterInterfaceAttributes{}, err
	}
	if mtu == defaultRifMTU {
		mtu = 0
	}
	return RouterInterfaceKey{InterfaceID: vlan},
		RouterInterfaceAttributes{SrcMAC: obj.Attributes[AttrRifSrcMAC], MTU: mtu}, nil
}

// RouterInterfacePublisherKey is the publisher key of the router interface
// for an interface ID.
func RouterInterfacePublisherKey(intf uint32) string {
	return strconv.FormatUint(uint64(intf), 10)
}

// RouterInterfaceStore holds router interfaces.
type RouterInterfaceStore = store.ObjectStore[RouterInterfaceKey, RouterInterfaceAttributes]

// RouterInterface is a handle to a router interface.
type RouterInterface = store.Object[RouterInterfaceKey, RouterInterfaceAttributes]

// ============================================================================
// FDB entry
// ============================================================================

// FdbEntry identifies a MAC table entry in hardware.
type FdbEntry struct {
	SwitchID    hw.ObjectID
	InterfaceID uint32
	MAC         string
}

// FdbAttributes are the programmable fields of an FDB entry.
type FdbAttributes struct {
	Port    string
	Static  bool
	ClassID uint32
}

type fdbEntryJSON struct {
	Bvid     string `json:"bvid"`
	MAC      string `json:"mac"`
	SwitchID string `json:"switch_id"`
}

// FdbTraits maps FDB entries onto the hardware API.
type FdbTraits struct{}

func (FdbTraits) ObjectType() hw.ObjectType { return hw.ObjectTypeFdbEntry }

func (FdbTraits) EntryID(k FdbEntry) hw.ObjectID {
	data, _ := json.Marshal(fdbEntryJSON{
		Bvid:     strconv.FormatUint(uint64(k.InterfaceID), 10),
		MAC:      k.MAC,
		SwitchID: string(k.SwitchID),
	})
	return hw.ObjectID(data)
}

func (FdbTraits) PublisherKey(k FdbEntry) string {
	return FdbPublisherKey(k.InterfaceID, k.MAC)
}

func (FdbTraits) Encode(_ FdbEntry, a FdbAttributes) hw.Attributes {
	typ := fdbTypeDynamic
	if a.Static {
		typ = fdbTypeStatic
	}
	return hw.Attributes{
		AttrFdbType:     typ,
		AttrFdbPort:     a.Port,
		AttrFdbMetaData: strconv.FormatUint(uint64(a.ClassID), 10),
	}
}

func (FdbTraits) Decode(obj hw.Object) (FdbEntry, FdbAttributes, error) {
	var j fdbEntryJSON
	if err := json.Unmarshal([]byte(obj.ID), &j); err != nil {
		return FdbEntry{}, FdbAttributes{}, fmt.Errorf("fdb entry key: %w", err)
	}
	vlan, err := strconv.ParseUint(j.Bvid, 10, 32)
	if err != nil {
		return FdbEntry{}, FdbAttributes{}, fmt.Errorf("fdb entry bvid %q %s", j.Bvid, errForeignEntry)
	}
	mac, err := util.NormalizeMAC(j.MAC)
	if err != nil {
		return FdbEntry{}, FdbAttributes{}, err
	}
	class, err := parseUint32(obj.Attributes, AttrFdbMetaData)
	if err != nil {
		return FdbEntry{}, FdbAttributes{}, err
	}
	return FdbEntry{SwitchID: hw.ObjectID(j.SwitchID), InterfaceID: uint32(vlan), MAC: mac},
		FdbAttributes{
			Port:    obj.Attributes[AttrFdbPort],
			Static:  obj.Attributes[AttrFdbType] == fdbTypeStatic,
			ClassID: class,
		}, nil
}

// FdbPublisherKey is the publisher key of the FDB entry for a MAC on an
// interface.
func FdbPublisherKey(intf uint32, mac string) string {
	return fmt.Sprintf("%d|%s", intf, mac)
}

// FdbStore holds FDB entries.
type FdbStore = store.ObjectStore[FdbEntry, FdbAttributes]

// Fdb is a handle to an FDB entry.
type Fdb = store.Object[FdbEntry, FdbAttributes]

// ============================================================================
// Neighbor entry
// ============================================================================

// NeighborEntry identifies a neighbor in hardware: switch, router interface
// OID and IP.
type NeighborEntry struct {
	SwitchID          hw.ObjectID
	RouterInterfaceID hw.ObjectID
	IP                netip.Addr
}

// NeighborAttributes are the programmable fields of a neighbor entry.
type NeighborAttributes struct {
	MAC     string
	ClassID uint32
}

type neighborEntryJSON struct {
	IP       string `json:"ip"`
	Rif      string `json:"rif"`
	SwitchID string `json:"switch_id"`
}

// NeighborTraits maps neighbor entries onto the hardware API.
type NeighborTraits struct{}

func (NeighborTraits) ObjectType() hw.ObjectType { return hw.ObjectTypeNeighborEntry }

func (NeighborTraits) EntryID(k NeighborEntry) hw.ObjectID {
	return hw.ObjectID(NeighborPublisherKey(k))
}

func (NeighborTraits) PublisherKey(k NeighborEntry) string {
	return NeighborPublisherKey(k)
}

func (NeighborTraits) Encode(_ NeighborEntry, a NeighborAttributes) hw.Attributes {
	return hw.Attributes{
		AttrNeighborDstMAC:   a.MAC,
		AttrNeighborMetaData: strconv.FormatUint(uint64(a.ClassID), 10),
	}
}

func (NeighborTraits) Decode(obj hw.Object) (NeighborEntry, NeighborAttributes, error) {
	var j neighborEntryJSON
	if err := json.Unmarshal([]byte(obj.ID), &j); err != nil {
		return NeighborEntry{}, NeighborAttributes{}, fmt.Errorf("neighbor entry key: %w", err)
	}
	ip, err := util.ParseIP(j.IP)
	if err != nil {
		return NeighborEntry{}, NeighborAttributes{}, err
	}
	class, err := parseUint32(obj.Attributes, AttrNeighborMetaData)
	if err != nil {
		return NeighborEntry{}, NeighborAttributes{}, err
	}
	return NeighborEntry{SwitchID: hw.ObjectID(j.SwitchID), RouterInterfaceID: hw.ObjectID(j.Rif), IP: ip},
		NeighborAttributes{MAC: obj.Attributes[AttrNeighborDstMAC], ClassID: class}, nil
}

// NeighborPublisherKey serializes a neighbor key the way ASIC_DB does.
// Field order is fixed so equal keys serialize identically.
func NeighborPublisherKey(k NeighborEntry) string {
	data, _ := json.Marshal(neighborEntryJSON{
		IP:       k.IP.String(),
		Rif:      string(k.RouterInterfaceID),
		SwitchID: string(k.SwitchID),
	})
	return string(data)
}

// NeighborStore holds neighbor entries.
type NeighborStore = store.ObjectStore[NeighborEntry, NeighborAttributes]

// Neighbor is a handle to a neighbor entry.
type Neighbor = store.Object[NeighborEntry, NeighborAttributes]

// ============================================================================
// Next hop
// ============================================================================

// NextHopKey identifies an IP next hop: router interface OID and IP.
type NextHopKey struct {
	RouterInterfaceID hw.ObjectID
	IP                netip.Addr
}

// NextHopAttributes is empty; a next hop is fully described by its key.
type NextHopAttributes struct{}

// NextHopTraits maps next hops onto the hardware API.
type NextHopTraits struct{}

func (NextHopTraits) ObjectType() hw.ObjectType { return hw.ObjectTypeNextHop }

func (NextHopTraits) EntryID(NextHopKey) hw.ObjectID { return "" }

func (NextHopTraits) PublisherKey(k NextHopKey) string {
	return fmt.Sprintf("%s|%s", k.RouterInterfaceID, k.IP)
}

func (NextHopTraits) Encode(k NextHopKey, _ NextHopAttributes) hw.Attributes {
	return hw.Attributes{
		AttrNextHopType: nextHopTypeIP,
		AttrNextHopIP:   k.IP.String(),
		AttrNextHopRif:  string(k.RouterInterfaceID),
	}
}

func (NextHopTraits) Decode(obj hw.Object) (NextHopKey, NextHopAttributes, error) {
	if obj.Attributes[AttrNextHopType] != nextHopTypeIP {
		return NextHopKey{}, NextHopAttributes{}, fmt.Errorf("next hop type %q %s", obj.Attributes[AttrNextHopType], errForeignEntry)
	}
	ip, err := util.ParseIP(obj.Attributes[AttrNextHopIP])
	if err != nil {
		return NextHopKey{}, NextHopAttributes{}, err
	}
	rif := obj.Attributes[AttrNextHopRif]
	if rif == "" {
		return NextHopKey{}, NextHopAttributes{}, errors.New("next hop has no router interface")
	}
	return NextHopKey{RouterInterfaceID: hw.ObjectID(rif), IP: ip}, NextHopAttributes{}, nil
}

// NextHopStore holds next hops.
type NextHopStore = store.ObjectStore[NextHopKey, NextHopAttributes]

// NextHopObject is a handle to a next hop.
type NextHopObject = store.Object[NextHopKey, NextHopAttributes]

// ============================================================================
// Stores
// ============================================================================

// Stores bundles one store per object kind over a shared API and publisher.
type Stores struct {
	SwitchID        hw.ObjectID
	Publisher       *publisher.Publisher
	RouterInterface *RouterInterfaceStore
	Fdb             *FdbStore
	Neighbor        *NeighborStore
	NextHop         *NextHopStore
}

// NewStores creates empty stores for the switch.
func NewStores(api hw.API, pub *publisher.Publisher, switchID hw.ObjectID) *Stores {
	return &Stores{
		SwitchID:        switchID,
		Publisher:       pub,
		RouterInterface: store.New[RouterInterfaceKey, RouterInterfaceAttributes](api, pub, RouterInterfaceTraits{}),
		Fdb:             store.New[FdbEntry, FdbAttributes](api, pub, FdbTraits{}),
		Neighbor:        store.New[NeighborEntry, NeighborAttributes](api, pub, NeighborTraits{}),
		NextHop:         store.New[NextHopKey, NextHopAttributes](api, pub, NextHopTraits{}),
	}
}

// Reload registers every object the hardware already holds, dependencies
// first. Returns the number of objects registered per type.
func (s *Stores) Reload() (map[hw.ObjectType]int, error) {
	counts := make(map[hw.ObjectType]int)
	for _, r := range []interface {
		Type() hw.ObjectType
		Reload() (int, error)
	}{s.RouterInterface, s.Fdb, s.Neighbor, s.NextHop} {
		n, err := r.Reload()
		if err != nil {
			return counts, err
		}
		counts[r.Type()] = n
	}
	return counts, nil
}

// ReleaseUnclaimed removes every reloaded object nothing adopted,
// dependents first.
func (s *Stores) ReleaseUnclaimed() (map[hw.ObjectType]int, error) {
	counts := make(map[hw.ObjectType]int)
	var errs []error
	for _, r := range []interface {
		Type() hw.ObjectType
		ReleaseUnclaimed() (int, error)
	}{s.NextHop, s.Neighbor, s.Fdb, s.RouterInterface} {
		n, err := r.ReleaseUnclaimed()
		if err != nil {
			errs = append(errs, err)
		}
		counts[r.Type()] = n
	}
	return counts, errors.Join(errs...)
}

// Summary describes one stored object for display.
type Summary struct {
	Type       hw.ObjectType
	Key        string
	ID         hw.ObjectID
	Refs       int
	Resolved   bool
	Attributes hw.Attributes
}

func summarize[K comparable, A comparable](traits store.Traits[K, A], objs []*store.Object[K, A]) []Summary {
	out := make([]Summary, 0, len(objs))
	for _, o := range objs {
		out = append(out, Summary{
			Type:       traits.ObjectType(),
			Key:        o.PublisherKey(),
			ID:         o.ID(),
			Refs:       o.Refs(),
			Resolved:   o.Resolved(),
			Attributes: traits.Encode(o.Key(), o.Attributes()),
		})
	}
	return out
}

// List returns the claimed objects of type t in creation order.
func (s *Stores) List(t hw.ObjectType) []Summary {
	switch t {
	case hw.ObjectTypeRouterInterface:
		return summarize[RouterInterfaceKey, RouterInterfaceAttributes](RouterInterfaceTraits{}, s.RouterInterface.List())
	case hw.ObjectTypeFdbEntry:
		return summarize[FdbEntry, FdbAttributes](FdbTraits{}, s.Fdb.List())
	case hw.ObjectTypeNeighborEntry:
		return summarize[NeighborEntry, NeighborAttributes](NeighborTraits{}, s.Neighbor.List())
	case hw.ObjectTypeNextHop:
		return summarize[NextHopKey, NextHopAttributes](NextHopTraits{}, s.NextHop.List())
	}
	return nil
}
