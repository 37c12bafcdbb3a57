// Package state holds the agent's software state: router interfaces, MAC
// entries, ARP/NDP neighbor entries and next hops, plus the deltas that move
// the agent from one state to the next. Entries are immutable values; a
// change is always an (old, new) pair of distinct snapshots.
package state

import (
	"fmt"
	"net/netip"
	"strings"

	"github.com/newtron-network/hwagent/pkg/util"
)

// PortType distinguishes physical ports from link aggregates.
type PortType int

const (
	PortTypePhysical PortType = iota
	PortTypeAggregate
)

// aggregatePrefix is the SONiC naming convention for LAGs.
const aggregatePrefix = "PortChannel"

// PortDescriptor names the egress of an entry.
type PortDescriptor struct {
	Type PortType
	Name string
}

// PhysicalPort returns a descriptor for a front-panel port.
func PhysicalPort(name string) PortDescriptor {
	return PortDescriptor{Type: PortTypePhysical, Name: name}
}

// AggregatePort returns a descriptor for a LAG.
func AggregatePort(name string) PortDescriptor {
	return PortDescriptor{Type: PortTypeAggregate, Name: name}
}

// ParsePortDescriptor classifies a port name. Names starting with
// "PortChannel" are aggregates.
func ParsePortDescriptor(name string) (PortDescriptor, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return PortDescriptor{}, fmt.Errorf("empty port name")
	}
	if strings.HasPrefix(name, aggregatePrefix) {
		return AggregatePort(name), nil
	}
	return PhysicalPort(name), nil
}

// IsAggregate reports whether p is a LAG.
func (p PortDescriptor) IsAggregate() bool {
	return p.Type == PortTypeAggregate
}

// IsZero reports whether p is unset.
func (p PortDescriptor) IsZero() bool {
	return p.Name == ""
}

func (p PortDescriptor) String() string {
	return p.Name
}

// NeighborKey identifies a neighbor entry.
type NeighborKey struct {
	InterfaceID uint32
	IP          netip.Addr
}

func (k NeighborKey) String() string {
	return fmt.Sprintf("%d|%s", k.InterfaceID, k.IP)
}

// NeighborAttributes is everything about a resolved neighbor besides its key.
// A change to any of them is material.
type NeighborAttributes struct {
	MAC     string
	Port    PortDescriptor
	ClassID uint32
}

// NeighborEntry is the data shared by ARP and NDP entries. A pending entry
// has no MAC or port yet.
type NeighborEntry struct {
	InterfaceID uint32
	IP          netip.Addr
	MAC         string
	Port        PortDescriptor
	ClassID     uint32
	Pending     bool
}

// Key returns the entry's key.
func (e *NeighborEntry) Key() NeighborKey {
	return NeighborKey{InterfaceID: e.InterfaceID, IP: e.IP}
}

// IsPending reports whether resolution is still in progress.
func (e *NeighborEntry) IsPending() bool {
	return e.Pending
}

// Attributes returns the entry's attributes.
func (e *NeighborEntry) Attributes() NeighborAttributes {
	return NeighborAttributes{MAC: e.MAC, Port: e.Port, ClassID: e.ClassID}
}

func (e *NeighborEntry) validate(family string, ok bool) error {
	v := &util.ValidationBuilder{}
	v.Add(e.IP.IsValid(), "neighbor IP is required")
	if e.IP.IsValid() {
		v.Add(ok, fmt.Sprintf("%s is not an %s address", e.IP, family))
	}
	if !e.Pending {
		v.Add(e.MAC != "", fmt.Sprintf("resolved neighbor %s has no MAC", e.Key()))
		v.Add(!e.Port.IsZero(), fmt.Sprintf("resolved neighbor %s has no port", e.Key()))
	}
	return v.Build()
}

// Neighbor is implemented by *ArpEntry and *NdpEntry.
type Neighbor interface {
	comparable
	Key() NeighborKey
	IsPending() bool
	Attributes() NeighborAttributes
	Validate() error
}

// ArpEntry is an IPv4 neighbor.
type ArpEntry struct {
	NeighborEntry
}

// Validate checks the entry is a well-formed IPv4 neighbor.
func (e *ArpEntry) Validate() error {
	return e.validate("IPv4", e.IP.Is4())
}

// NdpEntry is an IPv6 neighbor.
type NdpEntry struct {
	NeighborEntry
}

// Validate checks the entry is a well-formed IPv6 neighbor.
func (e *NdpEntry) Validate() error {
	return e.validate("IPv6", e.IP.Is6())
}

// NeighborsEqual reports whether two entries have the same key, pending
// state and attributes.
func NeighborsEqual(a, b interface {
	Key() NeighborKey
	IsPending() bool
	Attributes() NeighborAttributes
}) bool {
	return a.Key() == b.Key() && a.IsPending() == b.IsPending() && a.Attributes() == b.Attributes()
}

// Interface is a VLAN router interface. ID doubles as the VLAN ID.
type Interface struct {
	ID  uint32
	MAC string
	MTU uint32
}

// Validate checks the interface fields.
func (i *Interface) Validate() error {
	v := &util.ValidationBuilder{}
	v.Add(i.ID > 0 && i.ID < 4095, fmt.Sprintf("interface ID %d out of VLAN range", i.ID))
	v.Add(i.MAC != "", fmt.Sprintf("interface %d has no MAC", i.ID))
	if i.MTU != 0 {
		if err := util.ValidateMTU(int(i.MTU)); err != nil {
			v.AddErrorf("interface %d: %v", i.ID, err)
		}
	}
	return v.Build()
}

// MacEntryType is the FDB entry type.
type MacEntryType int

const (
	MacEntryDynamic MacEntryType = iota
	MacEntryStatic
)

func (t MacEntryType) String() string {
	if t == MacEntryStatic {
		return "static"
	}
	return "dynamic"
}

// ParseMacEntryType parses "static" or "dynamic" (the default).
func ParseMacEntryType(s string) (MacEntryType, error) {
	switch strings.ToLower(s) {
	case "", "dynamic":
		return MacEntryDynamic, nil
	case "static":
		return MacEntryStatic, nil
	}
	return MacEntryDynamic, fmt.Errorf("unknown MAC entry type %q", s)
}

// MacKey identifies a MAC table entry.
type MacKey struct {
	InterfaceID uint32
	MAC         string
}

func (k MacKey) String() string {
	return fmt.Sprintf("%d|%s", k.InterfaceID, k.MAC)
}

// MacEntry is one MAC table entry.
type MacEntry struct {
	InterfaceID uint32
	MAC         string
	Port        PortDescriptor
	Type        MacEntryType
	ClassID     uint32
}

// Key returns the entry's key.
func (m *MacEntry) Key() MacKey {
	return MacKey{InterfaceID: m.InterfaceID, MAC: m.MAC}
}

// Validate checks the entry fields.
func (m *MacEntry) Validate() error {
	v := &util.ValidationBuilder{}
	if m.MAC == "" {
		v.Add(false, "MAC entry has no MAC")
	} else if mac, err := util.NormalizeMAC(m.MAC); err != nil || mac != m.MAC {
		v.AddErrorf("MAC entry %d|%s: MAC is not in canonical form", m.InterfaceID, m.MAC)
	}
	v.Add(!m.Port.IsZero(), fmt.Sprintf("MAC entry %s has no port", m.Key()))
	return v.Build()
}

// NextHopKey identifies a next hop.
type NextHopKey struct {
	InterfaceID uint32
	IP          netip.Addr
}

func (k NextHopKey) String() string {
	return fmt.Sprintf("%d|%s", k.InterfaceID, k.IP)
}

// NextHop is an IP next hop reached through a router interface.
type NextHop struct {
	InterfaceID uint32
	IP          netip.Addr
}

// Key returns the next hop's key.
func (n *NextHop) Key() NextHopKey {
	return NextHopKey{InterfaceID: n.InterfaceID, IP: n.IP}
}

// NeighborKey returns the key of the neighbor the next hop resolves through.
func (n *NextHop) NeighborKey() NeighborKey {
	return NeighborKey{InterfaceID: n.InterfaceID, IP: n.IP}
}

// LinkChange is an observed oper-status transition of a physical port.
type LinkChange struct {
	Port string
	Up   bool
}
