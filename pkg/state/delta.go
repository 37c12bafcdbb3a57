package state

import (
	"fmt"
	"sort"
	"strings"
)

// Change is one (old, new) pair. A nil Old is an add, a nil New a remove.
type Change[T any] struct {
	Old T
	New T
}

// Delta is an ordered set of changes applied as one unit.
type Delta struct {
	Name       string
	Interfaces []Change[*Interface]
	MacEntries []Change[*MacEntry]
	Arp        []Change[*ArpEntry]
	Ndp        []Change[*NdpEntry]
	NextHops   []Change[*NextHop]
	Links      []LinkChange
}

// Count returns the number of changes in d.
func (d *Delta) Count() int {
	return len(d.Interfaces) + len(d.MacEntries) + len(d.Arp) + len(d.Ndp) + len(d.NextHops) + len(d.Links)
}

// IsEmpty reports whether d has no changes.
func (d *Delta) IsEmpty() bool {
	return d.Count() == 0
}

// Summary returns a one-line description such as "2 interfaces, 1 arp".
func (d *Delta) Summary() string {
	var parts []string
	add := func(n int, what string) {
		if n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", n, what))
		}
	}
	add(len(d.Interfaces), "interfaces")
	add(len(d.MacEntries), "mac entries")
	add(len(d.Arp), "arp")
	add(len(d.Ndp), "ndp")
	add(len(d.NextHops), "next hops")
	add(len(d.Links), "links")
	if len(parts) == 0 {
		return "no changes"
	}
	return strings.Join(parts, ", ")
}

// State is a full software state snapshot. It is treated as immutable:
// Apply returns a new State.
type State struct {
	Interfaces map[uint32]*Interface
	MacEntries map[MacKey]*MacEntry
	Arp        map[NeighborKey]*ArpEntry
	Ndp        map[NeighborKey]*NdpEntry
	NextHops   map[NextHopKey]*NextHop
}

// NewState returns an empty state.
func NewState() *State {
	return &State{
		Interfaces: make(map[uint32]*Interface),
		MacEntries: make(map[MacKey]*MacEntry),
		Arp:        make(map[NeighborKey]*ArpEntry),
		Ndp:        make(map[NeighborKey]*NdpEntry),
		NextHops:   make(map[NextHopKey]*NextHop),
	}
}

func cloneMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func applyChanges[K comparable, V any](m map[K]*V, changes []Change[*V], key func(*V) K) {
	for _, c := range changes {
		if c.Old != nil {
			delete(m, key(c.Old))
		}
		if c.New != nil {
			m[key(c.New)] = c.New
		}
	}
}

// Apply returns the state reached by applying d to s.
func (s *State) Apply(d *Delta) *State {
	next := &State{
		Interfaces: cloneMap(s.Interfaces),
		MacEntries: cloneMap(s.MacEntries),
		Arp:        cloneMap(s.Arp),
		Ndp:        cloneMap(s.Ndp),
		NextHops:   cloneMap(s.NextHops),
	}
	applyChanges(next.Interfaces, d.Interfaces, func(i *Interface) uint32 { return i.ID })
	applyChanges(next.MacEntries, d.MacEntries, (*MacEntry).Key)
	applyChanges(next.Arp, d.Arp, func(e *ArpEntry) NeighborKey { return e.Key() })
	applyChanges(next.Ndp, d.Ndp, func(e *NdpEntry) NeighborKey { return e.Key() })
	applyChanges(next.NextHops, d.NextHops, (*NextHop).Key)
	return next
}

// Len returns the number of entries in s.
func (s *State) Len() int {
	return len(s.Interfaces) + len(s.MacEntries) + len(s.Arp) + len(s.Ndp) + len(s.NextHops)
}

func compareNeighborKeys(a, b NeighborKey) int {
	if a.InterfaceID != b.InterfaceID {
		if a.InterfaceID < b.InterfaceID {
			return -1
		}
		return 1
	}
	return a.IP.Compare(b.IP)
}

// sortedValues returns m's values ordered by less on their keys.
func sortedValues[K comparable, V any](m map[K]V, less func(a, b K) bool) []V {
	keys := make([]K, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return less(keys[i], keys[j]) })
	out := make([]V, 0, len(keys))
	for _, k := range keys {
		out = append(out, m[k])
	}
	return out
}

func adds[T any](values []*T) []Change[*T] {
	changes := make([]Change[*T], 0, len(values))
	for _, v := range values {
		changes = append(changes, Change[*T]{New: v})
	}
	return changes
}

// Delta returns the delta that builds s from an empty state, in key order.
func (s *State) Delta(name string) *Delta {
	neighborLess := func(a, b NeighborKey) bool { return compareNeighborKeys(a, b) < 0 }
	return &Delta{
		Name: name,
		Interfaces: adds(sortedValues(s.Interfaces, func(a, b uint32) bool {
			return a < b
		})),
		MacEntries: adds(sortedValues(s.MacEntries, func(a, b MacKey) bool {
			if a.InterfaceID != b.InterfaceID {
				return a.InterfaceID < b.InterfaceID
			}
			return a.MAC < b.MAC
		})),
		Arp: adds(sortedValues(s.Arp, neighborLess)),
		Ndp: adds(sortedValues(s.Ndp, neighborLess)),
		NextHops: adds(sortedValues(s.NextHops, func(a, b NextHopKey) bool {
			return neighborLess(NeighborKey(a), NeighborKey(b))
		})),
	}
}

// MacEntry returns the MAC entry for key, or nil.
func (s *State) MacEntry(key MacKey) *MacEntry {
	return s.MacEntries[key]
}

// Ports returns the egress ports of the resolved neighbors in s, sorted.
func (s *State) Ports() []string {
	seen := make(map[string]bool)
	for _, e := range s.Arp {
		seen[e.Port.Name] = true
	}
	for _, e := range s.Ndp {
		seen[e.Port.Name] = true
	}
	delete(seen, "")
	ports := make([]string, 0, len(seen))
	for p := range seen {
		ports = append(ports, p)
	}
	sort.Strings(ports)
	return ports
}
