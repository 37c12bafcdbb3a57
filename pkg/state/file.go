package state

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/newtron-network/hwagent/pkg/util"
)

// On-disk forms. Entries are decoded into these and converted so that
// addresses are parsed and MACs normalized in one place.

type interfaceYAML struct {
	ID  uint32 `yaml:"id"`
	MAC string `yaml:"mac"`
	MTU uint32 `yaml:"mtu,omitempty"`
}

type macEntryYAML struct {
	Intf    uint32 `yaml:"intf"`
	MAC     string `yaml:"mac"`
	Port    string `yaml:"port"`
	Type    string `yaml:"type,omitempty"`
	ClassID uint32 `yaml:"class_id,omitempty"`
}

type neighborYAML struct {
	Intf    uint32 `yaml:"intf"`
	IP      string `yaml:"ip"`
	MAC     string `yaml:"mac,omitempty"`
	Port    string `yaml:"port,omitempty"`
	ClassID uint32 `yaml:"class_id,omitempty"`
	Pending bool   `yaml:"pending,omitempty"`
}

type nextHopYAML struct {
	Intf uint32 `yaml:"intf"`
	IP   string `yaml:"ip"`
}

type linkYAML struct {
	Port string `yaml:"port"`
	Up   bool   `yaml:"up"`
}

type changeYAML[T any] struct {
	Old *T `yaml:"old,omitempty"`
	New *T `yaml:"new,omitempty"`
}

type deltaYAML struct {
	Name       string                      `yaml:"name"`
	Interfaces []changeYAML[interfaceYAML] `yaml:"interfaces,omitempty"`
	MacEntries []changeYAML[macEntryYAML]  `yaml:"mac_entries,omitempty"`
	Arp        []changeYAML[neighborYAML]  `yaml:"arp,omitempty"`
	Ndp        []changeYAML[neighborYAML]  `yaml:"ndp,omitempty"`
	NextHops   []changeYAML[nextHopYAML]   `yaml:"next_hops,omitempty"`
	Links      []linkYAML                  `yaml:"links,omitempty"`
}

type deltaFileYAML struct {
	Deltas []deltaYAML `yaml:"deltas"`
}

type stateYAML struct {
	Interfaces []interfaceYAML `yaml:"interfaces,omitempty"`
	MacEntries []macEntryYAML  `yaml:"mac_entries,omitempty"`
	Arp        []neighborYAML  `yaml:"arp,omitempty"`
	Ndp        []neighborYAML  `yaml:"ndp,omitempty"`
	NextHops   []nextHopYAML   `yaml:"next_hops,omitempty"`
}

func (y *interfaceYAML) decode() (*Interface, error) {
	mac, err := util.NormalizeMAC(y.MAC)
	if err != nil {
		return nil, fmt.Errorf("interface %d: %w", y.ID, err)
	}
	intf := &Interface{ID: y.ID, MAC: mac, MTU: y.MTU}
	return intf, intf.Validate()
}

func encodeInterface(i *Interface) interfaceYAML {
	return interfaceYAML{ID: i.ID, MAC: i.MAC, MTU: i.MTU}
}

func (y *macEntryYAML) decode() (*MacEntry, error) {
	mac, err := util.NormalizeMAC(y.MAC)
	if err != nil {
		return nil, fmt.Errorf("mac entry on %d: %w", y.Intf, err)
	}
	port, err := ParsePortDescriptor(y.Port)
	if err != nil {
		return nil, fmt.Errorf("mac entry %d|%s: %w", y.Intf, mac, err)
	}
	typ, err := ParseMacEntryType(y.Type)
	if err != nil {
		return nil, err
	}
	entry := &MacEntry{InterfaceID: y.Intf, MAC: mac, Port: port, Type: typ, ClassID: y.ClassID}
	return entry, entry.Validate()
}

func encodeMacEntry(m *MacEntry) macEntryYAML {
	y := macEntryYAML{Intf: m.InterfaceID, MAC: m.MAC, Port: m.Port.Name, ClassID: m.ClassID}
	if m.Type == MacEntryStatic {
		y.Type = m.Type.String()
	}
	return y
}

func (y *neighborYAML) decode() (NeighborEntry, error) {
	ip, err := util.ParseIP(y.IP)
	if err != nil {
		return NeighborEntry{}, fmt.Errorf("neighbor on %d: %w", y.Intf, err)
	}
	entry := NeighborEntry{InterfaceID: y.Intf, IP: ip, ClassID: y.ClassID, Pending: y.Pending}
	if y.MAC != "" {
		if entry.MAC, err = util.NormalizeMAC(y.MAC); err != nil {
			return NeighborEntry{}, fmt.Errorf("neighbor %s: %w", entry.Key(), err)
		}
	}
	if y.Port != "" {
		if entry.Port, err = ParsePortDescriptor(y.Port); err != nil {
			return NeighborEntry{}, fmt.Errorf("neighbor %s: %w", entry.Key(), err)
		}
	}
	return entry, nil
}

func encodeNeighbor(e *NeighborEntry) neighborYAML {
	return neighborYAML{
		Intf:    e.InterfaceID,
		IP:      e.IP.String(),
		MAC:     e.MAC,
		Port:    e.Port.Name,
		ClassID: e.ClassID,
		Pending: e.Pending,
	}
}

func (y *neighborYAML) decodeArp() (*ArpEntry, error) {
	n, err := y.decode()
	if err != nil {
		return nil, err
	}
	e := &ArpEntry{NeighborEntry: n}
	return e, e.Validate()
}

func (y *neighborYAML) decodeNdp() (*NdpEntry, error) {
	n, err := y.decode()
	if err != nil {
		return nil, err
	}
	e := &NdpEntry{NeighborEntry: n}
	return e, e.Validate()
}

func (y *nextHopYAML) decode() (*NextHop, error) {
	ip, err := util.ParseIP(y.IP)
	if err != nil {
		return nil, fmt.Errorf("next hop on %d: %w", y.Intf, err)
	}
	return &NextHop{InterfaceID: y.Intf, IP: ip}, nil
}

func encodeNextHop(n *NextHop) nextHopYAML {
	return nextHopYAML{Intf: n.InterfaceID, IP: n.IP.String()}
}

// decodeChanges converts on-disk pairs. An entry with neither side set is
// rejected.
func decodeChanges[Y any, T any](in []changeYAML[Y], decode func(*Y) (*T, error)) ([]Change[*T], error) {
	out := make([]Change[*T], 0, len(in))
	for i, c := range in {
		if c.Old == nil && c.New == nil {
			return nil, fmt.Errorf("change %d has neither old nor new", i)
		}
		var change Change[*T]
		var err error
		if c.Old != nil {
			if change.Old, err = decode(c.Old); err != nil {
				return nil, err
			}
		}
		if c.New != nil {
			if change.New, err = decode(c.New); err != nil {
				return nil, err
			}
		}
		out = append(out, change)
	}
	return out, nil
}

func (y *deltaYAML) decode() (*Delta, error) {
	d := &Delta{Name: y.Name}
	var err error
	if d.Interfaces, err = decodeChanges(y.Interfaces, (*interfaceYAML).decode); err != nil {
		return nil, fmt.Errorf("interfaces: %w", err)
	}
	if d.MacEntries, err = decodeChanges(y.MacEntries, (*macEntryYAML).decode); err != nil {
		return nil, fmt.Errorf("mac_entries: %w", err)
	}
	if d.Arp, err = decodeChanges(y.Arp, (*neighborYAML).decodeArp); err != nil {
		return nil, fmt.Errorf("arp: %w", err)
	}
	if d.Ndp, err = decodeChanges(y.Ndp, (*neighborYAML).decodeNdp); err != nil {
		return nil, fmt.Errorf("ndp: %w", err)
	}
	if d.NextHops, err = decodeChanges(y.NextHops, (*nextHopYAML).decode); err != nil {
		return nil, fmt.Errorf("next_hops: %w", err)
	}
	for _, l := range y.Links {
		if l.Port == "" {
			return nil, fmt.Errorf("links: empty port name")
		}
		d.Links = append(d.Links, LinkChange{Port: l.Port, Up: l.Up})
	}
	return d, nil
}

// ParseDeltas decodes a delta document. Unnamed deltas are named after
// their position.
func ParseDeltas(data []byte) ([]*Delta, error) {
	var doc deltaFileYAML
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("parsing deltas: %w", err)
	}

	deltas := make([]*Delta, 0, len(doc.Deltas))
	for i := range doc.Deltas {
		d, err := doc.Deltas[i].decode()
		if err != nil {
			return nil, fmt.Errorf("delta %d (%s): %w", i, doc.Deltas[i].Name, err)
		}
		if d.Name == "" {
			d.Name = fmt.Sprintf("delta-%d", i)
		}
		deltas = append(deltas, d)
	}
	return deltas, nil
}

// LoadDeltaFile reads and decodes a delta file. Unnamed deltas are named
// after the file.
func LoadDeltaFile(path string) ([]*Delta, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading delta file: %w", err)
	}
	deltas, err := ParseDeltas(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	base := filepath.Base(path)
	for i, d := range deltas {
		if d.Name == fmt.Sprintf("delta-%d", i) {
			d.Name = fmt.Sprintf("%s#%d", base, i)
		}
	}
	return deltas, nil
}

// LoadState reads a state snapshot. A missing file is an empty state.
func LoadState(path string) (*State, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return NewState(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading state file: %w", err)
	}

	var doc stateYAML
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing state file %s: %w", path, err)
	}

	s := NewState()
	for i := range doc.Interfaces {
		intf, err := doc.Interfaces[i].decode()
		if err != nil {
			return nil, err
		}
		s.Interfaces[intf.ID] = intf
	}
	for i := range doc.MacEntries {
		m, err := doc.MacEntries[i].decode()
		if err != nil {
			return nil, err
		}
		s.MacEntries[m.Key()] = m
	}
	for i := range doc.Arp {
		e, err := doc.Arp[i].decodeArp()
		if err != nil {
			return nil, err
		}
		s.Arp[e.Key()] = e
	}
	for i := range doc.Ndp {
		e, err := doc.Ndp[i].decodeNdp()
		if err != nil {
			return nil, err
		}
		s.Ndp[e.Key()] = e
	}
	for i := range doc.NextHops {
		n, err := doc.NextHops[i].decode()
		if err != nil {
			return nil, err
		}
		s.NextHops[n.Key()] = n
	}
	return s, nil
}

// SaveState writes a state snapshot atomically, entries in key order.
func SaveState(path string, s *State) error {
	d := s.Delta("")
	var doc stateYAML
	for _, c := range d.Interfaces {
		doc.Interfaces = append(doc.Interfaces, encodeInterface(c.New))
	}
	for _, c := range d.MacEntries {
		doc.MacEntries = append(doc.MacEntries, encodeMacEntry(c.New))
	}
	for _, c := range d.Arp {
		doc.Arp = append(doc.Arp, encodeNeighbor(&c.New.NeighborEntry))
	}
	for _, c := range d.Ndp {
		doc.Ndp = append(doc.Ndp, encodeNeighbor(&c.New.NeighborEntry))
	}
	for _, c := range d.NextHops {
		doc.NextHops = append(doc.NextHops, encodeNextHop(c.New))
	}

	data, err := yaml.Marshal(&doc)
	if err != nil {
		return fmt.Errorf("encoding state: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating state directory: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing state file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replacing state file: %w", err)
	}
	return nil
}
