// Package linkstate answers whether a port or link aggregate may carry
// traffic. Queries are pull-style; callers re-ask when told a port changed.
package linkstate

import (
	"sort"
	"sync"

	"github.com/newtron-network/hwagent/pkg/state"
)

// Source reports operational link state.
type Source interface {
	// PortOperUp reports whether a physical port is operationally up.
	PortOperUp(port string) bool
	// LagMinLinksMet reports whether enough members of an aggregate are up.
	LagMinLinksMet(lag string) bool
}

// Eligible reports whether traffic may egress port: a physical port must be
// up, an aggregate must meet its minimum member links.
func Eligible(src Source, port state.PortDescriptor) bool {
	if port.IsZero() {
		return false
	}
	if port.IsAggregate() {
		return src.LagMinLinksMet(port.Name)
	}
	return src.PortOperUp(port.Name)
}

type lag struct {
	minLinks int
	members  map[string]bool
}

// Static is an in-memory Source. Ports are down until set up. It backs the
// simulator and tests.
type Static struct {
	mu    sync.RWMutex
	ports map[string]bool
	lags  map[string]*lag
}

// NewStatic returns a Static source with every port down.
func NewStatic() *Static {
	return &Static{
		ports: make(map[string]bool),
		lags:  make(map[string]*lag),
	}
}

// SetPort records the oper status of a port.
func (s *Static) SetPort(port string, up bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ports[port] = up
}

// SetLag defines an aggregate. A minLinks below 1 is treated as 1.
func (s *Static) SetLag(name string, minLinks int, members ...string) {
	if minLinks < 1 {
		minLinks = 1
	}
	l := &lag{minLinks: minLinks, members: make(map[string]bool)}
	for _, m := range members {
		l.members[m] = true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lags[name] = l
}

func (s *Static) PortOperUp(port string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ports[port]
}

func (s *Static) LagMinLinksMet(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.lags[name]
	if !ok {
		return false
	}
	up := 0
	for m := range l.members {
		if s.ports[m] {
			up++
		}
	}
	return up >= l.minLinks
}

// Ports returns a copy of the recorded port states.
func (s *Static) Ports() map[string]bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]bool, len(s.ports))
	for p, up := range s.ports {
		out[p] = up
	}
	return out
}

// Lags returns the known aggregate names, sorted.
func (s *Static) Lags() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.lags))
	for n := range s.lags {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
