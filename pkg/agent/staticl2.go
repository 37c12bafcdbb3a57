package agent

import (
	"github.com/newtron-network/hwagent/pkg/l2l3"
	"github.com/newtron-network/hwagent/pkg/state"
)

// staticL2 holds a static MAC entry for every resolved neighbor so the
// neighbor's FDB dependency exists even when the MAC was never learned.
type staticL2 struct {
	fdbs *l2l3.FdbManager
}

func (s *staticL2) NeighborResolved(key state.NeighborKey, attrs state.NeighborAttributes) error {
	return s.fdbs.AcquireStatic(state.MacKey{InterfaceID: key.InterfaceID, MAC: attrs.MAC}, attrs.Port)
}

func (s *staticL2) NeighborUnresolved(key state.NeighborKey, attrs state.NeighborAttributes) error {
	return s.fdbs.ReleaseStatic(state.MacKey{InterfaceID: key.InterfaceID, MAC: attrs.MAC})
}
