package agent

import (
	"context"

	"github.com/newtron-network/hwagent/pkg/hw"
	"github.com/newtron-network/hwagent/pkg/neighbor"
	"github.com/newtron-network/hwagent/pkg/objects"
	"github.com/newtron-network/hwagent/pkg/state"
)

// NextHopStatus describes one managed next hop.
type NextHopStatus struct {
	Key      state.NextHopKey
	Realized bool
	ID       hw.ObjectID
}

// Report is a point-in-time view of the agent for display.
type Report struct {
	SwitchID hw.ObjectID
	Objects  map[hw.ObjectType][]objects.Summary
	Arp      []neighbor.Status
	Ndp      []neighbor.Status
	NextHops []NextHopStatus
	// Ports holds the recorded port states of a static link source; it is
	// nil for other sources.
	Ports map[string]bool
	State *state.State
}

// ObjectTypes lists the object types in dependency order.
var ObjectTypes = []hw.ObjectType{
	hw.ObjectTypeRouterInterface,
	hw.ObjectTypeFdbEntry,
	hw.ObjectTypeNeighborEntry,
	hw.ObjectTypeNextHop,
}

// Report collects a Report on the update context.
func (a *Agent) Report(ctx context.Context) (*Report, error) {
	var r *Report
	err := a.Update(ctx, "report", func() error {
		r = a.report()
		return nil
	})
	return r, err
}

func (a *Agent) report() *Report {
	r := &Report{
		SwitchID: a.opts.SwitchID,
		Objects:  make(map[hw.ObjectType][]objects.Summary, len(ObjectTypes)),
		Arp:      a.arp.Entries(),
		Ndp:      a.ndp.Entries(),
		State:    a.current,
	}
	for _, t := range ObjectTypes {
		r.Objects[t] = a.stores.List(t)
	}
	for _, key := range a.nexthops.Keys() {
		st := NextHopStatus{Key: key}
		if obj := a.nexthops.Handle(key); obj != nil {
			st.Realized = true
			st.ID = obj.ID()
		}
		r.NextHops = append(r.NextHops, st)
	}
	if a.static != nil {
		r.Ports = a.static.Ports()
	}
	return r
}
