package agent

import (
	"context"
	"errors"
	"net/netip"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/newtron-network/hwagent/pkg/audit"
	"github.com/newtron-network/hwagent/pkg/hw"
	"github.com/newtron-network/hwagent/pkg/linkstate"
	"github.com/newtron-network/hwagent/pkg/metrics"
	"github.com/newtron-network/hwagent/pkg/objects"
	"github.com/newtron-network/hwagent/pkg/state"
	"github.com/newtron-network/hwagent/pkg/util"
)

const switchID = hw.ObjectID("oid:0x21000000000000")

func startAgent(t *testing.T, api hw.API, opts Options) *Agent {
	t.Helper()
	if opts.SwitchID == "" {
		opts.SwitchID = switchID
	}
	a := New(api, opts)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()
	t.Cleanup(func() {
		a.Close()
		cancel()
		<-done
	})
	return a
}

func parse(t *testing.T, doc string) []*state.Delta {
	t.Helper()
	deltas, err := state.ParseDeltas([]byte(doc))
	if err != nil {
		t.Fatal(err)
	}
	return deltas
}

func apply(t *testing.T, a *Agent, doc string) {
	t.Helper()
	for _, d := range parse(t, doc) {
		if err := a.Apply(context.Background(), d); err != nil {
			t.Fatal(err)
		}
	}
}

// waitFor polls cond until it holds; learning updates are applied on the
// update loop after the call returns.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met within 5s")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func report(t *testing.T, a *Agent) *Report {
	t.Helper()
	r, err := a.Report(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	return r
}

const bringUp = `
deltas:
  - name: bring-up
    interfaces:
      - new: {id: 10, mac: "00:11:22:33:44:55"}
    mac_entries:
      - new: {intf: 10, mac: "aa:bb:cc:dd:ee:01", port: Ethernet0}
    arp:
      - new: {intf: 10, ip: 10.0.0.5, mac: "aa:bb:cc:dd:ee:01", port: Ethernet0}
    next_hops:
      - new: {intf: 10, ip: 10.0.0.5}
    links:
      - {port: Ethernet0, up: true}
`

func TestApplyBringUp(t *testing.T) {
	api := hw.NewMemoryAPI()
	a := startAgent(t, api, Options{})
	apply(t, a, bringUp)

	for _, typ := range ObjectTypes {
		if n := api.Len(typ); n != 1 {
			t.Errorf("%d %s objects, want 1", n, typ)
		}
	}

	r := report(t, a)
	if got := len(r.Arp); got != 1 {
		t.Fatalf("len(r.Arp) = %d, want 1", got)
	}
	if !r.Arp[0].Realized {
		t.Error("arp entry not realized")
	}
	if !r.Arp[0].Resolved {
		t.Error("arp entry not resolved")
	}
	if got := len(r.NextHops); got != 1 {
		t.Fatalf("len(r.NextHops) = %d, want 1", got)
	}
	if !r.NextHops[0].Realized {
		t.Error("next hop not realized")
	}
	if diff := cmp.Diff(map[string]bool{"Ethernet0": true}, r.Ports); diff != "" {
		t.Errorf("r.Ports mismatch (-want +got):\n%s", diff)
	}
	if got := r.State.Len(); got != 4 {
		t.Errorf("r.State.Len() = %v, want %v", got, 4)
	}
}

func TestLinkDownUnrealizesNeighborAndNextHop(t *testing.T) {
	api := hw.NewMemoryAPI()
	a := startAgent(t, api, Options{})
	apply(t, a, bringUp)

	apply(t, a, "deltas:\n  - links:\n      - {port: Ethernet0, up: false}\n")
	if got := api.Len(hw.ObjectTypeNeighborEntry); got != 0 {
		t.Errorf("api.Len(hw.ObjectTypeNeighborEntry) = %v, want 0", got)
	}
	if got := api.Len(hw.ObjectTypeNextHop); got != 0 {
		t.Errorf("api.Len(hw.ObjectTypeNextHop) = %v, want 0", got)
	}
	if got := api.Len(hw.ObjectTypeFdbEntry); got != 1 {
		t.Errorf("api.Len(hw.ObjectTypeFdbEntry) = %v, want %v", got, 1)
	}

	apply(t, a, "deltas:\n  - links:\n      - {port: Ethernet0, up: true}\n")
	if got := api.Len(hw.ObjectTypeNeighborEntry); got != 1 {
		t.Errorf("api.Len(hw.ObjectTypeNeighborEntry) = %v, want %v", got, 1)
	}
	if got := api.Len(hw.ObjectTypeNextHop); got != 1 {
		t.Errorf("api.Len(hw.ObjectTypeNextHop) = %v, want %v", got, 1)
	}
}

func listAll(t *testing.T, a *Agent) map[hw.ObjectType][]objects.Summary {
	t.Helper()
	return report(t, a).Objects
}

func TestApplyFailureRevertsDelta(t *testing.T) {
	api := hw.NewMemoryAPI()
	dir := t.TempDir()
	logger, err := audit.NewFileLogger(filepath.Join(dir, "audit.log"), audit.RotationConfig{})
	if err != nil {
		t.Fatal(err)
	}
	defer logger.Close()

	a := startAgent(t, api, Options{Audit: logger})
	apply(t, a, bringUp)
	before := listAll(t, a)
	stateBefore, err := a.State(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	failures := metrics.GetCounterValue(metrics.DeltaApplications.WithLabelValues(metrics.LabelValueOutcomeFail))

	grow := parse(t, `
deltas:
  - name: grow
    mac_entries:
      - new: {intf: 10, mac: "aa:bb:cc:dd:ee:02", port: Ethernet4}
    arp:
      - old: {intf: 10, ip: 10.0.0.5, mac: "aa:bb:cc:dd:ee:01", port: Ethernet0}
        new: {intf: 10, ip: 10.0.0.5, mac: "aa:bb:cc:dd:ee:01", port: Ethernet0, class_id: 7}
      - new: {intf: 10, ip: 10.0.0.6, mac: "aa:bb:cc:dd:ee:02", port: Ethernet4}
    links:
      - {port: Ethernet4, up: true}
`)[0]

	// The class ID change recreates 10.0.0.5; the link-up then fails to
	// create 10.0.0.6.
	api.FailAfter("create", hw.ObjectTypeNeighborEntry, 1, hw.StatusTableFull)
	err = a.Apply(context.Background(), grow)
	if !errors.Is(err, util.ErrHardwareCall) {
		t.Fatalf("Apply error = %v, want ErrHardwareCall", err)
	}
	if status := hw.Status(err); status != hw.StatusTableFull {
		t.Errorf("status = %q, want %q", status, hw.StatusTableFull)
	}

	after := listAll(t, a)
	if diff := cmp.Diff(before, after, cmpopts.IgnoreFields(objects.Summary{}, "ID")); diff != "" {
		t.Errorf("objects changed by failed delta (-before +after):\n%s", diff)
	}
	stateAfter, err := a.State(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if stateAfter != stateBefore {
		t.Error("failed delta replaced the state snapshot")
	}
	if got := metrics.GetCounterValue(metrics.DeltaApplications.WithLabelValues(metrics.LabelValueOutcomeFail)); got != failures+1 {
		t.Errorf("failed applications = %v, want %v", got, failures+1)
	}

	events, err := logger.Query(audit.Filter{FailureOnly: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 {
		t.Fatalf("got %d failure events, want 1", len(events))
	}
	if ev := events[0]; ev.Delta != "grow" || ev.Reverted != 4 {
		t.Errorf("failure event delta %q reverted %d, want grow and 4", ev.Delta, ev.Reverted)
	}
	if !strings.Contains(events[0].Error, "link Ethernet4") {
		t.Errorf("failure event error = %q, want it to name link Ethernet4", events[0].Error)
	}
}

func TestApplyRejectsInvalidDelta(t *testing.T) {
	api := hw.NewMemoryAPI()
	a := startAgent(t, api, Options{})

	err := a.Apply(context.Background(), &state.Delta{
		Name: "broken",
		Interfaces: []state.Change[*state.Interface]{
			{New: &state.Interface{ID: 10, MAC: "00:11:22:33:44:55"}},
			{New: &state.Interface{ID: 20}},
		},
	})
	if !errors.Is(err, util.ErrValidationFailed) {
		t.Errorf("Apply error = %v, want ErrValidationFailed", err)
	}
	if got := api.Len(hw.ObjectTypeRouterInterface); got != 0 {
		t.Errorf("api.Len(hw.ObjectTypeRouterInterface) = %v, want 0", got)
	}
}

func TestApplyDuplicateAbortsDelta(t *testing.T) {
	api := hw.NewMemoryAPI()
	a := startAgent(t, api, Options{})
	apply(t, a, bringUp)

	err := a.Apply(context.Background(), parse(t, `
deltas:
  - interfaces:
      - new: {id: 20, mac: "00:11:22:33:44:66"}
    arp:
      - new: {intf: 10, ip: 10.0.0.5, mac: "aa:bb:cc:dd:ee:01", port: Ethernet0}
`)[0])
	if !errors.Is(err, util.ErrDuplicateEntry) {
		t.Errorf("Apply error = %v, want ErrDuplicateEntry", err)
	}
	// Interface 20 is reverted.
	if n := api.Len(hw.ObjectTypeRouterInterface); n != 1 {
		t.Errorf("%d router interfaces, want 1", n)
	}
}

func TestWarmBootAdoptsObjects(t *testing.T) {
	api := hw.NewMemoryAPI()
	first := startAgent(t, api, Options{})
	apply(t, first, bringUp)
	snapshot, err := first.State(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	// Programmed after the snapshot, so nothing claims it at warm boot.
	apply(t, first, "deltas:\n  - mac_entries:\n      - new: {intf: 10, mac: \"aa:bb:cc:dd:ee:02\", port: Ethernet4}\n")
	if got := api.Len(hw.ObjectTypeFdbEntry); got != 2 {
		t.Fatalf("api.Len(hw.ObjectTypeFdbEntry) = %v, want %v", got, 2)
	}

	links := linkstate.NewStatic()
	links.SetPort("Ethernet0", true)
	second := startAgent(t, api, Options{Links: links})
	api.ResetCalls()
	if err := second.WarmBoot(context.Background(), snapshot); err != nil {
		t.Fatal(err)
	}

	for _, typ := range ObjectTypes {
		if got := api.Calls("create", typ); got != 0 {
			t.Errorf("%d %s objects created during warm boot", got, typ)
		}
		if n := api.Len(typ); n != 1 {
			t.Errorf("%d %s objects after warm boot, want 1", n, typ)
		}
	}
	if got := api.Calls("remove", hw.ObjectTypeFdbEntry); got != 1 {
		t.Errorf("api.Calls(remove, hw.ObjectTypeFdbEntry) = %v, want %v", got, 1)
	}

	r := report(t, second)
	if got := len(r.Arp); got != 1 {
		t.Fatalf("len(r.Arp) = %d, want 1", got)
	}
	if !r.Arp[0].Resolved {
		t.Error("arp entry not resolved")
	}
	if !r.NextHops[0].Realized {
		t.Error("next hop not realized")
	}
	if diff := cmp.Diff(map[string]bool{"Ethernet0": true}, r.Ports); diff != "" {
		t.Errorf("r.Ports mismatch (-want +got):\n%s", diff)
	}

	if err := second.WarmBoot(context.Background(), snapshot); !errors.Is(err, ErrNotEmpty) {
		t.Errorf("error = %v, want %v", err, ErrNotEmpty)
	}
}

func TestWarmBootDropsNeighborWithDownLink(t *testing.T) {
	api := hw.NewMemoryAPI()
	first := startAgent(t, api, Options{})
	apply(t, first, bringUp)
	snapshot, err := first.State(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	second := startAgent(t, api, Options{})
	api.ResetCalls()
	if err := second.WarmBoot(context.Background(), snapshot); err != nil {
		t.Fatal(err)
	}

	if got := api.Calls("create", hw.ObjectTypeNeighborEntry); got != 0 {
		t.Errorf("api.Calls(create, hw.ObjectTypeNeighborEntry) = %v, want 0", got)
	}
	if got := api.Len(hw.ObjectTypeNeighborEntry); got != 0 {
		t.Errorf("api.Len(hw.ObjectTypeNeighborEntry) = %v, want 0", got)
	}
	if got := api.Len(hw.ObjectTypeNextHop); got != 0 {
		t.Errorf("api.Len(hw.ObjectTypeNextHop) = %v, want 0", got)
	}
	if got := api.Len(hw.ObjectTypeFdbEntry); got != 1 {
		t.Errorf("api.Len(hw.ObjectTypeFdbEntry) = %v, want %v", got, 1)
	}
}

const resolvedOnly = `
deltas:
  - interfaces:
      - new: {id: 10, mac: "00:11:22:33:44:55"}
    arp:
      - new: {intf: 10, ip: 10.0.0.5, mac: "aa:bb:cc:dd:ee:01", port: Ethernet0}
    next_hops:
      - new: {intf: 10, ip: 10.0.0.5}
    links:
      - {port: Ethernet0, up: true}
`

const goPending = `
deltas:
  - arp:
      - old: {intf: 10, ip: 10.0.0.5, mac: "aa:bb:cc:dd:ee:01", port: Ethernet0}
        new: {intf: 10, ip: 10.0.0.5, pending: true}
`

const resolveAgain = `
deltas:
  - arp:
      - old: {intf: 10, ip: 10.0.0.5, pending: true}
        new: {intf: 10, ip: 10.0.0.5, mac: "aa:bb:cc:dd:ee:01", port: Ethernet0}
`

func TestStaticL2ForNeighbors(t *testing.T) {
	api := hw.NewMemoryAPI()
	a := startAgent(t, api, Options{StaticL2ForNeighbors: true})

	apply(t, a, "deltas:\n  - arp:\n      - new: {intf: 10, ip: 10.0.0.5, pending: true}\n")
	// Pending neighbors get no MAC entry.
	if n := api.Len(hw.ObjectTypeFdbEntry); n != 0 {
		t.Errorf("%d fdb entries, want 0", n)
	}

	apply(t, a, `
deltas:
  - interfaces:
      - new: {id: 10, mac: "00:11:22:33:44:55"}
    links:
      - {port: Ethernet0, up: true}
`)
	apply(t, a, resolveAgain)
	fdbs := report(t, a).Objects[hw.ObjectTypeFdbEntry]
	if got := len(fdbs); got != 1 {
		t.Fatalf("len(fdbs) = %d, want 1", got)
	}
	if got := fdbs[0].Key; got != "10|aa:bb:cc:dd:ee:01" {
		t.Errorf("fdbs[0].Key = %q, want %q", got, "10|aa:bb:cc:dd:ee:01")
	}
	if got := fdbs[0].Attributes[objects.AttrFdbType]; got != "SAI_FDB_ENTRY_TYPE_STATIC" {
		t.Errorf("fdbs[0].Attributes[objects.AttrFdbType] = %q, want %q", got, "SAI_FDB_ENTRY_TYPE_STATIC")
	}
	if got := api.Len(hw.ObjectTypeNeighborEntry); got != 1 {
		t.Errorf("api.Len(hw.ObjectTypeNeighborEntry) = %v, want %v", got, 1)
	}

	apply(t, a, goPending)
	if got := api.Len(hw.ObjectTypeFdbEntry); got != 0 {
		t.Errorf("api.Len(hw.ObjectTypeFdbEntry) = %v, want 0", got)
	}
	if got := api.Len(hw.ObjectTypeNeighborEntry); got != 0 {
		t.Errorf("api.Len(hw.ObjectTypeNeighborEntry) = %v, want 0", got)
	}

	apply(t, a, resolveAgain)
	if got := api.Len(hw.ObjectTypeFdbEntry); got != 1 {
		t.Errorf("api.Len(hw.ObjectTypeFdbEntry) = %v, want %v", got, 1)
	}
	if got := api.Len(hw.ObjectTypeNeighborEntry); got != 1 {
		t.Errorf("api.Len(hw.ObjectTypeNeighborEntry) = %v, want %v", got, 1)
	}
}

func TestNextHopFollowsNeighborToPending(t *testing.T) {
	api := hw.NewMemoryAPI()
	a := startAgent(t, api, Options{StaticL2ForNeighbors: true})
	apply(t, a, resolvedOnly)
	if got := api.Len(hw.ObjectTypeNextHop); got != 1 {
		t.Fatalf("api.Len(hw.ObjectTypeNextHop) = %v, want %v", got, 1)
	}

	apply(t, a, goPending)
	if got := api.Len(hw.ObjectTypeNextHop); got != 0 {
		t.Errorf("api.Len(hw.ObjectTypeNextHop) = %v, want 0", got)
	}
	r := report(t, a)
	if got := len(r.NextHops); got != 1 {
		t.Fatalf("len(r.NextHops) = %d, want 1", got)
	}
	if r.NextHops[0].Realized {
		t.Error("next hop realized while its neighbor is pending")
	}

	apply(t, a, resolveAgain)
	if got := api.Len(hw.ObjectTypeNextHop); got != 1 {
		t.Errorf("api.Len(hw.ObjectTypeNextHop) = %v, want %v", got, 1)
	}
}

func learned(mac string) state.MacEntry {
	return state.MacEntry{InterfaceID: 10, MAC: mac, Port: state.PhysicalPort("Ethernet8")}
}

func TestL2Learning(t *testing.T) {
	api := hw.NewMemoryAPI()
	a := startAgent(t, api, Options{})
	apply(t, a, "deltas:\n  - interfaces:\n      - new: {id: 10, mac: \"00:11:22:33:44:55\"}\n")

	hasMac := func(mac string) bool {
		s, err := a.State(context.Background())
		return err == nil && s.MacEntry(state.MacKey{InterfaceID: 10, MAC: mac}) != nil
	}

	if err := a.L2LearningUpdateReceived(learned("aa:bb:cc:dd:ee:07"), LearningAdd); err != nil {
		t.Fatal(err)
	}
	if err := a.L2LearningUpdateReceived(learned("aa:bb:cc:dd:ee:07"), LearningAdd); err != nil {
		t.Fatal(err)
	}
	if err := a.L2LearningUpdateReceived(learned("aa:bb:cc:dd:ee:08"), LearningAdd); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return hasMac("aa:bb:cc:dd:ee:08") })
	if !hasMac("aa:bb:cc:dd:ee:07") {
		t.Error("learned aa:bb:cc:dd:ee:07 missing from state")
	}
	if got := api.Calls("create", hw.ObjectTypeFdbEntry); got != 2 {
		t.Errorf("api.Calls(create, hw.ObjectTypeFdbEntry) = %v, want %v", got, 2)
	}

	if err := a.L2LearningUpdateReceived(learned("aa:bb:cc:dd:ee:07"), LearningDelete); err != nil {
		t.Fatal(err)
	}
	if err := a.L2LearningUpdateReceived(learned("aa:bb:cc:dd:ee:09"), LearningDelete); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return !hasMac("aa:bb:cc:dd:ee:07") })
	if got := api.Len(hw.ObjectTypeFdbEntry); got != 1 {
		t.Errorf("api.Len(hw.ObjectTypeFdbEntry) = %v, want %v", got, 1)
	}
}

func TestL2LearningNormalizesMAC(t *testing.T) {
	api := hw.NewMemoryAPI()
	a := startAgent(t, api, Options{})
	apply(t, a, resolvedOnly)
	// The neighbor waits for its MAC entry.
	if n := api.Len(hw.ObjectTypeNeighborEntry); n != 0 {
		t.Fatalf("%d neighbors before learning, want 0", n)
	}

	upper := state.MacEntry{InterfaceID: 10, MAC: "AA:BB:CC:DD:EE:01", Port: state.PhysicalPort("Ethernet0")}
	if err := a.L2LearningUpdateReceived(upper, LearningAdd); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return api.Len(hw.ObjectTypeNeighborEntry) == 1 })

	r := report(t, a)
	if got := len(r.Arp); got != 1 {
		t.Fatalf("len(r.Arp) = %d, want 1", got)
	}
	if !r.Arp[0].Realized {
		t.Error("arp entry not realized")
	}
	if len(r.Arp[0].Missing) != 0 {
		t.Errorf("r.Arp[0].Missing = %v, want empty", r.Arp[0].Missing)
	}

	s, err := a.State(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if s.MacEntry(state.MacKey{InterfaceID: 10, MAC: "aa:bb:cc:dd:ee:01"}) == nil {
		t.Error("learned MAC not stored in canonical form")
	}

	if err := a.L2LearningUpdateReceived(learned("aa:bb:cc"), LearningAdd); err == nil {
		t.Error("expected error for short MAC")
	}
	if err := a.L2LearningUpdateReceived(learned(""), LearningDelete); err == nil {
		t.Error("expected error for empty MAC")
	}
}

func TestLearnedEntryDoesNotDemoteStaticHold(t *testing.T) {
	api := hw.NewMemoryAPI()
	a := startAgent(t, api, Options{StaticL2ForNeighbors: true})
	apply(t, a, resolvedOnly)

	hasMac := func() bool {
		s, err := a.State(context.Background())
		return err == nil && s.MacEntry(state.MacKey{InterfaceID: 10, MAC: "aa:bb:cc:dd:ee:01"}) != nil
	}
	fdbType := func() string {
		fdbs := report(t, a).Objects[hw.ObjectTypeFdbEntry]
		if len(fdbs) != 1 {
			t.Fatalf("%d fdb entries, want 1", len(fdbs))
		}
		return fdbs[0].Attributes[objects.AttrFdbType]
	}

	entry := state.MacEntry{InterfaceID: 10, MAC: "aa:bb:cc:dd:ee:01", Port: state.PhysicalPort("Ethernet0")}
	if err := a.L2LearningUpdateReceived(entry, LearningAdd); err != nil {
		t.Fatal(err)
	}
	waitFor(t, hasMac)
	if typ := fdbType(); typ != "SAI_FDB_ENTRY_TYPE_STATIC" {
		t.Errorf("fdb type with learned entry = %q, want static", typ)
	}

	if err := a.L2LearningUpdateReceived(entry, LearningDelete); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return !hasMac() })
	if typ := fdbType(); typ != "SAI_FDB_ENTRY_TYPE_STATIC" {
		t.Errorf("fdb type after learned delete = %q, want static", typ)
	}
	if got := api.Len(hw.ObjectTypeNeighborEntry); got != 1 {
		t.Errorf("api.Len(hw.ObjectTypeNeighborEntry) = %v, want %v", got, 1)
	}
}

func TestLearningAfterClose(t *testing.T) {
	a := startAgent(t, hw.NewMemoryAPI(), Options{})
	if err := a.Close(); err != nil {
		t.Fatal(err)
	}
	if err := a.L2LearningUpdateReceived(learned("aa:bb:cc:dd:ee:07"), LearningAdd); err == nil {
		t.Error("expected error after Close")
	}
}

func TestStatePersistedAfterApply(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.yaml")
	a := startAgent(t, hw.NewMemoryAPI(), Options{StatePath: path})
	apply(t, a, bringUp)

	saved, err := state.LoadState(path)
	if err != nil {
		t.Fatal(err)
	}
	if got := saved.Len(); got != 4 {
		t.Errorf("saved.Len() = %v, want %v", got, 4)
	}
	key := state.NeighborKey{InterfaceID: 10, IP: netip.MustParseAddr("10.0.0.5")}
	e, ok := saved.Arp[key]
	if !ok {
		t.Fatalf("%s missing from saved state", key)
	}
	if e.MAC != "aa:bb:cc:dd:ee:01" {
		t.Errorf("saved MAC = %q, want aa:bb:cc:dd:ee:01", e.MAC)
	}
}

func TestUpdateLoop(t *testing.T) {
	a := New(hw.NewMemoryAPI(), Options{SwitchID: switchID})
	defer a.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	ran := false
	if err := a.Update(context.Background(), "noop", func() error {
		ran = true
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	if !ran {
		t.Error("update function did not run")
	}

	boom := errors.New("boom")
	if err := a.Update(context.Background(), "fail", func() error { return boom }); !errors.Is(err, boom) {
		t.Errorf("error = %v, want %v", err, boom)
	}
	if err := a.Run(context.Background()); err == nil {
		t.Error("second Run must fail")
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatal(err)
	}
	if err := a.Update(context.Background(), "late", func() error { return nil }); !errors.Is(err, ErrStopped) {
		t.Errorf("error = %v, want %v", err, ErrStopped)
	}

	expired, stop := context.WithTimeout(context.Background(), 0)
	defer stop()
	idle := New(hw.NewMemoryAPI(), Options{})
	defer idle.Close()
	if err := idle.Update(expired, "never", func() error { return nil }); err == nil {
		t.Error("expected error from an expired context")
	}
}

// switchLinks stands in for a link source that changes on its own.
type switchLinks struct {
	mu sync.Mutex
	up map[string]bool
}

func (s *switchLinks) set(port string, up bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.up[port] = up
}

func (s *switchLinks) PortOperUp(port string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.up[port]
}

func (s *switchLinks) LagMinLinksMet(string) bool { return false }

func TestRefreshLinksPollsSource(t *testing.T) {
	api := hw.NewMemoryAPI()
	links := &switchLinks{up: map[string]bool{"Ethernet0": true}}
	a := startAgent(t, api, Options{Links: links})
	apply(t, a, bringUp)
	if got := api.Len(hw.ObjectTypeNeighborEntry); got != 1 {
		t.Errorf("api.Len(hw.ObjectTypeNeighborEntry) = %v, want %v", got, 1)
	}
	if ports := report(t, a).Ports; ports != nil {
		t.Errorf("Ports = %v, want nil for an external link source", ports)
	}

	links.set("Ethernet0", false)
	// Nothing changes until polled.
	if n := api.Len(hw.ObjectTypeNeighborEntry); n != 1 {
		t.Errorf("%d neighbors before refresh, want 1", n)
	}
	if err := a.RefreshLinks(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := api.Len(hw.ObjectTypeNeighborEntry); got != 0 {
		t.Errorf("api.Len(hw.ObjectTypeNeighborEntry) = %v, want 0", got)
	}
	if got := api.Len(hw.ObjectTypeNextHop); got != 0 {
		t.Errorf("api.Len(hw.ObjectTypeNextHop) = %v, want 0", got)
	}

	links.set("Ethernet0", true)
	if err := a.RefreshLinks(context.Background()); err != nil {
		t.Fatal(err)
	}
	r := report(t, a)
	if got := len(r.Arp); got != 1 {
		t.Fatalf("len(r.Arp) = %d, want 1", got)
	}
	if !r.Arp[0].Realized {
		t.Error("arp entry not realized")
	}
	if !r.NextHops[0].Realized {
		t.Error("next hop not realized")
	}
}
