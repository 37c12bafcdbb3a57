package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/newtron-network/hwagent/pkg/audit"
	"github.com/newtron-network/hwagent/pkg/config"
	"github.com/newtron-network/hwagent/pkg/state"
)

const bringUp = `
deltas:
  - name: bring-up
    interfaces:
      - new: {id: 10, mac: "00:11:22:33:44:55"}
    arp:
      - new: {intf: 10, ip: 10.0.0.5, mac: "aa:bb:cc:dd:ee:01", port: Ethernet0}
    next_hops:
      - new: {intf: 10, ip: 10.0.0.5}
    links:
      - {port: Ethernet0, up: true}
`

const removeUnknown = `
deltas:
  - name: bad
    interfaces:
      - old: {id: 20, mac: "00:11:22:33:44:66"}
`

type testEnv struct {
	dir    string
	config string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	c := &config.Config{
		StateFile: filepath.Join(dir, "state.yaml"),
		SpoolDir:  filepath.Join(dir, "spool"),
		Audit:     config.AuditConfig{Path: filepath.Join(dir, "audit.log")},
	}
	path := filepath.Join(dir, "hwagent.yaml")
	if err := c.SaveTo(path); err != nil {
		t.Fatal(err)
	}
	return &testEnv{dir: dir, config: path}
}

func (e *testEnv) write(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(e.dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func (e *testEnv) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	configPath, verbose, jsonOutput = "", false, false
	auditOperation, auditFailures, auditLimit = "", false, 100

	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetErr(&buf)
	rootCmd.SetArgs(append([]string{"--no-color", "-c", e.config}, args...))
	err := rootCmd.Execute()
	return buf.String(), err
}

func (e *testEnv) mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, err := e.run(t, args...)
	if err != nil {
		t.Fatalf("%s: %v\n%s", strings.Join(args, " "), err, out)
	}
	return out
}

func (e *testEnv) loadState(t *testing.T) *state.State {
	t.Helper()
	s, err := state.LoadState(filepath.Join(e.dir, "state.yaml"))
	if err != nil {
		t.Fatalf("LoadState: %v", err)
	}
	return s
}

func (e *testEnv) auditEvents(t *testing.T, args ...string) []*audit.Event {
	t.Helper()
	out := e.mustRun(t, append([]string{"audit", "list", "--json"}, args...)...)
	var events []*audit.Event
	if err := json.Unmarshal([]byte(out), &events); err != nil {
		t.Fatalf("decoding audit list: %v\n%s", err, out)
	}
	return events
}

func wantContains(t *testing.T, out string, subs ...string) {
	t.Helper()
	for _, sub := range subs {
		if !strings.Contains(out, sub) {
			t.Errorf("output missing %q:\n%s", sub, out)
		}
	}
}

func TestApplyCommand(t *testing.T) {
	env := newTestEnv(t)
	out := env.mustRun(t, "apply", env.write(t, "bring-up.yaml", bringUp))
	wantContains(t, out, "bring-up", "programmed", "10|10.0.0.5")

	s := env.loadState(t)
	if len(s.Arp) != 1 || len(s.NextHops) != 1 {
		t.Errorf("state has %d arp and %d next hops, want 1 and 1", len(s.Arp), len(s.NextHops))
	}

	out = env.mustRun(t, "show", "state")
	wantContains(t, out, "00:11:22:33:44:55", "Ethernet0")

	events := env.auditEvents(t)
	if len(events) != 2 {
		t.Fatalf("got %d audit events, want 2", len(events))
	}
	if events[0].Operation != audit.OperationWarmBoot {
		t.Errorf("events[0].Operation = %s, want %s", events[0].Operation, audit.OperationWarmBoot)
	}
	if events[1].Operation != audit.OperationApply || events[1].Delta != "bring-up" || !events[1].Success {
		t.Errorf("events[1] = %+v, want a successful apply of bring-up", events[1])
	}
}

func TestApplyCommandStopsAtFailedDelta(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.run(t, "apply",
		env.write(t, "bring-up.yaml", bringUp),
		env.write(t, "bad.yaml", removeUnknown))
	if err == nil || !strings.Contains(err.Error(), "interface 20") {
		t.Fatalf("apply error = %v, want one naming interface 20", err)
	}

	// Deltas before the failure stay applied.
	if s := env.loadState(t); len(s.Interfaces) != 1 {
		t.Errorf("state has %d interfaces, want 1", len(s.Interfaces))
	}

	failures := env.auditEvents(t, "--failures")
	if len(failures) != 1 {
		t.Fatalf("got %d failure events, want 1", len(failures))
	}
	if failures[0].Delta != "bad" {
		t.Errorf("failure delta = %q, want bad", failures[0].Delta)
	}
}

func TestApplyCommandWarmBootsFromState(t *testing.T) {
	env := newTestEnv(t)
	env.mustRun(t, "apply", env.write(t, "bring-up.yaml", bringUp))

	// The sim backend starts empty, so the replayed interface is created
	// again and the change to it applies on top.
	change := `
deltas:
  - name: mtu
    interfaces:
      - old: {id: 10, mac: "00:11:22:33:44:55"}
        new: {id: 10, mac: "00:11:22:33:44:55", mtu: 9100}
`
	env.mustRun(t, "apply", env.write(t, "mtu.yaml", change))

	s := env.loadState(t)
	intf, ok := s.Interfaces[10]
	if !ok {
		t.Fatal("interface 10 missing from state")
	}
	if intf.MTU != 9100 {
		t.Errorf("MTU = %d, want 9100", intf.MTU)
	}
	if len(s.Arp) != 1 {
		t.Errorf("state has %d arp entries, want 1", len(s.Arp))
	}
}

func TestShowLinks(t *testing.T) {
	env := newTestEnv(t)
	env.mustRun(t, "apply", env.write(t, "bring-up.yaml", bringUp))

	out := env.mustRun(t, "show", "links", "--json")
	var links []linkStatus
	if err := json.Unmarshal([]byte(out), &links); err != nil {
		t.Fatalf("decoding links: %v\n%s", err, out)
	}
	if diff := cmp.Diff([]linkStatus{{Name: "Ethernet0"}}, links); diff != "" {
		t.Errorf("links mismatch (-want +got):\n%s", diff)
	}
}

func TestShowObjectsRejectsUnknownType(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.run(t, "show", "objects", "rif,route")
	if err == nil || !strings.Contains(err.Error(), "unknown object type") {
		t.Errorf("show objects error = %v, want unknown object type", err)
	}

	if out := env.mustRun(t, "show", "objects", "rif, fdb"); out != "No objects\n" {
		t.Errorf("show objects = %q, want %q", out, "No objects\n")
	}
}

func TestVersionSkipsConfig(t *testing.T) {
	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetArgs([]string{"-c", "/nonexistent/dir/x.yaml", "version"})
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.HasPrefix(buf.String(), "hwagent ") {
		t.Errorf("version output = %q", buf.String())
	}
}

func TestServeAppliesSpooledFiles(t *testing.T) {
	env := newTestEnv(t)
	c, err := config.LoadFrom(env.config)
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	cfg = c

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- serve(ctx) }()

	if err := os.MkdirAll(c.SpoolDir, 0755); err != nil {
		t.Fatal(err)
	}
	tmp := env.write(t, "bring-up.yaml", bringUp)
	if err := os.Rename(tmp, filepath.Join(c.SpoolDir, "bring-up.yaml")); err != nil {
		t.Fatal(err)
	}

	done := filepath.Join(c.SpoolDir, "done", "bring-up.yaml")
	deadline := time.Now().Add(5 * time.Second)
	for {
		if _, err := os.Stat(done); err == nil {
			break
		}
		if time.Now().After(deadline) {
			cancel()
			t.Fatal("spooled file was not applied")
		}
		time.Sleep(20 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-errc:
		if err != nil {
			t.Fatalf("serve: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not stop")
	}

	s, err := state.LoadState(c.StateFile)
	if err != nil {
		t.Fatalf("LoadState: %v", err)
	}
	if len(s.Arp) != 1 {
		t.Errorf("state has %d arp entries, want 1", len(s.Arp))
	}
}
