package spool

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/newtron-network/hwagent/pkg/state"
)

type recorder struct {
	mu      sync.Mutex
	applied []string
	fail    string
}

func (r *recorder) apply(_ context.Context, d *state.Delta) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if d.Name == r.fail {
		return errors.New("table full")
	}
	r.applied = append(r.applied, d.Name)
	return nil
}

func (r *recorder) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.applied...)
}

func writeDelta(t *testing.T, dir, file, name string) {
	t.Helper()
	tmp := filepath.Join(t.TempDir(), file)
	if err := os.WriteFile(tmp, []byte(fmtDelta(name)), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.Rename(tmp, filepath.Join(dir, file)); err != nil {
		t.Fatal(err)
	}
}

func fmtDelta(name string) string {
	return "deltas:\n  - name: " + name + "\n    links:\n      - {port: Ethernet0, up: true}\n"
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// waitFor polls cond until it holds, failing the test after five seconds.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func runSpool(t *testing.T, s *Spool) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- s.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		if err := <-errc; err != nil {
			t.Errorf("Run: %v", err)
		}
	})
}

func TestSpoolProcessesExistingFilesInOrder(t *testing.T) {
	dir := t.TempDir()
	writeDelta(t, dir, "02-second.yaml", "second")
	writeDelta(t, dir, "01-first.yaml", "first")
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	r := &recorder{}
	runSpool(t, New(dir, r.apply))

	waitFor(t, "both deltas", func() bool { return len(r.names()) == 2 })
	if diff := cmp.Diff([]string{"first", "second"}, r.names()); diff != "" {
		t.Errorf("apply order mismatch (-want +got):\n%s", diff)
	}
	waitFor(t, "02-second.yaml in done", func() bool {
		return exists(filepath.Join(dir, doneDir, "02-second.yaml"))
	})
	if !exists(filepath.Join(dir, doneDir, "01-first.yaml")) {
		t.Error("01-first.yaml should be moved to done")
	}
	if !exists(filepath.Join(dir, "notes.txt")) {
		t.Error("notes.txt should be left alone")
	}
}

func TestSpoolPicksUpNewFiles(t *testing.T) {
	dir := t.TempDir()
	r := &recorder{fail: "bad"}
	runSpool(t, New(dir, r.apply))

	// Files that land before the watch is in place are found by the
	// initial scan.
	waitFor(t, "spool directories", func() bool { return exists(filepath.Join(dir, failedDir)) })

	writeDelta(t, dir, "good.yaml", "good")
	waitFor(t, "good.yaml in done", func() bool {
		return exists(filepath.Join(dir, doneDir, "good.yaml"))
	})
	if diff := cmp.Diff([]string{"good"}, r.names()); diff != "" {
		t.Errorf("applied mismatch (-want +got):\n%s", diff)
	}

	writeDelta(t, dir, "bad.yaml", "bad")
	errFile := filepath.Join(dir, failedDir, "bad.yaml.err")
	waitFor(t, "bad.yaml.err", func() bool { return exists(errFile) })
	data, err := os.ReadFile(errFile)
	if err != nil {
		t.Fatal(err)
	}
	if got := string(data); got != "delta bad: table full\n" {
		t.Errorf("error file = %q, want %q", got, "delta bad: table full\n")
	}
	if exists(filepath.Join(dir, "bad.yaml")) {
		t.Error("bad.yaml should be moved out of the spool")
	}
}

func TestSpoolRejectsMalformedFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "broken.yaml"), []byte("deltas: [\n"), 0644); err != nil {
		t.Fatal(err)
	}

	r := &recorder{}
	runSpool(t, New(dir, r.apply))

	waitFor(t, "broken.yaml.err", func() bool {
		return exists(filepath.Join(dir, failedDir, "broken.yaml.err"))
	})
	if names := r.names(); len(names) != 0 {
		t.Errorf("applied %v, want nothing", names)
	}
}

func TestIsDeltaFile(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"/spool/a.yaml", true},
		{"a.yml", true},
		{".a.yaml", false},
		{"a.yaml.tmp", false},
	}
	for _, tt := range tests {
		if got := isDeltaFile(tt.path); got != tt.want {
			t.Errorf("isDeltaFile(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}
