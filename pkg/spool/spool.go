// Package spool applies delta files dropped into a directory.
//
// Producers must move complete files into the directory (write elsewhere,
// then rename): a file is read as soon as it appears. Applied files are
// moved to done/, rejected ones to failed/ next to a .err file holding the
// error.
package spool

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/fsnotify/fsnotify"

	"github.com/newtron-network/hwagent/pkg/state"
	"github.com/newtron-network/hwagent/pkg/util"
)

const (
	doneDir   = "done"
	failedDir = "failed"
)

// ApplyFunc applies one delta.
type ApplyFunc func(ctx context.Context, d *state.Delta) error

// Spool watches a directory for delta files.
type Spool struct {
	dir   string
	apply ApplyFunc
}

// New returns a spool over dir.
func New(dir string, apply ApplyFunc) *Spool {
	return &Spool{dir: dir, apply: apply}
}

// Dir returns the watched directory.
func (s *Spool) Dir() string {
	return s.dir
}

// Run processes the files already present, in name order, then every file
// that appears until ctx is done.
func (s *Spool) Run(ctx context.Context) error {
	for _, d := range []string{s.dir, filepath.Join(s.dir, doneDir), filepath.Join(s.dir, failedDir)} {
		if err := os.MkdirAll(d, 0755); err != nil {
			return err
		}
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(s.dir); err != nil {
		return fmt.Errorf("watching %s: %w", s.dir, err)
	}
	log := util.WithField("spool", s.dir)
	log.Info("watching for delta files")

	if err := s.processExisting(ctx); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Create) || !isDeltaFile(event.Name) {
				continue
			}
			if err := s.process(ctx, event.Name); err != nil {
				return err
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.WithError(err).Warn("watcher error")
		}
	}
}

func (s *Spool) processExisting(ctx context.Context) error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return err
	}
	var names []string
	for _, e := range entries {
		if e.Type().IsRegular() && isDeltaFile(e.Name()) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	for _, n := range names {
		if err := s.process(ctx, filepath.Join(s.dir, n)); err != nil {
			return err
		}
	}
	return nil
}

// process applies the deltas in path and files it away. Only a cancelled
// context is returned as an error; anything else fails the file.
func (s *Spool) process(ctx context.Context, path string) error {
	log := util.WithField("file", filepath.Base(path))

	deltas, err := state.LoadDeltaFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err == nil {
		for _, d := range deltas {
			if err = s.apply(ctx, d); err != nil {
				err = fmt.Errorf("delta %s: %w", d.Name, err)
				break
			}
		}
	}
	if ctx.Err() != nil {
		return nil
	}

	if err != nil {
		log.WithError(err).Error("delta file rejected")
		return s.fail(path, err)
	}
	log.WithField("deltas", len(deltas)).Info("delta file applied")
	return os.Rename(path, filepath.Join(s.dir, doneDir, filepath.Base(path)))
}

func (s *Spool) fail(path string, cause error) error {
	dst := filepath.Join(s.dir, failedDir, filepath.Base(path))
	if err := os.Rename(path, dst); err != nil {
		return err
	}
	return os.WriteFile(dst+".err", []byte(cause.Error()+"\n"), 0644)
}

func isDeltaFile(name string) bool {
	base := filepath.Base(name)
	if strings.HasPrefix(base, ".") {
		return false
	}
	ext := filepath.Ext(base)
	return ext == ".yaml" || ext == ".yml"
}
