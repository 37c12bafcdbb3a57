package agent

import (
	"fmt"

	events "github.com/docker/go-events"

	"github.com/newtron-network/hwagent/pkg/audit"
	"github.com/newtron-network/hwagent/pkg/metrics"
	"github.com/newtron-network/hwagent/pkg/state"
	"github.com/newtron-network/hwagent/pkg/util"
)

// LearningUpdate is the kind of an L2 learning callback.
type LearningUpdate int

const (
	LearningAdd LearningUpdate = iota
	LearningDelete
)

func (u LearningUpdate) String() string {
	switch u {
	case LearningAdd:
		return "add"
	case LearningDelete:
		return "delete"
	}
	return fmt.Sprintf("LearningUpdate(%d)", int(u))
}

type learnedEntry struct {
	entry  state.MacEntry
	update LearningUpdate
}

// L2LearningUpdateReceived queues a learned or aged-out MAC entry. It is
// safe to call from the driver's callback goroutine; the entry is applied
// later on the update context as a one-change delta. The MAC is brought to
// canonical lower-case form; a malformed MAC is rejected.
func (a *Agent) L2LearningUpdateReceived(entry state.MacEntry, update LearningUpdate) error {
	mac, err := util.NormalizeMAC(entry.MAC)
	if err != nil {
		return fmt.Errorf("l2 learning %s: %w", update, err)
	}
	entry.MAC = mac
	metrics.L2LearningUpdates.WithLabelValues(update.String()).Inc()
	return a.learning.Write(learnedEntry{entry: entry, update: update})
}

// learningSink moves queued learning updates onto the update context.
type learningSink struct {
	agent *Agent
}

func (s *learningSink) Write(event events.Event) error {
	le, ok := event.(learnedEntry)
	if !ok {
		return fmt.Errorf("unexpected learning event %T", event)
	}
	err := s.agent.Update(s.agent.ctx, "l2 learning", func() error {
		return s.agent.learn(le)
	})
	if err != nil {
		util.WithField("mac", le.entry.Key().String()).WithError(err).Warnf("l2 learning %s dropped", le.update)
	}
	return err
}

func (s *learningSink) Close() error {
	return nil
}

func (a *Agent) learn(le learnedEntry) error {
	key := le.entry.Key()
	old := a.current.MacEntry(key)
	d := &state.Delta{Name: "l2-learning"}

	switch le.update {
	case LearningAdd:
		entry := le.entry
		if old != nil && *old == entry {
			return nil
		}
		d.MacEntries = []state.Change[*state.MacEntry]{{Old: old, New: &entry}}
	case LearningDelete:
		if old == nil {
			util.WithField("mac", key.String()).Debug("aged-out entry not known")
			return nil
		}
		d.MacEntries = []state.Change[*state.MacEntry]{{Old: old}}
	default:
		return fmt.Errorf("unknown learning update %s", le.update)
	}
	return a.applyDelta(audit.OperationL2Learning, d)
}
