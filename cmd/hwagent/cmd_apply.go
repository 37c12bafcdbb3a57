package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/newtron-network/hwagent/pkg/agent"
	"github.com/newtron-network/hwagent/pkg/cli"
	"github.com/newtron-network/hwagent/pkg/state"
)

// withAgent opens a session, runs its update loop and warm boots it from the
// state file before calling fn.
func withAgent(ctx context.Context, fn func(ctx context.Context, s *session) error) error {
	s, err := newSession(cfg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	defer func() {
		s.Close()
		cancel()
		<-done
	}()

	if err := warmBoot(ctx, s); err != nil {
		return err
	}
	return fn(ctx, s)
}

func warmBoot(ctx context.Context, s *session) error {
	snapshot, err := state.LoadState(cfg.StateFile)
	if err != nil {
		return fmt.Errorf("loading state: %w", err)
	}
	if err := s.WarmBoot(ctx, snapshot); err != nil {
		return fmt.Errorf("warm boot: %w", err)
	}
	return nil
}

var applyCmd = &cobra.Command{
	Use:   "apply FILE...",
	Short: "Apply delta files",
	Long: `Warm boot from the state file, then apply the deltas in each file in order.

Each delta is atomic. Applying stops at the first failed delta; the deltas
before it stay applied and are saved to the state file.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var files [][]*state.Delta
		for _, path := range args {
			deltas, err := state.LoadDeltaFile(path)
			if err != nil {
				return err
			}
			files = append(files, deltas)
		}

		out := cmd.OutOrStdout()
		return withAgent(cmd.Context(), func(ctx context.Context, s *session) error {
			for _, deltas := range files {
				for _, d := range deltas {
					err := s.Apply(ctx, d)
					fmt.Fprintf(out, "%-24s %-8s %s\n", d.Name, cli.Outcome(err == nil), d.Summary())
					if err != nil {
						return err
					}
				}
			}
			r, err := s.Report(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintln(out)
			return printNeighbors(out, r)
		})
	},
}

var warmBootCmd = &cobra.Command{
	Use:   "warmboot",
	Short: "Reconcile hardware with the state file",
	Long: `Reload the objects the hardware holds, replay the state file over them and
remove every object the replay did not claim.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		return withAgent(cmd.Context(), func(ctx context.Context, s *session) error {
			r, err := s.Report(ctx)
			if err != nil {
				return err
			}
			t := cli.NewTable(out, "TYPE", "OBJECTS")
			for _, typ := range agent.ObjectTypes {
				t.Row(typ.Short(), fmt.Sprint(len(r.Objects[typ])))
			}
			return t.Flush()
		})
	},
}

func printNeighbors(out io.Writer, r *agent.Report) error {
	t := cli.NewTable(out, "FAMILY", "INTF", "IP", "MAC", "PORT", "STATE", "MISSING")
	for _, fam := range []struct {
		name    string
		entries [][]string
	}{
		{"arp", neighborRows(r.Arp)},
		{"ndp", neighborRows(r.Ndp)},
	} {
		for _, e := range fam.entries {
			t.Row(append([]string{fam.name}, e...)...)
		}
	}
	nh := cli.NewTable(out, "NEXTHOP", "STATE", "OID")
	for _, n := range r.NextHops {
		nh.Row(n.Key.String(), cli.EntryState(false, n.Realized, true), string(n.ID))
	}

	if t.Rows() == 0 && nh.Rows() == 0 {
		fmt.Fprintln(out, "No neighbors")
		return nil
	}
	if err := t.Flush(); err != nil {
		return err
	}
	if t.Rows() > 0 && nh.Rows() > 0 {
		fmt.Fprintln(out)
	}
	return nh.Flush()
}
