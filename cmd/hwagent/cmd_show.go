package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/newtron-network/hwagent/pkg/agent"
	"github.com/newtron-network/hwagent/pkg/cli"
	"github.com/newtron-network/hwagent/pkg/hw"
	"github.com/newtron-network/hwagent/pkg/linkstate"
	"github.com/newtron-network/hwagent/pkg/neighbor"
	"github.com/newtron-network/hwagent/pkg/state"
	"github.com/newtron-network/hwagent/pkg/util"
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Inspect hardware, saved state and links",
	Long: `Read-only views. Nothing is programmed or removed.

  hwagent show objects [TYPE]   objects the backend holds
  hwagent show state            the saved state file
  hwagent show links            oper status of the ports neighbors use`,
}

var showObjectsCmd = &cobra.Command{
	Use:   "objects [TYPE,...]",
	Short: "List hardware objects",
	Long: `List the objects the backend holds. TYPE is a comma-separated list of rif,
fdb, neighbor and nexthop; all four by default.

The sim backend starts empty on every run.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		types := agent.ObjectTypes
		if len(args) == 1 {
			types = nil
			for _, name := range util.SplitCommaSeparated(args[0]) {
				t, err := hw.ParseObjectType(name)
				if err != nil {
					return err
				}
				types = append(types, t)
			}
		}

		b, err := openBackend(cfg)
		if err != nil {
			return err
		}
		defer b.Close()

		var all []hw.Object
		for _, t := range types {
			objs, err := b.api.List(t)
			if err != nil {
				return fmt.Errorf("listing %s: %w", t.Short(), err)
			}
			all = append(all, objs...)
		}

		out := cmd.OutOrStdout()
		if jsonOutput {
			return writeJSON(out, all)
		}
		if len(all) == 0 {
			fmt.Fprintln(out, "No objects")
			return nil
		}
		t := cli.NewTable(out, "TYPE", "ID", "ATTRIBUTES")
		for _, o := range all {
			t.Row(o.Type.Short(), string(o.ID), formatAttributes(o.Attributes))
		}
		return t.Flush()
	},
}

var showStateCmd = &cobra.Command{
	Use:   "state",
	Short: "Show the saved state",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := state.LoadState(cfg.StateFile)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if jsonOutput {
			return writeJSON(out, s.Delta(cfg.StateFile))
		}
		return printState(out, s)
	},
}

// linkStatus is one row of show links.
type linkStatus struct {
	Name      string `json:"name"`
	Aggregate bool   `json:"aggregate"`
	Eligible  bool   `json:"eligible"`
}

var showLinksCmd = &cobra.Command{
	Use:   "links",
	Short: "Show link eligibility of the ports in the saved state",
	Long: `Show whether each port used by a saved neighbor, and each configured
aggregate, is eligible to carry neighbors. The sim backend has no link
history, so every port reads down.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := state.LoadState(cfg.StateFile)
		if err != nil {
			return err
		}
		b, err := openBackend(cfg)
		if err != nil {
			return err
		}
		defer b.Close()

		names := s.Ports()
		for _, l := range cfg.Lags {
			names = append(names, l.Name)
		}
		links := collectLinks(b.links, names)

		out := cmd.OutOrStdout()
		if jsonOutput {
			return writeJSON(out, links)
		}
		if len(links) == 0 {
			fmt.Fprintln(out, "No ports")
			return nil
		}
		t := cli.NewTable(out, "PORT", "KIND", "STATUS")
		for _, l := range links {
			kind := "port"
			if l.Aggregate {
				kind = "lag"
			}
			t.Row(l.Name, kind, cli.LinkState(l.Eligible))
		}
		return t.Flush()
	},
}

func init() {
	showCmd.AddCommand(showObjectsCmd, showStateCmd, showLinksCmd)
}

func collectLinks(src linkstate.Source, names []string) []linkStatus {
	seen := make(map[string]bool)
	var links []linkStatus
	for _, n := range names {
		if seen[n] {
			continue
		}
		seen[n] = true
		port, err := state.ParsePortDescriptor(n)
		if err != nil {
			continue
		}
		links = append(links, linkStatus{
			Name:      port.Name,
			Aggregate: port.IsAggregate(),
			Eligible:  linkstate.Eligible(src, port),
		})
	}
	sort.Slice(links, func(i, j int) bool { return links[i].Name < links[j].Name })
	return links
}

func printState(out io.Writer, s *state.State) error {
	if s.Len() == 0 {
		fmt.Fprintln(out, "No saved state")
		return nil
	}
	d := s.Delta("")

	intfs := cli.NewTable(out, "INTERFACE", "MAC", "MTU")
	for _, c := range d.Interfaces {
		i := c.New
		intfs.Row(fmt.Sprint(i.ID), i.MAC, fmt.Sprint(i.MTU))
	}
	macs := cli.NewTable(out, "INTF", "MAC", "PORT", "TYPE")
	for _, c := range d.MacEntries {
		m := c.New
		macs.Row(fmt.Sprint(m.InterfaceID), m.MAC, m.Port.String(), m.Type.String())
	}
	neighbors := cli.NewTable(out, "FAMILY", "INTF", "IP", "MAC", "PORT")
	for _, c := range d.Arp {
		neighbors.Row("arp", fmt.Sprint(c.New.InterfaceID), c.New.IP.String(), orPending(c.New.MAC), c.New.Port.String())
	}
	for _, c := range d.Ndp {
		neighbors.Row("ndp", fmt.Sprint(c.New.InterfaceID), c.New.IP.String(), orPending(c.New.MAC), c.New.Port.String())
	}
	nexthops := cli.NewTable(out, "NEXTHOP")
	for _, c := range d.NextHops {
		nexthops.Row(c.New.Key().String())
	}

	first := true
	for _, t := range []*cli.Table{intfs, macs, neighbors, nexthops} {
		if t.Rows() == 0 {
			continue
		}
		if !first {
			fmt.Fprintln(out)
		}
		first = false
		if err := t.Flush(); err != nil {
			return err
		}
	}
	return nil
}

func neighborRows(entries []neighbor.Status) [][]string {
	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, []string{
			fmt.Sprint(e.Key.InterfaceID),
			e.Key.IP.String(),
			orPending(e.Attrs.MAC),
			e.Attrs.Port.String(),
			cli.EntryState(e.Pending, e.Realized, e.Resolved),
			strings.Join(e.Missing, ","),
		})
	}
	return rows
}

func orPending(mac string) string {
	if mac == "" {
		return cli.Dim("(pending)")
	}
	return mac
}

func formatAttributes(attrs hw.Attributes) string {
	parts := make([]string, 0, len(attrs))
	for _, name := range attrs.Names() {
		parts = append(parts, fmt.Sprintf("%s=%s", strings.TrimPrefix(name, "SAI_"), attrs[name]))
	}
	return strings.Join(parts, " ")
}

func writeJSON(out io.Writer, v interface{}) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
