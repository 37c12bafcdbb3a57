// hwagent - switch hardware agent
//
// Programs router interfaces, MAC entries, neighbors and next hops into a
// switch from state deltas, following the dependencies between them and
// the oper status of the links neighbors sit behind.
//
// Backends:
//
//	sim     in-memory hardware, links driven by the deltas themselves
//	asicdb  SONiC ASIC_DB over Redis, links read from STATE_DB
//
// Examples:
//
//	hwagent apply bring-up.yaml          # warm boot from the state file, apply
//	hwagent serve                        # apply files dropped into the spool
//	hwagent show objects                 # hardware objects as the backend lists them
//	hwagent audit list --failures
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/newtron-network/hwagent/pkg/cli"
	"github.com/newtron-network/hwagent/pkg/config"
	"github.com/newtron-network/hwagent/pkg/util"
	"github.com/newtron-network/hwagent/pkg/version"
)

var (
	configPath string
	verbose    bool
	jsonOutput bool
	noColor    bool

	cfg *config.Config
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:               "hwagent",
	Short:             "Switch hardware agent",
	SilenceUsage:      true,
	SilenceErrors:     true,
	CompletionOptions: cobra.CompletionOptions{HiddenDefaultCmd: true},
	Long: `hwagent programs switch hardware from state deltas.

A delta adds, changes or removes interfaces, MAC entries, neighbors and next
hops, and reports link transitions. Every delta is applied atomically: on the
first hardware failure the changes already made are reverted.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if skipSetup(cmd) {
			return nil
		}
		if noColor {
			cli.SetColor(false)
		}

		var err error
		if configPath == "" {
			configPath = config.DefaultPath()
		}
		cfg, err = config.LoadFrom(configPath)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}

		level := cfg.Log.Level
		if verbose {
			level = "debug"
		}
		return util.Configure(level, cfg.Log.Format)
	},
}

func skipSetup(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		switch c.Name() {
		case "help", "version", "completion":
			return true
		}
	}
	return false
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Configuration file (default $HWAGENT_CONFIG or /etc/hwagent/hwagent.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Debug logging")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")

	for _, cmd := range []*cobra.Command{showCmd, auditCmd} {
		cmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "JSON output")
	}

	rootCmd.AddGroup(
		&cobra.Group{ID: "agent", Title: "Agent Operations:"},
		&cobra.Group{ID: "query", Title: "Inspection:"},
		&cobra.Group{ID: "meta", Title: "Meta:"},
	)
	for _, cmd := range []*cobra.Command{serveCmd, applyCmd, warmBootCmd} {
		cmd.GroupID = "agent"
		rootCmd.AddCommand(cmd)
	}
	for _, cmd := range []*cobra.Command{showCmd, auditCmd} {
		cmd.GroupID = "query"
		rootCmd.AddCommand(cmd)
	}
	versionCmd.GroupID = "meta"
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		if version.Version == "dev" {
			fmt.Fprintln(out, "hwagent dev build (use 'make build' for version info)")
			return
		}
		fmt.Fprintf(out, "hwagent %s\n", version.Info())
	},
}
