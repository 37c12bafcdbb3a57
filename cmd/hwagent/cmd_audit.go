package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/newtron-network/hwagent/pkg/audit"
	"github.com/newtron-network/hwagent/pkg/cli"
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "View the audit log",
	Long: `View the audit log of delta applications.

Every applied, warm-booted or learned delta is logged with:
  - Timestamp
  - Switch and user
  - Changes made, and how many were reverted on failure
  - Success/failure status

Examples:
  hwagent audit list --last 24h
  hwagent audit list --operation l2-learning
  hwagent audit list --failures`,
}

var (
	auditSwitch    string
	auditOperation string
	auditDelta     string
	auditLast      string
	auditLimit     int
	auditFailures  bool
	auditChanges   bool
)

var auditListCmd = &cobra.Command{
	Use:   "list",
	Short: "List audit events",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.Audit.Path == "" {
			return errors.New("no audit log configured (audit.path)")
		}
		filter := audit.Filter{
			Switch:      auditSwitch,
			Operation:   audit.Operation(auditOperation),
			Delta:       auditDelta,
			Limit:       auditLimit,
			FailureOnly: auditFailures,
		}
		if auditLast != "" {
			d, err := time.ParseDuration(auditLast)
			if err != nil {
				return fmt.Errorf("invalid duration: %s", auditLast)
			}
			filter.StartTime = time.Now().Add(-d)
		}

		logger, err := audit.NewFileLogger(cfg.Audit.Path, audit.RotationConfig{})
		if err != nil {
			return err
		}
		defer logger.Close()

		events, err := logger.Query(filter)
		if err != nil {
			return fmt.Errorf("querying audit log: %w", err)
		}

		out := cmd.OutOrStdout()
		if jsonOutput {
			return writeJSON(out, events)
		}
		if len(events) == 0 {
			fmt.Fprintln(out, "No audit events found")
			return nil
		}

		t := cli.NewTable(out, "TIMESTAMP", "USER", "OPERATION", "DELTA", "CHANGES", "STATUS", "ERROR")
		for _, e := range events {
			changes := fmt.Sprint(len(e.Changes))
			if e.Reverted > 0 {
				changes += fmt.Sprintf(" (%d reverted)", e.Reverted)
			}
			t.Row(
				e.Timestamp.Format("2006-01-02 15:04:05"),
				e.User,
				string(e.Operation),
				e.Delta,
				changes,
				cli.Outcome(e.Success),
				e.Error,
			)
			if auditChanges {
				for _, c := range e.Changes {
					t.Row("", "", "", "", cli.Dim(c))
				}
			}
		}
		return t.Flush()
	},
}

func init() {
	auditListCmd.Flags().StringVar(&auditSwitch, "switch", "", "Filter by switch ID")
	auditListCmd.Flags().StringVar(&auditOperation, "operation", "", "Filter by operation (apply, warmboot, l2-learning)")
	auditListCmd.Flags().StringVar(&auditDelta, "delta", "", "Filter by delta name")
	auditListCmd.Flags().StringVar(&auditLast, "last", "", "Show events from last duration (e.g., 24h)")
	auditListCmd.Flags().IntVar(&auditLimit, "limit", 100, "Maximum events to show")
	auditListCmd.Flags().BoolVar(&auditFailures, "failures", false, "Show only failed deltas")
	auditListCmd.Flags().BoolVar(&auditChanges, "changes", false, "Show each change")

	auditCmd.AddCommand(auditListCmd)
}
