package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/oremus-labs/ol-ops-console/internal/platform"
	"github.com/spf13/cobra"
)

var connectorsCmd = &cobra.Command{
	Use:   "connectors",
	Short: "Inspect messaging connectors",
}

var connectorsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List connectors",
	Run: func(cmd *cobra.Command, args []string) {
		client, _, err := mustClient()
		if err != nil {
			exitWithError(cmd, err)
			return
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
		defer cancel()
		connectors, err := client.ListConnectors(ctx)
		if err != nil {
			exitWithError(cmd, err)
			return
		}
		if handled, err := writeOutput(cmd, connectors); handled || err != nil {
			if err != nil {
				exitWithError(cmd, err)
			}
			return
		}
		tw := newTable(cmd.OutOrStdout())
		fmt.Fprintf(tw, "ID\tKIND\tNAME\tSTATUS\tLAST SEEN\n")
		for _, c := range connectors {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", shortID(c.ID), valueOrDash(c.Kind), c.Name, valueOrDash(c.Status), relativeTime(c.LastSeenAt))
		}
		flushTable(tw)
	},
}

var approvalsCmd = &cobra.Command{
	Use:   "approvals",
	Short: "Review human approval gates",
}

var (
	approvalsStatus    string
	approvalsNote      string
	approvalsAssumeYes bool
)

var approvalsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List approvals",
	Run: func(cmd *cobra.Command, args []string) {
		client, _, err := mustClient()
		if err != nil {
			exitWithError(cmd, err)
			return
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
		defer cancel()
		approvals, err := client.ListApprovals(ctx, approvalsStatus)
		if err != nil {
			exitWithError(cmd, err)
			return
		}
		if handled, err := writeOutput(cmd, approvals); handled || err != nil {
			if err != nil {
				exitWithError(cmd, err)
			}
			return
		}
		tw := newTable(cmd.OutOrStdout())
		fmt.Fprintf(tw, "ID\tTITLE\tJOB\tSTATUS\tREQUESTED\n")
		for _, a := range approvals {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", shortID(a.ID), a.Title, valueOrDash(shortID(a.JobID)), a.Status, relativeTime(a.RequestedAt))
		}
		flushTable(tw)
	},
}

func approvalDecisionCmd(use, short string, approve bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			if !approve && !approvalsAssumeYes {
				ok, err := confirmPrompt(fmt.Sprintf("Reject approval %s? [y/N]: ", args[0]), cmd.InOrStdin(), cmd.OutOrStdout())
				if err != nil {
					exitWithError(cmd, err)
					return
				}
				if !ok {
					fmt.Fprintln(cmd.OutOrStdout(), "Aborted.")
					return
				}
			}
			client, _, err := mustClient()
			if err != nil {
				exitWithError(cmd, err)
				return
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()
			approval, err := client.DecideApproval(ctx, args[0], approve, approvalsNote)
			if err != nil {
				exitWithError(cmd, err)
				return
			}
			if handled, err := writeOutput(cmd, approval); handled || err != nil {
				if err != nil {
					exitWithError(cmd, err)
				}
				return
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Approval %s %s.\n", args[0], valueOrDash(approval.Status))
		},
	}
}

var agentsCmd = &cobra.Command{
	Use:   "agents",
	Short: "Inspect registered agents",
}

var agentsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List agents with their vitals",
	Run: func(cmd *cobra.Command, args []string) {
		client, _, err := mustClient()
		if err != nil {
			exitWithError(cmd, err)
			return
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
		defer cancel()
		agents, err := client.ListAgents(ctx)
		if err != nil {
			exitWithError(cmd, err)
			return
		}
		now := time.Now()
		rows := make([]agentRow, 0, len(agents))
		for _, agent := range agents {
			rows = append(rows, agentRow{Agent: agent, Vitals: platform.AgentVitals(agent, now)})
		}
		if handled, err := writeOutput(cmd, rows); handled || err != nil {
			if err != nil {
				exitWithError(cmd, err)
			}
			return
		}
		printAgents(cmd.OutOrStdout(), rows)
	},
}

type agentRow struct {
	platform.Agent
	Vitals platform.Vitals `json:"vitals"`
}

func printAgents(w io.Writer, rows []agentRow) {
	tw := newTable(w)
	fmt.Fprintf(tw, "NAME\tMOOD\tENERGY\tHEARTBEAT\tTASK\n")
	for _, row := range rows {
		heartbeat := "never"
		if row.LastHeartbeatAt != nil {
			heartbeat = humanDuration(row.Vitals.Age) + " ago"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", row.Name, row.Vitals.Mood, energyBar(row.Vitals.Energy), heartbeat, valueOrDash(row.CurrentTask))
	}
	flushTable(tw)
}

// energyBar renders 0-100 as a ten cell gauge.
func energyBar(energy int) string {
	if energy < 0 {
		energy = 0
	}
	if energy > 100 {
		energy = 100
	}
	filled := (energy + 5) / 10
	bar := make([]rune, 10)
	for i := range bar {
		if i < filled {
			bar[i] = '#'
		} else {
			bar[i] = '.'
		}
	}
	return fmt.Sprintf("%s %3d%%", string(bar), energy)
}

func init() {
	approvalsListCmd.Flags().StringVar(&approvalsStatus, "status", platform.ApprovalPending, "Filter by status (empty for all)")
	approveCmd := approvalDecisionCmd("approve", "Approve a pending gate", true)
	rejectCmd := approvalDecisionCmd("reject", "Reject a pending gate", false)
	for _, c := range []*cobra.Command{approveCmd, rejectCmd} {
		c.Flags().StringVar(&approvalsNote, "note", "", "Note recorded with the decision")
	}
	rejectCmd.Flags().BoolVarP(&approvalsAssumeYes, "yes", "y", false, "Skip confirmation")

	connectorsCmd.AddCommand(connectorsListCmd)
	approvalsCmd.AddCommand(approvalsListCmd)
	approvalsCmd.AddCommand(approveCmd)
	approvalsCmd.AddCommand(rejectCmd)
	agentsCmd.AddCommand(agentsListCmd)
}
