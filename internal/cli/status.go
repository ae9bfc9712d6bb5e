package cli

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/oremus-labs/ol-ops-console/internal/client"
	"github.com/oremus-labs/ol-ops-console/internal/platform"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// StatusReport aggregates backend health with a summary of the platform.
type StatusReport struct {
	Server           string            `json:"server"`
	Context          string            `json:"context"`
	Health           *platform.Health  `json:"health,omitempty"`
	Jobs             int               `json:"jobs"`
	PausedJobs       int               `json:"pausedJobs"`
	FlowGroups       int               `json:"flowGroups"`
	PendingApprovals int               `json:"pendingApprovals"`
	Agents           map[string]int    `json:"agents"`
	Connectors       map[string]int    `json:"connectors"`
	Errors           map[string]string `json:"errors,omitempty"`
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show backend health and a platform summary",
	Run: func(cmd *cobra.Command, args []string) {
		c, cliCtx, err := mustClient()
		if err != nil {
			exitWithError(cmd, err)
			return
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
		defer cancel()

		report := collectStatus(ctx, c, time.Now())
		report.Server = c.BaseURL
		report.Context = cliCtx.Name

		handled, err := writeOutput(cmd, report)
		if err != nil {
			exitWithError(cmd, err)
			return
		}
		if !handled {
			printStatus(cmd.OutOrStdout(), report)
		}
		// An unreachable backend fails the command in every output format.
		if report.Health == nil {
			exitWithError(cmd, fmt.Errorf("backend unreachable: %s", report.Errors["health"]))
		}
	},
}

// collectStatus queries every section concurrently. A failed section is
// recorded in Errors and does not hide the others.
func collectStatus(ctx context.Context, c *client.Client, now time.Time) *StatusReport {
	report := &StatusReport{
		Agents:     map[string]int{},
		Connectors: map[string]int{},
		Errors:     map[string]string{},
	}
	var (
		health     *platform.Health
		jobs       []platform.Job
		approvals  []platform.Approval
		agents     []platform.Agent
		connectors []platform.Connector
		errs       = make([]error, 5)
	)
	var g errgroup.Group
	g.Go(func() error {
		health, errs[0] = c.Health(ctx)
		return nil
	})
	g.Go(func() error {
		jobs, errs[1] = c.ListJobs(ctx)
		return nil
	})
	g.Go(func() error {
		approvals, errs[2] = c.ListApprovals(ctx, platform.ApprovalPending)
		return nil
	})
	g.Go(func() error {
		agents, errs[3] = c.ListAgents(ctx)
		return nil
	})
	g.Go(func() error {
		connectors, errs[4] = c.ListConnectors(ctx)
		return nil
	})
	_ = g.Wait()

	for i, name := range []string{"health", "jobs", "approvals", "agents", "connectors"} {
		if errs[i] != nil {
			report.Errors[name] = errs[i].Error()
		}
	}
	report.Health = health
	report.Jobs = len(jobs)
	for _, job := range jobs {
		if !job.Enabled {
			report.PausedJobs++
		}
	}
	report.FlowGroups = len(platform.GroupByFlow(jobs))
	for _, a := range approvals {
		if strings.EqualFold(a.Status, platform.ApprovalPending) || a.Status == "" {
			report.PendingApprovals++
		}
	}
	for _, agent := range agents {
		report.Agents[platform.AgentVitals(agent, now).Mood]++
	}
	for _, conn := range connectors {
		report.Connectors[strings.ToLower(valueOrDash(conn.Status))]++
	}
	if len(report.Errors) == 0 {
		report.Errors = nil
	}
	return report
}

func printStatus(w io.Writer, r *StatusReport) {
	tw := newTable(w)
	fmt.Fprintf(tw, "Field\tValue\n")
	fmt.Fprintf(tw, "Context\t%s\n", r.Context)
	fmt.Fprintf(tw, "Server\t%s\n", r.Server)
	if r.Health != nil {
		fmt.Fprintf(tw, "Health\t%s\n", valueOrDash(r.Health.Status))
		fmt.Fprintf(tw, "Version\t%s\n", valueOrDash(r.Health.Version))
		for _, name := range sortedKeys(r.Health.Checks) {
			fmt.Fprintf(tw, "  %s\t%s\n", name, r.Health.Checks[name])
		}
	} else {
		fmt.Fprintf(tw, "Health\tunreachable\n")
	}
	fmt.Fprintf(tw, "Jobs\t%d (%d paused, %d flow groups)\n", r.Jobs, r.PausedJobs, r.FlowGroups)
	fmt.Fprintf(tw, "Pending Approvals\t%d\n", r.PendingApprovals)
	fmt.Fprintf(tw, "Agents\t%s\n", formatCounts(r.Agents))
	fmt.Fprintf(tw, "Connectors\t%s\n", formatCounts(r.Connectors))
	for _, name := range sortedKeys(r.Errors) {
		fmt.Fprintf(tw, "Error (%s)\t%s\n", name, r.Errors[name])
	}
	flushTable(tw)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func formatCounts(counts map[string]int) string {
	if len(counts) == 0 {
		return "-"
	}
	parts := make([]string, 0, len(counts))
	for _, k := range sortedKeys(counts) {
		parts = append(parts, fmt.Sprintf("%d %s", counts[k], k))
	}
	return strings.Join(parts, ", ")
}
