package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/oremus-labs/ol-ops-console/internal/jobspec"
	"github.com/oremus-labs/ol-ops-console/internal/platform"
	"github.com/spf13/cobra"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Manage scheduled jobs",
}

var (
	jobsGroup     bool
	jobsFile      string
	jobsDryRun    bool
	jobsAssumeYes bool
)

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List jobs",
	Run: func(cmd *cobra.Command, args []string) {
		client, _, err := mustClient()
		if err != nil {
			exitWithError(cmd, err)
			return
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
		defer cancel()
		jobs, err := client.ListJobs(ctx)
		if err != nil {
			exitWithError(cmd, err)
			return
		}
		if jobsGroup {
			groups := platform.GroupByFlow(jobs)
			if handled, err := writeOutput(cmd, groups); handled || err != nil {
				if err != nil {
					exitWithError(cmd, err)
				}
				return
			}
			printJobGroups(cmd.OutOrStdout(), groups)
			return
		}
		if handled, err := writeOutput(cmd, jobs); handled || err != nil {
			if err != nil {
				exitWithError(cmd, err)
			}
			return
		}
		sort.SliceStable(jobs, func(i, j int) bool {
			return strings.ToLower(jobs[i].Name) < strings.ToLower(jobs[j].Name)
		})
		tw := newTable(cmd.OutOrStdout())
		fmt.Fprintf(tw, "ID\tNAME\tSCHEDULE\tFLOW\tSTATUS\tLAST RUN\tNEXT RUN\n")
		for _, job := range jobs {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
				shortID(job.ID),
				job.Name,
				valueOrDash(job.Schedule),
				valueOrDash(job.FlowGroup),
				jobState(job),
				relativeTime(job.LastRunAt),
				relativeTime(job.NextRunAt))
		}
		flushTable(tw)
	},
}

func printJobGroups(w io.Writer, groups []platform.FlowGroup) {
	tw := newTable(w)
	for i, group := range groups {
		if i > 0 {
			fmt.Fprintf(tw, "\t\t\t\n")
		}
		fmt.Fprintf(tw, "%s (%d)\t\t\t\n", group.Name, len(group.Jobs))
		for _, job := range group.Jobs {
			fmt.Fprintf(tw, "  %s\t%s\t%s\t%s\n", job.Name, shortID(job.ID), valueOrDash(job.Schedule), jobState(job))
		}
	}
	flushTable(tw)
}

func jobState(job platform.Job) string {
	if !job.Enabled {
		return "paused"
	}
	return valueOrDash(job.Status)
}

var jobsGetCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Show a job",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		client, _, err := mustClient()
		if err != nil {
			exitWithError(cmd, err)
			return
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
		defer cancel()
		job, err := client.GetJob(ctx, args[0])
		if err != nil {
			exitWithError(cmd, err)
			return
		}
		if handled, err := writeOutput(cmd, job); handled || err != nil {
			if err != nil {
				exitWithError(cmd, err)
			}
			return
		}
		printJob(cmd.OutOrStdout(), job)
	},
}

func printJob(w io.Writer, job *platform.Job) {
	tw := newTable(w)
	fmt.Fprintf(tw, "Field\tValue\n")
	fmt.Fprintf(tw, "ID\t%s\n", job.ID)
	fmt.Fprintf(tw, "Name\t%s\n", job.Name)
	fmt.Fprintf(tw, "Schedule\t%s\n", valueOrDash(job.Schedule))
	fmt.Fprintf(tw, "Flow Group\t%s\n", valueOrDash(job.FlowGroup))
	fmt.Fprintf(tw, "Enabled\t%t\n", job.Enabled)
	fmt.Fprintf(tw, "Status\t%s\n", valueOrDash(job.Status))
	fmt.Fprintf(tw, "Last Run\t%s\n", relativeTime(job.LastRunAt))
	fmt.Fprintf(tw, "Next Run\t%s\n", relativeTime(job.NextRunAt))
	flushTable(tw)
}

var jobsCreateCmd = &cobra.Command{
	Use:   "create -f <file>",
	Short: "Validate and create a job from a YAML or JSON definition",
	Run: func(cmd *cobra.Command, args []string) {
		if jobsFile == "" {
			exitWithError(cmd, fmt.Errorf("-f is required"))
			return
		}
		payload, err := readDefinition(cmd.InOrStdin(), jobsFile)
		if err != nil {
			exitWithError(cmd, err)
			return
		}
		client, _, err := mustClient()
		if err != nil {
			exitWithError(cmd, err)
			return
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
		defer cancel()

		var known []string
		connectors, err := client.ListConnectors(ctx)
		if err != nil {
			printErrorLine("warning: could not load connectors: %v", err)
		}
		for _, c := range connectors {
			known = append(known, c.Name, c.ID)
		}
		result := jobspec.New(jobspec.Options{KnownConnectors: known}).Validate(payload)

		if !result.Valid || jobsDryRun {
			if handled, err := writeOutput(cmd, result); handled || err != nil {
				if err != nil {
					exitWithError(cmd, err)
				}
			} else {
				printValidation(cmd.OutOrStdout(), result)
			}
			if !result.Valid {
				exitWithError(cmd, fmt.Errorf("job definition is invalid"))
			}
			return
		}

		job, err := client.CreateJob(ctx, *result.Definition)
		if err != nil {
			exitWithError(cmd, err)
			return
		}
		if handled, err := writeOutput(cmd, job); handled || err != nil {
			if err != nil {
				exitWithError(cmd, err)
			}
			return
		}
		for _, check := range result.Checks {
			if check.Status == jobspec.StatusWarn {
				printErrorLine("warning: %s: %s", check.Name, check.Message)
			}
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Job %q created (%s).\n", job.Name, job.ID)
	},
}

func readDefinition(stdin io.Reader, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(stdin)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read definition: %w", err)
	}
	return data, nil
}

func printValidation(w io.Writer, result jobspec.Result) {
	for _, msg := range result.Errors {
		fmt.Fprintf(w, "error: %s\n", msg)
	}
	if len(result.Checks) > 0 {
		tw := newTable(w)
		fmt.Fprintf(tw, "CHECK\tSTATUS\tMESSAGE\n")
		for _, check := range result.Checks {
			fmt.Fprintf(tw, "%s\t%s\t%s\n", check.Name, check.Status, check.Message)
		}
		flushTable(tw)
	}
	if result.Valid {
		fmt.Fprintln(w, "Definition is valid.")
	}
}

func jobToggleCmd(use, short string, enabled bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			if !enabled && !jobsAssumeYes {
				ok, err := confirmPrompt(fmt.Sprintf("Pause job %s? [y/N]: ", args[0]), cmd.InOrStdin(), cmd.OutOrStdout())
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
			job, err := client.SetJobEnabled(ctx, args[0], enabled)
			if err != nil {
				exitWithError(cmd, err)
				return
			}
			if handled, err := writeOutput(cmd, job); handled || err != nil {
				if err != nil {
					exitWithError(cmd, err)
				}
				return
			}
			state := "resumed"
			if !enabled {
				state = "paused"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Job %q %s.\n", valueOrDash(job.Name), state)
		},
	}
}

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect job runs",
}

var runsListCmd = &cobra.Command{
	Use:   "list <job-id>",
	Short: "List the runs of a job",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		client, _, err := mustClient()
		if err != nil {
			exitWithError(cmd, err)
			return
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
		defer cancel()
		runs, err := client.ListRuns(ctx, args[0])
		if err != nil {
			exitWithError(cmd, err)
			return
		}
		if handled, err := writeOutput(cmd, runs); handled || err != nil {
			if err != nil {
				exitWithError(cmd, err)
			}
			return
		}
		printRuns(cmd.OutOrStdout(), runs)
	},
}

func printRuns(w io.Writer, runs []platform.Run) {
	tw := newTable(w)
	fmt.Fprintf(tw, "ID\tSTATUS\tSTARTED\tDURATION\tERROR\n")
	for _, run := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			shortID(run.ID),
			valueOrDash(run.Status),
			relativeTime(run.StartedAt),
			humanDuration(run.Duration(time.Now())),
			valueOrDash(run.Error))
	}
	flushTable(tw)

	summary := platform.SummarizeRuns(runs)
	statuses := make([]string, 0, len(summary))
	for status := range summary {
		statuses = append(statuses, status)
	}
	sort.Strings(statuses)
	parts := make([]string, 0, len(statuses))
	for _, status := range statuses {
		parts = append(parts, fmt.Sprintf("%s=%d", status, summary[status]))
	}
	fmt.Fprintf(w, "\n%d runs: %s\n", len(runs), strings.Join(parts, " "))
}

func init() {
	jobsListCmd.Flags().BoolVar(&jobsGroup, "group", false, "Group jobs by flow group")
	jobsCreateCmd.Flags().StringVarP(&jobsFile, "file", "f", "", "Job definition file (YAML or JSON, - for stdin)")
	jobsCreateCmd.Flags().BoolVar(&jobsDryRun, "dry-run", false, "Validate only")
	jobsDisableCmd := jobToggleCmd("disable", "Pause a job", false)
	jobsDisableCmd.Flags().BoolVarP(&jobsAssumeYes, "yes", "y", false, "Skip confirmation")
	jobsCmd.AddCommand(jobsListCmd)
	jobsCmd.AddCommand(jobsGetCmd)
	jobsCmd.AddCommand(jobsCreateCmd)
	jobsCmd.AddCommand(jobToggleCmd("enable", "Resume a job", true))
	jobsCmd.AddCommand(jobsDisableCmd)
	runsCmd.AddCommand(runsListCmd)
}
