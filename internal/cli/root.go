// Package cli implements opsctl, the terminal ops console for the automation
// platform.
package cli

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oremus-labs/ol-ops-console/config"
	"github.com/oremus-labs/ol-ops-console/internal/client"
	"github.com/oremus-labs/ol-ops-console/internal/logutil"
	"github.com/spf13/cobra"
)

var (
	cfgFile       string
	contextName   string
	overrideURL   string
	overrideToken string
	outputFormat  string
	logLevel      string

	appConfig *Config

	// failed is set by exitWithError so Execute can report a non-zero exit.
	failed bool
)

const requestTimeout = 15 * time.Second

var errCommandFailed = errors.New("command failed")

// Execute runs the CLI.
func Execute() error {
	rootCmd.SilenceUsage = true
	rootCmd.SilenceErrors = true
	if err := rootCmd.Execute(); err != nil {
		printErrorLine("Error: %v", err)
		return err
	}
	if failed {
		return errCommandFailed
	}
	return nil
}

var rootCmd = &cobra.Command{
	Use:   "opsctl",
	Short: "Operate the automation platform from the terminal",
	Long: `opsctl is the ops console for the automation platform: it tails the live
event feed and manages jobs, runs, connectors, approvals and agents.
Most commands require a configured context (see 'opsctl config set-context').`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if !logutil.SetLevel(logLevel) {
			return fmt.Errorf("unknown --log-level %q", logLevel)
		}
		// Config commands load/save the file manually.
		if strings.HasPrefix(cmd.CommandPath(), "opsctl config") {
			return nil
		}
		if appConfig == nil {
			var err error
			appConfig, err = LoadConfig(cfgFile)
			if err != nil {
				return err
			}
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", defaultConfigPath(), "Path to the opsctl config file")
	rootCmd.PersistentFlags().StringVar(&contextName, "context", "", "Context name to use (overrides current)")
	rootCmd.PersistentFlags().StringVar(&overrideURL, "server", "", "Override API server URL")
	rootCmd.PersistentFlags().StringVar(&overrideToken, "token", "", "Override API token")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "error", "Diagnostic log level written to stderr: debug|info|warn|error")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "table", "Output format: table|json")

	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(eventsCmd)
	rootCmd.AddCommand(jobsCmd)
	rootCmd.AddCommand(runsCmd)
	rootCmd.AddCommand(connectorsCmd)
	rootCmd.AddCommand(approvalsCmd)
	rootCmd.AddCommand(agentsCmd)
	rootCmd.AddCommand(configCmd)
}

// resolvedContext merges config state with flag overrides.
func resolvedContext() (*Context, error) {
	if appConfig == nil {
		return nil, fmt.Errorf("configuration not loaded")
	}
	return appConfig.Resolve(contextName, overrideURL, overrideToken)
}

// feedConfig turns a context into the injected feed configuration.
func feedConfig(ctx *Context) config.Feed {
	return config.Feed{
		APIBase:         ctx.Server,
		APIToken:        ctx.Token,
		RefreshInterval: ctx.Interval(),
	}.Normalized()
}

func mustClient() (*client.Client, *Context, error) {
	ctx, err := resolvedContext()
	if err != nil {
		return nil, nil, err
	}
	fc := feedConfig(ctx)
	return client.New(fc.APIBase, fc.APIToken, requestTimeout), ctx, nil
}

func writeOutput(cmd *cobra.Command, data interface{}) (bool, error) {
	switch strings.ToLower(outputFormat) {
	case "json":
		return true, printJSON(cmd.OutOrStdout(), data)
	case "table", "":
		// Table is handled by the caller.
		return false, nil
	default:
		return false, fmt.Errorf("unsupported output format %q", outputFormat)
	}
}

func exitWithError(cmd *cobra.Command, err error) {
	cmd.SilenceUsage = true
	failed = true
	fmt.Fprintf(cmd.ErrOrStderr(), "Error: %v\n", err)
}
