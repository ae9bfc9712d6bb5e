package cli

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage CLI configuration",
}

var configSetContextCmd = &cobra.Command{
	Use:   "set-context <name>",
	Short: "Create or update a context",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		name := args[0]
		server, _ := cmd.Flags().GetString("server")
		token, _ := cmd.Flags().GetString("token")
		refresh, _ := cmd.Flags().GetDuration("refresh-interval")
		makeCurrent, _ := cmd.Flags().GetBool("current")

		cfg, err := LoadConfig(cfgFile)
		if err != nil {
			exitWithError(cmd, err)
			return
		}
		ctx, exists := cfg.Contexts[name]
		ctx.Name = name
		if server != "" {
			ctx.Server = server
		}
		if cmd.Flags().Changed("token") {
			ctx.Token = token
		}
		if refresh > 0 {
			ctx.RefreshInterval = refresh.String()
		}
		if ctx.Server == "" {
			exitWithError(cmd, fmt.Errorf("--server is required"))
			return
		}
		setContext(cfg, ctx, makeCurrent)
		if err := SaveConfig(cfg, cfgFile); err != nil {
			exitWithError(cmd, err)
			return
		}
		verb := "created"
		if exists {
			verb = "updated"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Context %q %s.\n", name, verb)
	},
}

var configUseContextCmd = &cobra.Command{
	Use:   "use-context <name>",
	Short: "Switch the current context",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := LoadConfig(cfgFile)
		if err != nil {
			exitWithError(cmd, err)
			return
		}
		if err := ensureContextExists(cfg, args[0]); err != nil {
			exitWithError(cmd, err)
			return
		}
		cfg.CurrentContext = args[0]
		if err := SaveConfig(cfg, cfgFile); err != nil {
			exitWithError(cmd, err)
			return
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Switched to context %q.\n", args[0])
	},
}

var configViewCmd = &cobra.Command{
	Use:   "view",
	Short: "Show the configured contexts",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := LoadConfig(cfgFile)
		if err != nil {
			exitWithError(cmd, err)
			return
		}
		redacted := redactTokens(cfg)
		if handled, err := writeOutput(cmd, redacted); handled || err != nil {
			if err != nil {
				exitWithError(cmd, err)
			}
			return
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Config file: %s\n", cfgFile)
		names := make([]string, 0, len(cfg.Contexts))
		for name := range cfg.Contexts {
			names = append(names, name)
		}
		sort.Strings(names)
		tw := newTable(cmd.OutOrStdout())
		fmt.Fprintf(tw, "CURRENT\tNAME\tSERVER\tREFRESH\n")
		for _, name := range names {
			ctx := cfg.Contexts[name]
			current := ""
			if cfg.CurrentContext == name {
				current = "*"
			}
			refresh := "default"
			if d := ctx.Interval(); d > 0 {
				refresh = d.String()
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", current, name, ctx.Server, refresh)
		}
		flushTable(tw)
	},
}

// redactTokens returns a copy of cfg safe to print.
func redactTokens(cfg *Config) *Config {
	out := &Config{CurrentContext: cfg.CurrentContext, Contexts: map[string]Context{}}
	for name, ctx := range cfg.Contexts {
		if ctx.Token != "" {
			ctx.Token = "********"
		}
		out.Contexts[name] = ctx
	}
	return out
}

func init() {
	configSetContextCmd.Flags().String("server", "", "API server URL")
	configSetContextCmd.Flags().String("token", "", "API token")
	configSetContextCmd.Flags().Duration("refresh-interval", 0, "Polling interval while the live feed is down (default 10s)")
	configSetContextCmd.Flags().Bool("current", true, "Set as current context")
	configCmd.AddCommand(configSetContextCmd)
	configCmd.AddCommand(configUseContextCmd)
	configCmd.AddCommand(configViewCmd)
}
