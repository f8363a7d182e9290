package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/blackwell-systems/deploygate/internal/config"
)

var (
	configPath   string
	auditLogPath string
	verbose      bool

	// RootCmd is the root command for deploygate
	RootCmd = &cobra.Command{
		Use:   "deploygate",
		Short: "Safety-gated software deployments for Configuration Manager",
		Long: `deploygate validates and creates Configuration Manager deployments of
applications and software update groups to collections.

Every deployment passes five safety checks before it can be created:
  1. Deployable exists
  2. Content is fully distributed (applications)
  3. Collection is valid
  4. Collection is not a built-in system collection (SMS000*)
  5. No existing deployment to the same collection (applications)

Every attempt, successful or not, is appended to a JSON-lines audit log.

Examples:
  # Run the safety checks only
  deploygate validate "Google Chrome" --collection "Pilot Ring"

  # Deploy using a saved template
  deploygate deploy "Google Chrome" --collection "Pilot Ring" --template Pilot

  # Deploy a software update group as Required with a 48h deadline
  deploygate deploy "Patch Tuesday 2026-10" --update-group \
      --collection "Servers - Wave 1" --purpose required --deadline-in 48h

  # Show recent deployments
  deploygate history --limit 20`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "deploygate: safety-gated Configuration Manager deployments")
			fmt.Fprintln(out)
			if path, err := config.DefaultPath(); err == nil {
				if _, err := os.Stat(path); os.IsNotExist(err) && configPath == "" {
					fmt.Fprintf(out, "No config found at %s; using the catalog provider defaults.\n", path)
					fmt.Fprintln(out, "Run 'deploygate doctor' to check your setup.")
					return nil
				}
			}
			fmt.Fprintln(out, "Tip: Run 'deploygate validate <name> --collection <collection>' to check a deployment.")
			fmt.Fprintln(out, "     Run 'deploygate --help' for all commands.")
			return nil
		},
	}
)

func init() {
	// Global flags
	RootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default: $XDG_CONFIG_HOME/deploygate/config.yaml)")
	RootCmd.PersistentFlags().StringVar(&auditLogPath, "audit-log", "", "audit log path (overrides audit_log from the config)")
	RootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging on stderr")

	// Enable cobra's built-in suggestion feature for unknown subcommands
	RootCmd.SuggestionsMinimumDistance = 2
}

// Execute runs the root command. An interrupt cancels lookups and checks
// in flight but never a deployment creation already issued.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	return RootCmd.ExecuteContext(ctx)
}
