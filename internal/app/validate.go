package app

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/blackwell-systems/deploygate/internal/deploy"
	"github.com/blackwell-systems/deploygate/internal/gate"
	"github.com/blackwell-systems/deploygate/internal/output"
)

var (
	validateCollection  string
	validateUpdateGroup bool
)

var validateCmd = &cobra.Command{
	Use:   "validate <name>",
	Short: "Run the safety checks without deploying",
	Long: `Resolve a deployable and a collection and run every safety check.

Nothing is created and nothing is written to the audit log. The command
exits non-zero when any check fails or is skipped, so it can gate scripts.

Names may be aliases from the [deployables] and [collections] sections of
$XDG_CONFIG_HOME/deploygate/aliases.`,
	Example: `  # Check an application against a collection
  deploygate validate "Google Chrome" --collection "Pilot Ring"

  # Check a software update group
  deploygate validate "Patch Tuesday 2026-10" --update-group --collection "Servers - Wave 1"`,
	Args: cobra.ExactArgs(1),
	RunE: runValidate,
}

func init() {
	validateCmd.Flags().StringVarP(&validateCollection, "collection", "c", "", "target collection name (required)")
	validateCmd.Flags().BoolVar(&validateUpdateGroup, "update-group", false, "the name is a software update group, not an application")
	_ = validateCmd.MarkFlagRequired("collection")

	RootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	s, err := openSession(cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer s.Close()

	report := runGate(cmd, s, gateRequest(s, args[0], validateCollection, validateUpdateGroup))
	fmt.Fprint(cmd.OutOrStdout(), output.RenderReport(report))

	if !report.Passed() {
		return errBlocked
	}
	return nil
}

// gateRequest maps the command line onto a gate request, expanding aliases.
func gateRequest(s *session, name, collection string, updateGroup bool) gate.Request {
	kind := deploy.KindApplication
	if updateGroup {
		kind = deploy.KindUpdateGroup
	}
	return gate.Request{
		DeployableName: s.aliases.Deployable(name),
		Kind:           kind,
		CollectionName: s.aliases.Collection(collection),
	}
}

// runGate runs the safety checks behind a spinner.
func runGate(cmd *cobra.Command, s *session, req gate.Request) *gate.Report {
	spinner := output.NewSpinner(fmt.Sprintf("Checking %q → %q", req.DeployableName, req.CollectionName))
	spinner.SetWriter(cmd.ErrOrStderr())
	spinner.WithTimeout(0).Start()
	start := time.Now()

	report := s.pipeline.Validate(commandContext(cmd), req)

	spinner.Stop()
	s.logger.Debug("safety checks finished", "passed", report.Passed(), "elapsed", time.Since(start))
	return report
}
