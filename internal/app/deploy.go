package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/blackwell-systems/deploygate/internal/deploy"
	"github.com/blackwell-systems/deploygate/internal/output"
	"github.com/blackwell-systems/deploygate/internal/templates"
)

var (
	deployCollection  string
	deployUpdateGroup bool
	deployTemplate    string
	deployPurpose     string
	deployAvailable   string
	deployDeadline    string
	deployDeadlineIn  string
	deployNotify      string
	deployOverrideSW  bool
	deployRebootSW    bool
	deployMetered     bool
	deployComment     string
	deployTicket      string
	deployDryRun      bool
	deployYes         bool
)

var deployCmd = &cobra.Command{
	Use:   "deploy <name>",
	Short: "Validate and create a deployment",
	Long: `Run the safety checks, show a preview and, after confirmation, create
the deployment. The outcome is appended to the audit log whether the
management service accepted the deployment or not.

Settings come from --template when given, then from the flags. Boolean
options given as flags are added to the template's options. A Required
deployment needs a deadline: from the template's default offset, from
--deadline, or from --deadline-in.

The deployment is never created when any safety check fails or is skipped.`,
	Example: `  # Available deployment with defaults, after confirmation
  deploygate deploy "Google Chrome" --collection "Pilot Ring"

  # Required, deadline 48 hours after availability, no prompt
  deploygate deploy "Google Chrome" -c "All Workstations" \
      --purpose required --deadline-in 48h --ticket CHG0042 --yes

  # Preview only
  deploygate deploy "Patch Tuesday 2026-10" --update-group -c "Servers - Wave 1" \
      --template "Emergency Patch" --dry-run`,
	Args: cobra.ExactArgs(1),
	RunE: runDeploy,
}

func init() {
	f := deployCmd.Flags()
	f.StringVarP(&deployCollection, "collection", "c", "", "target collection name (required)")
	f.BoolVar(&deployUpdateGroup, "update-group", false, "the name is a software update group, not an application")
	f.StringVarP(&deployTemplate, "template", "t", "", "start from a saved template")
	f.StringVar(&deployPurpose, "purpose", "", "Required or Available (default: template, else Available)")
	f.StringVar(&deployAvailable, "available", "now", "when the deployment becomes available")
	f.StringVar(&deployDeadline, "deadline", "", "installation deadline for Required deployments")
	f.StringVar(&deployDeadlineIn, "deadline-in", "", "deadline relative to availability, e.g. 48h or 7d")
	f.StringVar(&deployNotify, "notify", "", "DisplayAll, DisplaySoftwareCenterOnly or HideAll (default: template, else DisplayAll)")
	f.BoolVar(&deployOverrideSW, "override-service-window", false, "install outside maintenance windows")
	f.BoolVar(&deployRebootSW, "reboot-outside-service-window", false, "allow restarts outside maintenance windows")
	f.BoolVar(&deployMetered, "allow-metered", false, "allow download over metered connections")
	f.StringVar(&deployComment, "comment", "", "deployment comment")
	f.StringVar(&deployTicket, "ticket", "", "change ticket recorded in the audit log")
	f.BoolVar(&deployDryRun, "dry-run", false, "run the checks and show the preview without deploying")
	f.BoolVarP(&deployYes, "yes", "y", false, "skip the confirmation prompt")
	_ = deployCmd.MarkFlagRequired("collection")
	deployCmd.MarkFlagsMutuallyExclusive("deadline", "deadline-in")

	RootCmd.AddCommand(deployCmd)
}

func runDeploy(cmd *cobra.Command, args []string) error {
	s, err := openSession(cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer s.Close()

	out := cmd.OutOrStdout()

	// Settings are checked before anything is asked of the service.
	cfg, err := buildDeploymentConfig(s.cfg.TemplatesDir, time.Now(), s.logger)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	report := runGate(cmd, s, gateRequest(s, args[0], deployCollection, deployUpdateGroup))
	fmt.Fprint(out, output.RenderReport(report))
	if !report.Passed() {
		return errBlocked
	}

	fmt.Fprintln(out)
	fmt.Fprint(out, output.RenderPreview(report.Preview(), cfg))
	fmt.Fprintln(out)

	if deployDryRun {
		fmt.Fprintln(out, "Dry run: no deployment created.")
		return nil
	}
	if !deployYes && !confirm(cmd.InOrStdin(), out, "Create this deployment?") {
		fmt.Fprintln(out, "Cancelled. Nothing was deployed.")
		return nil
	}

	// Once issued, creation runs to completion even if interrupted.
	ctx := context.WithoutCancel(commandContext(cmd))
	spinner := output.NewSpinner("Creating deployment")
	spinner.SetWriter(cmd.ErrOrStderr())
	spinner.WithTimeout(0).Start()
	result, err := s.pipeline.Deploy(ctx, report, cfg, deployTicket)
	spinner.Stop()

	if result != nil {
		fmt.Fprint(out, output.RenderOutcome(result.Outcome, result.LogErr))
		s.refreshIndex()
	}
	return err
}

// buildDeploymentConfig merges the template (if any) and the flags.
func buildDeploymentConfig(templatesDir string, now time.Time, logger *slog.Logger) (deploy.DeploymentConfig, error) {
	if logger == nil {
		logger = slog.Default()
	}
	availableAt, err := parseTime(deployAvailable, now)
	if err != nil {
		return deploy.DeploymentConfig{}, fmt.Errorf("--available: %w", err)
	}

	tpl := templates.Template{Purpose: deploy.PurposeAvailable, Notification: deploy.NotifyDisplayAll}
	if deployTemplate != "" {
		all, skipped, err := templates.LoadAll(templatesDir, logger)
		if err != nil {
			return deploy.DeploymentConfig{}, err
		}
		for _, le := range skipped {
			logger.Warn("template skipped", "path", le.Path, "error", le.Err)
		}
		found, ok := templates.Find(all, deployTemplate)
		if !ok {
			return deploy.DeploymentConfig{}, fmt.Errorf("template %q not found (available: %s)",
				deployTemplate, strings.Join(templates.Names(all), ", "))
		}
		tpl = found
	}
	cfg := tpl.Apply(availableAt)

	if deployPurpose != "" {
		p, err := deploy.ParsePurpose(deployPurpose)
		if err != nil {
			return deploy.DeploymentConfig{}, err
		}
		if p != cfg.Purpose {
			cfg.Purpose = p
			cfg.DeadlineAt = time.Time{}
		}
	}
	if deployNotify != "" {
		n, err := deploy.ParseNotificationPolicy(deployNotify)
		if err != nil {
			return deploy.DeploymentConfig{}, err
		}
		cfg.Notification = n
	}

	switch {
	case deployDeadline != "":
		d, err := parseTime(deployDeadline, now)
		if err != nil {
			return deploy.DeploymentConfig{}, fmt.Errorf("--deadline: %w", err)
		}
		cfg.DeadlineAt = d
	case deployDeadlineIn != "":
		d, err := parseDuration(deployDeadlineIn)
		if err != nil {
			return deploy.DeploymentConfig{}, fmt.Errorf("--deadline-in: %w", err)
		}
		cfg.DeadlineAt = availableAt.Add(d)
	}
	if cfg.Purpose == deploy.PurposeRequired && cfg.DeadlineAt.IsZero() {
		return deploy.DeploymentConfig{}, errors.New("a Required deployment needs --deadline, --deadline-in or a template with a default deadline offset")
	}

	cfg.OverrideServiceWindow = cfg.OverrideServiceWindow || deployOverrideSW
	cfg.RebootOutsideServiceWindow = cfg.RebootOutsideServiceWindow || deployRebootSW
	cfg.AllowMeteredConnection = cfg.AllowMeteredConnection || deployMetered
	cfg.Comment = deployComment

	return cfg, nil
}
