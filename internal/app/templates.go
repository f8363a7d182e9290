package app

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/blackwell-systems/deploygate/internal/deploy"
	"github.com/blackwell-systems/deploygate/internal/output"
	"github.com/blackwell-systems/deploygate/internal/templates"
)

var (
	templatePurpose       string
	templateNotify        string
	templateOverrideSW    bool
	templateRebootSW      bool
	templateMetered       bool
	templateDeadlineHours int
	templateForce         bool
)

var templatesCmd = &cobra.Command{
	Use:   "templates",
	Short: "Manage deployment templates",
	Long: `Templates are named presets of deployment settings stored as one YAML
file each in templates_dir (default ~/.deploygate/templates).

Files that fail to parse are skipped with a warning; the rest still load.`,
}

var templatesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List templates",
	Args:  cobra.NoArgs,
	RunE:  runTemplatesList,
}

var templatesShowCmd = &cobra.Command{
	Use:   "show <name>",
	Short: "Show one template",
	Args:  cobra.ExactArgs(1),
	RunE:  runTemplatesShow,
}

var templatesSaveCmd = &cobra.Command{
	Use:   "save <name>",
	Short: "Save a template",
	Example: `  # Pilot ring: available, visible in Software Center only
  deploygate templates save Pilot --notify softwarecenter

  # Emergency patch: required within 4 hours, ignore maintenance windows
  deploygate templates save "Emergency Patch" --purpose required --deadline-hours 4 \
      --override-service-window --reboot-outside-service-window`,
	Args: cobra.ExactArgs(1),
	RunE: runTemplatesSave,
}

func init() {
	f := templatesSaveCmd.Flags()
	f.StringVar(&templatePurpose, "purpose", "Available", "Required or Available")
	f.StringVar(&templateNotify, "notify", "DisplayAll", "DisplayAll, DisplaySoftwareCenterOnly or HideAll")
	f.BoolVar(&templateOverrideSW, "override-service-window", false, "install outside maintenance windows")
	f.BoolVar(&templateRebootSW, "reboot-outside-service-window", false, "allow restarts outside maintenance windows")
	f.BoolVar(&templateMetered, "allow-metered", false, "allow download over metered connections")
	f.IntVar(&templateDeadlineHours, "deadline-hours", 0, "default deadline offset for Required deployments")
	f.BoolVar(&templateForce, "force", false, "replace an existing template file")

	templatesCmd.AddCommand(templatesListCmd, templatesShowCmd, templatesSaveCmd)
	RootCmd.AddCommand(templatesCmd)
}

func runTemplatesList(cmd *cobra.Command, args []string) error {
	s, err := loadSettings(cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer s.Close()

	all, skipped, err := templates.LoadAll(s.cfg.TemplatesDir, s.logger)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprint(out, output.RenderTemplateTable(all))
	if len(skipped) > 0 {
		fmt.Fprintf(out, "\n⚠ %d template file(s) skipped:\n", len(skipped))
		for _, le := range skipped {
			fmt.Fprintf(out, "  %s: %v\n", le.Path, le.Err)
		}
	}
	return nil
}

func runTemplatesShow(cmd *cobra.Command, args []string) error {
	s, err := loadSettings(cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer s.Close()

	all, _, err := templates.LoadAll(s.cfg.TemplatesDir, s.logger)
	if err != nil {
		return err
	}
	t, ok := templates.Find(all, args[0])
	if !ok {
		return fmt.Errorf("template %q not found", args[0])
	}
	fmt.Fprint(cmd.OutOrStdout(), output.RenderTemplate(t))
	return nil
}

func runTemplatesSave(cmd *cobra.Command, args []string) error {
	s, err := loadSettings(cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer s.Close()

	t := templates.Template{
		Name:                       args[0],
		Purpose:                    deploy.Purpose(templatePurpose),
		Notification:               deploy.NotificationPolicy(templateNotify),
		OverrideServiceWindow:      templateOverrideSW,
		RebootOutsideServiceWindow: templateRebootSW,
		AllowMeteredConnection:     templateMetered,
		DefaultDeadlineOffsetHours: templateDeadlineHours,
	}

	path, err := templates.Save(s.cfg.TemplatesDir, t, templateForce)
	if errors.Is(err, templates.ErrExists) {
		return fmt.Errorf("%w (use --force to replace it)", err)
	}
	if err != nil {
		return err
	}

	s.logger.Info("template saved", "template", t.Name, "path", path)
	fmt.Fprintf(cmd.OutOrStdout(), "✓ Saved template %q to %s\n", t.Name, path)
	return nil
}
