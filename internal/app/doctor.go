package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/blackwell-systems/deploygate/internal/config"
	"github.com/blackwell-systems/deploygate/internal/output"
	"github.com/blackwell-systems/deploygate/internal/provider"
	"github.com/blackwell-systems/deploygate/internal/store"
	"github.com/blackwell-systems/deploygate/internal/templates"
)

// pingTimeout bounds the provider reachability check.
const pingTimeout = 15 * time.Second

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Diagnose configuration and connectivity",
	Long: `Runs diagnostic checks on your deploygate setup.

Checks:
  • Configuration loads and validates
  • The management service provider is reachable
  • The audit log is writable
  • Templates parse
  • The history index is readable and up to date`,
	Args: cobra.NoArgs,
	RunE: runDoctor,
}

func init() {
	RootCmd.AddCommand(doctorCmd)
}

func runDoctor(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "Running deploygate diagnostics...")
	fmt.Fprintln(out)

	criticalIssues := 0
	warningIssues := 0

	// Check 1: Configuration
	s, err := loadSettings(cmd.ErrOrStderr())
	if err != nil {
		fmt.Fprintln(out, "✗ Configuration invalid:", err)
		if path, perr := config.DefaultPath(); perr == nil && configPath == "" {
			fmt.Fprintln(out, "  Action: Fix", path)
		}
		fmt.Fprintln(out)
		fmt.Fprintln(out, "Found 1 critical issue(s).")
		return fmt.Errorf("diagnostics failed")
	}
	defer s.Close()

	if s.cfg.Path != "" {
		fmt.Fprintln(out, "✓ Configuration loaded:", s.cfg.Path)
	} else {
		fmt.Fprintln(out, "✓ Configuration: built-in defaults (no config file)")
	}
	fmt.Fprintf(out, "  Provider: %s, actor: %s\n", s.cfg.Provider, s.cfg.Actor)

	// Check 2: Provider reachable
	if err := checkProvider(commandContext(cmd), out, cmd.ErrOrStderr(), s); err != nil {
		fmt.Fprintln(out, "✗ Management service unavailable:", err)
		if s.cfg.Provider == config.ProviderCatalog {
			fmt.Fprintln(out, "  Action: Create the catalog file or set catalog.path")
		} else {
			fmt.Fprintln(out, "  Action: Check adminservice.url, credentials and network access")
		}
		criticalIssues++
	}

	// Check 3: Audit log writable
	if err := checkWritable(s.cfg.AuditLog); err != nil {
		fmt.Fprintln(out, "✗ Audit log not writable:", err)
		fmt.Fprintln(out, "  Action: Fix permissions or set audit_log / --audit-log")
		criticalIssues++
	} else {
		fmt.Fprintln(out, "✓ Audit log writable:", s.cfg.AuditLog)
	}

	// Check 4: Templates (warning only)
	all, skipped, err := templates.LoadAll(s.cfg.TemplatesDir, s.logger)
	switch {
	case err != nil:
		fmt.Fprintln(out, "⚠ Cannot read templates:", err)
		warningIssues++
	case len(skipped) > 0:
		fmt.Fprintf(out, "⚠ %d template(s) loaded, %d skipped\n", len(all), len(skipped))
		for _, le := range skipped {
			fmt.Fprintf(out, "  %s: %v\n", filepath.Base(le.Path), le.Err)
		}
		warningIssues++
	case len(all) == 0:
		fmt.Fprintln(out, "✓ No templates defined (optional)")
	default:
		fmt.Fprintf(out, "✓ %d template(s) loaded\n", len(all))
	}

	// Check 5: History index (warning only)
	if err := checkIndex(out, s); err != nil {
		fmt.Fprintln(out, "⚠ History index unavailable:", err)
		fmt.Fprintln(out, "  Action: Run 'deploygate history --rebuild'")
		warningIssues++
	}

	fmt.Fprintln(out)
	if criticalIssues == 0 && warningIssues == 0 {
		fmt.Fprintln(out, "✓ All checks passed!")
		return nil
	}
	if criticalIssues > 0 {
		fmt.Fprintf(out, "Found %d critical issue(s) and %d warning(s).\n", criticalIssues, warningIssues)
		return fmt.Errorf("diagnostics failed")
	}
	fmt.Fprintf(out, "Found %d warning(s). Deployments will still work.\n", warningIssues)
	return nil
}

func checkProvider(ctx context.Context, out, errOut io.Writer, s *settings) error {
	svc, err := newService(s.cfg)
	if err != nil {
		return err
	}

	pinger, ok := svc.(provider.Pinger)
	if !ok {
		fmt.Fprintln(out, "✓ Catalog loaded:", s.cfg.Catalog.Path)
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	spinner := output.NewSpinner("Contacting " + s.cfg.AdminService.URL)
	spinner.SetWriter(errOut)
	spinner.WithTimeout(pingTimeout).Start()
	start := time.Now()
	err = pinger.Ping(ctx)
	spinner.Stop()
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "✓ AdminService reachable (%v)\n", time.Since(start).Round(time.Millisecond))
	return nil
}

// checkWritable opens path for append, creating it and its directory when
// missing. Nothing is written.
func checkWritable(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0644)
	if err != nil {
		return err
	}
	return f.Close()
}

func checkIndex(out io.Writer, s *settings) error {
	st, err := s.openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	if err := s.catchUp(st); err != nil {
		return err
	}
	counts, err := st.CountRecords(store.Filter{LogPath: s.cfg.AuditLog})
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "✓ History index: %s", output.RenderCounts(counts))

	last, err := st.LastRecord(s.cfg.AuditLog)
	if err != nil {
		return err
	}
	if last != nil {
		fmt.Fprintf(out, "  Last attempt: %s %s → %s (%s)\n",
			last.Timestamp.Local().Format("2006-01-02 15:04"), last.DeployableName, last.CollectionName, last.Result)
	}
	return nil
}
