package app

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"

	"github.com/blackwell-systems/deploygate/internal/config"
)

const testCatalog = `applications:
  - name: App1
    id: ScopeId_1/Application_1
    version: "1.0"
    package_id: PS100001
    distribution:
      targeted: 2
      success: 2
  - name: Undistributed
    id: ScopeId_1/Application_2
    version: "2.0"
    package_id: PS100002
    distribution:
      targeted: 2
      success: 1
      in_progress: 1
update_groups:
  - name: Patch Tuesday
    id: "16777300"
    update_count: 12
collections:
  - name: Pilot
    id: PS100042
    kind: Device
    member_count: 25
  - name: Existing Ring
    id: PS100043
    kind: Device
    member_count: 10
  - name: All Systems
    id: SMS00001
    kind: Device
    member_count: 5000
deployments:
  - id: existing-1
    deployable: App1
    collection: Existing Ring
`

type testEnv struct {
	home      string
	dir       string
	catalog   string
	auditLog  string
	templates string
	database  string
}

// setupEnv isolates HOME and XDG, writes a catalog-backed config and points
// the --config flag at it.
func setupEnv(t *testing.T) *testEnv {
	t.Helper()
	resetFlags(t)

	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(home, ".config"))
	t.Setenv("NO_COLOR", "1")
	for _, k := range []string{config.EnvProvider, config.EnvURL, config.EnvUsername, config.EnvPassword, config.EnvAuditLog, config.EnvActor} {
		t.Setenv(k, "")
	}

	dir := t.TempDir()
	env := &testEnv{
		home:      home,
		dir:       dir,
		catalog:   filepath.Join(dir, "catalog.yaml"),
		auditLog:  filepath.Join(dir, "audit.jsonl"),
		templates: filepath.Join(dir, "templates"),
		database:  filepath.Join(dir, "history.db"),
	}
	env.writeCatalog(t, testCatalog)

	cfg := strings.Join([]string{
		"provider: catalog",
		"catalog:",
		"  path: " + env.catalog,
		"audit_log: " + env.auditLog,
		"templates_dir: " + env.templates,
		"database: " + env.database,
		"actor: tester",
		"",
	}, "\n")
	cfgPath := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(cfgPath, []byte(cfg), 0644); err != nil {
		t.Fatalf("WriteFile config: %v", err)
	}
	configPath = cfgPath
	return env
}

func (e *testEnv) writeCatalog(t *testing.T, content string) {
	t.Helper()
	if err := os.WriteFile(e.catalog, []byte(content), 0644); err != nil {
		t.Fatalf("WriteFile catalog: %v", err)
	}
}

func (e *testEnv) writeAliases(t *testing.T, content string) {
	t.Helper()
	dir := filepath.Join(e.home, ".config", "deploygate")
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "aliases"), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

// resetFlags restores every command flag variable to its default before
// and after the test.
func resetFlags(t *testing.T) {
	t.Helper()
	reset := func() {
		configPath, auditLogPath, verbose = "", "", false

		validateCollection, validateUpdateGroup = "", false

		deployCollection, deployUpdateGroup, deployTemplate = "", false, ""
		deployPurpose, deployAvailable, deployDeadline, deployDeadlineIn = "", "now", "", ""
		deployNotify, deployComment, deployTicket = "", "", ""
		deployOverrideSW, deployRebootSW, deployMetered = false, false, false
		deployDryRun, deployYes = false, false

		historyCollection, historyDeployable, historyActor, historySince = "", "", "", ""
		historyFailed, historyRaw, historyFollow, historyRebuild = false, false, false, false
		historyLimit = 50

		templatePurpose, templateNotify = "Available", "DisplayAll"
		templateOverrideSW, templateRebootSW, templateMetered, templateForce = false, false, false, false
		templateDeadlineHours = 0
	}
	reset()
	t.Cleanup(reset)
}

// runCmd invokes fn the way cobra would, capturing stdout and stderr.
func runCmd(t *testing.T, cmd *cobra.Command, fn func(*cobra.Command, []string) error, stdin string, args ...string) (string, string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetIn(strings.NewReader(stdin))
	t.Cleanup(func() {
		cmd.SetOut(nil)
		cmd.SetErr(nil)
		cmd.SetIn(nil)
	})

	err := fn(cmd, args)
	return out.String(), errOut.String(), err
}
