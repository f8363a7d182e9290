package app

import (
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/blackwell-systems/deploygate/internal/audit"
	"github.com/blackwell-systems/deploygate/internal/deploy"
	"github.com/blackwell-systems/deploygate/internal/provider/catalog"
	"github.com/blackwell-systems/deploygate/internal/store"
	"github.com/blackwell-systems/deploygate/internal/templates"
)

func readAudit(t *testing.T, path string) []audit.Record {
	t.Helper()
	recs, skipped, err := audit.ReadAll(path, nil)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(skipped) != 0 {
		t.Fatalf("ReadAll skipped %d lines", len(skipped))
	}
	return recs
}

func assertNoAuditLog(t *testing.T, path string) {
	t.Helper()
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("audit log should not exist, stat err = %v", err)
	}
}

func TestValidate_Passes(t *testing.T) {
	env := setupEnv(t)
	validateCollection = "Pilot"

	out, _, err := runCmd(t, validateCmd, runValidate, "", "App1")
	if err != nil {
		t.Fatalf("runValidate() error: %v\n%s", err, out)
	}
	if !strings.Contains(out, "All checks passed.") {
		t.Errorf("output missing verdict:\n%s", out)
	}
	if strings.Count(out, "✓") != 5 {
		t.Errorf("expected five passing check lines:\n%s", out)
	}
	assertNoAuditLog(t, env.auditLog)
}

func TestValidate_Blocked(t *testing.T) {
	tests := []struct {
		name        string
		deployable  string
		collection  string
		updateGroup bool
		wantLine    string
	}{
		{"built-in collection", "App1", "All Systems", false, "✗ 4."},
		{"not distributed", "Undistributed", "Pilot", false, "✗ 2."},
		{"duplicate", "App1", "Existing Ring", false, "✗ 5."},
		{"missing deployable", "Nope", "Pilot", false, "✗ 1."},
		{"missing collection", "App1", "Nowhere", false, "✗ 3."},
		{"update group to built-in", "Patch Tuesday", "All Systems", true, "✗ 4."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := setupEnv(t)
			validateCollection = tt.collection
			validateUpdateGroup = tt.updateGroup

			out, _, err := runCmd(t, validateCmd, runValidate, "", tt.deployable)
			if !errors.Is(err, errBlocked) {
				t.Fatalf("runValidate() error = %v, want errBlocked", err)
			}
			if !strings.Contains(out, tt.wantLine) || !strings.Contains(out, "Deployment blocked") {
				t.Errorf("output missing %q:\n%s", tt.wantLine, out)
			}
			assertNoAuditLog(t, env.auditLog)
		})
	}
}

func TestValidate_Aliases(t *testing.T) {
	env := setupEnv(t)
	env.writeAliases(t, "[collections]\npilot = Pilot\n[deployables]\napp = App1\n")
	validateCollection = "pilot"

	out, _, err := runCmd(t, validateCmd, runValidate, "", "app")
	if err != nil {
		t.Fatalf("runValidate() error: %v\n%s", err, out)
	}
	if !strings.Contains(out, `"App1" → "Pilot"`) {
		t.Errorf("aliases not expanded:\n%s", out)
	}
}

func TestDeploy_YesCreatesAndRecords(t *testing.T) {
	env := setupEnv(t)
	deployCollection = "Pilot"
	deployYes = true
	deployTicket = "CHG0042"
	deployComment = "pilot wave"

	out, _, err := runCmd(t, deployCmd, runDeploy, "", "App1")
	if err != nil {
		t.Fatalf("runDeploy() error: %v\n%s", err, out)
	}
	for _, want := range []string{"All checks passed.", "Deployment preview", "Pilot (PS100042)", "✓ Deployment created"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}

	recs := readAudit(t, env.auditLog)
	if len(recs) != 1 {
		t.Fatalf("got %d audit records, want 1", len(recs))
	}
	rec := recs[0]
	if rec.Result != "Success" || rec.DeploymentID == "" {
		t.Errorf("record = %+v", rec)
	}
	if rec.Actor != "tester" || rec.ChangeTicket != "CHG0042" || rec.Comment != "pilot wave" {
		t.Errorf("record = %+v", rec)
	}
	if rec.CollectionID != "PS100042" || rec.MemberCount != 25 || rec.DeployableVersion != "1.0" {
		t.Errorf("record does not match preview: %+v", rec)
	}

	// The catalog persisted the new deployment.
	c, err := catalog.Open(env.catalog)
	if err != nil {
		t.Fatalf("catalog.Open: %v", err)
	}
	if got := len(c.Deployments()); got != 2 {
		t.Errorf("catalog has %d deployments, want 2", got)
	}

	// The history index was refreshed.
	st, err := store.Open(env.database)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	defer st.Close()
	indexed, err := st.ListRecords(store.Filter{LogPath: env.auditLog})
	if err != nil {
		t.Fatalf("ListRecords: %v", err)
	}
	if len(indexed) != 1 || indexed[0].DeploymentID != rec.DeploymentID {
		t.Errorf("indexed = %+v", indexed)
	}
}

func TestDeploy_Confirmation(t *testing.T) {
	tests := []struct {
		name    string
		stdin   string
		created bool
	}{
		{"yes", "y\n", true},
		{"full yes", "YES\n", true},
		{"no", "n\n", false},
		{"empty", "\n", false},
		{"eof", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := setupEnv(t)
			deployCollection = "Pilot"

			out, _, err := runCmd(t, deployCmd, runDeploy, tt.stdin, "App1")
			if err != nil {
				t.Fatalf("runDeploy() error: %v\n%s", err, out)
			}
			if !strings.Contains(out, "Create this deployment? [y/N]") {
				t.Errorf("no confirmation prompt:\n%s", out)
			}
			if tt.created {
				if len(readAudit(t, env.auditLog)) != 1 {
					t.Error("expected one audit record")
				}
				return
			}
			if !strings.Contains(out, "Cancelled") {
				t.Errorf("expected cancellation message:\n%s", out)
			}
			assertNoAuditLog(t, env.auditLog)
		})
	}
}

func TestDeploy_DryRun(t *testing.T) {
	env := setupEnv(t)
	deployCollection = "Pilot"
	deployDryRun = true

	out, _, err := runCmd(t, deployCmd, runDeploy, "", "App1")
	if err != nil {
		t.Fatalf("runDeploy() error: %v", err)
	}
	if !strings.Contains(out, "Dry run: no deployment created.") || !strings.Contains(out, "Deployment preview") {
		t.Errorf("unexpected output:\n%s", out)
	}
	assertNoAuditLog(t, env.auditLog)
}

func TestDeploy_BlockedNeverCreates(t *testing.T) {
	env := setupEnv(t)
	deployCollection = "All Systems"
	deployYes = true

	out, _, err := runCmd(t, deployCmd, runDeploy, "", "App1")
	if !errors.Is(err, errBlocked) {
		t.Fatalf("runDeploy() error = %v, want errBlocked", err)
	}
	if strings.Contains(out, "Deployment preview") {
		t.Errorf("preview shown for a blocked deployment:\n%s", out)
	}
	assertNoAuditLog(t, env.auditLog)

	c, err := catalog.Open(env.catalog)
	if err != nil {
		t.Fatal(err)
	}
	if len(c.Deployments()) != 1 {
		t.Error("a deployment was created despite the gate")
	}
}

func TestDeploy_ExecutionFailureIsRecorded(t *testing.T) {
	env := setupEnv(t)
	env.writeCatalog(t, testCatalog+"faults:\n  create_deployment: access denied\n")
	deployCollection = "Pilot"
	deployYes = true

	out, _, err := runCmd(t, deployCmd, runDeploy, "", "App1")
	if !errors.Is(err, deploy.ErrExecutionFailed) {
		t.Fatalf("runDeploy() error = %v, want ErrExecutionFailed", err)
	}
	if !strings.Contains(out, "✗ Deployment failed") {
		t.Errorf("failure not rendered:\n%s", out)
	}

	recs := readAudit(t, env.auditLog)
	if len(recs) != 1 {
		t.Fatalf("got %d records, want 1", len(recs))
	}
	if !strings.HasPrefix(recs[0].Result, "Failed: ") || !strings.Contains(recs[0].Result, "access denied") {
		t.Errorf("Result = %q", recs[0].Result)
	}
	if recs[0].DeploymentID != "" {
		t.Errorf("DeploymentID = %q, want empty", recs[0].DeploymentID)
	}
}

func TestDeploy_InvalidSettingsRefusedBeforeChecks(t *testing.T) {
	tests := []struct {
		name  string
		setup func()
		want  string
	}{
		{"required without deadline", func() { deployPurpose = "required" }, "needs --deadline"},
		{"bad purpose", func() { deployPurpose = "sometimes" }, "invalid purpose"},
		{"bad notify", func() { deployNotify = "loud" }, "invalid notification policy"},
		{"deadline before available", func() {
			deployPurpose = "required"
			deployAvailable = "2026-05-02 10:00"
			deployDeadline = "2026-05-01 10:00"
		}, "deadline must not be earlier"},
		{"deadline on available", func() { deployDeadlineIn = "4h" }, "only be set for Required"},
		{"unknown template", func() { deployTemplate = "Nope" }, `template "Nope" not found`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := setupEnv(t)
			deployCollection = "Pilot"
			deployYes = true
			tt.setup()

			out, _, err := runCmd(t, deployCmd, runDeploy, "", "App1")
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("runDeploy() error = %v, want %q", err, tt.want)
			}
			if strings.Contains(out, "Safety checks") {
				t.Errorf("checks ran despite invalid settings:\n%s", out)
			}
			assertNoAuditLog(t, env.auditLog)
		})
	}
}

func TestDeploy_UpdateGroupWithTemplate(t *testing.T) {
	env := setupEnv(t)
	if _, err := templates.Save(env.templates, templates.Template{
		Name:                       "Emergency Patch",
		Purpose:                    deploy.PurposeRequired,
		Notification:               deploy.NotifyHideAll,
		OverrideServiceWindow:      true,
		DefaultDeadlineOffsetHours: 4,
	}, false); err != nil {
		t.Fatalf("Save: %v", err)
	}

	deployCollection = "Pilot"
	deployUpdateGroup = true
	deployTemplate = "emergency patch"
	deployYes = true

	out, _, err := runCmd(t, deployCmd, runDeploy, "", "Patch Tuesday")
	if err != nil {
		t.Fatalf("runDeploy() error: %v\n%s", err, out)
	}
	if !strings.Contains(out, "12 updates") || !strings.Contains(out, "Deadline:") {
		t.Errorf("preview missing update group details:\n%s", out)
	}

	recs := readAudit(t, env.auditLog)
	if len(recs) != 1 {
		t.Fatalf("got %d records", len(recs))
	}
	rec := recs[0]
	if rec.Purpose != "Required" || rec.DeployableKind != string(deploy.KindUpdateGroup) {
		t.Errorf("record = %+v", rec)
	}
	if got := rec.DeadlineAt.Sub(rec.Timestamp); got < 3*time.Hour || got > 5*time.Hour {
		t.Errorf("deadline %v after the attempt, want about 4h", got)
	}
}

func TestBuildDeploymentConfig(t *testing.T) {
	now := time.Date(2026, 10, 19, 9, 0, 0, 0, time.Local)

	tests := []struct {
		name  string
		setup func()
		check func(t *testing.T, cfg deploy.DeploymentConfig)
	}{
		{
			name:  "defaults",
			setup: func() {},
			check: func(t *testing.T, cfg deploy.DeploymentConfig) {
				if cfg.Purpose != deploy.PurposeAvailable || cfg.Notification != deploy.NotifyDisplayAll {
					t.Errorf("cfg = %+v", cfg)
				}
				if !cfg.AvailableAt.Equal(now) || !cfg.DeadlineAt.IsZero() {
					t.Errorf("times = %v / %v", cfg.AvailableAt, cfg.DeadlineAt)
				}
			},
		},
		{
			name: "required with relative deadline",
			setup: func() {
				deployPurpose = "required"
				deployDeadlineIn = "2d"
				deployNotify = "hide"
				deployMetered = true
			},
			check: func(t *testing.T, cfg deploy.DeploymentConfig) {
				if cfg.Purpose != deploy.PurposeRequired || cfg.Notification != deploy.NotifyHideAll {
					t.Errorf("cfg = %+v", cfg)
				}
				if !cfg.DeadlineAt.Equal(now.Add(48 * time.Hour)) {
					t.Errorf("DeadlineAt = %v", cfg.DeadlineAt)
				}
				if !cfg.AllowMeteredConnection {
					t.Error("AllowMeteredConnection not set")
				}
			},
		},
		{
			name: "absolute times",
			setup: func() {
				deployPurpose = "Required"
				deployAvailable = "2026-11-01 18:00"
				deployDeadline = "2026-11-03"
			},
			check: func(t *testing.T, cfg deploy.DeploymentConfig) {
				if cfg.AvailableAt.Day() != 1 || cfg.AvailableAt.Hour() != 18 {
					t.Errorf("AvailableAt = %v", cfg.AvailableAt)
				}
				if cfg.DeadlineAt.Day() != 3 {
					t.Errorf("DeadlineAt = %v", cfg.DeadlineAt)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resetFlags(t)
			tt.setup()
			cfg, err := buildDeploymentConfig(t.TempDir(), now, nil)
			if err != nil {
				t.Fatalf("buildDeploymentConfig() error: %v", err)
			}
			if err := cfg.Validate(); err != nil {
				t.Fatalf("Validate() error: %v", err)
			}
			tt.check(t, cfg)
		})
	}
}

func TestBuildDeploymentConfig_PurposeOverrideDropsTemplateDeadline(t *testing.T) {
	resetFlags(t)
	dir := t.TempDir()
	if _, err := templates.Save(dir, templates.Template{Name: "Wave", Purpose: deploy.PurposeRequired, DefaultDeadlineOffsetHours: 24}, false); err != nil {
		t.Fatal(err)
	}
	deployTemplate = "Wave"
	deployPurpose = "available"

	cfg, err := buildDeploymentConfig(dir, time.Now(), nil)
	if err != nil {
		t.Fatalf("buildDeploymentConfig() error: %v", err)
	}
	if cfg.Purpose != deploy.PurposeAvailable || !cfg.DeadlineAt.IsZero() {
		t.Errorf("cfg = %+v", cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error: %v", err)
	}
}

func TestBuildDeploymentConfig_RequiredTemplateWithoutOffset(t *testing.T) {
	resetFlags(t)
	dir := t.TempDir()
	if _, err := templates.Save(dir, templates.Template{Name: "Ad hoc", Purpose: deploy.PurposeRequired}, false); err != nil {
		t.Fatal(err)
	}
	deployTemplate = "Ad hoc"
	now := time.Date(2026, 10, 20, 8, 0, 0, 0, time.Local)

	if _, err := buildDeploymentConfig(dir, now, nil); err == nil || !strings.Contains(err.Error(), "needs --deadline") {
		t.Fatalf("buildDeploymentConfig() error = %v, want a missing deadline error", err)
	}

	deployDeadlineIn = "8h"
	cfg, err := buildDeploymentConfig(dir, now, nil)
	if err != nil {
		t.Fatalf("buildDeploymentConfig() error: %v", err)
	}
	if got := cfg.DeadlineAt.Sub(cfg.AvailableAt); got != 8*time.Hour {
		t.Errorf("deadline offset = %v, want 8h", got)
	}
}
