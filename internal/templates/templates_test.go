package templates

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/blackwell-systems/deploygate/internal/deploy"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
}

func TestLoadAll(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "b-pilot.yaml", `
name: Pilot
purpose: available
notification: softwarecenter
`)
	writeFile(t, dir, "a-patch-tuesday.yml", `
name: Patch Tuesday
purpose: Required
notification: HideAll
override_service_window: false
reboot_outside_service_window: false
allow_metered_connection: true
default_deadline_offset_hours: 72
`)
	writeFile(t, dir, "c-broken.yaml", "name: [unterminated\n")
	writeFile(t, dir, "d-bad-purpose.yaml", "name: Bad\npurpose: Sometimes\n")
	writeFile(t, dir, "notes.txt", "not a template")
	if err := os.Mkdir(filepath.Join(dir, "sub.yaml"), 0o755); err != nil {
		t.Fatal(err)
	}

	got, skipped, err := LoadAll(dir, nil)
	if err != nil {
		t.Fatalf("LoadAll() failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("loaded %d templates, want 2", len(got))
	}
	if got[0].Name != "Patch Tuesday" || got[1].Name != "Pilot" {
		t.Errorf("order = %q, %q; want lexical file order", got[0].Name, got[1].Name)
	}
	if got[0].Purpose != deploy.PurposeRequired || got[0].DefaultDeadlineOffsetHours != 72 || !got[0].AllowMeteredConnection {
		t.Errorf("Patch Tuesday = %+v", got[0])
	}
	if got[1].Purpose != deploy.PurposeAvailable || got[1].Notification != deploy.NotifyDisplaySoftwareCenterOnly {
		t.Errorf("Pilot = %+v", got[1])
	}

	if len(skipped) != 2 {
		t.Fatalf("skipped %d files, want 2", len(skipped))
	}
	for _, s := range skipped {
		if !errors.Is(s, deploy.ErrParseSkipped) {
			t.Errorf("LoadError %v does not match ErrParseSkipped", s)
		}
	}
}

func TestLoadAll_MissingDir(t *testing.T) {
	got, skipped, err := LoadAll(filepath.Join(t.TempDir(), "nope"), nil)
	if err != nil || len(got) != 0 || len(skipped) != 0 {
		t.Errorf("LoadAll(missing) = %v, %v, %v", got, skipped, err)
	}
}

func TestLoadAll_DuplicateNames(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "one.yaml", "name: Pilot\n")
	writeFile(t, dir, "two.yaml", "name: pilot\n")

	got, skipped, err := LoadAll(dir, nil)
	if err != nil {
		t.Fatalf("LoadAll() failed: %v", err)
	}
	if len(got) != 1 || len(skipped) != 1 {
		t.Errorf("loaded %d / skipped %d, want 1 / 1", len(got), len(skipped))
	}
}

func TestLoadAll_Defaults(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "min.yaml", "name: Minimal\n")

	got, _, err := LoadAll(dir, nil)
	if err != nil || len(got) != 1 {
		t.Fatalf("LoadAll() = %v, %v", got, err)
	}
	if got[0].Purpose != deploy.PurposeAvailable || got[0].Notification != deploy.NotifyDisplayAll {
		t.Errorf("defaults = %s / %s", got[0].Purpose, got[0].Notification)
	}
}

func TestApply(t *testing.T) {
	at := time.Date(2026, 10, 20, 8, 0, 0, 0, time.UTC)

	req := Template{Name: "Patch", Purpose: deploy.PurposeRequired, Notification: deploy.NotifyHideAll,
		DefaultDeadlineOffsetHours: 48, RebootOutsideServiceWindow: true}
	cfg := req.Apply(at)
	if !cfg.DeadlineAt.Equal(at.Add(48 * time.Hour)) {
		t.Errorf("DeadlineAt = %v", cfg.DeadlineAt)
	}
	if !cfg.RebootOutsideServiceWindow || cfg.Notification != deploy.NotifyHideAll {
		t.Errorf("cfg = %+v", cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("applied Required config invalid: %v", err)
	}

	avail := Template{Name: "Pilot", Purpose: deploy.PurposeAvailable, Notification: deploy.NotifyDisplayAll,
		DefaultDeadlineOffsetHours: 48}
	cfg = avail.Apply(at)
	if !cfg.DeadlineAt.IsZero() {
		t.Errorf("Available preset produced deadline %v", cfg.DeadlineAt)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("applied Available config invalid: %v", err)
	}

	noOffset := Template{Name: "Ad hoc", Purpose: deploy.PurposeRequired, Notification: deploy.NotifyDisplayAll}
	cfg = noOffset.Apply(at)
	if !cfg.DeadlineAt.IsZero() {
		t.Errorf("Required preset without an offset produced deadline %v, want unset", cfg.DeadlineAt)
	}
}

func TestSave(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "templates")
	tpl := Template{Name: "Patch Tuesday (Servers)", Purpose: "required", Notification: "hide", DefaultDeadlineOffsetHours: 24}

	path, err := Save(dir, tpl, false)
	if err != nil {
		t.Fatalf("Save() failed: %v", err)
	}
	if filepath.Base(path) != "patch-tuesday-servers.yaml" {
		t.Errorf("path = %s", path)
	}

	if _, err := Save(dir, tpl, false); !errors.Is(err, ErrExists) {
		t.Errorf("second Save() error = %v, want ErrExists", err)
	}
	tpl.DefaultDeadlineOffsetHours = 12
	if _, err := Save(dir, tpl, true); err != nil {
		t.Fatalf("Save(overwrite) failed: %v", err)
	}

	got, skipped, err := LoadAll(dir, nil)
	if err != nil || len(skipped) != 0 || len(got) != 1 {
		t.Fatalf("LoadAll() = %v, %v, %v", got, skipped, err)
	}
	if got[0].Name != tpl.Name || got[0].Purpose != deploy.PurposeRequired ||
		got[0].Notification != deploy.NotifyHideAll || got[0].DefaultDeadlineOffsetHours != 12 {
		t.Errorf("reloaded = %+v", got[0])
	}
}

func TestSave_Invalid(t *testing.T) {
	dir := t.TempDir()
	tests := []Template{
		{Name: ""},
		{Name: "!!!"},
		{Name: "Bad offset", DefaultDeadlineOffsetHours: -1},
		{Name: "Bad purpose", Purpose: "Maybe"},
	}
	for _, tpl := range tests {
		if _, err := Save(dir, tpl, false); err == nil {
			t.Errorf("Save(%+v) expected error", tpl)
		}
	}
}

func TestSlug(t *testing.T) {
	tests := map[string]string{
		"Patch Tuesday":            "patch-tuesday",
		"  Pilot  ":                "pilot",
		"Servers / Prod -- Wave 2": "servers-prod-wave-2",
		"ÜBER":                     "ber",
		"***":                      "",
	}
	for in, want := range tests {
		if got := Slug(in); got != want {
			t.Errorf("Slug(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestFindAndNames(t *testing.T) {
	all := []Template{{Name: "Pilot"}, {Name: "Broad"}}
	if _, ok := Find(all, "pilot"); !ok {
		t.Error("Find(pilot) not found")
	}
	if _, ok := Find(all, "nope"); ok {
		t.Error("Find(nope) found")
	}
	names := Names(all)
	if names[0] != "Broad" || names[1] != "Pilot" {
		t.Errorf("Names() = %v", names)
	}
}
