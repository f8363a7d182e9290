package catalog

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/blackwell-systems/deploygate/internal/deploy"
	"github.com/blackwell-systems/deploygate/internal/provider"
)

const sampleCatalog = `
applications:
  - name: App1
    id: ScopeId_A/Application_1
    version: "1.0"
    package_id: PS100012
    distribution: {targeted: 3, success: 3, in_progress: 0, errors: 0}
  - name: App2
    id: ScopeId_A/Application_2
    version: "2.4.1"
    package_id: PS100013
update_groups:
  - name: 2026-10 Patch Tuesday
    id: "16777300"
    update_count: 42
    expired_update_count: 1
collections:
  - name: Workstations
    id: PS100020
    kind: Device
    member_count: 250
  - name: Sales Users
    id: PS100021
    kind: User
    member_count: 40
deployments:
  - id: existing-1
    deployable: App2
    collection: Workstations
`

func writeCatalog(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	if err := os.WriteFile(path, []byte(sampleCatalog), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestOpenAndLookups(t *testing.T) {
	c, err := Open(writeCatalog(t))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	ctx := context.Background()

	app, err := c.LookupDeployable(ctx, "app1", deploy.KindApplication)
	if err != nil || app == nil {
		t.Fatalf("LookupDeployable(app1) = %v, %v", app, err)
	}
	if app.App.Version != "1.0" || app.App.PackageID != "PS100012" {
		t.Errorf("app = %+v", app.App)
	}

	group, err := c.LookupDeployable(ctx, "2026-10 Patch Tuesday", deploy.KindUpdateGroup)
	if err != nil || group == nil {
		t.Fatalf("LookupDeployable(update group) = %v, %v", group, err)
	}
	if group.Updates.UpdateCount != 42 || group.Updates.ExpiredUpdateCount != 1 {
		t.Errorf("group = %+v", group.Updates)
	}

	// An application name is not found when asked for as an update group.
	missing, err := c.LookupDeployable(ctx, "App1", deploy.KindUpdateGroup)
	if err != nil || missing != nil {
		t.Errorf("LookupDeployable(App1 as update group) = %v, %v; want nil, nil", missing, err)
	}

	users, err := c.LookupCollection(ctx, "Sales Users")
	if err != nil || users == nil {
		t.Fatalf("LookupCollection(Sales Users) = %v, %v", users, err)
	}
	if users.Kind != deploy.CollectionUser {
		t.Errorf("Kind = %s, want User", users.Kind)
	}

	none, err := c.LookupCollection(ctx, "Nope")
	if err != nil || none != nil {
		t.Errorf("LookupCollection(Nope) = %v, %v; want nil, nil", none, err)
	}
}

func TestDistributionStatus(t *testing.T) {
	c, err := Open(writeCatalog(t))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	ctx := context.Background()

	st, err := c.DistributionStatus(ctx, "PS100012")
	if err != nil {
		t.Fatalf("DistributionStatus() failed: %v", err)
	}
	if !st.IsFullyDistributed() {
		t.Errorf("status %+v should be fully distributed", st)
	}

	st, err = c.DistributionStatus(ctx, "PS100013")
	if err != nil {
		t.Fatalf("DistributionStatus() failed: %v", err)
	}
	if st.Targeted != 0 || st.IsFullyDistributed() {
		t.Errorf("status without distribution entry = %+v, want zero", st)
	}
}

func TestExistingDeployments(t *testing.T) {
	c, err := Open(writeCatalog(t))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	ctx := context.Background()

	n, err := c.ExistingDeployments(ctx, "app2", "workstations")
	if err != nil || n != 1 {
		t.Errorf("ExistingDeployments(App2, Workstations) = %d, %v; want 1", n, err)
	}
	n, err = c.ExistingDeployments(ctx, "App1", "Workstations")
	if err != nil || n != 0 {
		t.Errorf("ExistingDeployments(App1, Workstations) = %d, %v; want 0", n, err)
	}
}

func TestCreateDeployment_PersistsToFile(t *testing.T) {
	path := writeCatalog(t)
	c, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	ctx := context.Background()

	deadline := time.Date(2026, 10, 22, 18, 0, 0, 0, time.UTC)
	id, err := c.CreateDeployment(ctx, &provider.DeploymentRequest{
		Kind:           deploy.KindApplication,
		DeployableName: "App1",
		CollectionName: "Workstations",
		Purpose:        deploy.PurposeRequired,
		DeadlineAt:     &deadline,
	})
	if err != nil {
		t.Fatalf("CreateDeployment() failed: %v", err)
	}
	if id == "" {
		t.Fatal("CreateDeployment() returned empty ID")
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("re-Open() failed: %v", err)
	}
	n, err := reopened.ExistingDeployments(ctx, "App1", "Workstations")
	if err != nil || n != 1 {
		t.Errorf("ExistingDeployments after create = %d, %v; want 1", n, err)
	}

	var found bool
	for _, d := range reopened.Deployments() {
		if d.ID == id {
			found = true
			if d.DeadlineAt == nil || !d.DeadlineAt.Equal(deadline) {
				t.Errorf("DeadlineAt = %v, want %v", d.DeadlineAt, deadline)
			}
		}
	}
	if !found {
		t.Errorf("deployment %s not persisted", id)
	}
}

func TestFaults(t *testing.T) {
	c := New(Data{})
	ctx := context.Background()

	c.SetFault(OpCreateDeployment, "access denied")
	if _, err := c.CreateDeployment(ctx, &provider.DeploymentRequest{DeployableName: "App1"}); err == nil {
		t.Error("CreateDeployment() expected injected fault")
	}
	if len(c.Deployments()) != 0 {
		t.Error("failed CreateDeployment() recorded a deployment")
	}

	c.SetFault(OpLookupCollection, "timeout")
	if _, err := c.LookupCollection(ctx, "Workstations"); err == nil {
		t.Error("LookupCollection() expected injected fault")
	}

	c.SetFault(OpLookupCollection, "")
	if _, err := c.LookupCollection(ctx, "Workstations"); err != nil {
		t.Errorf("LookupCollection() after clearing fault: %v", err)
	}
}

func TestOpen_Malformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	if err := os.WriteFile(path, []byte("applications: [:::"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := Open(path); err == nil {
		t.Error("Open() expected parse error")
	}
}

func TestLookupCollection_KindMapping(t *testing.T) {
	tests := []struct {
		raw  string
		want deploy.CollectionKind
	}{
		{"Device", deploy.CollectionDevice},
		{" device ", deploy.CollectionDevice},
		{"USER", deploy.CollectionUser},
		{"user ", deploy.CollectionUser},
		{"Users", "Unknown(Users)"},
		{"Devcie", "Unknown(Devcie)"},
		{"", "Unknown"},
	}

	for _, tt := range tests {
		c := New(Data{Collections: []Collection{{Name: "Ring", ID: "PS100030", Kind: tt.raw}}})
		col, err := c.LookupCollection(context.Background(), "Ring")
		if err != nil || col == nil {
			t.Fatalf("LookupCollection(kind %q) = %v, %v", tt.raw, col, err)
		}
		if col.Kind != tt.want {
			t.Errorf("kind %q mapped to %q, want %q", tt.raw, col.Kind, tt.want)
		}
		if got := col.IsDeployable(); got != (tt.want == deploy.CollectionDevice) {
			t.Errorf("kind %q: IsDeployable() = %v", tt.raw, got)
		}
	}
}
