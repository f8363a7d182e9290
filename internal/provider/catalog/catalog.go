// Package catalog implements provider.Service on top of a YAML catalog of
// applications, update groups, collections and existing deployments.
//
// It backs lab runs (provider: catalog) and doubles as the in-memory
// management service in tests. A catalog opened from a file persists newly
// created deployments back to that file.
package catalog

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/blackwell-systems/deploygate/internal/deploy"
	"github.com/blackwell-systems/deploygate/internal/provider"
)

// Operation names usable as keys in Data.Faults.
const (
	OpLookupDeployable    = "lookup_deployable"
	OpLookupCollection    = "lookup_collection"
	OpDistributionStatus  = "distribution_status"
	OpExistingDeployments = "existing_deployments"
	OpCreateDeployment    = "create_deployment"
)

// Data is the on-disk catalog document.
type Data struct {
	Applications []Application `yaml:"applications"`
	UpdateGroups []UpdateGroup `yaml:"update_groups"`
	Collections  []Collection  `yaml:"collections"`
	Deployments  []Deployment  `yaml:"deployments"`

	// Faults makes the named operation fail with the given message.
	Faults map[string]string `yaml:"faults,omitempty"`
}

// Application is a catalog application entry.
type Application struct {
	Name         string        `yaml:"name"`
	ID           string        `yaml:"id"`
	Version      string        `yaml:"version"`
	PackageID    string        `yaml:"package_id"`
	Distribution *Distribution `yaml:"distribution,omitempty"`
}

// Distribution is the content status of an application.
type Distribution struct {
	Targeted   int `yaml:"targeted"`
	Success    int `yaml:"success"`
	InProgress int `yaml:"in_progress"`
	Errors     int `yaml:"errors"`
}

// UpdateGroup is a catalog software update group entry.
type UpdateGroup struct {
	Name               string `yaml:"name"`
	ID                 string `yaml:"id"`
	UpdateCount        int    `yaml:"update_count"`
	ExpiredUpdateCount int    `yaml:"expired_update_count"`
}

// Collection is a catalog collection entry. Kind is "Device" or "User".
type Collection struct {
	Name        string `yaml:"name"`
	ID          string `yaml:"id"`
	Kind        string `yaml:"kind"`
	MemberCount int    `yaml:"member_count"`
}

// Deployment is an existing deployment of a deployable to a collection.
type Deployment struct {
	ID         string     `yaml:"id"`
	Deployable string     `yaml:"deployable"`
	Collection string     `yaml:"collection"`
	Kind       string     `yaml:"kind,omitempty"`
	Purpose    string     `yaml:"purpose,omitempty"`
	CreatedAt  time.Time  `yaml:"created_at,omitempty"`
	DeadlineAt *time.Time `yaml:"deadline_at,omitempty"`
	Comment    string     `yaml:"comment,omitempty"`
}

// Catalog is a provider.Service over Data.
type Catalog struct {
	mu   sync.Mutex
	data Data
	path string
	now  func() time.Time
}

var _ provider.Service = (*Catalog)(nil)

// New returns an in-memory catalog. Nothing is persisted.
func New(data Data) *Catalog {
	return &Catalog{data: data, now: time.Now}
}

// Open loads the catalog file at path.
func Open(path string) (*Catalog, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}

	var data Data
	if err := yaml.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("failed to parse catalog %s: %w", path, err)
	}

	c := New(data)
	c.path = path
	return c, nil
}

// Deployments returns a copy of the known deployments.
func (c *Catalog) Deployments() []Deployment {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Deployment, len(c.data.Deployments))
	copy(out, c.data.Deployments)
	return out
}

// SetFault makes op fail with msg. An empty msg clears the fault.
func (c *Catalog) SetFault(op, msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if msg == "" {
		delete(c.data.Faults, op)
		return
	}
	if c.data.Faults == nil {
		c.data.Faults = make(map[string]string)
	}
	c.data.Faults[op] = msg
}

func (c *Catalog) fault(op string) error {
	if msg, ok := c.data.Faults[op]; ok {
		return fmt.Errorf("%s: %s", op, msg)
	}
	return nil
}

// LookupDeployable implements provider.Service.
func (c *Catalog) LookupDeployable(_ context.Context, name string, kind deploy.Kind) (*deploy.Deployable, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.fault(OpLookupDeployable); err != nil {
		return nil, err
	}

	switch kind {
	case deploy.KindApplication:
		for _, a := range c.data.Applications {
			if strings.EqualFold(a.Name, name) {
				return deploy.NewApplication(a.Name, a.ID, a.Version, a.PackageID), nil
			}
		}
	case deploy.KindUpdateGroup:
		for _, g := range c.data.UpdateGroups {
			if strings.EqualFold(g.Name, name) {
				return deploy.NewUpdateGroup(g.Name, g.ID, g.UpdateCount, g.ExpiredUpdateCount), nil
			}
		}
	default:
		return nil, fmt.Errorf("unsupported deployable kind %q", kind)
	}
	return nil, nil
}

// LookupCollection implements provider.Service.
func (c *Catalog) LookupCollection(_ context.Context, name string) (*deploy.Collection, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.fault(OpLookupCollection); err != nil {
		return nil, err
	}

	for _, col := range c.data.Collections {
		if strings.EqualFold(col.Name, name) {
			return &deploy.Collection{Name: col.Name, ID: col.ID, Kind: collectionKind(col.Kind), MemberCount: col.MemberCount}, nil
		}
	}
	return nil, nil
}

// collectionKind maps the catalog's kind field. Anything other than Device
// or User is kept as an unknown kind so it can never pass as a device
// collection.
func collectionKind(raw string) deploy.CollectionKind {
	k := strings.TrimSpace(raw)
	switch {
	case strings.EqualFold(k, string(deploy.CollectionDevice)):
		return deploy.CollectionDevice
	case strings.EqualFold(k, string(deploy.CollectionUser)):
		return deploy.CollectionUser
	case k == "":
		return deploy.CollectionKind("Unknown")
	}
	return deploy.CollectionKind(fmt.Sprintf("Unknown(%s)", k))
}

// DistributionStatus implements provider.Service. Content the catalog knows
// nothing about reports zero targeted points.
func (c *Catalog) DistributionStatus(_ context.Context, contentID string) (*deploy.DistributionStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.fault(OpDistributionStatus); err != nil {
		return nil, err
	}

	for _, a := range c.data.Applications {
		if a.PackageID == contentID || (a.PackageID == "" && a.ID == contentID) {
			if a.Distribution == nil {
				break
			}
			return &deploy.DistributionStatus{
				Targeted:   a.Distribution.Targeted,
				Success:    a.Distribution.Success,
				InProgress: a.Distribution.InProgress,
				Errors:     a.Distribution.Errors,
			}, nil
		}
	}
	return &deploy.DistributionStatus{}, nil
}

// ExistingDeployments implements provider.Service.
func (c *Catalog) ExistingDeployments(_ context.Context, deployableName, collectionName string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.fault(OpExistingDeployments); err != nil {
		return 0, err
	}

	count := 0
	for _, d := range c.data.Deployments {
		if strings.EqualFold(d.Deployable, deployableName) && strings.EqualFold(d.Collection, collectionName) {
			count++
		}
	}
	return count, nil
}

// CreateDeployment implements provider.Service. The new deployment is
// persisted before the ID is returned when the catalog came from a file.
func (c *Catalog) CreateDeployment(_ context.Context, req *provider.DeploymentRequest) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.fault(OpCreateDeployment); err != nil {
		return "", err
	}

	dep := Deployment{
		ID:         uuid.NewString(),
		Deployable: req.DeployableName,
		Collection: req.CollectionName,
		Kind:       string(req.Kind),
		Purpose:    string(req.Purpose),
		CreatedAt:  c.now().UTC(),
		Comment:    req.Comment,
	}
	if req.DeadlineAt != nil {
		deadline := req.DeadlineAt.UTC()
		dep.DeadlineAt = &deadline
	}

	c.data.Deployments = append(c.data.Deployments, dep)
	if c.path != "" {
		if err := c.save(); err != nil {
			c.data.Deployments = c.data.Deployments[:len(c.data.Deployments)-1]
			return "", err
		}
	}
	return dep.ID, nil
}

// save rewrites the catalog file atomically (must be called with lock held).
func (c *Catalog) save() error {
	raw, err := yaml.Marshal(&c.data)
	if err != nil {
		return fmt.Errorf("failed to marshal catalog: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(c.path), ".catalog-*.yaml")
	if err != nil {
		return fmt.Errorf("failed to write catalog: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write catalog: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to write catalog: %w", err)
	}
	if err := os.Rename(tmpName, c.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace catalog: %w", err)
	}
	return nil
}
