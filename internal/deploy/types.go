// Package deploy defines the entities that flow through a deployment
// validation cycle: deployables, collections, distribution state, the
// deployment configuration chosen by the operator and the outcome of an
// execution attempt.
//
// Values in this package are snapshots. They are fetched once per
// validate/deploy cycle and never cached between cycles.
package deploy

import (
	"fmt"
	"strings"
)

// Kind distinguishes the two deployable variants.
type Kind string

const (
	KindApplication Kind = "Application"
	KindUpdateGroup Kind = "UpdateGroup"
)

// ParseKind accepts the canonical names plus a few operator-friendly forms.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "application", "app":
		return KindApplication, nil
	case "updategroup", "update-group", "sug":
		return KindUpdateGroup, nil
	}
	return "", fmt.Errorf("unknown deployable kind %q: must be Application or UpdateGroup", s)
}

// Noun is the operator-facing name of the kind.
func (k Kind) Noun() string {
	if k == KindUpdateGroup {
		return "software update group"
	}
	return "application"
}

// ApplicationInfo holds the fields only applications carry.
type ApplicationInfo struct {
	Version   string
	PackageID string // content ID used for distribution status
}

// UpdateGroupInfo holds the fields only software update groups carry.
type UpdateGroupInfo struct {
	UpdateCount        int
	ExpiredUpdateCount int
}

// Deployable is an application or a software update group. Exactly one of
// App and Updates is set, matching Kind.
type Deployable struct {
	Kind        Kind
	DisplayName string
	ID          string

	App     *ApplicationInfo
	Updates *UpdateGroupInfo
}

// NewApplication builds an application deployable.
func NewApplication(name, id, version, packageID string) *Deployable {
	return &Deployable{
		Kind:        KindApplication,
		DisplayName: name,
		ID:          id,
		App:         &ApplicationInfo{Version: version, PackageID: packageID},
	}
}

// NewUpdateGroup builds a software update group deployable.
func NewUpdateGroup(name, id string, updates, expired int) *Deployable {
	return &Deployable{
		Kind:        KindUpdateGroup,
		DisplayName: name,
		ID:          id,
		Updates:     &UpdateGroupInfo{UpdateCount: updates, ExpiredUpdateCount: expired},
	}
}

// VersionLabel is the application version, or an update count summary for
// update groups.
func (d *Deployable) VersionLabel() string {
	switch d.Kind {
	case KindApplication:
		if d.App == nil {
			return ""
		}
		return d.App.Version
	case KindUpdateGroup:
		if d.Updates == nil {
			return ""
		}
		label := fmt.Sprintf("%d updates", d.Updates.UpdateCount)
		if d.Updates.ExpiredUpdateCount > 0 {
			label += fmt.Sprintf(", %d expired", d.Updates.ExpiredUpdateCount)
		}
		return label
	}
	return ""
}

// ContentID returns the identifier distribution status is tracked under.
// Update groups have none.
func (d *Deployable) ContentID() string {
	if d.Kind == KindApplication && d.App != nil {
		if d.App.PackageID != "" {
			return d.App.PackageID
		}
		return d.ID
	}
	return ""
}

// CollectionKind is the membership type of a collection.
type CollectionKind string

const (
	CollectionDevice CollectionKind = "Device"
	CollectionUser   CollectionKind = "User"
)

// Collection is a named group of managed devices or users.
type Collection struct {
	Name        string
	ID          string
	Kind        CollectionKind
	MemberCount int
}

// IsDeployable reports whether the collection may be a deployment target at
// all. Only device collections qualify.
func (c *Collection) IsDeployable() bool {
	return c.Kind == CollectionDevice
}

// DistributionStatus summarises content staging across distribution points.
type DistributionStatus struct {
	Targeted   int
	Success    int
	InProgress int
	Errors     int
}

// IsFullyDistributed holds when every targeted point succeeded, at least one
// point was targeted, and no point reported an error.
func (s DistributionStatus) IsFullyDistributed() bool {
	return s.Success >= s.Targeted && s.Targeted > 0 && s.Errors == 0
}

// SafetyVerdict is the result of evaluating a collection as a target.
type SafetyVerdict struct {
	IsSafe bool
	Reason string
}

// Outcome is produced exactly once per execution attempt.
type Outcome struct {
	Success      bool
	DeploymentID string
	ErrorDetail  string
}

// Result renders the outcome the way it is stored in the audit log.
func (o Outcome) Result() string {
	if o.Success {
		return "Success"
	}
	return "Failed: " + o.ErrorDetail
}
