// Package provider abstracts the external management service and resolves
// operator-supplied names into deployables and collections.
package provider

import (
	"context"
	"time"

	"github.com/blackwell-systems/deploygate/internal/deploy"
)

// Service is the capability set deploygate needs from a management
// service. Lookups return (nil, nil) when the entity does not exist; any
// returned error means the query itself failed.
type Service interface {
	LookupDeployable(ctx context.Context, name string, kind deploy.Kind) (*deploy.Deployable, error)
	LookupCollection(ctx context.Context, name string) (*deploy.Collection, error)
	DistributionStatus(ctx context.Context, contentID string) (*deploy.DistributionStatus, error)
	ExistingDeployments(ctx context.Context, deployableName, collectionName string) (int, error)
	CreateDeployment(ctx context.Context, req *DeploymentRequest) (string, error)
}

// Pinger is implemented by services that can check connectivity cheaply.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Download policy values for software update deployments.
const (
	ProtectedRemoteDistributionPoint = "RemoteDistributionPoint"
	UnprotectedDistributionPoint     = "UnprotectedDistributionPoint"
)

// DownloadPolicy tells clients where to fetch update content from.
type DownloadPolicy struct {
	Protected   string
	Unprotected string
}

// DeploymentRequest is the provider-neutral create-deployment call.
// DeadlineAt is nil unless Purpose is Required. DownloadPolicy is only set
// for Required update group deployments.
type DeploymentRequest struct {
	Kind           deploy.Kind
	DeployableName string
	DeployableID   string
	CollectionName string
	CollectionID   string

	Purpose                    deploy.Purpose
	AvailableAt                time.Time
	DeadlineAt                 *time.Time
	Notification               deploy.NotificationPolicy
	OverrideServiceWindow      bool
	RebootOutsideServiceWindow bool
	AllowMeteredConnection     bool
	DownloadPolicy             *DownloadPolicy
	Comment                    string
}
