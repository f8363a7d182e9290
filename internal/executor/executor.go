// Package executor issues the create-deployment call for a gated target and
// classifies the result. It never writes the audit log; the caller records
// every outcome it returns.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/blackwell-systems/deploygate/internal/deploy"
	"github.com/blackwell-systems/deploygate/internal/provider"
)

// updateGroupDownloadPolicy is applied to every Required update group
// deployment and is not configurable.
var updateGroupDownloadPolicy = provider.DownloadPolicy{
	Protected:   provider.ProtectedRemoteDistributionPoint,
	Unprotected: provider.UnprotectedDistributionPoint,
}

// Executor creates deployments through a provider.Service.
type Executor struct {
	svc    provider.Service
	logger *slog.Logger
}

// New creates an Executor.
func New(svc provider.Service, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{svc: svc, logger: logger}
}

// BuildRequest translates a resolved target and configuration into the
// provider request. The deadline is carried only for Required deployments.
func BuildRequest(d *deploy.Deployable, c *deploy.Collection, cfg deploy.DeploymentConfig) *provider.DeploymentRequest {
	req := &provider.DeploymentRequest{
		Kind:                       d.Kind,
		DeployableName:             d.DisplayName,
		DeployableID:               d.ID,
		CollectionName:             c.Name,
		CollectionID:               c.ID,
		Purpose:                    cfg.Purpose,
		AvailableAt:                cfg.AvailableAt,
		Notification:               cfg.Notification,
		OverrideServiceWindow:      cfg.OverrideServiceWindow,
		RebootOutsideServiceWindow: cfg.RebootOutsideServiceWindow,
		AllowMeteredConnection:     cfg.AllowMeteredConnection,
		Comment:                    cfg.Comment,
	}

	if cfg.Purpose == deploy.PurposeRequired {
		deadline := cfg.DeadlineAt
		req.DeadlineAt = &deadline
		if d.Kind == deploy.KindUpdateGroup {
			policy := updateGroupDownloadPolicy
			req.DownloadPolicy = &policy
		}
	}
	return req
}

// Execute creates one deployment. The service is called at most once and a
// failure is never retried. The returned error is nil on success and wraps
// ErrInvalidConfig or ErrExecutionFailed otherwise; the Outcome is always
// populated.
func (e *Executor) Execute(ctx context.Context, d *deploy.Deployable, c *deploy.Collection, cfg deploy.DeploymentConfig) (deploy.Outcome, error) {
	if d == nil || c == nil {
		err := &deploy.Error{Kind: deploy.ErrExecutionFailed, Op: "execute", Reason: "deployable and collection must both be resolved"}
		return deploy.Outcome{ErrorDetail: err.Error()}, err
	}
	if err := cfg.Validate(); err != nil {
		return deploy.Outcome{ErrorDetail: err.Error()}, err
	}

	req := BuildRequest(d, c, cfg)

	e.logger.Info("creating deployment",
		"deployable", d.DisplayName,
		"version", d.VersionLabel(),
		"collection", c.Name,
		"collection_id", c.ID,
		"members", c.MemberCount,
		"purpose", string(cfg.Purpose))

	id, err := e.create(ctx, req)
	if err != nil {
		e.logger.Error("deployment failed", "deployable", d.DisplayName, "collection", c.Name, "error", err)
		return deploy.Outcome{ErrorDetail: err.Error()}, &deploy.Error{
			Kind: deploy.ErrExecutionFailed, Op: "create deployment", Subject: d.DisplayName, Err: err,
		}
	}

	e.logger.Info("deployment created", "deployable", d.DisplayName, "collection", c.Name, "deployment_id", id)
	return deploy.Outcome{Success: true, DeploymentID: id}, nil
}

// create calls the service, converting an adapter panic into an error.
func (e *Executor) create(ctx context.Context, req *provider.DeploymentRequest) (id string, err error) {
	defer func() {
		if r := recover(); r != nil {
			id, err = "", fmt.Errorf("provider panicked: %v", r)
		}
	}()

	id, err = e.svc.CreateDeployment(ctx, req)
	if err == nil && id == "" {
		err = errors.New("provider returned no deployment ID")
	}
	return id, err
}
