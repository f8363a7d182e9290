package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/blackwell-systems/deploygate/internal/deploy"
)

// Resolver turns names into entities and classifies every failure as one
// of the deploy error kinds.
type Resolver struct {
	svc    Service
	logger *slog.Logger
}

// NewResolver creates a Resolver backed by svc.
func NewResolver(svc Service, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{svc: svc, logger: logger}
}

// ResolveDeployable looks up an application or update group by name.
func (r *Resolver) ResolveDeployable(ctx context.Context, name string, kind deploy.Kind) (*deploy.Deployable, error) {
	d, err := guard(func() (*deploy.Deployable, error) {
		return r.svc.LookupDeployable(ctx, name, kind)
	})
	if err != nil {
		r.logger.Warn("deployable lookup failed", "deployable", name, "kind", kind, "error", err)
		return nil, &deploy.Error{
			Kind:    deploy.ErrServiceUnavailable,
			Op:      "resolve deployable",
			Subject: name,
			Reason:  fmt.Sprintf("lookup of %s %q failed: %v", kind.Noun(), name, err),
			Err:     err,
		}
	}
	if d == nil {
		return nil, &deploy.Error{
			Kind:    deploy.ErrNotFound,
			Op:      "resolve deployable",
			Subject: name,
			Reason:  fmt.Sprintf("%s %q not found", kind.Noun(), name),
		}
	}

	switch d.Kind {
	case deploy.KindApplication:
		r.logger.Info("found application", "deployable", d.DisplayName, "version", d.VersionLabel(), "id", d.ID)
	case deploy.KindUpdateGroup:
		r.logger.Info("found software update group", "deployable", d.DisplayName, "updates", d.VersionLabel(), "id", d.ID)
	}
	return d, nil
}

// ResolveCollection looks up a collection by name. A collection that exists
// but is not a device collection fails with deploy.ErrWrongKind and a reason
// meant to be shown to the operator as is.
func (r *Resolver) ResolveCollection(ctx context.Context, name string) (*deploy.Collection, error) {
	c, err := guard(func() (*deploy.Collection, error) {
		return r.svc.LookupCollection(ctx, name)
	})
	if err != nil {
		r.logger.Warn("collection lookup failed", "collection", name, "error", err)
		return nil, &deploy.Error{
			Kind:    deploy.ErrServiceUnavailable,
			Op:      "resolve collection",
			Subject: name,
			Reason:  fmt.Sprintf("lookup of collection %q failed: %v", name, err),
			Err:     err,
		}
	}
	if c == nil {
		return nil, &deploy.Error{
			Kind:    deploy.ErrNotFound,
			Op:      "resolve collection",
			Subject: name,
			Reason:  fmt.Sprintf("collection %q not found", name),
		}
	}
	if !c.IsDeployable() {
		return nil, &deploy.Error{
			Kind:    deploy.ErrWrongKind,
			Op:      "resolve collection",
			Subject: name,
			Reason: fmt.Sprintf("collection %q is a %s collection; only Device collections can be deployment targets",
				c.Name, c.Kind),
		}
	}

	r.logger.Info("found collection", "collection", c.Name, "collection_id", c.ID, "members", c.MemberCount)
	return c, nil
}

// DistributionStatus queries content distribution for contentID. A failed
// or empty answer is returned as deploy.ErrServiceUnavailable.
func (r *Resolver) DistributionStatus(ctx context.Context, contentID string) (*deploy.DistributionStatus, error) {
	st, err := guard(func() (*deploy.DistributionStatus, error) {
		return r.svc.DistributionStatus(ctx, contentID)
	})
	if err == nil && st == nil {
		err = errors.New("service returned no distribution status")
	}
	if err != nil {
		r.logger.Warn("distribution status query failed", "content_id", contentID, "error", err)
		return nil, &deploy.Error{
			Kind:    deploy.ErrServiceUnavailable,
			Op:      "query distribution status",
			Subject: contentID,
			Reason:  fmt.Sprintf("distribution status query failed: %v", err),
			Err:     err,
		}
	}
	return st, nil
}

// ExistingDeployments counts deployments of deployableName to
// collectionName.
func (r *Resolver) ExistingDeployments(ctx context.Context, deployableName, collectionName string) (int, error) {
	n, err := guard(func() (int, error) {
		return r.svc.ExistingDeployments(ctx, deployableName, collectionName)
	})
	if err != nil {
		r.logger.Warn("existing deployment query failed", "deployable", deployableName, "collection", collectionName, "error", err)
		return 0, &deploy.Error{
			Kind:    deploy.ErrServiceUnavailable,
			Op:      "query existing deployments",
			Subject: deployableName,
			Reason:  fmt.Sprintf("existing deployment query failed: %v", err),
			Err:     err,
		}
	}
	return n, nil
}

// guard runs one service call, turning a panic inside the adapter into an
// ordinary error.
func guard[T any](call func() (T, error)) (v T, err error) {
	defer func() {
		if p := recover(); p != nil {
			var zero T
			v, err = zero, fmt.Errorf("provider panicked: %v", p)
		}
	}()
	return call()
}
