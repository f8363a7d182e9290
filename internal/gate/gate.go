// Package gate runs the fixed sequence of pre-deployment safety checks.
//
// The five checks always run in the same order. A check whose input entity
// failed to resolve is reported as skipped, and a skipped check blocks the
// deployment exactly like a failed one. Checks that do not apply to update
// groups are reported as not applicable and do not block. The gate never
// changes anything on the management service.
package gate

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/blackwell-systems/deploygate/internal/deploy"
	"github.com/blackwell-systems/deploygate/internal/provider"
)

// CheckID numbers the checks in execution order.
type CheckID int

const (
	CheckDeployableExists CheckID = iota + 1
	CheckContentDistributed
	CheckCollectionValid
	CheckCollectionSafe
	CheckNoDuplicate
)

var checkNames = map[CheckID]string{
	CheckDeployableExists:   "Deployable exists",
	CheckContentDistributed: "Content distributed",
	CheckCollectionValid:    "Collection valid",
	CheckCollectionSafe:     "Collection safe",
	CheckNoDuplicate:        "No duplicate deployment",
}

func (id CheckID) String() string {
	if name, ok := checkNames[id]; ok {
		return name
	}
	return fmt.Sprintf("check %d", int(id))
}

// Status is the verdict of one check.
type Status int

const (
	StatusPass Status = iota
	StatusFail
	StatusSkipped
	StatusNotApplicable
)

func (s Status) String() string {
	switch s {
	case StatusPass:
		return "pass"
	case StatusFail:
		return "fail"
	case StatusSkipped:
		return "skipped"
	case StatusNotApplicable:
		return "n/a"
	}
	return "unknown"
}

// CheckResult is one rendered line of the gate.
type CheckResult struct {
	ID     CheckID
	Status Status
	Reason string
	// Err carries the classified error behind a Fail, if any.
	Err error
}

// Name is the display name of the check.
func (r CheckResult) Name() string { return r.ID.String() }

// Blocks reports whether this result prevents deployment.
func (r CheckResult) Blocks() bool {
	return r.Status == StatusFail || r.Status == StatusSkipped
}

// Request names what the operator wants to deploy and where.
type Request struct {
	DeployableName string
	Kind           deploy.Kind
	CollectionName string
}

// Report is the outcome of one gate run. Deployable and Collection are nil
// when they failed to resolve.
type Report struct {
	Request    Request
	Deployable *deploy.Deployable
	Collection *deploy.Collection
	Checks     []CheckResult
}

// Passed is true only when every check passed or was not applicable.
func (r *Report) Passed() bool {
	if len(r.Checks) == 0 {
		return false
	}
	for _, c := range r.Checks {
		if c.Blocks() {
			return false
		}
	}
	return true
}

// Check returns the result for id.
func (r *Report) Check(id CheckID) (CheckResult, bool) {
	for _, c := range r.Checks {
		if c.ID == id {
			return c, true
		}
	}
	return CheckResult{}, false
}

// Blocking returns the checks that block deployment, in order.
func (r *Report) Blocking() []CheckResult {
	var out []CheckResult
	for _, c := range r.Checks {
		if c.Blocks() {
			out = append(out, c)
		}
	}
	return out
}

// Preview projects the resolved entities for display.
func (r *Report) Preview() deploy.Preview {
	return deploy.BuildPreview(r.Deployable, r.Collection)
}

// Gate evaluates requests against the management service.
type Gate struct {
	resolver *provider.Resolver
	logger   *slog.Logger
}

// New creates a Gate.
func New(resolver *provider.Resolver, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{resolver: resolver, logger: logger}
}

// Run resolves both entities and evaluates all five checks in order. It
// always returns a report with five results; service failures become
// failing checks rather than errors.
func (g *Gate) Run(ctx context.Context, req Request) *Report {
	report := &Report{Request: req}

	// 1. Deployable exists
	d, err := g.resolver.ResolveDeployable(ctx, req.DeployableName, req.Kind)
	if err != nil {
		report.add(CheckDeployableExists, StatusFail, err.Error(), err)
	} else {
		report.Deployable = d
		report.add(CheckDeployableExists, StatusPass,
			fmt.Sprintf("found %s %q (%s)", d.Kind.Noun(), d.DisplayName, d.VersionLabel()), nil)
	}

	// 2. Content distributed
	report.Checks = append(report.Checks, g.checkDistribution(ctx, report.Deployable))

	// 3. Collection valid
	c, err := g.resolver.ResolveCollection(ctx, req.CollectionName)
	if err != nil {
		report.add(CheckCollectionValid, StatusFail, err.Error(), err)
	} else {
		report.Collection = c
		report.add(CheckCollectionValid, StatusPass,
			fmt.Sprintf("device collection %q (%s, %d members)", c.Name, c.ID, c.MemberCount), nil)
	}

	// 4. Collection safe
	if report.Collection == nil {
		report.add(CheckCollectionSafe, StatusSkipped, "skipped: collection not resolved", nil)
	} else {
		v := EvaluateCollectionSafe(report.Collection)
		if v.IsSafe {
			report.add(CheckCollectionSafe, StatusPass, v.Reason, nil)
		} else {
			report.add(CheckCollectionSafe, StatusFail, v.Reason, &deploy.Error{
				Kind: deploy.ErrUnsafe, Op: "check collection", Subject: report.Collection.ID, Reason: v.Reason,
			})
		}
	}

	// 5. No duplicate deployment
	report.Checks = append(report.Checks, g.checkDuplicate(ctx, report.Deployable, report.Collection))

	for _, cr := range report.Checks {
		g.logger.Debug("safety check", "check", cr.ID.String(), "status", cr.Status.String(), "reason", cr.Reason)
	}
	if report.Passed() {
		g.logger.Info("safety gate passed", "deployable", req.DeployableName, "collection", req.CollectionName)
	} else {
		g.logger.Warn("safety gate blocked deployment", "deployable", req.DeployableName,
			"collection", req.CollectionName, "blocking", len(report.Blocking()))
	}
	return report
}

func (r *Report) add(id CheckID, status Status, reason string, err error) {
	r.Checks = append(r.Checks, CheckResult{ID: id, Status: status, Reason: reason, Err: err})
}

func (g *Gate) checkDistribution(ctx context.Context, d *deploy.Deployable) CheckResult {
	res := CheckResult{ID: CheckContentDistributed}
	if d == nil {
		res.Status, res.Reason = StatusSkipped, "skipped: deployable not resolved"
		return res
	}

	switch d.Kind {
	case deploy.KindUpdateGroup:
		res.Status, res.Reason = StatusNotApplicable, "not applicable to software update groups"
		return res
	case deploy.KindApplication:
	default:
		res.Status, res.Reason = StatusFail, fmt.Sprintf("unsupported deployable kind %q", d.Kind)
		return res
	}

	st, err := g.resolver.DistributionStatus(ctx, d.ContentID())
	if err != nil {
		res.Status, res.Reason, res.Err = StatusFail, err.Error(), err
		return res
	}

	summary := fmt.Sprintf("%d/%d distribution points succeeded, %d in progress, %d errors",
		st.Success, st.Targeted, st.InProgress, st.Errors)
	switch {
	case st.IsFullyDistributed():
		res.Status, res.Reason = StatusPass, "fully distributed: "+summary
	case st.Targeted == 0:
		res.Status, res.Reason = StatusFail, "content is not targeted to any distribution point"
	default:
		res.Status, res.Reason = StatusFail, "content not fully distributed: "+summary
	}
	return res
}

func (g *Gate) checkDuplicate(ctx context.Context, d *deploy.Deployable, c *deploy.Collection) CheckResult {
	res := CheckResult{ID: CheckNoDuplicate}

	if d != nil && d.Kind == deploy.KindUpdateGroup {
		res.Status, res.Reason = StatusNotApplicable, "not applicable to software update groups"
		return res
	}
	if d == nil || c == nil {
		var missing []string
		if d == nil {
			missing = append(missing, "deployable")
		}
		if c == nil {
			missing = append(missing, "collection")
		}
		res.Status = StatusSkipped
		res.Reason = "skipped: " + strings.Join(missing, " and ") + " not resolved"
		return res
	}

	dup, n, err := countExisting(ctx, g.resolver, d.DisplayName, c.Name)
	if err != nil {
		res.Status, res.Reason, res.Err = StatusFail, err.Error(), err
		return res
	}
	if dup {
		res.Status = StatusFail
		res.Reason = fmt.Sprintf("%q is already deployed to %q (%d existing deployment(s))", d.DisplayName, c.Name, n)
		res.Err = &deploy.Error{Kind: deploy.ErrDuplicate, Op: "check duplicate", Subject: d.DisplayName, Reason: res.Reason}
		return res
	}
	res.Status, res.Reason = StatusPass, fmt.Sprintf("no existing deployment of %q to %q", d.DisplayName, c.Name)
	return res
}
