// Package pipeline sequences one validate-then-deploy cycle:
// resolve and gate, then execute, then record. Each stage returns its
// result so a front end can render progress and keep deploy disabled until
// the gate passes.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/blackwell-systems/deploygate/internal/audit"
	"github.com/blackwell-systems/deploygate/internal/deploy"
	"github.com/blackwell-systems/deploygate/internal/executor"
	"github.com/blackwell-systems/deploygate/internal/gate"
	"github.com/blackwell-systems/deploygate/internal/provider"
)

// Options configures a Pipeline.
type Options struct {
	// Actor identifies the operator in audit records.
	Actor string
	// Now overrides the clock used for audit timestamps.
	Now    func() time.Time
	Logger *slog.Logger
}

// Pipeline owns the gate, executor and audit log for one session.
type Pipeline struct {
	gate   *gate.Gate
	exec   *executor.Executor
	log    *audit.Log
	actor  string
	now    func() time.Time
	logger *slog.Logger
}

// New wires a pipeline around svc, recording outcomes to log.
func New(svc provider.Service, log *audit.Log, opts Options) *Pipeline {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Pipeline{
		gate:   gate.New(provider.NewResolver(svc, logger), logger),
		exec:   executor.New(svc, logger),
		log:    log,
		actor:  opts.Actor,
		now:    now,
		logger: logger,
	}
}

// AuditLog returns the log outcomes are recorded to.
func (p *Pipeline) AuditLog() *audit.Log {
	return p.log
}

// Result is what Deploy produced. Record is what was appended (or what
// failed to append when LogErr is set).
type Result struct {
	Preview deploy.Preview
	Outcome deploy.Outcome
	Record  audit.Record
	// LogErr is set when the audit append failed. The outcome stands.
	LogErr error
}

// Validate resolves the request and runs every safety check.
func (p *Pipeline) Validate(ctx context.Context, req gate.Request) *gate.Report {
	return p.gate.Run(ctx, req)
}

// Deploy executes a gated request and records the outcome. It refuses with
// ErrUnsafe unless report passed and with ErrInvalidConfig for a
// structurally invalid cfg; neither refusal reaches the service or the log.
//
// Once the executor has been invoked a Result is always returned and the
// audit append always happens. The error is then the execution error, if
// any; a failed append is reported in Result.LogErr only.
func (p *Pipeline) Deploy(ctx context.Context, report *gate.Report, cfg deploy.DeploymentConfig, ticket string) (*Result, error) {
	if report == nil || !report.Passed() {
		return nil, &deploy.Error{
			Kind:   deploy.ErrUnsafe,
			Op:     "deploy",
			Reason: "deployment blocked: the safety gate did not pass",
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	outcome, execErr := p.exec.Execute(ctx, report.Deployable, report.Collection, cfg)

	res := &Result{Preview: report.Preview(), Outcome: outcome}
	res.Record = audit.NewRecord(p.now(), p.actor, ticket, res.Preview, cfg, outcome)
	if err := p.log.Append(res.Record); err != nil {
		p.logger.Warn("deployment outcome was not recorded",
			"deployable", res.Preview.Name, "deployment_id", outcome.DeploymentID, "error", err)
		res.LogErr = err
	}

	if execErr != nil {
		return res, fmt.Errorf("deploy %s to %s: %w", res.Preview.Name, res.Preview.CollectionName, execErr)
	}
	return res, nil
}
