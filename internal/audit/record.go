// Package audit implements the append-only deployment audit log.
//
// The log is a JSON-lines file: one complete Record per line, UTF-8,
// oldest first. Records are written once when an execution attempt
// concludes and are never updated, rewritten or deleted by this tool.
package audit

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/blackwell-systems/deploygate/internal/deploy"
)

// Record describes a single deployment attempt and its outcome.
//
// Every field is always serialized, including empty strings and zero
// values, so a record read back compares equal to the one written.
type Record struct {
	Timestamp         time.Time `json:"timestamp"`
	Actor             string    `json:"actor"`
	ChangeTicket      string    `json:"change_ticket"`
	DeployableName    string    `json:"deployable_name"`
	DeployableVersion string    `json:"deployable_version"`
	CollectionName    string    `json:"collection_name"`
	CollectionID      string    `json:"collection_id"`
	MemberCount       int       `json:"member_count"`
	Purpose           string    `json:"purpose"`
	DeadlineAt        time.Time `json:"deadline_at"`
	DeploymentID      string    `json:"deployment_id"`
	Result            string    `json:"result"`
	Comment           string    `json:"comment"`
	DeployableKind    string    `json:"deployable_kind"`
}

// Succeeded reports whether the recorded attempt succeeded.
func (r *Record) Succeeded() bool {
	return r.Result == "Success"
}

// NewRecord assembles the record for an attempt from the preview the
// operator confirmed, the configuration used and the outcome. DeadlineAt is
// only carried for Required deployments.
func NewRecord(at time.Time, actor, ticket string, p deploy.Preview, cfg deploy.DeploymentConfig, out deploy.Outcome) Record {
	rec := Record{
		Timestamp:         at.UTC(),
		Actor:             actor,
		ChangeTicket:      ticket,
		DeployableName:    p.Name,
		DeployableVersion: p.VersionLabel,
		CollectionName:    p.CollectionName,
		CollectionID:      p.CollectionID,
		MemberCount:       p.MemberCount,
		Purpose:           string(cfg.Purpose),
		DeploymentID:      out.DeploymentID,
		Result:            out.Result(),
		Comment:           cfg.Comment,
		DeployableKind:    string(p.Kind),
	}
	if cfg.Purpose == deploy.PurposeRequired && !cfg.DeadlineAt.IsZero() {
		rec.DeadlineAt = cfg.DeadlineAt.UTC()
	}
	return rec
}

// ParseLine decodes one log line. Unknown fields are ignored and missing
// fields keep their zero value.
func ParseLine(line []byte) (Record, error) {
	var rec Record
	if err := json.Unmarshal(line, &rec); err != nil {
		return Record{}, fmt.Errorf("failed to parse audit record: %w", err)
	}
	return rec, nil
}

// encodeLine renders a record as a single newline-terminated line.
func encodeLine(rec Record) ([]byte, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal audit record: %w", err)
	}
	return append(data, '\n'), nil
}
