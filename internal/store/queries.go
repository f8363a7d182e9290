package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/blackwell-systems/deploygate/internal/audit"
)

// timeLayout is fixed-width so stored UTC timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(timeLayout, s)
}

// Index state

// Offset returns the byte offset of logPath already indexed, or 0.
func (s *Store) Offset(logPath string) (int64, error) {
	var offset int64
	err := s.db.QueryRow(`SELECT byte_offset FROM index_state WHERE log_path = ?`, logPath).Scan(&offset)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, wrapErr("read index offset", err)
	}
	return offset, nil
}

// AppendRecords indexes recs and advances the offset of logPath to
// newOffset in a single transaction, so a crash never leaves records
// indexed twice or skipped.
func (s *Store) AppendRecords(logPath string, recs []audit.Record, newOffset int64) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if len(recs) > 0 {
		stmt, err := tx.Prepare(`
			INSERT INTO audit_records
			(log_path, timestamp, actor, change_ticket, deployable_name, deployable_version, deployable_kind,
			 collection_name, collection_id, member_count, purpose, deadline_at, deployment_id, result, comment, succeeded)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			tx.Rollback() //nolint:errcheck
			return wrapErr("prepare insert", err)
		}
		defer stmt.Close()

		for i := range recs {
			r := &recs[i]
			if _, err := stmt.Exec(
				logPath,
				formatTime(r.Timestamp),
				r.Actor,
				r.ChangeTicket,
				r.DeployableName,
				r.DeployableVersion,
				r.DeployableKind,
				r.CollectionName,
				r.CollectionID,
				r.MemberCount,
				r.Purpose,
				formatTime(r.DeadlineAt),
				r.DeploymentID,
				r.Result,
				r.Comment,
				r.Succeeded(),
			); err != nil {
				tx.Rollback() //nolint:errcheck
				return wrapErr(fmt.Sprintf("index record for %s", r.DeployableName), err)
			}
		}
	}

	if _, err := tx.Exec(`
		INSERT INTO index_state (log_path, byte_offset, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(log_path) DO UPDATE SET byte_offset = excluded.byte_offset, updated_at = excluded.updated_at
	`, logPath, newOffset, formatTime(time.Now())); err != nil {
		tx.Rollback() //nolint:errcheck
		return wrapErr("update index offset", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit index update: %w", err)
	}
	return nil
}

// Reset drops everything indexed for logPath so it is rebuilt from the
// start of the file.
func (s *Store) Reset(logPath string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM audit_records WHERE log_path = ?`, logPath); err != nil {
		tx.Rollback() //nolint:errcheck
		return wrapErr("reset index", err)
	}
	if _, err := tx.Exec(`DELETE FROM index_state WHERE log_path = ?`, logPath); err != nil {
		tx.Rollback() //nolint:errcheck
		return wrapErr("reset index", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit index reset: %w", err)
	}
	return nil
}

// Record queries

func (f Filter) where() (string, []any) {
	var (
		clauses []string
		args    []any
	)
	if f.LogPath != "" {
		clauses = append(clauses, "log_path = ?")
		args = append(args, f.LogPath)
	}
	if f.Collection != "" {
		clauses = append(clauses, "collection_name = ? COLLATE NOCASE")
		args = append(args, f.Collection)
	}
	if f.Deployable != "" {
		clauses = append(clauses, "deployable_name = ? COLLATE NOCASE")
		args = append(args, f.Deployable)
	}
	if f.Actor != "" {
		clauses = append(clauses, "actor = ? COLLATE NOCASE")
		args = append(args, f.Actor)
	}
	if f.FailedOnly {
		clauses = append(clauses, "succeeded = 0")
	}
	if !f.Since.IsZero() {
		clauses = append(clauses, "timestamp >= ?")
		args = append(args, formatTime(f.Since))
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

const recordColumns = `timestamp, actor, change_ticket, deployable_name, deployable_version, deployable_kind,
	collection_name, collection_id, member_count, purpose, deadline_at, deployment_id, result, comment`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (audit.Record, error) {
	var (
		r            audit.Record
		ts, deadline string
	)
	if err := row.Scan(
		&ts,
		&r.Actor,
		&r.ChangeTicket,
		&r.DeployableName,
		&r.DeployableVersion,
		&r.DeployableKind,
		&r.CollectionName,
		&r.CollectionID,
		&r.MemberCount,
		&r.Purpose,
		&deadline,
		&r.DeploymentID,
		&r.Result,
		&r.Comment,
	); err != nil {
		return audit.Record{}, err
	}

	var err error
	if r.Timestamp, err = parseTime(ts); err != nil {
		return audit.Record{}, fmt.Errorf("failed to parse timestamp %q: %w", ts, err)
	}
	if r.DeadlineAt, err = parseTime(deadline); err != nil {
		return audit.Record{}, fmt.Errorf("failed to parse deadline %q: %w", deadline, err)
	}
	return r, nil
}

// ListRecords returns matching records oldest first. With a Limit only the
// most recent matches are returned, still oldest first.
func (s *Store) ListRecords(f Filter) ([]audit.Record, error) {
	where, args := f.where()
	query := `SELECT ` + recordColumns + ` FROM audit_records` + where + ` ORDER BY seq DESC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, wrapErr("list records", err)
	}
	defer rows.Close()

	var records []audit.Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("list records", err)
	}

	for i, j := 0, len(records)-1; i < j; i, j = i+1, j-1 {
		records[i], records[j] = records[j], records[i]
	}
	return records, nil
}

// CountRecords summarizes the records matching f. Limit is ignored.
func (s *Store) CountRecords(f Filter) (Counts, error) {
	where, args := f.where()
	var c Counts
	err := s.db.QueryRow(`
		SELECT COUNT(*), COALESCE(SUM(CASE WHEN succeeded THEN 1 ELSE 0 END), 0)
		FROM audit_records`+where, args...).Scan(&c.Total, &c.Succeeded)
	if err != nil {
		return Counts{}, wrapErr("count records", err)
	}
	c.Failed = c.Total - c.Succeeded
	return c, nil
}

// LastRecord returns the most recently indexed record for logPath, or nil.
func (s *Store) LastRecord(logPath string) (*audit.Record, error) {
	row := s.db.QueryRow(`SELECT `+recordColumns+` FROM audit_records WHERE log_path = ? ORDER BY seq DESC LIMIT 1`, logPath)
	r, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, wrapErr("get last record", err)
	}
	return &r, nil
}
