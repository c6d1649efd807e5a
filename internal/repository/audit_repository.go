package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/iliyamo/travel-booking/internal/audit"
)

// AuditRepo is the durable audit sink. It only ever inserts; there is no
// update or delete path.
type AuditRepo struct {
	db *sql.DB
}

func NewAuditRepo(db *sql.DB) *AuditRepo { return &AuditRepo{db: db} }

var _ audit.Sink = (*AuditRepo)(nil)

func (r *AuditRepo) Append(ctx context.Context, e audit.Entry) (audit.Entry, error) {
	var md any
	if len(e.Metadata) > 0 {
		raw, err := json.Marshal(e.Metadata)
		if err != nil {
			return audit.Entry{}, fmt.Errorf("marshal audit metadata: %w", err)
		}
		md = string(raw)
	}
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO audit_log (actor, action, target, ts, outcome, metadata) VALUES (?, ?, ?, ?, ?, ?)`,
		e.Actor, string(e.Action), e.Target, e.Timestamp.UTC(), string(e.Outcome), md)
	if err != nil {
		return audit.Entry{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return audit.Entry{}, err
	}
	e.Seq = uint64(id)
	return e, nil
}

const auditColumns = `SELECT seq, actor, action, target, ts, outcome, metadata FROM audit_log`

// Export pages on (ts, seq) so entries sharing a timestamp with the cursor
// are not skipped.
func (r *AuditRepo) Export(ctx context.Context, after audit.Cursor, limit int) ([]audit.Entry, error) {
	var (
		rows *sql.Rows
		err  error
	)
	since := after.Since.UTC()
	if after.Seq == 0 {
		rows, err = r.db.QueryContext(ctx,
			auditColumns+` WHERE ts > ? ORDER BY ts ASC, seq ASC LIMIT ?`,
			since, limit)
	} else {
		rows, err = r.db.QueryContext(ctx,
			auditColumns+` WHERE ts > ? OR (ts = ? AND seq > ?) ORDER BY ts ASC, seq ASC LIMIT ?`,
			since, since, after.Seq, limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []audit.Entry
	for rows.Next() {
		var (
			e               audit.Entry
			action, outcome string
			md              sql.NullString
		)
		if err := rows.Scan(&e.Seq, &e.Actor, &action, &e.Target, &e.Timestamp, &outcome, &md); err != nil {
			return nil, err
		}
		e.Action = audit.Action(action)
		e.Outcome = audit.Outcome(outcome)
		e.Timestamp = e.Timestamp.UTC()
		if md.Valid && md.String != "" {
			if err := json.Unmarshal([]byte(md.String), &e.Metadata); err != nil {
				return nil, fmt.Errorf("decode audit metadata seq=%d: %w", e.Seq, err)
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
