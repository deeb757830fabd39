package sqldb

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/warp/finance-engine/generic"
)

// =============================================================================
// AUDIT LOG
// =============================================================================

const auditColumns = `id, at, actor_id, subject_kind, subject_id, action, transition, from_state, to_state, payload_json`

func (t *txn) AppendAudit(ctx context.Context, e generic.AuditEntry) error {
	if e.ID == "" {
		e.ID = generic.NewSortableID()
	}
	payload := "{}"
	if len(e.Payload) > 0 {
		b, err := json.Marshal(e.Payload)
		if err != nil {
			return fmt.Errorf("encode audit payload: %w", err)
		}
		payload = string(b)
	}
	_, err := t.exec(ctx, `INSERT INTO audit_log (`+auditColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, fmtTime(e.At), e.ActorID, e.SubjectKind, e.SubjectID, string(e.Action), e.Transition,
		e.From, e.To, payload)
	if err != nil {
		return fmt.Errorf("append audit: %w", err)
	}
	return nil
}

func (t *txn) QueryAudit(ctx context.Context, f generic.AuditFilter) ([]generic.AuditEntry, error) {
	var where []string
	var args []any
	if f.SubjectKind != "" {
		where = append(where, "subject_kind = ?")
		args = append(args, f.SubjectKind)
	}
	if f.SubjectID != "" {
		where = append(where, "subject_id = ?")
		args = append(args, f.SubjectID)
	}
	if f.ActorID != "" {
		where = append(where, "actor_id = ?")
		args = append(args, f.ActorID)
	}
	if len(f.Actions) > 0 {
		where = append(where, "action IN ("+placeholders(len(f.Actions))+")")
		for _, a := range f.Actions {
			args = append(args, string(a))
		}
	}
	query := `SELECT ` + auditColumns + ` FROM audit_log`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY at, id"

	rows, err := t.query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []generic.AuditEntry
	for rows.Next() {
		var e generic.AuditEntry
		var at, action, payload string
		if err := rows.Scan(&e.ID, &at, &e.ActorID, &e.SubjectKind, &e.SubjectID, &action, &e.Transition,
			&e.From, &e.To, &payload); err != nil {
			return nil, err
		}
		e.At = parseTime(at)
		e.Action = generic.AuditAction(action)
		if payload != "" && payload != "{}" {
			if err := json.Unmarshal([]byte(payload), &e.Payload); err != nil {
				return nil, fmt.Errorf("decode audit payload %s: %w", e.ID, err)
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) AppendAudit(ctx context.Context, e generic.AuditEntry) error {
	return s.reader().AppendAudit(ctx, e)
}

func (s *Store) QueryAudit(ctx context.Context, f generic.AuditFilter) ([]generic.AuditEntry, error) {
	return s.reader().QueryAudit(ctx, f)
}
