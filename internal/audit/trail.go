package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"oncall/internal/db"
	"oncall/internal/domain"
)

// DefaultReceptionWindow bounds the fallback correlation scan.
const DefaultReceptionWindow = 50

// Trail is the append-only audit log. Rows are never updated or deleted;
// ordering within an incident is by timestamp with insertion-order tie-break.
type Trail struct {
	Store *db.Store
	Actor string
	Now   func() time.Time
	Log   *zap.Logger
}

func New(store *db.Store, actor string, logger *zap.Logger) *Trail {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Trail{Store: store, Actor: actor, Now: time.Now, Log: logger}
}

// Append durably inserts one audit event and returns it.
func (t *Trail) Append(ctx context.Context, actionType string, details map[string]any, incidentID, status string) (domain.AuditEvent, error) {
	if status == "" {
		status = domain.StatusSuccess
	}
	if details == nil {
		details = map[string]any{}
	}
	now := t.Now
	if now == nil {
		now = time.Now
	}
	evt := domain.AuditEvent{
		ID:         uuid.NewString(),
		IncidentID: incidentID,
		TS:         now().UTC().Format(time.RFC3339),
		Actor:      t.Actor,
		ActionType: actionType,
		Details:    details,
		Status:     status,
	}
	data, err := json.Marshal(details)
	if err != nil {
		return domain.AuditEvent{}, fmt.Errorf("marshal audit details: %w", err)
	}
	err = t.Store.RunTx(ctx, false, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO audit_logs(id,incident_id,ts,actor,action_type,details_json,status) VALUES (?,?,?,?,?,?,?)`,
			evt.ID, nullable(evt.IncidentID), evt.TS, evt.Actor, evt.ActionType, string(data), evt.Status)
		return err
	})
	if err != nil {
		return domain.AuditEvent{}, fmt.Errorf("append audit event: %w", err)
	}
	return evt, nil
}

// Record appends an audit event and swallows any storage failure after
// logging it. Audit writes must never abort the control flow that produced
// them; degraded observability beats an aborted remediation.
func (t *Trail) Record(ctx context.Context, actionType string, details map[string]any, incidentID, status string) {
	if _, err := t.Append(ctx, actionType, details, incidentID, status); err != nil {
		t.Log.Warn("audit write failed",
			zap.String("action_type", actionType),
			zap.String("incident_id", incidentID),
			zap.Error(err))
	}
}

// RecentReceptions returns the most recent RECEIVED events, newest first,
// bounded by limit (DefaultReceptionWindow when limit <= 0). Used by the
// correlation resolver's fallback scan.
func (t *Trail) RecentReceptions(ctx context.Context, limit int) ([]domain.AuditEvent, error) {
	if limit <= 0 {
		limit = DefaultReceptionWindow
	}
	return t.query(ctx, `SELECT id,COALESCE(incident_id,''),ts,actor,action_type,details_json,status FROM audit_logs
WHERE action_type=? ORDER BY ts DESC, rowid DESC LIMIT ?`, domain.ActionReceived, limit)
}

// ListByIncident returns all events for an incident in occurrence order.
func (t *Trail) ListByIncident(ctx context.Context, incidentID string) ([]domain.AuditEvent, error) {
	return t.query(ctx, `SELECT id,COALESCE(incident_id,''),ts,actor,action_type,details_json,status FROM audit_logs
WHERE incident_id=? ORDER BY ts ASC, rowid ASC`, incidentID)
}

// ListByAction returns events of one action type for an incident, in
// occurrence order.
func (t *Trail) ListByAction(ctx context.Context, incidentID, actionType string) ([]domain.AuditEvent, error) {
	return t.query(ctx, `SELECT id,COALESCE(incident_id,''),ts,actor,action_type,details_json,status FROM audit_logs
WHERE incident_id=? AND action_type=? ORDER BY ts ASC, rowid ASC`, incidentID, actionType)
}

// Tail returns the newest events across all incidents, newest first.
func (t *Trail) Tail(ctx context.Context, limit int) ([]domain.AuditEvent, error) {
	if limit <= 0 {
		limit = DefaultReceptionWindow
	}
	return t.query(ctx, `SELECT id,COALESCE(incident_id,''),ts,actor,action_type,details_json,status FROM audit_logs
ORDER BY ts DESC, rowid DESC LIMIT ?`, limit)
}

func (t *Trail) query(ctx context.Context, q string, args ...any) ([]domain.AuditEvent, error) {
	var res []domain.AuditEvent
	err := t.Store.RunTx(ctx, true, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, q, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var evt domain.AuditEvent
			var details string
			if err := rows.Scan(&evt.ID, &evt.IncidentID, &evt.TS, &evt.Actor, &evt.ActionType, &details, &evt.Status); err != nil {
				return err
			}
			if err := json.Unmarshal([]byte(details), &evt.Details); err != nil {
				evt.Details = map[string]any{"raw": details}
			}
			res = append(res, evt)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
