package guardrail

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"oncall/internal/db"
	"oncall/internal/domain"
)

// DefaultMaxRetries is the remediation ceiling when the config does not set one.
const DefaultMaxRetries = 3

// Ledger tracks remediation attempts per (incident, target) pair. Counters
// only ever increase; the ledger never resets them.
type Ledger struct {
	Store *db.Store
	Now   func() time.Time
	Log   *zap.Logger
}

func New(store *db.Store, logger *zap.Logger) *Ledger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ledger{Store: store, Now: time.Now, Log: logger}
}

// CurrentCount returns the attempt count for a key, 0 when no entry exists.
func (l *Ledger) CurrentCount(ctx context.Context, incidentID, targetKey string) (int, error) {
	var count int
	err := l.Store.RunTx(ctx, true, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx, `SELECT retry_count FROM retry_tracker WHERE incident_id=? AND target_key=?`,
			incidentID, targetKey).Scan(&count)
		if err == sql.ErrNoRows {
			count = 0
			return nil
		}
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("read retry count: %w", err)
	}
	return count, nil
}

// IncrementAndCheck bumps the counter for (incidentID, targetKey) and reports
// whether the attempt is still within maxAllowed. The counter is incremented
// before the ceiling is checked: with maxAllowed=N, attempts 1..N are allowed
// and attempt N+1 is denied carrying a count of N+1. The read-modify-write is
// a single upsert statement, so concurrent attempts against one key cannot
// lose updates.
//
// On a storage failure the error is logged and the call degrades to
// (0, true): the guardrail fails open, trading correctness for availability.
func (l *Ledger) IncrementAndCheck(ctx context.Context, incidentID, targetKey string, maxAllowed int) (count int, allowed bool) {
	if maxAllowed <= 0 {
		maxAllowed = DefaultMaxRetries
	}
	now := l.Now
	if now == nil {
		now = time.Now
	}
	err := l.Store.RunTx(ctx, false, func(tx *sql.Tx) error {
		return tx.QueryRowContext(ctx, `INSERT INTO retry_tracker(incident_id,target_key,retry_count,updated_at) VALUES (?,?,1,?)
ON CONFLICT(incident_id,target_key) DO UPDATE SET retry_count=retry_count+1, updated_at=excluded.updated_at
RETURNING retry_count`, incidentID, targetKey, now().UTC().Format(time.RFC3339)).Scan(&count)
	})
	if err != nil {
		l.Log.Warn("retry ledger increment failed",
			zap.String("incident_id", incidentID),
			zap.String("target_key", targetKey),
			zap.Error(err))
		return 0, true
	}
	return count, count <= maxAllowed
}

// Entries returns every counter recorded for an incident.
func (l *Ledger) Entries(ctx context.Context, incidentID string) ([]domain.RetryEntry, error) {
	var res []domain.RetryEntry
	err := l.Store.RunTx(ctx, true, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `SELECT incident_id,target_key,retry_count,updated_at FROM retry_tracker
WHERE incident_id=? ORDER BY target_key`, incidentID)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var e domain.RetryEntry
			if err := rows.Scan(&e.IncidentID, &e.TargetKey, &e.RetryCount, &e.UpdatedAt); err != nil {
				return err
			}
			res = append(res, e)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("list retry entries: %w", err)
	}
	return res, nil
}

// DenialMessage is the refusal returned to the reasoning process when the
// ceiling is hit. It names the target and the ceiling and steers the agent
// toward escalation instead of another attempt.
func DenialMessage(targetKey string, maxAllowed int, incidentID string) string {
	return fmt.Sprintf("RETRY_DENIED: %s has already been retried %d times for incident %s. DO NOT retry again. Create a ticket instead.",
		targetKey, maxAllowed, incidentID)
}
