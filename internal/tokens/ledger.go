package tokens

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"oncall/internal/db"
	"oncall/internal/domain"
)

// Ledger records per-turn model consumption, stored independently of the
// audit trail; the two share no transaction.
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

// Record inserts one usage row.
func (l *Ledger) Record(ctx context.Context, u domain.TokenUsage) error {
	now := l.Now
	if now == nil {
		now = time.Now
	}
	if u.TS == "" {
		u.TS = now().UTC().Format(time.RFC3339)
	}
	err := l.Store.RunTx(ctx, false, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO token_usage(incident_id,turn_index,model,prompt_tokens,completion_tokens,total_tokens,ts)
VALUES (?,?,?,?,?,?,?)`, u.IncidentID, u.TurnIndex, u.Model, u.PromptTokens, u.CompletionTokens, u.TotalTokens, u.TS)
		return err
	})
	if err != nil {
		return fmt.Errorf("record token usage: %w", err)
	}
	return nil
}

// Observe records usage and swallows any storage failure after logging it,
// same policy as audit writes.
func (l *Ledger) Observe(ctx context.Context, u domain.TokenUsage) {
	if err := l.Record(ctx, u); err != nil {
		l.Log.Warn("token usage write failed",
			zap.String("incident_id", u.IncidentID),
			zap.Int("turn_index", u.TurnIndex),
			zap.Error(err))
	}
}

// ByIncident returns usage rows for an incident in turn order.
func (l *Ledger) ByIncident(ctx context.Context, incidentID string) ([]domain.TokenUsage, error) {
	var res []domain.TokenUsage
	err := l.Store.RunTx(ctx, true, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `SELECT incident_id,turn_index,model,prompt_tokens,completion_tokens,total_tokens,ts
FROM token_usage WHERE incident_id=? ORDER BY turn_index`, incidentID)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var u domain.TokenUsage
			if err := rows.Scan(&u.IncidentID, &u.TurnIndex, &u.Model, &u.PromptTokens, &u.CompletionTokens, &u.TotalTokens, &u.TS); err != nil {
				return err
			}
			res = append(res, u)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("list token usage: %w", err)
	}
	return res, nil
}
