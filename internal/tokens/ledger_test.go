package tokens_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"oncall/internal/audit"
	"oncall/internal/db"
	"oncall/internal/domain"
	"oncall/internal/migrate"
	"oncall/internal/tokens"
)

func newTestLedger(t *testing.T) (*tokens.Ledger, *db.Store) {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn))
	store := db.NewStore(conn)
	return tokens.New(store, zap.NewNop()), store
}

func TestRecordAndList(t *testing.T) {
	ledger, _ := newTestLedger(t)
	ctx := context.Background()

	for turn := 0; turn < 3; turn++ {
		err := ledger.Record(ctx, domain.TokenUsage{
			IncidentID:       "INC-AAAA0001",
			TurnIndex:        turn,
			Model:            "gemini-2.0-flash",
			PromptTokens:     100 + turn,
			CompletionTokens: 20,
			TotalTokens:      120 + turn,
		})
		require.NoError(t, err)
	}

	usage, err := ledger.ByIncident(ctx, "INC-AAAA0001")
	require.NoError(t, err)
	require.Len(t, usage, 3)
	assert.Equal(t, 0, usage[0].TurnIndex)
	assert.Equal(t, 102, usage[2].PromptTokens)
	assert.NotEmpty(t, usage[0].TS)
}

func TestDuplicateTurnFails(t *testing.T) {
	ledger, _ := newTestLedger(t)
	ctx := context.Background()
	u := domain.TokenUsage{IncidentID: "INC-AAAA0001", TurnIndex: 0, Model: "m"}
	require.NoError(t, ledger.Record(ctx, u))
	assert.Error(t, ledger.Record(ctx, u))
}

// A failed usage write must not take the audit trail down with it: the two
// tables are independent failure domains.
func TestUsageFailureLeavesAuditIntact(t *testing.T) {
	ledger, store := newTestLedger(t)
	ctx := context.Background()
	trail := audit.New(store, "TestAgent", zap.NewNop())

	_, err := store.DB.Exec(`DROP TABLE token_usage`)
	require.NoError(t, err)

	// Swallowed, logged, no panic.
	ledger.Observe(ctx, domain.TokenUsage{IncidentID: "INC-AAAA0001", TurnIndex: 0, Model: "m"})

	_, err = trail.Append(ctx, domain.ActionAgentSuccess, map[string]any{"response": "ok"}, "INC-AAAA0001", "")
	require.NoError(t, err)
	events, err := trail.ListByIncident(ctx, "INC-AAAA0001")
	require.NoError(t, err)
	assert.Len(t, events, 1)
}
