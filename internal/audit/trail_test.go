package audit_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"oncall/internal/audit"
	"oncall/internal/db"
	"oncall/internal/domain"
	"oncall/internal/migrate"
)

func newTestTrail(t *testing.T) *audit.Trail {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn))
	return audit.New(db.NewStore(conn), "TestAgent", zap.NewNop())
}

func TestAppendDurability(t *testing.T) {
	trail := newTestTrail(t)
	ctx := context.Background()

	evt, err := trail.Append(ctx, domain.ActionReceived, map[string]any{"external_id": "RUN-1::t1"}, "INC-AAAA0001", "")
	require.NoError(t, err)
	assert.NotEmpty(t, evt.ID)
	assert.Equal(t, domain.StatusSuccess, evt.Status)
	assert.Equal(t, "TestAgent", evt.Actor)

	got, err := trail.ListByAction(ctx, "INC-AAAA0001", domain.ActionReceived)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, evt.ID, got[0].ID)
	assert.Equal(t, "RUN-1::t1", got[0].Details["external_id"])
}

func TestRecentReceptionsOrderAndBound(t *testing.T) {
	trail := newTestTrail(t)
	ctx := context.Background()

	// Fixed clock: ordering must fall back to insertion order.
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	trail.Now = func() time.Time { return now }

	for i := 0; i < 5; i++ {
		_, err := trail.Append(ctx, domain.ActionReceived, map[string]any{"n": i}, "INC-AAAA0001", "")
		require.NoError(t, err)
	}
	_, err := trail.Append(ctx, domain.ActionAgentStart, nil, "INC-AAAA0001", "")
	require.NoError(t, err)

	got, err := trail.RecentReceptions(ctx, 3)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.EqualValues(t, 4, got[0].Details["n"])
	assert.EqualValues(t, 3, got[1].Details["n"])
	assert.EqualValues(t, 2, got[2].Details["n"])
	for _, evt := range got {
		assert.Equal(t, domain.ActionReceived, evt.ActionType)
	}
}

func TestListByIncidentIsolatesIncidents(t *testing.T) {
	trail := newTestTrail(t)
	ctx := context.Background()

	_, err := trail.Append(ctx, domain.ActionReceived, nil, "INC-AAAA0001", "")
	require.NoError(t, err)
	_, err = trail.Append(ctx, domain.ActionReceived, nil, "INC-BBBB0002", "")
	require.NoError(t, err)
	_, err = trail.Append(ctx, domain.ActionAgentSuccess, nil, "INC-AAAA0001", "")
	require.NoError(t, err)

	got, err := trail.ListByIncident(ctx, "INC-AAAA0001")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, domain.ActionReceived, got[0].ActionType)
	assert.Equal(t, domain.ActionAgentSuccess, got[1].ActionType)
}

func TestRecordSwallowsStorageFailure(t *testing.T) {
	trail := newTestTrail(t)
	ctx := context.Background()
	_, err := trail.Store.DB.Exec(`DROP TABLE audit_logs`)
	require.NoError(t, err)

	// Must not panic or propagate.
	trail.Record(ctx, domain.ActionAgentStart, map[string]any{"input": "x"}, "INC-AAAA0001", "")
}

func TestJSONNumbersSurviveRoundtrip(t *testing.T) {
	trail := newTestTrail(t)
	ctx := context.Background()
	_, err := trail.Append(ctx, domain.ActionRetryAttempt, map[string]any{"retry_count": 2}, "INC-AAAA0001", "")
	require.NoError(t, err)
	got, err := trail.ListByIncident(ctx, "INC-AAAA0001")
	require.NoError(t, err)
	require.Len(t, got, 1)
	// encoding/json decodes numbers as float64.
	assert.EqualValues(t, float64(2), got[0].Details["retry_count"])
}
