package correlate_test

import (
	"context"
	"fmt"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"oncall/internal/audit"
	"oncall/internal/correlate"
	"oncall/internal/db"
	"oncall/internal/domain"
	"oncall/internal/migrate"
)

func newTestResolver(t *testing.T) (*correlate.Resolver, *audit.Trail) {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn))
	trail := audit.New(db.NewStore(conn), "TestAgent", zap.NewNop())
	return correlate.New(trail), trail
}

func receive(t *testing.T, trail *audit.Trail, incidentID, externalID string) {
	t.Helper()
	_, err := trail.Append(context.Background(), domain.ActionReceived,
		map[string]any{"external_id": externalID}, incidentID, "")
	require.NoError(t, err)
}

func TestMintIDFormat(t *testing.T) {
	pattern := regexp.MustCompile(`^INC-[0-9A-F]{8}$`)
	for i := 0; i < 20; i++ {
		assert.Regexp(t, pattern, correlate.MintID())
	}
}

func TestLineageFastPath(t *testing.T) {
	resolver, _ := newTestResolver(t)
	res, err := resolver.Resolve(context.Background(), "RUN-abc::task-1", "INC-PARENT01")
	require.NoError(t, err)
	assert.Equal(t, "INC-PARENT01", res.IncidentID)
	assert.False(t, res.Created)
}

func TestFallbackScanFindsRecentReception(t *testing.T) {
	resolver, trail := newTestResolver(t)
	ctx := context.Background()

	receive(t, trail, "INC-AAAA0001", "RUN-abc::task-1")

	res, err := resolver.Resolve(ctx, "RUN-abc::task-1", "")
	require.NoError(t, err)
	assert.Equal(t, "INC-AAAA0001", res.IncidentID)
	assert.False(t, res.Created)
}

func TestDistinctExternalIDsStayDistinct(t *testing.T) {
	resolver, trail := newTestResolver(t)
	ctx := context.Background()

	receive(t, trail, "INC-AAAA0001", "RUN-abc::task-1")

	res, err := resolver.Resolve(ctx, "RUN-abc::task-2", "")
	require.NoError(t, err)
	assert.NotEqual(t, "INC-AAAA0001", res.IncidentID)
	assert.True(t, res.Created)
}

func TestScanWindowMissMintsNewIdentity(t *testing.T) {
	resolver, trail := newTestResolver(t)
	resolver.Window = 2
	ctx := context.Background()

	receive(t, trail, "INC-AAAA0001", "RUN-abc::task-1")
	// Push the matching reception out of the scan window.
	for i := 0; i < 3; i++ {
		receive(t, trail, fmt.Sprintf("INC-FILL000%d", i), fmt.Sprintf("RUN-other::task-%d", i))
	}

	res, err := resolver.Resolve(ctx, "RUN-abc::task-1", "")
	require.NoError(t, err)
	assert.NotEqual(t, "INC-AAAA0001", res.IncidentID)
	assert.True(t, res.Created)
}

func TestNewestMatchWins(t *testing.T) {
	resolver, trail := newTestResolver(t)
	ctx := context.Background()

	receive(t, trail, "INC-AAAA0001", "RUN-abc::task-1")
	receive(t, trail, "INC-BBBB0002", "RUN-abc::task-1")

	res, err := resolver.Resolve(ctx, "RUN-abc::task-1", "")
	require.NoError(t, err)
	assert.Equal(t, "INC-BBBB0002", res.IncidentID)
}

func TestEmptyExternalIDAlwaysMints(t *testing.T) {
	resolver, trail := newTestResolver(t)
	ctx := context.Background()

	receive(t, trail, "INC-AAAA0001", "")

	res, err := resolver.Resolve(ctx, "", "")
	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.NotEqual(t, "INC-AAAA0001", res.IncidentID)
}
