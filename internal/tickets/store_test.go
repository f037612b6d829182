package tickets_test

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"oncall/internal/db"
	"oncall/internal/domain"
	"oncall/internal/migrate"
	"oncall/internal/tickets"
)

func newTestStore(t *testing.T) *tickets.Store {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn))
	return tickets.New(db.NewStore(conn), "DE_ONCALL")
}

func TestCreateDefaults(t *testing.T) {
	store := newTestStore(t)
	ticket, err := store.Create(context.Background(), tickets.CreateOptions{
		Title:       "etl_daily stuck on extract",
		Description: "retries exhausted",
	})
	require.NoError(t, err)
	assert.Regexp(t, regexp.MustCompile(`^TICKET-[0-9A-F]{8}$`), ticket.TicketID)
	assert.Equal(t, domain.TicketOpen, ticket.Status)
	assert.Equal(t, domain.PriorityMedium, ticket.Priority)
	assert.Equal(t, "DE_ONCALL", ticket.Queue)

	got, err := store.Get(context.Background(), ticket.TicketID)
	require.NoError(t, err)
	assert.Equal(t, ticket, got)
}

func TestCreateValidation(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.Create(ctx, tickets.CreateOptions{Title: "  "})
	assert.Error(t, err)

	_, err = store.Create(ctx, tickets.CreateOptions{Title: "x", Priority: "URGENT"})
	assert.Error(t, err)

	ticket, err := store.Create(ctx, tickets.CreateOptions{Title: "x", Priority: "critical"})
	require.NoError(t, err)
	assert.Equal(t, domain.PriorityCritical, ticket.Priority)
}

func TestListNewestFirst(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	store.Now = func() time.Time {
		now = now.Add(time.Second)
		return now
	}
	first, err := store.Create(ctx, tickets.CreateOptions{Title: "first"})
	require.NoError(t, err)
	second, err := store.Create(ctx, tickets.CreateOptions{Title: "second"})
	require.NoError(t, err)

	got, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, second.TicketID, got[0].TicketID)
	assert.Equal(t, first.TicketID, got[1].TicketID)
}

func TestUpdateStatus(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	ticket, err := store.Create(ctx, tickets.CreateOptions{Title: "x"})
	require.NoError(t, err)

	got, err := store.UpdateStatus(ctx, ticket.TicketID, "resolved")
	require.NoError(t, err)
	assert.Equal(t, domain.TicketResolved, got.Status)

	_, err = store.UpdateStatus(ctx, ticket.TicketID, "DONE")
	assert.Error(t, err)

	_, err = store.UpdateStatus(ctx, "TICKET-MISSING1", domain.TicketClosed)
	assert.ErrorIs(t, err, tickets.ErrNotFound)
}

func TestGetMissing(t *testing.T) {
	store := newTestStore(t)
	_, err := store.Get(context.Background(), "TICKET-MISSING1")
	assert.ErrorIs(t, err, tickets.ErrNotFound)
}
