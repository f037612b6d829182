package intake_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"go.uber.org/zap"

	"oncall/internal/audit"
	"oncall/internal/correlate"
	"oncall/internal/db"
	"oncall/internal/domain"
	"oncall/internal/intake"
	"oncall/internal/migrate"
)

type stubRunner struct {
	out string
	err error
}

func (r stubRunner) Run(ctx context.Context, incidentID, report string) (string, error) {
	return r.out, r.err
}

func newTestService(t *testing.T, runner stubRunner) (*intake.Service, *audit.Trail) {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	trail := audit.New(db.NewStore(conn), "TestAgent", zap.NewNop())
	svc := intake.New(trail, correlate.New(trail), runner, zap.NewNop())
	return svc, trail
}

func TestAcceptCorrelatesRepeatedReports(t *testing.T) {
	svc, _ := newTestService(t, stubRunner{out: "analysis complete"})
	ctx := context.Background()

	first, err := svc.Accept(ctx, domain.Report{
		SourceSystem: "airflow",
		ExternalID:   "RUN-abc::task-1",
		Title:        "task failed",
	})
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if !first.Created {
		t.Fatal("first report should mint a new incident")
	}
	if !strings.HasPrefix(first.IncidentID, "INC-") {
		t.Fatalf("unexpected incident id %q", first.IncidentID)
	}

	second, err := svc.Accept(ctx, domain.Report{
		SourceSystem: "airflow",
		ExternalID:   "RUN-abc::task-1",
		Title:        "task failed again",
	})
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if second.Created || second.IncidentID != first.IncidentID {
		t.Fatalf("repeat report should join %s, got %+v", first.IncidentID, second)
	}

	other, err := svc.Accept(ctx, domain.Report{
		SourceSystem: "airflow",
		ExternalID:   "RUN-abc::task-2",
		Title:        "different task failed",
	})
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if !other.Created || other.IncidentID == first.IncidentID {
		t.Fatalf("different task should get its own incident, got %+v", other)
	}
	svc.Wait()
}

func TestAcceptHonorsLineage(t *testing.T) {
	svc, _ := newTestService(t, stubRunner{out: "ok"})
	res, err := svc.Accept(context.Background(), domain.Report{
		SourceSystem: "airflow",
		ExternalID:   "RUN-retry::task-1",
		Title:        "retry failed",
		Metadata:     map[string]any{"parent_incident_id": "INC-PARENT01"},
	})
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if res.Created || res.IncidentID != "INC-PARENT01" {
		t.Fatalf("lineage should win, got %+v", res)
	}
	svc.Wait()
}

func TestAcceptRecordsLifecycle(t *testing.T) {
	svc, trail := newTestService(t, stubRunner{out: "analysis complete"})
	ctx := context.Background()

	res, err := svc.Accept(ctx, domain.Report{SourceSystem: "airflow", ExternalID: "RUN-x::t", Title: "t"})
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	svc.Wait()

	events, err := trail.ListByIncident(ctx, res.IncidentID)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	var actions []string
	for _, evt := range events {
		actions = append(actions, evt.ActionType)
	}
	want := []string{domain.ActionReceived, domain.ActionAgentStart, domain.ActionAgentSuccess}
	if len(actions) != len(want) {
		t.Fatalf("expected %v, got %v", want, actions)
	}
	for i := range want {
		if actions[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, actions)
		}
	}
	if events[0].Details["correlation"] != "created" {
		t.Fatalf("reception should carry correlation outcome, got %v", events[0].Details)
	}
	if events[2].Details["response"] != "analysis complete" {
		t.Fatalf("success event should carry the response, got %v", events[2].Details)
	}
}

func TestAcceptRecordsRunnerFailure(t *testing.T) {
	svc, trail := newTestService(t, stubRunner{err: errors.New("model unavailable")})
	ctx := context.Background()

	res, err := svc.Accept(ctx, domain.Report{SourceSystem: "airflow", ExternalID: "RUN-y::t", Title: "t"})
	if err != nil {
		t.Fatalf("accept should not surface runner errors: %v", err)
	}
	svc.Wait()

	events, err := trail.ListByAction(ctx, res.IncidentID, domain.ActionAgentError)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected one error event, got %d", len(events))
	}
	if events[0].Status != domain.StatusError {
		t.Fatalf("error event should carry error status, got %q", events[0].Status)
	}
	if events[0].Details["error"] != "model unavailable" {
		t.Fatalf("error event should carry the message, got %v", events[0].Details)
	}
}

func TestAnalyzeSyncReturnsOutput(t *testing.T) {
	svc, _ := newTestService(t, stubRunner{out: "done"})
	res, out, err := svc.AnalyzeSync(context.Background(), domain.Report{
		SourceSystem: "cli",
		ExternalID:   "cli::ABCD1234",
		Title:        "manual report",
	})
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if out != "done" {
		t.Fatalf("expected runner output, got %q", out)
	}
	if !res.Created {
		t.Fatal("fresh external id should mint a new incident")
	}
}
