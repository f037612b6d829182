// Package intake is the boundary where incident reports enter the system:
// it resolves correlation, records reception, hands the report to the
// reasoning process in the background, and records the outcome.
package intake

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"oncall/internal/agent"
	"oncall/internal/audit"
	"oncall/internal/correlate"
	"oncall/internal/domain"
)

// Accepted is what the caller gets back immediately: the stable internal id
// and whether this report started a new incident or joined an existing one.
type Accepted struct {
	IncidentID string `json:"incident_id"`
	Created    bool   `json:"created"`
}

type Service struct {
	Trail    *audit.Trail
	Resolver *correlate.Resolver
	Runner   agent.Runner
	Log      *zap.Logger

	wg sync.WaitGroup
}

func New(trail *audit.Trail, resolver *correlate.Resolver, runner agent.Runner, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{Trail: trail, Resolver: resolver, Runner: runner, Log: logger}
}

// Accept resolves the report's incident identity, records reception, and
// dispatches the analysis in the background. It returns as soon as the
// reception is recorded; there is no queue bound on in-flight analyses.
func (s *Service) Accept(ctx context.Context, report domain.Report) (Accepted, error) {
	res, err := s.Resolver.Resolve(ctx, report.ExternalID, report.ParentIncidentID())
	if err != nil {
		return Accepted{}, err
	}
	if res.Created {
		s.Log.Info("new incident",
			zap.String("incident_id", res.IncidentID),
			zap.String("external_id", report.ExternalID))
	} else {
		s.Log.Info("correlated report to existing incident",
			zap.String("incident_id", res.IncidentID),
			zap.String("external_id", report.ExternalID))
	}
	s.Trail.Record(ctx, domain.ActionReceived, receptionDetails(report, res), res.IncidentID, domain.StatusSuccess)

	prompt := agent.FormatReport(res.IncidentID, report)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		// Detached from the request: the caller has already been answered.
		s.process(context.Background(), res.IncidentID, prompt)
	}()
	return Accepted{IncidentID: res.IncidentID, Created: res.Created}, nil
}

// AnalyzeSync runs the full reception + analysis cycle inline; used by the
// CLI mode where there is no caller to unblock.
func (s *Service) AnalyzeSync(ctx context.Context, report domain.Report) (Accepted, string, error) {
	res, err := s.Resolver.Resolve(ctx, report.ExternalID, report.ParentIncidentID())
	if err != nil {
		return Accepted{}, "", err
	}
	s.Trail.Record(ctx, domain.ActionReceived, receptionDetails(report, res), res.IncidentID, domain.StatusSuccess)
	out := s.process(ctx, res.IncidentID, agent.FormatReport(res.IncidentID, report))
	return Accepted{IncidentID: res.IncidentID, Created: res.Created}, out, nil
}

// Wait blocks until all dispatched analyses finish; used on shutdown and in
// tests.
func (s *Service) Wait() {
	s.wg.Wait()
}

func (s *Service) process(ctx context.Context, incidentID, prompt string) string {
	s.Trail.Record(ctx, domain.ActionAgentStart, map[string]any{"input": prompt}, incidentID, domain.StatusSuccess)
	out, err := s.Runner.Run(ctx, incidentID, prompt)
	if err != nil {
		s.Log.Error("agent run failed", zap.String("incident_id", incidentID), zap.Error(err))
		s.Trail.Record(ctx, domain.ActionAgentError, map[string]any{"error": err.Error()}, incidentID, domain.StatusError)
		return ""
	}
	s.Trail.Record(ctx, domain.ActionAgentSuccess, map[string]any{"response": out}, incidentID, domain.StatusSuccess)
	return out
}

func receptionDetails(report domain.Report, res correlate.Resolution) map[string]any {
	correlation := "correlated"
	if res.Created {
		correlation = "created"
	}
	details := map[string]any{
		"source_system": report.SourceSystem,
		"external_id":   report.ExternalID,
		"title":         report.Title,
		"description":   report.Description,
		"correlation":   correlation,
	}
	if report.Logs != "" {
		details["logs"] = report.Logs
	}
	if len(report.Metadata) > 0 {
		details["metadata"] = report.Metadata
	}
	return details
}
