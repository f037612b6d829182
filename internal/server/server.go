package server

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"oncall/internal/audit"
	"oncall/internal/domain"
	"oncall/internal/guardrail"
	"oncall/internal/intake"
	"oncall/internal/tickets"
	"oncall/internal/tokens"
)

// Config for the HTTP API handler.
type Config struct {
	Intake   *intake.Service
	Trail    *audit.Trail
	Guard    *guardrail.Ledger
	Tokens   *tokens.Ledger
	Tickets  *tickets.Store
	BasePath string
	APIToken string
}

type apiErrorBody struct {
	Code    string `json:"code" example:"not_found"`
	Message string `json:"message" example:"ticket not found"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

func newAPIError(status int, code, message string) huma.StatusError {
	if code == "" {
		code = strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
	return &apiError{status: status, Body: apiErrorBody{Code: code, Message: message}}
}

// New returns an HTTP handler exposing the OnCall API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg)
	}

	router := chi.NewRouter()
	router.Use(authMiddleware(basePath, cfg.APIToken))
	hcfg := huma.DefaultConfig("OnCall Agent API", "1.0.0")
	hcfg.OpenAPIPath = "/openapi"
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerHealth(group)
	registerIncidents(group, cfg)
	registerTickets(group, cfg)

	return router, nil
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	if errors.Is(err, tickets.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error())
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "invalid") || strings.Contains(lowered, "required"):
		return newAPIError(http.StatusBadRequest, "bad_request", msg)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", msg)
	}
}

type healthOutput struct {
	Body struct {
		Status string `json:"status" example:"ok"`
	}
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/healthz",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*healthOutput, error) {
		out := &healthOutput{}
		out.Body.Status = "ok"
		return out, nil
	})
}

type reportInput struct {
	Body domain.Report
}

type acceptedOutput struct {
	Status int
	Body   struct {
		Status      string `json:"status" example:"accepted"`
		IncidentID  string `json:"incident_id" example:"INC-7F3A91C2"`
		Correlation string `json:"correlation" enum:"created,correlated"`
		Message     string `json:"message"`
	}
}

type eventsOutput struct {
	Body struct {
		Events []domain.AuditEvent `json:"events"`
	}
}

type retriesOutput struct {
	Body struct {
		Entries []domain.RetryEntry `json:"entries"`
	}
}

type usageOutput struct {
	Body struct {
		Usage []domain.TokenUsage `json:"usage"`
	}
}

func registerIncidents(api huma.API, cfg Config) {
	huma.Register(api, huma.Operation{
		OperationID:   "report-incident",
		Method:        http.MethodPost,
		Path:          "/incidents",
		Summary:       "Report an incident for analysis",
		Description:   "Accepts an incident report, resolves its incident identity, and queues background analysis.",
		DefaultStatus: http.StatusAccepted,
	}, func(ctx context.Context, input *reportInput) (*acceptedOutput, error) {
		if strings.TrimSpace(input.Body.SourceSystem) == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "source_system is required")
		}
		if strings.TrimSpace(input.Body.ExternalID) == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "incident_id is required")
		}
		acc, err := cfg.Intake.Accept(ctx, input.Body)
		if err != nil {
			return nil, handleError(err)
		}
		out := &acceptedOutput{Status: http.StatusAccepted}
		out.Body.Status = "accepted"
		out.Body.IncidentID = acc.IncidentID
		out.Body.Correlation = "correlated"
		if acc.Created {
			out.Body.Correlation = "created"
		}
		out.Body.Message = "Incident queued for analysis."
		return out, nil
	})

	type incidentPath struct {
		ID string `path:"id" example:"INC-7F3A91C2"`
	}

	huma.Register(api, huma.Operation{
		OperationID: "incident-events",
		Method:      http.MethodGet,
		Path:        "/incidents/{id}/events",
		Summary:     "Audit events for an incident, in order",
	}, func(ctx context.Context, input *incidentPath) (*eventsOutput, error) {
		events, err := cfg.Trail.ListByIncident(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		out := &eventsOutput{}
		out.Body.Events = events
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "incident-retries",
		Method:      http.MethodGet,
		Path:        "/incidents/{id}/retries",
		Summary:     "Retry counters for an incident",
	}, func(ctx context.Context, input *incidentPath) (*retriesOutput, error) {
		entries, err := cfg.Guard.Entries(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		out := &retriesOutput{}
		out.Body.Entries = entries
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "incident-usage",
		Method:      http.MethodGet,
		Path:        "/incidents/{id}/usage",
		Summary:     "Token usage recorded for an incident",
	}, func(ctx context.Context, input *incidentPath) (*usageOutput, error) {
		usage, err := cfg.Tokens.ByIncident(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		out := &usageOutput{}
		out.Body.Usage = usage
		return out, nil
	})
}

type ticketOutput struct {
	Body domain.Ticket
}

type ticketListOutput struct {
	Body struct {
		Tickets []domain.Ticket `json:"tickets"`
	}
}

func registerTickets(api huma.API, cfg Config) {
	huma.Register(api, huma.Operation{
		OperationID: "list-tickets",
		Method:      http.MethodGet,
		Path:        "/tickets",
		Summary:     "List tickets",
	}, func(ctx context.Context, _ *struct{}) (*ticketListOutput, error) {
		items, err := cfg.Tickets.List(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		out := &ticketListOutput{}
		out.Body.Tickets = items
		return out, nil
	})

	type ticketPath struct {
		ID string `path:"id" example:"TICKET-4B0BB55F"`
	}

	huma.Register(api, huma.Operation{
		OperationID: "get-ticket",
		Method:      http.MethodGet,
		Path:        "/tickets/{id}",
		Summary:     "Get a ticket",
	}, func(ctx context.Context, input *ticketPath) (*ticketOutput, error) {
		t, err := cfg.Tickets.Get(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &ticketOutput{Body: t}, nil
	})

	type ticketUpdateInput struct {
		ID   string `path:"id"`
		Body struct {
			Status string `json:"status" enum:"OPEN,IN_PROGRESS,RESOLVED,CLOSED"`
		}
	}

	huma.Register(api, huma.Operation{
		OperationID: "update-ticket",
		Method:      http.MethodPatch,
		Path:        "/tickets/{id}",
		Summary:     "Update a ticket's status",
	}, func(ctx context.Context, input *ticketUpdateInput) (*ticketOutput, error) {
		t, err := cfg.Tickets.UpdateStatus(ctx, input.ID, input.Body.Status)
		if err != nil {
			return nil, handleError(err)
		}
		return &ticketOutput{Body: t}, nil
	})
}
