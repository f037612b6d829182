package oncallsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal OnCall HTTP API client, intended for pipeline failure
// callbacks (e.g. an Airflow on_failure_callback) and inspection scripts.
type Client struct {
	BaseURL     string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:    baseURL,
		Timeout:    10 * time.Second,
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// Report is an incident report payload.
type Report struct {
	SourceSystem string         `json:"source_system"`
	IncidentID   string         `json:"incident_id"`
	Title        string         `json:"title"`
	Description  string         `json:"description"`
	Logs         string         `json:"logs,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// Accepted is the immediate answer to a report.
type Accepted struct {
	Status      string `json:"status"`
	IncidentID  string `json:"incident_id"`
	Correlation string `json:"correlation"`
	Message     string `json:"message"`
}

// Event is one audit trail entry.
type Event struct {
	ID         string         `json:"id"`
	IncidentID string         `json:"incident_id"`
	TS         string         `json:"ts"`
	Actor      string         `json:"actor"`
	ActionType string         `json:"action_type"`
	Details    map[string]any `json:"details"`
	Status     string         `json:"status"`
}

// Ticket is an escalation ticket.
type Ticket struct {
	TicketID        string `json:"ticket_id"`
	CreatedAt       string `json:"created_at"`
	Title           string `json:"title"`
	Description     string `json:"description"`
	Status          string `json:"status"`
	Priority        string `json:"priority"`
	Queue           string `json:"queue,omitempty"`
	ResolutionGuide string `json:"resolution_guide,omitempty"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// ReportIncident submits a failure report and returns the assigned incident.
func (c *Client) ReportIncident(ctx context.Context, report Report) (Accepted, error) {
	var resp Accepted
	err := c.do(ctx, http.MethodPost, "v0/incidents", report, &resp)
	return resp, err
}

// IncidentEvents returns the audit events of an incident, in order.
func (c *Client) IncidentEvents(ctx context.Context, incidentID string) ([]Event, error) {
	var resp struct {
		Events []Event `json:"events"`
	}
	endpoint := fmt.Sprintf("v0/incidents/%s/events", url.PathEscape(incidentID))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Events, err
}

// Tickets lists escalation tickets.
func (c *Client) Tickets(ctx context.Context) ([]Ticket, error) {
	var resp struct {
		Tickets []Ticket `json:"tickets"`
	}
	err := c.do(ctx, http.MethodGet, "v0/tickets", nil, &resp)
	return resp.Tickets, err
}

// UpdateTicketStatus moves a ticket to a new status.
func (c *Client) UpdateTicketStatus(ctx context.Context, ticketID, status string) (Ticket, error) {
	var resp Ticket
	endpoint := fmt.Sprintf("v0/tickets/%s", url.PathEscape(ticketID))
	err := c.do(ctx, http.MethodPatch, endpoint, map[string]any{"status": status}, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	// Never write to c here: one Client may be shared across goroutines.
	httpClient := c.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: c.Timeout}
	}
	url := strings.TrimRight(c.BaseURL, "/") + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}
