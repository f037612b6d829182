package domain

// Audit action types written by the service. The resolver's fallback scan
// depends on ActionReceived being written exactly once per accepted report.
const (
	ActionReceived      = "RECEIVED"
	ActionAgentStart    = "START"
	ActionAgentSuccess  = "SUCCESS"
	ActionAgentError    = "ERROR"
	ActionRetryAttempt  = "RETRY_ATTEMPT"
	ActionRetryDenied   = "RETRY_DENIED"
	ActionTicketCreated = "TICKET_CREATED"
	ActionTicketUpdated = "TICKET_UPDATED"
	ActionToolError     = "TOOL_ERROR"
)

const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Ticket priorities and statuses.
const (
	PriorityLow      = "LOW"
	PriorityMedium   = "MEDIUM"
	PriorityHigh     = "HIGH"
	PriorityCritical = "CRITICAL"

	TicketOpen       = "OPEN"
	TicketInProgress = "IN_PROGRESS"
	TicketResolved   = "RESOLVED"
	TicketClosed     = "CLOSED"
)

// AuditEvent is one immutable row of the audit trail. IncidentID may be empty
// for events recorded before an incident identity exists.
type AuditEvent struct {
	ID         string         `json:"id"`
	IncidentID string         `json:"incident_id,omitempty"`
	TS         string         `json:"ts" format:"date-time"`
	Actor      string         `json:"actor"`
	ActionType string         `json:"action_type"`
	Details    map[string]any `json:"details"`
	Status     string         `json:"status"`
}

// RetryEntry is one remediation counter, keyed by (incident, target).
type RetryEntry struct {
	IncidentID string `json:"incident_id"`
	TargetKey  string `json:"target_key"`
	RetryCount int    `json:"retry_count"`
	UpdatedAt  string `json:"updated_at" format:"date-time"`
}

// TokenUsage is one turn's model consumption for an incident.
type TokenUsage struct {
	IncidentID       string `json:"incident_id"`
	TurnIndex        int    `json:"turn_index"`
	Model            string `json:"model"`
	PromptTokens     int    `json:"prompt_tokens"`
	CompletionTokens int    `json:"completion_tokens"`
	TotalTokens      int    `json:"total_tokens"`
	TS               string `json:"ts" format:"date-time"`
}

// Ticket is a mock escalation ticket.
type Ticket struct {
	TicketID        string `json:"ticket_id"`
	CreatedAt       string `json:"created_at" format:"date-time"`
	Title           string `json:"title"`
	Description     string `json:"description"`
	Status          string `json:"status" enum:"OPEN,IN_PROGRESS,RESOLVED,CLOSED"`
	Priority        string `json:"priority" enum:"LOW,MEDIUM,HIGH,CRITICAL"`
	Queue           string `json:"queue,omitempty"`
	ResolutionGuide string `json:"resolution_guide,omitempty"`
}

// Report is an incident report as received from an external system. No field
// is schema-required: reporting pipelines send whatever they have, and the
// intake surface decides what it can work with.
type Report struct {
	SourceSystem string         `json:"source_system" required:"false"`
	ExternalID   string         `json:"incident_id" required:"false"`
	Title        string         `json:"title" required:"false"`
	Description  string         `json:"description" required:"false"`
	Logs         string         `json:"logs,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// ParentIncidentID returns the lineage metadata propagated by a remediation
// action, or "" when the report does not self-identify its parent incident.
func (r Report) ParentIncidentID() string {
	if r.Metadata == nil {
		return ""
	}
	if v, ok := r.Metadata["parent_incident_id"].(string); ok {
		return v
	}
	return ""
}

// ValidPriority reports whether p is a known ticket priority.
func ValidPriority(p string) bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
		return true
	}
	return false
}

// ValidTicketStatus reports whether s is a known ticket status.
func ValidTicketStatus(s string) bool {
	switch s {
	case TicketOpen, TicketInProgress, TicketResolved, TicketClosed:
		return true
	}
	return false
}
