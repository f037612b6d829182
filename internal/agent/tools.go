package agent

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"oncall/internal/audit"
	"oncall/internal/clients/airflow"
	"oncall/internal/clients/databricks"
	"oncall/internal/clients/snowflake"
	"oncall/internal/config"
	"oncall/internal/domain"
	"oncall/internal/guardrail"
	"oncall/internal/tickets"
)

// Deps carries everything the tool catalog touches. The reasoning process
// only ever reaches the ledgers and stores through these handlers.
type Deps struct {
	Config     *config.Config
	Trail      *audit.Trail
	Guard      *guardrail.Ledger
	Tickets    *tickets.Store
	Airflow    *airflow.Client
	Databricks *databricks.Client
	Snowflake  *snowflake.Client
	Log        *zap.Logger
}

// NewCatalog builds the tool catalog from config. Tools for disabled
// systems are left out of the catalog entirely.
func NewCatalog(d Deps) *Registry {
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	reg := NewRegistry()
	if d.Config.Tools["airflow"].On() && d.Airflow != nil {
		reg.MustRegister(d.airflowStatusTool())
		reg.MustRegister(d.airflowLogsTool())
		reg.MustRegister(d.airflowRetryTool())
	}
	if d.Config.Tools["databricks"].On() && d.Databricks != nil {
		reg.MustRegister(d.databricksAnalyzeTool())
		reg.MustRegister(d.databricksRestartTool())
	}
	if d.Config.Tools["snowflake"].On() && d.Snowflake != nil {
		reg.MustRegister(d.snowflakeAnalyzeTool())
	}
	if d.Config.Tools["tickets"].On() && d.Tickets != nil {
		reg.MustRegister(d.createTicketTool())
		reg.MustRegister(d.updateTicketTool())
	}
	return reg
}

func (d Deps) airflowStatusTool() Tool {
	return Tool{
		Decl: &genai.FunctionDeclaration{
			Name:        "get_airflow_dag_status",
			Description: "Fetches the status of a specific Airflow DAG run. Useful to see whether it is currently failing or finished.",
			Parameters: objectSchema(map[string]*genai.Schema{
				"dag_id":     stringSchema("The Airflow DAG id."),
				"dag_run_id": stringSchema("The DAG run id."),
			}, "dag_id", "dag_run_id"),
		},
		Run: func(ctx context.Context, args map[string]any) (string, error) {
			doc, err := d.Airflow.DAGRun(ctx, stringArg(args, "dag_id"), stringArg(args, "dag_run_id"))
			if err != nil {
				return fmt.Sprintf("Could not fetch DAG run status: %v", err), nil
			}
			return fmt.Sprintf("%v", doc), nil
		},
	}
}

func (d Deps) airflowLogsTool() Tool {
	return Tool{
		Decl: &genai.FunctionDeclaration{
			Name:        "get_airflow_logs",
			Description: "Fetches logs for a failed task in Airflow. This is the first step in diagnosis when no logs were provided.",
			Parameters: objectSchema(map[string]*genai.Schema{
				"dag_id":     stringSchema("The Airflow DAG id."),
				"dag_run_id": stringSchema("The DAG run id."),
				"task_id":    stringSchema("The failed task id."),
			}, "dag_id", "dag_run_id", "task_id"),
		},
		Run: func(ctx context.Context, args map[string]any) (string, error) {
			log, err := d.Airflow.TaskLog(ctx, stringArg(args, "dag_id"), stringArg(args, "dag_run_id"), stringArg(args, "task_id"), 1)
			if err != nil {
				return fmt.Sprintf("Could not fetch task log: %v", err), nil
			}
			return log, nil
		},
	}
}

// airflowRetryTool is the guardrail-checked remediation path. The counter is
// bumped before the ceiling comparison, so a ceiling of N admits exactly N
// attempts per (incident, target); the denial carries count N+1.
func (d Deps) airflowRetryTool() Tool {
	return Tool{
		Decl: &genai.FunctionDeclaration{
			Name: "retry_airflow_pipeline",
			Description: "Triggers a retry of an Airflow pipeline. With dag_run_id and task_id it clears the specific task instance (targeted retry); " +
				"otherwise it triggers a new run of the whole DAG. Requires incident_id for tracking; attempts per target are limited.",
			Parameters: objectSchema(map[string]*genai.Schema{
				"dag_id":      stringSchema("The Airflow DAG id."),
				"incident_id": stringSchema("The internal incident id from the report."),
				"dag_run_id":  stringSchema("Optional DAG run id for a targeted task retry."),
				"task_id":     stringSchema("Optional task id for a targeted task retry."),
			}, "dag_id", "incident_id"),
		},
		Run: func(ctx context.Context, args map[string]any) (string, error) {
			dagID := stringArg(args, "dag_id")
			incidentID := stringArg(args, "incident_id")
			dagRunID := stringArg(args, "dag_run_id")
			taskID := stringArg(args, "task_id")

			target := dagID
			if taskID != "" {
				target = dagID + ":" + taskID
			}
			max := d.Config.Agent.MaxRetries
			count, allowed := d.Guard.IncrementAndCheck(ctx, incidentID, target, max)
			if !allowed {
				d.Trail.Record(ctx, domain.ActionRetryDenied, map[string]any{
					"target_key": target, "retry_count": count, "max_allowed": max,
				}, incidentID, domain.StatusError)
				return guardrail.DenialMessage(target, max, incidentID), nil
			}

			var (
				doc  map[string]any
				mode string
				err  error
			)
			if dagRunID != "" && taskID != "" {
				mode = "targeted"
				doc, err = d.Airflow.ClearTaskInstance(ctx, dagID, dagRunID, taskID)
			} else {
				// Full-DAG fallback; propagate lineage so the next failure
				// report self-identifies its parent incident.
				mode = "full"
				doc, err = d.Airflow.TriggerDAG(ctx, dagID, map[string]any{"parent_incident_id": incidentID})
			}
			d.Trail.Record(ctx, domain.ActionRetryAttempt, map[string]any{
				"target_key": target, "retry_count": count, "max_allowed": max, "mode": mode,
			}, incidentID, domain.StatusSuccess)
			if err != nil {
				return fmt.Sprintf("Retry attempt %d/%d for %s failed: %v", count, max, target, err), nil
			}
			if mode == "targeted" {
				return fmt.Sprintf("Targeted retry successful (attempt %d/%d): %v", count, max, doc), nil
			}
			return fmt.Sprintf("Full DAG retry triggered (attempt %d/%d): %v", count, max, doc), nil
		},
	}
}

func (d Deps) databricksAnalyzeTool() Tool {
	return Tool{
		Decl: &genai.FunctionDeclaration{
			Name:        "analyze_databricks_error",
			Description: "Analyzes a Databricks job run error from provided log text.",
			Parameters: objectSchema(map[string]*genai.Schema{
				"run_id": stringSchema("The Databricks job run id."),
				"logs":   stringSchema("Error log text to analyze."),
			}, "run_id"),
		},
		Run: func(ctx context.Context, args map[string]any) (string, error) {
			return d.Databricks.AnalyzeError(stringArg(args, "run_id"), stringArg(args, "logs")), nil
		},
	}
}

func (d Deps) databricksRestartTool() Tool {
	return Tool{
		Decl: &genai.FunctionDeclaration{
			Name:        "restart_databricks_job",
			Description: "Restarts a Databricks job. Requires incident_id for tracking; attempts per job are limited.",
			Parameters: objectSchema(map[string]*genai.Schema{
				"job_id":      stringSchema("The Databricks job id."),
				"incident_id": stringSchema("The internal incident id from the report."),
			}, "job_id", "incident_id"),
		},
		Run: func(ctx context.Context, args map[string]any) (string, error) {
			jobID := stringArg(args, "job_id")
			incidentID := stringArg(args, "incident_id")
			target := "job:" + jobID
			max := d.Config.Agent.MaxRetries
			count, allowed := d.Guard.IncrementAndCheck(ctx, incidentID, target, max)
			if !allowed {
				d.Trail.Record(ctx, domain.ActionRetryDenied, map[string]any{
					"target_key": target, "retry_count": count, "max_allowed": max,
				}, incidentID, domain.StatusError)
				return guardrail.DenialMessage(target, max, incidentID), nil
			}
			d.Trail.Record(ctx, domain.ActionRetryAttempt, map[string]any{
				"target_key": target, "retry_count": count, "max_allowed": max, "mode": "restart",
			}, incidentID, domain.StatusSuccess)
			return fmt.Sprintf("%s (attempt %d/%d)", d.Databricks.RestartJob(jobID), count, max), nil
		},
	}
}

func (d Deps) snowflakeAnalyzeTool() Tool {
	return Tool{
		Decl: &genai.FunctionDeclaration{
			Name:        "analyze_snowflake_query_error",
			Description: "Analyzes a Snowflake query error from a provided error message.",
			Parameters: objectSchema(map[string]*genai.Schema{
				"query_id":      stringSchema("The Snowflake query id."),
				"error_message": stringSchema("The error message to analyze."),
			}, "query_id"),
		},
		Run: func(ctx context.Context, args map[string]any) (string, error) {
			return d.Snowflake.AnalyzeQueryError(stringArg(args, "query_id"), stringArg(args, "error_message")), nil
		},
	}
}

func (d Deps) createTicketTool() Tool {
	return Tool{
		Decl: &genai.FunctionDeclaration{
			Name:        "create_incident_ticket",
			Description: "Creates a support ticket for escalation. Use after diagnosis when a failure is permanent or retries are exhausted.",
			Parameters: objectSchema(map[string]*genai.Schema{
				"title":       stringSchema("Short summary, formatted as [<System>] <ErrorType> in <PipelineName>."),
				"description": stringSchema("Root cause, log snippets and analysis."),
				"priority":    stringSchema("LOW, MEDIUM, HIGH or CRITICAL."),
				"incident_id": stringSchema("The internal incident id from the report."),
			}, "title", "description", "incident_id"),
		},
		Run: func(ctx context.Context, args map[string]any) (string, error) {
			incidentID := stringArg(args, "incident_id")
			t, err := d.Tickets.Create(ctx, tickets.CreateOptions{
				Title:       stringArg(args, "title"),
				Description: stringArg(args, "description"),
				Priority:    stringArg(args, "priority"),
			})
			if err != nil {
				// Tickets are a primary deliverable; surface the failure.
				d.Trail.Record(ctx, domain.ActionToolError, map[string]any{
					"tool": "create_incident_ticket", "error": err.Error(),
				}, incidentID, domain.StatusError)
				return "", err
			}
			d.Trail.Record(ctx, domain.ActionTicketCreated, map[string]any{
				"ticket_id": t.TicketID, "title": t.Title, "priority": t.Priority,
			}, incidentID, domain.StatusSuccess)
			return fmt.Sprintf("Ticket created successfully. ID: %s", t.TicketID), nil
		},
	}
}

func (d Deps) updateTicketTool() Tool {
	return Tool{
		Decl: &genai.FunctionDeclaration{
			Name:        "update_ticket_status",
			Description: "Updates the status of an existing ticket.",
			Parameters: objectSchema(map[string]*genai.Schema{
				"ticket_id":   stringSchema("The ticket id."),
				"status":      stringSchema("OPEN, IN_PROGRESS, RESOLVED or CLOSED."),
				"comment":     stringSchema("A short comment explaining the change."),
				"incident_id": stringSchema("The internal incident id from the report."),
			}, "ticket_id", "status"),
		},
		Run: func(ctx context.Context, args map[string]any) (string, error) {
			ticketID := stringArg(args, "ticket_id")
			status := stringArg(args, "status")
			incidentID := stringArg(args, "incident_id")
			t, err := d.Tickets.UpdateStatus(ctx, ticketID, status)
			if err != nil {
				return "", err
			}
			d.Trail.Record(ctx, domain.ActionTicketUpdated, map[string]any{
				"ticket_id": ticketID, "status": t.Status, "comment": stringArg(args, "comment"),
			}, incidentID, domain.StatusSuccess)
			return fmt.Sprintf("Ticket %s updated to %s.", ticketID, t.Status), nil
		},
	}
}

func objectSchema(props map[string]*genai.Schema, required ...string) *genai.Schema {
	return &genai.Schema{Type: genai.TypeObject, Properties: props, Required: required}
}

func stringSchema(desc string) *genai.Schema {
	return &genai.Schema{Type: genai.TypeString, Description: desc}
}

func stringArg(args map[string]any, key string) string {
	if v, ok := args[key].(string); ok {
		return v
	}
	return ""
}
