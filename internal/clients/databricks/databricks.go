// Package databricks covers the Databricks surface of the tool catalog. Only
// log analysis of caller-provided text and a mock restart are implemented;
// the real API integration is a stated follow-up of the original rollout.
package databricks

import "fmt"

type Client struct{}

func New() *Client { return &Client{} }

// AnalyzeError summarizes a job run failure from provided log text.
func (c *Client) AnalyzeError(runID, logs string) string {
	if logs != "" {
		return fmt.Sprintf("Analyzed provided logs for run %s.\nFinding: the logs indicate a specific failure based on the provided text: %q", runID, truncate(logs, 100))
	}
	return fmt.Sprintf("Real Databricks API call for run %s is not implemented. Provide the job run logs to analyze.", runID)
}

// RestartJob pretends to restart a job.
func (c *Client) RestartJob(jobID string) string {
	return fmt.Sprintf("Restarted Databricks job %s (mock action)", jobID)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
