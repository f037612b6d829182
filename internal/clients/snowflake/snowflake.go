// Package snowflake mirrors databricks: analysis of caller-provided error
// text only, pending a real connector.
package snowflake

import "fmt"

type Client struct{}

func New() *Client { return &Client{} }

// AnalyzeQueryError summarizes a failed query from a provided error message.
func (c *Client) AnalyzeQueryError(queryID, errorMessage string) string {
	if errorMessage != "" {
		return fmt.Sprintf("Analyzed Snowflake error for query %s.\nError content: %q", queryID, truncate(errorMessage, 100))
	}
	return fmt.Sprintf("Real Snowflake API call for query %s is not implemented. Provide the error message to analyze.", queryID)
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
