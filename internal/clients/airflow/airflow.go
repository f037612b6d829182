// Package airflow is a thin client for the Airflow 2 REST API. Failures are
// returned as error values; the tool layer folds them into result strings so
// the reasoning process sees what went wrong instead of an aborted call.
package airflow

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultTimeout = 10 * time.Second

type Client struct {
	BaseURL  string
	Username string
	Password string
	HTTP     *http.Client
}

func New(baseURL, username, password string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		BaseURL:  strings.TrimRight(baseURL, "/"),
		Username: username,
		Password: password,
		HTTP:     &http.Client{Timeout: timeout},
	}
}

// DAGRun returns the raw dag-run document for a run.
func (c *Client) DAGRun(ctx context.Context, dagID, dagRunID string) (map[string]any, error) {
	return c.getJSON(ctx, fmt.Sprintf("dags/%s/dagRuns/%s", dagID, dagRunID))
}

// TaskInstances returns the task instances of a run.
func (c *Client) TaskInstances(ctx context.Context, dagID, dagRunID string) (map[string]any, error) {
	return c.getJSON(ctx, fmt.Sprintf("dags/%s/dagRuns/%s/taskInstances", dagID, dagRunID))
}

// TaskLog fetches the log for one task try. Airflow serves logs as plain
// text, so non-JSON bodies are returned verbatim.
func (c *Client) TaskLog(ctx context.Context, dagID, dagRunID, taskID string, tryNumber int) (string, error) {
	if tryNumber < 1 {
		tryNumber = 1
	}
	body, err := c.get(ctx, fmt.Sprintf("dags/%s/dagRuns/%s/taskInstances/%s/logs/%d", dagID, dagRunID, taskID, tryNumber))
	if err != nil {
		return "", err
	}
	var doc map[string]any
	if json.Unmarshal(body, &doc) == nil {
		if content, ok := doc["content"].(string); ok {
			return content, nil
		}
		return string(body), nil
	}
	return string(body), nil
}

// TriggerDAG starts a new run of a DAG with the given conf.
func (c *Client) TriggerDAG(ctx context.Context, dagID string, conf map[string]any) (map[string]any, error) {
	if conf == nil {
		conf = map[string]any{}
	}
	return c.postJSON(ctx, fmt.Sprintf("dags/%s/dagRuns", dagID), map[string]any{"conf": conf})
}

// ClearTaskInstance clears one task instance so the scheduler retries it.
func (c *Client) ClearTaskInstance(ctx context.Context, dagID, dagRunID, taskID string) (map[string]any, error) {
	payload := map[string]any{
		"dry_run":            false,
		"task_ids":           []string{taskID},
		"dag_run_id":         dagRunID,
		"include_upstream":   false,
		"include_downstream": false,
		"include_future":     false,
		"include_past":       false,
		"reset_dag_runs":     true,
	}
	return c.postJSON(ctx, fmt.Sprintf("dags/%s/clearTaskInstances", dagID), payload)
}

func (c *Client) get(ctx context.Context, endpoint string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url(endpoint), nil)
	if err != nil {
		return nil, err
	}
	return c.do(req)
}

func (c *Client) getJSON(ctx context.Context, endpoint string) (map[string]any, error) {
	body, err := c.get(ctx, endpoint)
	if err != nil {
		return nil, err
	}
	return decode(body)
}

func (c *Client) postJSON(ctx context.Context, endpoint string, payload any) (map[string]any, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url(endpoint), bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	body, err := c.do(req)
	if err != nil {
		return nil, err
	}
	return decode(body)
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	if c.Username != "" {
		req.SetBasicAuth(c.Username, c.Password)
	}
	res, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("airflow request failed: %w", err)
	}
	defer res.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return nil, fmt.Errorf("airflow HTTP %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}
	return body, nil
}

func (c *Client) url(endpoint string) string {
	return fmt.Sprintf("%s/api/v1/%s", c.BaseURL, endpoint)
}

func decode(body []byte) (map[string]any, error) {
	var doc map[string]any
	if err := json.Unmarshal(body, &doc); err != nil {
		return map[string]any{"content": string(body)}, nil
	}
	return doc, nil
}
