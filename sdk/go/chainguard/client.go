package chainguard

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"time"
)

// DefaultHTTPTimeout defines the timeout used by clients created without a
// custom http.Client.
const DefaultHTTPTimeout = 15 * time.Second

// Client wraps the HTTP interactions with the ChainGuard REST API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
}

// RiskFactor is one piece of evidence behind an assessment.
type RiskFactor struct {
	Kind        string  `json:"kind"`
	Factor      string  `json:"factor"`
	Description string  `json:"description"`
	RiskScore   float64 `json:"risk_score"`
	Decisive    bool    `json:"decisive,omitempty"`
}

// Assessment is the risk verdict for a single address.
type Assessment struct {
	Address             string          `json:"address"`
	RiskScore           float64         `json:"risk_score"`
	RiskLevel           string          `json:"risk_level"`
	Justification       string          `json:"justification"`
	RiskFactors         []RiskFactor    `json:"risk_factors"`
	TransactionAnalysis json.RawMessage `json:"transaction_analysis,omitempty"`
}

// TransactionLookup is the result of a hash lookup. Error is set when the
// transaction is unknown.
type TransactionLookup struct {
	Hash        string          `json:"hash"`
	Transaction json.RawMessage `json:"transaction,omitempty"`
	Error       string          `json:"error,omitempty"`
}

// Found reports whether the ledger knew the transaction.
func (l TransactionLookup) Found() bool { return len(l.Transaction) > 0 && l.Error == "" }

// AgentRun is the outcome of a synchronous agent execution.
type AgentRun struct {
	Agent      string          `json:"agent"`
	Input      string          `json:"input"`
	Steps      json.RawMessage `json:"steps"`
	Assessment *Assessment     `json:"assessment,omitempty"`
	Summary    string          `json:"summary"`
	Thought    string          `json:"thought,omitempty"`
	Reply      string          `json:"reply"`
	CreatedAt  int64           `json:"created_at"`
}

// TaskSubmission represents the payload required to create a new task.
type TaskSubmission struct {
	ID       string         `json:"id,omitempty"`
	Agent    string         `json:"agent,omitempty"`
	Input    string         `json:"input"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// TaskResult holds the output of a finished task.
type TaskResult struct {
	Level   string          `json:"level,omitempty"`
	Score   float64         `json:"score,omitempty"`
	Summary string          `json:"summary"`
	Reply   string          `json:"reply"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Task is the server side view of an asynchronous agent run.
type Task struct {
	ID         string         `json:"id"`
	Agent      string         `json:"agent"`
	Input      string         `json:"input"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Status     string         `json:"status"`
	Attempts   int            `json:"attempts"`
	MaxRetries int            `json:"max_retries"`
	LastError  string         `json:"last_error,omitempty"`
	ErrorCode  string         `json:"error_code,omitempty"`
	Result     *TaskResult    `json:"result,omitempty"`
	CreatedAt  int64          `json:"created_at"`
	UpdatedAt  int64          `json:"updated_at"`
}

// Done reports whether the task reached a terminal state.
func (t Task) Done() bool { return t.Status == "succeeded" || t.Status == "failed" }

// TaskStats aggregates task counts by status.
type TaskStats struct {
	Total           int   `json:"total"`
	Pending         int   `json:"pending"`
	Running         int   `json:"running"`
	Succeeded       int   `json:"succeeded"`
	Failed          int   `json:"failed"`
	OldestUpdatedAt int64 `json:"oldest_updated_at,omitempty"`
	NewestUpdatedAt int64 `json:"newest_updated_at,omitempty"`
}

// TaskFilter narrows task listings. Zero values are omitted.
type TaskFilter struct {
	Statuses []string
	Agent    string
	Query    string
	Limit    int
	Offset   int
}

func (f TaskFilter) values() url.Values {
	q := url.Values{}
	for _, s := range f.Statuses {
		q.Add("status", s)
	}
	if f.Agent != "" {
		q.Set("agent", f.Agent)
	}
	if f.Query != "" {
		q.Set("q", f.Query)
	}
	if f.Limit > 0 {
		q.Set("limit", strconv.Itoa(f.Limit))
	}
	if f.Offset > 0 {
		q.Set("offset", strconv.Itoa(f.Offset))
	}
	return q
}

// APIError represents server side validation or internal errors.
type APIError struct {
	StatusCode int
	Code       string            `json:"code"`
	Message    string            `json:"message"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("chainguard api error (%d): %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("chainguard api error (%d): %s", e.StatusCode, e.Message)
}

// NewClient instantiates a client for the ChainGuard API. When httpClient is
// nil, a default client with a sensible timeout is used.
func NewClient(rawURL string, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}, nil
}

// Assess returns the risk assessment for an address.
func (c *Client) Assess(ctx context.Context, address string) (Assessment, error) {
	var out Assessment
	err := c.get(ctx, "/api/v1/risk/"+address, nil, &out)
	return out, err
}

// LookupTransaction fetches a transaction by hash. Unknown hashes are not an
// error; check Found on the result.
func (c *Client) LookupTransaction(ctx context.Context, hash string) (TransactionLookup, error) {
	var out TransactionLookup
	err := c.get(ctx, "/api/v1/transactions/"+hash, nil, &out)
	return out, err
}

// RunAgent executes an agent synchronously.
func (c *Client) RunAgent(ctx context.Context, agent, input string) (AgentRun, error) {
	var out AgentRun
	payload := map[string]string{"input": input}
	err := c.post(ctx, "/api/v1/agents/"+agent+"/run", payload, &out)
	return out, err
}

// SubmitTask creates a new asynchronous task.
func (c *Client) SubmitTask(ctx context.Context, submission TaskSubmission) (Task, error) {
	var out Task
	err := c.post(ctx, "/api/v1/tasks", submission, &out)
	return out, err
}

// GetTask fetches task details by identifier.
func (c *Client) GetTask(ctx context.Context, taskID string) (Task, error) {
	var out Task
	err := c.get(ctx, "/api/v1/tasks/"+taskID, nil, &out)
	return out, err
}

// ListTasks returns tasks matching the filter, most recently updated first.
func (c *Client) ListTasks(ctx context.Context, filter TaskFilter) ([]Task, error) {
	var out struct {
		Tasks []Task `json:"tasks"`
	}
	if err := c.get(ctx, "/api/v1/tasks", filter.values(), &out); err != nil {
		return nil, err
	}
	return out.Tasks, nil
}

// TaskStats returns counts for tasks matching the filter.
func (c *Client) TaskStats(ctx context.Context, filter TaskFilter) (TaskStats, error) {
	var out TaskStats
	err := c.get(ctx, "/api/v1/tasks/stats", filter.values(), &out)
	return out, err
}

// WaitForTask polls until the task is terminal or ctx ends.
func (c *Client) WaitForTask(ctx context.Context, taskID string, interval time.Duration) (Task, error) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		t, err := c.GetTask(ctx, taskID)
		if err != nil {
			return Task{}, err
		}
		if t.Done() {
			return t, nil
		}
		select {
		case <-ctx.Done():
			return t, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Client) post(ctx context.Context, endpoint string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, nil, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, endpoint string, query url.Values, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, endpoint, query, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, query url.Values, body io.Reader) (*http.Request, error) {
	rel := &url.URL{Path: path.Join(c.baseURL.Path, endpoint)}
	if len(query) > 0 {
		rel.RawQuery = query.Encode()
	}
	u := c.baseURL.ResolveReference(rel)
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := APIError{StatusCode: resp.StatusCode}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read error response: %w", err)
		}
		if len(data) > 0 {
			_ = json.Unmarshal(data, &struct {
				Error *APIError `json:"error"`
			}{Error: &apiErr})
		}
		if apiErr.Message == "" {
			apiErr.Message = string(bytes.TrimSpace(data))
		}
		return &apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
