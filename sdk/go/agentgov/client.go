// Package agentgov provides a small HTTP client for the governance core
// REST API. Agent processes use it to submit proposals, poll review
// decisions, and feed execution outcomes back into the ledger.
package agentgov

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"
)

// DefaultHTTPTimeout defines the timeout used by clients created without a
// custom http.Client. It is intentionally short to avoid hanging network calls.
const DefaultHTTPTimeout = 15 * time.Second

// Client wraps the HTTP interactions with the governance core REST API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
}

// Reasoning mirrors the ledger's reasoning payload.
type Reasoning struct {
	Trigger    string  `json:"trigger"`
	Confidence float64 `json:"confidence"`
	Rationale  string  `json:"rationale,omitempty"`
}

// ProposalSubmission represents the payload required to create a proposal.
type ProposalSubmission struct {
	ID         string         `json:"id,omitempty"`
	AgentID    string         `json:"agent_id"`
	ActionName string         `json:"action_name"`
	Params     map[string]any `json:"params,omitempty"`
	Reasoning  Reasoning      `json:"reasoning"`
	Priority   string         `json:"priority,omitempty"`
	ParentID   string         `json:"parent_id,omitempty"`
}

// Proposal is the client-side view of a ledger proposal.
type Proposal struct {
	ID                 string         `json:"id"`
	AgentID            string         `json:"agent_id"`
	ActionName         string         `json:"action_name"`
	Params             map[string]any `json:"params,omitempty"`
	Reasoning          Reasoning      `json:"reasoning"`
	Priority           string         `json:"priority"`
	Status             string         `json:"status"`
	ReviewedBy         string         `json:"reviewed_by,omitempty"`
	ReviewNotes        string         `json:"review_notes,omitempty"`
	CoordinationStatus string         `json:"coordination_status"`
	ParentID           string         `json:"parent_id,omitempty"`
	Result             map[string]any `json:"result,omitempty"`
	CreatedAt          int64          `json:"created_at"`
	UpdatedAt          int64          `json:"updated_at"`
}

// Execution is the client-side view of an execution record.
type Execution struct {
	ID         string         `json:"id"`
	ProposalID string         `json:"proposal_id"`
	AgentID    string         `json:"agent_id"`
	ActionName string         `json:"action_name"`
	Success    bool           `json:"success"`
	Result     map[string]any `json:"result,omitempty"`
	ErrorCode  string         `json:"error_code,omitempty"`
	Outcome    string         `json:"outcome"`
}

// Guidance is one pre-proposal hint from the learning engine.
type Guidance struct {
	Source     string  `json:"source"`
	Advice     string  `json:"advice"`
	Confidence float64 `json:"confidence"`
}

// Feedback represents a post-hoc review of an execution.
type Feedback struct {
	Outcome         string `json:"outcome"`
	MistakeCategory string `json:"mistake_category,omitempty"`
	Notes           string `json:"notes,omitempty"`
}

// ReviewDecision represents an approve/reject decision on a proposal.
type ReviewDecision struct {
	Approve    bool   `json:"approve"`
	ReviewedBy string `json:"reviewed_by"`
	Notes      string `json:"notes,omitempty"`
}

// APIError represents server side validation or internal errors.
type APIError struct {
	StatusCode int
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("agentgov api error (%d): %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("agentgov api error (%d): %s", e.StatusCode, e.Message)
}

// NewClient instantiates a client for the governance core API. When
// httpClient is nil, a default client with a sensible timeout is used.
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

// SubmitProposal registers a new proposal and returns the ledger's view of
// it, including whether it was self-approved.
func (c *Client) SubmitProposal(ctx context.Context, submission ProposalSubmission) (Proposal, error) {
	var proposal Proposal
	if err := c.post(ctx, "/api/v1/proposals", submission, &proposal); err != nil {
		return Proposal{}, err
	}
	return proposal, nil
}

// GetProposal fetches a proposal by identifier.
func (c *Client) GetProposal(ctx context.Context, id string) (Proposal, error) {
	var proposal Proposal
	if err := c.get(ctx, "/api/v1/proposals/"+url.PathEscape(id), nil, &proposal); err != nil {
		return Proposal{}, err
	}
	return proposal, nil
}

// ListPending returns pending proposals in review-queue order, optionally
// filtered by agent.
func (c *Client) ListPending(ctx context.Context, agentID string) ([]Proposal, error) {
	query := url.Values{"status": {"pending"}}
	if agentID != "" {
		query.Set("agent", agentID)
	}
	var proposals []Proposal
	if err := c.get(ctx, "/api/v1/proposals", query, &proposals); err != nil {
		return nil, err
	}
	return proposals, nil
}

// Review submits an approve/reject decision. A lost review race surfaces as
// an APIError with StatusCode 409.
func (c *Client) Review(ctx context.Context, proposalID string, decision ReviewDecision) (Proposal, error) {
	var proposal Proposal
	endpoint := "/api/v1/proposals/" + url.PathEscape(proposalID) + "/review"
	if err := c.post(ctx, endpoint, decision, &proposal); err != nil {
		return Proposal{}, err
	}
	return proposal, nil
}

// GetExecution fetches the execution record of a proposal, if any.
func (c *Client) GetExecution(ctx context.Context, proposalID string) (Execution, error) {
	var execution Execution
	endpoint := "/api/v1/proposals/" + url.PathEscape(proposalID) + "/execution"
	if err := c.get(ctx, endpoint, nil, &execution); err != nil {
		return Execution{}, err
	}
	return execution, nil
}

// RecordFeedback attaches a post-hoc outcome to an execution.
func (c *Client) RecordFeedback(ctx context.Context, executionID string, feedback Feedback) error {
	endpoint := "/api/v1/executions/" + url.PathEscape(executionID) + "/feedback"
	return c.post(ctx, endpoint, feedback, nil)
}

// ConsultGuidance returns pre-proposal guidance for an agent and action.
func (c *Client) ConsultGuidance(ctx context.Context, agentID, actionName string) ([]Guidance, error) {
	query := url.Values{}
	if actionName != "" {
		query.Set("action", actionName)
	}
	var guidance []Guidance
	endpoint := "/api/v1/agents/" + url.PathEscape(agentID) + "/guidance"
	if err := c.get(ctx, endpoint, query, &guidance); err != nil {
		return nil, err
	}
	return guidance, nil
}

// WaitUntilReviewed polls the proposal until it leaves the pending state or
// the context is cancelled.
func (c *Client) WaitUntilReviewed(ctx context.Context, proposalID string, interval time.Duration) (Proposal, error) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		proposal, err := c.GetProposal(ctx, proposalID)
		if err != nil {
			return Proposal{}, err
		}
		if proposal.Status != "pending" {
			return proposal, nil
		}
		select {
		case <-ctx.Done():
			return Proposal{}, ctx.Err()
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
	u := c.baseURL.ResolveReference(rel)
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
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
			_ = json.Unmarshal(data, &apiErr)
		}
		if apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(data))
		}
		return &apiErr
	}

	if out == nil {
		return nil
	}
	if resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
