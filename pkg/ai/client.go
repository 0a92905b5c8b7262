// Package ai is the HTTP client for the external AI analysis service.
// The service is a black box: this client only knows the JSON contract of
// its classify/summarize/contradict/ask endpoints.
package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"
)

// ChatMessage is a single chat message submitted for analysis. Metadata is
// an opaque tuple echoed back by the service (message id, author id).
type ChatMessage struct {
	User      string         `json:"user"`
	Message   string         `json:"message"`
	Timestamp string         `json:"timestamp,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// RequestContext carries prior extracted signals, grouped by category, so
// the service can judge new messages against the channel's history.
type RequestContext struct {
	PriorDecisions   []string `json:"prior_decisions,omitempty"`
	PriorActions     []string `json:"prior_actions,omitempty"`
	PriorConstraints []string `json:"prior_constraints,omitempty"`
	PriorAssumptions []string `json:"prior_assumptions,omitempty"`
	PriorSuggestions []string `json:"prior_suggestions,omitempty"`
}

// ConfidenceScore is attached to classification output for traceability.
type ConfidenceScore struct {
	Score  float64 `json:"score"`
	Reason string  `json:"reason,omitempty"`
}

// ClassifiedMessage is one classified entry from the classify endpoint.
// Type may contain labels outside the fixed vocabulary; callers filter.
type ClassifiedMessage struct {
	User       string          `json:"user"`
	Message    string          `json:"message"`
	Timestamp  string          `json:"timestamp,omitempty"`
	Type       []string        `json:"type"`
	Metadata   map[string]any  `json:"metadata,omitempty"`
	Confidence ConfidenceScore `json:"confidence"`
}

type ClassifyRequest struct {
	Messages []ChatMessage   `json:"messages"`
	Context  *RequestContext `json:"context,omitempty"`
}

type ClassifyResponse struct {
	Messages    []ClassifiedMessage `json:"messages"`
	Explanation string              `json:"explanation,omitempty"`
}

type SummarizeRequest struct {
	Messages []ChatMessage `json:"messages"`
}

type SummarizeResponse struct {
	Summary    string          `json:"summary"`
	KeyPoints  []string        `json:"key_points"`
	Confidence ConfidenceScore `json:"confidence"`
}

// Contradiction severities considered actionable.
const (
	SeverityCritical = "critical"
	SeverityHigh     = "high"
	SeverityMedium   = "medium"
	SeverityLow      = "low"
)

type Contradiction struct {
	ClaimA      string          `json:"claim_a"`
	ClaimB      string          `json:"claim_b"`
	Severity    string          `json:"severity"`
	Confidence  ConfidenceScore `json:"confidence"`
	Explanation string          `json:"explanation,omitempty"`
}

type ContradictRequest struct {
	Messages []ChatMessage   `json:"messages"`
	Context  *RequestContext `json:"context,omitempty"`
}

type ContradictResponse struct {
	Contradictions []Contradiction `json:"contradictions"`
	IsConsistent   bool            `json:"is_consistent"`
}

type AskRequest struct {
	QueryType string          `json:"query_type"`
	Messages  []ChatMessage   `json:"messages"`
	Query     string          `json:"query"`
	Context   *RequestContext `json:"context,omitempty"`
}

type AskResponse struct {
	Items     []map[string]any `json:"items"`
	AIInsight string           `json:"ai_insight,omitempty"`
}

// Client calls the AI service over HTTP with a bounded timeout so a stuck
// endpoint cannot hold a channel's queue in flight indefinitely.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a client for the AI service at baseURL.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Classify sends a batch of buffered chat messages for signal extraction.
func (c *Client) Classify(ctx context.Context, req *ClassifyRequest) (*ClassifyResponse, error) {
	var resp ClassifyResponse
	if err := c.post(ctx, "/ai/classify", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Summarize produces a rolling synthesis of the given messages.
func (c *Client) Summarize(ctx context.Context, req *SummarizeRequest) (*SummarizeResponse, error) {
	var resp SummarizeResponse
	if err := c.post(ctx, "/ai/summarize", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Contradict checks recent messages against prior extracted signals.
func (c *Client) Contradict(ctx context.Context, req *ContradictRequest) (*ContradictResponse, error) {
	var resp ContradictResponse
	if err := c.post(ctx, "/ai/contradict", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Ask runs a free-form query over messages and prior context.
func (c *Client) Ask(ctx context.Context, req *AskRequest) (*AskResponse, error) {
	var resp AskResponse
	if err := c.post(ctx, "/ai/ask", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) post(ctx context.Context, path string, reqBody, respBody any) error {
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return errors.Wrap(err, "marshal request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return errors.Wrapf(err, "POST %s", path)
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(httpResp.Body, 10<<20))
	if err != nil {
		return errors.Wrapf(err, "read response from %s", path)
	}

	if httpResp.StatusCode != http.StatusOK {
		return errors.Errorf("POST %s: unexpected status %d: %s", path, httpResp.StatusCode, truncate(body, 200))
	}

	if err := json.Unmarshal(body, respBody); err != nil {
		return errors.Wrapf(err, "decode response from %s", path)
	}
	return nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return fmt.Sprintf("%s...", b[:n])
}
