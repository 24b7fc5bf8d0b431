// Package executor is the HTTP client for the external task executor.
//
// The executor accepts a natural-language prompt plus structured context and a
// session id at POST {base}/a2a/run and answers with an envelope
// {"response": ..., "error": ...}. Every failure mode is surfaced as a
// *domain.ExecutionFailure so callers never mistake an outage for an empty
// result.
package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"bounty-orchestrator/internal/domain"
)

const (
	DefaultTimeout   = 120 * time.Second
	DefaultAgentRole = "bob"
	runPath          = "/a2a/run"
	maxErrorBody     = 512
)

// Config holds the client settings.
type Config struct {
	BaseURL   string
	Timeout   time.Duration
	AgentRole string
}

// Client calls the executor over HTTP. It holds no mutable state and may be
// used concurrently.
type Client struct {
	baseURL    string
	timeout    time.Duration
	agentRole  string
	httpClient *http.Client
}

func NewClient(cfg Config, httpClient *http.Client) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.AgentRole == "" {
		cfg.AgentRole = DefaultAgentRole
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		timeout:    cfg.Timeout,
		agentRole:  cfg.AgentRole,
		httpClient: httpClient,
	}
}

type runRequest struct {
	AgentRole string         `json:"agent_role"`
	Prompt    string         `json:"prompt"`
	Context   map[string]any `json:"context"`
	SessionID string         `json:"session_id,omitempty"`
}

type runResponse struct {
	Response  json.RawMessage `json:"response"`
	Error     string          `json:"error"`
	SessionID string          `json:"session_id"`
}

// Execute runs one prompt. The call is bounded by the configured timeout.
func (c *Client) Execute(ctx context.Context, req domain.ExecRequest) (domain.ExecResult, error) {
	reqCtx := req.Context
	if reqCtx == nil {
		reqCtx = map[string]any{}
	}
	body, err := json.Marshal(runRequest{
		AgentRole: c.agentRole,
		Prompt:    req.Prompt,
		Context:   reqCtx,
		SessionID: req.SessionID,
	})
	if err != nil {
		return domain.ExecResult{}, &domain.ExecutionFailure{Kind: domain.FailureMalformed, Err: fmt.Errorf("encode request: %w", err)}
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(callCtx, http.MethodPost, c.baseURL+runPath, bytes.NewReader(body))
	if err != nil {
		return domain.ExecResult{}, &domain.ExecutionFailure{Kind: domain.FailureUnreachable, Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return domain.ExecResult{}, classify(ctx, callCtx, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return domain.ExecResult{}, &domain.ExecutionFailure{
			Kind:       domain.FailureStatus,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("%s", strings.TrimSpace(string(snippet))),
		}
	}

	var envelope runResponse
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		if callCtx.Err() != nil {
			return domain.ExecResult{}, classify(ctx, callCtx, err)
		}
		return domain.ExecResult{}, &domain.ExecutionFailure{Kind: domain.FailureMalformed, Err: fmt.Errorf("decode envelope: %w", err)}
	}
	if envelope.Error != "" {
		return domain.ExecResult{}, &domain.ExecutionFailure{Kind: domain.FailureRemote, Err: errors.New(envelope.Error)}
	}

	session := envelope.SessionID
	if session == "" {
		session = req.SessionID
	}
	return domain.ExecResult{
		Response:  unwrapResponse(envelope.Response),
		SessionID: session,
	}, nil
}

// classify maps transport errors to a failure kind. A deadline hit by the
// per-call timeout is a timeout; cancellation by the caller is final.
func classify(parent, call context.Context, err error) error {
	switch {
	case parent.Err() != nil && errors.Is(parent.Err(), context.Canceled):
		return &domain.ExecutionFailure{Kind: domain.FailureCanceled, Err: err}
	case errors.Is(call.Err(), context.DeadlineExceeded):
		return &domain.ExecutionFailure{Kind: domain.FailureTimeout, Err: err}
	default:
		return &domain.ExecutionFailure{Kind: domain.FailureUnreachable, Err: err}
	}
}

// unwrapResponse turns a JSON string holding a JSON document (optionally in a
// markdown code fence) into that document. Anything else is returned as is.
func unwrapResponse(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage("null")
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return raw
	}
	inner := strings.TrimSpace(s)
	inner = strings.TrimPrefix(inner, "```json")
	inner = strings.TrimPrefix(inner, "```")
	inner = strings.TrimSuffix(inner, "```")
	inner = strings.TrimSpace(inner)
	if (strings.HasPrefix(inner, "{") || strings.HasPrefix(inner, "[")) && json.Valid([]byte(inner)) {
		return json.RawMessage(inner)
	}
	return raw
}
