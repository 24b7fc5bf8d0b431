package executor

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bounty-orchestrator/internal/domain"
)

func TestClient_Execute_SendsEnvelope(t *testing.T) {
	var got runRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/a2a/run", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"response":{"issue_summary":"fix"}}`))
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL + "/"}, srv.Client())
	res, err := c.Execute(context.Background(), domain.ExecRequest{
		Prompt:    "analyze",
		Context:   map[string]any{"bounty_id": "b-1"},
		SessionID: "bounty-b-1-abcd1234",
	})
	require.NoError(t, err)

	assert.Equal(t, "bob", got.AgentRole)
	assert.Equal(t, "analyze", got.Prompt)
	assert.Equal(t, "b-1", got.Context["bounty_id"])
	assert.Equal(t, "bounty-b-1-abcd1234", got.SessionID)
	assert.True(t, res.IsObject())
	assert.JSONEq(t, `{"issue_summary":"fix"}`, string(res.Response))
	assert.Equal(t, "bounty-b-1-abcd1234", res.SessionID)
}

func TestClient_Execute_UnwrapsJSONString(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"response":"` + "```json\\n{\\\"competing_count\\\":2}\\n```" + `"}`))
	}))
	defer srv.Close()

	res, err := NewClient(Config{BaseURL: srv.URL}, nil).Execute(context.Background(), domain.ExecRequest{Prompt: "p"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"competing_count":2}`, string(res.Response))
}

func TestClient_Execute_PlainTextStaysString(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"response":"keep PRs small"}`))
	}))
	defer srv.Close()

	res, err := NewClient(Config{BaseURL: srv.URL}, nil).Execute(context.Background(), domain.ExecRequest{Prompt: "p"})
	require.NoError(t, err)
	assert.Equal(t, "keep PRs small", res.Text())
	assert.False(t, res.IsObject())
}

func TestClient_Execute_Failures(t *testing.T) {
	tests := []struct {
		name       string
		handler    http.HandlerFunc
		timeout    time.Duration
		wantKind   domain.FailureKind
		wantStatus int
	}{
		{
			name: "non-2xx status",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "boom", http.StatusInternalServerError)
			},
			wantKind:   domain.FailureStatus,
			wantStatus: http.StatusInternalServerError,
		},
		{
			name: "remote error field",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`{"error":"agent crashed"}`))
			},
			wantKind: domain.FailureRemote,
		},
		{
			name: "malformed envelope",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`not json`))
			},
			wantKind: domain.FailureMalformed,
		},
		{
			name: "timeout",
			handler: func(w http.ResponseWriter, r *http.Request) {
				select {
				case <-r.Context().Done():
				case <-time.After(2 * time.Second):
				}
			},
			timeout:  50 * time.Millisecond,
			wantKind: domain.FailureTimeout,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			c := NewClient(Config{BaseURL: srv.URL, Timeout: tt.timeout}, nil)
			_, err := c.Execute(context.Background(), domain.ExecRequest{Prompt: "p"})
			require.Error(t, err)

			var ef *domain.ExecutionFailure
			require.True(t, errors.As(err, &ef))
			assert.Equal(t, tt.wantKind, ef.Kind)
			assert.Equal(t, tt.wantStatus, ef.StatusCode)
			assert.True(t, domain.IsRetryable(err))
		})
	}
}

func TestClient_Execute_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewClient(Config{BaseURL: url}, nil).Execute(context.Background(), domain.ExecRequest{Prompt: "p"})
	var ef *domain.ExecutionFailure
	require.True(t, errors.As(err, &ef))
	assert.Equal(t, domain.FailureUnreachable, ef.Kind)
}

func TestClient_Execute_CallerCancel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := NewClient(Config{BaseURL: srv.URL}, nil).Execute(ctx, domain.ExecRequest{Prompt: "p"})
	var ef *domain.ExecutionFailure
	require.True(t, errors.As(err, &ef))
	assert.Equal(t, domain.FailureCanceled, ef.Kind)
	assert.False(t, domain.IsRetryable(err))
}
