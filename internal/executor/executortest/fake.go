// Package executortest provides a scripted executor for tests.
package executortest

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"bounty-orchestrator/internal/domain"
)

// Reply is one scripted answer. Err wins over Response. Before, when set,
// runs while the call is in flight.
type Reply struct {
	Response any
	Err      error
	Before   func(req domain.ExecRequest)
}

// Fake answers prompts by matching a substring of the prompt. Calls are
// recorded for assertions.
type Fake struct {
	mu      sync.Mutex
	rules   []rule
	calls   []domain.ExecRequest
	Default Reply
}

type rule struct {
	contains string
	reply    Reply
}

func New() *Fake {
	return &Fake{Default: Reply{Response: map[string]any{}}}
}

// On registers a reply for prompts containing substr. Earlier rules win.
func (f *Fake) On(substr string, reply Reply) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rules = append(f.rules, rule{contains: substr, reply: reply})
	return f
}

func (f *Fake) Execute(ctx context.Context, req domain.ExecRequest) (domain.ExecResult, error) {
	if err := ctx.Err(); err != nil {
		return domain.ExecResult{}, &domain.ExecutionFailure{Kind: domain.FailureCanceled, Err: err}
	}

	f.mu.Lock()
	f.calls = append(f.calls, req)
	reply := f.Default
	for _, r := range f.rules {
		if strings.Contains(req.Prompt, r.contains) {
			reply = r.reply
			break
		}
	}
	f.mu.Unlock()

	if reply.Before != nil {
		reply.Before(req)
	}
	if reply.Err != nil {
		return domain.ExecResult{}, reply.Err
	}
	raw, err := json.Marshal(reply.Response)
	if err != nil {
		return domain.ExecResult{}, &domain.ExecutionFailure{Kind: domain.FailureMalformed, Err: err}
	}
	return domain.ExecResult{Response: raw, SessionID: req.SessionID}, nil
}

// Calls returns a copy of the recorded requests.
func (f *Fake) Calls() []domain.ExecRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.ExecRequest, len(f.calls))
	copy(out, f.calls)
	return out
}

// CallCount returns how many recorded prompts contain substr.
func (f *Fake) CallCount(substr string) int {
	n := 0
	for _, c := range f.Calls() {
		if strings.Contains(c.Prompt, substr) {
			n++
		}
	}
	return n
}
