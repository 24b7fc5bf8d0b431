// Package knowledge keeps per-repository contribution profiles fresh and
// turns submission outcomes into learnings.
package knowledge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"bounty-orchestrator/internal/core/ports"
	"bounty-orchestrator/internal/domain"
	"bounty-orchestrator/internal/logging"
	"bounty-orchestrator/internal/memory"
	"bounty-orchestrator/internal/prompt"
)

// DefaultStaleness is how long a synced profile stays fresh.
const DefaultStaleness = 7 * 24 * time.Hour

// PurposeRepoSync is sent as context.purpose with sync requests.
const PurposeRepoSync = "repo_knowledge_sync"

// naive timestamps (no zone) are read as UTC
var naiveLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

// IsStale reports whether a profile synced at lastSynced needs a refresh.
// Empty and unparseable stamps are stale.
func IsStale(lastSynced string, threshold time.Duration, now time.Time) bool {
	lastSynced = strings.TrimSpace(lastSynced)
	if lastSynced == "" {
		return true
	}
	synced, err := time.Parse(time.RFC3339Nano, lastSynced)
	if err != nil {
		synced, err = parseNaive(lastSynced)
		if err != nil {
			return true
		}
	}
	return now.Sub(synced) > threshold
}

func parseNaive(s string) (time.Time, error) {
	var firstErr error
	for _, layout := range naiveLayouts {
		t, err := time.ParseInLocation(layout, s, time.UTC)
		if err == nil {
			return t, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return time.Time{}, firstErr
}

// Synchronizer fetches repository knowledge through the executor and caches
// it as RepoProfile records.
type Synchronizer struct {
	executor  ports.Executor
	memory    *memory.Manager
	prompts   *prompt.Renderer
	threshold time.Duration
	log       *slog.Logger
	now       func() time.Time
}

func NewSynchronizer(exec ports.Executor, mgr *memory.Manager, prompts *prompt.Renderer, threshold time.Duration, log *slog.Logger) *Synchronizer {
	if threshold <= 0 {
		threshold = DefaultStaleness
	}
	return &Synchronizer{
		executor:  exec,
		memory:    mgr,
		prompts:   prompts,
		threshold: threshold,
		log:       logging.OrNop(log).With("component", "knowledge"),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Sync refreshes the profile of ref and returns its key. Learned gotchas of
// the previous profile are carried over; everything else is replaced.
func (s *Synchronizer) Sync(ctx context.Context, ref string) (string, error) {
	key := domain.TargetKey(ref)
	url := domain.RepoURL(ref)

	text, err := s.prompts.Sync(prompt.SyncData{RepoURL: url})
	if err != nil {
		return "", err
	}
	res, err := s.executor.Execute(ctx, domain.ExecRequest{
		Prompt:  text,
		Context: map[string]any{"purpose": PurposeRepoSync},
	})
	if err != nil {
		return "", fmt.Errorf("sync %s: %w", key, err)
	}

	raw := res.Response
	if !res.IsObject() {
		s.log.Warn("repo sync returned a non-object response; storing an empty profile", "target_key", key)
		raw = json.RawMessage(`{}`)
	}
	profile, skipped := decodeProfile(raw)
	if len(skipped) > 0 {
		s.log.Warn("repo sync dropped malformed fields", "target_key", key, "fields", skipped)
	}
	profile.TargetKey = key
	profile.URL = url
	profile.LastSynced = s.now().Format(time.RFC3339)
	profile.Gotchas = domain.Dedupe(profile.Gotchas)

	previous, err := s.memory.RepoProfile(ctx, key)
	switch {
	case err == nil:
		for _, g := range previous.LearnedGotchas {
			profile.AddLearnedGotcha(g)
		}
	case !errors.Is(err, domain.ErrNotFound):
		return "", fmt.Errorf("sync %s: load previous profile: %w", key, err)
	}

	if err := s.memory.SaveRepoProfile(ctx, profile); err != nil {
		return "", err
	}
	s.log.Info("repo knowledge synced", "target_key", key, "gotchas", len(profile.Gotchas))
	return key, nil
}

// EnsureProfile returns the cached profile of ref, syncing first when it is
// missing or stale. When the sync fails a stale profile is still returned
// together with the error.
func (s *Synchronizer) EnsureProfile(ctx context.Context, ref string) (*domain.RepoProfile, error) {
	key := domain.TargetKey(ref)

	cached, err := s.memory.RepoProfile(ctx, key)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}
	if cached != nil && !IsStale(cached.LastSynced, s.threshold, s.now()) {
		return cached, nil
	}

	if _, err := s.Sync(ctx, ref); err != nil {
		return cached, err
	}
	return s.memory.RepoProfile(ctx, key)
}

// decodeProfile decodes each known field on its own so one malformed field
// does not discard the rest. It returns the names of skipped fields.
func decodeProfile(raw json.RawMessage) (domain.RepoProfile, []string) {
	var p domain.RepoProfile
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return p, []string{"*"}
	}

	var skipped []string
	decode := func(name string, dst any) {
		v, ok := fields[name]
		if !ok || string(v) == "null" {
			return
		}
		if err := json.Unmarshal(v, dst); err != nil {
			skipped = append(skipped, name)
		}
	}
	decode("quick_summary", &p.Summary)
	decode("commands", &p.Commands)
	decode("style_rules", &p.StyleRules)
	decode("maintainer_preferences", &p.MaintainerPreferences)
	decode("gotchas", &p.Gotchas)
	decode("cla_required", &p.CLARequired)
	decode("links", &p.Links)
	return p, skipped
}
