package memory

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"

	"bounty-orchestrator/internal/core/ports"
	"bounty-orchestrator/internal/domain"
	"bounty-orchestrator/internal/logging"
)

const (
	// gotchaLessons caps how many rejection lessons RepoGotchas adds.
	gotchaLessons = 3
	// lessonScan is how many learnings are ranked before filtering by target.
	lessonScan = 20
)

// Manager provides typed access to repo profiles, learnings and user
// preferences on top of a MemoryStore.
type Manager struct {
	store ports.MemoryStore
	log   *slog.Logger
	now   func() time.Time
}

func NewManager(store ports.MemoryStore, log *slog.Logger) *Manager {
	return &Manager{
		store: store,
		log:   logging.OrNop(log).With("component", "memory"),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Store returns the underlying store.
func (m *Manager) Store() ports.MemoryStore {
	return m.store
}

// RepoProfile returns the cached profile for key or domain.ErrNotFound.
func (m *Manager) RepoProfile(ctx context.Context, key string) (*domain.RepoProfile, error) {
	rec, err := m.store.Get(ctx, domain.NamespaceRepos, key)
	if err != nil {
		return nil, err
	}
	var p domain.RepoProfile
	if err := json.Unmarshal(rec.Value, &p); err != nil {
		return nil, fmt.Errorf("decode repo profile %s: %w", key, err)
	}
	if p.TargetKey == "" {
		p.TargetKey = key
	}
	return &p, nil
}

// SaveRepoProfile overwrites the profile stored under p.TargetKey.
func (m *Manager) SaveRepoProfile(ctx context.Context, p domain.RepoProfile) error {
	if p.TargetKey == "" {
		return errors.New("save repo profile: empty target key")
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return err
	}
	if err := m.store.Put(ctx, domain.NamespaceRepos, p.TargetKey, raw); err != nil {
		return fmt.Errorf("save repo profile %s: %w", p.TargetKey, err)
	}
	m.log.Info("saved repo profile", "target_key", p.TargetKey)
	return nil
}

// ListRepos returns every stored profile. Undecodable records are skipped.
func (m *Manager) ListRepos(ctx context.Context) ([]domain.RepoProfile, error) {
	recs, err := m.store.List(ctx, domain.NamespaceRepos)
	if err != nil {
		return nil, err
	}
	out := make([]domain.RepoProfile, 0, len(recs))
	for _, rec := range recs {
		var p domain.RepoProfile
		if err := json.Unmarshal(rec.Value, &p); err != nil {
			m.log.Warn("skipping undecodable repo profile", "key", rec.Key, "error", err)
			continue
		}
		if p.TargetKey == "" {
			p.TargetKey = rec.Key
		}
		out = append(out, p)
	}
	return out, nil
}

// RecordLearning assigns an id, timestamp and embedding text and appends the
// learning under learnings/{category}.
func (m *Manager) RecordLearning(ctx context.Context, l domain.Learning) (domain.Learning, error) {
	if !l.Category.Valid() {
		return l, fmt.Errorf("record learning: unknown category %q", l.Category)
	}
	now := m.now()
	l.ID = ulid.MustNew(ulid.Timestamp(now), ulid.Monotonic(rand.Reader, 0)).String()
	l.CreatedAt = now
	l.EmbeddingText = fmt.Sprintf("%s %s %s", l.Target, l.Category, l.Lesson)

	raw, err := json.Marshal(l)
	if err != nil {
		return l, err
	}
	if err := m.store.Put(ctx, domain.NamespaceLearnings.Child(string(l.Category)), l.ID, raw); err != nil {
		return l, fmt.Errorf("record learning: %w", err)
	}
	m.log.Info("recorded learning", "category", l.Category, "target", l.Target, "id", l.ID)
	return l, nil
}

// SearchLearnings ranks learnings by similarity to query. An empty category
// searches both.
func (m *Manager) SearchLearnings(ctx context.Context, query string, category domain.LearningCategory, limit int) ([]domain.ScoredLearning, error) {
	ns := domain.NamespaceLearnings
	if category != "" {
		if !category.Valid() {
			return nil, fmt.Errorf("search learnings: unknown category %q", category)
		}
		ns = ns.Child(string(category))
	}
	results, err := m.store.Search(ctx, ns, query, limit)
	if err != nil {
		return nil, err
	}
	out := make([]domain.ScoredLearning, 0, len(results))
	for _, r := range results {
		var l domain.Learning
		if err := json.Unmarshal(r.Value, &l); err != nil {
			m.log.Warn("skipping undecodable learning", "key", r.Key, "error", err)
			continue
		}
		out = append(out, domain.ScoredLearning{Score: r.Score, Learning: l})
	}
	return out, nil
}

// PastLessons returns up to limit lessons recorded for target, best match
// first.
func (m *Manager) PastLessons(ctx context.Context, target string, limit int) ([]string, error) {
	hits, err := m.SearchLearnings(ctx, target, "", lessonScan)
	if err != nil {
		return nil, err
	}
	return lessonsFor(hits, sameTarget(domain.TargetKey(target), target), limit), nil
}

// RepoGotchas combines the profile's gotchas with the closest rejection
// lessons for the same repository, matched by key or by the target string.
// target may be empty. A missing profile is not an error.
func (m *Manager) RepoGotchas(ctx context.Context, key, target string) ([]string, error) {
	var gotchas []string
	p, err := m.RepoProfile(ctx, key)
	switch {
	case err == nil:
		gotchas = append(gotchas, p.Gotchas...)
	case !errors.Is(err, domain.ErrNotFound):
		return nil, err
	}

	hits, err := m.SearchLearnings(ctx, target+" rejections", domain.CategoryRejections, lessonScan)
	if err != nil {
		return nil, err
	}
	gotchas = append(gotchas, lessonsFor(hits, sameTarget(key, target), gotchaLessons)...)
	return domain.Dedupe(gotchas), nil
}

// UserPreferences returns the stored preferences document or
// domain.ErrNotFound.
func (m *Manager) UserPreferences(ctx context.Context, userID string) (json.RawMessage, error) {
	rec, err := m.store.Get(ctx, domain.NamespaceUsers, userID)
	if err != nil {
		return nil, err
	}
	return rec.Value, nil
}

// SaveUserPreferences stores prefs verbatim. It must be a JSON object.
func (m *Manager) SaveUserPreferences(ctx context.Context, userID string, prefs json.RawMessage) error {
	if !(domain.ExecResult{Response: prefs}).IsObject() || !json.Valid(prefs) {
		return fmt.Errorf("%w: user preferences must be a JSON object", domain.ErrInvalidInput)
	}
	return m.store.Put(ctx, domain.NamespaceUsers, userID, prefs)
}

// sameTarget matches learnings recorded under target or any other spelling
// of the repository with the given key.
func sameTarget(key, target string) func(string) bool {
	return func(t string) bool {
		return (target != "" && t == target) || domain.TargetKey(t) == key
	}
}

func lessonsFor(hits []domain.ScoredLearning, match func(string) bool, limit int) []string {
	var out []string
	for _, h := range hits {
		if len(out) == limit {
			break
		}
		if !match(h.Target) || h.Lesson == "" {
			continue
		}
		out = append(out, h.Lesson)
	}
	return out
}
