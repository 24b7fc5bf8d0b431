package domain

import (
	"slices"
	"time"
)

// RepoProfile is the cached knowledge about a target repository's
// contribution conventions.
type RepoProfile struct {
	TargetKey             string            `json:"target_key"`
	URL                   string            `json:"url"`
	Summary               []string          `json:"quick_summary,omitempty"`
	Commands              map[string]string `json:"commands,omitempty"`
	StyleRules            map[string]string `json:"style_rules,omitempty"`
	MaintainerPreferences []string          `json:"maintainer_preferences,omitempty"`
	Gotchas               []string          `json:"gotchas,omitempty"`
	// LearnedGotchas is the subset of Gotchas that came from Learning records.
	// It survives re-syncs.
	LearnedGotchas []string          `json:"learned_gotchas,omitempty"`
	CLARequired    bool              `json:"cla_required"`
	Links          map[string]string `json:"links,omitempty"`
	LastSynced     string            `json:"last_synced,omitempty"`
}

// Command returns the named command (lint, test, typecheck) or "".
func (p *RepoProfile) Command(name string) string {
	if p == nil {
		return ""
	}
	return p.Commands[name]
}

// AddLearnedGotcha appends lesson to the gotcha lists unless an identical
// string is already present. It reports whether the profile changed.
//
// TODO: exact string match lets near-duplicate lessons accumulate; compare
// embeddings once learnings are searchable per target.
func (p *RepoProfile) AddLearnedGotcha(lesson string) bool {
	if lesson == "" || slices.Contains(p.Gotchas, lesson) {
		return false
	}
	p.Gotchas = append(p.Gotchas, lesson)
	if !slices.Contains(p.LearnedGotchas, lesson) {
		p.LearnedGotchas = append(p.LearnedGotchas, lesson)
	}
	return true
}

// Dedupe returns items without repeats, keeping first occurrences in order.
func Dedupe(items []string) []string {
	seen := make(map[string]bool, len(items))
	out := make([]string, 0, len(items))
	for _, it := range items {
		if it == "" || seen[it] {
			continue
		}
		seen[it] = true
		out = append(out, it)
	}
	return out
}

// LearningCategory partitions learnings by outcome.
type LearningCategory string

const (
	CategoryRejections LearningCategory = "rejections"
	CategorySuccesses  LearningCategory = "successes"
)

// Valid reports whether c is a known category.
func (c LearningCategory) Valid() bool {
	return c == CategoryRejections || c == CategorySuccesses
}

// Learning is an immutable record of outcome experience.
type Learning struct {
	ID            string           `json:"id"`
	Category      LearningCategory `json:"category"`
	InstanceID    string           `json:"instance_id"`
	Target        string           `json:"target"`
	WhatHappened  string           `json:"what_happened,omitempty"`
	Lesson        string           `json:"lesson,omitempty"`
	EmbeddingText string           `json:"embedding_text"`
	CreatedAt     time.Time        `json:"created_at"`
}

// ScoredLearning is a search hit.
type ScoredLearning struct {
	Score float64 `json:"score"`
	Learning
}
