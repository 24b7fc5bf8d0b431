package domain

import (
	"encoding/json"
	"strings"
	"time"
)

// Namespace is a slash separated path in the memory store.
type Namespace string

const (
	NamespaceRepos     Namespace = "repos"
	NamespaceBounties  Namespace = "bounties"
	NamespaceLearnings Namespace = "learnings"
	NamespaceUsers     Namespace = "users"
)

// Child returns n extended with the given parts.
func (n Namespace) Child(parts ...string) Namespace {
	if len(parts) == 0 {
		return n
	}
	return Namespace(string(n) + "/" + strings.Join(parts, "/"))
}

// Contains reports whether other is n or one of its sub-namespaces.
func (n Namespace) Contains(other Namespace) bool {
	return other == n || strings.HasPrefix(string(other), string(n)+"/")
}

// Record is a stored memory value.
type Record struct {
	Namespace     Namespace       `json:"namespace"`
	Key           string          `json:"key"`
	Value         json.RawMessage `json:"value"`
	EmbeddingText string          `json:"embedding_text,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// SearchResult is a ranked record.
type SearchResult struct {
	Score float64 `json:"score"`
	Record
}

// EmbeddingTextOf extracts the "embedding_text" string field from a JSON
// object value. Other shapes have no embedding text.
func EmbeddingTextOf(value json.RawMessage) string {
	var payload struct {
		EmbeddingText string `json:"embedding_text"`
	}
	if err := json.Unmarshal(value, &payload); err != nil {
		return ""
	}
	return payload.EmbeddingText
}
