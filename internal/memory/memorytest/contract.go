// Package memorytest holds behaviour tests shared by every MemoryStore
// implementation. The store under test must rank with an embedder.
package memorytest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bounty-orchestrator/internal/core/ports"
	"bounty-orchestrator/internal/domain"
)

// Run exercises newStore; each subtest gets a fresh store.
func Run(t *testing.T, newStore func(t *testing.T) ports.MemoryStore) {
	ctx := context.Background()

	t.Run("get missing", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Get(ctx, domain.NamespaceRepos, "nope")
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("put overwrites", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Put(ctx, domain.NamespaceRepos, "octo_widgets", []byte(`{"url":"a"}`)))
		first, err := s.Get(ctx, domain.NamespaceRepos, "octo_widgets")
		require.NoError(t, err)

		require.NoError(t, s.Put(ctx, domain.NamespaceRepos, "octo_widgets", []byte(`{"url":"b"}`)))
		rec, err := s.Get(ctx, domain.NamespaceRepos, "octo_widgets")
		require.NoError(t, err)

		assert.JSONEq(t, `{"url":"b"}`, string(rec.Value))
		assert.Equal(t, domain.NamespaceRepos, rec.Namespace)
		assert.Equal(t, "octo_widgets", rec.Key)
		assert.True(t, rec.CreatedAt.Equal(first.CreatedAt), "created_at survives overwrite")
	})

	t.Run("list includes sub-namespaces only", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Put(ctx, "learnings/rejections", "a", []byte(`{}`)))
		require.NoError(t, s.Put(ctx, "learnings/successes", "b", []byte(`{}`)))
		require.NoError(t, s.Put(ctx, "learnings", "c", []byte(`{}`)))
		require.NoError(t, s.Put(ctx, "learningsx", "d", []byte(`{}`)))

		recs, err := s.List(ctx, domain.NamespaceLearnings)
		require.NoError(t, err)
		keys := make([]string, 0, len(recs))
		for _, r := range recs {
			keys = append(keys, r.Key)
		}
		assert.ElementsMatch(t, []string{"a", "b", "c"}, keys)

		recs, err = s.List(ctx, "learnings/rejections")
		require.NoError(t, err)
		require.Len(t, recs, 1)
		assert.Equal(t, "a", recs[0].Key)
	})

	t.Run("search ranks by similarity", func(t *testing.T) {
		s := newStore(t)
		put := func(ns domain.Namespace, key, text string) {
			require.NoError(t, s.Put(ctx, ns, key, []byte(`{"embedding_text":"`+text+`"}`)))
		}
		put("learnings/successes", "s1", "acme/api successes add table driven tests")
		put("learnings/rejections", "r1", "octo/widgets rejections sign the CLA before opening a PR")
		put("learnings/rejections", "r2", "octo/widgets rejections split large PRs into smaller ones")
		require.NoError(t, s.Put(ctx, "learnings/rejections", "plain", []byte(`{"lesson":"no embedding"}`)))

		res, err := s.Search(ctx, domain.NamespaceLearnings, "sign the CLA for octo/widgets", 10)
		require.NoError(t, err)
		require.Len(t, res, 3, "records without embedding text are not searchable")
		assert.Equal(t, "r1", res[0].Key)
		for i := 1; i < len(res); i++ {
			assert.GreaterOrEqual(t, res[i-1].Score, res[i].Score)
		}

		res, err = s.Search(ctx, "learnings/rejections", "split PRs", 1)
		require.NoError(t, err)
		require.Len(t, res, 1)
		assert.Equal(t, "r2", res[0].Key)
	})
}
