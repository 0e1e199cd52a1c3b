package search

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dochub/api/internal/store"
)

type fakeIndex struct {
	healthy bool
	hits    []Hit
	err     error
	indexed []DocumentRecord
}

func (f *fakeIndex) Healthy() bool { return f.healthy }

func (f *fakeIndex) Search(Query) ([]Hit, int, error) {
	if f.err != nil {
		return nil, 0, f.err
	}
	return f.hits, len(f.hits), nil
}

func (f *fakeIndex) IndexDocuments(docs []DocumentRecord) error {
	f.indexed = append(f.indexed, docs...)
	return nil
}

func seededStore(t *testing.T) *store.MemoryStore {
	t.Helper()
	ms := store.NewMemoryStore()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	err := ms.WithTx(context.Background(), func(tx store.Tx) error {
		if err := tx.InsertDocument(context.Background(), store.Document{
			ID: "doc_1", RepoID: "r1", Title: "Runbook", Slug: "runbook",
			CurrentContent: "Intro\nRestart the queue worker\nDone", CreatedBy: "u1",
			CreatedAt: now, UpdatedAt: now,
		}); err != nil {
			return err
		}
		return tx.InsertDocument(context.Background(), store.Document{
			ID: "doc_2", RepoID: "r2", Title: "Other", Slug: "other",
			CurrentContent: "queue", CreatedBy: "u1", CreatedAt: now, UpdatedAt: now,
		})
	})
	require.NoError(t, err)
	return ms
}

func TestSearchFallsBackToStoreWithoutIndex(t *testing.T) {
	svc := NewService(nil, seededStore(t), nil)

	resp, err := svc.Search(context.Background(), Query{RepoID: "r1", Text: "queue"})
	require.NoError(t, err)
	assert.Equal(t, "store", resp.Source)
	require.Len(t, resp.Hits, 1)
	assert.Equal(t, "runbook", resp.Hits[0].Slug)
	assert.Equal(t, "Restart the queue worker", resp.Hits[0].Snippet)
}

func TestSearchFallsBackWhenIndexFails(t *testing.T) {
	idx := &fakeIndex{healthy: true, err: errors.New("boom")}
	svc := NewService(idx, seededStore(t), nil)

	resp, err := svc.Search(context.Background(), Query{RepoID: "r1", Text: "queue"})
	require.NoError(t, err)
	assert.Equal(t, "store", resp.Source)
	assert.Len(t, resp.Hits, 1)
}

func TestSearchUsesHealthyIndex(t *testing.T) {
	idx := &fakeIndex{healthy: true, hits: []Hit{{DocumentID: "doc_1", Slug: "runbook"}}}
	svc := NewService(idx, seededStore(t), nil)

	resp, err := svc.Search(context.Background(), Query{RepoID: "r1", Text: "queue"})
	require.NoError(t, err)
	assert.Equal(t, "index", resp.Source)
	assert.Equal(t, 1, resp.Total)
}

func TestBlankQueryReturnsNothing(t *testing.T) {
	svc := NewService(nil, seededStore(t), nil)

	resp, err := svc.Search(context.Background(), Query{RepoID: "r1", Text: "   "})
	require.NoError(t, err)
	assert.Empty(t, resp.Hits)
	assert.NotNil(t, resp.Hits)
}

func TestPublishVersionIndexesNewContent(t *testing.T) {
	idx := &fakeIndex{healthy: true}
	svc := NewService(idx, seededStore(t), nil)

	doc := store.Document{ID: "doc_1", RepoID: "r1", Slug: "runbook", Title: "Runbook", CurrentContent: "old"}
	err := svc.PublishVersion(context.Background(), doc, store.DocumentVersion{VersionNumber: 3, Content: "new"})
	require.NoError(t, err)
	require.Len(t, idx.indexed, 1)
	assert.Equal(t, "new", idx.indexed[0].Content)
	assert.Equal(t, 3, idx.indexed[0].Version)
}

func TestPublishVersionSkipsUnhealthyIndex(t *testing.T) {
	idx := &fakeIndex{healthy: false}
	svc := NewService(idx, seededStore(t), nil)

	require.NoError(t, svc.PublishVersion(context.Background(), store.Document{ID: "doc_1"}, store.DocumentVersion{}))
	assert.Empty(t, idx.indexed)
}

func TestReindexSendsEveryDocument(t *testing.T) {
	idx := &fakeIndex{healthy: true}
	svc := NewService(idx, seededStore(t), nil)

	n, err := svc.Reindex(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Len(t, idx.indexed, 2)
}

func TestScheduleRejectsBadSpec(t *testing.T) {
	svc := NewService(nil, seededStore(t), nil)

	_, err := svc.Schedule("not a schedule")
	require.Error(t, err)

	c, err := svc.Schedule("@every 30m")
	require.NoError(t, err)
	c.Stop()
}

func TestSnippetTruncates(t *testing.T) {
	long := make([]rune, 300)
	for i := range long {
		long[i] = 'a'
	}
	got := snippet(string(long), "")
	assert.Len(t, []rune(got), snippetRunes+1)
}
