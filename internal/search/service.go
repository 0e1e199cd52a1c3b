package search

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/robfig/cron/v3"

	"dochub/api/internal/store"
)

type documentSource interface {
	ListAllDocuments(ctx context.Context) ([]store.Document, error)
	SearchDocuments(ctx context.Context, repoID, query string, limit int) ([]store.Document, error)
}

// Service is the facade that tries the index first and falls back to the
// document store's substring search.
type Service struct {
	index  Index
	docs   documentSource
	logger *slog.Logger
}

// NewService creates a search service. index may be nil when no search
// server is configured.
func NewService(index Index, docs documentSource, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{index: index, docs: docs, logger: logger}
}

func (s *Service) indexReady() bool {
	return s.index != nil && s.index.Healthy()
}

func (s *Service) Search(ctx context.Context, q Query) (Response, error) {
	q.Text = strings.TrimSpace(q.Text)
	if q.Limit <= 0 || q.Limit > 100 {
		q.Limit = 20
	}
	if q.Text == "" {
		return Response{Hits: []Hit{}, Query: q.Text, Source: "none"}, nil
	}

	if s.indexReady() {
		hits, total, err := s.index.Search(q)
		if err == nil {
			return Response{Hits: nonNil(hits), Total: total, Query: q.Text, Source: "index"}, nil
		}
		s.logger.Warn("search index failed, falling back to store", "repo_id", q.RepoID, "error", err)
	}

	docs, err := s.docs.SearchDocuments(ctx, q.RepoID, q.Text, q.Limit)
	if err != nil {
		return Response{}, fmt.Errorf("store search: %w", err)
	}
	hits := make([]Hit, 0, len(docs))
	for _, doc := range docs {
		hits = append(hits, Hit{
			DocumentID: doc.ID,
			RepoID:     doc.RepoID,
			Slug:       doc.Slug,
			Title:      doc.Title,
			Snippet:    snippet(doc.CurrentContent, q.Text),
		})
	}
	return Response{Hits: hits, Total: len(hits), Query: q.Text, Source: "store"}, nil
}

func (s *Service) Name() string { return "search" }

// PublishVersion pushes the document's new current content to the index.
// While the index is down this is a no-op; the next reindex catches up.
func (s *Service) PublishVersion(_ context.Context, doc store.Document, version store.DocumentVersion) error {
	if !s.indexReady() {
		return nil
	}
	doc.CurrentContent = version.Content
	if err := s.index.IndexDocuments([]DocumentRecord{recordFor(doc, version.VersionNumber)}); err != nil {
		return fmt.Errorf("index document %s: %w", doc.ID, err)
	}
	return nil
}

// Reindex pushes every document to the index and returns how many were sent.
func (s *Service) Reindex(ctx context.Context) (int, error) {
	if !s.indexReady() {
		return 0, nil
	}
	docs, err := s.docs.ListAllDocuments(ctx)
	if err != nil {
		return 0, fmt.Errorf("load documents: %w", err)
	}
	records := make([]DocumentRecord, 0, len(docs))
	for _, doc := range docs {
		records = append(records, recordFor(doc, 0))
	}
	if err := s.index.IndexDocuments(records); err != nil {
		return 0, fmt.Errorf("reindex documents: %w", err)
	}
	return len(records), nil
}

// Schedule runs Reindex on spec (standard cron syntax or descriptors such as
// "@every 30m"). The caller stops the returned scheduler on shutdown.
func (s *Service) Schedule(spec string) (*cron.Cron, error) {
	c := cron.New()
	_, err := c.AddFunc(spec, func() {
		n, err := s.Reindex(context.Background())
		if err != nil {
			s.logger.Error("scheduled reindex failed", "error", err)
			return
		}
		s.logger.Info("scheduled reindex complete", "documents", n)
	})
	if err != nil {
		return nil, fmt.Errorf("schedule reindex %q: %w", spec, err)
	}
	c.Start()
	return c, nil
}

func nonNil(h []Hit) []Hit {
	if h == nil {
		return []Hit{}
	}
	return h
}
