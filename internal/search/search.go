package search

import (
	"strings"
	"time"

	"dochub/api/internal/store"
)

// Hit is a single search match returned to the caller.
type Hit struct {
	DocumentID string `json:"documentId"`
	RepoID     string `json:"repoId"`
	Slug       string `json:"slug"`
	Title      string `json:"title"`
	Snippet    string `json:"snippet"`
}

// Query describes a search request. RepoID is required.
type Query struct {
	RepoID string
	Text   string
	Limit  int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Hits   []Hit  `json:"hits"`
	Total  int    `json:"total"`
	Query  string `json:"query"`
	Source string `json:"source"`
}

// Index is a full-text index over documents' current content.
type Index interface {
	Healthy() bool
	Search(q Query) ([]Hit, int, error)
	IndexDocuments(docs []DocumentRecord) error
}

// DocumentRecord is the data we index for a document.
type DocumentRecord struct {
	ID        string `json:"id"`
	RepoID    string `json:"repoId"`
	Slug      string `json:"slug"`
	Title     string `json:"title"`
	Content   string `json:"content"`
	Version   int    `json:"version"`
	UpdatedAt int64  `json:"updatedAt"`
}

func recordFor(doc store.Document, version int) DocumentRecord {
	return DocumentRecord{
		ID:        doc.ID,
		RepoID:    doc.RepoID,
		Slug:      doc.Slug,
		Title:     doc.Title,
		Content:   doc.CurrentContent,
		Version:   version,
		UpdatedAt: doc.UpdatedAt.UTC().Truncate(time.Second).Unix(),
	}
}

const snippetRunes = 160

// snippet returns the first line of content containing text, or the opening
// of the content when text does not occur in it.
func snippet(content, text string) string {
	lines := strings.Split(content, "\n")
	needle := strings.ToLower(strings.TrimSpace(text))
	pick := ""
	for _, line := range lines {
		if needle != "" && strings.Contains(strings.ToLower(line), needle) {
			pick = line
			break
		}
	}
	if pick == "" && len(lines) > 0 {
		pick = lines[0]
	}
	runes := []rune(strings.TrimSpace(pick))
	if len(runes) > snippetRunes {
		return string(runes[:snippetRunes]) + "…"
	}
	return string(runes)
}
