package app

import (
	"context"
	"fmt"

	"dochub/api/internal/diff"
	"dochub/api/internal/store"
	"dochub/api/internal/util"
)

type CreateDocumentInput struct {
	RepoID         string `json:"-"`
	Title          string `json:"title"`
	Slug           string `json:"slug"`
	InitialContent string `json:"initialContent"`
}

type UpdateDocumentInput struct {
	Title         *string `json:"title"`
	Content       *string `json:"content"`
	CommitMessage *string `json:"commitMessage"`
}

// Registry locates documents by repository and slug and owns their metadata.
type Registry struct {
	deps
	versions *VersionStore
}

// Create stores the document together with version 1.
func (r *Registry) Create(ctx context.Context, actor Actor, in CreateDocumentInput) (store.Document, error) {
	fields := map[string]string{}
	if trimmed(in.RepoID) == "" {
		fields["repoId"] = "repoId is required"
	}
	title := trimmed(in.Title)
	if title == "" {
		fields["title"] = "title is required"
	}
	slug := trimmed(in.Slug)
	switch {
	case slug != "" && util.Slugify(slug) != slug:
		fields["slug"] = "slug may only contain lower-case letters, digits and single hyphens"
	case slug == "" && title != "":
		slug = util.Slugify(title)
		if slug == "" {
			fields["slug"] = "a slug cannot be derived from this title; supply one"
		}
	}
	if len(fields) > 0 {
		return store.Document{}, validationError(fields)
	}

	now := r.now()
	doc := store.Document{
		ID:             util.NewID("doc"),
		RepoID:         trimmed(in.RepoID),
		Title:          title,
		Slug:           slug,
		CurrentContent: in.InitialContent,
		CreatedBy:      actor.ID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	initial := store.DocumentVersion{
		ID:            util.NewID("ver"),
		DocumentID:    doc.ID,
		VersionNumber: 1,
		Content:       in.InitialContent,
		CommitMessage: "Initial version",
		CreatedBy:     actor.ID,
		CreatedAt:     now,
	}

	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	err := r.store.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.InsertDocument(ctx, doc); err != nil {
			return err
		}
		return tx.InsertVersion(ctx, initial)
	})
	if err != nil {
		if KindOf(fromStore(err, "")) == KindConflict {
			return store.Document{}, domainError(KindConflict,
				fmt.Sprintf("A document with slug %q already exists in this repository", slug),
				map[string]any{"slug": slug})
		}
		return store.Document{}, fromStore(err, "Document not found")
	}

	r.logger.Info("document created", "document_id", doc.ID, "repo_id", doc.RepoID, "slug", doc.Slug)
	r.versions.publish(doc, initial)
	return doc, nil
}

func (r *Registry) Get(ctx context.Context, repoID, slug string) (store.Document, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	doc, err := r.store.GetDocumentBySlug(ctx, repoID, slug)
	if err != nil {
		return store.Document{}, fromStore(err, "Document not found")
	}
	return doc, nil
}

// GetByID resolves a document by id within a repository.
func (r *Registry) GetByID(ctx context.Context, repoID, documentID string) (store.Document, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	doc, err := r.store.GetDocument(ctx, documentID)
	if err != nil {
		return store.Document{}, fromStore(err, "Document not found")
	}
	if repoID != "" && doc.RepoID != repoID {
		return store.Document{}, domainError(KindNotFound, "Document not found", nil)
	}
	return doc, nil
}

func (r *Registry) List(ctx context.Context, repoID string) ([]store.Document, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	docs, err := r.store.ListDocuments(ctx, repoID)
	if err != nil {
		return nil, fromStore(err, "Repository not found")
	}
	return docs, nil
}

// Update changes the title and, when content is supplied, appends a version
// directly without review.
func (r *Registry) Update(ctx context.Context, actor Actor, repoID, slug string, in UpdateDocumentInput) (store.Document, error) {
	fields := map[string]string{}
	if in.Title != nil && trimmed(*in.Title) == "" {
		fields["title"] = "title cannot be blank"
	}
	if in.Title == nil && in.Content == nil {
		fields["body"] = "supply title or content"
	}
	if len(fields) > 0 {
		return store.Document{}, validationError(fields)
	}

	current, err := r.Get(ctx, repoID, slug)
	if err != nil {
		return store.Document{}, err
	}

	setTitle := func(ctx context.Context, tx store.Tx, doc *store.Document) error {
		if in.Title == nil {
			return nil
		}
		title := trimmed(*in.Title)
		if err := tx.SetTitle(ctx, doc.ID, title, doc.UpdatedAt); err != nil {
			return err
		}
		doc.Title = title
		return nil
	}

	if in.Content == nil {
		ctx, cancel := r.withTimeout(ctx)
		defer cancel()
		var updated store.Document
		err := r.store.WithTx(ctx, func(tx store.Tx) error {
			locked, err := tx.LockDocument(ctx, current.ID)
			if err != nil {
				return err
			}
			locked.UpdatedAt = r.now()
			if err := setTitle(ctx, tx, &locked); err != nil {
				return err
			}
			updated = locked
			return nil
		})
		if err != nil {
			return store.Document{}, fromStore(err, "Document not found")
		}
		return updated, nil
	}

	message := ""
	if in.CommitMessage != nil {
		message = trimmed(*in.CommitMessage)
	}
	updated, _, err := r.versions.appendVersion(ctx, appendRequest{
		documentID: current.ID,
		content:    *in.Content,
		message:    message,
		authorID:   actor.ID,
		defaultMessage: func(number int) string {
			return fmt.Sprintf("Update version %d", number)
		},
		after: func(ctx context.Context, tx store.Tx, doc *store.Document, _ store.DocumentVersion) error {
			return setTitle(ctx, tx, doc)
		},
	})
	if err != nil {
		return store.Document{}, err
	}
	return updated, nil
}

// Compare diffs two stored versions of a document.
func (r *Registry) Compare(ctx context.Context, repoID, slug string, from, to int, mode diff.Mode) (Comparison, error) {
	doc, err := r.Get(ctx, repoID, slug)
	if err != nil {
		return Comparison{}, err
	}
	left, err := r.versions.VersionAt(ctx, doc.ID, from)
	if err != nil {
		return Comparison{}, err
	}
	right, err := r.versions.VersionAt(ctx, doc.ID, to)
	if err != nil {
		return Comparison{}, err
	}
	return compare(fmt.Sprintf("v%d", from), left.Content, fmt.Sprintf("v%d", to), right.Content, mode), nil
}

// Comparison is a computed, never persisted, line diff.
type Comparison struct {
	From  string      `json:"from"`
	To    string      `json:"to"`
	Mode  diff.Mode   `json:"mode"`
	Lines []diff.Line `json:"lines"`
	Stats diff.Stats  `json:"stats"`
}

func compare(fromLabel, from, toLabel, to string, mode diff.Mode) Comparison {
	if mode != diff.ModeMinimal {
		mode = diff.ModePositional
	}
	lines := diff.Texts(from, to, mode)
	return Comparison{
		From:  fromLabel,
		To:    toLabel,
		Mode:  mode,
		Lines: lines,
		Stats: diff.Summarize(lines),
	}
}
