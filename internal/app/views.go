package app

import (
	"context"
	"time"

	"dochub/api/internal/store"
)

type UserRef struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

type DocumentRef struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Slug  string `json:"slug"`
}

type DocumentView struct {
	ID             string    `json:"id"`
	RepoID         string    `json:"repoId"`
	Title          string    `json:"title"`
	Slug           string    `json:"slug"`
	CurrentContent string    `json:"currentContent"`
	CreatedBy      string    `json:"createdBy"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

type DocumentSummary struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Slug      string    `json:"slug"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type VersionView struct {
	VersionNumber int       `json:"versionNumber"`
	CommitMessage string    `json:"commitMessage"`
	CreatedBy     string    `json:"createdBy"`
	CreatedAt     time.Time `json:"createdAt"`
	Content       *string   `json:"content,omitempty"`
}

type DURView struct {
	ID              string          `json:"id"`
	RepoID          string          `json:"repoId"`
	Title           string          `json:"title"`
	Description     string          `json:"description"`
	ProposedContent string          `json:"proposedContent"`
	Status          store.DURStatus `json:"status"`
	BaseVersion     int             `json:"baseVersion"`
	MergedVersion   int             `json:"mergedVersion,omitempty"`
	Stale           bool            `json:"stale"`
	Document        DocumentRef     `json:"document"`
	Creator         UserRef         `json:"creator"`
	Reviewer        *UserRef        `json:"reviewer,omitempty"`
	ReviewComment   string          `json:"reviewComment,omitempty"`
	CreatedAt       time.Time       `json:"createdAt"`
	ReviewedAt      *time.Time      `json:"reviewedAt,omitempty"`
}

type CommentView struct {
	ID        string    `json:"id"`
	DURID     string    `json:"durId"`
	Author    UserRef   `json:"author"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

func documentView(doc store.Document) DocumentView {
	return DocumentView{
		ID:             doc.ID,
		RepoID:         doc.RepoID,
		Title:          doc.Title,
		Slug:           doc.Slug,
		CurrentContent: doc.CurrentContent,
		CreatedBy:      doc.CreatedBy,
		CreatedAt:      doc.CreatedAt,
		UpdatedAt:      doc.UpdatedAt,
	}
}

func documentSummaries(docs []store.Document) []DocumentSummary {
	out := make([]DocumentSummary, 0, len(docs))
	for _, doc := range docs {
		out = append(out, DocumentSummary{ID: doc.ID, Title: doc.Title, Slug: doc.Slug, UpdatedAt: doc.UpdatedAt})
	}
	return out
}

func versionView(v store.DocumentVersion, withContent bool) VersionView {
	view := VersionView{
		VersionNumber: v.VersionNumber,
		CommitMessage: v.CommitMessage,
		CreatedBy:     v.CreatedBy,
		CreatedAt:     v.CreatedAt,
	}
	if withContent {
		content := v.Content
		view.Content = &content
	}
	return view
}

// DescribeDURs denormalizes each DUR's document and people. Stale is set for
// an open DUR whose document has moved past its base version, and for a
// merged DUR that replaced a version newer than its base.
func (s *Service) DescribeDURs(ctx context.Context, durs []store.DUR) ([]DURView, error) {
	type docInfo struct {
		ref    DocumentRef
		latest int
	}
	docs := map[string]docInfo{}
	ids := make([]string, 0, len(durs)*2)
	for _, dur := range durs {
		ids = append(ids, dur.CreatedBy, dur.ReviewedBy)
	}
	users := s.Users(ctx, ids...)

	out := make([]DURView, 0, len(durs))
	for _, dur := range durs {
		info, ok := docs[dur.DocumentID]
		if !ok {
			doc, err := s.registry.GetByID(ctx, dur.RepoID, dur.DocumentID)
			if err != nil {
				return nil, err
			}
			latest, err := s.versions.Latest(ctx, dur.DocumentID)
			if err != nil {
				return nil, err
			}
			info = docInfo{ref: DocumentRef{ID: doc.ID, Title: doc.Title, Slug: doc.Slug}, latest: latest}
			docs[dur.DocumentID] = info
		}

		view := DURView{
			ID:              dur.ID,
			RepoID:          dur.RepoID,
			Title:           dur.Title,
			Description:     dur.Description,
			ProposedContent: dur.ProposedContent,
			Status:          dur.Status,
			BaseVersion:     dur.BaseVersion,
			MergedVersion:   dur.MergedVersion,
			Document:        info.ref,
			Creator:         userRef(users, dur.CreatedBy),
			ReviewComment:   dur.ReviewComment,
			CreatedAt:       dur.CreatedAt,
			ReviewedAt:      dur.ReviewedAt,
		}
		switch dur.Status {
		case store.DURStatusOpen:
			view.Stale = Stale(dur, info.latest)
		case store.DURStatusMerged:
			view.Stale = Stale(dur, dur.MergedVersion-1)
		}
		if dur.ReviewedBy != "" {
			reviewer := userRef(users, dur.ReviewedBy)
			view.Reviewer = &reviewer
		}
		out = append(out, view)
	}
	return out, nil
}

func (s *Service) DescribeDUR(ctx context.Context, dur store.DUR) (DURView, error) {
	views, err := s.DescribeDURs(ctx, []store.DUR{dur})
	if err != nil {
		return DURView{}, err
	}
	return views[0], nil
}

func (s *Service) DescribeComments(ctx context.Context, comments []store.Comment) []CommentView {
	ids := make([]string, 0, len(comments))
	for _, comment := range comments {
		ids = append(ids, comment.AuthorID)
	}
	users := s.Users(ctx, ids...)
	out := make([]CommentView, 0, len(comments))
	for _, comment := range comments {
		out = append(out, CommentView{
			ID:        comment.ID,
			DURID:     comment.DURID,
			Author:    userRef(users, comment.AuthorID),
			Content:   comment.Content,
			CreatedAt: comment.CreatedAt,
		})
	}
	return out
}

func userRef(users map[string]store.User, id string) UserRef {
	user, ok := users[id]
	if !ok {
		return UserRef{ID: id, Username: id}
	}
	return UserRef{ID: user.ID, Username: user.Username}
}
