package app

import (
	"context"
	"fmt"

	"dochub/api/internal/diff"
	"dochub/api/internal/metrics"
	"dochub/api/internal/store"
	"dochub/api/internal/util"
)

type CreateDURInput struct {
	RepoID          string `json:"-"`
	DocumentID      string `json:"documentId"`
	Title           string `json:"title"`
	Description     string `json:"description"`
	ProposedContent string `json:"proposedContent"`
}

// Workflow drives the DUR lifecycle: open, then exactly one of merged or
// rejected.
type Workflow struct {
	deps
	versions *VersionStore
}

// reviewTransitions lists every permitted status change. Anything absent is
// refused, including every move out of a terminal status.
var reviewTransitions = map[store.DURStatus][]store.DURStatus{
	store.DURStatusOpen: {store.DURStatusMerged, store.DURStatusRejected},
}

// transition checks that reviewerID may move dur to target.
func transition(dur store.DUR, reviewerID string, target store.DURStatus) error {
	allowed := false
	for _, next := range reviewTransitions[dur.Status] {
		if next == target {
			allowed = true
			break
		}
	}
	if !allowed {
		return domainError(KindInvalidState,
			fmt.Sprintf("DUR is %s; only open DURs can be reviewed", dur.Status),
			map[string]any{"status": dur.Status, "target": target})
	}
	if reviewerID == dur.CreatedBy {
		return domainError(KindPermissionDenied, "Authors cannot review their own DUR", nil)
	}
	return nil
}

func (w *Workflow) Create(ctx context.Context, actor Actor, in CreateDURInput) (store.DUR, error) {
	fields := map[string]string{}
	if trimmed(in.DocumentID) == "" {
		fields["documentId"] = "documentId is required"
	}
	if trimmed(in.Title) == "" {
		fields["title"] = "title is required"
	}
	if trimmed(in.ProposedContent) == "" {
		fields["proposedContent"] = "proposedContent is required"
	}
	if len(fields) > 0 {
		return store.DUR{}, validationError(fields)
	}

	ctx, cancel := w.withTimeout(ctx)
	defer cancel()

	doc, err := w.store.GetDocument(ctx, trimmed(in.DocumentID))
	if err != nil {
		return store.DUR{}, fromStore(err, "Document not found")
	}
	if in.RepoID != "" && doc.RepoID != in.RepoID {
		return store.DUR{}, domainError(KindNotFound, "Document not found", nil)
	}
	base, err := w.store.LatestVersionNumber(ctx, doc.ID)
	if err != nil {
		return store.DUR{}, fromStore(err, "Document not found")
	}

	dur := store.DUR{
		ID:              util.NewID("dur"),
		RepoID:          doc.RepoID,
		DocumentID:      doc.ID,
		Title:           trimmed(in.Title),
		Description:     trimmed(in.Description),
		ProposedContent: in.ProposedContent,
		Status:          store.DURStatusOpen,
		BaseVersion:     base,
		CreatedBy:       actor.ID,
		CreatedAt:       w.now(),
	}
	if err := w.store.InsertDUR(ctx, dur); err != nil {
		return store.DUR{}, fromStore(err, "Document not found")
	}
	w.logger.Info("dur created", "dur_id", dur.ID, "document_id", dur.DocumentID, "base_version", base)
	return dur, nil
}

// Get returns a DUR. A DUR belonging to another repository is reported as
// missing.
func (w *Workflow) Get(ctx context.Context, repoID, durID string) (store.DUR, error) {
	ctx, cancel := w.withTimeout(ctx)
	defer cancel()
	dur, err := w.store.GetDUR(ctx, durID)
	if err != nil {
		return store.DUR{}, fromStore(err, "DUR not found")
	}
	if repoID != "" && dur.RepoID != repoID {
		return store.DUR{}, domainError(KindNotFound, "DUR not found", nil)
	}
	return dur, nil
}

// List returns the repository's DURs newest first, optionally by status.
func (w *Workflow) List(ctx context.Context, repoID, status string) ([]store.DUR, error) {
	filter := store.DURStatus(trimmed(status))
	if filter != "" && !filter.Valid() {
		return nil, validationError(map[string]string{"status": "status must be one of open, approved, merged, rejected"})
	}
	ctx, cancel := w.withTimeout(ctx)
	defer cancel()
	durs, err := w.store.ListDURs(ctx, repoID, filter)
	if err != nil {
		return nil, fromStore(err, "Repository not found")
	}
	return durs, nil
}

// ApproveAndMerge appends the proposed content as a new version and closes
// the DUR as merged, in one transaction. Stale proposals are merged verbatim.
func (w *Workflow) ApproveAndMerge(ctx context.Context, repoID, durID string, reviewer Actor, reviewComment string) (store.DUR, error) {
	dur, err := w.Get(ctx, repoID, durID)
	if err != nil {
		return store.DUR{}, w.count("merge", err)
	}
	if err := transition(dur, reviewer.ID, store.DURStatusMerged); err != nil {
		return store.DUR{}, w.count("merge", err)
	}

	var merged store.DUR
	_, version, err := w.versions.appendVersion(ctx, appendRequest{
		documentID: dur.DocumentID,
		content:    dur.ProposedContent,
		message:    "Merged DUR: " + dur.Title,
		authorID:   reviewer.ID,
		before: func(ctx context.Context, tx store.Tx, _ store.Document) error {
			locked, err := tx.LockDUR(ctx, dur.ID)
			if err != nil {
				return err
			}
			if locked.Status != dur.Status {
				return domainError(KindConflict, "DUR was reviewed concurrently", map[string]any{"status": locked.Status})
			}
			return nil
		},
		after: func(ctx context.Context, tx store.Tx, _ *store.Document, version store.DocumentVersion) error {
			reviewedAt := version.CreatedAt
			merged = dur
			merged.Status = store.DURStatusMerged
			merged.ReviewedBy = reviewer.ID
			merged.ReviewComment = trimmed(reviewComment)
			merged.ReviewedAt = &reviewedAt
			merged.MergedVersion = version.VersionNumber
			return tx.UpdateDURReview(ctx, merged)
		},
	})
	if err != nil {
		return store.DUR{}, w.count("merge", err)
	}

	if Stale(merged, version.VersionNumber-1) {
		metrics.StaleMerges.Inc()
		w.logger.Warn("stale dur merged without rebase",
			"dur_id", merged.ID,
			"document_id", merged.DocumentID,
			"base_version", merged.BaseVersion,
			"replaced_version", version.VersionNumber-1,
		)
	}
	w.logger.Info("dur merged", "dur_id", merged.ID, "reviewer", reviewer.ID, "version", version.VersionNumber)
	return merged, w.count("merge", nil)
}

// Reject closes an open DUR without touching its document.
func (w *Workflow) Reject(ctx context.Context, repoID, durID string, reviewer Actor, reviewComment string) (store.DUR, error) {
	dur, err := w.Get(ctx, repoID, durID)
	if err != nil {
		return store.DUR{}, w.count("reject", err)
	}
	if err := transition(dur, reviewer.ID, store.DURStatusRejected); err != nil {
		return store.DUR{}, w.count("reject", err)
	}

	ctx, cancel := w.withTimeout(ctx)
	defer cancel()

	var rejected store.DUR
	err = w.store.WithTx(ctx, func(tx store.Tx) error {
		locked, err := tx.LockDUR(ctx, dur.ID)
		if err != nil {
			return err
		}
		if locked.Status != dur.Status {
			return domainError(KindConflict, "DUR was reviewed concurrently", map[string]any{"status": locked.Status})
		}
		reviewedAt := w.now()
		rejected = locked
		rejected.Status = store.DURStatusRejected
		rejected.ReviewedBy = reviewer.ID
		rejected.ReviewComment = trimmed(reviewComment)
		rejected.ReviewedAt = &reviewedAt
		return tx.UpdateDURReview(ctx, rejected)
	})
	if err != nil {
		return store.DUR{}, w.count("reject", fromStore(err, "DUR not found"))
	}
	w.logger.Info("dur rejected", "dur_id", rejected.ID, "reviewer", reviewer.ID)
	return rejected, w.count("reject", nil)
}

// Diff compares the document's live current content with the proposal.
func (w *Workflow) Diff(ctx context.Context, repoID, durID string, mode diff.Mode) (Comparison, error) {
	dur, err := w.Get(ctx, repoID, durID)
	if err != nil {
		return Comparison{}, err
	}
	current, err := w.versions.CurrentContent(ctx, dur.DocumentID)
	if err != nil {
		return Comparison{}, err
	}
	return compare("current", current, "proposed", dur.ProposedContent, mode), nil
}

// Stale reports whether the document had moved past the DUR's base version
// when latest was its newest version.
func Stale(dur store.DUR, latest int) bool {
	return dur.BaseVersion < latest
}

func (w *Workflow) count(action string, err error) error {
	outcome := "ok"
	if err != nil {
		outcome = string(KindOf(err))
		if outcome == "" {
			outcome = "error"
		}
	}
	metrics.DURTransitions.WithLabelValues(action, outcome).Inc()
	return err
}
