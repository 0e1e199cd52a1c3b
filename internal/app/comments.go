package app

import (
	"context"

	"dochub/api/internal/store"
	"dochub/api/internal/util"
)

// Comments is the append-only discussion log of a DUR. It accepts remarks in
// every DUR status and never takes the DUR row lock.
type Comments struct {
	deps
}

func (c *Comments) Add(ctx context.Context, repoID, durID string, author Actor, content string) (store.Comment, error) {
	body := trimmed(content)
	if body == "" {
		return store.Comment{}, validationError(map[string]string{"content": "content is required"})
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	if err := c.requireDUR(ctx, repoID, durID); err != nil {
		return store.Comment{}, err
	}
	comment := store.Comment{
		ID:        util.NewID("cmt"),
		DURID:     durID,
		AuthorID:  author.ID,
		Content:   body,
		CreatedAt: c.now(),
	}
	if err := c.store.InsertComment(ctx, comment); err != nil {
		return store.Comment{}, fromStore(err, "DUR not found")
	}
	return comment, nil
}

// List returns comments oldest first.
func (c *Comments) List(ctx context.Context, repoID, durID string) ([]store.Comment, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	if err := c.requireDUR(ctx, repoID, durID); err != nil {
		return nil, err
	}
	comments, err := c.store.ListComments(ctx, durID)
	if err != nil {
		return nil, fromStore(err, "DUR not found")
	}
	return comments, nil
}

func (c *Comments) requireDUR(ctx context.Context, repoID, durID string) error {
	dur, err := c.store.GetDUR(ctx, durID)
	if err != nil {
		return fromStore(err, "DUR not found")
	}
	if repoID != "" && dur.RepoID != repoID {
		return domainError(KindNotFound, "DUR not found", nil)
	}
	return nil
}
