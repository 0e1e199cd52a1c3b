package store

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")
)

// Tx is the set of operations that run inside one storage transaction. Lock
// methods hold their row until the transaction ends.
type Tx interface {
	InsertDocument(ctx context.Context, doc Document) error
	LockDocument(ctx context.Context, documentID string) (Document, error)
	SetTitle(ctx context.Context, documentID, title string, updatedAt time.Time) error
	LatestVersionNumber(ctx context.Context, documentID string) (int, error)
	InsertVersion(ctx context.Context, version DocumentVersion) error
	SetCurrentContent(ctx context.Context, documentID, content string, updatedAt time.Time) error
	LockDUR(ctx context.Context, durID string) (DUR, error)
	UpdateDURReview(ctx context.Context, dur DUR) error
}
