package app

import (
	"context"
	"sync"

	"dochub/api/internal/metrics"
	"dochub/api/internal/store"
	"dochub/api/internal/util"
)

// VersionStore owns document history. Appends for one document are
// serialized in process by a per-document mutex and across processes by the
// document row lock taken inside the transaction.
type VersionStore struct {
	deps
	publisher publisher
	lockMu    sync.Mutex
	locks     map[string]*sync.Mutex
}

func newVersionStore(d deps, pub publisher) *VersionStore {
	return &VersionStore{
		deps:      d,
		publisher: pub,
		locks:     make(map[string]*sync.Mutex),
	}
}

// CurrentContent is read from the document row, which every append updates
// in the same transaction as the version insert.
func (v *VersionStore) CurrentContent(ctx context.Context, documentID string) (string, error) {
	ctx, cancel := v.withTimeout(ctx)
	defer cancel()
	doc, err := v.store.GetDocument(ctx, documentID)
	if err != nil {
		return "", fromStore(err, "Document not found")
	}
	return doc.CurrentContent, nil
}

// History returns every version in ascending version order.
func (v *VersionStore) History(ctx context.Context, documentID string) ([]store.DocumentVersion, error) {
	ctx, cancel := v.withTimeout(ctx)
	defer cancel()
	if _, err := v.store.GetDocument(ctx, documentID); err != nil {
		return nil, fromStore(err, "Document not found")
	}
	versions, err := v.store.ListVersions(ctx, documentID)
	if err != nil {
		return nil, fromStore(err, "Document not found")
	}
	return versions, nil
}

func (v *VersionStore) VersionAt(ctx context.Context, documentID string, number int) (store.DocumentVersion, error) {
	if number < 1 {
		return store.DocumentVersion{}, domainError(KindNotFound, "Version not found", nil)
	}
	ctx, cancel := v.withTimeout(ctx)
	defer cancel()
	version, err := v.store.GetVersion(ctx, documentID, number)
	if err != nil {
		return store.DocumentVersion{}, fromStore(err, "Version not found")
	}
	return version, nil
}

// Latest returns the highest version number, 0 when none exist.
func (v *VersionStore) Latest(ctx context.Context, documentID string) (int, error) {
	ctx, cancel := v.withTimeout(ctx)
	defer cancel()
	latest, err := v.store.LatestVersionNumber(ctx, documentID)
	if err != nil {
		return 0, fromStore(err, "Document not found")
	}
	return latest, nil
}

type appendRequest struct {
	documentID string
	content    string
	message    string
	authorID   string
	// defaultMessage builds the commit message when message is empty.
	defaultMessage func(number int) string
	// before runs after the document row is locked and before anything is
	// written. An error aborts the append.
	before func(ctx context.Context, tx store.Tx, doc store.Document) error
	// after runs in the same transaction once the version is written.
	after func(ctx context.Context, tx store.Tx, doc *store.Document, version store.DocumentVersion) error
}

// appendVersion is the only writer of history and of a document's current
// content. It is reached through a DUR merge or a direct registry update.
func (v *VersionStore) appendVersion(ctx context.Context, req appendRequest) (store.Document, store.DocumentVersion, error) {
	lock := v.documentLock(req.documentID)
	lock.Lock()
	defer lock.Unlock()

	ctx, cancel := v.withTimeout(ctx)
	defer cancel()

	var (
		doc     store.Document
		version store.DocumentVersion
	)
	err := v.store.WithTx(ctx, func(tx store.Tx) error {
		locked, err := tx.LockDocument(ctx, req.documentID)
		if err != nil {
			return err
		}
		if req.before != nil {
			if err := req.before(ctx, tx, locked); err != nil {
				return err
			}
		}

		latest, err := tx.LatestVersionNumber(ctx, req.documentID)
		if err != nil {
			return err
		}
		now := v.now()
		version = store.DocumentVersion{
			ID:            util.NewID("ver"),
			DocumentID:    req.documentID,
			VersionNumber: latest + 1,
			Content:       req.content,
			CommitMessage: req.message,
			CreatedBy:     req.authorID,
			CreatedAt:     now,
		}
		if version.CommitMessage == "" && req.defaultMessage != nil {
			version.CommitMessage = req.defaultMessage(version.VersionNumber)
		}
		if err := tx.InsertVersion(ctx, version); err != nil {
			return err
		}
		if err := tx.SetCurrentContent(ctx, req.documentID, req.content, now); err != nil {
			return err
		}
		locked.CurrentContent = req.content
		locked.UpdatedAt = now

		if req.after != nil {
			if err := req.after(ctx, tx, &locked, version); err != nil {
				return err
			}
		}
		doc = locked
		return nil
	})
	if err != nil {
		return store.Document{}, store.DocumentVersion{}, fromStore(err, "Document not found")
	}

	metrics.VersionsAppended.Inc()
	v.logger.Info("version appended",
		"document_id", doc.ID,
		"version", version.VersionNumber,
		"author", version.CreatedBy,
	)
	v.publish(doc, version)
	return doc, version, nil
}

func (v *VersionStore) publish(doc store.Document, version store.DocumentVersion) {
	if v.publisher != nil {
		v.publisher.Publish(doc, version)
	}
}

func (v *VersionStore) documentLock(documentID string) *sync.Mutex {
	v.lockMu.Lock()
	defer v.lockMu.Unlock()
	lock, ok := v.locks[documentID]
	if ok {
		return lock
	}
	lock = &sync.Mutex{}
	v.locks[documentID] = lock
	return lock
}
