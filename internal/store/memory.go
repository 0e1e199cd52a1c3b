package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore keeps everything in process. Transactions are staged, so a
// failing WithTx callback leaves no trace, and take per-row locks the way
// SELECT ... FOR UPDATE does in postgres.
type MemoryStore struct {
	mu        sync.Mutex
	rows      map[string]*rowLock
	users     map[string]User
	documents map[string]Document
	versions  map[string][]DocumentVersion
	durs      map[string]DUR
	comments  map[string][]Comment
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rows:      make(map[string]*rowLock),
		users:     make(map[string]User),
		documents: make(map[string]Document),
		versions:  make(map[string][]DocumentVersion),
		durs:      make(map[string]DUR),
		comments:  make(map[string][]Comment),
	}
}

func (s *MemoryStore) Ping(context.Context) error {
	return nil
}

func (s *MemoryStore) UpsertUser(_ context.Context, user User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.users[user.ID]; ok {
		existing.Username = user.Username
		s.users[user.ID] = existing
		return nil
	}
	s.users[user.ID] = user
	return nil
}

func (s *MemoryStore) GetUser(_ context.Context, id string) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[id]
	if !ok {
		return User{}, fmt.Errorf("get user: %w", ErrNotFound)
	}
	return user, nil
}

func (s *MemoryStore) GetDocument(_ context.Context, id string) (Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.documents[id]
	if !ok {
		return Document{}, fmt.Errorf("get document: %w", ErrNotFound)
	}
	return doc, nil
}

func (s *MemoryStore) GetDocumentBySlug(_ context.Context, repoID, slug string) (Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, doc := range s.documents {
		if doc.RepoID == repoID && doc.Slug == slug {
			return doc, nil
		}
	}
	return Document{}, fmt.Errorf("get document by slug: %w", ErrNotFound)
}

func (s *MemoryStore) ListDocuments(_ context.Context, repoID string) ([]Document, error) {
	return s.filterDocuments(func(doc Document) bool { return doc.RepoID == repoID }), nil
}

func (s *MemoryStore) ListAllDocuments(context.Context) ([]Document, error) {
	return s.filterDocuments(func(Document) bool { return true }), nil
}

func (s *MemoryStore) SearchDocuments(_ context.Context, repoID, query string, limit int) ([]Document, error) {
	if limit <= 0 {
		limit = 20
	}
	needle := strings.ToLower(query)
	items := s.filterDocuments(func(doc Document) bool {
		return doc.RepoID == repoID &&
			(strings.Contains(strings.ToLower(doc.Title), needle) || strings.Contains(strings.ToLower(doc.CurrentContent), needle))
	})
	sort.SliceStable(items, func(i, j int) bool { return items[i].UpdatedAt.After(items[j].UpdatedAt) })
	if len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

func (s *MemoryStore) filterDocuments(keep func(Document) bool) []Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := make([]Document, 0)
	for _, doc := range s.documents {
		if keep(doc) {
			items = append(items, doc)
		}
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].RepoID != items[j].RepoID {
			return items[i].RepoID < items[j].RepoID
		}
		if items[i].Title != items[j].Title {
			return items[i].Title < items[j].Title
		}
		return items[i].ID < items[j].ID
	})
	return items
}

func (s *MemoryStore) ListVersions(_ context.Context, documentID string) ([]DocumentVersion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]DocumentVersion{}, s.versions[documentID]...), nil
}

func (s *MemoryStore) GetVersion(_ context.Context, documentID string, number int) (DocumentVersion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, v := range s.versions[documentID] {
		if v.VersionNumber == number {
			return v, nil
		}
	}
	return DocumentVersion{}, fmt.Errorf("get version: %w", ErrNotFound)
}

func (s *MemoryStore) LatestVersionNumber(_ context.Context, documentID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	latest := 0
	for _, v := range s.versions[documentID] {
		latest = max(latest, v.VersionNumber)
	}
	return latest, nil
}

func (s *MemoryStore) InsertDUR(_ context.Context, dur DUR) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.durs[dur.ID]; ok {
		return fmt.Errorf("insert dur: %w", ErrConflict)
	}
	s.durs[dur.ID] = dur
	return nil
}

func (s *MemoryStore) GetDUR(_ context.Context, id string) (DUR, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	dur, ok := s.durs[id]
	if !ok {
		return DUR{}, fmt.Errorf("get dur: %w", ErrNotFound)
	}
	return dur, nil
}

func (s *MemoryStore) ListDURs(_ context.Context, repoID string, status DURStatus) ([]DUR, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := make([]DUR, 0)
	for _, dur := range s.durs {
		if dur.RepoID != repoID || (status != "" && dur.Status != status) {
			continue
		}
		items = append(items, dur)
	}
	sort.Slice(items, func(i, j int) bool {
		if !items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].CreatedAt.After(items[j].CreatedAt)
		}
		return items[i].ID > items[j].ID
	})
	return items, nil
}

func (s *MemoryStore) InsertComment(_ context.Context, comment Comment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.comments[comment.DURID] = append(s.comments[comment.DURID], comment)
	return nil
}

func (s *MemoryStore) ListComments(_ context.Context, durID string) ([]Comment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := append([]Comment{}, s.comments[durID]...)
	sort.SliceStable(items, func(i, j int) bool { return items[i].CreatedAt.Before(items[j].CreatedAt) })
	return items, nil
}

// WithTx stages fn's writes and applies them in one step. Row locks taken by
// LockDocument, LockDUR and the write methods are held until the transaction
// ends, so transactions touching different documents run concurrently.
func (s *MemoryStore) WithTx(ctx context.Context, fn func(Tx) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	tx := &memoryTx{
		store:     s,
		held:      make(map[string]bool),
		documents: make(map[string]Document),
		durs:      make(map[string]DUR),
	}
	defer tx.unlockAll()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.apply()
}

// rowLock is a mutex that can be abandoned when the waiter's context ends.
type rowLock struct {
	ch   chan struct{}
	refs int
}

func (s *MemoryStore) lockRow(ctx context.Context, key string) error {
	s.mu.Lock()
	l, ok := s.rows[key]
	if !ok {
		l = &rowLock{ch: make(chan struct{}, 1)}
		s.rows[key] = l
	}
	l.refs++
	s.mu.Unlock()

	select {
	case l.ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		s.mu.Lock()
		s.dropRow(key, l)
		s.mu.Unlock()
		return ctx.Err()
	}
}

func (s *MemoryStore) unlockRow(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l := s.rows[key]
	<-l.ch
	s.dropRow(key, l)
}

// dropRow must be called with s.mu held.
func (s *MemoryStore) dropRow(key string, l *rowLock) {
	l.refs--
	if l.refs == 0 {
		delete(s.rows, key)
	}
}

type memoryTx struct {
	store     *MemoryStore
	held      map[string]bool
	documents map[string]Document
	versions  []DocumentVersion
	durs      map[string]DUR
}

func (t *memoryTx) lock(ctx context.Context, key string) error {
	if t.held[key] {
		return nil
	}
	if err := t.store.lockRow(ctx, key); err != nil {
		return fmt.Errorf("lock %s: %w", key, err)
	}
	t.held[key] = true
	return nil
}

func (t *memoryTx) unlockAll() {
	for key := range t.held {
		t.store.unlockRow(key)
	}
	t.held = nil
}

func documentRow(id string) string { return "document:" + id }
func durRow(id string) string      { return "dur:" + id }
func slugRow(repoID, slug string) string {
	return "slug:" + repoID + "/" + slug
}

func (t *memoryTx) document(id string) (Document, bool) {
	if doc, ok := t.documents[id]; ok {
		return doc, true
	}
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	doc, ok := t.store.documents[id]
	return doc, ok
}

// lockedDocument locks the document row and returns its staged or stored state.
func (t *memoryTx) lockedDocument(ctx context.Context, op, id string) (Document, error) {
	if err := t.lock(ctx, documentRow(id)); err != nil {
		return Document{}, fmt.Errorf("%s: %w", op, err)
	}
	doc, ok := t.document(id)
	if !ok {
		return Document{}, fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return doc, nil
}

func (t *memoryTx) slugTaken(repoID, slug string) bool {
	for _, staged := range t.documents {
		if staged.RepoID == repoID && staged.Slug == slug {
			return true
		}
	}
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	return t.store.slugTakenLocked(repoID, slug, "")
}

// slugTakenLocked must be called with s.mu held.
func (s *MemoryStore) slugTakenLocked(repoID, slug, exceptID string) bool {
	for id, existing := range s.documents {
		if id != exceptID && existing.RepoID == repoID && existing.Slug == slug {
			return true
		}
	}
	return false
}

func (t *memoryTx) InsertDocument(ctx context.Context, doc Document) error {
	if err := t.lock(ctx, slugRow(doc.RepoID, doc.Slug)); err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	if err := t.lock(ctx, documentRow(doc.ID)); err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	if _, ok := t.document(doc.ID); ok {
		return fmt.Errorf("insert document: %w", ErrConflict)
	}
	if t.slugTaken(doc.RepoID, doc.Slug) {
		return fmt.Errorf("insert document: %w", ErrConflict)
	}
	t.documents[doc.ID] = doc
	return nil
}

func (t *memoryTx) LockDocument(ctx context.Context, documentID string) (Document, error) {
	return t.lockedDocument(ctx, "lock document", documentID)
}

func (t *memoryTx) SetTitle(ctx context.Context, documentID, title string, updatedAt time.Time) error {
	doc, err := t.lockedDocument(ctx, "set title", documentID)
	if err != nil {
		return err
	}
	doc.Title = title
	doc.UpdatedAt = updatedAt
	t.documents[documentID] = doc
	return nil
}

func (t *memoryTx) LatestVersionNumber(_ context.Context, documentID string) (int, error) {
	t.store.mu.Lock()
	latest := latestLocked(t.store.versions[documentID])
	t.store.mu.Unlock()
	for _, v := range t.versions {
		if v.DocumentID == documentID {
			latest = max(latest, v.VersionNumber)
		}
	}
	return latest, nil
}

func latestLocked(versions []DocumentVersion) int {
	latest := 0
	for _, v := range versions {
		latest = max(latest, v.VersionNumber)
	}
	return latest
}

func (t *memoryTx) InsertVersion(ctx context.Context, v DocumentVersion) error {
	if _, err := t.lockedDocument(ctx, "insert version", v.DocumentID); err != nil {
		return err
	}
	latest, _ := t.LatestVersionNumber(ctx, v.DocumentID)
	if v.VersionNumber <= latest {
		return fmt.Errorf("insert version %d: %w", v.VersionNumber, ErrConflict)
	}
	t.versions = append(t.versions, v)
	return nil
}

func (t *memoryTx) SetCurrentContent(ctx context.Context, documentID, content string, updatedAt time.Time) error {
	doc, err := t.lockedDocument(ctx, "set current content", documentID)
	if err != nil {
		return err
	}
	doc.CurrentContent = content
	doc.UpdatedAt = updatedAt
	t.documents[documentID] = doc
	return nil
}

func (t *memoryTx) LockDUR(ctx context.Context, durID string) (DUR, error) {
	if err := t.lock(ctx, durRow(durID)); err != nil {
		return DUR{}, fmt.Errorf("lock dur: %w", err)
	}
	if dur, ok := t.durs[durID]; ok {
		return dur, nil
	}
	t.store.mu.Lock()
	dur, ok := t.store.durs[durID]
	t.store.mu.Unlock()
	if !ok {
		return DUR{}, fmt.Errorf("lock dur: %w", ErrNotFound)
	}
	return dur, nil
}

func (t *memoryTx) UpdateDURReview(ctx context.Context, dur DUR) error {
	if _, err := t.LockDUR(ctx, dur.ID); err != nil {
		return fmt.Errorf("update dur review: %w", err)
	}
	t.durs[dur.ID] = dur
	return nil
}

// apply re-checks uniqueness against committed state and publishes the staged
// writes atomically. Nothing is written when a check fails.
func (t *memoryTx) apply() error {
	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, doc := range t.documents {
		if s.slugTakenLocked(doc.RepoID, doc.Slug, id) {
			return fmt.Errorf("commit: document slug %q: %w", doc.Slug, ErrConflict)
		}
	}
	staged := make(map[string]int)
	for _, v := range t.versions {
		floor := max(staged[v.DocumentID], latestLocked(s.versions[v.DocumentID]))
		if v.VersionNumber <= floor {
			return fmt.Errorf("commit: version %d: %w", v.VersionNumber, ErrConflict)
		}
		staged[v.DocumentID] = v.VersionNumber
	}

	for id, doc := range t.documents {
		s.documents[id] = doc
	}
	for _, v := range t.versions {
		s.versions[v.DocumentID] = append(s.versions[v.DocumentID], v)
	}
	for id, dur := range t.durs {
		s.durs[id] = dur
	}
	return nil
}
