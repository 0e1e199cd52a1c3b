package app

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"dochub/api/internal/store"
)

// Actor is the authenticated principal performing an operation.
type Actor struct {
	ID       string
	Username string
}

// DataStore is the persistence surface the service runs against.
type DataStore interface {
	Ping(ctx context.Context) error
	UpsertUser(ctx context.Context, user store.User) error
	GetUser(ctx context.Context, id string) (store.User, error)
	GetDocument(ctx context.Context, id string) (store.Document, error)
	GetDocumentBySlug(ctx context.Context, repoID, slug string) (store.Document, error)
	ListDocuments(ctx context.Context, repoID string) ([]store.Document, error)
	ListVersions(ctx context.Context, documentID string) ([]store.DocumentVersion, error)
	GetVersion(ctx context.Context, documentID string, number int) (store.DocumentVersion, error)
	LatestVersionNumber(ctx context.Context, documentID string) (int, error)
	InsertDUR(ctx context.Context, dur store.DUR) error
	GetDUR(ctx context.Context, id string) (store.DUR, error)
	ListDURs(ctx context.Context, repoID string, status store.DURStatus) ([]store.DUR, error)
	InsertComment(ctx context.Context, comment store.Comment) error
	ListComments(ctx context.Context, durID string) ([]store.Comment, error)
	WithTx(ctx context.Context, fn func(store.Tx) error) error
}

// publisher receives every committed version.
type publisher interface {
	Publish(doc store.Document, version store.DocumentVersion)
}

type Options struct {
	// StoreTimeout bounds each storage round trip. Zero disables it.
	StoreTimeout time.Duration
	Publisher    publisher
	Logger       *slog.Logger
	Now          func() time.Time
}

type deps struct {
	store   DataStore
	now     func() time.Time
	timeout time.Duration
	logger  *slog.Logger
}

func (d deps) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if d.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d.timeout)
}

type Service struct {
	deps
	versions *VersionStore
	workflow *Workflow
	comments *Comments
	registry *Registry
}

func New(ds DataStore, opts Options) *Service {
	d := deps{
		store:   ds,
		now:     opts.Now,
		timeout: opts.StoreTimeout,
		logger:  opts.Logger,
	}
	if d.now == nil {
		d.now = func() time.Time { return time.Now().UTC() }
	}
	if d.logger == nil {
		d.logger = slog.Default()
	}

	versions := newVersionStore(d, opts.Publisher)
	return &Service{
		deps:     d,
		versions: versions,
		workflow: &Workflow{deps: d, versions: versions},
		comments: &Comments{deps: d},
		registry: &Registry{deps: d, versions: versions},
	}
}

func (s *Service) Versions() *VersionStore { return s.versions }
func (s *Service) Workflow() *Workflow     { return s.workflow }
func (s *Service) Comments() *Comments     { return s.comments }
func (s *Service) Registry() *Registry     { return s.registry }

func (s *Service) Ping(ctx context.Context) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.store.Ping(ctx)
}

// EnsureUser records the actor's display name so DUR views can show it.
func (s *Service) EnsureUser(ctx context.Context, actor Actor) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	err := s.store.UpsertUser(ctx, store.User{ID: actor.ID, Username: actor.Username, CreatedAt: s.now()})
	return fromStore(err, "User not found")
}

// Users resolves ids to display records. Unknown ids fall back to the id.
func (s *Service) Users(ctx context.Context, ids ...string) map[string]store.User {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	out := make(map[string]store.User, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := out[id]; ok {
			continue
		}
		user, err := s.store.GetUser(ctx, id)
		if err != nil {
			user = store.User{ID: id, Username: id}
		}
		out[id] = user
	}
	return out
}

func trimmed(value string) string {
	return strings.TrimSpace(value)
}
