// Package gitmirror mirrors each document's version history into its own git
// repository: one commit per version on main, tagged v<N>.
package gitmirror

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"dochub/api/internal/store"
)

const (
	contentFile = "content.md"
	mainBranch  = "main"
)

// Commit describes one mirrored version.
type Commit struct {
	Hash      string    `json:"hash"`
	Message   string    `json:"message"`
	Author    string    `json:"author"`
	CreatedAt time.Time `json:"createdAt"`
}

type Mirror struct {
	baseDir string
	lockMu  sync.Mutex
	locks   map[string]*sync.Mutex
}

func New(baseDir string) *Mirror {
	return &Mirror{
		baseDir: baseDir,
		locks:   make(map[string]*sync.Mutex),
	}
}

func (m *Mirror) Name() string { return "gitmirror" }

// PublishVersion commits version to the document's repository. Publishing a
// version whose tag already exists is a no-op.
func (m *Mirror) PublishVersion(ctx context.Context, doc store.Document, version store.DocumentVersion) error {
	lock := m.documentLock(doc.ID)
	lock.Lock()
	defer lock.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	repo, err := m.openOrInit(doc.ID)
	if err != nil {
		return err
	}

	tag := TagName(version.VersionNumber)
	if _, err := repo.Tag(tag); err == nil {
		return nil
	} else if !errors.Is(err, git.ErrTagNotFound) {
		return fmt.Errorf("lookup tag %s: %w", tag, err)
	}

	worktree, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("open worktree: %w", err)
	}
	path := filepath.Join(worktree.Filesystem.Root(), contentFile)
	if err := os.WriteFile(path, []byte(version.Content), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", contentFile, err)
	}
	if _, err := worktree.Add(contentFile); err != nil {
		return fmt.Errorf("git add content: %w", err)
	}

	signature := &object.Signature{
		Name:  version.CreatedBy,
		Email: fmt.Sprintf("%s@users.dochub.local", sanitizeEmail(version.CreatedBy)),
		When:  version.CreatedAt,
	}
	message := fmt.Sprintf("%s\n\ndochub-document: %s\ndochub-version: %d",
		version.CommitMessage, doc.ID, version.VersionNumber)
	hash, err := worktree.Commit(message, &git.CommitOptions{
		AllowEmptyCommits: true,
		Author:            signature,
	})
	if err != nil {
		return fmt.Errorf("commit version %d: %w", version.VersionNumber, err)
	}

	_, err = repo.CreateTag(tag, hash, &git.CreateTagOptions{
		Tagger:  signature,
		Message: version.CommitMessage,
	})
	if err != nil && !errors.Is(err, git.ErrTagExists) {
		return fmt.Errorf("create tag %s: %w", tag, err)
	}
	return nil
}

// History lists mirrored commits on main, newest first.
func (m *Mirror) History(documentID string, limit int) ([]Commit, error) {
	lock := m.documentLock(documentID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(m.repoPath(documentID))
	if err != nil {
		return nil, fmt.Errorf("open repo: %w", err)
	}

	ref, err := repo.Reference(plumbing.NewBranchReferenceName(mainBranch), true)
	if err != nil {
		return nil, fmt.Errorf("resolve branch %s: %w", mainBranch, err)
	}

	iter, err := repo.Log(&git.LogOptions{From: ref.Hash()})
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	defer iter.Close()

	items := make([]Commit, 0)
	err = iter.ForEach(func(c *object.Commit) error {
		items = append(items, toCommit(c))
		if limit > 0 && len(items) >= limit {
			return io.EOF
		}
		return nil
	})
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("iterate log: %w", err)
	}
	return items, nil
}

// ContentAt reads the content mirrored for version number.
func (m *Mirror) ContentAt(documentID string, number int) (string, error) {
	lock := m.documentLock(documentID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(m.repoPath(documentID))
	if err != nil {
		return "", fmt.Errorf("open repo: %w", err)
	}

	commit, err := taggedCommit(repo, TagName(number))
	if err != nil {
		return "", err
	}
	file, err := commit.File(contentFile)
	if err != nil {
		return "", fmt.Errorf("load %s from commit: %w", contentFile, err)
	}
	return file.Contents()
}

// TagName is the tag marking version number.
func TagName(number int) string {
	return "v" + strconv.Itoa(number)
}

func taggedCommit(repo *git.Repository, tag string) (*object.Commit, error) {
	ref, err := repo.Tag(tag)
	if err != nil {
		return nil, fmt.Errorf("resolve tag %s: %w", tag, err)
	}
	annotated, err := repo.TagObject(ref.Hash())
	switch {
	case err == nil:
		return annotated.Commit()
	case errors.Is(err, plumbing.ErrObjectNotFound):
		return repo.CommitObject(ref.Hash())
	default:
		return nil, fmt.Errorf("read tag %s: %w", tag, err)
	}
}

func (m *Mirror) openOrInit(documentID string) (*git.Repository, error) {
	path := m.repoPath(documentID)
	repo, err := git.PlainOpen(path)
	if err == nil {
		return repo, nil
	}
	if !errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, fmt.Errorf("open repo: %w", err)
	}

	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("create repo dir: %w", err)
	}
	repo, err = git.PlainInit(path, false)
	if err != nil {
		return nil, fmt.Errorf("init repo: %w", err)
	}
	head := plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName(mainBranch))
	if err := repo.Storer.SetReference(head); err != nil {
		return nil, fmt.Errorf("set HEAD to %s: %w", mainBranch, err)
	}
	return repo, nil
}

func (m *Mirror) repoPath(documentID string) string {
	return filepath.Join(m.baseDir, filepath.Base(filepath.Clean("/"+documentID)))
}

func (m *Mirror) documentLock(documentID string) *sync.Mutex {
	m.lockMu.Lock()
	defer m.lockMu.Unlock()
	lock, ok := m.locks[documentID]
	if ok {
		return lock
	}
	lock = &sync.Mutex{}
	m.locks[documentID] = lock
	return lock
}

func toCommit(c *object.Commit) Commit {
	return Commit{
		Hash:      c.Hash.String()[:7],
		Message:   c.Message,
		Author:    c.Author.Name,
		CreatedAt: c.Author.When,
	}
}

func sanitizeEmail(input string) string {
	out := make([]rune, 0, len(input))
	for _, r := range input {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			out = append(out, r)
			continue
		}
		if r == ' ' || r == '-' || r == '_' {
			out = append(out, '.')
		}
	}
	if len(out) == 0 {
		return "user"
	}
	return string(out)
}
