package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

const uniqueViolation = "23505"

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) UpsertUser(ctx context.Context, user User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, username, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET username = EXCLUDED.username
	`, user.ID, user.Username, user.CreatedAt)
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetUser(ctx context.Context, id string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `SELECT id, username, created_at FROM users WHERE id = $1`, id).
		Scan(&user.ID, &user.Username, &user.CreatedAt)
	if err != nil {
		return User{}, notFound(err, "get user")
	}
	return user, nil
}

const documentColumns = `id, repo_id, title, slug, current_content, created_by, created_at, updated_at`

func (s *PostgresStore) GetDocument(ctx context.Context, id string) (Document, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE id = $1`, id)
	doc, err := scanDocument(row)
	if err != nil {
		return Document{}, notFound(err, "get document")
	}
	return doc, nil
}

func (s *PostgresStore) GetDocumentBySlug(ctx context.Context, repoID, slug string) (Document, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE repo_id = $1 AND slug = $2`, repoID, slug)
	doc, err := scanDocument(row)
	if err != nil {
		return Document{}, notFound(err, "get document by slug")
	}
	return doc, nil
}

func (s *PostgresStore) ListDocuments(ctx context.Context, repoID string) ([]Document, error) {
	return s.queryDocuments(ctx, "list documents",
		`SELECT `+documentColumns+` FROM documents WHERE repo_id = $1 ORDER BY title ASC, id ASC`, repoID)
}

func (s *PostgresStore) ListAllDocuments(ctx context.Context) ([]Document, error) {
	return s.queryDocuments(ctx, "list all documents",
		`SELECT `+documentColumns+` FROM documents ORDER BY repo_id ASC, title ASC`)
}

// SearchDocuments is the substring fallback used when the search index is
// unavailable.
func (s *PostgresStore) SearchDocuments(ctx context.Context, repoID, query string, limit int) ([]Document, error) {
	if limit <= 0 {
		limit = 20
	}
	pattern := "%" + escapeLike(query) + "%"
	return s.queryDocuments(ctx, "search documents", `
		SELECT `+documentColumns+`
		FROM documents
		WHERE repo_id = $1 AND (title ILIKE $2 OR current_content ILIKE $2)
		ORDER BY updated_at DESC
		LIMIT $3
	`, repoID, pattern, limit)
}

func (s *PostgresStore) queryDocuments(ctx context.Context, op, query string, args ...any) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	items := make([]Document, 0)
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		items = append(items, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return items, nil
}

const versionColumns = `id, document_id, version_number, content, commit_message, created_by, created_at`

func (s *PostgresStore) ListVersions(ctx context.Context, documentID string) ([]DocumentVersion, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+versionColumns+`
		FROM document_versions
		WHERE document_id = $1
		ORDER BY version_number ASC
	`, documentID)
	if err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	defer rows.Close()

	items := make([]DocumentVersion, 0)
	for rows.Next() {
		var v DocumentVersion
		if err := rows.Scan(&v.ID, &v.DocumentID, &v.VersionNumber, &v.Content, &v.CommitMessage, &v.CreatedBy, &v.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan version: %w", err)
		}
		items = append(items, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetVersion(ctx context.Context, documentID string, number int) (DocumentVersion, error) {
	var v DocumentVersion
	err := s.db.QueryRowContext(ctx, `
		SELECT `+versionColumns+`
		FROM document_versions
		WHERE document_id = $1 AND version_number = $2
	`, documentID, number).Scan(&v.ID, &v.DocumentID, &v.VersionNumber, &v.Content, &v.CommitMessage, &v.CreatedBy, &v.CreatedAt)
	if err != nil {
		return DocumentVersion{}, notFound(err, "get version")
	}
	return v, nil
}

func (s *PostgresStore) LatestVersionNumber(ctx context.Context, documentID string) (int, error) {
	var latest int
	err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(version_number), 0) FROM document_versions WHERE document_id = $1`, documentID).Scan(&latest)
	if err != nil {
		return 0, fmt.Errorf("latest version number: %w", err)
	}
	return latest, nil
}

const durColumns = `id, repo_id, document_id, title, COALESCE(description, ''), proposed_content, status,
	base_version, COALESCE(merged_version, 0), created_by, COALESCE(reviewed_by, ''), COALESCE(review_comment, ''),
	created_at, reviewed_at`

func (s *PostgresStore) InsertDUR(ctx context.Context, dur DUR) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO durs (id, repo_id, document_id, title, description, proposed_content, status, base_version, created_by, created_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7, $8, $9, $10)
	`, dur.ID, dur.RepoID, dur.DocumentID, dur.Title, dur.Description, dur.ProposedContent, string(dur.Status), dur.BaseVersion, dur.CreatedBy, dur.CreatedAt)
	if err != nil {
		return conflict(err, "insert dur")
	}
	return nil
}

func (s *PostgresStore) GetDUR(ctx context.Context, id string) (DUR, error) {
	dur, err := scanDUR(s.db.QueryRowContext(ctx, `SELECT `+durColumns+` FROM durs WHERE id = $1`, id))
	if err != nil {
		return DUR{}, notFound(err, "get dur")
	}
	return dur, nil
}

// ListDURs returns the repository's DURs newest first. An empty status
// matches every status.
func (s *PostgresStore) ListDURs(ctx context.Context, repoID string, status DURStatus) ([]DUR, error) {
	query := `SELECT ` + durColumns + ` FROM durs WHERE repo_id = $1`
	args := []any{repoID}
	if status != "" {
		query += ` AND status = $2`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at DESC, id DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list durs: %w", err)
	}
	defer rows.Close()

	items := make([]DUR, 0)
	for rows.Next() {
		dur, err := scanDUR(rows)
		if err != nil {
			return nil, fmt.Errorf("scan dur: %w", err)
		}
		items = append(items, dur)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list durs: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) InsertComment(ctx context.Context, comment Comment) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO dur_comments (id, dur_id, author_id, content, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, comment.ID, comment.DURID, comment.AuthorID, comment.Content, comment.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert comment: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListComments(ctx context.Context, durID string) ([]Comment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, dur_id, author_id, content, created_at
		FROM dur_comments
		WHERE dur_id = $1
		ORDER BY created_at ASC, id ASC
	`, durID)
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	defer rows.Close()

	items := make([]Comment, 0)
	for rows.Next() {
		var c Comment
		if err := rows.Scan(&c.ID, &c.DURID, &c.AuthorID, &c.Content, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan comment: %w", err)
		}
		items = append(items, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	return items, nil
}

// WithTx runs fn in a transaction and commits when fn returns nil.
func (s *PostgresStore) WithTx(ctx context.Context, fn func(Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(&postgresTx{tx: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

type postgresTx struct {
	tx *sql.Tx
}

func (t *postgresTx) InsertDocument(ctx context.Context, doc Document) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO documents (`+documentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, doc.ID, doc.RepoID, doc.Title, doc.Slug, doc.CurrentContent, doc.CreatedBy, doc.CreatedAt, doc.UpdatedAt)
	if err != nil {
		return conflict(err, "insert document")
	}
	return nil
}

func (t *postgresTx) LockDocument(ctx context.Context, documentID string) (Document, error) {
	row := t.tx.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE id = $1 FOR UPDATE`, documentID)
	doc, err := scanDocument(row)
	if err != nil {
		return Document{}, notFound(err, "lock document")
	}
	return doc, nil
}

func (t *postgresTx) LatestVersionNumber(ctx context.Context, documentID string) (int, error) {
	var latest int
	err := t.tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(version_number), 0) FROM document_versions WHERE document_id = $1`, documentID).Scan(&latest)
	if err != nil {
		return 0, fmt.Errorf("latest version number: %w", err)
	}
	return latest, nil
}

func (t *postgresTx) InsertVersion(ctx context.Context, v DocumentVersion) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO document_versions (`+versionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, v.ID, v.DocumentID, v.VersionNumber, v.Content, v.CommitMessage, v.CreatedBy, v.CreatedAt)
	if err != nil {
		return conflict(err, "insert version")
	}
	return nil
}

func (t *postgresTx) SetCurrentContent(ctx context.Context, documentID, content string, updatedAt time.Time) error {
	return t.updateDocument(ctx, "set current content",
		`UPDATE documents SET current_content = $2, updated_at = $3 WHERE id = $1`, documentID, content, updatedAt)
}

func (t *postgresTx) SetTitle(ctx context.Context, documentID, title string, updatedAt time.Time) error {
	return t.updateDocument(ctx, "set title",
		`UPDATE documents SET title = $2, updated_at = $3 WHERE id = $1`, documentID, title, updatedAt)
}

func (t *postgresTx) updateDocument(ctx context.Context, op, query string, args ...any) error {
	result, err := t.tx.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return nil
}

func (t *postgresTx) LockDUR(ctx context.Context, durID string) (DUR, error) {
	dur, err := scanDUR(t.tx.QueryRowContext(ctx, `SELECT `+durColumns+` FROM durs WHERE id = $1 FOR UPDATE`, durID))
	if err != nil {
		return DUR{}, notFound(err, "lock dur")
	}
	return dur, nil
}

func (t *postgresTx) UpdateDURReview(ctx context.Context, dur DUR) error {
	var mergedVersion any
	if dur.MergedVersion > 0 {
		mergedVersion = dur.MergedVersion
	}
	result, err := t.tx.ExecContext(ctx, `
		UPDATE durs
		SET status = $2, reviewed_by = $3, review_comment = NULLIF($4, ''), reviewed_at = $5, merged_version = $6
		WHERE id = $1
	`, dur.ID, string(dur.Status), dur.ReviewedBy, dur.ReviewComment, dur.ReviewedAt, mergedVersion)
	if err != nil {
		return fmt.Errorf("update dur review: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("update dur review: %w", ErrNotFound)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (Document, error) {
	var doc Document
	err := row.Scan(&doc.ID, &doc.RepoID, &doc.Title, &doc.Slug, &doc.CurrentContent, &doc.CreatedBy, &doc.CreatedAt, &doc.UpdatedAt)
	return doc, err
}

func scanDUR(row rowScanner) (DUR, error) {
	var (
		dur        DUR
		status     string
		reviewedAt sql.NullTime
	)
	err := row.Scan(
		&dur.ID, &dur.RepoID, &dur.DocumentID, &dur.Title, &dur.Description, &dur.ProposedContent, &status,
		&dur.BaseVersion, &dur.MergedVersion, &dur.CreatedBy, &dur.ReviewedBy, &dur.ReviewComment,
		&dur.CreatedAt, &reviewedAt,
	)
	if err != nil {
		return DUR{}, err
	}
	dur.Status = DURStatus(status)
	if reviewedAt.Valid {
		at := reviewedAt.Time
		dur.ReviewedAt = &at
	}
	return dur, nil
}

func notFound(err error, op string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func conflict(err error, op string) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("%s: %w", op, ErrConflict)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func escapeLike(value string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(value)
}
