// Package archive copies every committed version into an S3-compatible
// bucket as an immutable object.
package archive

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"dochub/api/internal/store"
)

type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

type objectWriter interface {
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

type Archive struct {
	client objectWriter
	bucket string
}

// New connects to the object store and ensures the bucket exists.
func New(cfg Config) (*Archive, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("minio endpoint missing")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("minio bucket missing")
	}
	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("minio new: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := mc.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
		exists, xerr := mc.BucketExists(ctx, cfg.Bucket)
		if xerr != nil || !exists {
			return nil, fmt.Errorf("minio bucket ensure: %w", err)
		}
	}
	return &Archive{client: mc, bucket: cfg.Bucket}, nil
}

func (a *Archive) Name() string { return "archive" }

// PublishVersion uploads the version content under ObjectKey. Keys are
// deterministic, so a retried upload overwrites with identical bytes.
func (a *Archive) PublishVersion(ctx context.Context, doc store.Document, version store.DocumentVersion) error {
	key := ObjectKey(doc.ID, version.VersionNumber)
	body := strings.NewReader(version.Content)
	_, err := a.client.PutObject(ctx, a.bucket, key, body, body.Size(), minio.PutObjectOptions{
		ContentType: "text/markdown; charset=utf-8",
		UserMetadata: map[string]string{
			"document-id":    doc.ID,
			"repo-id":        doc.RepoID,
			"slug":           doc.Slug,
			"version":        strconv.Itoa(version.VersionNumber),
			"created-by":     version.CreatedBy,
			"commit-message": headerSafe(version.CommitMessage),
		},
	})
	if err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

// ObjectKey is documents/<documentID>/v<NNNN>.md. Zero padding keeps a
// lexical bucket listing in version order.
func ObjectKey(documentID string, number int) string {
	return fmt.Sprintf("documents/%s/v%04d.md", documentID, number)
}

// headerSafe keeps metadata values to printable ASCII on one line.
func headerSafe(value string) string {
	var b strings.Builder
	for _, r := range value {
		switch {
		case r == '\n' || r == '\r' || r == '\t':
			b.WriteByte(' ')
		case r < 0x20 || r > 0x7e:
			b.WriteByte('?')
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
