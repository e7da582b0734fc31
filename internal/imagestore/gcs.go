package imagestore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
)

// GCSConfig locates the bucket.
type GCSConfig struct {
	Bucket string `mapstructure:"bucket" yaml:"bucket" json:"bucket"`
	Prefix string `mapstructure:"prefix" yaml:"prefix" json:"prefix"`
}

// GCS stores images as gs://bucket/prefix/<hash>/<name>.
type GCS struct {
	client *storage.Client
	bucket *storage.BucketHandle
	name   string
	prefix string
}

// NewGCS creates a storage client for cfg.Bucket.
func NewGCS(ctx context.Context, cfg GCSConfig) (*GCS, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("gcs bucket cannot be empty")
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("storage.NewClient: %w", err)
	}
	return &GCS{
		client: client,
		bucket: client.Bucket(cfg.Bucket),
		name:   cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
	}, nil
}

// Save writes the object only if it does not exist yet. An existing object
// counts as success.
func (s *GCS) Save(ctx context.Context, hash, name string, data []byte) (string, error) {
	if err := validate(hash, name); err != nil {
		return "", err
	}
	object := s.objectName(hash, name)
	w := s.bucket.Object(object).If(storage.Conditions{DoesNotExist: true}).NewWriter(ctx)
	w.ContentType = "image/png"

	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		_ = w.Close()
		if preconditionFailed(err) {
			return s.url(object), nil
		}
		return "", fmt.Errorf("write gcs object %s: %w", object, err)
	}
	if err := w.Close(); err != nil {
		if preconditionFailed(err) {
			slog.Debug("GCS object already exists", "object", object)
			return s.url(object), nil
		}
		return "", fmt.Errorf("finalize gcs object %s: %w", object, err)
	}
	return s.url(object), nil
}

// List returns the URLs of all objects under the hash prefix.
func (s *GCS) List(ctx context.Context, hash string) ([]string, error) {
	if !hashRe.MatchString(hash) {
		return nil, fmt.Errorf("invalid document hash %q", hash)
	}
	it := s.bucket.Objects(ctx, &storage.Query{Prefix: s.objectName(hash, "")})
	urls := []string{}
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list gcs objects: %w", err)
		}
		urls = append(urls, s.url(attrs.Name))
	}
	return urls, nil
}

// Fetch downloads an object by its gs:// URL.
func (s *GCS) Fetch(ctx context.Context, url string) ([]byte, error) {
	bucket, object, err := parseGSURL(url)
	if err != nil || bucket != s.name {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, url)
	}
	r, err := s.bucket.Object(object).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, url)
	}
	if err != nil {
		return nil, fmt.Errorf("open gcs object: %w", err)
	}
	defer func() { _ = r.Close() }()
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read gcs object: %w", err)
	}
	return data, nil
}

// Close releases the storage client.
func (s *GCS) Close() error {
	return s.client.Close()
}

func (s *GCS) objectName(hash, name string) string {
	if s.prefix == "" {
		return hash + "/" + name
	}
	return path.Join(s.prefix, hash) + "/" + name
}

func (s *GCS) url(object string) string {
	return "gs://" + s.name + "/" + object
}

func parseGSURL(url string) (string, string, error) {
	rest, ok := strings.CutPrefix(url, "gs://")
	if !ok {
		return "", "", fmt.Errorf("not a gs:// url: %s", url)
	}
	bucket, object, ok := strings.Cut(rest, "/")
	if !ok || bucket == "" || object == "" {
		return "", "", fmt.Errorf("malformed gs:// url: %s", url)
	}
	return bucket, object, nil
}

func preconditionFailed(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusPreconditionFailed
}
