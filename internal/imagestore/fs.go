package imagestore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// DefaultURLPrefix is the path under which the HTTP server serves FS images.
const DefaultURLPrefix = "/images"

// FS stores images under root/<hash>/<name>.
type FS struct {
	root   string
	prefix string
}

// NewFS creates the root directory if needed. URLs are urlPrefix/<hash>/<name>.
func NewFS(root, urlPrefix string) (*FS, error) {
	if root == "" {
		return nil, errors.New("image store root cannot be empty")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create image store root: %w", err)
	}
	if urlPrefix == "" {
		urlPrefix = DefaultURLPrefix
	}
	return &FS{root: root, prefix: strings.TrimSuffix(urlPrefix, "/")}, nil
}

// Save writes the image through a temp file and rename so readers never see
// a partial file.
func (s *FS) Save(ctx context.Context, hash, name string, data []byte) (string, error) {
	if err := validate(hash, name); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	dir := filepath.Join(s.root, hash)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create image dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+name+".*.tmp")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return "", fmt.Errorf("write image: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return "", fmt.Errorf("sync image: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close image: %w", err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(dir, name)); err != nil {
		return "", fmt.Errorf("rename image: %w", err)
	}
	return s.url(hash, name), nil
}

// List returns the URLs of all images stored for hash in name order.
func (s *FS) List(_ context.Context, hash string) ([]string, error) {
	if !hashRe.MatchString(hash) {
		return nil, fmt.Errorf("invalid document hash %q", hash)
	}
	entries, err := os.ReadDir(filepath.Join(s.root, hash))
	if errors.Is(err, fs.ErrNotExist) {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list images: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	urls := make([]string, len(names))
	for i, n := range names {
		urls[i] = s.url(hash, n)
	}
	return urls, nil
}

// Fetch reads an image by the URL Save returned.
func (s *FS) Fetch(_ context.Context, url string) ([]byte, error) {
	key, ok := strings.CutPrefix(url, s.prefix+"/")
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, url)
	}
	hash, name, err := splitKey(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(s.root, hash, name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, url)
	}
	if err != nil {
		return nil, fmt.Errorf("read image: %w", err)
	}
	return data, nil
}

func (s *FS) url(hash, name string) string {
	return s.prefix + "/" + hash + "/" + name
}
