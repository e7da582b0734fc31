// Package imagestore persists rendered page images and region crops per
// document hash and hands out stable URLs for them.
package imagestore

import (
	"context"
	"errors"
	"fmt"
	"path"
	"regexp"
	"strings"
)

// ErrNotFound is returned by Fetch for unknown URLs.
var ErrNotFound = errors.New("image not found")

// Store saves and retrieves images. Save is idempotent per (hash, name).
type Store interface {
	Save(ctx context.Context, hash, name string, data []byte) (string, error)
	List(ctx context.Context, hash string) ([]string, error)
	Fetch(ctx context.Context, url string) ([]byte, error)
}

var (
	hashRe = regexp.MustCompile(`^[0-9a-f]{8,128}$`)
	nameRe = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)
)

// PageImageName is the object name of a rendered page.
func PageImageName(page int) string {
	return fmt.Sprintf("page-%04d.png", page)
}

// RegionImageName is the object name of the idx-th region crop of a page.
func RegionImageName(page, idx int) string {
	return fmt.Sprintf("p%04d-r%02d.png", page, idx)
}

func validate(hash, name string) error {
	if !hashRe.MatchString(hash) {
		return fmt.Errorf("invalid document hash %q", hash)
	}
	if !nameRe.MatchString(name) || strings.Contains(name, "..") {
		return fmt.Errorf("invalid image name %q", name)
	}
	return nil
}

// splitKey parses "<hash>/<name>".
func splitKey(key string) (string, string, error) {
	hash, name := path.Split(strings.TrimPrefix(key, "/"))
	hash = strings.TrimSuffix(hash, "/")
	if err := validate(hash, name); err != nil {
		return "", "", fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	return hash, name, nil
}
