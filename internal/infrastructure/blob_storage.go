package infrastructure

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

var (
	// ErrBlobTooLarge is returned by Put when the payload exceeds the limit
	ErrBlobTooLarge = errors.New("blob too large")
	// ErrInvalidBlobName rejects names that would escape the storage root
	ErrInvalidBlobName = errors.New("invalid blob name")
)

// LocalBlobStorage keeps media files in a flat directory served by the HTTP
// layer under /media/<name>.
type LocalBlobStorage struct {
	root       string
	publicBase string
	maxBytes   int64
}

func NewLocalBlobStorage(root, publicBaseURL string, maxBytes int64) (*LocalBlobStorage, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve media dir: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create media dir: %w", err)
	}
	return &LocalBlobStorage{
		root:       abs,
		publicBase: strings.TrimRight(publicBaseURL, "/") + "/media/",
		maxBytes:   maxBytes,
	}, nil
}

// Put writes through a temp file and renames it, so a reader never sees a
// partial blob.
func (s *LocalBlobStorage) Put(_ context.Context, name string, r io.Reader) error {
	dest, err := s.path(name)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(s.root, ".upload-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	src := r
	if s.maxBytes > 0 {
		src = io.LimitReader(r, s.maxBytes+1)
	}
	n, err := io.Copy(tmp, src)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return fmt.Errorf("write blob: %w", err)
	}
	if s.maxBytes > 0 && n > s.maxBytes {
		return ErrBlobTooLarge
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return fmt.Errorf("move blob into place: %w", err)
	}
	return nil
}

func (s *LocalBlobStorage) Open(_ context.Context, name string) (io.ReadCloser, error) {
	p, err := s.path(name)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if err != nil {
		return nil, fmt.Errorf("open blob: %w", err)
	}
	return f, nil
}

func (s *LocalBlobStorage) URL(name string) string {
	return s.publicBase + name
}

func (s *LocalBlobStorage) IsLocal(url string) bool {
	return url != "" && strings.HasPrefix(url, s.publicBase)
}

func (s *LocalBlobStorage) path(name string) (string, error) {
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return "", ErrInvalidBlobName
	}
	return filepath.Join(s.root, name), nil
}
