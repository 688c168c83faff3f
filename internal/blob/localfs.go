// Package blob stores generated images and uploaded reference images on the
// local filesystem. Paths handed out and accepted are relative to Root.
package blob

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"
)

// ErrInvalidPath is returned for paths that would escape the root.
var ErrInvalidPath = errors.New("invalid artifact path")

type LocalFS struct {
	Root string
}

func (l LocalFS) resolve(relPath string) (string, string, error) {
	clean := filepath.Clean(filepath.FromSlash(relPath))
	if clean == "." || filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidPath, relPath)
	}
	return filepath.ToSlash(clean), filepath.Join(l.Root, clean), nil
}

// Put writes r to relPath and returns the cleaned relative path. The file is
// renamed into place so readers never see a partial image.
func (l LocalFS) Put(relPath string, r io.Reader) (string, error) {
	clean, abs, err := l.resolve(relPath)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return "", err
	}

	f, err := os.CreateTemp(filepath.Dir(abs), ".put-*")
	if err != nil {
		return "", err
	}
	tmp := f.Name()
	defer os.Remove(tmp)

	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", err
	}
	if err := os.Rename(tmp, abs); err != nil {
		return "", err
	}
	return clean, nil
}

func (l LocalFS) Open(relPath string) (*os.File, error) {
	_, abs, err := l.resolve(relPath)
	if err != nil {
		return nil, err
	}
	return os.Open(abs)
}

// ReadAll returns the artifact bytes and a MIME type guessed from the extension.
func (l LocalFS) ReadAll(relPath string) ([]byte, string, error) {
	f, err := l.Open(relPath)
	if err != nil {
		return nil, "", err
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, "", err
	}
	return data, MimeType(relPath), nil
}

func (l LocalFS) Exists(relPath string) bool {
	_, abs, err := l.resolve(relPath)
	if err != nil {
		return false
	}
	_, err = os.Stat(abs)
	return err == nil
}

// Remove deletes the artifact. A missing file is not an error.
func (l LocalFS) Remove(relPath string) error {
	_, abs, err := l.resolve(relPath)
	if err != nil {
		return err
	}
	if err := os.Remove(abs); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// MimeType guesses an image MIME type from a path's extension.
func MimeType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".webp":
		return "image/webp"
	}
	if t := mime.TypeByExtension(filepath.Ext(path)); t != "" {
		return t
	}
	return "application/octet-stream"
}

// Extension returns the file extension for an image MIME type.
func Extension(mimeType string) string {
	switch strings.ToLower(strings.TrimSpace(strings.SplitN(mimeType, ";", 2)[0])) {
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	default:
		return ".png"
	}
}
