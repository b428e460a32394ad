// Package artifact stores materialized step outputs on the local filesystem.
//
// Layout: <root>/<pipeline>/<run>/<step>/<output>.<materializer>
package artifact

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Key addresses one output of one step in one run.
type Key struct {
	Pipeline string
	Run      string
	Step     string
	Output   string
}

// Store writes and reads artifacts below Root.
type Store struct {
	Root string
}

// NewLocalStore returns a Store rooted at dir. The directory is created on first write.
func NewLocalStore(dir string) *Store {
	return &Store{Root: dir}
}

// Path returns the file path for key with the given extension.
func (s *Store) Path(key Key, ext string) string {
	name := sanitize(key.Output)
	if ext != "" {
		name += "." + ext
	}
	return filepath.Join(s.Root, sanitize(key.Pipeline), sanitize(key.Run), sanitize(key.Step), name)
}

// Write creates the artifact file for key and passes it to write. It returns the
// artifact URI (file://...). A partially written file is removed on error.
func (s *Store) Write(key Key, ext string, write func(w io.Writer) error) (string, error) {
	path := s.Path(key, ext)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("artifact: mkdir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("artifact: create %s: %w", path, err)
	}
	if err := write(f); err != nil {
		f.Close()
		os.Remove(path)
		return "", fmt.Errorf("artifact: write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("artifact: close %s: %w", path, err)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	return "file://" + filepath.ToSlash(abs), nil
}

// Open opens an artifact by the URI returned from Write.
func (s *Store) Open(uri string) (io.ReadCloser, error) {
	path := strings.TrimPrefix(uri, "file://")
	f, err := os.Open(filepath.FromSlash(path))
	if err != nil {
		return nil, fmt.Errorf("artifact: open %s: %w", uri, err)
	}
	return f, nil
}

// sanitize makes s a single path component that stays inside its parent.
func sanitize(s string) string {
	switch s {
	case "", ".", "..":
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			return '_'
		}
		return r
	}, s)
}
