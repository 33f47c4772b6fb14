// Package scratch manages the temporary directory owned by a single walk.
package scratch

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

var ErrClosed = errors.New("scratch directory closed")

// Dir is a per-walk temporary tree. Close removes it recursively.
type Dir struct {
	root string

	mu     sync.Mutex
	closed bool
}

// New creates a scratch directory under parent, or under os.TempDir when parent is empty.
func New(parent string) (*Dir, error) {
	if parent != "" {
		if err := os.MkdirAll(parent, 0o755); err != nil {
			return nil, fmt.Errorf("create scratch parent: %w", err)
		}
	}
	root, err := os.MkdirTemp(parent, "docparse-*")
	if err != nil {
		return nil, fmt.Errorf("create scratch directory: %w", err)
	}
	return &Dir{root: root}, nil
}

func (d *Dir) Path() string {
	return d.root
}

// Sub creates a fresh, uniquely named subdirectory.
func (d *Dir) Sub(prefix string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return "", ErrClosed
	}
	dir, err := os.MkdirTemp(d.root, sanitize(prefix)+"-*")
	if err != nil {
		return "", fmt.Errorf("create scratch subdirectory: %w", err)
	}
	return dir, nil
}

// Write stores data as name inside a fresh subdirectory and returns its path.
func (d *Dir) Write(prefix, name string, data []byte) (string, error) {
	dir, err := d.Sub(prefix)
	if err != nil {
		return "", err
	}
	name = sanitize(filepath.Base(name))
	if name == "" || name == "." {
		name = "blob"
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", fmt.Errorf("write scratch file: %w", err)
	}
	return path, nil
}

// Close removes the tree. Calling it more than once is a no-op.
func (d *Dir) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	if err := os.RemoveAll(d.root); err != nil {
		return fmt.Errorf("remove scratch directory: %w", err)
	}
	return nil
}

func sanitize(name string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|', 0:
			return '_'
		}
		return r
	}, name)
}
