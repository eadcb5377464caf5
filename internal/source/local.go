package source

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Local reads artifacts from a directory tree. Hidden directories are
// skipped.
type Local struct {
	root string
}

// NewLocal returns a Local source rooted at dir.
func NewLocal(dir string) (*Local, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("open source directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("source %s is not a directory", dir)
	}
	return &Local{root: dir}, nil
}

// Root returns the directory the source reads from.
func (l *Local) Root() string {
	return l.root
}

func (l *Local) String() string {
	return l.root
}

// List walks the tree and returns every regular file.
func (l *Local) List(ctx context.Context) ([]string, error) {
	var names []string
	err := filepath.WalkDir(l.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			if path != l.root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(l.root, path)
		if err != nil {
			return err
		}
		names = append(names, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return names, nil
}

// Read returns the content of a listed file.
func (l *Local) Read(_ context.Context, name string) ([]byte, error) {
	rel := filepath.FromSlash(name)
	if !filepath.IsLocal(rel) {
		return nil, fmt.Errorf("invalid artifact name %q", name)
	}
	return os.ReadFile(filepath.Join(l.root, rel))
}
