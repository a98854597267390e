package registry

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"strings"
)

// WalkFunc receives one declaration file.
type WalkFunc func(location string, content []byte) error

// Tree is a declaration tree backed by a file system.
type Tree struct {
	fsys fs.FS
}

// NewTree creates a tree over fsys.
func NewTree(fsys fs.FS) *Tree {
	return &Tree{fsys: fsys}
}

// OpenTree creates a tree over the directory dir.
// The directory is read lazily; it need not exist until the first Walk.
func OpenTree(dir string) *Tree {
	return NewTree(os.DirFS(dir))
}

// Location converts an fs path ("a/b.table") into a location ("/a/b.table").
func Location(p string) string {
	return "/" + strings.TrimPrefix(path.Clean(p), "/")
}

// Walk calls fn for every regular file in lexical order.
// Hidden files and directories (leading ".") are skipped. A missing root
// is treated as an empty tree. Walk stops at the first error from fn or
// when ctx is cancelled.
func (t *Tree) Walk(ctx context.Context, fn WalkFunc) error {
	err := fs.WalkDir(t.fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == "." && errors.Is(err, fs.ErrNotExist) {
				return fs.SkipAll
			}
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if p != "." && strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}

		content, err := fs.ReadFile(t.fsys, p)
		if err != nil {
			return fmt.Errorf("read %s: %w", p, err)
		}
		return fn(Location(p), content)
	})
	if err != nil {
		return fmt.Errorf("walk registry: %w", err)
	}
	return nil
}

// Read returns the content of the file at location.
func (t *Tree) Read(location string) ([]byte, error) {
	return fs.ReadFile(t.fsys, strings.TrimPrefix(location, "/"))
}
