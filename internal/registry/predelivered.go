package registry

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"slices"
	"sync"
)

// Predelivered holds declarations bundled with the binary.
//
// Registration is idempotent: registering the same location twice with the
// same content is a no-op. Safe for concurrent use.
type Predelivered struct {
	mu      sync.RWMutex
	entries map[string][]byte
}

// NewPredelivered creates an empty set.
func NewPredelivered() *Predelivered {
	return &Predelivered{entries: make(map[string][]byte)}
}

// Register adds or replaces the declaration at location.
// Returns true if the set changed.
func (p *Predelivered) Register(location string, content []byte) bool {
	location = Location(location)

	p.mu.Lock()
	defer p.mu.Unlock()

	if existing, ok := p.entries[location]; ok && bytes.Equal(existing, content) {
		return false
	}
	p.entries[location] = bytes.Clone(content)
	return true
}

// RegisterFS registers every regular file of fsys.
// Returns the number of locations that were added or changed.
func (p *Predelivered) RegisterFS(fsys fs.FS) (int, error) {
	changed := 0
	err := NewTree(fsys).Walk(context.Background(), func(location string, content []byte) error {
		if p.Register(location, content) {
			changed++
		}
		return nil
	})
	if err != nil {
		return changed, fmt.Errorf("register predelivered: %w", err)
	}
	return changed, nil
}

// Len returns the number of registered declarations.
func (p *Predelivered) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.entries)
}

// Walk calls fn for every registered declaration in lexical order of
// location. The set is snapshotted first, so fn may call Register.
func (p *Predelivered) Walk(ctx context.Context, fn WalkFunc) error {
	p.mu.RLock()
	locations := make([]string, 0, len(p.entries))
	snapshot := make(map[string][]byte, len(p.entries))
	for loc, content := range p.entries {
		locations = append(locations, loc)
		snapshot[loc] = content
	}
	p.mu.RUnlock()

	slices.Sort(locations)
	for _, loc := range locations {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(loc, snapshot[loc]); err != nil {
			return err
		}
	}
	return nil
}
