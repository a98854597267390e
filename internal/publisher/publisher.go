// Package publisher moves content between developer workspaces and the
// registry tree on request.
//
// A .publish declaration names a workspace, a path inside it and a command.
// "publish" copies the path (file or directory) into the registry under the
// same path; "unpublish" removes it from the registry. Every processed
// request is recorded in the publish log. The publisher runs before every
// other synchronizer so published declarations are picked up in the same
// run.
package publisher

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"strings"

	"github.com/spf13/afero"

	"github.com/roach88/converge/internal/artefact"
	"github.com/roach88/converge/internal/schema"
	"github.com/roach88/converge/internal/synchronizer"
)

const (
	Name      = "publisher"
	Type      = "publish"
	Priority  = 50
	Extension = ".publish"
)

// Commands of a publish request.
const (
	CommandPublish   = "publish"
	CommandUnpublish = "unpublish"
)

// Request asks for one path of a workspace to be published or unpublished.
type Request struct {
	artefact.Artefact
	Workspace string `json:"workspace"`
	Path      string `json:"path"`
	Command   string `json:"command"`
}

func (r *Request) Identity() string {
	return r.Command + ":" + r.Workspace + "/" + strings.TrimPrefix(r.Path, "/")
}

// Log records processed requests. Implemented by *store.Store.
type Log interface {
	WritePublishLog(ctx context.Context, command, source, target string) error
}

// Synchronizer processes .publish declarations. A request is carried out
// when it is declared or changed; removing the declaration leaves the
// registry as it is.
type Synchronizer struct {
	*synchronizer.Base[*Request]
	workspaces afero.Fs
	registry   afero.Fs
	log        Log
}

// NewSynchronizer creates the publisher. workspaces holds one directory per
// workspace; registry is the tree other synchronizers walk.
func NewSynchronizer(db synchronizer.Persistence, log Log, workspaces, registry afero.Fs) *Synchronizer {
	s := &Synchronizer{workspaces: workspaces, registry: registry, log: log}
	s.Base = synchronizer.NewBase(synchronizer.Config[*Request]{
		Name:       Name,
		Type:       Type,
		Priority:   Priority,
		Extensions: []string{Extension},
		New:        func() *Request { return &Request{} },
		Validate:   schema.Must().For(schema.Publish),
	}, db)
	return s
}

// NewDirSynchronizer creates a publisher over directories on disk.
func NewDirSynchronizer(db synchronizer.Persistence, log Log, workspaceDir, registryDir string) *Synchronizer {
	osfs := afero.NewOsFs()
	return NewSynchronizer(db, log,
		afero.NewBasePathFs(osfs, workspaceDir),
		afero.NewBasePathFs(osfs, registryDir),
	)
}

// Complete carries out the request.
func (s *Synchronizer) Complete(ctx context.Context, r *Request, phase artefact.Phase) (bool, error) {
	return s.Transition(ctx, r, phase, s.apply)
}

func (s *Synchronizer) apply(ctx context.Context, r *Request, phase artefact.Phase) (bool, error) {
	if phase != artefact.PhaseCreate && phase != artefact.PhaseUpdate {
		return true, nil
	}

	target, err := cleanPath(r.Path)
	if err != nil {
		return false, err
	}
	workspace, err := cleanPath(r.Workspace)
	if err != nil {
		return false, err
	}
	source := path.Join("/", workspace, target)
	target = path.Join("/", target)

	switch r.Command {
	case CommandPublish:
		if err := s.publish(source, target); err != nil {
			return false, err
		}
	case CommandUnpublish:
		if err := s.registry.RemoveAll(target); err != nil {
			return false, fmt.Errorf("unpublish %s: %w", target, err)
		}
	default:
		return false, fmt.Errorf("unknown command %q", r.Command)
	}

	if err := s.log.WritePublishLog(ctx, r.Command, source, target); err != nil {
		return false, err
	}
	slog.Info("publish request processed", "command", r.Command, "source", source, "target", target)
	return true, nil
}

// publish copies source from the workspaces into target in the registry,
// overwriting existing files.
func (s *Synchronizer) publish(source, target string) error {
	info, err := s.workspaces.Stat(source)
	if err != nil {
		return fmt.Errorf("publish %s: %w", source, err)
	}
	if !info.IsDir() {
		return s.copyFile(source, target, info.Mode())
	}

	return afero.Walk(s.workspaces, source, func(p string, info fs.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel := strings.TrimPrefix(p, source)
		dst := path.Join(target, rel)
		if info.IsDir() {
			return s.registry.MkdirAll(dst, 0o755)
		}
		return s.copyFile(p, dst, info.Mode())
	})
}

func (s *Synchronizer) copyFile(src, dst string, mode fs.FileMode) error {
	data, err := afero.ReadFile(s.workspaces, src)
	if err != nil {
		return fmt.Errorf("read %s: %w", src, err)
	}
	if err := s.registry.MkdirAll(path.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("create %s: %w", path.Dir(dst), err)
	}
	if err := afero.WriteFile(s.registry, dst, data, mode.Perm()|0o200); err != nil {
		return fmt.Errorf("write %s: %w", dst, err)
	}
	return nil
}

// cleanPath rejects paths that would leave their root.
func cleanPath(p string) (string, error) {
	rel := strings.TrimPrefix(path.Clean("/"+p), "/")
	if rel == "" || !fs.ValidPath(rel) || strings.Contains(p, "..") {
		return "", fmt.Errorf("invalid path %q", p)
	}
	return rel, nil
}
