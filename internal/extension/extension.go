// Package extension reconciles extension points and the extensions that
// plug modules into them.
//
// Extension points are synchronized first. An extension completes only
// once its extension point has been created, so an extension naming an
// unknown point stays pending and fails when the pass gives up on it.
package extension

import (
	"context"
	"slices"

	"github.com/roach88/converge/internal/artefact"
	"github.com/roach88/converge/internal/schema"
	"github.com/roach88/converge/internal/synchronizer"
)

const (
	PointsName = "extensionpoints"
	PointType  = "extensionpoint"
	// PointsPriority runs extension points before extensions.
	PointsPriority = 100
	PointExtension = ".extensionpoint"

	ExtensionsName     = "extensions"
	ExtensionType      = "extension"
	ExtensionsPriority = 110
	ExtensionExtension = ".extension"
)

// Point is a named slot modules can extend.
type Point struct {
	artefact.Artefact
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

func (p *Point) Identity() string { return p.Name }

// Extension binds a module to an extension point.
type Extension struct {
	artefact.Artefact
	ExtensionPoint string `json:"extensionPoint"`
	Module         string `json:"module"`
	Role           string `json:"role,omitempty"`
	Description    string `json:"description,omitempty"`
}

func (e *Extension) Identity() string { return e.ExtensionPoint + ":" + e.Module }

// PointSynchronizer reconciles .extensionpoint declarations. Points live in
// the artefact store only.
type PointSynchronizer struct {
	*synchronizer.Base[*Point]
}

// NewPointSynchronizer creates the extension point synchronizer.
func NewPointSynchronizer(db synchronizer.Persistence) *PointSynchronizer {
	return &PointSynchronizer{Base: synchronizer.NewBase(synchronizer.Config[*Point]{
		Name:       PointsName,
		Type:       PointType,
		Priority:   PointsPriority,
		Extensions: []string{PointExtension},
		New:        func() *Point { return &Point{} },
		Validate:   schema.Must().For(schema.ExtensionPoint),
	}, db)}
}

// Lookup returns the settled extension point called name.
func (s *PointSynchronizer) Lookup(ctx context.Context, name string) (*Point, bool, error) {
	points, err := s.Retrieve(ctx)
	if err != nil {
		return nil, false, err
	}
	for _, p := range points {
		if p.Name == name && p.Lifecycle.Settled() {
			return p, true, nil
		}
	}
	return nil, false, nil
}

// Synchronizer reconciles .extension declarations.
type Synchronizer struct {
	*synchronizer.Base[*Extension]
	points *PointSynchronizer
}

// NewSynchronizer creates the extension synchronizer. points resolves the
// extension point each extension names.
func NewSynchronizer(db synchronizer.Persistence, points *PointSynchronizer) *Synchronizer {
	s := &Synchronizer{points: points}
	s.Base = synchronizer.NewBase(synchronizer.Config[*Extension]{
		Name:       ExtensionsName,
		Type:       ExtensionType,
		Priority:   ExtensionsPriority,
		Extensions: []string{ExtensionExtension},
		New:        func() *Extension { return &Extension{} },
		Validate:   schema.Must().For(schema.Extension),
	}, db)
	return s
}

// Complete records the extension once its extension point exists.
func (s *Synchronizer) Complete(ctx context.Context, e *Extension, phase artefact.Phase) (bool, error) {
	return s.Transition(ctx, e, phase, func(ctx context.Context, e *Extension, phase artefact.Phase) (bool, error) {
		if phase != artefact.PhaseCreate && phase != artefact.PhaseUpdate {
			return true, nil
		}
		_, ok, err := s.points.Lookup(ctx, e.ExtensionPoint)
		return ok, err
	})
}

// Modules returns the modules of the settled extensions of point, sorted.
func (s *Synchronizer) Modules(ctx context.Context, point string) ([]string, error) {
	all, err := s.Retrieve(ctx)
	if err != nil {
		return nil, err
	}
	var modules []string
	for _, e := range all {
		if e.ExtensionPoint == point && e.Lifecycle.Settled() {
			modules = append(modules, e.Module)
		}
	}
	slices.Sort(modules)
	return modules, nil
}
