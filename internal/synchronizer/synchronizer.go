package synchronizer

import (
	"context"

	"github.com/roach88/converge/internal/artefact"
	"github.com/roach88/converge/internal/registry"
	"github.com/roach88/converge/internal/store"
)

// Synchronizer reconciles one artefact type.
type Synchronizer[A artefact.Value] interface {
	// Name identifies the synchronizer in logs, state rows and dependencies.
	Name() string

	// Priority orders synchronizers within a run; lower runs first.
	Priority() int

	// IsAccepted reports whether the file at location is a declaration of
	// this synchronizer's type.
	IsAccepted(location string) bool

	// Parse turns one declaration file into artefacts with their identity,
	// checksum and persisted state filled in. A file may declare several.
	Parse(ctx context.Context, location string, content []byte) ([]A, error)

	// Retrieve returns every persisted artefact of this type.
	Retrieve(ctx context.Context) ([]A, error)

	// Complete applies phase to a and records the resulting lifecycle.
	// done=false asks the driver to retry in a later round of the pass.
	Complete(ctx context.Context, a A, phase artefact.Phase) (done bool, err error)

	// Cleanup removes a persisted artefact whose declaration is gone.
	Cleanup(ctx context.Context, a A) error

	// SetCallback installs the sink for state changes and errors.
	SetCallback(cb Callback)

	// SetStatus persists lifecycle and message for a and reports the
	// change to the callback.
	SetStatus(ctx context.Context, a A, lifecycle artefact.Lifecycle, message string) error
}

// PostProcessor is implemented by synchronizers that act on the whole set
// of artefacts seen in a pass after every phase has completed.
type PostProcessor[A artefact.Value] interface {
	PostProcess(ctx context.Context, seen []A) error
}

// Orderer is implemented by synchronizers whose pending artefacts must be
// completed in a particular order.
type Orderer[A artefact.Value] interface {
	Order(pending []A) ([]A, error)
}

// Inert is implemented by synchronizers some of whose FAILED artefacts can
// no longer affect anything, e.g. a migration below its project's status.
// Such artefacts do not fail the pass.
type Inert[A artefact.Value] interface {
	Inert(ctx context.Context, a A) (bool, error)
}

// Dependent is implemented by synchronizers that may only run after other
// synchronizers succeeded.
type Dependent interface {
	DependsOn() []string
}

// Persistence is the artefact row store a synchronizer works against.
// Implemented by *store.Store.
type Persistence interface {
	FindByKey(ctx context.Context, key string) (*store.Record, error)
	ListByType(ctx context.Context, typ string) ([]*store.Record, error)
	Save(ctx context.Context, rec *store.Record) error
	SetLifecycle(ctx context.Context, key string, l artefact.Lifecycle, msg string) error
	Delete(ctx context.Context, key string) error
}

// StateStore records pass results. Implemented by *store.Store.
type StateStore interface {
	RecordSynchronizerState(ctx context.Context, name, state, message, runID string) error
	SynchronizerState(ctx context.Context, name string) (*store.SynchronizerState, error)
}

// Source yields declaration files. Implemented by *registry.Tree and
// *registry.Predelivered.
type Source interface {
	Walk(ctx context.Context, fn registry.WalkFunc) error
}
