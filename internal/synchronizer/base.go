package synchronizer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/roach88/converge/internal/artefact"
	"github.com/roach88/converge/internal/store"
)

// Effect applies one phase to an artefact outside the artefact store, e.g.
// deploying a table. done=false leaves the artefact pending for a later
// round of the same pass.
type Effect[A artefact.Value] func(ctx context.Context, a A, phase artefact.Phase) (done bool, err error)

// Identifier is implemented by artefacts that can tell entries of a
// multi-entry declaration file apart, typically by name.
type Identifier interface {
	Identity() string
}

// Config describes one artefact type handled by a Base.
type Config[A artefact.Value] struct {
	// Name of the synchronizer.
	Name string

	// Type is the discriminator stored with every artefact row.
	Type string

	Priority int

	// Extensions lists the accepted file suffixes, e.g. ".table".
	Extensions []string

	// New returns an empty artefact. A must be a pointer type.
	New func() A

	// Validate checks one raw declaration entry before decoding.
	Validate func(content []byte) error
}

// Base implements the parts of Synchronizer shared by every artefact type:
// JSON declaration parsing, row retrieval, status bookkeeping and the
// lifecycle state machine. Concrete synchronizers embed *Base and override
// Complete (usually via Transition) and, when needed, Cleanup.
type Base[A artefact.Value] struct {
	cfg Config[A]
	db  Persistence

	mu sync.RWMutex
	cb Callback
}

// NewBase creates a Base over db.
func NewBase[A artefact.Value](cfg Config[A], db Persistence) *Base[A] {
	return &Base[A]{cfg: cfg, db: db, cb: Discard}
}

func (b *Base[A]) Name() string  { return b.cfg.Name }
func (b *Base[A]) Type() string  { return b.cfg.Type }
func (b *Base[A]) Priority() int { return b.cfg.Priority }

// Extensions returns the accepted file suffixes.
func (b *Base[A]) Extensions() []string { return b.cfg.Extensions }

// IsAccepted reports whether location ends with one of the configured
// extensions.
func (b *Base[A]) IsAccepted(location string) bool {
	for _, ext := range b.cfg.Extensions {
		if strings.HasSuffix(location, ext) {
			return true
		}
	}
	return false
}

// SetCallback installs cb. A nil callback discards events; panics raised
// by cb are recovered and logged.
func (b *Base[A]) SetCallback(cb Callback) {
	cb = guard(cb)
	b.mu.Lock()
	b.cb = cb
	b.mu.Unlock()
}

// Callback returns the installed callback, wrapped so it cannot panic.
func (b *Base[A]) Callback() Callback {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.cb
}

// Parse decodes a declaration file holding either one JSON object or an
// array of objects. Entries of an array are keyed by their Identity (or
// their index when the artefact has none), so each gets its own row.
func (b *Base[A]) Parse(ctx context.Context, location string, content []byte) ([]A, error) {
	entries, multi, err := splitEntries(content)
	if err != nil {
		return nil, &ParseError{Location: location, Err: err}
	}

	out := make([]A, 0, len(entries))
	keys := make(map[string]bool, len(entries))
	for i, raw := range entries {
		if b.cfg.Validate != nil {
			if err := b.cfg.Validate(raw); err != nil {
				return nil, &ParseError{Location: location, Err: entryErr(multi, i, err)}
			}
		}

		v := b.cfg.New()
		if err := json.Unmarshal(raw, v); err != nil {
			return nil, &ParseError{Location: location, Err: entryErr(multi, i, err)}
		}

		var parts []string
		if multi {
			parts = []string{entryID(v, i)}
		}
		meta := v.Meta()
		if err := meta.Identify(b.cfg.Type, location, raw, parts...); err != nil {
			return nil, &ParseError{Location: location, Err: entryErr(multi, i, err)}
		}
		if keys[meta.Key] {
			return nil, &ParseError{Location: location, Err: fmt.Errorf("duplicate entry %q", parts[0])}
		}
		keys[meta.Key] = true

		rec, err := b.db.FindByKey(ctx, meta.Key)
		if err != nil {
			return nil, &PersistenceError{Op: "find", Location: location, Err: err}
		}
		if rec != nil {
			meta.Adopt(&rec.Artefact)
		}
		out = append(out, v)
	}
	return out, nil
}

// Retrieve loads every persisted artefact of this type.
func (b *Base[A]) Retrieve(ctx context.Context) ([]A, error) {
	recs, err := b.db.ListByType(ctx, b.cfg.Type)
	if err != nil {
		return nil, &PersistenceError{Op: "list", Location: b.cfg.Type, Err: err}
	}

	out := make([]A, 0, len(recs))
	for _, rec := range recs {
		v := b.cfg.New()
		if err := json.Unmarshal(rec.Payload, v); err != nil {
			return nil, &PersistenceError{Op: "decode", Location: rec.Location, Err: err}
		}
		meta := v.Meta()
		*meta = rec.Artefact
		meta.Adopt(&rec.Artefact)
		out = append(out, v)
	}
	return out, nil
}

// Find returns the persisted artefact stored under key, or the zero A and
// false when there is none.
func (b *Base[A]) Find(ctx context.Context, key string) (A, bool, error) {
	var zero A
	rec, err := b.db.FindByKey(ctx, key)
	if err != nil {
		return zero, false, &PersistenceError{Op: "find", Location: key, Err: err}
	}
	if rec == nil {
		return zero, false, nil
	}
	v := b.cfg.New()
	if err := json.Unmarshal(rec.Payload, v); err != nil {
		return zero, false, &PersistenceError{Op: "decode", Location: rec.Location, Err: err}
	}
	meta := v.Meta()
	*meta = rec.Artefact
	meta.Adopt(&rec.Artefact)
	return v, true, nil
}

// Save writes a with lifecycle l and message msg, inserting the row if it
// does not exist yet.
func (b *Base[A]) Save(ctx context.Context, a A, l artefact.Lifecycle, msg string) error {
	payload, err := json.Marshal(a)
	if err != nil {
		return &PersistenceError{Op: "encode", Location: a.Meta().Location, Err: err}
	}

	meta := a.Meta()
	rec := &store.Record{Artefact: *meta, Payload: payload}
	rec.Lifecycle = l
	rec.Error = msg
	if err := b.db.Save(ctx, rec); err != nil {
		return &PersistenceError{Op: "save", Location: meta.Location, Err: err}
	}
	meta.Adopt(&rec.Artefact)
	return nil
}

// SetStatus persists l and msg for a and reports the change to the callback.
func (b *Base[A]) SetStatus(ctx context.Context, a A, l artefact.Lifecycle, msg string) error {
	meta := a.Meta()

	var err error
	if meta.Stored() {
		if err = b.db.SetLifecycle(ctx, meta.Key, l, msg); err != nil {
			err = &PersistenceError{Op: "set lifecycle", Location: meta.Location, Err: err}
		} else {
			meta.Lifecycle = l
			meta.Error = msg
		}
	} else {
		err = b.Save(ctx, a, l, msg)
	}

	b.Callback().RegisterState(b.cfg.Name, *meta, l, msg)
	if err != nil {
		b.Callback().AddError(err.Error())
	}
	return err
}

// Complete records the lifecycle transition of phase without any effect.
// Synchronizers whose artefacts only live in the store use it as is.
func (b *Base[A]) Complete(ctx context.Context, a A, phase artefact.Phase) (bool, error) {
	return b.Transition(ctx, a, phase, nil)
}

// Transition runs the lifecycle state machine for phase around effect:
//
//   - CREATE: save as NEW, apply, then CREATED
//   - UPDATE: save as MODIFIED, apply, then UPDATED
//   - DELETE: apply, report DELETED, then remove the row
//
// No pass computes START or STOP; they are rejected.
//
// A failing effect marks the artefact FAILED with the error message and
// reports it to the callback. A nil effect always succeeds.
func (b *Base[A]) Transition(ctx context.Context, a A, phase artefact.Phase, effect Effect[A]) (bool, error) {
	apply := func() (bool, error) {
		if effect == nil {
			return true, nil
		}
		return effect(ctx, a, phase)
	}

	switch phase {
	case artefact.PhaseCreate, artefact.PhaseUpdate:
		pending, _ := phase.Pending()
		if err := b.Save(ctx, a, pending, ""); err != nil {
			return false, b.fail(ctx, a, phase, err)
		}
		done, err := apply()
		if err != nil {
			return false, b.fail(ctx, a, phase, err)
		}
		if !done {
			return false, nil
		}
		terminal, _ := phase.Terminal()
		return true, b.SetStatus(ctx, a, terminal, "")

	case artefact.PhaseDelete:
		done, err := apply()
		if err != nil {
			return false, b.fail(ctx, a, phase, err)
		}
		if !done {
			return false, nil
		}
		meta := a.Meta()
		b.Callback().RegisterState(b.cfg.Name, *meta, artefact.LifecycleDeleted, "")
		if err := b.db.Delete(ctx, meta.Key); err != nil {
			perr := &PersistenceError{Op: "delete", Location: meta.Location, Err: err}
			b.Callback().AddError(perr.Error())
			return false, perr
		}
		meta.Lifecycle = artefact.LifecycleDeleted
		return true, nil
	}
	return false, fmt.Errorf("unsupported phase %q", phase)
}

// Fail marks a FAILED with err's message and reports the error.
// Returns err so callers can write `return false, b.Fail(...)`.
func (b *Base[A]) Fail(ctx context.Context, a A, phase artefact.Phase, err error) error {
	return b.fail(ctx, a, phase, err)
}

func (b *Base[A]) fail(ctx context.Context, a A, phase artefact.Phase, err error) error {
	meta := a.Meta()
	msg := err.Error()
	b.Callback().AddError(fmt.Sprintf("%s: %s %s: %s", b.cfg.Name, phase, meta.Location, msg))
	if serr := b.SetStatus(ctx, a, artefact.LifecycleFailed, msg); serr != nil {
		return errors.Join(err, serr)
	}
	return err
}

// Cleanup removes the row of an artefact whose declaration disappeared.
// Failures are reported to the callback and returned.
func (b *Base[A]) Cleanup(ctx context.Context, a A) error {
	meta := a.Meta()
	if err := b.db.Delete(ctx, meta.Key); err != nil {
		perr := &PersistenceError{Op: "delete", Location: meta.Location, Err: err}
		b.Callback().AddError(perr.Error())
		return perr
	}
	meta.Lifecycle = artefact.LifecycleDeleted
	b.Callback().RegisterState(b.cfg.Name, *meta, artefact.LifecycleDeleted, "")
	return nil
}

// splitEntries returns the raw entries of a declaration file and whether
// the file held an array.
func splitEntries(content []byte) ([]json.RawMessage, bool, error) {
	trimmed := bytes.TrimSpace(content)
	if len(trimmed) == 0 {
		return nil, false, errors.New("empty declaration")
	}
	if trimmed[0] != '[' {
		return []json.RawMessage{trimmed}, false, nil
	}

	var entries []json.RawMessage
	if err := json.Unmarshal(trimmed, &entries); err != nil {
		return nil, false, err
	}
	if len(entries) == 0 {
		return nil, false, errors.New("empty declaration array")
	}
	return entries, true, nil
}

func entryID(v any, index int) string {
	if id, ok := v.(Identifier); ok && id.Identity() != "" {
		return id.Identity()
	}
	return strconv.Itoa(index)
}

func entryErr(multi bool, index int, err error) error {
	if !multi {
		return err
	}
	return fmt.Errorf("entry %d: %w", index, err)
}
