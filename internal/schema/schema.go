// Package schema validates declaration files against CUE definitions.
//
// Declarations are JSON, which is valid CUE, so each file is compiled and
// unified with its closed definition. Missing required fields, wrong types
// and unknown fields are all reported before a declaration is decoded.
package schema

import (
	_ "embed"
	"fmt"
	"strings"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
)

//go:embed declarations.cue
var declarationsCUE string

// Definition names, one per declaration type.
const (
	ExtensionPoint = "#ExtensionPoint"
	Extension      = "#Extension"
	Migration      = "#Migration"
	Table          = "#Table"
	Publish        = "#Publish"
)

// ValidationError describes the first violation found in a declaration.
type ValidationError struct {
	Definition string
	Message    string
	Pos        token.Pos
}

func (e *ValidationError) Error() string {
	if e.Pos.IsValid() && e.Pos.Line() > 0 {
		return fmt.Sprintf("%s:%d:%d: %s", e.Definition, e.Pos.Line(), e.Pos.Column(), e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Definition, e.Message)
}

// Validator checks declarations against the embedded definitions.
//
// Thread-safety: Validate may be called from any goroutine; access to the
// CUE context is serialised.
type Validator struct {
	mu     sync.Mutex
	ctx    *cue.Context
	schema cue.Value
}

// New compiles the embedded definitions.
func New() (*Validator, error) {
	ctx := cuecontext.New()
	schema := ctx.CompileString(declarationsCUE, cue.Filename("declarations.cue"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("compile declaration schema: %w", err)
	}
	return &Validator{ctx: ctx, schema: schema}, nil
}

// Must is like New but panics on error. The definitions are embedded, so
// an error is a build defect.
func Must() *Validator {
	v, err := New()
	if err != nil {
		panic(err)
	}
	return v
}

// Validate checks content against the named definition.
func (v *Validator) Validate(definition string, content []byte) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	def := v.schema.LookupPath(cue.ParsePath(definition))
	if !def.Exists() {
		return fmt.Errorf("unknown definition %s", definition)
	}

	data := v.ctx.CompileBytes(content, cue.Filename(definition))
	if err := data.Err(); err != nil {
		return toValidationError(definition, err)
	}

	unified := def.Unify(data)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return toValidationError(definition, err)
	}
	return nil
}

// For returns a validation function bound to one definition, suitable for
// synchronizer.Config.Validate.
func (v *Validator) For(definition string) func(content []byte) error {
	return func(content []byte) error {
		return v.Validate(definition, content)
	}
}

// toValidationError extracts the first message and position from CUE errors.
func toValidationError(definition string, err error) error {
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return &ValidationError{Definition: definition, Message: err.Error()}
	}

	first := errs[0]
	format, args := first.Msg()
	ve := &ValidationError{
		Definition: definition,
		Message:    fmt.Sprintf(format, args...),
	}
	if path := first.Path(); len(path) > 0 {
		ve.Message = fmt.Sprintf("%s: %s", strings.Join(path, "."), ve.Message)
	}
	if positions := errors.Positions(first); len(positions) > 0 {
		ve.Pos = positions[0]
	}
	return ve
}
