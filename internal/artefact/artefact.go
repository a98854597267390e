package artefact

import "time"

// Artefact is the metadata record every synchronized artefact carries.
// Concrete artefact types embed it and add their payload fields.
type Artefact struct {
	ID        int64     `json:"-"`
	Type      string    `json:"-"`
	Location  string    `json:"-"`
	Key       string    `json:"-"`
	Checksum  string    `json:"-"`
	Lifecycle Lifecycle `json:"-"`
	Error     string    `json:"-"`
	CreatedAt time.Time `json:"-"`
	UpdatedAt time.Time `json:"-"`

	// persisted is the checksum of the stored row, set by Adopt.
	persisted string
}

// Value is implemented by every type a synchronizer reconciles.
// Embedding Artefact satisfies it through the promoted Meta method.
type Value interface {
	Meta() *Artefact
}

// Meta returns the artefact metadata record.
func (a *Artefact) Meta() *Artefact {
	return a
}

// Identify fills in type, location, key and checksum for a freshly parsed
// declaration. Parts are passed through to Key.
func (a *Artefact) Identify(typ, location string, content []byte, parts ...string) error {
	sum, err := Checksum(content)
	if err != nil {
		return err
	}
	a.Type = typ
	a.Location = location
	a.Key = Key(typ, location, parts...)
	a.Checksum = sum
	return nil
}

// Adopt copies persisted identity onto a parsed value so that saving it
// updates the existing row rather than inserting a duplicate.
func (a *Artefact) Adopt(persisted *Artefact) {
	if persisted == nil {
		return
	}
	a.ID = persisted.ID
	a.persisted = persisted.Checksum
	a.Lifecycle = persisted.Lifecycle
	a.Error = persisted.Error
	a.CreatedAt = persisted.CreatedAt
	a.UpdatedAt = persisted.UpdatedAt
}

// Stored reports whether the artefact has a persisted row.
func (a *Artefact) Stored() bool {
	return a.ID != 0
}

// Phase decides which phase a pass applies to a parsed declaration that
// has adopted its persisted row (if any). See PhaseFor.
func (a *Artefact) Phase() (Phase, bool) {
	if !a.Stored() {
		return PhaseFor(nil, a.Checksum)
	}
	return PhaseFor(&Artefact{ID: a.ID, Lifecycle: a.Lifecycle, Checksum: a.persisted}, a.Checksum)
}
