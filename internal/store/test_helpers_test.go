package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/roach88/converge/internal/artefact"
	"github.com/roach88/converge/internal/testutil"
)

// createTestStore creates a new store in a temporary directory for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// fixedClock returns a clock that advances one second per call.
func fixedClock(start time.Time) func() time.Time {
	return testutil.NewClock(start, time.Second).Now
}

// createTestRecord creates a NEW record with minimal required fields.
func createTestRecord(typ, location string) *Record {
	return &Record{
		Artefact: artefact.Artefact{
			Type:      typ,
			Location:  location,
			Key:       artefact.Key(typ, location),
			Checksum:  "sum-" + location,
			Lifecycle: artefact.LifecycleNew,
		},
		Payload: []byte(`{"name":"x"}`),
	}
}
