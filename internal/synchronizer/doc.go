// Package synchronizer implements the reconciliation engine that converges
// persisted artefacts to the declarations found in the registry.
//
// # Architecture
//
// A Synchronizer knows one artefact type: which files it accepts, how to
// parse them and how to apply each phase. A Driver runs passes for one
// synchronizer:
//
//  1. Acquire the synchronizer's lock
//  2. Start a fresh pass (new seen set)
//  3. Reconcile predelivered declarations
//  4. Reconcile declarations walked from the registry tree
//  5. Complete pending phases in rounds, in the synchronizer's order
//  6. Post-process the artefacts seen in the pass
//  7. Clean up persisted artefacts that were not seen
//  8. Record the pass result in the state store and the callback
//  9. Release the lock
//
// A Runner holds every driver and runs them in priority order, so that a
// synchronizer declaring a dependency (see Dependent) runs after, and is
// gated on, the synchronizers it depends on.
//
// # Lifecycle
//
// Each artefact moves through NEW → CREATED, MODIFIED → UPDATED, FAILED and
// DELETED as described in package artefact. Base implements the state
// machine so concrete synchronizers only supply the effect of a phase.
//
// # Idempotence
//
// A pass over unchanged declarations and unchanged rows performs no
// transitions. Adding, editing or removing one declaration causes exactly
// one CREATE, UPDATE or DELETE.
//
// # Thread Safety
//
// Passes of one driver never overlap. Different drivers may run
// concurrently. Callbacks must be safe for concurrent use.
package synchronizer
