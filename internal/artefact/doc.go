// Package artefact defines the lifecycle model shared by every synchronizer.
//
// An artefact is a declared unit of configuration (an extension point, a
// migration, a table definition, ...) that has been persisted by a
// synchronizer. The reconciliation engine only reads and writes the
// Lifecycle and Error fields; everything else is payload owned by the
// concrete artefact type.
//
// # Identity
//
//   - Key: SHA-256 over (type, NFC(location)) with domain separation.
//     Stable for as long as the declaration file does not move.
//   - Checksum: SHA-256 over the canonical JSON of the declaration.
//     Changes whenever the content changes, independent of key order
//     or whitespace.
//
// Edits are detected by checksum, never by key.
package artefact
