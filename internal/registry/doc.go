// Package registry provides the sources of declaration files.
//
// Two sources exist:
//   - Tree: the registry directory developers (and the publisher) write
//     declaration files into, walked on every pass
//   - Predelivered: declarations bundled with the binary, registered once
//     at startup and held in memory
//
// Both report files by location: the slash-separated path relative to the
// source root with a leading "/", e.g. "/billing/orders.table".
//
// A Watcher turns changes under the registry directory into debounced
// notifications that trigger a synchronization.
package registry
