// Package types provides the shared data structures of the virtual browsing runtime.
//
// These types cross every boundary in the system: the payload decoder produces
// them, the host controller owns them, and the cross-context protocol copies them
// into sandboxes.
//
// Core Types:
//   - FileRecord: one file of the bundled site (text or base64 payload)
//   - FileTree: normalized path -> FileRecord mapping
//   - NavigationState: the simulated location of the displayed page
//   - SharedContext: the read-only snapshot handed to a sandbox
//   - Payload: the decoded bundle (initial path, tree, utility scripts)
//
// Errors:
//   - ErrResourceNotFound: a reference names no record in the tree
//   - ErrEmbedFailure: a single element could not be rewritten
//   - ErrProtocolMismatch: a message arrived that nobody expects
package types
