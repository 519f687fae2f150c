// Package memory provides persistent, project-scoped storage of mutable
// knowledge documents learned by task executors across invocations.
//
// Records are addressed by (scope, executor, project, fileType). The
// skill-specific scope isolates one executor's knowledge per project;
// the shared-project scope is visible to every executor working on the
// same project. Content is opaque structured text owned entirely by the
// executor; the store never interprets it.
//
// Two write disciplines exist: Update replaces a current-state document
// wholesale with last-writer-wins semantics, and Append adds a
// timestamped entry to a history document with strictly serialized
// per-key ordering. Records are never hard-deleted here; compaction is
// an explicit lifecycle action.
//
// Supported backends:
// - Memory: for development and testing (default)
// - File: for single-node production deployments
// - Redis: for shared-cache deployments
// - Database: gorm-backed (sqlite, postgres, mysql)
package memory
