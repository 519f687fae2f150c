// Package metrics provides prometheus instrumentation for context
// resolution, memory store operations, lifecycle maintenance and
// orchestrated sessions. Metrics are registered via promauto under a
// caller-supplied namespace.
//
// This package is internal and should not be imported by external
// projects.
package metrics
