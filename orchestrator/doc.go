// Package orchestrator sequences one executor invocation as a state
// machine: memory load, context resolution, executor run, memory
// write-back. Memory is always loaded before context is resolved, so
// signals recorded by earlier invocations can steer conditional and
// cross-domain selection.
//
// Failures degrade instead of aborting: an unreachable store or an
// unresolvable domain moves the session through ERROR into the next
// phase with an empty result and a recorded warning. The single hard
// failure path is the final memory write, which is retried once and
// then surfaced to the caller.
package orchestrator
