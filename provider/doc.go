// Package provider resolves the working set of context artifacts for a
// single executor invocation.
//
// Resolution runs in a fixed admission order: always-load floor,
// conditional context, cross-domain context. The file budget is a hard
// ceiling on artifact count with one exception: always-load artifacts
// are a floor that is never dropped, even when the floor alone exceeds
// the budget. All selection functions are pure with respect to the
// registry snapshot, the detection signals and the remaining budget, so
// the same inputs always yield the same working set.
package provider
