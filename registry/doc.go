// Package registry maintains the per-domain catalog of context artifacts.
//
// A domain is a named knowledge category (for example "python" or
// "security"). Every domain carries exactly one index artifact that
// enumerates the other artifacts in the domain. The registry stores
// selection metadata only; artifact bodies are opaque to it and are
// never interpreted here.
//
// Artifacts are authored as markdown files with YAML frontmatter and
// loaded through DirectoryLoader, or registered programmatically for
// tests and embedded use.
package registry
