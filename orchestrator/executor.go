package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/forgeworks/forgectx/memory"
	"github.com/forgeworks/forgectx/provider"
)

// signalsFileType is the shared record whose lines feed detection:
// each non-empty, non-marker line is one keyword recalled on the next
// invocation.
const signalsFileType = "detection_signals"

// MemorySnapshot is the read-only memory view handed to an executor.
type MemorySnapshot struct {
	records map[string]*memory.Record
}

func emptySnapshot() *MemorySnapshot {
	return &MemorySnapshot{records: make(map[string]*memory.Record)}
}

func (s *MemorySnapshot) put(rec *memory.Record) {
	s.records[rec.Key.String()] = rec
}

// Get returns the record loaded for key, if any.
func (s *MemorySnapshot) Get(key memory.Key) (*memory.Record, bool) {
	rec, ok := s.records[key.String()]
	return rec, ok
}

// Len reports how many records were loaded.
func (s *MemorySnapshot) Len() int { return len(s.records) }

// Records returns the loaded records in stable key order.
func (s *MemorySnapshot) Records() []*memory.Record {
	out := make([]*memory.Record, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Key.String() < out[j].Key.String()
	})
	return out
}

// Signals extracts detection keywords recorded by earlier invocations:
// one keyword per line of any loaded detection_signals record, entry
// markers and blanks skipped.
func (s *MemorySnapshot) Signals() provider.DetectionSignals {
	var keywords []string
	for _, rec := range s.Records() {
		if rec.Key.FileType != signalsFileType {
			continue
		}
		for _, line := range strings.Split(rec.Content, "\n") {
			line = strings.TrimSpace(line)
			if line == "" || strings.HasPrefix(line, "<!--") {
				continue
			}
			keywords = append(keywords, line)
		}
	}
	return provider.DetectionSignals{Keywords: keywords}
}

// Op selects how an executor update is applied.
type Op string

const (
	// OpUpdate replaces the record content wholesale.
	OpUpdate Op = "update"
	// OpAppend adds one timestamped entry.
	OpAppend Op = "append"
)

// Update is one memory mutation an executor hands back after its run.
type Update struct {
	Key     memory.Key
	Op      Op
	Content string       // OpUpdate
	Entry   memory.Entry // OpAppend
}

// Executor is the external collaborator that performs the task. It
// receives the loaded memory and the resolved working set, and returns
// the knowledge it learned. Its internals are out of scope here.
type Executor interface {
	Execute(ctx context.Context, mem *MemorySnapshot, workingSet []provider.Selection) ([]Update, error)
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, mem *MemorySnapshot, workingSet []provider.Selection) ([]Update, error)

func (f ExecutorFunc) Execute(ctx context.Context, mem *MemorySnapshot, workingSet []provider.Selection) ([]Update, error) {
	return f(ctx, mem, workingSet)
}

// MemoryScope declares one scope an executor profile reads at load time.
type MemoryScope struct {
	Scope     memory.Scope `json:"scope" yaml:"scope"`
	FileTypes []string     `json:"file_types" yaml:"file_types"`
}

// ExecutorProfile is the read-only configuration of one executor. It is
// owned by the external collaborator and never mutated here.
type ExecutorProfile struct {
	Name              string        `json:"name" yaml:"name"`
	PrimaryDomain     string        `json:"primary_domain" yaml:"primary_domain"`
	AlwaysLoadFiles   []string      `json:"always_load_files" yaml:"always_load_files"`
	DetectionRequired bool          `json:"detection_required" yaml:"detection_required"`
	FileBudget        int           `json:"file_budget" yaml:"file_budget"`
	MemoryScopes      []MemoryScope `json:"memory_scopes" yaml:"memory_scopes"`
}

// Validate checks the profile's structural requirements.
func (p ExecutorProfile) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("executor profile: missing name")
	}
	if p.PrimaryDomain == "" {
		return fmt.Errorf("executor profile %s: missing primary domain", p.Name)
	}
	if p.FileBudget < 0 {
		return fmt.Errorf("executor profile %s: negative file budget %d", p.Name, p.FileBudget)
	}
	for _, scope := range p.MemoryScopes {
		if scope.Scope != memory.ScopeSkillSpecific && scope.Scope != memory.ScopeSharedProject {
			return fmt.Errorf("executor profile %s: unknown memory scope %q", p.Name, scope.Scope)
		}
	}
	return nil
}
