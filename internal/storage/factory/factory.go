// Package factory creates storage engines by name, the same pluggable
// registration pattern the teacher corpus uses for its own storage
// backends (sqlite always available, dolt gated behind a build
// constraint): MiniSQL gates Sandstone behind an explicit "enabled set"
// so ALTER TABLE ... ENGINE=SANDSTONE can be made to fail with
// "not enabled" without actually building two binaries (spec.md §4.1).
package factory

import (
	"fmt"
	"strings"

	"github.com/minisql/minisql/internal/storage"
	"github.com/minisql/minisql/internal/storage/granite"
	"github.com/minisql/minisql/internal/storage/sandstone"
)

// EngineFactory constructs a storage.Engine rooted at dataDir.
type EngineFactory func(dataDir string) (storage.Engine, error)

var registry = map[string]EngineFactory{
	strings.ToLower(granite.EngineName): func(dataDir string) (storage.Engine, error) {
		return granite.Open(dataDir)
	},
	strings.ToLower(sandstone.EngineName): func(dataDir string) (storage.Engine, error) {
		return sandstone.Open(dataDir)
	},
}

// Set is the collection of opened engines a server instance holds, one
// per enabled engine name.
type Set struct {
	dataDir string
	enabled map[string]bool
	engines map[string]storage.Engine
}

// New opens every engine named in enabledNames (case-insensitive).
// Granite is always included even if the caller omits it, since it is
// the default engine spec.md §4.2 requires to always be present.
func New(dataDir string, enabledNames []string) (*Set, error) {
	enabled := map[string]bool{strings.ToLower(granite.EngineName): true}
	for _, n := range enabledNames {
		enabled[strings.ToLower(n)] = true
	}
	s := &Set{dataDir: dataDir, enabled: enabled, engines: make(map[string]storage.Engine)}
	for name := range enabled {
		factory, ok := registry[name]
		if !ok {
			return nil, fmt.Errorf("factory: unknown engine type %q", name)
		}
		eng, err := factory(dataDir)
		if err != nil {
			return nil, fmt.Errorf("factory: open engine %q: %w", name, err)
		}
		s.engines[name] = eng
	}
	return s, nil
}

// Get returns the engine registered under name (case-insensitive),
// erroring with "not enabled" (spec.md §4.1 ALTER TABLE requirement) if
// it exists in the registry but wasn't opened for this server, or
// "Unknown engine type" (spec.md §8 boundary behavior) if the name isn't
// a known engine at all.
func (s *Set) Get(name string) (storage.Engine, error) {
	lower := strings.ToLower(name)
	if _, known := registry[lower]; !known {
		return nil, fmt.Errorf("Unknown engine type %q", name)
	}
	eng, ok := s.engines[lower]
	if !ok {
		return nil, fmt.Errorf("engine %q not enabled", name)
	}
	return eng, nil
}

// IsKnown reports whether name names any registered engine type,
// enabled or not.
func IsKnown(name string) bool {
	_, ok := registry[strings.ToLower(name)]
	return ok
}

// All returns every opened engine, for recovery/close-everything paths.
func (s *Set) All() map[string]storage.Engine { return s.engines }

// Close closes every opened engine.
func (s *Set) Close() error {
	var first error
	for _, eng := range s.engines {
		if err := eng.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
