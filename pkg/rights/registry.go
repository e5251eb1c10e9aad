package rights

import (
	"errors"
	"fmt"
	"sync"

	"github.com/meridianerp/entitlements/pkg/observability"
)

var (
	// ErrUnknownRight signals a lookup for a right that was never registered.
	// This is a configuration error at the call site, distinct from a right
	// merely being unavailable for a given user.
	ErrUnknownRight = errors.New("unknown right")

	// ErrDuplicateRight signals a second registration of the same right id.
	// Only returned when the registry runs in strict mode.
	ErrDuplicateRight = errors.New("duplicate right registration")

	// ErrDependencyCycle signals a dependsOn chain that loops back on itself.
	ErrDependencyCycle = errors.New("right dependency cycle")
)

// Registry is the catalog of all right definitions. It is populated at
// startup and immutable afterwards; lookups are safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	byID    map[ID]Definition
	ordered []Definition
	strict  bool
	log     *observability.Logger
}

// NewRegistry creates an empty registry. In strict mode a duplicate
// registration is an error; otherwise it is logged and the later definition
// wins the lookup table.
func NewRegistry(strict bool, log *observability.Logger) *Registry {
	if log == nil {
		log = observability.NopLogger()
	}
	return &Registry{
		byID:   make(map[ID]Definition),
		strict: strict,
		log:    log,
	}
}

// Register adds a definition to the catalog. A dependsOn cycle is a fatal
// configuration error. Registration order is preserved for display.
func (r *Registry) Register(def Definition) error {
	if def == nil {
		return errors.New("nil right definition")
	}
	if err := checkChain(def); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byID[def.ID()]; exists {
		if r.strict {
			return fmt.Errorf("%w: %s", ErrDuplicateRight, def.ID())
		}
		// Last write wins the lookup table; the earlier display slot keeps
		// its position.
		r.log.WithField("right", def.ID().String()).Error("duplicate right registration, overwriting previous definition")
		r.byID[def.ID()] = def
		for i, existing := range r.ordered {
			if existing.ID() == def.ID() {
				r.ordered[i] = def
				break
			}
		}
		return nil
	}

	r.byID[def.ID()] = def
	r.ordered = append(r.ordered, def)
	return nil
}

// MustRegister panics on a registration error. Intended for startup wiring
// where a bad catalog must abort the process.
func (r *Registry) MustRegister(def Definition) {
	if err := r.Register(def); err != nil {
		panic(err)
	}
}

// Get looks up a definition by id. An unknown id is a configuration error.
func (r *Registry) Get(id ID) (Definition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownRight, id)
	}
	return def, nil
}

// GetByString looks up a definition by its raw string id.
func (r *Registry) GetByString(s string) (Definition, error) {
	return r.Get(ID(s))
}

// Has reports whether the id is registered without raising an error.
func (r *Registry) Has(id ID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byID[id]
	return ok
}

// Ordered returns all definitions in registration order.
func (r *Registry) Ordered() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Definition(nil), r.ordered...)
}

// Len returns the number of registered definitions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// checkChain validates the dependsOn chain of def, rejecting cycles.
func checkChain(def Definition) error {
	seen := map[ID]struct{}{}
	for cur := def; cur != nil; cur = cur.DependsOn() {
		if _, dup := seen[cur.ID()]; dup {
			return fmt.Errorf("%w: detected at %s", ErrDependencyCycle, cur.ID())
		}
		seen[cur.ID()] = struct{}{}
	}
	return nil
}
