package fsm

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// ErrConfigNotFound is returned when no machine definition is registered
// under the requested key.
var ErrConfigNotFound = errors.New("machine config not found")

type entry struct {
	def  MachineDef
	opts Options
}

// Registry holds machine definitions by key and spawns instances from them.
// It is injected wherever machines are needed; there is no package-level
// registry.
type Registry struct {
	log *slog.Logger

	mu      sync.RWMutex
	entries map[string]entry
}

func NewRegistry(log *slog.Logger) *Registry {
	return &Registry{log: log, entries: map[string]entry{}}
}

// SetConfig registers or replaces the definition stored under key.
func (r *Registry) SetConfig(key string, def MachineDef, opts Options) error {
	if def.Initial == "" {
		return fmt.Errorf("machine %s: no initial state", key)
	}
	if _, ok := def.States[def.Initial]; !ok {
		return fmt.Errorf("machine %s: initial state %q not defined", key, def.Initial)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[key] = entry{def: def, opts: opts}
	return nil
}

// NewInstance spawns an actor from the definition under key. Values in mc
// override the definition's default context; the default itself is never
// mutated.
func (r *Registry) NewInstance(key string, mc Context) (*Actor, error) {
	r.mu.RLock()
	e, ok := r.entries[key]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrConfigNotFound, key)
	}

	merged := e.def.Context.clone()
	for k, v := range mc {
		merged[k] = v
	}

	actor := newActor(e.def, e.opts, merged, r.log)
	actor.Subscribe(func(state string, _ Context) {
		r.log.Debug("machine state", "machine", e.def.ID, "key", key, "state", state)
	})
	return actor, nil
}
