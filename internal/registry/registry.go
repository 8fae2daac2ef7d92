// Package registry maps stable job type keys to executor callbacks.
//
// Feature modules register their callbacks once during process start-up,
// before the engine begins firing. The registry itself has no side effects.
package registry

import (
	"context"
	"sort"
	"sync"

	logx "jobd/pkg/logx"
)

// Body performs the actual work of one job run.
//
// The returned detail string, when non-empty, is appended to the execution's
// result message. A non-nil error marks the execution FAILED; the engine
// never propagates it further.
type Body func(ctx context.Context) (detail string, err error)

// Registry is a thread-safe key -> callback map.
//
// Registration is last-wins: re-registering a key replaces the previous
// callback. That is intentional override semantics (config reloads re-register
// built-in executors under the same key), but collisions are logged so an
// accidental replacement is visible.
type Registry struct {
	mu     sync.RWMutex
	bodies map[string]Body

	log logx.Logger
}

func New(log logx.Logger) *Registry {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Registry{bodies: map[string]Body{}, log: log}
}

// Register binds key to body. Registering a nil body removes the key.
func (r *Registry) Register(key string, body Body) {
	if key == "" {
		return
	}
	r.mu.Lock()
	_, replaced := r.bodies[key]
	if body == nil {
		delete(r.bodies, key)
	} else {
		r.bodies[key] = body
	}
	r.mu.Unlock()

	if replaced && body != nil {
		r.log.Warn("executor replaced", logx.String("key", key))
	} else if body != nil {
		r.log.Debug("executor registered", logx.String("key", key))
	}
}

// Lookup returns the callback bound to key, if any.
func (r *Registry) Lookup(key string) (Body, bool) {
	r.mu.RLock()
	b, ok := r.bodies[key]
	r.mu.RUnlock()
	return b, ok
}

// Keys returns all registered keys, sorted.
func (r *Registry) Keys() []string {
	r.mu.RLock()
	out := make([]string, 0, len(r.bodies))
	for k := range r.bodies {
		out = append(out, k)
	}
	r.mu.RUnlock()
	sort.Strings(out)
	return out
}
