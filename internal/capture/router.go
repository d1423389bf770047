package capture

import "sync"

// ScanFunc handles one scanned payload.
type ScanFunc func(data string)

// Router delivers each scan to exactly one listener: the registered
// listener whose kind comes first in the priority list. Listeners whose
// kind is not in the list never receive scans.
//
// Registering a kind that already has a listener replaces it.
type Router struct {
	mu         sync.RWMutex
	priorities []string
	listeners  map[string]routeEntry
	nextID     uint64
}

type routeEntry struct {
	id uint64
	fn ScanFunc
}

// NewRouter creates a router with the given kind priorities, highest
// first.
func NewRouter(priorities ...string) *Router {
	return &Router{
		priorities: append([]string(nil), priorities...),
		listeners:  make(map[string]routeEntry),
	}
}

// SetPriorities replaces the priority list.
func (r *Router) SetPriorities(priorities ...string) {
	r.mu.Lock()
	r.priorities = append([]string(nil), priorities...)
	r.mu.Unlock()
}

// Priorities returns a copy of the priority list.
func (r *Router) Priorities() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.priorities...)
}

// Register installs fn as the listener for kind. The returned function
// removes it; calling it after the kind has been re-registered leaves the
// newer listener in place.
func (r *Router) Register(kind string, fn ScanFunc) (unregister func()) {
	r.mu.Lock()
	r.nextID++
	id := r.nextID
	r.listeners[kind] = routeEntry{id: id, fn: fn}
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			if cur, ok := r.listeners[kind]; ok && cur.id == id {
				delete(r.listeners, kind)
			}
			r.mu.Unlock()
		})
	}
}

// Dispatch hands data to the highest-priority registered listener and
// reports which kind received it. handled is false when no listener
// matched.
func (r *Router) Dispatch(data string) (kind string, handled bool) {
	r.mu.RLock()
	var target ScanFunc
	for _, k := range r.priorities {
		if e, ok := r.listeners[k]; ok {
			kind, target = k, e.fn
			break
		}
	}
	r.mu.RUnlock()

	if target == nil {
		return "", false
	}
	target(data)
	return kind, true
}
