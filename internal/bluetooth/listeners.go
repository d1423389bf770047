package bluetooth

import "sync"

// Listeners is a fan-out registry of Handlers. Platform implementations
// embed one and call Emit from their notification goroutine.
//
// The zero value is ready to use.
type Listeners struct {
	mu   sync.RWMutex
	next uint64
	subs map[uint64]listener
}

type listener struct {
	handler Handler
	kinds   map[EventKind]bool
}

func (l listener) wants(k EventKind) bool {
	return len(l.kinds) == 0 || l.kinds[k]
}

// Add registers h for kinds (all kinds when empty).
func (ls *Listeners) Add(h Handler, kinds ...EventKind) Subscription {
	var set map[EventKind]bool
	if len(kinds) > 0 {
		set = make(map[EventKind]bool, len(kinds))
		for _, k := range kinds {
			set[k] = true
		}
	}

	ls.mu.Lock()
	defer ls.mu.Unlock()
	if ls.subs == nil {
		ls.subs = make(map[uint64]listener)
	}
	ls.next++
	id := ls.next
	ls.subs[id] = listener{handler: h, kinds: set}

	return &subscription{remove: func() {
		ls.mu.Lock()
		delete(ls.subs, id)
		ls.mu.Unlock()
	}}
}

// Emit delivers e to every matching handler. Handlers are called outside
// the registry lock, so a handler may unsubscribe itself or others.
func (ls *Listeners) Emit(e Event) {
	ls.mu.RLock()
	targets := make([]Handler, 0, len(ls.subs))
	for _, l := range ls.subs {
		if l.wants(e.Kind) {
			targets = append(targets, l.handler)
		}
	}
	ls.mu.RUnlock()

	for _, h := range targets {
		h(e)
	}
}

// Len returns the number of registered handlers.
func (ls *Listeners) Len() int {
	ls.mu.RLock()
	defer ls.mu.RUnlock()
	return len(ls.subs)
}

type subscription struct {
	once   sync.Once
	remove func()
}

func (s *subscription) Unsubscribe() {
	s.once.Do(s.remove)
}
