package identity

import (
	"slices"
	"sync"
)

type notifier struct {
	mu        sync.Mutex
	next      int
	listeners map[int]Listener
}

func newNotifier() *notifier {
	return &notifier{listeners: make(map[int]Listener)}
}

func (n *notifier) subscribe(fn Listener) func() {
	n.mu.Lock()
	id := n.next
	n.next++
	n.listeners[id] = fn
	n.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			n.mu.Lock()
			delete(n.listeners, id)
			n.mu.Unlock()
		})
	}
}

// emit calls every listener in subscription order. The lock is released
// first so listeners may unsubscribe.
func (n *notifier) emit(event Event, session *Session) {
	n.mu.Lock()
	ids := make([]int, 0, len(n.listeners))
	for id := range n.listeners {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	fns := make([]Listener, 0, len(ids))
	for _, id := range ids {
		fns = append(fns, n.listeners[id])
	}
	n.mu.Unlock()

	for _, fn := range fns {
		fn(event, session)
	}
}

func (n *notifier) len() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.listeners)
}
