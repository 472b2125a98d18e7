package server

import "sync"

// notifier fans reload revisions out to playground listeners. Each
// listener holds at most one pending revision; a newer one replaces it.
type notifier struct {
	mu        sync.Mutex
	listeners map[chan uint64]struct{}
}

func newNotifier() *notifier {
	return &notifier{listeners: make(map[chan uint64]struct{})}
}

// subscribe returns a channel receiving revisions. Callers must
// unsubscribe when done.
func (n *notifier) subscribe() chan uint64 {
	ch := make(chan uint64, 1)
	n.mu.Lock()
	n.listeners[ch] = struct{}{}
	n.mu.Unlock()
	return ch
}

func (n *notifier) unsubscribe(ch chan uint64) {
	n.mu.Lock()
	delete(n.listeners, ch)
	n.mu.Unlock()
	close(ch)
}

func (n *notifier) broadcast(rev uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()

	for ch := range n.listeners {
		select {
		case <-ch:
		default:
		}
		ch <- rev
	}
}

func (n *notifier) len() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.listeners)
}
