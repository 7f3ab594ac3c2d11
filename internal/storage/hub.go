package storage

import (
	"context"
	"sync"
)

const watchBuffer = 8

// changeHub fans one stream of key changes out to every watcher of that key.
// Stores feed it from a single backend subscription, so the number of
// watchers never decides how many backend connections are held.
type changeHub struct {
	mu     sync.Mutex
	subs   map[string][]chan []byte
	done   chan struct{}
	closed bool
}

func newChangeHub() *changeHub {
	return &changeHub{
		subs: make(map[string][]chan []byte),
		done: make(chan struct{}),
	}
}

// subscribe registers a watcher for key until ctx is done or the hub closes.
func (h *changeHub) subscribe(ctx context.Context, key string) (<-chan []byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, ErrUnavailable
	}

	ch := make(chan []byte, watchBuffer)
	h.subs[key] = append(h.subs[key], ch)

	go func() {
		select {
		case <-ctx.Done():
		case <-h.done:
		}
		h.unsubscribe(key, ch)
	}()

	return ch, nil
}

func (h *changeHub) unsubscribe(key string, ch chan []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()

	chans := h.subs[key]
	for i, c := range chans {
		if c == ch {
			h.subs[key] = append(chans[:i], chans[i+1:]...)
			close(ch)
			break
		}
	}
	if len(h.subs[key]) == 0 {
		delete(h.subs, key)
	}
}

// watching reports whether anyone follows key, so feeds can skip the value
// read for keys nobody holds.
func (h *changeHub) watching(key string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[key]) > 0
}

func (h *changeHub) watchers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, chans := range h.subs {
		n += len(chans)
	}
	return n
}

func (h *changeHub) publish(key string, value []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, ch := range h.subs[key] {
		select {
		case ch <- append([]byte(nil), value...):
		default:
			// slow watcher; it will observe a later write
		}
	}
}

// close ends every subscription. It is safe to call more than once.
func (h *changeHub) close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true
	close(h.done)
	for key, chans := range h.subs {
		for _, ch := range chans {
			close(ch)
		}
		delete(h.subs, key)
	}
}
