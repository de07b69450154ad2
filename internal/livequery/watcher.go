package livequery

import (
	"context"
	"sync"

	"github.com/vovakirdan/roomfeed/internal/feed"
)

// watcher is one subscription. Pending snapshots are coalesced: a slow
// subscriber only ever receives the newest one.
type watcher struct {
	hub     *Hub
	room    feed.Room
	deliver func(feed.Batch)

	mu      sync.Mutex
	pending *feed.Batch
	wake    chan struct{}
	done    chan struct{}

	deliverMu sync.Mutex
	closed    bool
	once      sync.Once
}

func newWatcher(h *Hub, room feed.Room, deliver func(feed.Batch)) *watcher {
	return &watcher{
		hub:     h,
		room:    room,
		deliver: deliver,
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
}

func (w *watcher) offer(b feed.Batch) {
	w.mu.Lock()
	w.pending = &b
	w.mu.Unlock()

	select {
	case w.wake <- struct{}{}:
	default:
	}
}

func (w *watcher) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			w.deliverMu.Lock()
			if !w.closed {
				w.deliver(feed.Batch{Room: w.room, Err: ctx.Err()})
			}
			w.deliverMu.Unlock()
			_ = w.Close()
			return
		case <-w.done:
			return
		case <-w.wake:
			w.mu.Lock()
			b := w.pending
			w.pending = nil
			w.mu.Unlock()
			if b == nil {
				continue
			}

			w.deliverMu.Lock()
			if !w.closed {
				w.deliver(*b)
			}
			w.deliverMu.Unlock()
		}
	}
}

// Close waits for an in-flight delivery and stops further ones.
func (w *watcher) Close() error {
	w.once.Do(func() {
		w.hub.remove(w)
		w.deliverMu.Lock()
		w.closed = true
		w.deliverMu.Unlock()
		close(w.done)
	})
	return nil
}
