// Package livequery serves live, room-scoped message snapshots: every change to a
// room re-delivers the full ordered message set to its subscribers.
package livequery

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/roomfeed/internal/feed"
	"github.com/vovakirdan/roomfeed/internal/store"
)

// Source is the storage the hub reads snapshots from.
type Source interface {
	ListRoomMessages(ctx context.Context, groupID *string) ([]*store.Message, error)
	GetGroup(ctx context.Context, id string) (*store.Group, error)
}

// Notifier propagates "room changed" signals to hubs.
type Notifier interface {
	Notify(ctx context.Context, room feed.Room) error
}

// Hub tracks subscriptions per room and fans out snapshots.
type Hub struct {
	src Source
	log *zerolog.Logger

	// loadMu orders snapshot loads so a subscriber never sees an older
	// snapshot after a newer one.
	loadMu sync.Mutex

	mu       sync.Mutex
	watchers map[feed.Room]map[*watcher]struct{}
	closed   bool
}

// NewHub creates a hub reading from src.
func NewHub(src Source, logger *zerolog.Logger) *Hub {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	l := logger.With().Str("component", "livequery").Logger()
	return &Hub{
		src:      src,
		log:      &l,
		watchers: make(map[feed.Room]map[*watcher]struct{}),
	}
}

// ErrHubClosed is returned when subscribing to a closed hub.
var ErrHubClosed = errors.New("livequery hub closed")

// Subscribe registers deliver for room. The initial snapshot is delivered
// asynchronously. The subscription ends on Close or when ctx is done; the
// latter delivers a final batch carrying ctx.Err().
// Close must not be called from inside deliver.
func (h *Hub) Subscribe(ctx context.Context, room feed.Room, deliver func(feed.Batch)) (feed.Subscription, error) {
	if !room.IsDefault() {
		if _, err := h.src.GetGroup(ctx, string(room)); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, feed.ErrRoomNotFound
			}
			return nil, fmt.Errorf("lookup room: %w", err)
		}
	}

	w := newWatcher(h, room, deliver)

	h.loadMu.Lock()
	defer h.loadMu.Unlock()

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, ErrHubClosed
	}
	set, ok := h.watchers[room]
	if !ok {
		set = make(map[*watcher]struct{})
		h.watchers[room] = set
	}
	set[w] = struct{}{}
	h.mu.Unlock()

	go w.run(ctx)
	w.offer(h.load(ctx, room))

	h.log.Debug().Str("room", room.String()).Msg("subscription added")
	return w, nil
}

// Notify reloads room and delivers the snapshot to its subscribers.
// It makes Hub usable as an in-process Notifier.
func (h *Hub) Notify(ctx context.Context, room feed.Room) error {
	h.Refresh(ctx, room)
	return nil
}

// Refresh reloads room and delivers the snapshot to its subscribers.
func (h *Hub) Refresh(ctx context.Context, room feed.Room) {
	h.loadMu.Lock()
	defer h.loadMu.Unlock()

	targets := h.targets(room)
	if len(targets) == 0 {
		return
	}
	batch := h.load(ctx, room)
	for _, w := range targets {
		w.offer(batch)
	}
}

func (h *Hub) targets(room feed.Room) []*watcher {
	h.mu.Lock()
	defer h.mu.Unlock()
	set := h.watchers[room]
	out := make([]*watcher, 0, len(set))
	for w := range set {
		out = append(out, w)
	}
	return out
}

func (h *Hub) load(ctx context.Context, room feed.Room) feed.Batch {
	var groupID *string
	if !room.IsDefault() {
		id := string(room)
		groupID = &id
	}
	msgs, err := h.src.ListRoomMessages(ctx, groupID)
	if err != nil {
		h.log.Error().Err(err).Str("room", room.String()).Msg("load room snapshot")
		return feed.Batch{Room: room, Err: fmt.Errorf("load snapshot: %w", err)}
	}
	out := make([]feed.Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, ToFeed(m))
	}
	return feed.Batch{Room: room, Messages: out}
}

func (h *Hub) remove(w *watcher) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set := h.watchers[w.room]
	delete(set, w)
	if len(set) == 0 {
		delete(h.watchers, w.room)
	}
}

// Subscribers returns the number of live subscriptions for room.
func (h *Hub) Subscribers(room feed.Room) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.watchers[room])
}

// Close releases every subscription and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	var all []*watcher
	for _, set := range h.watchers {
		for w := range set {
			all = append(all, w)
		}
	}
	h.mu.Unlock()

	for _, w := range all {
		_ = w.Close()
	}
}

// ToFeed converts a stored message into its feed representation.
func ToFeed(m *store.Message) feed.Message {
	room := feed.DefaultRoom
	if m.GroupID != nil {
		room = feed.Room(*m.GroupID)
	}
	return feed.Message{
		ID:         m.ID,
		Room:       room,
		Text:       m.Text,
		AuthorID:   m.UserID,
		AuthorName: m.Username,
		CreatedAt:  m.CreatedAt,
		GifURL:     m.GifURL,
		ImageURL:   m.ImageURL,
	}
}
