// Package feed keeps a client-local, display-ready mirror of one room's messages
// and a search overlay over it.
package feed

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"
)

// ErrClosed is returned when a closed synchronizer is asked to subscribe.
var ErrClosed = errors.New("synchronizer closed")

// AnonymousName is shown for authors missing from the directory.
const AnonymousName = "Anonymous"

// State is the subscription lifecycle of a Synchronizer.
type State int

const (
	// StateUninitialized means no room was selected yet.
	StateUninitialized State = iota
	// StateSubscribing means a room is selected but no snapshot arrived yet.
	StateSubscribing
	// StateLive means the mirror reflects at least one snapshot of the room.
	StateLive
	// StateUnsubscribed means the synchronizer was closed.
	StateUnsubscribed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateSubscribing:
		return "subscribing"
	case StateLive:
		return "live"
	case StateUnsubscribed:
		return "unsubscribed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Session carries the per-viewer collaborators of a Synchronizer.
type Session struct {
	ViewerID string
	Stream   ChangeStream
	Blocks   BlockListSource
	// Authors is optional.
	Authors AuthorDirectory
}

// Synchronizer mirrors the selected room's message stream.
type Synchronizer struct {
	session Session
	view    View
	log     *zerolog.Logger

	mu       sync.Mutex
	state    State
	room     Room
	sub      Subscription
	gen      uint64
	raw      []Message
	mirror   []Message
	blocked  map[string]struct{}
	query    string
	filtered []Message
	cursor   int
	lastErr  error
	seq      uint64

	// viewMu guards the view queue only; it is never held across a View call.
	viewMu     sync.Mutex
	viewQueue  []viewEvent
	delivering bool
	rendered   uint64
}

type viewEvent struct {
	seq      uint64
	room     Room
	mirror   []Message
	scroll   bool
	notFound bool
}

// New creates a synchronizer for the given session. view and logger may be nil.
func New(session Session, view View, logger *zerolog.Logger) *Synchronizer {
	if view == nil {
		view = NopView{}
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	l := logger.With().Str("component", "feed").Str("viewer", session.ViewerID).Logger()
	return &Synchronizer{
		session: session,
		view:    view,
		log:     &l,
		blocked: make(map[string]struct{}),
	}
}

// Start loads the block list and subscribes to room.
func (s *Synchronizer) Start(ctx context.Context, room Room) error {
	if s.session.Blocks != nil {
		ids, err := s.session.Blocks.BlockedAuthors(ctx)
		if err != nil {
			return fmt.Errorf("load block list: %w", err)
		}
		s.mu.Lock()
		s.blocked = toSet(ids)
		s.mu.Unlock()
		s.log.Debug().Int("blocked", len(ids)).Msg("block list loaded")
	}
	return s.SelectRoom(ctx, room)
}

// SelectRoom releases the current subscription, empties the mirror and
// subscribes to room. A room that no longer exists redirects to DefaultRoom.
// ctx bounds the lifetime of the new subscription.
func (s *Synchronizer) SelectRoom(ctx context.Context, room Room) error {
	s.mu.Lock()
	if s.state == StateUnsubscribed {
		s.mu.Unlock()
		return ErrClosed
	}
	old := s.sub
	s.sub = nil
	s.gen++
	gen := s.gen
	s.room = room
	s.state = StateSubscribing
	s.raw = nil
	s.lastErr = nil
	s.rebuildLocked()
	seq, mirror := s.snapshotLocked()
	s.mu.Unlock()

	if old != nil {
		if err := old.Close(); err != nil {
			s.log.Warn().Err(err).Msg("release previous subscription")
		}
	}
	s.notify(seq, room, mirror, false)

	sub, err := s.session.Stream.Subscribe(ctx, room, func(b Batch) {
		s.apply(gen, b)
	})
	if err != nil {
		if errors.Is(err, ErrRoomNotFound) && !room.IsDefault() {
			s.log.Warn().Str("room", room.String()).Msg("room not found, redirecting to default room")
			return s.redirect(ctx, gen, room)
		}
		s.mu.Lock()
		if gen == s.gen {
			s.lastErr = err
		}
		s.mu.Unlock()
		s.log.Error().Err(err).Str("room", room.String()).Msg("subscribe to room")
		return fmt.Errorf("subscribe %s: %w", room, err)
	}

	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		// Superseded by a newer selection or Close while subscribing.
		if closeErr := sub.Close(); closeErr != nil {
			s.log.Warn().Err(closeErr).Msg("release superseded subscription")
		}
		return nil
	}
	s.sub = sub
	s.mu.Unlock()

	s.log.Debug().Str("room", room.String()).Msg("subscribed")
	return nil
}

func (s *Synchronizer) apply(gen uint64, b Batch) {
	s.mu.Lock()
	if gen != s.gen || s.state == StateUnsubscribed {
		s.mu.Unlock()
		return
	}
	room := s.room
	if b.Err != nil {
		s.lastErr = b.Err
		s.mu.Unlock()
		if errors.Is(b.Err, ErrRoomNotFound) && !room.IsDefault() {
			s.log.Warn().Str("room", room.String()).Msg("room removed, redirecting to default room")
			// Delivery callbacks must not wait on their own subscription.
			go func() {
				if err := s.redirect(context.Background(), gen, room); err != nil && !errors.Is(err, ErrClosed) {
					s.log.Error().Err(err).Msg("redirect to default room")
				}
			}()
			return
		}
		if errors.Is(b.Err, context.Canceled) || errors.Is(b.Err, context.DeadlineExceeded) {
			s.log.Debug().Err(b.Err).Str("room", room.String()).Msg("subscription context ended")
			return
		}
		s.log.Error().Err(b.Err).Str("room", room.String()).Msg("change stream failed")
		return
	}

	s.raw = append([]Message(nil), b.Messages...)
	s.state = StateLive
	s.rebuildLocked()
	seq, mirror := s.snapshotLocked()
	s.mu.Unlock()

	s.notify(seq, room, mirror, true)
}

// rebuildLocked derives the mirror and filtered view from the raw snapshot.
func (s *Synchronizer) rebuildLocked() {
	mirror := make([]Message, 0, len(s.raw))
	for _, m := range s.raw {
		if m.Room != s.room {
			continue
		}
		if _, blocked := s.blocked[m.AuthorID]; blocked {
			continue
		}
		mirror = append(mirror, m)
	}
	sort.SliceStable(mirror, func(i, j int) bool {
		return mirror[i].CreatedAt.Before(mirror[j].CreatedAt)
	})
	s.mirror = mirror
	s.filtered = Filter(s.mirror, s.query)
	if s.cursor >= len(s.filtered) {
		s.cursor = max(len(s.filtered)-1, 0)
	}
}

func (s *Synchronizer) snapshotLocked() (uint64, []Message) {
	s.seq++
	return s.seq, append([]Message(nil), s.mirror...)
}

// redirect reports room as missing and moves to DefaultRoom, unless another
// selection superseded gen in the meantime.
func (s *Synchronizer) redirect(ctx context.Context, gen uint64, room Room) error {
	if !s.current(gen) {
		return nil
	}
	s.post(viewEvent{room: room, notFound: true})
	if !s.current(gen) {
		return nil
	}
	return s.SelectRoom(ctx, DefaultRoom)
}

func (s *Synchronizer) notify(seq uint64, room Room, mirror []Message, scroll bool) {
	s.post(viewEvent{seq: seq, room: room, mirror: mirror, scroll: scroll})
}

// post queues ev for the view. A single drain goroutine runs at a time, so
// view calls stay ordered and never run on the caller's goroutine.
func (s *Synchronizer) post(ev viewEvent) {
	s.viewMu.Lock()
	defer s.viewMu.Unlock()
	s.viewQueue = append(s.viewQueue, ev)
	if s.delivering {
		return
	}
	s.delivering = true
	go s.drainView()
}

func (s *Synchronizer) drainView() {
	for {
		s.viewMu.Lock()
		if len(s.viewQueue) == 0 {
			s.delivering = false
			s.viewMu.Unlock()
			return
		}
		ev := s.viewQueue[0]
		s.viewQueue = s.viewQueue[1:]
		if !ev.notFound {
			if ev.seq <= s.rendered {
				s.viewMu.Unlock()
				continue
			}
			s.rendered = ev.seq
		}
		s.viewMu.Unlock()

		if ev.notFound {
			s.view.RoomNotFound(ev.room)
			continue
		}
		s.view.Render(ev.room, ev.mirror)
		if ev.scroll {
			s.view.ScrollToLatest()
		}
	}
}

func (s *Synchronizer) current(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return gen == s.gen && s.state != StateUnsubscribed
}

// SetBlocked replaces the block set and reapplies it to the last snapshot.
func (s *Synchronizer) SetBlocked(ids []string) {
	s.mu.Lock()
	s.blocked = toSet(ids)
	s.rebuildLocked()
	room := s.room
	seq, mirror := s.snapshotLocked()
	s.mu.Unlock()

	s.notify(seq, room, mirror, false)
}

// SetQuery changes the search query and resets the cursor.
func (s *Synchronizer) SetQuery(query string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.query = query
	s.filtered = Filter(s.mirror, query)
	s.cursor = 0
}

// Query returns the active search query.
func (s *Synchronizer) Query() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.query
}

// Filtered returns the messages matching the active query.
func (s *Synchronizer) Filtered() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Message(nil), s.filtered...)
}

// Cursor returns the current index into the filtered view.
func (s *Synchronizer) Cursor() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor
}

// Current returns the message under the cursor.
func (s *Synchronizer) Current() (Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentLocked()
}

// Next moves the cursor to the next match, wrapping around.
func (s *Synchronizer) Next() (Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.filtered) == 0 {
		return Message{}, false
	}
	s.cursor = NextIndex(s.cursor, len(s.filtered))
	return s.currentLocked()
}

// Prev moves the cursor to the previous match, wrapping around.
func (s *Synchronizer) Prev() (Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.filtered) == 0 {
		return Message{}, false
	}
	s.cursor = PrevIndex(s.cursor, len(s.filtered))
	return s.currentLocked()
}

func (s *Synchronizer) currentLocked() (Message, bool) {
	if s.cursor < 0 || s.cursor >= len(s.filtered) {
		return Message{}, false
	}
	return s.filtered[s.cursor], true
}

// Messages returns a copy of the mirror.
func (s *Synchronizer) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Message(nil), s.mirror...)
}

// Room returns the selected room.
func (s *Synchronizer) Room() Room {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.room
}

// State returns the lifecycle state.
func (s *Synchronizer) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns the last subscription error for the selected room, if any.
func (s *Synchronizer) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Author resolves an author through the session directory, falling back to
// AnonymousName with no avatar.
func (s *Synchronizer) Author(ctx context.Context, id string) Author {
	if s.session.Authors != nil {
		a, ok, err := s.session.Authors.Author(ctx, id)
		if err != nil {
			s.log.Debug().Err(err).Str("author", id).Msg("author lookup failed")
		}
		if ok && err == nil {
			if a.Name == "" {
				a.Name = AnonymousName
			}
			return a
		}
	}
	return Author{ID: id, Name: AnonymousName}
}

// Close releases the subscription. The synchronizer cannot be reused.
// View updates queued before Close may still be delivered after it returns.
func (s *Synchronizer) Close() error {
	s.mu.Lock()
	if s.state == StateUnsubscribed {
		s.mu.Unlock()
		return nil
	}
	s.state = StateUnsubscribed
	s.gen++
	sub := s.sub
	s.sub = nil
	s.raw = nil
	s.mirror = nil
	s.filtered = nil
	s.cursor = 0
	s.mu.Unlock()

	if sub != nil {
		return sub.Close()
	}
	return nil
}

func toSet(ids []string) map[string]struct{} {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}
