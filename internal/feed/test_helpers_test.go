package feed

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeSub struct {
	stream  *fakeStream
	room    Room
	deliver func(Batch)
	closed  bool
}

func (s *fakeSub) Close() error {
	s.stream.mu.Lock()
	defer s.stream.mu.Unlock()
	s.closed = true
	return nil
}

// fakeStream records subscriptions; tests push batches by hand.
type fakeStream struct {
	mu       sync.Mutex
	subs     []*fakeSub
	missing  map[Room]bool
	failWith error
	initial  map[Room][]Message
}

func newFakeStream() *fakeStream {
	return &fakeStream{
		missing: make(map[Room]bool),
		initial: make(map[Room][]Message),
	}
}

func (f *fakeStream) Subscribe(_ context.Context, room Room, deliver func(Batch)) (Subscription, error) {
	f.mu.Lock()
	if f.failWith != nil {
		err := f.failWith
		f.mu.Unlock()
		return nil, err
	}
	if f.missing[room] {
		f.mu.Unlock()
		return nil, ErrRoomNotFound
	}
	sub := &fakeSub{stream: f, room: room, deliver: deliver}
	f.subs = append(f.subs, sub)
	initial, ok := f.initial[room]
	f.mu.Unlock()

	if ok {
		deliver(Batch{Room: room, Messages: initial})
	}
	return sub, nil
}

func (f *fakeStream) last() *fakeSub {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.subs) == 0 {
		return nil
	}
	return f.subs[len(f.subs)-1]
}

func (f *fakeStream) active() []*fakeSub {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*fakeSub
	for _, s := range f.subs {
		if !s.closed {
			out = append(out, s)
		}
	}
	return out
}

// push delivers to every subscription of room, including released ones,
// the way a late callback from a torn-down stream would.
func (f *fakeStream) push(room Room, msgs ...Message) {
	f.mu.Lock()
	subs := append([]*fakeSub(nil), f.subs...)
	f.mu.Unlock()
	for _, s := range subs {
		if s.room == room {
			s.deliver(Batch{Room: room, Messages: msgs})
		}
	}
}

type staticBlocks struct {
	ids []string
	err error
}

func (b staticBlocks) BlockedAuthors(context.Context) ([]string, error) {
	return b.ids, b.err
}

type recordingView struct {
	mu       sync.Mutex
	renders  [][]Message
	scrolls  int
	notFound []Room
}

func (v *recordingView) Render(_ Room, msgs []Message) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.renders = append(v.renders, msgs)
}

func (v *recordingView) ScrollToLatest() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.scrolls++
}

func (v *recordingView) RoomNotFound(r Room) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.notFound = append(v.notFound, r)
}

func (v *recordingView) lastRender() []Message {
	v.mu.Lock()
	defer v.mu.Unlock()
	if len(v.renders) == 0 {
		return nil
	}
	return v.renders[len(v.renders)-1]
}

func (v *recordingView) renderCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.renders)
}

func (v *recordingView) scrollCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.scrolls
}

func (v *recordingView) notFoundRooms() []Room {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]Room(nil), v.notFound...)
}

// eventually polls cond until it holds or two seconds pass.
func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

var errBoom = errors.New("boom")

var epoch = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

func msg(id string, room Room, author, text string, offset int) Message {
	return Message{
		ID:         id,
		Room:       room,
		Text:       text,
		AuthorID:   author,
		AuthorName: author,
		CreatedAt:  epoch.Add(time.Duration(offset) * time.Second),
	}
}

func ids(msgs []Message) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.ID)
	}
	return out
}

func equalIDs(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
