package feed

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newTestSync(t *testing.T, stream *fakeStream, blocked ...string) (*Synchronizer, *recordingView) {
	t.Helper()
	view := &recordingView{}
	s := New(Session{
		ViewerID: "viewer",
		Stream:   stream,
		Blocks:   staticBlocks{ids: blocked},
	}, view, nil)
	t.Cleanup(func() { _ = s.Close() })
	return s, view
}

func TestSearchScenario(t *testing.T) {
	stream := newFakeStream()
	stream.initial[DefaultRoom] = []Message{
		msg("1", DefaultRoom, "a", "hello", 1),
		msg("2", DefaultRoom, "a", "world", 2),
		msg("3", DefaultRoom, "b", "hello world", 3),
	}
	s, _ := newTestSync(t, stream)
	if err := s.Start(context.Background(), DefaultRoom); err != nil {
		t.Fatalf("start: %v", err)
	}

	s.SetQuery("hello")
	if got := ids(s.Filtered()); !equalIDs(got, []string{"1", "3"}) {
		t.Fatalf("filtered = %v, want [1 3]", got)
	}
	if s.Cursor() != 0 {
		t.Fatalf("cursor = %d, want 0", s.Cursor())
	}

	if m, ok := s.Next(); !ok || m.ID != "3" || s.Cursor() != 1 {
		t.Fatalf("next: got %v %v cursor %d", m.ID, ok, s.Cursor())
	}
	if m, ok := s.Next(); !ok || m.ID != "1" || s.Cursor() != 0 {
		t.Fatalf("next wrap: got %v %v cursor %d", m.ID, ok, s.Cursor())
	}
	if m, ok := s.Prev(); !ok || m.ID != "3" || s.Cursor() != 1 {
		t.Fatalf("prev wrap: got %v %v cursor %d", m.ID, ok, s.Cursor())
	}
}

func TestQueryChangeResetsCursor(t *testing.T) {
	stream := newFakeStream()
	stream.initial[DefaultRoom] = []Message{
		msg("1", DefaultRoom, "a", "go", 1),
		msg("2", DefaultRoom, "a", "Go!", 2),
		msg("3", DefaultRoom, "a", "gopher", 3),
	}
	s, _ := newTestSync(t, stream)
	if err := s.Start(context.Background(), DefaultRoom); err != nil {
		t.Fatalf("start: %v", err)
	}

	s.SetQuery("GO")
	s.Next()
	s.Next()
	if s.Cursor() != 2 {
		t.Fatalf("cursor = %d, want 2", s.Cursor())
	}
	s.SetQuery("gopher")
	if s.Cursor() != 0 {
		t.Fatalf("cursor after query change = %d, want 0", s.Cursor())
	}
	if m, ok := s.Current(); !ok || m.ID != "3" {
		t.Fatalf("current = %v %v, want 3", m.ID, ok)
	}
}

func TestNavigationOnEmptyViewIsNoop(t *testing.T) {
	stream := newFakeStream()
	stream.initial[DefaultRoom] = []Message{msg("1", DefaultRoom, "a", "hello", 1)}
	s, _ := newTestSync(t, stream)
	if err := s.Start(context.Background(), DefaultRoom); err != nil {
		t.Fatalf("start: %v", err)
	}

	s.SetQuery("nothing matches")
	if _, ok := s.Next(); ok {
		t.Fatal("next on empty view reported a match")
	}
	if _, ok := s.Prev(); ok {
		t.Fatal("prev on empty view reported a match")
	}
	if s.Cursor() != 0 {
		t.Fatalf("cursor = %d, want 0", s.Cursor())
	}
}

func TestEmptyQueryReturnsFullMirror(t *testing.T) {
	stream := newFakeStream()
	stream.initial[DefaultRoom] = []Message{
		msg("1", DefaultRoom, "a", "", 1),
		msg("2", DefaultRoom, "a", "text", 2),
	}
	s, _ := newTestSync(t, stream)
	if err := s.Start(context.Background(), DefaultRoom); err != nil {
		t.Fatalf("start: %v", err)
	}
	if got, want := ids(s.Filtered()), ids(s.Messages()); !equalIDs(got, want) {
		t.Fatalf("filtered = %v, mirror = %v", got, want)
	}
}

func TestBlockedAuthorsNeverShown(t *testing.T) {
	stream := newFakeStream()
	s, view := newTestSync(t, stream, "troll")
	if err := s.Start(context.Background(), DefaultRoom); err != nil {
		t.Fatalf("start: %v", err)
	}

	stream.push(DefaultRoom,
		msg("1", DefaultRoom, "alice", "hi", 1),
		msg("2", DefaultRoom, "troll", "spam", 2),
		msg("3", DefaultRoom, "bob", "hey", 3),
	)

	for _, m := range s.Messages() {
		if m.AuthorID == "troll" {
			t.Fatalf("blocked author in mirror: %+v", m)
		}
	}
	eventually(t, "filtered render", func() bool {
		return equalIDs(ids(view.lastRender()), []string{"1", "3"})
	})
}

func TestSetBlockedReappliesFilter(t *testing.T) {
	stream := newFakeStream()
	stream.initial[DefaultRoom] = []Message{
		msg("1", DefaultRoom, "alice", "hi", 1),
		msg("2", DefaultRoom, "bob", "yo", 2),
	}
	s, _ := newTestSync(t, stream)
	if err := s.Start(context.Background(), DefaultRoom); err != nil {
		t.Fatalf("start: %v", err)
	}

	s.SetBlocked([]string{"bob"})
	if got := ids(s.Messages()); !equalIDs(got, []string{"1"}) {
		t.Fatalf("after block = %v, want [1]", got)
	}
	s.SetBlocked(nil)
	if got := ids(s.Messages()); !equalIDs(got, []string{"1", "2"}) {
		t.Fatalf("after unblock = %v, want [1 2]", got)
	}
}

func TestMirrorOrderedByCreation(t *testing.T) {
	stream := newFakeStream()
	s, _ := newTestSync(t, stream)
	if err := s.Start(context.Background(), DefaultRoom); err != nil {
		t.Fatalf("start: %v", err)
	}

	stream.push(DefaultRoom,
		msg("late", DefaultRoom, "a", "", 5),
		msg("tieA", DefaultRoom, "a", "", 2),
		msg("tieB", DefaultRoom, "a", "", 2),
		msg("early", DefaultRoom, "a", "", 1),
	)

	got := s.Messages()
	for i := 1; i < len(got); i++ {
		if got[i].CreatedAt.Before(got[i-1].CreatedAt) {
			t.Fatalf("mirror not ordered at %d: %v", i, ids(got))
		}
	}
	if !equalIDs(ids(got), []string{"early", "tieA", "tieB", "late"}) {
		t.Fatalf("order = %v", ids(got))
	}
}

func TestSnapshotReplacesList(t *testing.T) {
	stream := newFakeStream()
	s, view := newTestSync(t, stream)
	if err := s.Start(context.Background(), DefaultRoom); err != nil {
		t.Fatalf("start: %v", err)
	}

	stream.push(DefaultRoom, msg("1", DefaultRoom, "a", "x", 1), msg("2", DefaultRoom, "a", "y", 2))
	stream.push(DefaultRoom, msg("2", DefaultRoom, "a", "y", 2))

	if got := ids(s.Messages()); !equalIDs(got, []string{"2"}) {
		t.Fatalf("mirror = %v, want [2]", got)
	}
	eventually(t, "two scrolls", func() bool { return view.scrollCount() == 2 })
	if s.State() != StateLive {
		t.Fatalf("state = %v, want live", s.State())
	}
}

func TestSwitchRoomDiscardsPreviousRoom(t *testing.T) {
	ctx := context.Background()
	stream := newFakeStream()
	stream.initial["A"] = []Message{msg("a1", "A", "x", "in A", 1)}
	s, view := newTestSync(t, stream)
	if err := s.Start(ctx, "A"); err != nil {
		t.Fatalf("start: %v", err)
	}
	if len(s.Messages()) != 1 {
		t.Fatalf("expected A's message, got %v", ids(s.Messages()))
	}
	subA := stream.last()

	if err := s.SelectRoom(ctx, "B"); err != nil {
		t.Fatalf("select B: %v", err)
	}
	if got := s.Messages(); len(got) != 0 {
		t.Fatalf("mirror after switch = %v, want empty", ids(got))
	}
	// Renders: empty on Start, A's snapshot, empty on switching to B.
	eventually(t, "empty render after switch", func() bool {
		return view.renderCount() == 3 && len(view.lastRender()) == 0
	})
	if s.State() != StateSubscribing || s.Room() != "B" {
		t.Fatalf("state = %v room = %v", s.State(), s.Room())
	}
	if !subA.closed {
		t.Fatal("subscription for A was not released")
	}
	if n := len(stream.active()); n != 1 {
		t.Fatalf("active subscriptions = %d, want 1", n)
	}

	// A late delivery from A must not leak into B.
	stream.push("A", msg("a2", "A", "x", "late", 2))
	if got := s.Messages(); len(got) != 0 {
		t.Fatalf("stale A delivery leaked: %v", ids(got))
	}

	stream.push("B", msg("b1", "B", "y", "in B", 3))
	if got := ids(s.Messages()); !equalIDs(got, []string{"b1"}) {
		t.Fatalf("mirror = %v, want [b1]", got)
	}
}

func TestForeignRoomMessagesDropped(t *testing.T) {
	stream := newFakeStream()
	s, _ := newTestSync(t, stream)
	if err := s.Start(context.Background(), "A"); err != nil {
		t.Fatalf("start: %v", err)
	}
	stream.push("A", msg("1", "A", "x", "", 1), msg("2", "B", "x", "", 2))
	if got := ids(s.Messages()); !equalIDs(got, []string{"1"}) {
		t.Fatalf("mirror = %v, want [1]", got)
	}
}

func TestMissingRoomRedirectsToDefault(t *testing.T) {
	stream := newFakeStream()
	stream.missing["gone"] = true
	stream.initial[DefaultRoom] = []Message{msg("d1", DefaultRoom, "a", "lobby", 1)}
	s, view := newTestSync(t, stream)

	if err := s.Start(context.Background(), "gone"); err != nil {
		t.Fatalf("start: %v", err)
	}
	if s.Room() != DefaultRoom {
		t.Fatalf("room = %v, want default", s.Room())
	}
	eventually(t, "room not found callback", func() bool {
		got := view.notFoundRooms()
		return len(got) == 1 && got[0] == "gone"
	})
	if got := ids(s.Messages()); !equalIDs(got, []string{"d1"}) {
		t.Fatalf("mirror = %v, want [d1]", got)
	}
}

func TestRoomRemovedMidStreamRedirects(t *testing.T) {
	stream := newFakeStream()
	s, view := newTestSync(t, stream)
	if err := s.Start(context.Background(), "A"); err != nil {
		t.Fatalf("start: %v", err)
	}

	stream.last().deliver(Batch{Room: "A", Err: ErrRoomNotFound})

	deadline := time.Now().Add(2 * time.Second)
	for s.Room() != DefaultRoom && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if s.Room() != DefaultRoom {
		t.Fatalf("room = %v, want default", s.Room())
	}
	eventually(t, "room not found callback", func() bool { return len(view.notFoundRooms()) == 1 })
}

// reactingView calls back into the synchronizer from its callbacks.
type reactingView struct {
	recordingView
	syncer   *Synchronizer
	onRender func(s *Synchronizer, msgs []Message)
	onGone   func(s *Synchronizer, room Room)
}

func (v *reactingView) Render(room Room, msgs []Message) {
	v.recordingView.Render(room, msgs)
	if v.onRender != nil {
		v.onRender(v.syncer, msgs)
	}
}

func (v *reactingView) RoomNotFound(room Room) {
	v.recordingView.RoomNotFound(room)
	if v.onGone != nil {
		v.onGone(v.syncer, room)
	}
}

func newReactingSync(t *testing.T, stream *fakeStream, view *reactingView) *Synchronizer {
	t.Helper()
	s := New(Session{ViewerID: "viewer", Stream: stream, Blocks: staticBlocks{}}, view, nil)
	view.syncer = s
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestViewMayBlockFromRender(t *testing.T) {
	stream := newFakeStream()
	var once bool
	view := &reactingView{onRender: func(s *Synchronizer, msgs []Message) {
		if len(msgs) > 0 && !once {
			once = true
			s.SetBlocked([]string{"troll"})
		}
	}}
	s := newReactingSync(t, stream, view)
	if err := s.Start(context.Background(), DefaultRoom); err != nil {
		t.Fatalf("start: %v", err)
	}

	stream.push(DefaultRoom, msg("1", DefaultRoom, "alice", "hi", 1), msg("2", DefaultRoom, "troll", "spam", 2))

	eventually(t, "render without the blocked author", func() bool {
		return equalIDs(ids(view.lastRender()), []string{"1"})
	})
	if got := ids(s.Messages()); !equalIDs(got, []string{"1"}) {
		t.Fatalf("mirror = %v, want [1]", got)
	}
}

func TestViewMaySelectRoomFromRoomNotFound(t *testing.T) {
	stream := newFakeStream()
	stream.missing["gone"] = true
	stream.initial["lobby"] = []Message{msg("l1", "lobby", "a", "welcome", 1)}
	view := &reactingView{onGone: func(s *Synchronizer, _ Room) {
		_ = s.SelectRoom(context.Background(), "lobby")
	}}
	s := newReactingSync(t, stream, view)

	if err := s.Start(context.Background(), "gone"); err != nil {
		t.Fatalf("start: %v", err)
	}
	eventually(t, "the room chosen by the view", func() bool {
		return s.Room() == "lobby" && equalIDs(ids(s.Messages()), []string{"l1"})
	})
	if got := view.notFoundRooms(); len(got) != 1 || got[0] != "gone" {
		t.Fatalf("notFound = %v", got)
	}
	eventually(t, "one active subscription", func() bool { return len(stream.active()) == 1 })
}

func TestCursorClampedWhenSnapshotShrinks(t *testing.T) {
	stream := newFakeStream()
	s, _ := newTestSync(t, stream)
	if err := s.Start(context.Background(), DefaultRoom); err != nil {
		t.Fatalf("start: %v", err)
	}
	stream.push(DefaultRoom,
		msg("1", DefaultRoom, "a", "go", 1),
		msg("2", DefaultRoom, "a", "go on", 2),
		msg("3", DefaultRoom, "a", "gone", 3),
	)
	s.SetQuery("go")
	s.Prev()
	if s.Cursor() != 2 {
		t.Fatalf("cursor = %d, want 2", s.Cursor())
	}

	stream.push(DefaultRoom, msg("1", DefaultRoom, "a", "go", 1))
	if s.Cursor() != 0 {
		t.Fatalf("cursor = %d, want 0", s.Cursor())
	}
	if m, ok := s.Current(); !ok || m.ID != "1" {
		t.Fatalf("current = %v %v, want 1", m.ID, ok)
	}
}

func TestStreamFailureFreezesMirror(t *testing.T) {
	stream := newFakeStream()
	stream.initial[DefaultRoom] = []Message{msg("1", DefaultRoom, "a", "kept", 1)}
	s, _ := newTestSync(t, stream)
	if err := s.Start(context.Background(), DefaultRoom); err != nil {
		t.Fatalf("start: %v", err)
	}

	stream.last().deliver(Batch{Room: DefaultRoom, Err: errBoom})

	if got := ids(s.Messages()); !equalIDs(got, []string{"1"}) {
		t.Fatalf("mirror = %v, want frozen [1]", got)
	}
	if !errors.Is(s.Err(), errBoom) {
		t.Fatalf("err = %v, want boom", s.Err())
	}
}

func TestSubscribeFailureIsNotRetried(t *testing.T) {
	stream := newFakeStream()
	stream.failWith = errBoom
	s, _ := newTestSync(t, stream)

	err := s.Start(context.Background(), "A")
	if !errors.Is(err, errBoom) {
		t.Fatalf("start err = %v, want boom", err)
	}
	if !errors.Is(s.Err(), errBoom) {
		t.Fatalf("Err() = %v", s.Err())
	}
	if len(stream.subs) != 0 {
		t.Fatalf("unexpected subscriptions: %d", len(stream.subs))
	}
	if s.State() != StateSubscribing {
		t.Fatalf("state = %v, want subscribing", s.State())
	}
}

func TestStartFailsWhenBlockListUnavailable(t *testing.T) {
	stream := newFakeStream()
	s := New(Session{Stream: stream, Blocks: staticBlocks{err: errBoom}}, nil, nil)
	defer s.Close()

	if err := s.Start(context.Background(), DefaultRoom); !errors.Is(err, errBoom) {
		t.Fatalf("err = %v, want boom", err)
	}
	if s.State() != StateUninitialized {
		t.Fatalf("state = %v, want uninitialized", s.State())
	}
}

func TestCloseReleasesSubscription(t *testing.T) {
	stream := newFakeStream()
	s, _ := newTestSync(t, stream)
	if err := s.Start(context.Background(), DefaultRoom); err != nil {
		t.Fatalf("start: %v", err)
	}
	sub := stream.last()

	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if !sub.closed {
		t.Fatal("subscription not released")
	}
	if s.State() != StateUnsubscribed {
		t.Fatalf("state = %v", s.State())
	}
	stream.push(DefaultRoom, msg("1", DefaultRoom, "a", "", 1))
	if len(s.Messages()) != 0 {
		t.Fatal("delivery after close reached the mirror")
	}
	if err := s.SelectRoom(context.Background(), "A"); !errors.Is(err, ErrClosed) {
		t.Fatalf("select after close err = %v", err)
	}
}

type mapDirectory map[string]Author

func (d mapDirectory) Author(_ context.Context, id string) (Author, bool, error) {
	a, ok := d[id]
	return a, ok, nil
}

func TestAuthorFallsBackToAnonymous(t *testing.T) {
	s := New(Session{
		Stream:  newFakeStream(),
		Authors: mapDirectory{"u1": {ID: "u1", Name: "Uma", AvatarURL: "http://x/u1.png"}, "u2": {ID: "u2"}},
	}, nil, nil)
	defer s.Close()

	ctx := context.Background()
	if a := s.Author(ctx, "u1"); a.Name != "Uma" || a.AvatarURL == "" {
		t.Fatalf("u1 = %+v", a)
	}
	if a := s.Author(ctx, "u2"); a.Name != AnonymousName {
		t.Fatalf("u2 = %+v", a)
	}
	if a := s.Author(ctx, "ghost"); a.Name != AnonymousName || a.AvatarURL != "" {
		t.Fatalf("ghost = %+v", a)
	}
}
