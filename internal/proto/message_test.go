package proto

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/vovakirdan/roomfeed/internal/feed"
)

func TestParseRoom(t *testing.T) {
	if ParseRoom("") != feed.DefaultRoom || ParseRoom("default") != feed.DefaultRoom {
		t.Fatal("default room aliases not recognized")
	}
	if ParseRoom("g1") != feed.Room("g1") {
		t.Fatal("group room not preserved")
	}
	if RoomName(feed.DefaultRoom) != "default" {
		t.Fatalf("RoomName(default) = %q", RoomName(feed.DefaultRoom))
	}
}

func TestSnapshotFrameShape(t *testing.T) {
	created := time.Date(2026, 2, 3, 4, 5, 6, 7_000_000, time.UTC)
	out := NewSnapshot(feed.Batch{Room: "g1", Messages: []feed.Message{
		{ID: "m1", Room: "g1", Text: "hi", AuthorID: "u1", AuthorName: "One", CreatedAt: created},
	}})
	raw, err := json.Marshal(out)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var frame Frame
	if err := json.Unmarshal(raw, &frame); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if frame.Type != OutboundTypeSnapshot {
		t.Fatalf("type = %s", frame.Type)
	}
	var snap Snapshot
	if err := json.Unmarshal(frame.Data, &snap); err != nil {
		t.Fatalf("unmarshal data: %v", err)
	}
	if snap.Room != "g1" || len(snap.Messages) != 1 {
		t.Fatalf("snapshot = %+v", snap)
	}
	m := snap.Messages[0].ToFeed()
	if !m.CreatedAt.Equal(created) || m.Room != "g1" || m.AuthorName != "One" {
		t.Fatalf("message = %+v", m)
	}
}

func TestEmptySnapshotEncodesEmptyList(t *testing.T) {
	raw, err := json.Marshal(NewSnapshot(feed.Batch{Room: feed.DefaultRoom}))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"type":"snapshot","data":{"room":"default","messages":[]}}`
	if string(raw) != want {
		t.Fatalf("got %s, want %s", raw, want)
	}
}

func TestRoomNotFoundErrorCarriesRoom(t *testing.T) {
	out := NewError(ErrCodeRoomNotFound, "room not found", "gone")
	if out.Error.Room != "gone" {
		t.Fatalf("room = %q", out.Error.Room)
	}
	if NewError(ErrCodeBadRequest, "bad", "gone").Error.Room != "" {
		t.Fatal("room should only be set for room_not_found")
	}
}
