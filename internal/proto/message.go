// Package proto defines the JSON frames exchanged over the /ws feed socket.
package proto

import (
	"encoding/json"
	"time"

	"github.com/vovakirdan/roomfeed/internal/feed"
)

// Inbound is the envelope for messages coming from the client.
type Inbound struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

const (
	InboundTypeSubscribe   = "subscribe"
	InboundTypeUnsubscribe = "unsubscribe"

	OutboundTypeSnapshot = "snapshot"
	OutboundTypeError    = "error"
)

// Error codes sent in error frames.
const (
	ErrCodeBadRequest   = "bad_request"
	ErrCodeRoomNotFound = "room_not_found"
	ErrCodeStream       = "stream_failed"
	ErrCodeInternal     = "internal"
)

// DefaultRoomName is the wire name of the default room.
const DefaultRoomName = "default"

// SubscribeData selects the room to stream. An empty room selects the default room.
type SubscribeData struct {
	Room string `json:"room"`
}

// Outbound is the envelope for messages sent to the client.
type Outbound struct {
	Type  string `json:"type"`
	Data  any    `json:"data,omitempty"`
	Error *Error `json:"error,omitempty"`
}

// Frame is an outbound envelope as decoded by clients.
type Frame struct {
	Type  string          `json:"type"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error *Error          `json:"error,omitempty"`
}

// Snapshot carries the full ordered message set of a room.
type Snapshot struct {
	Room     string    `json:"room"`
	Messages []Message `json:"messages"`
}

// Message is a chat message on the wire. CreatedAt is unix milliseconds.
type Message struct {
	ID         string `json:"id"`
	Room       string `json:"room"`
	Text       string `json:"text,omitempty"`
	AuthorID   string `json:"author_id"`
	AuthorName string `json:"author_name"`
	CreatedAt  int64  `json:"created_at"`
	GifURL     string `json:"gif_url,omitempty"`
	ImageURL   string `json:"image_url,omitempty"`
}

// Error describes a protocol-level error response.
type Error struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
	Room string `json:"room,omitempty"`
}

// RoomName renders a room for the wire.
func RoomName(r feed.Room) string {
	return r.String()
}

// ParseRoom maps a wire room name to a feed room.
func ParseRoom(name string) feed.Room {
	if name == "" || name == DefaultRoomName {
		return feed.DefaultRoom
	}
	return feed.Room(name)
}

// FromFeed converts a feed message.
func FromFeed(m feed.Message) Message {
	return Message{
		ID:         m.ID,
		Room:       RoomName(m.Room),
		Text:       m.Text,
		AuthorID:   m.AuthorID,
		AuthorName: m.AuthorName,
		CreatedAt:  m.CreatedAt.UnixMilli(),
		GifURL:     m.GifURL,
		ImageURL:   m.ImageURL,
	}
}

// ToFeed converts a wire message.
func (m Message) ToFeed() feed.Message {
	return feed.Message{
		ID:         m.ID,
		Room:       ParseRoom(m.Room),
		Text:       m.Text,
		AuthorID:   m.AuthorID,
		AuthorName: m.AuthorName,
		CreatedAt:  time.UnixMilli(m.CreatedAt).UTC(),
		GifURL:     m.GifURL,
		ImageURL:   m.ImageURL,
	}
}

// NewSnapshot builds a snapshot frame from a feed batch.
func NewSnapshot(b feed.Batch) Outbound {
	msgs := make([]Message, 0, len(b.Messages))
	for _, m := range b.Messages {
		msgs = append(msgs, FromFeed(m))
	}
	return Outbound{Type: OutboundTypeSnapshot, Data: Snapshot{Room: RoomName(b.Room), Messages: msgs}}
}

// NewError builds an error frame.
func NewError(code, msg string, room feed.Room) Outbound {
	out := Outbound{Type: OutboundTypeError, Error: &Error{Code: code, Msg: msg}}
	if code == ErrCodeRoomNotFound {
		out.Error.Room = RoomName(room)
	}
	return out
}
