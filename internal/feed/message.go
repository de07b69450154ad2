package feed

import "time"

// Room identifies a message scope. DefaultRoom is the global room.
type Room string

// DefaultRoom is the room used when no group is selected.
const DefaultRoom Room = ""

// IsDefault reports whether r is the global room.
func (r Room) IsDefault() bool {
	return r == DefaultRoom
}

// String returns a printable room name.
func (r Room) String() string {
	if r.IsDefault() {
		return "default"
	}
	return string(r)
}

// Message is the client-local view of a chat message.
type Message struct {
	ID         string
	Room       Room
	Text       string
	AuthorID   string
	AuthorName string
	CreatedAt  time.Time
	GifURL     string
	ImageURL   string
}

// HasGIF reports whether the message carries a GIF reference.
func (m Message) HasGIF() bool {
	return m.GifURL != ""
}

// HasImage reports whether the message carries an image reference.
func (m Message) HasImage() bool {
	return m.ImageURL != ""
}

// Author is a directory entry for a message author.
type Author struct {
	ID        string
	Name      string
	AvatarURL string
}
