package feed

import (
	"context"
	"errors"
)

// ErrRoomNotFound is returned by a ChangeStream when the selected room does not exist.
var ErrRoomNotFound = errors.New("room not found")

// Batch is one delivery from a change stream: the full, ordered set of documents
// currently matching the subscription. Deletions show up as omissions.
type Batch struct {
	Room     Room
	Messages []Message
	// Err is set when the stream failed after it was established.
	Err error
}

// ChangeStream delivers live snapshots of a room's messages ordered by creation time.
type ChangeStream interface {
	// Subscribe delivers an initial snapshot and then one snapshot per change.
	// deliver may be called from any goroutine. The subscription lasts until
	// Close or until ctx is done; in the latter case a final Batch carrying
	// ctx.Err() is delivered.
	Subscribe(ctx context.Context, room Room, deliver func(Batch)) (Subscription, error)
}

// Subscription is a live change stream registration.
type Subscription interface {
	// Close releases the subscription. No deliveries happen after Close returns.
	Close() error
}

// BlockListSource returns the author IDs the current viewer has blocked.
type BlockListSource interface {
	BlockedAuthors(ctx context.Context) ([]string, error)
}

// AuthorDirectory resolves author IDs to display information.
type AuthorDirectory interface {
	Author(ctx context.Context, id string) (Author, bool, error)
}

// View receives display updates from a Synchronizer.
// Calls are serialized in delivery order and run on a goroutine of the
// synchronizer's own, with no lock held, so implementations may call back
// into the synchronizer, including SelectRoom and SetBlocked.
type View interface {
	// Render shows the current mirror.
	Render(room Room, messages []Message)
	// ScrollToLatest moves the view to the newest message.
	ScrollToLatest()
	// RoomNotFound is called when the selected room vanished and the
	// synchronizer redirected to the default room.
	RoomNotFound(room Room)
}

// NopView discards all updates.
type NopView struct{}

func (NopView) Render(Room, []Message) {}
func (NopView) ScrollToLatest()        {}
func (NopView) RoomNotFound(Room)      {}
