package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// User represents a registered user and their profile.
type User struct {
	UID          string
	Email        string
	PasswordHash string
	DisplayName  string
	PhotoURL     string
	PhoneNumber  string
	Address      string
	CreatedAt    time.Time
}

// ProfileUpdate holds editable profile fields. Nil fields are left unchanged.
type ProfileUpdate struct {
	DisplayName *string
	PhotoURL    *string
	PhoneNumber *string
	Address     *string
}

// Group represents a named chat room with explicit membership.
type Group struct {
	ID        string
	Name      string
	CreatedBy string
	Members   []string
	CreatedAt time.Time
}

// HasMember reports whether uid belongs to the group.
func (g *Group) HasMember(uid string) bool {
	for _, m := range g.Members {
		if m == uid {
			return true
		}
	}
	return false
}

// Message represents a persisted chat message.
// GroupID is nil for messages of the default room.
type Message struct {
	ID        string
	Text      string
	UserID    string
	Username  string
	CreatedAt time.Time
	GifURL    string
	ImageURL  string
	GroupID   *string
}

// DeviceToken is a push notification registration.
type DeviceToken struct {
	UserID    string
	Token     string
	CreatedAt time.Time
}

// UserStore handles user persistence.
type UserStore interface {
	// CreateUser inserts a new user. UID must be set by the caller.
	CreateUser(ctx context.Context, user *User) error

	// GetUser retrieves a user by UID.
	GetUser(ctx context.Context, uid string) (*User, error)

	// GetUserByEmail retrieves a user by email.
	GetUserByEmail(ctx context.Context, email string) (*User, error)

	// UpdateProfile applies the non-nil fields of upd.
	UpdateProfile(ctx context.Context, uid string, upd ProfileUpdate) (*User, error)

	// ListUsers returns every user ordered by display name.
	ListUsers(ctx context.Context) ([]*User, error)
}

// GroupStore handles group persistence.
type GroupStore interface {
	// CreateGroup inserts a group and its members.
	CreateGroup(ctx context.Context, group *Group) error

	// GetGroup retrieves a group with its members.
	GetGroup(ctx context.Context, id string) (*Group, error)

	// ListGroupsForMember lists groups containing uid.
	ListGroupsForMember(ctx context.Context, uid string) ([]*Group, error)

	// AddMembers adds users to a group, ignoring existing members.
	AddMembers(ctx context.Context, groupID string, uids []string) error
}

// MessageStore handles message persistence.
type MessageStore interface {
	// SaveMessage persists a message.
	SaveMessage(ctx context.Context, msg *Message) error

	// GetMessage retrieves a message by ID.
	GetMessage(ctx context.Context, id string) (*Message, error)

	// ListRoomMessages returns all messages of a room ordered by creation ascending.
	// A nil groupID selects the default room.
	ListRoomMessages(ctx context.Context, groupID *string) ([]*Message, error)

	// DeleteMessage removes a message.
	DeleteMessage(ctx context.Context, id string) error

	// DeleteRoomMessages removes every message of a room and returns the count.
	DeleteRoomMessages(ctx context.Context, groupID *string) (int64, error)
}

// BlockStore handles per-user block lists.
type BlockStore interface {
	// ListBlocked returns the UIDs blocked by uid.
	ListBlocked(ctx context.Context, uid string) ([]string, error)

	// ListBlockers returns the UIDs that have blocked uid.
	ListBlockers(ctx context.Context, uid string) ([]string, error)

	// Block adds target to uid's block list.
	Block(ctx context.Context, uid, target string) error

	// Unblock removes target from uid's block list.
	Unblock(ctx context.Context, uid, target string) error
}

// DeviceStore handles push notification tokens.
type DeviceStore interface {
	// SaveDeviceToken registers a token for a user. Re-registering moves the token.
	SaveDeviceToken(ctx context.Context, uid, token string) error

	// ListDeviceTokens returns the tokens of the given users. Empty uids means all users.
	ListDeviceTokens(ctx context.Context, uids []string) ([]*DeviceToken, error)

	// DeleteDeviceToken removes a token.
	DeleteDeviceToken(ctx context.Context, token string) error
}

// Store aggregates all storage interfaces.
type Store interface {
	UserStore
	GroupStore
	MessageStore
	BlockStore
	DeviceStore

	// Close closes the underlying database connection.
	Close() error
}
