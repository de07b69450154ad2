// Package chat implements the write side of the chat: posting and deleting
// messages, group management, block lists and profiles. Every write that
// changes a room notifies the live query layer.
package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/roomfeed/internal/feed"
	"github.com/vovakirdan/roomfeed/internal/livequery"
	"github.com/vovakirdan/roomfeed/internal/media"
	"github.com/vovakirdan/roomfeed/internal/push"
	"github.com/vovakirdan/roomfeed/internal/store"
)

// Common errors for chat operations.
var (
	ErrEmptyMessage     = errors.New("message is empty")
	ErrMessageTooLong   = errors.New("message too long")
	ErrInvalidGIF       = errors.New("gif url is invalid")
	ErrForbidden        = errors.New("not allowed")
	ErrMessageNotFound  = errors.New("message not found")
	ErrUserNotFound     = errors.New("user not found")
	ErrCannotBlockSelf  = errors.New("cannot block yourself")
	ErrInvalidGroupName = errors.New("group name must be 1-64 characters")
	ErrInvalidName      = errors.New("display name must be 1-64 characters")
	ErrMediaDisabled    = errors.New("media storage not configured")
)

const maxNameLength = 64

// Options tune service limits.
type Options struct {
	MaxMessageBytes int
	MaxUploadBytes  int64
}

// Service provides chat business logic.
type Service struct {
	store    store.Store
	notifier livequery.Notifier
	media    *media.Storage
	push     *push.Dispatcher
	opts     Options
	log      *zerolog.Logger
	now      func() time.Time
}

// NewService wires the chat service. media and dispatcher may be nil.
func NewService(st store.Store, notifier livequery.Notifier, storage *media.Storage, dispatcher *push.Dispatcher, opts Options, logger *zerolog.Logger) *Service {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	if opts.MaxMessageBytes <= 0 {
		opts.MaxMessageBytes = 4096
	}
	l := logger.With().Str("component", "chat").Logger()
	return &Service{
		store:    st,
		notifier: notifier,
		media:    storage,
		push:     dispatcher,
		opts:     opts,
		log:      &l,
		now:      time.Now,
	}
}

// ==== Messages ====

// SendText posts a text message to room.
func (s *Service) SendText(ctx context.Context, uid string, room feed.Room, text string) (*store.Message, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyMessage
	}
	if len(text) > s.opts.MaxMessageBytes {
		return nil, ErrMessageTooLong
	}
	return s.post(ctx, uid, room, &store.Message{Text: text})
}

// SendGIF posts a GIF picked from the search provider.
func (s *Service) SendGIF(ctx context.Context, uid string, room feed.Room, gifURL string) (*store.Message, error) {
	gifURL = strings.TrimSpace(gifURL)
	if !strings.HasPrefix(gifURL, "https://") && !strings.HasPrefix(gifURL, "http://") {
		return nil, ErrInvalidGIF
	}
	return s.post(ctx, uid, room, &store.Message{GifURL: gifURL})
}

// SendImage uploads an image and posts it to room.
func (s *Service) SendImage(ctx context.Context, uid string, room feed.Room, filename string, r io.Reader) (*store.Message, error) {
	if s.media == nil {
		return nil, ErrMediaDisabled
	}
	if _, err := s.roomAccess(ctx, uid, room); err != nil {
		return nil, err
	}
	key := fmt.Sprintf("chat_images/%d_%s", s.now().UnixMilli(), media.SanitizeFilename(filename))
	url, err := s.media.Put(ctx, key, r, s.opts.MaxUploadBytes)
	if err != nil {
		return nil, fmt.Errorf("store image: %w", err)
	}
	return s.post(ctx, uid, room, &store.Message{ImageURL: url})
}

func (s *Service) post(ctx context.Context, uid string, room feed.Room, msg *store.Message) (*store.Message, error) {
	groupID, err := s.roomAccess(ctx, uid, room)
	if err != nil {
		return nil, err
	}
	name, err := s.displayName(ctx, uid)
	if err != nil {
		return nil, err
	}

	msg.UserID = uid
	msg.Username = name
	msg.GroupID = groupID
	msg.CreatedAt = s.now().UTC()
	if err := s.store.SaveMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("save message: %w", err)
	}

	s.changed(ctx, room)
	if s.push != nil {
		if _, err := s.push.MessageCreated(ctx, msg); err != nil {
			s.log.Warn().Err(err).Str("message_id", msg.ID).Msg("push dispatch failed")
		}
	}
	return msg, nil
}

// DeleteMessage removes a message. Only its author may delete it.
func (s *Service) DeleteMessage(ctx context.Context, uid, id string) error {
	msg, err := s.store.GetMessage(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrMessageNotFound
		}
		return fmt.Errorf("get message: %w", err)
	}
	if msg.UserID != uid {
		return ErrForbidden
	}
	if err := s.store.DeleteMessage(ctx, id); err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	s.changed(ctx, roomOf(msg.GroupID))
	return nil
}

// ClearRoom deletes every message in room and returns the count.
func (s *Service) ClearRoom(ctx context.Context, uid string, room feed.Room) (int64, error) {
	groupID, err := s.roomAccess(ctx, uid, room)
	if err != nil {
		return 0, err
	}
	n, err := s.store.DeleteRoomMessages(ctx, groupID)
	if err != nil {
		return 0, fmt.Errorf("clear room: %w", err)
	}
	s.changed(ctx, room)
	s.log.Info().Str("room", room.String()).Int64("deleted", n).Str("user_id", uid).Msg("room cleared")
	return n, nil
}

// roomAccess resolves room to a store group ID and checks that uid may write to it.
func (s *Service) roomAccess(ctx context.Context, uid string, room feed.Room) (*string, error) {
	if room.IsDefault() {
		return nil, nil
	}
	g, err := s.store.GetGroup(ctx, string(room))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, feed.ErrRoomNotFound
		}
		return nil, fmt.Errorf("get group: %w", err)
	}
	if !g.HasMember(uid) {
		return nil, ErrForbidden
	}
	id := g.ID
	return &id, nil
}

func (s *Service) changed(ctx context.Context, room feed.Room) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, room); err != nil {
		s.log.Warn().Err(err).Str("room", room.String()).Msg("room change notification failed")
	}
}

func (s *Service) displayName(ctx context.Context, uid string) (string, error) {
	u, err := s.store.GetUser(ctx, uid)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return feed.AnonymousName, nil
		}
		return "", fmt.Errorf("get user: %w", err)
	}
	if strings.TrimSpace(u.DisplayName) == "" {
		return feed.AnonymousName, nil
	}
	return u.DisplayName, nil
}

func roomOf(groupID *string) feed.Room {
	if groupID == nil {
		return feed.DefaultRoom
	}
	return feed.Room(*groupID)
}

// ==== Groups ====

// CreateGroup creates a group. The creator is always a member.
func (s *Service) CreateGroup(ctx context.Context, uid, name string, members []string) (*store.Group, error) {
	name = strings.TrimSpace(name)
	if name == "" || utf8.RuneCountInString(name) > maxNameLength {
		return nil, ErrInvalidGroupName
	}
	g := &store.Group{
		Name:      name,
		CreatedBy: uid,
		Members:   dedupe(append([]string{uid}, members...)),
		CreatedAt: s.now().UTC(),
	}
	if err := s.store.CreateGroup(ctx, g); err != nil {
		return nil, fmt.Errorf("create group: %w", err)
	}
	return g, nil
}

// ListGroups returns the groups uid belongs to.
func (s *Service) ListGroups(ctx context.Context, uid string) ([]*store.Group, error) {
	groups, err := s.store.ListGroupsForMember(ctx, uid)
	if err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}
	return groups, nil
}

// GetGroup returns a group by ID.
func (s *Service) GetGroup(ctx context.Context, id string) (*store.Group, error) {
	g, err := s.store.GetGroup(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, feed.ErrRoomNotFound
		}
		return nil, fmt.Errorf("get group: %w", err)
	}
	return g, nil
}

// AddMembers adds users to a group uid belongs to.
func (s *Service) AddMembers(ctx context.Context, uid, groupID string, members []string) (*store.Group, error) {
	if _, err := s.roomAccess(ctx, uid, feed.Room(groupID)); err != nil {
		return nil, err
	}
	if err := s.store.AddMembers(ctx, groupID, dedupe(members)); err != nil {
		return nil, fmt.Errorf("add members: %w", err)
	}
	return s.GetGroup(ctx, groupID)
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// ==== Blocks ====

// BlockedUsers returns the UIDs uid has blocked.
func (s *Service) BlockedUsers(ctx context.Context, uid string) ([]string, error) {
	ids, err := s.store.ListBlocked(ctx, uid)
	if err != nil {
		return nil, fmt.Errorf("list blocked: %w", err)
	}
	return ids, nil
}

// Block hides target's messages from uid.
func (s *Service) Block(ctx context.Context, uid, target string) error {
	if uid == target {
		return ErrCannotBlockSelf
	}
	if _, err := s.store.GetUser(ctx, target); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrUserNotFound
		}
		return fmt.Errorf("get user: %w", err)
	}
	if err := s.store.Block(ctx, uid, target); err != nil {
		return fmt.Errorf("block: %w", err)
	}
	return nil
}

// Unblock removes target from uid's block list. Unblocking someone who is not blocked is a no-op.
func (s *Service) Unblock(ctx context.Context, uid, target string) error {
	if err := s.store.Unblock(ctx, uid, target); err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("unblock: %w", err)
	}
	return nil
}

// ==== Profiles ====

// Profile returns a user's profile.
func (s *Service) Profile(ctx context.Context, uid string) (*store.User, error) {
	u, err := s.store.GetUser(ctx, uid)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

// UpdateProfile applies the non-nil fields of upd.
func (s *Service) UpdateProfile(ctx context.Context, uid string, upd store.ProfileUpdate) (*store.User, error) {
	if upd.DisplayName != nil {
		name := strings.TrimSpace(*upd.DisplayName)
		if name == "" || utf8.RuneCountInString(name) > maxNameLength {
			return nil, ErrInvalidName
		}
		upd.DisplayName = &name
	}
	u, err := s.store.UpdateProfile(ctx, uid, upd)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("update profile: %w", err)
	}
	return u, nil
}

// UploadAvatar stores a profile picture and points the profile at it.
func (s *Service) UploadAvatar(ctx context.Context, uid string, r io.Reader) (*store.User, error) {
	if s.media == nil {
		return nil, ErrMediaDisabled
	}
	url, err := s.media.Put(ctx, "profile-pictures/"+uid, r, s.opts.MaxUploadBytes)
	if err != nil {
		return nil, fmt.Errorf("store avatar: %w", err)
	}
	return s.UpdateProfile(ctx, uid, store.ProfileUpdate{PhotoURL: &url})
}

// Authors lists every user ordered by display name. Blank display names
// are reported as feed.AnonymousName.
func (s *Service) Authors(ctx context.Context) ([]*store.User, error) {
	users, err := s.store.ListUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	for _, u := range users {
		if strings.TrimSpace(u.DisplayName) == "" {
			u.DisplayName = feed.AnonymousName
		}
	}
	return users, nil
}
