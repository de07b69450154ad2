// Package push delivers new-message notifications to registered devices.
package push

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/roomfeed/internal/store"
)

// ErrEmptyToken is returned when registering a blank device token.
var ErrEmptyToken = errors.New("device token is empty")

// Notification is one device-bound alert.
type Notification struct {
	Token string
	Title string
	Body  string
	Data  map[string]string
}

// Sender hands notifications to a delivery provider.
type Sender interface {
	Send(ctx context.Context, n Notification) error
}

// Storage is what the dispatcher needs from the store.
type Storage interface {
	store.DeviceStore
	ListUsers(ctx context.Context) ([]*store.User, error)
	GetGroup(ctx context.Context, id string) (*store.Group, error)
	ListBlocked(ctx context.Context, uid string) ([]string, error)
}

// Dispatcher resolves recipients and fans out notifications.
type Dispatcher struct {
	store  Storage
	sender Sender
	log    *zerolog.Logger
}

// NewDispatcher creates a dispatcher. A nil sender logs notifications instead of sending them.
func NewDispatcher(st Storage, sender Sender, logger *zerolog.Logger) *Dispatcher {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	l := logger.With().Str("component", "push").Logger()
	if sender == nil {
		sender = LogSender{Log: &l}
	}
	return &Dispatcher{store: st, sender: sender, log: &l}
}

// Register stores a device token for uid.
func (d *Dispatcher) Register(ctx context.Context, uid, token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return ErrEmptyToken
	}
	if err := d.store.SaveDeviceToken(ctx, uid, token); err != nil {
		return fmt.Errorf("save device token: %w", err)
	}
	return nil
}

// Unregister removes a device token.
func (d *Dispatcher) Unregister(ctx context.Context, token string) error {
	if err := d.store.DeleteDeviceToken(ctx, token); err != nil {
		return fmt.Errorf("delete device token: %w", err)
	}
	return nil
}

// MessageCreated notifies everyone in the message's room except its author and
// users who blocked the author. It returns the number of notifications sent.
func (d *Dispatcher) MessageCreated(ctx context.Context, msg *store.Message) (int, error) {
	members, err := d.roomMembers(ctx, msg.GroupID)
	if err != nil {
		return 0, err
	}

	recipients := make([]string, 0, len(members))
	for _, uid := range members {
		if uid == msg.UserID {
			continue
		}
		blocked, err := d.store.ListBlocked(ctx, uid)
		if err != nil {
			return 0, fmt.Errorf("list blocked for %s: %w", uid, err)
		}
		if contains(blocked, msg.UserID) {
			continue
		}
		recipients = append(recipients, uid)
	}
	if len(recipients) == 0 {
		return 0, nil
	}

	tokens, err := d.store.ListDeviceTokens(ctx, recipients)
	if err != nil {
		return 0, fmt.Errorf("list device tokens: %w", err)
	}

	title := msg.Username
	body := Body(msg)
	data := map[string]string{"message_id": msg.ID}
	if msg.GroupID != nil {
		data["group_id"] = *msg.GroupID
	}

	sent := 0
	for _, t := range tokens {
		n := Notification{Token: t.Token, Title: title, Body: body, Data: data}
		if err := d.sender.Send(ctx, n); err != nil {
			d.log.Warn().Err(err).Str("user_id", t.UserID).Msg("push delivery failed")
			continue
		}
		sent++
	}
	return sent, nil
}

func (d *Dispatcher) roomMembers(ctx context.Context, groupID *string) ([]string, error) {
	if groupID == nil {
		users, err := d.store.ListUsers(ctx)
		if err != nil {
			return nil, fmt.Errorf("list users: %w", err)
		}
		out := make([]string, 0, len(users))
		for _, u := range users {
			out = append(out, u.UID)
		}
		return out, nil
	}
	g, err := d.store.GetGroup(ctx, *groupID)
	if err != nil {
		return nil, fmt.Errorf("get group: %w", err)
	}
	return g.Members, nil
}

// Body renders the notification text for msg.
func Body(msg *store.Message) string {
	switch {
	case strings.TrimSpace(msg.Text) != "":
		return msg.Text
	case msg.GifURL != "":
		return "sent a GIF"
	case msg.ImageURL != "":
		return "sent an image"
	default:
		return "sent a message"
	}
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

// LogSender writes notifications to the log. It stands in for a provider in development.
type LogSender struct {
	Log *zerolog.Logger
}

// Send logs n.
func (s LogSender) Send(_ context.Context, n Notification) error {
	s.Log.Info().
		Str("title", n.Title).
		Str("body", n.Body).
		Str("message_id", n.Data["message_id"]).
		Msg("push notification")
	return nil
}
