package livequery

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/roomfeed/internal/feed"
)

// DefaultChannel is the pub/sub channel used when none is configured.
const DefaultChannel = "roomfeed:changes"

const (
	defaultRoomPayload = "default"
	groupPrefix        = "group:"
)

// RedisNotifier fans room changes out to every server instance through Redis pub/sub.
type RedisNotifier struct {
	rdb     *redis.Client
	channel string
	log     *zerolog.Logger
}

// NewRedisNotifier creates a notifier publishing on channel.
func NewRedisNotifier(rdb *redis.Client, channel string, logger *zerolog.Logger) *RedisNotifier {
	if channel == "" {
		channel = DefaultChannel
	}
	l := logger.With().Str("component", "livequery.redis").Str("channel", channel).Logger()
	return &RedisNotifier{rdb: rdb, channel: channel, log: &l}
}

// Notify publishes a change for room.
func (n *RedisNotifier) Notify(ctx context.Context, room feed.Room) error {
	if err := n.rdb.Publish(ctx, n.channel, EncodeRoom(room)).Err(); err != nil {
		return fmt.Errorf("publish room change: %w", err)
	}
	return nil
}

// Run relays published changes into hub until ctx is done.
func (n *RedisNotifier) Run(ctx context.Context, hub *Hub) error {
	sub := n.rdb.Subscribe(ctx, n.channel)
	defer sub.Close()

	// Wait for the subscription to be confirmed before relaying.
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", n.channel, err)
	}
	n.log.Info().Msg("relaying room changes from redis")

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			room, err := DecodeRoom(msg.Payload)
			if err != nil {
				n.log.Warn().Err(err).Str("payload", msg.Payload).Msg("ignoring malformed room change")
				continue
			}
			hub.Refresh(ctx, room)
		}
	}
}

// EncodeRoom renders a room as a pub/sub payload.
func EncodeRoom(room feed.Room) string {
	if room.IsDefault() {
		return defaultRoomPayload
	}
	return groupPrefix + string(room)
}

// DecodeRoom parses a payload produced by EncodeRoom.
func DecodeRoom(payload string) (feed.Room, error) {
	if payload == defaultRoomPayload {
		return feed.DefaultRoom, nil
	}
	id, ok := strings.CutPrefix(payload, groupPrefix)
	if !ok || id == "" {
		return feed.DefaultRoom, fmt.Errorf("unknown room payload %q", payload)
	}
	return feed.Room(id), nil
}
