package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/roomfeed/internal/feed"
	"github.com/vovakirdan/roomfeed/internal/proto"
)

// Stream is a feed.ChangeStream backed by the server's /ws socket.
// Each subscription uses its own connection.
type Stream struct {
	client *Client
	log    *zerolog.Logger
}

// NewStream creates a stream that authenticates with c's token.
func NewStream(c *Client, logger *zerolog.Logger) *Stream {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	l := logger.With().Str("component", "client.stream").Logger()
	return &Stream{client: c, log: &l}
}

func (s *Stream) wsURL() (string, error) {
	u, err := url.Parse(s.client.baseURL)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	u.RawQuery = url.Values{"token": {s.client.Token()}}.Encode()
	return u.String(), nil
}

// Subscribe opens a socket, subscribes to room and waits for the first frame.
// A missing room is reported as feed.ErrRoomNotFound. The socket stays open
// until Close or until ctx is done; the latter delivers a final batch carrying
// ctx.Err(). Close must not be called from inside deliver.
func (s *Stream) Subscribe(ctx context.Context, room feed.Room, deliver func(feed.Batch)) (feed.Subscription, error) {
	addr, err := s.wsURL()
	if err != nil {
		return nil, err
	}
	conn, _, err := websocket.Dial(ctx, addr, nil)
	if err != nil {
		return nil, fmt.Errorf("dial feed: %w", err)
	}
	conn.SetReadLimit(16 << 20)

	data, err := json.Marshal(proto.SubscribeData{Room: proto.RoomName(room)})
	if err != nil {
		conn.Close(websocket.StatusInternalError, "marshal")
		return nil, fmt.Errorf("marshal subscribe: %w", err)
	}
	if err := wsjson.Write(ctx, conn, proto.Inbound{Type: proto.InboundTypeSubscribe, Data: data}); err != nil {
		conn.Close(websocket.StatusInternalError, "write")
		return nil, fmt.Errorf("send subscribe: %w", err)
	}

	first, err := readBatch(ctx, conn, room)
	if err != nil {
		conn.Close(websocket.StatusNormalClosure, "subscribe failed")
		return nil, err
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &streamSub{conn: conn, cancel: cancel, done: make(chan struct{})}
	deliver(first)
	go sub.readLoop(ctx, subCtx, room, deliver, s.log)
	return sub, nil
}

// readBatch reads one frame. Error frames received before the first snapshot
// are returned as errors.
func readBatch(ctx context.Context, conn *websocket.Conn, room feed.Room) (feed.Batch, error) {
	var frame proto.Frame
	if err := wsjson.Read(ctx, conn, &frame); err != nil {
		return feed.Batch{}, fmt.Errorf("read feed: %w", err)
	}
	switch frame.Type {
	case proto.OutboundTypeSnapshot:
		var snap proto.Snapshot
		if err := json.Unmarshal(frame.Data, &snap); err != nil {
			return feed.Batch{}, fmt.Errorf("decode snapshot: %w", err)
		}
		msgs := make([]feed.Message, 0, len(snap.Messages))
		for _, m := range snap.Messages {
			msgs = append(msgs, m.ToFeed())
		}
		return feed.Batch{Room: proto.ParseRoom(snap.Room), Messages: msgs}, nil
	case proto.OutboundTypeError:
		if frame.Error != nil && frame.Error.Code == proto.ErrCodeRoomNotFound {
			return feed.Batch{}, feed.ErrRoomNotFound
		}
		msg := "unknown error"
		if frame.Error != nil {
			msg = frame.Error.Msg
		}
		return feed.Batch{}, fmt.Errorf("feed error: %s", msg)
	default:
		return feed.Batch{}, fmt.Errorf("unexpected frame %q", frame.Type)
	}
}

type streamSub struct {
	conn    *websocket.Conn
	cancel  context.CancelFunc
	done    chan struct{}
	once    sync.Once
	closing atomic.Bool
}

// readLoop runs until Close cancels ctx or parent ends.
func (s *streamSub) readLoop(parent, ctx context.Context, room feed.Room, deliver func(feed.Batch), logger *zerolog.Logger) {
	defer close(s.done)
	for {
		b, err := readBatch(ctx, s.conn, room)
		if ctx.Err() != nil {
			if perr := parent.Err(); perr != nil && !s.closing.Load() {
				deliver(feed.Batch{Room: room, Err: perr})
			}
			return
		}
		if err != nil {
			if !errors.Is(err, feed.ErrRoomNotFound) {
				logger.Warn().Err(err).Str("room", room.String()).Msg("feed stream failed")
			}
			deliver(feed.Batch{Room: room, Err: err})
			if errors.Is(err, feed.ErrRoomNotFound) {
				continue
			}
			return
		}
		deliver(b)
	}
}

// Close ends the subscription and waits for the reader to stop.
func (s *streamSub) Close() error {
	s.once.Do(func() {
		s.closing.Store(true)
		s.cancel()
		s.conn.Close(websocket.StatusNormalClosure, "unsubscribe")
		<-s.done
	})
	return nil
}
