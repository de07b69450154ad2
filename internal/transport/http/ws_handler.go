package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	stdhttp "net/http"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/roomfeed/internal/auth"
	"github.com/vovakirdan/roomfeed/internal/feed"
	"github.com/vovakirdan/roomfeed/internal/proto"
)

const outboundBuffer = 16

// WSHandler upgrades HTTP connections and streams room snapshots over them.
// Each connection holds at most one subscription; subscribing again replaces it.
type WSHandler struct {
	stream feed.ChangeStream
	auth   *auth.Service
	log    *zerolog.Logger
}

// NewWSHandler builds a new WebSocket handler.
func NewWSHandler(stream feed.ChangeStream, authService *auth.Service, logger *zerolog.Logger) stdhttp.Handler {
	return &WSHandler{stream: stream, auth: authService, log: logger}
}

func (h *WSHandler) ServeHTTP(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		token, _ = bearerToken(r.Header.Get("Authorization"))
	}
	claims, err := h.auth.ValidateToken(token)
	if err != nil {
		h.log.Debug().Err(err).Msg("ws rejected: invalid token")
		stdhttp.Error(w, "invalid token", stdhttp.StatusUnauthorized)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.log.Error().Err(err).Msg("ws accept error")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "internal error")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	s := &wsSession{
		id:     uuid.NewString(),
		uid:    claims.UID,
		stream: h.stream,
		out:    make(chan proto.Outbound, outboundBuffer),
	}
	l := h.log.With().Str("conn_id", s.id).Str("user_id", s.uid).Logger()
	s.log = &l
	defer s.unsubscribe()

	errCh := make(chan error, 2)
	go func() {
		errCh <- s.readLoop(ctx, conn)
	}()
	go func() {
		errCh <- s.writeLoop(ctx, conn)
	}()

	err = <-errCh
	cancel() // stop the other goroutine
	<-errCh

	status := websocket.StatusNormalClosure
	reason := "closing"
	if err != nil && !errors.Is(err, context.Canceled) {
		if errors.Is(err, io.EOF) {
			err = nil
		}
		if code := websocket.CloseStatus(err); code != -1 {
			status = code
		}
		if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
			err = nil
		}
		if err != nil {
			if status == websocket.StatusNormalClosure {
				status = websocket.StatusInternalError
			}
			reason = err.Error()
			s.log.Warn().Err(err).Msg("ws connection closed with error")
		}
	}

	conn.Close(status, reason)
}

// wsSession is the state of one feed connection.
type wsSession struct {
	id     string
	uid    string
	stream feed.ChangeStream
	log    *zerolog.Logger
	out    chan proto.Outbound

	// sub is only touched by readLoop and the deferred unsubscribe after it exits.
	sub feed.Subscription
}

func (s *wsSession) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		var inbound proto.Inbound
		if err := wsjson.Read(ctx, conn, &inbound); err != nil {
			return err
		}

		switch inbound.Type {
		case proto.InboundTypeSubscribe:
			var data proto.SubscribeData
			if len(inbound.Data) > 0 {
				if err := json.Unmarshal(inbound.Data, &data); err != nil {
					s.send(ctx, proto.NewError(proto.ErrCodeBadRequest, "invalid subscribe data", feed.DefaultRoom))
					continue
				}
			}
			s.subscribe(ctx, proto.ParseRoom(data.Room))
		case proto.InboundTypeUnsubscribe:
			s.unsubscribe()
		default:
			s.send(ctx, proto.NewError(proto.ErrCodeBadRequest, "unknown message type", feed.DefaultRoom))
		}
	}
}

func (s *wsSession) subscribe(ctx context.Context, room feed.Room) {
	s.unsubscribe()

	sub, err := s.stream.Subscribe(ctx, room, func(b feed.Batch) {
		if b.Err != nil {
			code := proto.ErrCodeStream
			if errors.Is(b.Err, feed.ErrRoomNotFound) {
				code = proto.ErrCodeRoomNotFound
			}
			s.send(ctx, proto.NewError(code, b.Err.Error(), b.Room))
			return
		}
		s.send(ctx, proto.NewSnapshot(b))
	})
	if err != nil {
		if errors.Is(err, feed.ErrRoomNotFound) {
			s.send(ctx, proto.NewError(proto.ErrCodeRoomNotFound, "room not found", room))
			return
		}
		s.log.Error().Err(err).Str("room", room.String()).Msg("subscribe failed")
		s.send(ctx, proto.NewError(proto.ErrCodeStream, "subscribe failed", room))
		return
	}
	s.sub = sub
	s.log.Debug().Str("room", room.String()).Msg("subscribed")
}

func (s *wsSession) unsubscribe() {
	if s.sub == nil {
		return
	}
	_ = s.sub.Close()
	s.sub = nil
}

// send queues a frame; it gives up when the connection is going away.
func (s *wsSession) send(ctx context.Context, out proto.Outbound) {
	select {
	case s.out <- out:
	case <-ctx.Done():
	}
}

func (s *wsSession) writeLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		select {
		case out := <-s.out:
			if err := wsjson.Write(ctx, conn, out); err != nil {
				s.log.Error().Err(err).Msg("write ws frame")
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
