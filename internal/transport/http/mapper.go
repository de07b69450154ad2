package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/roomfeed/internal/auth"
	"github.com/vovakirdan/roomfeed/internal/chat"
	"github.com/vovakirdan/roomfeed/internal/feed"
	"github.com/vovakirdan/roomfeed/internal/gif"
	"github.com/vovakirdan/roomfeed/internal/livequery"
	"github.com/vovakirdan/roomfeed/internal/media"
	"github.com/vovakirdan/roomfeed/internal/proto"
	"github.com/vovakirdan/roomfeed/internal/push"
	"github.com/vovakirdan/roomfeed/internal/store"
)

// UserResponse represents a user in API responses. Email and contact
// details are only included for the user themselves.
type UserResponse struct {
	UID         string `json:"uid"`
	DisplayName string `json:"display_name"`
	PhotoURL    string `json:"photo_url,omitempty"`
	Email       string `json:"email,omitempty"`
	PhoneNumber string `json:"phone_number,omitempty"`
	Address     string `json:"address,omitempty"`
	CreatedAt   int64  `json:"created_at"`
}

// GroupResponse represents a group in API responses.
type GroupResponse struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	CreatedBy string   `json:"created_by"`
	Members   []string `json:"members"`
	CreatedAt int64    `json:"created_at"`
}

func userResponse(u *store.User, self bool) UserResponse {
	resp := UserResponse{
		UID:         u.UID,
		DisplayName: u.DisplayName,
		PhotoURL:    u.PhotoURL,
		CreatedAt:   u.CreatedAt.UnixMilli(),
	}
	if self {
		resp.Email = u.Email
		resp.PhoneNumber = u.PhoneNumber
		resp.Address = u.Address
	}
	return resp
}

func groupResponse(g *store.Group) GroupResponse {
	members := g.Members
	if members == nil {
		members = []string{}
	}
	return GroupResponse{
		ID:        g.ID,
		Name:      g.Name,
		CreatedBy: g.CreatedBy,
		Members:   members,
		CreatedAt: g.CreatedAt.UnixMilli(),
	}
}

func messageResponse(m *store.Message) proto.Message {
	return proto.FromFeed(livequery.ToFeed(m))
}

// statusFor maps service errors to an HTTP status and a client-facing message.
// ok is false for unexpected errors.
func statusFor(err error) (status int, msg string, ok bool) {
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials):
		return http.StatusUnauthorized, "invalid credentials", true
	case errors.Is(err, auth.ErrUserExists):
		return http.StatusConflict, "user already exists", true
	case errors.Is(err, auth.ErrInvalidEmail),
		errors.Is(err, auth.ErrInvalidDisplayName),
		errors.Is(err, auth.ErrInvalidPassword),
		errors.Is(err, chat.ErrEmptyMessage),
		errors.Is(err, chat.ErrMessageTooLong),
		errors.Is(err, chat.ErrInvalidGIF),
		errors.Is(err, chat.ErrCannotBlockSelf),
		errors.Is(err, chat.ErrInvalidGroupName),
		errors.Is(err, chat.ErrInvalidName),
		errors.Is(err, push.ErrEmptyToken),
		errors.Is(err, media.ErrInvalidKey):
		return http.StatusBadRequest, err.Error(), true
	case errors.Is(err, chat.ErrForbidden):
		return http.StatusForbidden, "forbidden", true
	case errors.Is(err, chat.ErrMessageNotFound),
		errors.Is(err, chat.ErrUserNotFound),
		errors.Is(err, feed.ErrRoomNotFound):
		return http.StatusNotFound, err.Error(), true
	case errors.Is(err, media.ErrTooLarge):
		return http.StatusRequestEntityTooLarge, "upload too large", true
	case errors.Is(err, gif.ErrNotConfigured), errors.Is(err, chat.ErrMediaDisabled):
		return http.StatusServiceUnavailable, err.Error(), true
	default:
		return http.StatusInternalServerError, "internal server error", false
	}
}

func writeError(c *gin.Context, logger *zerolog.Logger, err error, what string) {
	status, msg, ok := statusFor(err)
	if !ok {
		logger.Error().Err(err).Str("path", c.Request.URL.Path).Msg(what)
	}
	c.JSON(status, ErrorResponse{Error: msg})
}
