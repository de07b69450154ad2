package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/roomfeed/internal/chat"
	"github.com/vovakirdan/roomfeed/internal/proto"
	"github.com/vovakirdan/roomfeed/internal/store"
)

// MessageHandlers provides HTTP handlers for posting and deleting messages.
type MessageHandlers struct {
	chat *chat.Service
	log  *zerolog.Logger
}

// NewMessageHandlers creates a new message handlers instance.
func NewMessageHandlers(svc *chat.Service, logger *zerolog.Logger) *MessageHandlers {
	return &MessageHandlers{
		chat: svc,
		log:  logger,
	}
}

// SendMessageRequest is a text or GIF message. Exactly one of Text and GifURL is used;
// GifURL wins when both are set.
type SendMessageRequest struct {
	Room   string `json:"room"`
	Text   string `json:"text"`
	GifURL string `json:"gif_url"`
}

// Send posts a text or GIF message.
// POST /api/messages
func (h *MessageHandlers) Send(c *gin.Context) {
	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	ctx := c.Request.Context()
	room := proto.ParseRoom(req.Room)
	var (
		msg *store.Message
		err error
	)
	if req.GifURL != "" {
		msg, err = h.chat.SendGIF(ctx, currentUser(c), room, req.GifURL)
	} else {
		msg, err = h.chat.SendText(ctx, currentUser(c), room, req.Text)
	}
	if err != nil {
		writeError(c, h.log, err, "failed to send message")
		return
	}
	c.JSON(http.StatusCreated, messageResponse(msg))
}

// SendImage uploads an image and posts it.
// POST /api/messages/image (multipart fields "room" and "file")
func (h *MessageHandlers) SendImage(c *gin.Context) {
	fh, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "file is required"})
		return
	}
	f, err := fh.Open()
	if err != nil {
		writeError(c, h.log, err, "failed to open upload")
		return
	}
	defer f.Close()

	room := proto.ParseRoom(c.PostForm("room"))
	msg, err := h.chat.SendImage(c.Request.Context(), currentUser(c), room, fh.Filename, f)
	if err != nil {
		writeError(c, h.log, err, "failed to send image")
		return
	}
	c.JSON(http.StatusCreated, messageResponse(msg))
}

// Delete removes one of the caller's messages.
// DELETE /api/messages/:id
func (h *MessageHandlers) Delete(c *gin.Context) {
	if err := h.chat.DeleteMessage(c.Request.Context(), currentUser(c), c.Param("id")); err != nil {
		writeError(c, h.log, err, "failed to delete message")
		return
	}
	c.Status(http.StatusNoContent)
}
