package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/roomfeed/internal/gif"
	"github.com/vovakirdan/roomfeed/internal/push"
)

// MiscHandlers serves GIF search and device registration.
type MiscHandlers struct {
	gifs gif.Searcher
	push *push.Dispatcher
	log  *zerolog.Logger
}

// NewMiscHandlers creates a new misc handlers instance. gifs may be nil.
func NewMiscHandlers(gifs gif.Searcher, dispatcher *push.Dispatcher, logger *zerolog.Logger) *MiscHandlers {
	return &MiscHandlers{gifs: gifs, push: dispatcher, log: logger}
}

// RegisterDeviceRequest registers a push token.
type RegisterDeviceRequest struct {
	Token string `json:"token" binding:"required"`
}

// SearchGIFs returns GIFs for q, or featured GIFs when q is blank.
// GET /api/gifs?q=
func (h *MiscHandlers) SearchGIFs(c *gin.Context) {
	if h.gifs == nil {
		writeError(c, h.log, gif.ErrNotConfigured, "gif search unavailable")
		return
	}
	results, err := h.gifs.Search(c.Request.Context(), c.Query("q"))
	if err != nil {
		writeError(c, h.log, err, "gif search failed")
		return
	}
	c.JSON(http.StatusOK, results)
}

// RegisterDevice stores a push token for the caller.
// POST /api/devices
func (h *MiscHandlers) RegisterDevice(c *gin.Context) {
	var req RegisterDeviceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}
	if err := h.push.Register(c.Request.Context(), currentUser(c), req.Token); err != nil {
		writeError(c, h.log, err, "failed to register device")
		return
	}
	c.Status(http.StatusNoContent)
}

// UnregisterDevice removes a push token.
// DELETE /api/devices/:token
func (h *MiscHandlers) UnregisterDevice(c *gin.Context) {
	if err := h.push.Unregister(c.Request.Context(), c.Param("token")); err != nil {
		writeError(c, h.log, err, "failed to unregister device")
		return
	}
	c.Status(http.StatusNoContent)
}
