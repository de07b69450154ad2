package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/roomfeed/internal/chat"
	"github.com/vovakirdan/roomfeed/internal/proto"
)

// RoomHandlers provides HTTP handlers for groups and room maintenance.
type RoomHandlers struct {
	chat *chat.Service
	log  *zerolog.Logger
}

// NewRoomHandlers creates a new room handlers instance.
func NewRoomHandlers(svc *chat.Service, logger *zerolog.Logger) *RoomHandlers {
	return &RoomHandlers{
		chat: svc,
		log:  logger,
	}
}

// CreateGroupRequest represents the create group request body.
type CreateGroupRequest struct {
	Name    string   `json:"name" binding:"required"`
	Members []string `json:"members"`
}

// AddMembersRequest represents the add members request body.
type AddMembersRequest struct {
	Members []string `json:"members" binding:"required"`
}

// ClearRoomResponse reports how many messages were removed.
type ClearRoomResponse struct {
	Deleted int64 `json:"deleted"`
}

// CreateGroup handles group creation.
// POST /api/groups
func (h *RoomHandlers) CreateGroup(c *gin.Context) {
	var req CreateGroupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}
	g, err := h.chat.CreateGroup(c.Request.Context(), currentUser(c), req.Name, req.Members)
	if err != nil {
		writeError(c, h.log, err, "failed to create group")
		return
	}
	h.log.Info().Str("group_id", g.ID).Str("user_id", g.CreatedBy).Msg("group created")
	c.JSON(http.StatusCreated, groupResponse(g))
}

// ListGroups returns the caller's groups.
// GET /api/groups
func (h *RoomHandlers) ListGroups(c *gin.Context) {
	groups, err := h.chat.ListGroups(c.Request.Context(), currentUser(c))
	if err != nil {
		writeError(c, h.log, err, "failed to list groups")
		return
	}
	response := make([]GroupResponse, 0, len(groups))
	for _, g := range groups {
		response = append(response, groupResponse(g))
	}
	c.JSON(http.StatusOK, response)
}

// GetGroup returns one group.
// GET /api/groups/:id
func (h *RoomHandlers) GetGroup(c *gin.Context) {
	g, err := h.chat.GetGroup(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, h.log, err, "failed to get group")
		return
	}
	c.JSON(http.StatusOK, groupResponse(g))
}

// AddMembers adds users to a group.
// POST /api/groups/:id/members
func (h *RoomHandlers) AddMembers(c *gin.Context) {
	var req AddMembersRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}
	g, err := h.chat.AddMembers(c.Request.Context(), currentUser(c), c.Param("id"), req.Members)
	if err != nil {
		writeError(c, h.log, err, "failed to add members")
		return
	}
	c.JSON(http.StatusOK, groupResponse(g))
}

// ClearRoom deletes every message of a room. ":room" is "default" or a group ID.
// DELETE /api/rooms/:room/messages
func (h *RoomHandlers) ClearRoom(c *gin.Context) {
	n, err := h.chat.ClearRoom(c.Request.Context(), currentUser(c), proto.ParseRoom(c.Param("room")))
	if err != nil {
		writeError(c, h.log, err, "failed to clear room")
		return
	}
	c.JSON(http.StatusOK, ClearRoomResponse{Deleted: n})
}
