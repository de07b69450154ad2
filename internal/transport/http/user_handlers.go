package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/roomfeed/internal/chat"
	"github.com/vovakirdan/roomfeed/internal/store"
)

// UserHandlers provides HTTP handlers for profiles and block lists.
type UserHandlers struct {
	chat *chat.Service
	log  *zerolog.Logger
}

// NewUserHandlers creates a new user handlers instance.
func NewUserHandlers(svc *chat.Service, logger *zerolog.Logger) *UserHandlers {
	return &UserHandlers{
		chat: svc,
		log:  logger,
	}
}

// UpdateProfileRequest represents the profile update body. Omitted fields are unchanged.
type UpdateProfileRequest struct {
	DisplayName *string `json:"display_name"`
	PhoneNumber *string `json:"phone_number"`
	Address     *string `json:"address"`
}

// BlocksResponse lists blocked user IDs.
type BlocksResponse struct {
	Blocked []string `json:"blocked"`
}

// Me returns the caller's profile.
// GET /api/me
func (h *UserHandlers) Me(c *gin.Context) {
	u, err := h.chat.Profile(c.Request.Context(), currentUser(c))
	if err != nil {
		writeError(c, h.log, err, "failed to load profile")
		return
	}
	c.JSON(http.StatusOK, userResponse(u, true))
}

// UpdateMe edits the caller's profile.
// PUT /api/me
func (h *UserHandlers) UpdateMe(c *gin.Context) {
	var req UpdateProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}
	u, err := h.chat.UpdateProfile(c.Request.Context(), currentUser(c), store.ProfileUpdate{
		DisplayName: req.DisplayName,
		PhoneNumber: req.PhoneNumber,
		Address:     req.Address,
	})
	if err != nil {
		writeError(c, h.log, err, "failed to update profile")
		return
	}
	c.JSON(http.StatusOK, userResponse(u, true))
}

// UploadAvatar replaces the caller's profile picture.
// POST /api/me/avatar (multipart field "file")
func (h *UserHandlers) UploadAvatar(c *gin.Context) {
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

	u, err := h.chat.UploadAvatar(c.Request.Context(), currentUser(c), f)
	if err != nil {
		writeError(c, h.log, err, "failed to upload avatar")
		return
	}
	c.JSON(http.StatusOK, userResponse(u, true))
}

// ListUsers returns the author directory.
// GET /api/users
func (h *UserHandlers) ListUsers(c *gin.Context) {
	users, err := h.chat.Authors(c.Request.Context())
	if err != nil {
		writeError(c, h.log, err, "failed to list users")
		return
	}
	me := currentUser(c)
	response := make([]UserResponse, 0, len(users))
	for _, u := range users {
		response = append(response, userResponse(u, u.UID == me))
	}
	c.JSON(http.StatusOK, response)
}

// GetUser returns one user's public profile.
// GET /api/users/:uid
func (h *UserHandlers) GetUser(c *gin.Context) {
	uid := c.Param("uid")
	u, err := h.chat.Profile(c.Request.Context(), uid)
	if err != nil {
		writeError(c, h.log, err, "failed to load user")
		return
	}
	c.JSON(http.StatusOK, userResponse(u, uid == currentUser(c)))
}

// ListBlocks returns the caller's block list.
// GET /api/blocks
func (h *UserHandlers) ListBlocks(c *gin.Context) {
	ids, err := h.chat.BlockedUsers(c.Request.Context(), currentUser(c))
	if err != nil {
		writeError(c, h.log, err, "failed to list blocks")
		return
	}
	if ids == nil {
		ids = []string{}
	}
	c.JSON(http.StatusOK, BlocksResponse{Blocked: ids})
}

// Block adds a user to the caller's block list.
// POST /api/blocks/:uid
func (h *UserHandlers) Block(c *gin.Context) {
	if err := h.chat.Block(c.Request.Context(), currentUser(c), c.Param("uid")); err != nil {
		writeError(c, h.log, err, "failed to block user")
		return
	}
	c.Status(http.StatusNoContent)
}

// Unblock removes a user from the caller's block list.
// DELETE /api/blocks/:uid
func (h *UserHandlers) Unblock(c *gin.Context) {
	if err := h.chat.Unblock(c.Request.Context(), currentUser(c), c.Param("uid")); err != nil {
		writeError(c, h.log, err, "failed to unblock user")
		return
	}
	c.Status(http.StatusNoContent)
}
