package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/harborapp/harbor/internal/bus"
	"github.com/harborapp/harbor/internal/database"
	"github.com/harborapp/harbor/internal/models"
)

// GetUser returns a user's public profile
// GET /api/v1/users/:id
func (h *Handlers) GetUser(c *gin.Context) {
	var user models.User
	if err := database.DB.First(&user, "id = ?", c.Param("id")).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "user_not_found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": user})
}

// UpdateProfile updates the caller's own profile and broadcasts the
// change so open clients refresh cached names and avatars
// PUT /api/v1/users/me
func (h *Handlers) UpdateProfile(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not_authenticated"})
		return
	}

	var req struct {
		DisplayName string `json:"display_name" binding:"required,min=1,max=50"`
		Bio         string `json:"bio" binding:"max=500"`
		AvatarURL   string `json:"avatar_url" binding:"max=2048"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}

	user.DisplayName = req.DisplayName
	user.Bio = req.Bio
	user.AvatarURL = req.AvatarURL
	if err := database.DB.Save(user).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed_to_update_profile"})
		return
	}

	evt, err := bus.NewBroadcast(bus.ChannelUserUpdated, bus.UserUpdatedPayload{
		UserID:      user.ID,
		Username:    user.Username,
		DisplayName: user.DisplayName,
		AvatarURL:   user.AvatarURL,
	})
	h.publish(c.Request.Context(), evt, err)

	c.JSON(http.StatusOK, gin.H{"user": user})
}
