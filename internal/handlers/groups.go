package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/harborapp/harbor/internal/bus"
	"github.com/harborapp/harbor/internal/database"
	"github.com/harborapp/harbor/internal/models"
)

// CreateGroup creates a group with the caller as owner and broadcasts it
// POST /api/v1/groups
func (h *Handlers) CreateGroup(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not_authenticated"})
		return
	}

	var req struct {
		Name        string `json:"name" binding:"required,min=1,max=100"`
		Description string `json:"description" binding:"max=1000"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}

	group := models.Group{
		ID:          uuid.New().String(),
		OwnerID:     user.ID,
		Name:        req.Name,
		Description: req.Description,
	}
	if err := database.DB.Create(&group).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed_to_create_group"})
		return
	}

	member := models.GroupMember{
		GroupID: group.ID,
		UserID:  user.ID,
		Role:    "owner",
	}
	database.DB.Create(&member)

	evt, err := bus.NewBroadcast(bus.ChannelGroupCreated, bus.GroupPayload{
		GroupID: group.ID,
		OwnerID: user.ID,
		Name:    group.Name,
	})
	h.publish(c.Request.Context(), evt, err)

	c.JSON(http.StatusCreated, gin.H{"group": group})
}

// UpdateGroup renames or redescribes a group
// PUT /api/v1/groups/:id
func (h *Handlers) UpdateGroup(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not_authenticated"})
		return
	}

	var req struct {
		Name        string `json:"name" binding:"required,min=1,max=100"`
		Description string `json:"description" binding:"max=1000"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}

	var group models.Group
	if err := database.DB.First(&group, "id = ?", c.Param("id")).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "group_not_found"})
		return
	}
	if group.OwnerID != user.ID {
		c.JSON(http.StatusForbidden, gin.H{"error": "not_group_owner"})
		return
	}

	group.Name = req.Name
	group.Description = req.Description
	if err := database.DB.Save(&group).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed_to_update_group"})
		return
	}

	evt, err := bus.NewBroadcast(bus.ChannelGroupUpdated, bus.GroupPayload{
		GroupID: group.ID,
		OwnerID: user.ID,
		Name:    group.Name,
	})
	h.publish(c.Request.Context(), evt, err)

	c.JSON(http.StatusOK, gin.H{"group": group})
}

// DeleteGroup removes a group and broadcasts the removal
// DELETE /api/v1/groups/:id
func (h *Handlers) DeleteGroup(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not_authenticated"})
		return
	}

	var group models.Group
	if err := database.DB.First(&group, "id = ?", c.Param("id")).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "group_not_found"})
		return
	}
	if group.OwnerID != user.ID {
		c.JSON(http.StatusForbidden, gin.H{"error": "not_group_owner"})
		return
	}

	if err := database.DB.Delete(&group).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed_to_delete_group"})
		return
	}

	evt, err := bus.NewBroadcast(bus.ChannelGroupDeleted, bus.GroupPayload{
		GroupID: group.ID,
		OwnerID: user.ID,
	})
	h.publish(c.Request.Context(), evt, err)

	c.JSON(http.StatusOK, gin.H{"status": "success"})
}

// GetGroups lists groups, newest first
// GET /api/v1/groups
func (h *Handlers) GetGroups(c *gin.Context) {
	limit, offset := pagination(c)

	var groups []models.Group
	err := database.DB.
		Order("created_at DESC").
		Limit(limit).Offset(offset).
		Find(&groups).Error
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed_to_get_groups"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"groups": groups,
		"meta": gin.H{
			"limit":  limit,
			"offset": offset,
			"count":  len(groups),
		},
	})
}
