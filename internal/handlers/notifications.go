package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/harborapp/harbor/internal/bus"
	"github.com/harborapp/harbor/internal/database"
	"github.com/harborapp/harbor/internal/models"
)

// CreateNotification creates a notification for a user and pushes it.
// Used by other services and by admin tooling, not by end users.
// POST /api/v1/notifications
func (h *Handlers) CreateNotification(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not_authenticated"})
		return
	}

	var req struct {
		UserID string `json:"user_id" binding:"required"`
		Kind   string `json:"kind" binding:"required"`
		Title  string `json:"title" binding:"required"`
		Body   string `json:"body"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}

	notification := models.Notification{
		ID:      uuid.New().String(),
		UserID:  req.UserID,
		Kind:    req.Kind,
		Title:   req.Title,
		Body:    req.Body,
		ActorID: user.ID,
	}
	if err := database.DB.Create(&notification).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed_to_create_notification"})
		return
	}

	evt, err := bus.NewDirect(bus.ChannelNotification, req.UserID, bus.NotificationPayload{
		ID:        notification.ID,
		Kind:      notification.Kind,
		Title:     notification.Title,
		Body:      notification.Body,
		ActorID:   user.ID,
		CreatedAt: notification.CreatedAt,
	})
	h.publish(c.Request.Context(), evt, err)
	h.pushUnreadCounts(c, req.UserID)

	c.JSON(http.StatusCreated, gin.H{"notification": notification})
}

// GetNotifications gets the user's notifications with unread count
// GET /api/v1/notifications
func (h *Handlers) GetNotifications(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not_authenticated"})
		return
	}

	limit, offset := pagination(c)

	var notifications []models.Notification
	err := database.DB.
		Where("user_id = ?", user.ID).
		Order("created_at DESC").
		Limit(limit).Offset(offset).
		Find(&notifications).Error
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed_to_get_notifications"})
		return
	}

	var unread int64
	database.DB.Model(&models.Notification{}).
		Where("user_id = ? AND read_at IS NULL", user.ID).
		Count(&unread)

	c.JSON(http.StatusOK, gin.H{
		"notifications": notifications,
		"unread":        unread,
		"meta": gin.H{
			"limit":  limit,
			"offset": offset,
			"count":  len(notifications),
		},
	})
}

// MarkNotificationRead marks one notification as read
// POST /api/v1/notifications/:id/read
func (h *Handlers) MarkNotificationRead(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not_authenticated"})
		return
	}

	var notification models.Notification
	if err := database.DB.First(&notification, "id = ? AND user_id = ?", c.Param("id"), user.ID).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "notification_not_found"})
		return
	}

	now := time.Now().UTC()
	notification.ReadAt = &now
	if err := database.DB.Save(&notification).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed_to_mark_read"})
		return
	}

	// Other connected devices of the same user clear the item too
	evt, err := bus.NewDirect(bus.ChannelNotificationRead, user.ID, bus.NotificationReadPayload{
		NotificationID: notification.ID,
	})
	h.publish(c.Request.Context(), evt, err)
	h.pushUnreadCounts(c, user.ID)

	c.JSON(http.StatusOK, gin.H{"status": "success"})
}

// ClearNotifications marks all of the user's notifications as read
// POST /api/v1/notifications/clear
func (h *Handlers) ClearNotifications(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not_authenticated"})
		return
	}

	now := time.Now().UTC()
	err := database.DB.Model(&models.Notification{}).
		Where("user_id = ? AND read_at IS NULL", user.ID).
		Update("read_at", now).Error
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed_to_clear_notifications"})
		return
	}

	evt, buildErr := bus.NewDirect(bus.ChannelNotificationsCleared, user.ID, bus.NotificationsClearedPayload{
		ClearedAt: now,
	})
	h.publish(c.Request.Context(), evt, buildErr)
	h.pushUnreadCounts(c, user.ID)

	c.JSON(http.StatusOK, gin.H{"status": "success"})
}
