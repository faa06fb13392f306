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

// SendMessage creates a direct message and pushes it to the receiver
// POST /api/v1/messages
func (h *Handlers) SendMessage(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not_authenticated"})
		return
	}

	var req struct {
		ReceiverID string `json:"receiver_id" binding:"required"`
		Body       string `json:"body" binding:"required,max=10000"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}

	if req.ReceiverID == user.ID {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot_message_self"})
		return
	}

	var receiver models.User
	if err := database.DB.First(&receiver, "id = ?", req.ReceiverID).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "receiver_not_found"})
		return
	}

	message := models.Message{
		ID:         uuid.New().String(),
		SenderID:   user.ID,
		ReceiverID: req.ReceiverID,
		Body:       req.Body,
	}
	if err := database.DB.Create(&message).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed_to_send_message"})
		return
	}

	evt, err := bus.NewDirect(bus.ChannelMessage, req.ReceiverID, bus.MessagePayload{
		MessageID:  message.ID,
		SenderID:   user.ID,
		SenderName: user.DisplayName,
		ReceiverID: req.ReceiverID,
		Body:       message.Body,
		SentAt:     message.CreatedAt,
	})
	h.publish(c.Request.Context(), evt, err)
	h.pushUnreadCounts(c, req.ReceiverID)

	c.JSON(http.StatusCreated, gin.H{"message": message})
}

// EditMessage updates a message's body within the sender's own history
// PUT /api/v1/messages/:id
func (h *Handlers) EditMessage(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not_authenticated"})
		return
	}

	var req struct {
		Body string `json:"body" binding:"required,max=10000"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}

	var message models.Message
	if err := database.DB.First(&message, "id = ?", c.Param("id")).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "message_not_found"})
		return
	}
	if message.SenderID != user.ID {
		c.JSON(http.StatusForbidden, gin.H{"error": "not_message_sender"})
		return
	}

	now := time.Now().UTC()
	message.Body = req.Body
	message.EditedAt = &now
	if err := database.DB.Save(&message).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed_to_edit_message"})
		return
	}

	evt, err := bus.NewDirect(bus.ChannelMessageEdited, message.ReceiverID, bus.MessageEditedPayload{
		MessageID: message.ID,
		SenderID:  user.ID,
		Body:      message.Body,
		EditedAt:  now,
	})
	h.publish(c.Request.Context(), evt, err)

	c.JSON(http.StatusOK, gin.H{"message": message})
}

// DeleteMessage soft-deletes a message from both sides
// DELETE /api/v1/messages/:id
func (h *Handlers) DeleteMessage(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not_authenticated"})
		return
	}

	var message models.Message
	if err := database.DB.First(&message, "id = ?", c.Param("id")).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "message_not_found"})
		return
	}
	if message.SenderID != user.ID {
		c.JSON(http.StatusForbidden, gin.H{"error": "not_message_sender"})
		return
	}

	if err := database.DB.Delete(&message).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed_to_delete_message"})
		return
	}

	evt, err := bus.NewDirect(bus.ChannelMessageDeleted, message.ReceiverID, bus.MessageDeletedPayload{
		MessageID: message.ID,
		SenderID:  user.ID,
	})
	h.publish(c.Request.Context(), evt, err)
	h.pushUnreadCounts(c, message.ReceiverID)

	c.JSON(http.StatusOK, gin.H{"status": "success"})
}

// GetConversation returns the message history with one peer, newest
// first. This is also the re-sync path after a reconnect: pushed
// events are best-effort, this endpoint is authoritative.
// GET /api/v1/messages/:peerID
func (h *Handlers) GetConversation(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not_authenticated"})
		return
	}

	peerID := c.Param("peerID")
	limit, offset := pagination(c)

	var messages []models.Message
	err := database.DB.
		Where("(sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?)",
			user.ID, peerID, peerID, user.ID).
		Order("created_at DESC").
		Limit(limit).Offset(offset).
		Find(&messages).Error
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed_to_get_messages"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"messages": messages,
		"meta": gin.H{
			"limit":  limit,
			"offset": offset,
			"count":  len(messages),
		},
	})
}

// MarkConversationRead marks all messages from a peer as read and
// notifies the peer
// POST /api/v1/messages/:peerID/read
func (h *Handlers) MarkConversationRead(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not_authenticated"})
		return
	}

	peerID := c.Param("peerID")
	now := time.Now().UTC()

	err := database.DB.Model(&models.Message{}).
		Where("sender_id = ? AND receiver_id = ? AND read_at IS NULL", peerID, user.ID).
		Update("read_at", now).Error
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed_to_mark_read"})
		return
	}

	evt, buildErr := bus.NewDirect(bus.ChannelMessagesRead, peerID, bus.MessagesReadPayload{
		ReaderID: user.ID,
		PeerID:   peerID,
		ReadAt:   now,
	})
	h.publish(c.Request.Context(), evt, buildErr)
	h.pushUnreadCounts(c, user.ID)

	c.JSON(http.StatusOK, gin.H{"status": "success", "read_at": now})
}

// GetUnreadCounts recomputes unread totals from the database
// GET /api/v1/messages/unread
func (h *Handlers) GetUnreadCounts(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not_authenticated"})
		return
	}

	messages, notifications, err := unreadCounts(user.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed_to_count_unread"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"messages":      messages,
		"notifications": notifications,
	})
}

// unreadCounts recomputes totals from the source of truth. Counts are
// never incremented in place; every update is a full recount.
func unreadCounts(userID string) (messages, notifications int64, err error) {
	err = database.DB.Model(&models.Message{}).
		Where("receiver_id = ? AND read_at IS NULL", userID).
		Count(&messages).Error
	if err != nil {
		return 0, 0, err
	}

	err = database.DB.Model(&models.Notification{}).
		Where("user_id = ? AND read_at IS NULL", userID).
		Count(&notifications).Error
	if err != nil {
		return 0, 0, err
	}
	return messages, notifications, nil
}

// pushUnreadCounts recomputes and pushes fresh unread totals to a user
func (h *Handlers) pushUnreadCounts(c *gin.Context, userID string) {
	messages, notifications, err := unreadCounts(userID)
	if err != nil {
		return
	}

	evt, buildErr := bus.NewDirect(bus.ChannelUnreadCountUpdated, userID, bus.UnreadCountPayload{
		UserID:        userID,
		Messages:      messages,
		Notifications: notifications,
	})
	h.publish(c.Request.Context(), evt, buildErr)
}
