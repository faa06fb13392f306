package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/harborapp/harbor/internal/bus"
	"github.com/harborapp/harbor/internal/database"
	"github.com/harborapp/harbor/internal/models"
)

// CreatePost creates a feed post and broadcasts it
// POST /api/v1/posts
func (h *Handlers) CreatePost(c *gin.Context) {
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

	post := models.Post{
		ID:       uuid.New().String(),
		AuthorID: user.ID,
		Body:     req.Body,
	}
	if err := database.DB.Create(&post).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed_to_create_post"})
		return
	}

	evt, err := bus.NewBroadcast(bus.ChannelPostCreated, bus.PostPayload{
		PostID:     post.ID,
		AuthorID:   user.ID,
		AuthorName: user.DisplayName,
		Body:       post.Body,
		CreatedAt:  post.CreatedAt,
	})
	h.publish(c.Request.Context(), evt, err)

	c.JSON(http.StatusCreated, gin.H{"post": post})
}

// UpdatePost edits a post's body and broadcasts the change
// PUT /api/v1/posts/:id
func (h *Handlers) UpdatePost(c *gin.Context) {
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

	var post models.Post
	if err := database.DB.First(&post, "id = ?", c.Param("id")).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "post_not_found"})
		return
	}
	if post.AuthorID != user.ID {
		c.JSON(http.StatusForbidden, gin.H{"error": "not_post_author"})
		return
	}

	post.Body = req.Body
	if err := database.DB.Save(&post).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed_to_update_post"})
		return
	}

	evt, err := bus.NewBroadcast(bus.ChannelPostUpdated, bus.PostPayload{
		PostID:     post.ID,
		AuthorID:   user.ID,
		AuthorName: user.DisplayName,
		Body:       post.Body,
		CreatedAt:  post.CreatedAt,
	})
	h.publish(c.Request.Context(), evt, err)

	c.JSON(http.StatusOK, gin.H{"post": post})
}

// DeletePost soft-deletes a post and broadcasts the removal
// DELETE /api/v1/posts/:id
func (h *Handlers) DeletePost(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not_authenticated"})
		return
	}

	var post models.Post
	if err := database.DB.First(&post, "id = ?", c.Param("id")).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "post_not_found"})
		return
	}
	if post.AuthorID != user.ID {
		c.JSON(http.StatusForbidden, gin.H{"error": "not_post_author"})
		return
	}

	if err := database.DB.Delete(&post).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed_to_delete_post"})
		return
	}

	evt, err := bus.NewBroadcast(bus.ChannelPostDeleted, bus.PostPayload{
		PostID:   post.ID,
		AuthorID: user.ID,
	})
	h.publish(c.Request.Context(), evt, err)

	c.JSON(http.StatusOK, gin.H{"status": "success"})
}

// GetFeed returns recent posts, newest first
// GET /api/v1/posts
func (h *Handlers) GetFeed(c *gin.Context) {
	limit, offset := pagination(c)

	var posts []models.Post
	err := database.DB.
		Preload("Author").
		Order("created_at DESC").
		Limit(limit).Offset(offset).
		Find(&posts).Error
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed_to_get_posts"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"posts": posts,
		"meta": gin.H{
			"limit":  limit,
			"offset": offset,
			"count":  len(posts),
		},
	})
}
