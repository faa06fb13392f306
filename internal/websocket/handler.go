package websocket

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"
	"github.com/harborapp/harbor/internal/logger"
	"go.uber.org/zap"
)

// TokenValidator proves the identity behind an upgrade request.
// Satisfied by auth.Service; tests use a stub.
type TokenValidator interface {
	ValidateToken(token string) (userID string, err error)
}

// Handler handles WebSocket HTTP upgrade requests and the presence
// query endpoints.
type Handler struct {
	gateway   *Gateway
	validator TokenValidator
}

// NewHandler creates a WebSocket handler on the given gateway.
func NewHandler(gateway *Gateway, validator TokenValidator) *Handler {
	return &Handler{
		gateway:   gateway,
		validator: validator,
	}
}

// HandleWebSocket handles WebSocket upgrade requests.
// Authentication is done via JWT token in query param: ?token=...
// Or via Authorization header: Bearer <token>
func (h *Handler) HandleWebSocket(c *gin.Context) {
	userID, err := h.authenticateRequest(c)
	if err != nil {
		logger.Log.Warn("WebSocket auth failed",
			logger.WithIP(c.ClientIP()),
			zap.Error(err))
		c.JSON(http.StatusUnauthorized, gin.H{
			"error":   "authentication_failed",
			"message": err.Error(),
		})
		return
	}

	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		// In production, set specific origins
		InsecureSkipVerify: true,
		CompressionMode:    websocket.CompressionContextTakeover,
	})
	if err != nil {
		logger.Log.Warn("WebSocket upgrade failed",
			logger.WithIP(c.ClientIP()),
			zap.Error(err))
		return
	}

	client := NewClient(h.gateway, conn, userID)
	client.RemoteAddr = c.ClientIP()
	client.UserAgent = c.GetHeader("User-Agent")

	// The connection is live but carries no identity for routing until
	// the client sends register.
	_ = client.Send(NewMessage(MessageTypeSystem, SystemPayload{
		Event:   "connected",
		Message: "Send register to start receiving events",
		Data: map[string]interface{}{
			"connection_id": client.ConnectionID,
			"server_time":   time.Now().UTC().UnixMilli(),
		},
	}))

	go client.WritePump()
	client.ReadPump() // blocks until the connection dies
}

// authenticateRequest extracts and validates the JWT token from the request
func (h *Handler) authenticateRequest(c *gin.Context) (string, error) {
	tokenString := ""

	if token := c.Query("token"); token != "" {
		tokenString = token
	}

	if auth := c.GetHeader("Authorization"); auth != "" {
		if strings.HasPrefix(auth, "Bearer ") {
			tokenString = strings.TrimPrefix(auth, "Bearer ")
		} else {
			tokenString = auth
		}
	}

	if tokenString == "" {
		return "", errors.New("no authentication token provided")
	}

	userID, err := h.validator.ValidateToken(tokenString)
	if err != nil {
		return "", err
	}
	return userID, nil
}

// HandleOnlineStatus resolves online state for a batch of users from
// the shared presence counters. When the counter store is unreachable
// every requested user comes back "unknown"; clients must not render
// a guess.
func (h *Handler) HandleOnlineStatus(c *gin.Context) {
	var req struct {
		UserIDs []string `json:"user_ids" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	statuses := make(map[string]string, len(req.UserIDs))

	online, err := h.gateway.Presence().AreOnline(c.Request.Context(), req.UserIDs)
	if err != nil {
		logger.Log.Warn("Presence lookup failed", zap.Error(err))
		for _, userID := range req.UserIDs {
			statuses[userID] = "unknown"
		}
		c.JSON(http.StatusOK, gin.H{
			"statuses":  statuses,
			"timestamp": time.Now().UTC(),
		})
		return
	}

	for _, userID := range req.UserIDs {
		if online[userID] {
			statuses[userID] = "online"
		} else {
			statuses[userID] = "offline"
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"statuses":  statuses,
		"timestamp": time.Now().UTC(),
	})
}

// HandleStats returns connection statistics for monitoring.
func (h *Handler) HandleStats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"websocket": h.gateway.Hub().GetMetrics(),
		"timestamp": time.Now().UTC(),
	})
}
