package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"emotion-comfort/internal/service"
)

// SessionHandler exposes the live session control plane.
type SessionHandler struct {
	sessionService *service.SessionService
}

// NewSessionHandler creates a SessionHandler.
func NewSessionHandler(sessionService *service.SessionService) *SessionHandler {
	if sessionService == nil {
		panic("SessionService cannot be nil for SessionHandler")
	}
	return &SessionHandler{sessionService: sessionService}
}

// CreateSessionRequest is the create-session body. Zero values fall
// back to the engine defaults (10 users, one hour).
type CreateSessionRequest struct {
	EmotionTag string `json:"emotion_tag" binding:"required"`
	MaxUsers   int    `json:"max_users"`
	Duration   int    `json:"duration"`
}

// CreateSessionResponse echoes the created session's identity.
type CreateSessionResponse struct {
	SessionID  string    `json:"session_id"`
	EmotionTag string    `json:"emotion_tag"`
	StartTime  time.Time `json:"start_time"`
	EndTime    time.Time `json:"end_time"`
}

// CreateSession handles POST /api/live/sessions.
func (h *SessionHandler) CreateSession(c *gin.Context) {
	userIDAny, exists := c.Get("user_id")
	if !exists {
		logrus.Warn("Handler.CreateSession: user id not in context, auth middleware missing?")
		ErrorResponse(c, http.StatusUnauthorized, "User not authenticated")
		return
	}
	userID, ok := userIDAny.(uint)
	if !ok {
		logrus.Error("Handler.CreateSession: user id in context is not uint")
		ErrorResponse(c, http.StatusInternalServerError, "Internal server error")
		return
	}

	var req CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, "Invalid input: emotion_tag is required")
		return
	}

	session, err := h.sessionService.CreateSession(c.Request.Context(), req.EmotionTag, req.MaxUsers, req.Duration)
	if err != nil {
		HandleServiceError(c, err)
		return
	}

	logrus.WithFields(logrus.Fields{"user_id": userID, "session_id": session.SessionID}).Info("Session created via API")
	SuccessResponse(c, http.StatusOK, CreateSessionResponse{
		SessionID:  session.SessionID,
		EmotionTag: session.EmotionTag,
		StartTime:  session.StartTime,
		EndTime:    session.EndTime,
	})
}

// ListActiveSessions handles GET /api/live/sessions.
func (h *SessionHandler) ListActiveSessions(c *gin.Context) {
	sessions, err := h.sessionService.ListActiveSessions(c.Request.Context())
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, sessions)
}
