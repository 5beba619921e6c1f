package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"omnirag/internal/app"
	"omnirag/internal/transport/http/response"
)

type SessionHandler struct {
	historyService *app.HistoryService
}

func NewSessionHandler(historyService *app.HistoryService) *SessionHandler {
	return &SessionHandler{historyService: historyService}
}

func (h *SessionHandler) List(c *gin.Context) {
	botID := c.Param("bot_id")
	userID := c.Query("user_id")
	limit := queryInt(c, "limit", 50)

	sessions, err := h.historyService.ListSessions(botID, userID, limit)
	if err != nil {
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "list sessions failed")
		return
	}
	response.OK(c, sessions)
}

func (h *SessionHandler) History(c *gin.Context) {
	botID := c.Param("bot_id")
	sessionID := c.Param("session_id")
	userID := c.Query("user_id")
	limit := queryInt(c, "limit", 100)

	history, err := h.historyService.GetHistory(botID, sessionID, userID, limit)
	if err != nil {
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "load history failed")
		return
	}
	response.OK(c, history)
}

func (h *SessionHandler) Delete(c *gin.Context) {
	botID := c.Param("bot_id")
	sessionID := c.Param("session_id")
	userID := c.Query("user_id")

	if err := h.historyService.DeleteSession(botID, sessionID, userID); err != nil {
		switch {
		case errors.Is(err, app.ErrSessionNotFound):
			response.Error(c, http.StatusNotFound, response.CodeSessionNotFound, "session not found")
		default:
			response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "delete session failed")
		}
		return
	}
	response.OK(c, gin.H{"deleted_session_id": sessionID})
}

func (h *SessionHandler) Clear(c *gin.Context) {
	botID := c.Param("bot_id")
	userID := c.Query("user_id")

	deleted, err := h.historyService.ClearAll(botID, userID)
	if err != nil {
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "clear sessions failed")
		return
	}
	response.OK(c, gin.H{"deleted_sessions": deleted})
}

func queryInt(c *gin.Context, key string, fallback int) int {
	raw := c.Query(key)
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}
