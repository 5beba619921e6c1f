package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"omnirag/internal/app"
	"omnirag/internal/transport/http/response"
)

type ChatHandler struct {
	chatService *app.ChatService
}

type ChatRequest struct {
	Query     string        `json:"query" binding:"required"`
	UserID    string        `json:"user_id"`
	SessionID string        `json:"session_id"`
	Config    app.BotConfig `json:"config"`
}

func NewChatHandler(chatService *app.ChatService) *ChatHandler {
	return &ChatHandler{chatService: chatService}
}

func (h *ChatHandler) Chat(c *gin.Context) {
	botID := c.Param("bot_id")

	var req ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}

	result, err := h.chatService.Answer(c.Request.Context(), app.AnswerInput{
		BotID:     botID,
		Query:     req.Query,
		UserID:    req.UserID,
		SessionID: req.SessionID,
		Config:    req.Config,
	})
	if err != nil {
		switch {
		case errors.Is(err, app.ErrInvalidInput):
			response.Error(c, http.StatusBadRequest, response.CodeBadRequest, err.Error())
		default:
			response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "chat failed")
		}
		return
	}

	response.OK(c, result)
}

// ChatStream delivers the answer as server-sent events, one JSON event per
// data frame. The stream always ends with a done or error event.
func (h *ChatHandler) ChatStream(c *gin.Context) {
	botID := c.Param("bot_id")

	var req ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "stream not supported")
		return
	}

	events := h.chatService.AnswerStream(c.Request.Context(), app.AnswerInput{
		BotID:     botID,
		Query:     req.Query,
		UserID:    req.UserID,
		SessionID: req.SessionID,
		Config:    req.Config,
	})

	for event := range events {
		payload, err := json.Marshal(event)
		if err != nil {
			continue
		}
		if _, err := c.Writer.Write([]byte("data: " + string(payload) + "\n\n")); err != nil {
			return
		}
		flusher.Flush()
	}
}
