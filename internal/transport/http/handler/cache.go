package handler

import (
	"github.com/gin-gonic/gin"

	"omnirag/internal/app"
	"omnirag/internal/transport/http/response"
)

type CacheHandler struct {
	cache app.AnswerCache
}

func NewCacheHandler(cache app.AnswerCache) *CacheHandler {
	return &CacheHandler{cache: cache}
}

// Invalidate drops every cached answer for the bot.
func (h *CacheHandler) Invalidate(c *gin.Context) {
	botID := c.Param("bot_id")
	h.cache.InvalidateBot(c.Request.Context(), botID)
	response.OK(c, gin.H{"invalidated_bot_id": botID})
}
