package http

import (
	"github.com/gin-gonic/gin"

	"omnirag/internal/bootstrap"
	"omnirag/internal/transport/http/handler"
)

func NewRouter(app *bootstrap.App) *gin.Engine {
	gin.SetMode(app.Config.App.GinMode)
	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())

	healthHandler := handler.NewHealthHandler(app)
	router.GET("/healthz", healthHandler.Check)

	chatHandler := handler.NewChatHandler(app.Chat)
	documentHandler := handler.NewDocumentHandler(app.Documents, app.Publisher, app.Ingest, app.Config.RAG)
	sessionHandler := handler.NewSessionHandler(app.History)
	cacheHandler := handler.NewCacheHandler(app.Cache)

	v1 := router.Group("/api/v1")
	bots := v1.Group("/bots/:bot_id")

	bots.POST("/chat", chatHandler.Chat)
	bots.POST("/chat/stream", chatHandler.ChatStream)

	bots.POST("/documents", documentHandler.Upload)
	bots.GET("/documents", documentHandler.List)
	bots.GET("/documents/:doc_id", documentHandler.Status)
	bots.DELETE("/documents/:doc_id", documentHandler.Delete)

	bots.GET("/sessions", sessionHandler.List)
	bots.DELETE("/sessions", sessionHandler.Clear)
	bots.GET("/sessions/:session_id/history", sessionHandler.History)
	bots.DELETE("/sessions/:session_id", sessionHandler.Delete)

	bots.POST("/cache/invalidate", cacheHandler.Invalidate)

	return router
}
