package handler

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/xxxsen/ragdesk/internal/middleware"
)

type RouterDeps struct {
	RAG       *RAGHandler
	RateLimit time.Duration
}

func RegisterRoutes(api *gin.RouterGroup, deps RouterDeps) {
	api.GET("/healthz", deps.RAG.Health)
	api.GET("/sessions/:id/messages", deps.RAG.History)

	limited := api.Group("")
	limited.Use(middleware.RateLimit(deps.RateLimit))
	limited.POST("/documents", deps.RAG.Ingest)
	limited.POST("/query", deps.RAG.Query)
	limited.POST("/chat", deps.RAG.Chat)
}
