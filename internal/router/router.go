package router

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/psds-microservice/chat-router/api"
	"github.com/psds-microservice/chat-router/internal/handler"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

const (
	PathHealth  = "/health"
	PathReady   = "/ready"
	PathSwagger = "/swagger"
)

func New(webhookHandler *handler.WebhookHandler, conversationHandler *handler.ConversationHandler, ticketHandler *handler.TicketHandler) http.Handler {
	r := gin.New()
	r.Use(gin.Recovery())
	r.GET(PathHealth, gin.WrapF(handler.Health))
	r.GET(PathReady, gin.WrapF(handler.Ready))
	r.GET(PathSwagger, func(c *gin.Context) { c.Redirect(http.StatusFound, PathSwagger+"/") })
	r.GET(PathSwagger+"/*any", func(c *gin.Context) {
		if strings.TrimPrefix(c.Param("any"), "/") == "openapi.json" {
			c.Data(http.StatusOK, "application/json", api.OpenAPISpec)
			return
		}
		if strings.TrimPrefix(c.Param("any"), "/") == "" {
			c.Request.URL.Path = PathSwagger + "/index.html"
			c.Request.RequestURI = PathSwagger + "/index.html"
		}
		ginSwagger.WrapHandler(swaggerFiles.Handler, ginSwagger.URL("/swagger/openapi.json"))(c)
	})

	v1 := r.Group("/api/v1")
	{
		v1.POST("/webhook/messages", webhookHandler.Receive)

		v1.GET("/conversations", conversationHandler.List)
		v1.GET("/conversations/:id", conversationHandler.Get)
		v1.POST("/conversations/:id/transition", conversationHandler.Transition)

		v1.POST("/tickets", ticketHandler.Create)
		v1.GET("/tickets", ticketHandler.List)
		v1.GET("/tickets/:id", ticketHandler.Get)
		v1.POST("/tickets/:id/transition", ticketHandler.Transition)
		v1.POST("/tickets/:id/reopen", ticketHandler.Reopen)
		v1.GET("/tickets/:id/history", ticketHandler.History)
		v1.POST("/tickets/:id/notes", ticketHandler.AddNote)
		v1.GET("/tickets/:id/notes", ticketHandler.Notes)
	}

	return r
}
