package api

import (
	"Crewline/internal/api/middleware"
	"Crewline/internal/pkg/logger"
	"net/http"

	"github.com/gin-gonic/gin"
)

func SetupRouter(group *HandlersGroup) *gin.Engine {
	r := gin.New()
	_ = r.SetTrustedProxies([]string{"localhost"})

	// TraceId & Logger & CORS
	r.Use(middleware.TraceMiddleware())
	r.Use(middleware.CORSMiddleware())
	r.Use(middleware.CommonMiddleware())
	logger.SetupGin(r)

	apiGroup := r.Group("/api")
	{
		apiGroup.GET("/ping", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{
				"Code":    200,
				"Message": "pong",
				"Data":    nil,
			})
		})

		imGroup := apiGroup.Group("/im")
		{
			// WS 走 query token 鉴权
			imGroup.GET("", group.WsHandler.Connect)

			authGroup := imGroup.Group("")
			authGroup.Use(middleware.AuthMiddleware())
			{
				authGroup.POST("/conversations", group.ChatHandler.CreateConversation)
				authGroup.GET("/list", group.ChatHandler.GetConversationList)
				authGroup.GET("/history", group.ChatHandler.GetChatHistory)
				authGroup.POST("/send", group.ChatHandler.SendMessage)
				authGroup.POST("/retry/:local_id", group.ChatHandler.RetryMessage)
				authGroup.POST("/read", group.ChatHandler.MarkAsRead)
				authGroup.POST("/reactions", group.ChatHandler.AddReaction)
				authGroup.DELETE("/reactions", group.ChatHandler.RemoveReaction)
				authGroup.POST("/typing", group.ChatHandler.Typing)
			}
		}

		callGroup := apiGroup.Group("/calls")
		callGroup.Use(middleware.AuthMiddleware())
		{
			callGroup.POST("", group.CallHandler.CreateCall)
			callGroup.GET("/banner", group.CallHandler.Banner)
			callGroup.GET("/:call_id", group.CallHandler.GetCall)
			callGroup.GET("/:call_id/participants", group.CallHandler.Participants)
			callGroup.POST("/answer", group.CallHandler.Answer)
			callGroup.POST("/decline", group.CallHandler.Decline)
			callGroup.POST("/cancel", group.CallHandler.Cancel)
			callGroup.POST("/leave", group.CallHandler.Leave)
			callGroup.POST("/end", group.CallHandler.End)

			controlGroup := callGroup.Group("/controls")
			{
				controlGroup.GET("", group.CallHandler.Controls)
				controlGroup.POST("/mute", group.CallHandler.ToggleMute)
				controlGroup.POST("/video", group.CallHandler.ToggleVideo)
				controlGroup.POST("/camera", group.CallHandler.SwitchCamera)
			}
		}

		mediaGroup := apiGroup.Group("/media")
		{
			mediaGroup.Use(middleware.AuthMiddleware())
			mediaGroup.POST("/upload", group.AttachmentHandler.Upload)
		}
	}

	return r
}
