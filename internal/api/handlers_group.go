package api

import "Crewline/internal/api/handler"

// HandlersGroup 封装了所有已初始化的 Handler 实例
type HandlersGroup struct {
	ChatHandler       *handler.ChatHandler
	CallHandler       *handler.CallHandler
	WsHandler         *handler.WsHandler
	AttachmentHandler *handler.AttachmentHandler
}
