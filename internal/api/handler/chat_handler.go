package handler

import (
	"Crewline/internal/api/dto"
	"Crewline/internal/pkg/response"
	"Crewline/internal/service"
	"strconv"

	"github.com/gin-gonic/gin"
)

type ChatHandler struct {
	chatService    service.ChatService
	receiptService service.ReceiptService
}

func NewChatHandler(chatService service.ChatService, receiptService service.ReceiptService) *ChatHandler {
	return &ChatHandler{chatService: chatService, receiptService: receiptService}
}

// CreateConversation 创建会话
func (s *ChatHandler) CreateConversation(c *gin.Context) {
	var req dto.CreateConversationReq
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, service.ErrParamInvalid)
		return
	}

	creatorID := c.GetString("user_id")

	id, err := s.chatService.CreateConversation(c.Request.Context(), creatorID, &req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, gin.H{"conversation_id": id})
}

// GetConversationList 获取会话列表
func (s *ChatHandler) GetConversationList(c *gin.Context) {
	userID := c.GetString("user_id")

	res, err := s.chatService.GetConversationList(c.Request.Context(), userID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, res)
}

// GetChatHistory 获取历史消息
func (s *ChatHandler) GetChatHistory(c *gin.Context) {
	convID := c.Query("conversation_id")
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	userID := c.GetString("user_id")

	res, err := s.chatService.GetChatHistory(c.Request.Context(), userID, convID, limit)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, res)
}

// SendMessage 发送消息接口
func (s *ChatHandler) SendMessage(c *gin.Context) {
	var req dto.SendMessageReq
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, service.ErrParamInvalid)
		return
	}

	senderID := c.GetString("user_id")

	res, err := s.chatService.SendMessage(c.Request.Context(), senderID, &req)
	if err != nil {
		// 发送失败的消息仍回给客户端渲染，状态为 failed
		if res != nil {
			response.Success(c, res)
			return
		}
		response.Error(c, err)
		return
	}
	response.Success(c, res)
}

// RetryMessage 手动重发失败消息
func (s *ChatHandler) RetryMessage(c *gin.Context) {
	localID := c.Param("local_id")
	senderID := c.GetString("user_id")

	res, err := s.chatService.RetryMessage(c.Request.Context(), senderID, localID)
	if err != nil {
		if res != nil {
			response.Success(c, res)
			return
		}
		response.Error(c, err)
		return
	}
	response.Success(c, res)
}

// MarkAsRead 标记已读接口
func (s *ChatHandler) MarkAsRead(c *gin.Context) {
	var req dto.MarkAsReadReq
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, service.ErrParamInvalid)
		return
	}

	userID := c.GetString("user_id")

	if err := s.receiptService.MarkAsRead(c.Request.Context(), userID, &req); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, nil)
}

// AddReaction 添加表情回应
func (s *ChatHandler) AddReaction(c *gin.Context) {
	var req dto.ReactionReq
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, service.ErrParamInvalid)
		return
	}

	userID := c.GetString("user_id")

	if err := s.chatService.AddReaction(c.Request.Context(), userID, &req); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, nil)
}

// RemoveReaction 移除表情回应
func (s *ChatHandler) RemoveReaction(c *gin.Context) {
	var req dto.ReactionReq
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, service.ErrParamInvalid)
		return
	}

	userID := c.GetString("user_id")

	if err := s.chatService.RemoveReaction(c.Request.Context(), userID, &req); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, nil)
}

// Typing 上报输入中信号
func (s *ChatHandler) Typing(c *gin.Context) {
	var req dto.TypingReq
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, service.ErrParamInvalid)
		return
	}

	userID := c.GetString("user_id")

	if err := s.chatService.SetTyping(c.Request.Context(), userID, req.ConversationID); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, nil)
}
