package handler

import (
	"Crewline/internal/api/dto"
	"Crewline/internal/pkg/response"
	"Crewline/internal/service"

	"github.com/gin-gonic/gin"
)

type CallHandler struct {
	callService service.CallService
}

func NewCallHandler(callService service.CallService) *CallHandler {
	return &CallHandler{callService: callService}
}

// CreateCall 发起通话
func (s *CallHandler) CreateCall(c *gin.Context) {
	var req dto.CreateCallReq
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, service.ErrParamInvalid)
		return
	}

	callerID := c.GetString("user_id")

	res, err := s.callService.CreateCall(c.Request.Context(), callerID, &req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, res)
}

// GetCall 查询通话文档
func (s *CallHandler) GetCall(c *gin.Context) {
	res, err := s.callService.GetCall(c.Request.Context(), c.Param("call_id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, res)
}

// Answer 应答通话
func (s *CallHandler) Answer(c *gin.Context) {
	var req dto.CallActionReq
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, service.ErrParamInvalid)
		return
	}

	userID := c.GetString("user_id")

	res, err := s.callService.AnswerCall(c.Request.Context(), userID, req.CallID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, res)
}

// Decline 拒接通话
func (s *CallHandler) Decline(c *gin.Context) {
	var req dto.CallActionReq
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, service.ErrParamInvalid)
		return
	}

	userID := c.GetString("user_id")

	if err := s.callService.DeclineCall(c.Request.Context(), userID, req.CallID); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, nil)
}

// Cancel 主叫撤回通话
func (s *CallHandler) Cancel(c *gin.Context) {
	var req dto.CallActionReq
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, service.ErrParamInvalid)
		return
	}

	userID := c.GetString("user_id")

	if err := s.callService.CancelCall(c.Request.Context(), userID, req.CallID); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, nil)
}

// Leave 群通话离席
func (s *CallHandler) Leave(c *gin.Context) {
	var req dto.CallActionReq
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, service.ErrParamInvalid)
		return
	}

	userID := c.GetString("user_id")

	if err := s.callService.LeaveCall(c.Request.Context(), userID, req.CallID); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, nil)
}

// End 挂断通话
func (s *CallHandler) End(c *gin.Context) {
	var req dto.CallActionReq
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, service.ErrParamInvalid)
		return
	}

	userID := c.GetString("user_id")

	if err := s.callService.EndCall(c.Request.Context(), userID, req.CallID); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, nil)
}

// Banner 会话页通话横幅
func (s *CallHandler) Banner(c *gin.Context) {
	convID := c.Query("conversation_id")
	userID := c.GetString("user_id")

	res, err := s.callService.Banner(c.Request.Context(), userID, convID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, res)
}

// Controls 本地媒体开关状态
func (s *CallHandler) Controls(c *gin.Context) {
	response.Success(c, s.callService.Controls())
}

// ToggleMute 静音开关
func (s *CallHandler) ToggleMute(c *gin.Context) {
	res, err := s.callService.ToggleMute(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, res)
}

// ToggleVideo 视频开关
func (s *CallHandler) ToggleVideo(c *gin.Context) {
	res, err := s.callService.ToggleVideo(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, res)
}

// SwitchCamera 切换前后摄像头
func (s *CallHandler) SwitchCamera(c *gin.Context) {
	res, err := s.callService.SwitchCamera(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, res)
}

// Participants 参与者展示名
func (s *CallHandler) Participants(c *gin.Context) {
	res, err := s.callService.ParticipantNames(c.Request.Context(), c.Param("call_id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, res)
}
