package service

import (
	"errors"
)

const (
	BadRequest          = 400
	Unauthorized        = 401
	NotFound            = 404
	InternalServerError = 500
)

var (
	ErrParamInvalid        = errors.New("参数错误")
	ErrConversationMissing = errors.New("会话不存在")
	ErrNotMember           = errors.New("不是会话成员")
	ErrMessageMissing      = errors.New("消息不存在")
	ErrMessageDeliver      = errors.New("消息发送失败")
	ErrMessageNotFailed    = errors.New("消息不在失败状态")
	ErrCallMissing         = errors.New("通话不存在")
	ErrCallOngoing         = errors.New("会话已有进行中的通话")
	ErrCallTerminal        = errors.New("通话已结束")
	ErrChannelJoin         = errors.New("加入媒体通道失败")
	ErrReconnectExhausted  = errors.New("网络中断，重连失败")
	ErrFileNotSupported    = errors.New("不支持的文件类型")
	UnauthorizedError      = errors.New("权限不足")
	UnExpectedError        = errors.New("系统异常，请稍后重试")
)

var ErrorMap = map[error]int{
	ErrParamInvalid:        BadRequest,
	ErrConversationMissing: NotFound,
	ErrNotMember:           Unauthorized,
	ErrMessageMissing:      NotFound,
	ErrMessageDeliver:      InternalServerError,
	ErrMessageNotFailed:    BadRequest,
	ErrCallMissing:         NotFound,
	ErrCallOngoing:         BadRequest,
	ErrCallTerminal:        BadRequest,
	ErrChannelJoin:         InternalServerError,
	ErrReconnectExhausted:  InternalServerError,
	ErrFileNotSupported:    BadRequest,
	UnauthorizedError:      Unauthorized,
	UnExpectedError:        InternalServerError,
}
