// Package wsapi 实现 Frigate WebSocket 命令网关：
// 校验请求 -> 注册表查找实例 -> 调用后端 -> 回写结果信封。
package wsapi

import (
	"encoding/json"
)

// 命令类型（wire 上的 type 字段）
const (
	TypeRetainEvent       = "frigate/event/retain"
	TypeGetRecordings     = "frigate/recordings/get"
	TypeRecordingsSummary = "frigate/recordings/summary"
	TypePing              = "ping"

	typeResult = "result"
	typePong   = "pong"
)

// 错误码
const (
	ErrCodeInvalidFormat  = "invalid_format"
	ErrCodeNotFound       = "not_found"
	ErrCodeFrigate        = "frigate_error"
	ErrCodeUnknownCommand = "unknown_command"
	ErrCodeUnknown        = "unknown_error"
)

// outcomeSuccess 指标中成功结果的标签
const outcomeSuccess = "success"

// Base 所有命令共有字段
type Base struct {
	ID         int64   `json:"id"`
	Type       string  `json:"type"`
	InstanceID *string `json:"instance_id" validate:"required"`
}

// Instance 返回目标实例 ID
func (b Base) Instance() string {
	if b.InstanceID == nil {
		return ""
	}
	return *b.InstanceID
}

// RetainEventRequest frigate/event/retain
type RetainEventRequest struct {
	Base
	EventID *string `json:"event_id" validate:"required"`
	Retain  *bool   `json:"retain" validate:"required"`
}

// GetRecordingsRequest frigate/recordings/get；After/Before 可选，单位秒
type GetRecordingsRequest struct {
	Base
	Camera *string `json:"camera" validate:"required"`
	After  *int64  `json:"after,omitempty"`
	Before *int64  `json:"before,omitempty"`
}

// RecordingsSummaryRequest frigate/recordings/summary
type RecordingsSummaryRequest struct {
	Base
	Camera *string `json:"camera" validate:"required"`
}

// ErrorBody 错误详情
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ResultMessage 响应信封；Success=true 时携带 Result，否则携带 Error
type ResultMessage struct {
	ID      int64           `json:"id"`
	Type    string          `json:"type"`
	Success bool            `json:"success"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *ErrorBody      `json:"error,omitempty"`
}

// PongMessage ping 的应答
type PongMessage struct {
	ID   int64  `json:"id"`
	Type string `json:"type"`
}

// Sender 向发起请求的连接回写消息，实现需保证并发安全
type Sender interface {
	Send(v any) error
}

func resultMessage(id int64, result json.RawMessage) ResultMessage {
	if result == nil {
		result = json.RawMessage("null")
	}
	return ResultMessage{ID: id, Type: typeResult, Success: true, Result: result}
}

func errorMessage(id int64, code, message string) ResultMessage {
	return ResultMessage{ID: id, Type: typeResult, Success: false, Error: &ErrorBody{Code: code, Message: message}}
}
