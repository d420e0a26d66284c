package protocol

import "encoding/json"

// Hello 客户端连接后发送一次，声明自己的身份
type Hello struct {
	PlayerGuid string `json:"playerGuid"`
	Token      string `json:"token,omitempty"`
}

// GameMessage 服务端推送的游戏文档（已带 buildVersion）
type GameMessage struct {
	Game json.RawMessage `json:"game"`
}

// ErrorPayload 错误详情
type ErrorPayload struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// ErrorMessage 服务端推送的错误
type ErrorMessage struct {
	Error ErrorPayload `json:"error"`
}

// NewErrorMessage 构造错误消息，message 为空时使用默认文本
func NewErrorMessage(code int, message string) ErrorMessage {
	if message == "" {
		message = ErrorText(code)
	}
	return ErrorMessage{Error: ErrorPayload{Code: code, Message: message}}
}

// Response 动作接口的统一响应
type Response struct {
	BuildVersion int             `json:"buildVersion"`
	Result       json.RawMessage `json:"result,omitempty"`
	Error        *ErrorPayload   `json:"error,omitempty"`
}
