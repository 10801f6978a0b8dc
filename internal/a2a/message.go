// Package a2a 实现代理间通信协议：带签名与时间戳的 JSON-RPC 风格信封。
package a2a

import (
	"encoding/json"
)

// 协议方法名。
const (
	MethodPing            = "PING"
	MethodGetCapabilities = "GET_CAPABILITIES"
	MethodGetStatus       = "GET_STATUS"
	MethodExecuteTask     = "EXECUTE_TASK"
)

// 协议错误码。
const (
	CodeParseError       = "PARSE_ERROR"
	CodeSignatureInvalid = "SIGNATURE_INVALID"
	CodeMessageExpired   = "MESSAGE_EXPIRED"
	CodeMethodNotFound   = "METHOD_NOT_FOUND"
	CodeInternalError    = "INTERNAL_ERROR"
)

// Message 是一次 A2A 请求。signature 为空表示未签名调用。
type Message struct {
	ID        uint64          `json:"id"`
	Method    string          `json:"method"`
	Params    json.RawMessage `json:"params,omitempty"`
	Signature string          `json:"signature,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// ErrorBody 是响应中的错误描述。
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Response 是 A2A 响应信封，无论成败都随 HTTP 200 返回。
type Response struct {
	ID     uint64          `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *ErrorBody      `json:"error,omitempty"`
}

// NewSuccess 构造成功响应，result 编码失败时退化为内部错误。
func NewSuccess(id uint64, result any) Response {
	raw, err := json.Marshal(result)
	if err != nil {
		return NewError(id, CodeInternalError, "编码响应失败")
	}
	return Response{ID: id, Result: raw}
}

// NewError 构造错误响应。
func NewError(id uint64, code, message string) Response {
	return Response{ID: id, Error: &ErrorBody{Code: code, Message: message}}
}

// ExecuteTaskParams 是 EXECUTE_TASK 的参数。
type ExecuteTaskParams struct {
	JobID       uint64 `json:"job_id"`
	Description string `json:"description,omitempty"`
}

// ExecuteTaskResult 是 EXECUTE_TASK 的确认结果。
// 实际执行由 BidAccepted 事件路径独立驱动，这里只确认收到预告。
type ExecuteTaskResult struct {
	Accepted bool   `json:"accepted"`
	JobID    uint64 `json:"job_id"`
	Status   string `json:"status"`
}

// CapabilitySummary 描述代理对外公布的能力。
type CapabilitySummary struct {
	AgentType         string   `json:"agent_type"`
	Capabilities      []string `json:"capabilities"`
	SupportedJobTypes []string `json:"supported_job_types"`
}

// CallResult 是电话核验回调的负载。
type CallResult struct {
	JobID      uint64 `json:"job_id"`
	CallID     string `json:"call_id"`
	Success    bool   `json:"success"`
	Transcript string `json:"transcript,omitempty"`
}
