package a2a

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"Archive-Agents/internal/job"
	"Archive-Agents/internal/wallet"
)

type stubAgent struct {
	accepted []ExecuteTaskParams
	results  []CallResult
}

func (a *stubAgent) Type() string { return "tiktok-scraper" }

func (a *stubAgent) Capabilities() CapabilitySummary {
	return CapabilitySummary{
		AgentType:         "tiktok-scraper",
		Capabilities:      []string{"scrape_profile"},
		SupportedJobTypes: []string{"tiktok_scrape"},
	}
}

func (a *stubAgent) Status(context.Context) (any, error) {
	return map[string]any{"active_jobs": 0}, nil
}

func (a *stubAgent) ActiveJobs() []job.ActiveJob { return nil }

func (a *stubAgent) AcceptTask(_ context.Context, params ExecuteTaskParams) error {
	a.accepted = append(a.accepted, params)
	return nil
}

func (a *stubAgent) HandleCallResult(_ context.Context, result CallResult) error {
	a.results = append(a.results, result)
	return nil
}

func newTestServer(t *testing.T, cfg ServerConfig) (*Server, *stubAgent) {
	t.Helper()
	agent := &stubAgent{}
	return NewServer(cfg, agent), agent
}

func postRPC(t *testing.T, server *Server, body []byte) (Response, int) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/v1/rpc", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	var resp Response
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("解析响应失败: %v", err)
	}
	return resp, rec.Code
}

func TestRPCParseErrorUsesZeroID(t *testing.T) {
	server, _ := newTestServer(t, ServerConfig{})
	resp, code := postRPC(t, server, []byte("{invalid"))
	if code != http.StatusOK {
		t.Fatalf("协议信封应随 HTTP 200 返回, 实际 %d", code)
	}
	if resp.Error == nil || resp.Error.Code != CodeParseError {
		t.Fatalf("期望 PARSE_ERROR, 实际 %+v", resp)
	}
	if resp.ID != 0 {
		t.Fatalf("解析失败时关联 ID 应为 0, 实际 %d", resp.ID)
	}
}

func TestRPCUnsignedPing(t *testing.T) {
	server, _ := newTestServer(t, ServerConfig{})
	body, _ := json.Marshal(Message{ID: 1, Method: MethodPing, Timestamp: time.Now().Unix()})
	resp, _ := postRPC(t, server, body)
	if resp.Error != nil {
		t.Fatalf("未签名 PING 应成功: %+v", resp.Error)
	}
	var result map[string]string
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		t.Fatalf("解析结果失败: %v", err)
	}
	if result["status"] != "ok" || result["agent"] != "tiktok-scraper" {
		t.Fatalf("PING 结果不符: %v", result)
	}
}

func TestRPCSignedExecuteTask(t *testing.T) {
	w, err := wallet.Generate()
	if err != nil {
		t.Fatalf("生成钱包失败: %v", err)
	}
	server, agent := newTestServer(t, ServerConfig{AllowedSigners: []string{w.Address()}})

	params, _ := json.Marshal(ExecuteTaskParams{JobID: 42})
	msg := Message{ID: 2, Method: MethodExecuteTask, Params: params, Timestamp: time.Now().Unix()}
	if err := SignMessage(w, &msg); err != nil {
		t.Fatalf("签名消息失败: %v", err)
	}
	body, _ := json.Marshal(msg)

	resp, _ := postRPC(t, server, body)
	if resp.Error != nil {
		t.Fatalf("合法签名请求应成功: %+v", resp.Error)
	}
	var result ExecuteTaskResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		t.Fatalf("解析结果失败: %v", err)
	}
	if !result.Accepted || result.JobID != 42 || result.Status != "queued" {
		t.Fatalf("EXECUTE_TASK 结果不符: %+v", result)
	}
	if len(agent.accepted) != 1 || agent.accepted[0].JobID != 42 {
		t.Fatalf("任务预告未传递给编排器: %+v", agent.accepted)
	}
}

func TestRPCTamperedSignatureRejected(t *testing.T) {
	w, err := wallet.Generate()
	if err != nil {
		t.Fatalf("生成钱包失败: %v", err)
	}
	server, _ := newTestServer(t, ServerConfig{AllowedSigners: []string{w.Address()}})

	msg := Message{ID: 3, Method: MethodGetStatus, Timestamp: time.Now().Unix()}
	if err := SignMessage(w, &msg); err != nil {
		t.Fatalf("签名消息失败: %v", err)
	}
	// 签名后篡改方法名。
	msg.Method = MethodExecuteTask
	body, _ := json.Marshal(msg)

	resp, _ := postRPC(t, server, body)
	if resp.Error == nil || resp.Error.Code != CodeSignatureInvalid {
		t.Fatalf("篡改消息应返回 SIGNATURE_INVALID: %+v", resp)
	}
}

func TestRPCUnauthorizedSignerRejected(t *testing.T) {
	w, err := wallet.Generate()
	if err != nil {
		t.Fatalf("生成钱包失败: %v", err)
	}
	server, _ := newTestServer(t, ServerConfig{AllowedSigners: []string{"0x0000000000000000000000000000000000000001"}})

	msg := Message{ID: 4, Method: MethodPing, Timestamp: time.Now().Unix()}
	if err := SignMessage(w, &msg); err != nil {
		t.Fatalf("签名消息失败: %v", err)
	}
	body, _ := json.Marshal(msg)

	resp, _ := postRPC(t, server, body)
	if resp.Error == nil || resp.Error.Code != CodeSignatureInvalid {
		t.Fatalf("白名单之外的签名者应被拒绝: %+v", resp)
	}
}

func TestRPCExpiredSignedMessage(t *testing.T) {
	w, err := wallet.Generate()
	if err != nil {
		t.Fatalf("生成钱包失败: %v", err)
	}
	server, _ := newTestServer(t, ServerConfig{FreshnessWindow: time.Minute})

	msg := Message{ID: 5, Method: MethodPing, Timestamp: time.Now().Add(-10 * time.Minute).Unix()}
	if err := SignMessage(w, &msg); err != nil {
		t.Fatalf("签名消息失败: %v", err)
	}
	body, _ := json.Marshal(msg)

	resp, _ := postRPC(t, server, body)
	if resp.Error == nil || resp.Error.Code != CodeMessageExpired {
		t.Fatalf("过期签名消息应返回 MESSAGE_EXPIRED: %+v", resp)
	}
}

func TestRPCUnsignedSkipsFreshnessCheck(t *testing.T) {
	server, _ := newTestServer(t, ServerConfig{FreshnessWindow: time.Minute})
	body, _ := json.Marshal(Message{ID: 6, Method: MethodPing, Timestamp: time.Now().Add(-time.Hour).Unix()})
	resp, _ := postRPC(t, server, body)
	if resp.Error != nil {
		t.Fatalf("未签名消息不做时效检查: %+v", resp.Error)
	}
}

func TestRPCMethodNotFound(t *testing.T) {
	server, _ := newTestServer(t, ServerConfig{})
	body, _ := json.Marshal(Message{ID: 7, Method: "SELF_DESTRUCT", Timestamp: time.Now().Unix()})
	resp, _ := postRPC(t, server, body)
	if resp.Error == nil || resp.Error.Code != CodeMethodNotFound {
		t.Fatalf("未知方法应返回 METHOD_NOT_FOUND: %+v", resp)
	}
	if resp.ID != 7 {
		t.Fatalf("错误响应应保留关联 ID: %d", resp.ID)
	}
}

func TestRPCUninitializedAgent(t *testing.T) {
	server := NewServer(ServerConfig{}, nil)
	body, _ := json.Marshal(Message{ID: 8, Method: MethodExecuteTask, Timestamp: time.Now().Unix()})
	resp, _ := postRPC(t, server, body)
	if resp.Error == nil || resp.Error.Code != CodeInternalError {
		t.Fatalf("编排器未初始化应返回 INTERNAL_ERROR: %+v", resp)
	}
}

func TestHealthEndpoint(t *testing.T) {
	server, _ := newTestServer(t, ServerConfig{})
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "healthy") {
		t.Fatalf("健康检查失败: %d %s", rec.Code, rec.Body.String())
	}
}

func TestCallResultWebhookSecret(t *testing.T) {
	server, agent := newTestServer(t, ServerConfig{WebhookSecret: "topsecret"})

	payload, _ := json.Marshal(CallResult{JobID: 9, CallID: "call-1", Success: true})

	req := httptest.NewRequest(http.MethodPost, "/webhook/call-result", bytes.NewReader(payload))
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("缺少密钥的回调应被拒绝, 实际 %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/webhook/call-result", bytes.NewReader(payload))
	req.Header.Set("X-Webhook-Secret", "topsecret")
	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("合法回调应成功, 实际 %d", rec.Code)
	}
	if len(agent.results) != 1 || agent.results[0].JobID != 9 {
		t.Fatalf("回调未传递给编排器: %+v", agent.results)
	}
}

func TestSigningPayloadCanonicalizesParams(t *testing.T) {
	a, err := SigningPayload("PING", 100, json.RawMessage(`{"b":1,"a":2}`))
	if err != nil {
		t.Fatalf("构造负载失败: %v", err)
	}
	b, err := SigningPayload("PING", 100, json.RawMessage(`{"a":2,"b":1}`))
	if err != nil {
		t.Fatalf("构造负载失败: %v", err)
	}
	if !bytes.Equal(a, b) {
		t.Fatalf("键序不同的等价参数应得到相同负载:\n%s\n%s", a, b)
	}
}
