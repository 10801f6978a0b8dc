// Package voice 通过语音服务播报中标通知，失败只记录不阻塞任务执行。
package voice

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultBaseURL = "https://api.elevenlabs.io/v1"
	defaultTimeout = 15 * time.Second
)

// Config 描述语音通知的访问参数，留空表示禁用。
type Config struct {
	APIKey      string
	BaseURL     string
	VoiceAgent  string
	PhoneNumber string
	Timeout     time.Duration
}

// Notifier 负责发起外呼播报。
type Notifier struct {
	apiKey      string
	baseURL     string
	voiceAgent  string
	phoneNumber string
	httpClient  *http.Client
}

// NewNotifier 创建语音通知器，未配置密钥时返回禁用实例。
func NewNotifier(cfg Config) *Notifier {
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Notifier{
		apiKey:      strings.TrimSpace(cfg.APIKey),
		baseURL:     strings.TrimRight(baseURL, "/"),
		voiceAgent:  strings.TrimSpace(cfg.VoiceAgent),
		phoneNumber: strings.TrimSpace(cfg.PhoneNumber),
		httpClient:  &http.Client{Timeout: timeout},
	}
}

// Configured 判断通知器是否可用。
func (n *Notifier) Configured() bool {
	return n != nil && n.apiKey != "" && n.phoneNumber != ""
}

// NotifyAcceptance 播报一次中标。调用方应以 fire-and-forget 方式触发。
func (n *Notifier) NotifyAcceptance(ctx context.Context, jobID uint64, description string) error {
	if !n.Configured() {
		return errors.New("语音通知未配置")
	}

	payload, err := json.Marshal(map[string]any{
		"agent_id":     n.voiceAgent,
		"phone_number": n.phoneNumber,
		"message":      fmt.Sprintf("Job %d accepted: %s", jobID, description),
	})
	if err != nil {
		return fmt.Errorf("编码语音通知失败: %w", err)
	}

	endpoint := n.baseURL + "/convai/phone-calls"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("构建语音通知请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("xi-api-key", n.apiKey)

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("发送语音通知失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("语音服务返回错误状态 %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}
