package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// WebhookDingTalkSender 通过自定义机器人 webhook 发送钉钉消息。
type WebhookDingTalkSender struct {
	url        string
	httpClient *http.Client
}

// NewWebhookDingTalkSender 创建钉钉 webhook 发送器。
func NewWebhookDingTalkSender(url string) (*WebhookDingTalkSender, error) {
	if url == "" {
		return nil, errors.New("钉钉 webhook 地址为空")
	}
	return &WebhookDingTalkSender{
		url:        url,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}, nil
}

// Send 发送文本消息。
func (s *WebhookDingTalkSender) Send(ctx context.Context, content string) error {
	payload, err := json.Marshal(map[string]any{
		"msgtype": "text",
		"text":    map[string]string{"content": content},
	})
	if err != nil {
		return fmt.Errorf("编码钉钉消息失败: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("构造钉钉请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("发送钉钉消息失败: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("钉钉 webhook 返回状态码 %d", resp.StatusCode)
	}
	return nil
}

var _ DingTalkSender = (*WebhookDingTalkSender)(nil)

// WebhookSlackSender 通过 incoming webhook 发送 Slack 消息。
type WebhookSlackSender struct {
	url        string
	httpClient *http.Client
}

// NewWebhookSlackSender 创建 Slack webhook 发送器。
func NewWebhookSlackSender(url string) (*WebhookSlackSender, error) {
	if url == "" {
		return nil, errors.New("Slack webhook 地址为空")
	}
	return &WebhookSlackSender{
		url:        url,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}, nil
}

// Send 向指定频道发送文本消息。
func (s *WebhookSlackSender) Send(ctx context.Context, channel, content string) error {
	payload, err := json.Marshal(map[string]string{
		"channel": channel,
		"text":    content,
	})
	if err != nil {
		return fmt.Errorf("编码 Slack 消息失败: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("构造 Slack 请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("发送 Slack 消息失败: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("Slack webhook 返回状态码 %d", resp.StatusCode)
	}
	return nil
}

var _ SlackSender = (*WebhookSlackSender)(nil)
