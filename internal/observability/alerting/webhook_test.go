package alerting

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestDingTalkSenderPostsTextPayload(t *testing.T) {
	var got struct {
		MsgType string `json:"msgtype"`
		Text    struct {
			Content string `json:"content"`
		} `json:"text"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("期望 POST 请求, 实际 %s", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type 不正确: %s", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("解析请求体失败: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sender, err := NewWebhookDingTalkSender(srv.URL)
	if err != nil {
		t.Fatalf("创建钉钉发送器失败: %v", err)
	}
	if err := sender.Send(context.Background(), "磁盘空间不足"); err != nil {
		t.Fatalf("发送钉钉消息失败: %v", err)
	}
	if got.MsgType != "text" {
		t.Fatalf("消息类型不正确: %s", got.MsgType)
	}
	if got.Text.Content != "磁盘空间不足" {
		t.Fatalf("消息内容不正确: %s", got.Text.Content)
	}
}

func TestSlackSenderPostsChannelAndText(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("解析请求体失败: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sender, err := NewWebhookSlackSender(srv.URL)
	if err != nil {
		t.Fatalf("创建 Slack 发送器失败: %v", err)
	}
	if err := sender.Send(context.Background(), "C0ALERTS", "出价连续失败"); err != nil {
		t.Fatalf("发送 Slack 消息失败: %v", err)
	}
	if got["channel"] != "C0ALERTS" {
		t.Fatalf("频道不正确: %s", got["channel"])
	}
	if got["text"] != "出价连续失败" {
		t.Fatalf("文本不正确: %s", got["text"])
	}
}

func TestWebhookSendersSurfaceHTTPFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	ding, err := NewWebhookDingTalkSender(srv.URL)
	if err != nil {
		t.Fatalf("创建钉钉发送器失败: %v", err)
	}
	if err := ding.Send(context.Background(), "x"); err == nil {
		t.Fatal("期望非 200 状态码返回错误")
	}

	slack, err := NewWebhookSlackSender(srv.URL)
	if err != nil {
		t.Fatalf("创建 Slack 发送器失败: %v", err)
	}
	if err := slack.Send(context.Background(), "C0ALERTS", "x"); err == nil {
		t.Fatal("期望非 200 状态码返回错误")
	}
}

func TestNewSendersRejectEmptyConfig(t *testing.T) {
	if _, err := NewWebhookDingTalkSender(""); err == nil {
		t.Fatal("期望空 webhook 地址返回错误")
	}
	if _, err := NewWebhookSlackSender(""); err == nil {
		t.Fatal("期望空 webhook 地址返回错误")
	}
	if _, err := NewSMTPEmailSender("", 587, "", "", "alerts@example.com"); err == nil {
		t.Fatal("期望空 SMTP 地址返回错误")
	}
	if _, err := NewSMTPEmailSender("smtp.example.com", 587, "", "", ""); err == nil {
		t.Fatal("期望空发件人返回错误")
	}
}
