package objectstore

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

const defaultGatewayTimeout = 30 * time.Second

// GatewayConfig 描述对象存储网关的访问参数。
type GatewayConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// GatewayStore 通过 HTTP 网关上传与读取对象。
type GatewayStore struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewGatewayStore 创建网关存储客户端。
func NewGatewayStore(cfg GatewayConfig) (*GatewayStore, error) {
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		return nil, errors.New("未配置对象存储网关地址")
	}
	baseURL = strings.TrimRight(baseURL, "/")

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultGatewayTimeout
	}

	return &GatewayStore{
		baseURL:    baseURL,
		apiKey:     strings.TrimSpace(cfg.APIKey),
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

// Put 上传对象，网关返回内容寻址 URI。
func (s *GatewayStore) Put(ctx context.Context, data []byte, contentType string) (string, error) {
	endpoint := s.baseURL + "/objects"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("构建上传请求失败: %w", err)
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	req.Header.Set("Content-Type", contentType)
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("上传对象失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return "", fmt.Errorf("网关返回错误状态 %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var decoded struct {
		URI string `json:"uri"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("解析网关响应失败: %w", err)
	}
	if strings.TrimSpace(decoded.URI) == "" {
		return "", errors.New("网关响应缺少对象 URI")
	}
	return decoded.URI, nil
}

// Get 按 URI 读取对象内容。
func (s *GatewayStore) Get(ctx context.Context, uri string) ([]byte, error) {
	endpoint := s.baseURL + "/objects/" + strings.TrimPrefix(uri, "/")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("构建读取请求失败: %w", err)
	}
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("读取对象失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, fmt.Errorf("网关返回错误状态 %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// Close 实现 Store 接口。
func (s *GatewayStore) Close() error {
	s.httpClient.CloseIdleConnections()
	return nil
}

var _ Store = (*GatewayStore)(nil)
