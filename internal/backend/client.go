package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client 封装与配置/日志后端的 HTTP 通讯
type Client struct {
	baseURL  string
	configID string

	httpClient *http.Client
	timeout    *time.Duration
}

// Option 自定义客户端行为
type Option func(*Client)

// WithHTTPClient 自定义 HTTP 客户端（测试时使用）
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithTimeout 设置请求超时，0 表示不超时
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.timeout = &timeout
	}
}

// NewClient 创建后端客户端
func NewClient(baseURL, configID string, opts ...Option) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("backend baseURL is empty")
	}
	if strings.TrimSpace(configID) == "" {
		return nil, fmt.Errorf("backend configID is empty")
	}

	client := &Client{
		baseURL:    baseURL,
		configID:   configID,
		httpClient: &http.Client{},
	}
	for _, opt := range opts {
		opt(client)
	}
	if client.timeout != nil {
		// 复制一份，避免修改调用方传入的 http.Client
		hc := *client.httpClient
		hc.Timeout = *client.timeout
		client.httpClient = &hc
	}
	return client, nil
}

// ConfigID 返回当前配置 ID
func (c *Client) ConfigID() string { return c.configID }

// HTTPError 后端返回非 2xx
type HTTPError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("backend http error: %s %s status=%d, body=%s", e.Method, e.Path, e.StatusCode, e.Body)
}

// FetchConfig 获取运行配置
func (c *Client) FetchConfig(ctx context.Context) (*WorkerConfig, error) {
	query := url.Values{}
	query.Set("config_id", c.configID)

	var cfg WorkerConfig
	if err := c.do(ctx, http.MethodGet, "worker-config?"+query.Encode(), nil, &cfg); err != nil {
		return nil, fmt.Errorf("fetch worker config: %w", err)
	}
	return &cfg, nil
}

// ReportLog 上报一次投递结果
func (c *Client) ReportLog(ctx context.Context, entry LogEntry) error {
	if entry.ConfigID == "" {
		entry.ConfigID = c.configID
	}
	if err := c.do(ctx, http.MethodPost, "worker-log", entry, nil); err != nil {
		return fmt.Errorf("report worker log: %w", err)
	}
	return nil
}

// Heartbeat 更新 worker 心跳时间
func (c *Client) Heartbeat(ctx context.Context) error {
	body := map[string]interface{}{
		"config_id":        c.configID,
		"worker_heartbeat": true,
	}
	if err := c.do(ctx, http.MethodPost, "worker-config", body, nil); err != nil {
		return fmt.Errorf("send heartbeat: %w", err)
	}
	return nil
}

// AcknowledgeRestart 清除重启标记（后端会记录 last_restart_at）
func (c *Client) AcknowledgeRestart(ctx context.Context) error {
	body := map[string]interface{}{
		"config_id":         c.configID,
		"restart_requested": false,
	}
	if err := c.do(ctx, http.MethodPost, "worker-config", body, nil); err != nil {
		return fmt.Errorf("acknowledge restart: %w", err)
	}
	return nil
}

// ReportMetrics 上报统计窗口
func (c *Client) ReportMetrics(ctx context.Context, metrics Metrics) error {
	body := struct {
		ConfigID string  `json:"config_id"`
		Metrics  Metrics `json:"metrics"`
	}{
		ConfigID: c.configID,
		Metrics:  metrics,
	}
	if err := c.do(ctx, http.MethodPost, "worker-metrics", body, nil); err != nil {
		return fmt.Errorf("report worker metrics: %w", err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	var reader io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request failed: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+"/"+path, reader)
	if err != nil {
		return fmt.Errorf("create request failed: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request backend failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read backend response failed: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		endpoint, _, _ := strings.Cut(path, "?")
		return &HTTPError{
			Method:     method,
			Path:       endpoint,
			StatusCode: resp.StatusCode,
			Body:       truncate(string(body), 256),
		}
	}

	if out != nil {
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("decode backend response failed: %w", err)
		}
	}
	return nil
}

func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
