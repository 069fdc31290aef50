package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DingTalkWebhookSender 通过自定义机器人 webhook 发送钉钉文本消息。
type DingTalkWebhookSender struct {
	Endpoint   string
	HTTPClient *http.Client
}

// Send 实现 DingTalkSender。
func (s *DingTalkWebhookSender) Send(ctx context.Context, content string) error {
	payload := map[string]any{
		"msgtype": "text",
		"text":    map[string]string{"content": content},
	}
	return postJSON(ctx, s.client(), s.Endpoint, payload)
}

func (s *DingTalkWebhookSender) client() *http.Client {
	if s.HTTPClient != nil {
		return s.HTTPClient
	}
	return defaultWebhookClient
}

// SlackWebhookSender 通过 incoming webhook 发送 Slack 消息。
type SlackWebhookSender struct {
	Endpoint   string
	HTTPClient *http.Client
}

// Send 实现 SlackSender。
func (s *SlackWebhookSender) Send(ctx context.Context, channel, content string) error {
	payload := map[string]string{
		"channel": channel,
		"text":    content,
	}
	return postJSON(ctx, s.client(), s.Endpoint, payload)
}

func (s *SlackWebhookSender) client() *http.Client {
	if s.HTTPClient != nil {
		return s.HTTPClient
	}
	return defaultWebhookClient
}

var defaultWebhookClient = &http.Client{Timeout: 10 * time.Second}

func postJSON(ctx context.Context, client *http.Client, endpoint string, payload any) error {
	if endpoint == "" {
		return fmt.Errorf("webhook endpoint 未配置")
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("序列化 webhook 负载失败: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("构造 webhook 请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("发送 webhook 失败: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("webhook 返回 %d: %s", resp.StatusCode, bytes.TrimSpace(data))
	}
	return nil
}
