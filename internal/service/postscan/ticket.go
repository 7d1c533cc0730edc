package postscan

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"neoaudit/internal/model/scan"
)

const defaultTicketTimeout = 10 * time.Second

// ticketPayload 工单 Webhook 请求体
type ticketPayload struct {
	TaskID    uint64         `json:"task_id"`
	Target    string         `json:"target"`
	Findings  []scan.Finding `json:"findings"`
	CreatedAt time.Time      `json:"created_at"`
}

// WebhookTicketCreator 以 JSON POST 方式推送到缺陷管理系统
type WebhookTicketCreator struct {
	endpoint string
	token    string
	client   *http.Client
}

// NewWebhookTicketCreator 创建工单推送器
func NewWebhookTicketCreator(endpoint, token string, timeout time.Duration) *WebhookTicketCreator {
	if timeout <= 0 {
		timeout = defaultTicketTimeout
	}
	return &WebhookTicketCreator{
		endpoint: endpoint,
		token:    token,
		client:   &http.Client{Timeout: timeout},
	}
}

// Create 推送工单，非 2xx 视为失败
func (c *WebhookTicketCreator) Create(ctx context.Context, taskID uint64, target string, findings []scan.Finding) error {
	body, err := json.Marshal(ticketPayload{
		TaskID:    taskID,
		Target:    target,
		Findings:  findings,
		CreatedAt: time.Now(),
	})
	if err != nil {
		return fmt.Errorf("marshal ticket: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build ticket request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ticket: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("ticket endpoint returned %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}
	return nil
}
