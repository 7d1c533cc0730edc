/**
 * ZAP 守护进程客户端
 * @author: sun977
 * @date: 2026.10.13
 * @description: OWASP ZAP JSON API 的最小封装，覆盖爬虫、主动扫描与告警读取
 */
package zap

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// 响应体读取上限，告警列表可能较大
const maxResponseBytes = 64 << 20

// Client ZAP 控制接口
type Client interface {
	// StartSpider 启动爬虫，返回扫描 ID
	StartSpider(ctx context.Context, target string) (string, error)
	// SpiderStatus 爬虫进度 0-100
	SpiderStatus(ctx context.Context, scanID string) (int, error)
	// StopSpider 停止爬虫
	StopSpider(ctx context.Context, scanID string) error

	// StartActiveScan 启动主动扫描，返回扫描 ID
	StartActiveScan(ctx context.Context, target string) (string, error)
	// ActiveScanStatus 主动扫描进度 0-100
	ActiveScanStatus(ctx context.Context, scanID string) (int, error)
	// StopActiveScan 停止主动扫描
	StopActiveScan(ctx context.Context, scanID string) error

	// Alerts 读取目标相关的全部告警，返回原始 JSON
	Alerts(ctx context.Context, baseURL string) ([]byte, error)
}

// zapClient Client 的 HTTP 实现
type zapClient struct {
	client  *http.Client
	baseURL string
	apiKey  string
}

// NewClient 创建 ZAP 客户端
// timeout 为单次 HTTP 请求的上限，调用方还会通过 ctx 控制
func NewClient(baseURL, apiKey string, timeout time.Duration) Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &zapClient{
		client:  &http.Client{Timeout: timeout},
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
	}
}

// APIError ZAP 返回的非 200 响应
type APIError struct {
	StatusCode int
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("zap api error (http %d): %s %s", e.StatusCode, e.Code, e.Message)
}

// StartSpider 启动爬虫
func (c *zapClient) StartSpider(ctx context.Context, target string) (string, error) {
	return c.startScan(ctx, "/JSON/spider/action/scan/", url.Values{"url": {target}, "recurse": {"true"}})
}

// SpiderStatus 爬虫进度
func (c *zapClient) SpiderStatus(ctx context.Context, scanID string) (int, error) {
	return c.status(ctx, "/JSON/spider/view/status/", scanID)
}

// StopSpider 停止爬虫
func (c *zapClient) StopSpider(ctx context.Context, scanID string) error {
	_, err := c.get(ctx, "/JSON/spider/action/stop/", url.Values{"scanId": {scanID}})
	return err
}

// StartActiveScan 启动主动扫描
func (c *zapClient) StartActiveScan(ctx context.Context, target string) (string, error) {
	return c.startScan(ctx, "/JSON/ascan/action/scan/", url.Values{"url": {target}, "recurse": {"true"}})
}

// ActiveScanStatus 主动扫描进度
func (c *zapClient) ActiveScanStatus(ctx context.Context, scanID string) (int, error) {
	return c.status(ctx, "/JSON/ascan/view/status/", scanID)
}

// StopActiveScan 停止主动扫描
func (c *zapClient) StopActiveScan(ctx context.Context, scanID string) error {
	_, err := c.get(ctx, "/JSON/ascan/action/stop/", url.Values{"scanId": {scanID}})
	return err
}

// Alerts 读取告警
func (c *zapClient) Alerts(ctx context.Context, baseURL string) ([]byte, error) {
	return c.get(ctx, "/JSON/core/view/alerts/", url.Values{"baseurl": {baseURL}})
}

func (c *zapClient) startScan(ctx context.Context, path string, params url.Values) (string, error) {
	body, err := c.get(ctx, path, params)
	if err != nil {
		return "", err
	}
	var resp struct {
		Scan string `json:"scan"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("decode %s response: %w", path, err)
	}
	if resp.Scan == "" {
		return "", fmt.Errorf("%s returned empty scan id", path)
	}
	return resp.Scan, nil
}

func (c *zapClient) status(ctx context.Context, path, scanID string) (int, error) {
	body, err := c.get(ctx, path, url.Values{"scanId": {scanID}})
	if err != nil {
		return 0, err
	}
	var resp struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, fmt.Errorf("decode %s response: %w", path, err)
	}
	progress, err := strconv.Atoi(resp.Status)
	if err != nil {
		return 0, fmt.Errorf("invalid status %q from %s", resp.Status, path)
	}
	return progress, nil
}

// get 发送请求，API Key 通过 X-ZAP-API-Key 头传递
func (c *zapClient) get(ctx context.Context, path string, params url.Values) ([]byte, error) {
	endpoint := c.baseURL + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-ZAP-API-Key", c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", path, err)
	}
	if resp.StatusCode != http.StatusOK {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if json.Unmarshal(body, apiErr) != nil || apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(body))
		}
		return nil, apiErr
	}
	return body, nil
}
