package neoaudit

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"neoaudit/internal/config"
	"neoaudit/internal/model/base"
)

func testConfig(t *testing.T) *config.Config {
	cfg := &config.Config{
		Server:   &config.ServerConfig{Host: "127.0.0.1", Port: 18090, Mode: "test", Prefix: "/api/v1"},
		Log:      &config.LogConfig{Level: "error", Format: "json", Output: "stdout"},
		Database: &config.DatabaseConfig{Type: "sqlite", SQLitePath: ":memory:", LogLevel: "silent", AutoMigrate: true},
		Scan:     &config.ScanConfig{StopGrace: time.Second},
	}
	require.NoError(t, config.Validate(cfg))
	cfg.Scan.Attack.DSLDir = t.TempDir()
	return cfg
}

func serve(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestAppRoutes(t *testing.T) {
	app, err := NewApp(testConfig(t))
	require.NoError(t, err)
	defer func() { _ = app.Stop(context.Background()) }()
	engine := app.GetRouter().GetEngine()

	w := serve(engine, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"healthy"`)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	w = serve(engine, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "req-fixed")
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)
	assert.Equal(t, "req-fixed", rec.Header().Get("X-Request-ID"))

	w = serve(engine, http.MethodPost, "/api/v1/scan/tasks", `{"scan_type":"web_scan","target":"8.8.8.8"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = serve(engine, http.MethodGet, "/api/v1/scan/tasks/42", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAppRunsTaskToTerminalState(t *testing.T) {
	app, err := NewApp(testConfig(t))
	require.NoError(t, err)
	defer func() { _ = app.Stop(context.Background()) }()
	engine := app.GetRouter().GetEngine()

	require.NoError(t, app.Start(context.Background()))

	// 未注册的扫描类型在执行阶段失败
	w := serve(engine, http.MethodPost, "/api/v1/scan/tasks", `{"scan_type":"custom_check","target":"127.0.0.1"}`)
	require.Equal(t, http.StatusCreated, w.Code)
	app.GetScanModule().TaskService.Wait()

	w = serve(engine, http.MethodGet, "/api/v1/scan/tasks/1/status", "")
	require.Equal(t, http.StatusOK, w.Code)
	var resp base.APIResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	data := resp.Data.(map[string]interface{})
	assert.Equal(t, "failed", data["status"])
	assert.Equal(t, "error", data["finish_reason"])
	assert.Contains(t, data["error_message"], "unknown scan type")

	// api_attack 在 DSL 目录为空时直接完成
	w = serve(engine, http.MethodPost, "/api/v1/scan/tasks", `{"scan_type":"api_attack","target":"http://127.0.0.1:1"}`)
	require.Equal(t, http.StatusCreated, w.Code)
	app.GetScanModule().TaskService.Wait()

	w = serve(engine, http.MethodGet, "/api/v1/scan/tasks/2", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	task := resp.Data.(map[string]interface{})
	assert.Equal(t, "finished", task["status"])
	assert.Equal(t, 100.0, task["progress"])
	assert.Equal(t, "none", task["risk_level"])
	assert.Contains(t, task["report_content"], "未发现漏洞")

	// dsl_file 不能读取 DSL 目录以外的文件
	outside := filepath.Join(t.TempDir(), "passwd")
	require.NoError(t, os.WriteFile(outside, []byte("root:x:0:0:root:/root:/bin/bash\n"), 0o644))
	body, err := json.Marshal(map[string]interface{}{
		"scan_type": "api_attack",
		"target":    "http://127.0.0.1:1",
		"config":    map[string]interface{}{"dsl_file": outside},
	})
	require.NoError(t, err)
	w = serve(engine, http.MethodPost, "/api/v1/scan/tasks", string(body))
	require.Equal(t, http.StatusCreated, w.Code)
	app.GetScanModule().TaskService.Wait()

	w = serve(engine, http.MethodGet, "/api/v1/scan/tasks/3/status", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	data = resp.Data.(map[string]interface{})
	assert.Equal(t, "failed", data["status"])
	assert.Contains(t, data["error_message"], "dsl file not allowed")
	assert.NotContains(t, data["error_message"], "root:x")

	// 带 userinfo 的目标在创建时拒绝
	w = serve(engine, http.MethodPost, "/api/v1/scan/tasks", `{"scan_type":"web_scan","target":"10.0.0.1:80@public.example.com"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
