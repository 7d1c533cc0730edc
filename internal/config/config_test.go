package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
server:
  port: 9100
database:
  type: sqlite
  sqlite_path: ":memory:"
scan:
  poll_interval: 1s
  web:
    zap_address: http://zap.local:8080
  dependency:
    tools:
      bandit:
        enabled: true
        binary: /usr/local/bin/bandit
security:
  extra_allowed_cidrs:
    - 203.0.113.0/24
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadConfigFromFile(t *testing.T) {
	cfg, err := LoadConfigFromFile(writeConfig(t, sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, "sqlite", cfg.Database.Type)
	assert.Equal(t, ":memory:", cfg.Database.SQLitePath)
	assert.Equal(t, time.Second, cfg.Scan.PollInterval)
	assert.Equal(t, "http://zap.local:8080", cfg.Scan.Web.ZapAddress)
	assert.Equal(t, 3, cfg.Scan.Web.MaxPollErrors)
	assert.Equal(t, 30*time.Second, cfg.Scan.StopGrace)
	require.Contains(t, cfg.Scan.Dependency.Tools, "bandit")
	assert.Equal(t, "/usr/local/bin/bandit", cfg.Scan.Dependency.Tools["bandit"].Binary)
	assert.Equal(t, []string{"203.0.113.0/24"}, cfg.Security.ExtraAllowedCIDRs)
	assert.Equal(t, "high", cfg.PostScan.Ticket.MinSeverity)
}

func TestLoadConfigEnvOverride(t *testing.T) {
	t.Setenv("NEOAUDIT_SERVER_PORT", "9200")
	t.Setenv("NEOAUDIT_ZAP_API_KEY", "secret")

	cfg, err := LoadConfigFromFile(writeConfig(t, sampleYAML))
	require.NoError(t, err)
	assert.Equal(t, 9200, cfg.Server.Port)
	assert.Equal(t, "secret", cfg.Scan.Web.APIKey)
}

func TestValidate(t *testing.T) {
	_, err := LoadConfigFromFile(writeConfig(t, "server:\n  port: 70000\n"))
	assert.Error(t, err)

	_, err = LoadConfigFromFile(writeConfig(t, "database:\n  type: oracle\n"))
	assert.Error(t, err)

	cfg := &Config{
		Server:   &ServerConfig{Port: 80},
		Log:      &LogConfig{},
		Database: &DatabaseConfig{Type: "mysql"},
		Scan:     &ScanConfig{},
	}
	require.NoError(t, Validate(cfg))
	assert.Equal(t, 2*time.Second, cfg.Scan.PollInterval)
	assert.NotNil(t, cfg.Scan.Baseline)
	assert.NotNil(t, cfg.Security)
}

func TestConfigWatcherReload(t *testing.T) {
	path := writeConfig(t, sampleYAML)
	w, err := NewConfigWatcher(path)
	require.NoError(t, err)
	w.SetReloadDelay(50 * time.Millisecond)

	changed := make(chan int, 1)
	w.AddCallback(func(oldConfig, newConfig *Config) error {
		select {
		case changed <- newConfig.Server.Port:
		default:
		}
		return nil
	})
	require.NoError(t, w.Start())
	defer w.Stop()

	updated := strings.Replace(sampleYAML, "port: 9100", "port: 9300", 1)
	require.NoError(t, os.WriteFile(path, []byte(updated), 0o644))

	select {
	case port := <-changed:
		assert.Equal(t, 9300, port)
		assert.Eventually(t, func() bool { return w.GetConfig().Server.Port == 9300 }, time.Second, 10*time.Millisecond)
	case <-time.After(3 * time.Second):
		t.Fatal("config reload not observed")
	}
}
