package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/timesheet-engine/internal/config"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := config.Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, ":8080", cfg.Server.Addr())
	assert.Equal(t, 30*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, []string{"http://localhost:5173"}, cfg.Server.CORS.AllowOrigins)
	assert.Equal(t, "timesheet.db", cfg.Database.Path)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.True(t, cfg.AutoSubmit.Enabled)
	assert.Equal(t, time.Hour, cfg.AutoSubmit.Interval)
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
  cors:
    allow_origins: ["https://app.example.com"]
db:
  path: /var/lib/timesheet/data.db
log:
  level: debug
  format: console
autosubmit:
  enabled: false
  interval: 5m
`)

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, []string{"https://app.example.com"}, cfg.Server.CORS.AllowOrigins)
	assert.Equal(t, "/var/lib/timesheet/data.db", cfg.Database.Path)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.False(t, cfg.AutoSubmit.Enabled)
	assert.Equal(t, 5*time.Minute, cfg.AutoSubmit.Interval)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "server:\n  port: 9090\n")
	t.Setenv("TIMESHEET_SERVER_PORT", "7070")
	t.Setenv("TIMESHEET_DB_PATH", ":memory:")

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, ":memory:", cfg.Database.Path)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() config.Config {
		return config.Config{
			Server:     config.ServerConfig{Port: 8080},
			Database:   config.DatabaseConfig{Path: "timesheet.db"},
			Log:        config.LogConfig{Level: "info", Format: "json"},
			AutoSubmit: config.AutoSubmitConfig{Enabled: true, Interval: time.Hour},
		}
	}

	tests := []struct {
		name   string
		mutate func(*config.Config)
		ok     bool
	}{
		{"valid", func(*config.Config) {}, true},
		{"port zero", func(c *config.Config) { c.Server.Port = 0 }, false},
		{"port too high", func(c *config.Config) { c.Server.Port = 70000 }, false},
		{"empty db path", func(c *config.Config) { c.Database.Path = " " }, false},
		{"zero interval", func(c *config.Config) { c.AutoSubmit.Interval = 0 }, false},
		{"zero interval when disabled", func(c *config.Config) { c.AutoSubmit = config.AutoSubmitConfig{} }, true},
		{"unknown log format", func(c *config.Config) { c.Log.Format = "xml" }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}
