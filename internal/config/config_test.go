package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestDefaultServerConfigIsValid(t *testing.T) {
	cfg := DefaultServerConfig()
	require.NoError(t, validate(cfg))
	assert.Equal(t, ":2345", cfg.Listen)
	assert.Equal(t, "/horsney", cfg.Path)
	assert.Equal(t, ModeSim, cfg.Controller.Mode)
	assert.Equal(t, 5*time.Second, cfg.Controller.BootDuration.Std())
}

func TestLoadYAML(t *testing.T) {
	path := writeFile(t, "mcserver.yaml", `
listen: "127.0.0.1:9000"
log_level: debug
controller:
  mode: systemctl
  unit: minecraft.service
  refresh_interval: 2s
broker:
  request_rate: 2.5
  request_burst: 5
  allowed_origins: ["example.com"]
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9000", cfg.Listen)
	assert.Equal(t, "/horsney", cfg.Path, "unset fields keep their defaults")
	assert.Equal(t, ModeSystemctl, cfg.Controller.Mode)
	assert.Equal(t, "minecraft.service", cfg.Controller.Unit)
	assert.Equal(t, 2*time.Second, cfg.Controller.RefreshInterval.Std())
	assert.Equal(t, 2.5, cfg.Broker.RequestRate)
	assert.Equal(t, []string{"example.com"}, cfg.Broker.AllowedOrigins)
	assert.Equal(t, 16, cfg.Broker.SendBuffer)

	level, err := cfg.Level()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, level)
}

func TestLoadTOML(t *testing.T) {
	path := writeFile(t, "mcserver.toml", `
listen = ":2400"
metrics_path = ""

[controller]
mode = "sim"
boot_duration = "250ms"
shutdown_duration = "1m"

[broker]
ping_interval = "-1s"
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":2400", cfg.Listen)
	assert.Empty(t, cfg.MetricsPath)
	assert.Equal(t, 250*time.Millisecond, cfg.Controller.BootDuration.Std())
	assert.Equal(t, time.Minute, cfg.Controller.ShutdownDuration.Std())
	assert.Equal(t, -time.Second, cfg.Broker.PingInterval.Std())
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name        string
		file        string
		content     string
		expectError string
	}{
		{"unknown extension", "mcserver.json", `{}`, "unsupported config format"},
		{"bad yaml", "bad.yaml", "listen: [", "failed to parse"},
		{"bad toml", "bad.toml", "listen = ", "failed to parse"},
		{"bad duration", "d.yaml", "controller:\n  boot_duration: soon\n", "failed to parse"},
		{"numeric duration", "n.yaml", "controller:\n  boot_duration: 5\n", "failed to parse"},
		{"unknown mode", "m.yaml", "controller:\n  mode: docker\n", "controller.mode"},
		{"relative path", "p.yaml", "path: horsney\n", "path must start"},
		{"bad level", "l.toml", "log_level = \"loud\"\n", "log_level"},
		{"rate without burst", "r.yaml", "broker:\n  request_rate: 1\n", "request_burst"},
		{"systemctl without unit", "u.yaml", "controller:\n  mode: systemctl\n  unit: \"\"\n", "controller.unit"},
		{"zero sim duration", "z.toml", "[controller]\nboot_duration = \"0s\"\n", "durations must be positive"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeFile(t, tt.file, tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.expectError)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestWatchAppliesValidChanges(t *testing.T) {
	path := writeFile(t, "mcserver.yaml", "controller:\n  boot_duration: 1s\n")

	applied := make(chan *ServerConfig, 4)
	w, err := Watch(path, nil, 50*time.Millisecond, func(cfg *ServerConfig) { applied <- cfg })
	require.NoError(t, err)
	defer w.Stop()

	// An invalid edit is skipped.
	require.NoError(t, os.WriteFile(path, []byte("controller:\n  mode: docker\n"), 0644))
	select {
	case cfg := <-applied:
		t.Fatalf("invalid config applied: %+v", cfg)
	case <-time.After(400 * time.Millisecond):
	}

	require.NoError(t, os.WriteFile(path, []byte("log_level: warn\ncontroller:\n  boot_duration: 3s\n"), 0644))
	select {
	case cfg := <-applied:
		assert.Equal(t, 3*time.Second, cfg.Controller.BootDuration.Std())
		assert.Equal(t, "warn", cfg.LogLevel)
	case <-time.After(2 * time.Second):
		t.Fatal("config change was not applied")
	}
}
