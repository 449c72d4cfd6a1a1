package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bryanchriswhite/motioncomm/internal/capture"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
	if cfg.Motion.ControlPort != 8080 {
		t.Errorf("expected control port 8080, got %d", cfg.Motion.ControlPort)
	}
	if cfg.Capture.ChunkThreshold != 2048 {
		t.Errorf("expected chunk threshold 2048, got %d", cfg.Capture.ChunkThreshold)
	}
}

func TestNewManagerCreatesDefaultFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	m, err := NewManager(path)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	if m.GetConfigPath() != path {
		t.Errorf("expected path %s, got %s", path, m.GetConfigPath())
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("expected default config on disk: %v", err)
	}
	if !strings.Contains(string(data), "control_port: 8080") {
		t.Errorf("expected control_port in written config, got:\n%s", data)
	}
}

func TestNewManagerReadsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `server_port: 9000
motion:
  host: nvr.local
  control_port: 7999
  request_timeout: 2s
capture:
  format: png
  frame_width: 320
  frame_height: 240
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	m, err := NewManager(path)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	cfg := m.Get()

	if cfg.ServerPort != 9000 {
		t.Errorf("expected server port 9000, got %d", cfg.ServerPort)
	}
	if cfg.Motion.Host != "nvr.local" || cfg.Motion.ControlPort != 7999 {
		t.Errorf("unexpected motion section: %+v", cfg.Motion)
	}
	if cfg.Motion.RequestTimeout != 2*time.Second {
		t.Errorf("expected 2s timeout, got %v", cfg.Motion.RequestTimeout)
	}
	// Keys missing from the file keep their defaults
	if cfg.Capture.ChunkThreshold != 2048 {
		t.Errorf("expected default chunk threshold, got %d", cfg.Capture.ChunkThreshold)
	}

	cc := cfg.CaptureConfig()
	if cc.Encoder.Format != capture.FormatPNG || cc.Encoder.Width != 320 || cc.Encoder.Height != 240 {
		t.Errorf("unexpected encoder config: %+v", cc.Encoder)
	}
	mc := cfg.MotionClientConfig()
	if mc.Host != "nvr.local" || mc.Timeout != 2*time.Second {
		t.Errorf("unexpected motion client config: %+v", mc)
	}
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("MOTIONCOMM_MOTION_HOST", "env-host")
	t.Setenv("MOTIONCOMM_SERVER_PORT", "9100")

	m, err := NewManager(filepath.Join(t.TempDir(), "config.yaml"))
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	cfg := m.Get()
	if cfg.Motion.Host != "env-host" {
		t.Errorf("expected env-host, got %s", cfg.Motion.Host)
	}
	if cfg.ServerPort != 9100 {
		t.Errorf("expected 9100, got %d", cfg.ServerPort)
	}
}

func TestSetPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	m, err := NewManager(path)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	if err := m.Set("motion.host", "camera-box"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := m.Set("capture.frame_width", "800"); err != nil {
		t.Fatalf("Set: %v", err)
	}

	reloaded, err := NewManager(path)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	cfg := reloaded.Get()
	if cfg.Motion.Host != "camera-box" {
		t.Errorf("expected camera-box, got %s", cfg.Motion.Host)
	}
	if cfg.Capture.FrameWidth != 800 {
		t.Errorf("expected width 800, got %d", cfg.Capture.FrameWidth)
	}
}

func TestSetRejectsInvalid(t *testing.T) {
	m, err := NewManager(filepath.Join(t.TempDir(), "config.yaml"))
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	if err := m.Set("capture.format", "bmp"); err == nil {
		t.Fatal("expected error for unsupported format")
	}
	if got := m.Get().Capture.Format; got != "gif" {
		t.Errorf("expected format to stay gif, got %s", got)
	}
	if got := m.GetViper().GetString("capture.format"); got != "gif" {
		t.Errorf("expected viper value to be restored, got %s", got)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad server port", func(c *Config) { c.ServerPort = 0 }},
		{"empty host", func(c *Config) { c.Motion.Host = "" }},
		{"bad control port", func(c *Config) { c.Motion.ControlPort = 70000 }},
		{"zero width", func(c *Config) { c.Capture.FrameWidth = 0 }},
		{"bad quality", func(c *Config) { c.Capture.JPEGQuality = 101 }},
		{"zero threshold", func(c *Config) { c.Capture.ChunkThreshold = 0 }},
		{"read buffer below threshold", func(c *Config) { c.Capture.ReadBuffer = 16 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestSources(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `motion:
  host: nvr.local
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	t.Setenv(EnvVar("server_port"), "9100")

	m, err := NewManager(path)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	if err := m.Override("log_level", "debug"); err != nil {
		t.Fatalf("Override: %v", err)
	}
	if err := m.Set("capture.format", "png"); err != nil {
		t.Fatalf("Set: %v", err)
	}

	tests := map[string]string{
		"motion.host":     SourceFile,
		"server_port":     SourceEnv,
		"log_level":       SourceOverride,
		"capture.format":  SourceFile,
		"capture.caption": SourceDefault,
	}
	for key, want := range tests {
		if got := m.Source(key); got != want {
			t.Errorf("Source(%s) = %s, want %s", key, got, want)
		}
	}
}

func TestEnvVar(t *testing.T) {
	if got := EnvVar("motion.control_port"); got != "MOTIONCOMM_MOTION_CONTROL_PORT" {
		t.Errorf("unexpected env var %s", got)
	}
}

func TestKeys(t *testing.T) {
	m, err := NewManager(filepath.Join(t.TempDir(), "config.yaml"))
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	motionKeys := m.Keys("motion")
	want := []string{"motion.control_port", "motion.host", "motion.owner", "motion.request_timeout", "motion.requests_per_second"}
	if strings.Join(motionKeys, ",") != strings.Join(want, ",") {
		t.Errorf("Keys(motion) = %v, want %v", motionKeys, want)
	}

	server := m.Keys("server")
	if strings.Join(server, ",") != "log_level,log_pretty,server_port" {
		t.Errorf("Keys(server) = %v", server)
	}

	if all := m.Keys(""); len(all) != len(motionKeys)+len(server)+len(m.Keys("capture")) {
		t.Errorf("Keys(\"\") = %v", all)
	}
	if len(m.Keys("nope")) != 0 {
		t.Error("expected no keys for an unknown section")
	}
}
