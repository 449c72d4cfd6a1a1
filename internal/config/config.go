package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bryanchriswhite/motioncomm/internal/capture"
	"github.com/bryanchriswhite/motioncomm/internal/logger"
	"github.com/bryanchriswhite/motioncomm/internal/motion"
	"github.com/bryanchriswhite/motioncomm/internal/stream"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes environment overrides, e.g. MOTIONCOMM_MOTION_HOST.
const EnvPrefix = "MOTIONCOMM"

// MotionConfig locates the Motion daemon's webcontrol interface
type MotionConfig struct {
	Host              string        `json:"host" yaml:"host" mapstructure:"host"`
	ControlPort       int           `json:"control_port" yaml:"control_port" mapstructure:"control_port"`
	Owner             string        `json:"owner" yaml:"owner" mapstructure:"owner"`
	RequestTimeout    time.Duration `json:"request_timeout" yaml:"request_timeout" mapstructure:"request_timeout"`
	RequestsPerSecond float64       `json:"requests_per_second" yaml:"requests_per_second" mapstructure:"requests_per_second"`
}

// CaptureConfig tunes the stream fan-out and frame capture engine
type CaptureConfig struct {
	FrameWidth     int    `json:"frame_width" yaml:"frame_width" mapstructure:"frame_width"`
	FrameHeight    int    `json:"frame_height" yaml:"frame_height" mapstructure:"frame_height"`
	Format         string `json:"format" yaml:"format" mapstructure:"format"`
	JPEGQuality    int    `json:"jpeg_quality" yaml:"jpeg_quality" mapstructure:"jpeg_quality"`
	Caption        bool   `json:"caption" yaml:"caption" mapstructure:"caption"`
	ChunkThreshold int    `json:"chunk_threshold" yaml:"chunk_threshold" mapstructure:"chunk_threshold"`
	ReadBuffer     int    `json:"read_buffer" yaml:"read_buffer" mapstructure:"read_buffer"`
	SinkBuffer     int    `json:"sink_buffer" yaml:"sink_buffer" mapstructure:"sink_buffer"`
	MaxFrameSize   int    `json:"max_frame_size" yaml:"max_frame_size" mapstructure:"max_frame_size"`
}

// Config represents the application configuration
type Config struct {
	ServerPort int           `json:"server_port" yaml:"server_port" mapstructure:"server_port"`
	LogLevel   string        `json:"log_level" yaml:"log_level" mapstructure:"log_level"`
	LogPretty  bool          `json:"log_pretty" yaml:"log_pretty" mapstructure:"log_pretty"`
	Motion     MotionConfig  `json:"motion" yaml:"motion" mapstructure:"motion"`
	Capture    CaptureConfig `json:"capture" yaml:"capture" mapstructure:"capture"`
}

// Defaults returns the built-in configuration
func Defaults() Config {
	return Config{
		ServerPort: 8090,
		LogLevel:   "info",
		Motion: MotionConfig{
			Host:              "localhost",
			ControlPort:       8080,
			RequestTimeout:    5 * time.Second,
			RequestsPerSecond: 10,
		},
		Capture: CaptureConfig{
			FrameWidth:     640,
			FrameHeight:    480,
			Format:         "gif",
			JPEGQuality:    85,
			ChunkThreshold: 2048,
			ReadBuffer:     64 << 10,
			SinkBuffer:     4 << 20,
			MaxFrameSize:   8 << 20,
		},
	}
}

func setDefaults(v *viper.Viper) {
	d := Defaults()
	v.SetDefault("server_port", d.ServerPort)
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("log_pretty", d.LogPretty)

	v.SetDefault("motion.host", d.Motion.Host)
	v.SetDefault("motion.control_port", d.Motion.ControlPort)
	v.SetDefault("motion.owner", d.Motion.Owner)
	v.SetDefault("motion.request_timeout", d.Motion.RequestTimeout)
	v.SetDefault("motion.requests_per_second", d.Motion.RequestsPerSecond)

	v.SetDefault("capture.frame_width", d.Capture.FrameWidth)
	v.SetDefault("capture.frame_height", d.Capture.FrameHeight)
	v.SetDefault("capture.format", d.Capture.Format)
	v.SetDefault("capture.jpeg_quality", d.Capture.JPEGQuality)
	v.SetDefault("capture.caption", d.Capture.Caption)
	v.SetDefault("capture.chunk_threshold", d.Capture.ChunkThreshold)
	v.SetDefault("capture.read_buffer", d.Capture.ReadBuffer)
	v.SetDefault("capture.sink_buffer", d.Capture.SinkBuffer)
	v.SetDefault("capture.max_frame_size", d.Capture.MaxFrameSize)
}

// Validate checks values the engine cannot work with
func (c *Config) Validate() error {
	if c.ServerPort <= 0 || c.ServerPort > 65535 {
		return fmt.Errorf("invalid server_port: %d", c.ServerPort)
	}
	if c.Motion.Host == "" {
		return fmt.Errorf("motion.host must not be empty")
	}
	if c.Motion.ControlPort <= 0 || c.Motion.ControlPort > 65535 {
		return fmt.Errorf("invalid motion.control_port: %d", c.Motion.ControlPort)
	}
	if c.Capture.FrameWidth <= 0 || c.Capture.FrameHeight <= 0 {
		return fmt.Errorf("invalid capture frame size: %dx%d", c.Capture.FrameWidth, c.Capture.FrameHeight)
	}
	if _, err := capture.ParseFormat(c.Capture.Format); err != nil {
		return fmt.Errorf("capture.format: %w", err)
	}
	if c.Capture.JPEGQuality < 1 || c.Capture.JPEGQuality > 100 {
		return fmt.Errorf("invalid capture.jpeg_quality: %d (1-100)", c.Capture.JPEGQuality)
	}
	if c.Capture.ChunkThreshold <= 0 {
		return fmt.Errorf("invalid capture.chunk_threshold: %d", c.Capture.ChunkThreshold)
	}
	if c.Capture.ReadBuffer < c.Capture.ChunkThreshold {
		return fmt.Errorf("capture.read_buffer (%d) must be at least capture.chunk_threshold (%d)",
			c.Capture.ReadBuffer, c.Capture.ChunkThreshold)
	}
	return nil
}

// MotionClientConfig converts the motion section for motion.NewClient.
func (c *Config) MotionClientConfig() motion.Config {
	return motion.Config{
		Host:              c.Motion.Host,
		ControlPort:       c.Motion.ControlPort,
		Owner:             c.Motion.Owner,
		Timeout:           c.Motion.RequestTimeout,
		RequestsPerSecond: c.Motion.RequestsPerSecond,
	}
}

// CaptureConfig converts the capture section for capture.NewCoordinator.
func (c *Config) CaptureConfig() capture.Config {
	return capture.Config{
		Stream: stream.Options{
			ChunkThreshold: c.Capture.ChunkThreshold,
			ReadBuffer:     c.Capture.ReadBuffer,
			SinkBuffer:     c.Capture.SinkBuffer,
		},
		Encoder: capture.EncoderConfig{
			Width:       c.Capture.FrameWidth,
			Height:      c.Capture.FrameHeight,
			Format:      capture.Format(c.Capture.Format),
			JPEGQuality: c.Capture.JPEGQuality,
			Caption:     c.Capture.Caption,
		},
		MaxFrameSize: c.Capture.MaxFrameSize,
	}
}

// Where an effective value comes from, highest precedence first.
const (
	SourceOverride = "override"
	SourceEnv      = "env"
	SourceFile     = "file"
	SourceDefault  = "default"
)

// EnvVar returns the environment variable that overrides key,
// e.g. motion.host -> MOTIONCOMM_MOTION_HOST.
func EnvVar(key string) string {
	return EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

// Manager handles configuration
type Manager struct {
	configPath string
	v          *viper.Viper
	config     *Config
	// sources records keys changed through Override or Set in this process
	sources map[string]string
	mu      sync.RWMutex
}

// DefaultPath returns $HOME/.config/motioncomm/config.yaml
func DefaultPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", "motioncomm", "config.yaml"), nil
}

// NewManager loads configFile (or the default path), writing a default
// config there if none exists yet. Environment variables override file values.
func NewManager(configFile string) (*Manager, error) {
	path := configFile
	if path == "" {
		p, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		path = p
	}

	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	m := &Manager{
		configPath: path,
		v:          v,
		sources:    make(map[string]string),
	}

	log := logger.WithComponent("config")

	created := false
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		log.Info().Str("path", path).Msg("Config file not found, creating new config")
		created = true
	}

	if err := m.reload(); err != nil {
		return nil, err
	}
	if created {
		if err := m.Save(); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
	}

	log.Info().
		Str("path", m.configPath).
		Str("motion_host", m.config.Motion.Host).
		Int("motion_port", m.config.Motion.ControlPort).
		Msg("Config loaded")
	return m, nil
}

// reload decodes the viper state into a fresh Config.
func (m *Manager) reload() error {
	var cfg Config
	if err := m.v.Unmarshal(&cfg); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	m.mu.Lock()
	m.config = &cfg
	m.mu.Unlock()
	return nil
}

// Get returns a copy of the current configuration
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.config == nil {
		d := Defaults()
		return &d
	}
	cfg := *m.config
	return &cfg
}

// GetViper exposes the underlying viper instance for key lookups
func (m *Manager) GetViper() *viper.Viper {
	return m.v
}

// Override sets key for this process only
func (m *Manager) Override(key string, value interface{}) error {
	return m.apply(key, value, SourceOverride)
}

// Set sets key and persists the configuration
func (m *Manager) Set(key string, value interface{}) error {
	if err := m.apply(key, value, SourceFile); err != nil {
		return err
	}
	return m.Save()
}

func (m *Manager) apply(key string, value interface{}, source string) error {
	prev := m.v.Get(key)
	m.v.Set(key, value)
	if err := m.reload(); err != nil {
		m.v.Set(key, prev)
		return err
	}

	m.mu.Lock()
	m.sources[key] = source
	m.mu.Unlock()
	return nil
}

// Source reports where the effective value of key comes from: an override
// in this process, the environment, the config file or the built-in default.
func (m *Manager) Source(key string) string {
	m.mu.RLock()
	source, ok := m.sources[key]
	m.mu.RUnlock()

	switch {
	case ok:
		return source
	case os.Getenv(EnvVar(key)) != "":
		return SourceEnv
	case m.v.InConfig(key):
		return SourceFile
	default:
		return SourceDefault
	}
}

// Keys returns every known configuration key in sorted order. A non-empty
// section such as "motion" limits the result to keys under it; "server"
// selects the top-level keys.
func (m *Manager) Keys(section string) []string {
	var keys []string
	for _, key := range m.v.AllKeys() {
		top, _, nested := strings.Cut(key, ".")
		switch {
		case section == "":
		case section == "server" && !nested:
		case nested && top == section:
		default:
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Save saves the current configuration to disk
func (m *Manager) Save() error {
	cfg := m.Get()
	log := logger.WithComponent("config")

	configDir := filepath.Dir(m.configPath)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		log.Error().Err(err).Str("config_dir", configDir).Msg("Failed to create config directory")
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(m.configPath, data, 0644); err != nil {
		log.Error().Err(err).Str("path", m.configPath).Msg("Failed to write config")
		return err
	}

	log.Debug().Str("path", m.configPath).Msg("Config saved")
	return nil
}

// GetConfigPath returns the path to the config file
func (m *Manager) GetConfigPath() string {
	return m.configPath
}
