package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
	"go.uber.org/zap"
)

// Config represents the daemon configuration
type Config struct {
	Sensor      SensorConfig      `toml:"sensor" json:"sensor"`
	Calibration CalibrationConfig `toml:"calibration" json:"calibration"`
	Server      ServerConfig      `toml:"server" json:"server"`
	MQTT        MQTTConfig        `toml:"mqtt" json:"mqtt"`
	Diagnostics DiagnosticsConfig `toml:"diagnostics" json:"diagnostics"`
	Virtual     VirtualConfig     `toml:"virtual" json:"virtual"`
	Timeouts    TimeoutConfig     `toml:"timeouts" json:"timeouts"`
}

// SensorConfig describes the sensor the pipeline is prepared for
type SensorConfig struct {
	Name        string `toml:"name" json:"name"`
	Width       int    `toml:"width" json:"width"`
	Height      int    `toml:"height" json:"height"`
	WorkingMode string `toml:"working_mode" json:"working_mode"` // normal, hdr2, hdr3
	HasFlash    bool   `toml:"has_flash" json:"has_flash"`
	HasIRCut    bool   `toml:"has_ir_cut" json:"has_ir_cut"`
	HasLens     bool   `toml:"has_lens" json:"has_lens"`
}

// CalibrationConfig points at the calibration file
type CalibrationConfig struct {
	Path string `toml:"path" json:"path"` // empty uses built-in defaults
}

// ServerConfig holds HTTP control server settings
type ServerConfig struct {
	Enabled        bool     `toml:"enabled" json:"enabled"`
	WebPort        int      `toml:"web_port" json:"web_port"`
	BindIP         string   `toml:"bind_ip" json:"bind_ip"`
	AllowedOrigins []string `toml:"allowed_origins" json:"allowed_origins"`
	EventBuffer    int      `toml:"event_buffer" json:"event_buffer"`
}

// MQTTConfig holds event emitter settings
type MQTTConfig struct {
	Enabled  bool   `toml:"enabled" json:"enabled"`
	Broker   string `toml:"broker" json:"broker"`
	ClientID string `toml:"client_id" json:"client_id"`
	Topic    string `toml:"topic" json:"topic"`
	QoS      byte   `toml:"qos" json:"qos"`
}

// DiagnosticsConfig replaces process-wide debug switches; it is handed to
// the manager at construction.
type DiagnosticsConfig struct {
	TraceApply       bool `toml:"trace_apply" json:"trace_apply"`
	LogStats         bool `toml:"log_stats" json:"log_stats"`
	FrameLogInterval int  `toml:"frame_log_interval" json:"frame_log_interval"`
}

// VirtualConfig tunes the in-process virtual backend
type VirtualConfig struct {
	FrameIntervalMs int  `toml:"frame_interval_ms" json:"frame_interval_ms"`
	FailSwitch      bool `toml:"fail_switch" json:"fail_switch"`
}

// TimeoutConfig holds shutdown timeouts
type TimeoutConfig struct {
	ShutdownTimeout     int `toml:"shutdown_timeout_seconds" json:"shutdown_timeout_seconds"`
	HTTPShutdownTimeout int `toml:"http_shutdown_timeout_seconds" json:"http_shutdown_timeout_seconds"`
	MQTTConnectTimeout  int `toml:"mqtt_connect_timeout_seconds" json:"mqtt_connect_timeout_seconds"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Sensor: SensorConfig{
			Name:        "m00_b_virtual",
			Width:       1920,
			Height:      1080,
			WorkingMode: "normal",
			HasIRCut:    true,
		},
		Server: ServerConfig{
			Enabled:        true,
			WebPort:        8080,
			BindIP:         "0.0.0.0",
			AllowedOrigins: []string{"*"},
			EventBuffer:    64,
		},
		MQTT: MQTTConfig{
			Broker:   "localhost:1883",
			ClientID: "isp-orchestrator",
			Topic:    "isp/events",
		},
		Diagnostics: DiagnosticsConfig{
			FrameLogInterval: 300,
		},
		Virtual: VirtualConfig{
			FrameIntervalMs: 33,
		},
		Timeouts: TimeoutConfig{
			ShutdownTimeout:     10,
			HTTPShutdownTimeout: 5,
			MQTTConnectTimeout:  5,
		},
	}
}

// LoadConfig loads configuration from a TOML file
func LoadConfig(configPath string) (*Config, error) {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	config := Default()

	// Load from file if it exists
	if _, err := os.Stat(configPath); err == nil {
		if _, err := toml.DecodeFile(configPath, config); err != nil {
			return nil, fmt.Errorf("failed to decode config file: %w", err)
		}
		logger.Info("Config loaded from file", zap.String("path", configPath))
	} else {
		logger.Info("Config file not found, using defaults", zap.String("path", configPath))
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate checks values the manager cannot recover from at runtime
func (c *Config) Validate() error {
	if c.Sensor.Name == "" {
		return fmt.Errorf("sensor.name must be set")
	}
	if c.Sensor.Width <= 0 || c.Sensor.Height <= 0 {
		return fmt.Errorf("invalid sensor size %dx%d", c.Sensor.Width, c.Sensor.Height)
	}
	switch strings.ToLower(c.Sensor.WorkingMode) {
	case "normal", "hdr2", "hdr3":
	default:
		return fmt.Errorf("unknown working_mode %q", c.Sensor.WorkingMode)
	}
	if c.Server.Enabled && (c.Server.WebPort <= 0 || c.Server.WebPort > 65535) {
		return fmt.Errorf("invalid web_port %d", c.Server.WebPort)
	}
	if c.MQTT.QoS > 2 {
		return fmt.Errorf("invalid mqtt qos %d", c.MQTT.QoS)
	}
	return nil
}

// SaveConfig saves the current configuration to a file
func SaveConfig(config *Config, configPath string) error {
	file, err := os.Create(configPath)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer file.Close()

	encoder := toml.NewEncoder(file)
	if err := encoder.Encode(config); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	return nil
}
