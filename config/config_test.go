package config

import (
	"os"
	"testing"
)

// TestLoadConfigDefaults tests default configuration loading
func TestLoadConfigDefaults(t *testing.T) {
	// Use non-existent file to trigger defaults
	cfg, err := LoadConfig("non-existent-config.toml")
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.Sensor.Width != 1920 {
		t.Errorf("Default Sensor.Width = %d, want 1920", cfg.Sensor.Width)
	}

	if cfg.Sensor.Height != 1080 {
		t.Errorf("Default Sensor.Height = %d, want 1080", cfg.Sensor.Height)
	}

	if cfg.Sensor.WorkingMode != "normal" {
		t.Errorf("Default Sensor.WorkingMode = %q, want normal", cfg.Sensor.WorkingMode)
	}

	if cfg.Server.WebPort != 8080 {
		t.Errorf("Default Server.WebPort = %d, want 8080", cfg.Server.WebPort)
	}

	if cfg.MQTT.Enabled {
		t.Error("MQTT should be disabled by default")
	}

	if cfg.Diagnostics.TraceApply {
		t.Error("TraceApply should be disabled by default")
	}
}

// TestLoadConfigFromFile tests loading config from TOML file
func TestLoadConfigFromFile(t *testing.T) {
	tmpFile, err := os.CreateTemp("", "test-config-*.toml")
	if err != nil {
		t.Fatalf("Failed to create temp file: %v", err)
	}
	defer os.Remove(tmpFile.Name())

	configContent := `
[sensor]
name = "m01_f_imx415"
width = 3840
height = 2160
working_mode = "hdr2"
has_flash = true

[mqtt]
enabled = true
broker = "10.0.0.2:1883"
qos = 1

[diagnostics]
trace_apply = true
`

	if _, err := tmpFile.WriteString(configContent); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	tmpFile.Close()

	cfg, err := LoadConfig(tmpFile.Name())
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.Sensor.Name != "m01_f_imx415" {
		t.Errorf("Sensor.Name = %q", cfg.Sensor.Name)
	}

	if cfg.Sensor.Width != 3840 || cfg.Sensor.Height != 2160 {
		t.Errorf("Sensor size = %dx%d, want 3840x2160", cfg.Sensor.Width, cfg.Sensor.Height)
	}

	if cfg.Sensor.WorkingMode != "hdr2" {
		t.Errorf("Sensor.WorkingMode = %q, want hdr2", cfg.Sensor.WorkingMode)
	}

	if !cfg.Sensor.HasFlash {
		t.Error("Sensor.HasFlash should be true")
	}

	if !cfg.MQTT.Enabled || cfg.MQTT.Broker != "10.0.0.2:1883" || cfg.MQTT.QoS != 1 {
		t.Errorf("unexpected MQTT config %+v", cfg.MQTT)
	}

	if !cfg.Diagnostics.TraceApply {
		t.Error("Diagnostics.TraceApply should be true")
	}

	// Untouched sections keep their defaults
	if cfg.Server.WebPort != 8080 {
		t.Errorf("Server.WebPort = %d, want 8080", cfg.Server.WebPort)
	}
}

// TestSaveConfig tests configuration saving
func TestSaveConfig(t *testing.T) {
	cfg := Default()
	cfg.Sensor.WorkingMode = "hdr3"
	cfg.Calibration.Path = "/etc/iqfiles/imx415.yaml"

	tmpFile, err := os.CreateTemp("", "test-save-config-*.toml")
	if err != nil {
		t.Fatalf("Failed to create temp file: %v", err)
	}
	defer os.Remove(tmpFile.Name())
	tmpFile.Close()

	if err := SaveConfig(cfg, tmpFile.Name()); err != nil {
		t.Fatalf("SaveConfig failed: %v", err)
	}

	loadedCfg, err := LoadConfig(tmpFile.Name())
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if loadedCfg.Sensor.WorkingMode != "hdr3" {
		t.Errorf("Saved/loaded WorkingMode mismatch: %q", loadedCfg.Sensor.WorkingMode)
	}

	if loadedCfg.Calibration.Path != cfg.Calibration.Path {
		t.Errorf("Saved/loaded Calibration.Path mismatch: %q", loadedCfg.Calibration.Path)
	}
}

// TestInvalidConfigFile tests handling of invalid config files
func TestInvalidConfigFile(t *testing.T) {
	tmpFile, err := os.CreateTemp("", "test-invalid-config-*.toml")
	if err != nil {
		t.Fatalf("Failed to create temp file: %v", err)
	}
	defer os.Remove(tmpFile.Name())

	invalidConfig := `
[sensor
width = "not a number"
`

	if _, err := tmpFile.WriteString(invalidConfig); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	tmpFile.Close()

	_, err = LoadConfig(tmpFile.Name())
	if err == nil {
		t.Error("Expected error for invalid config file")
	}
}

// TestValidate tests the semantic checks
func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(c *Config) {}, false},
		{"missing sensor name", func(c *Config) { c.Sensor.Name = "" }, true},
		{"zero width", func(c *Config) { c.Sensor.Width = 0 }, true},
		{"unknown mode", func(c *Config) { c.Sensor.WorkingMode = "hdr4" }, true},
		{"upper case mode", func(c *Config) { c.Sensor.WorkingMode = "HDR2" }, false},
		{"bad port", func(c *Config) { c.Server.WebPort = 70000 }, true},
		{"bad port with server disabled", func(c *Config) {
			c.Server.Enabled = false
			c.Server.WebPort = 0
		}, false},
		{"bad qos", func(c *Config) { c.MQTT.QoS = 3 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
