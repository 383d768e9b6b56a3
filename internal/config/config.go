package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"fieldops/internal/domain"
)

// Config models fieldops.yml.
type Config struct {
	Context struct {
		Season    string `yaml:"season"`
		Occupancy string `yaml:"occupancy"`
	} `yaml:"context"`
	Session struct {
		AutosaveIntervalSeconds int `yaml:"autosave_interval_seconds"`
	} `yaml:"session"`
	Uploads struct {
		Endpoint           string `yaml:"endpoint"`
		TimeoutSeconds     int    `yaml:"timeout_seconds"`
		Workers            int    `yaml:"workers"`
		Simulate           bool   `yaml:"simulate"`
		SimulatedLatencyMS int    `yaml:"simulated_latency_ms"`
	} `yaml:"uploads"`
	// GuestFacing lists activity types whose completion is gated on the
	// guest-report sub-flow, independent of the template mechanism.
	GuestFacing []string `yaml:"guest_facing"`
	Export      struct {
		Dir      string          `yaml:"dir"`
		Webhooks []WebhookConfig `yaml:"webhooks"`
	} `yaml:"export"`
}

type WebhookConfig struct {
	URL            string `yaml:"url"`
	Secret         string `yaml:"secret"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	Enabled        *bool  `yaml:"enabled"`
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Session.AutosaveIntervalSeconds <= 0 {
		return fmt.Errorf("config.session.autosave_interval_seconds must be positive")
	}
	if c.Uploads.TimeoutSeconds <= 0 {
		return fmt.Errorf("config.uploads.timeout_seconds must be positive")
	}
	if c.Uploads.Workers <= 0 {
		return fmt.Errorf("config.uploads.workers must be positive")
	}
	if !c.Uploads.Simulate && c.Uploads.Endpoint == "" {
		return fmt.Errorf("config.uploads.endpoint is required when simulate is off")
	}
	for _, t := range c.GuestFacing {
		if !domain.ActivityType(t).IsValid() {
			return fmt.Errorf("config.guest_facing has unknown activity type %q", t)
		}
	}
	for i, hook := range c.Export.Webhooks {
		if hook.URL == "" {
			return fmt.Errorf("config.export.webhooks[%d].url is required", i)
		}
	}
	return nil
}

// AutosaveInterval is the periodic flush cadence.
func (c *Config) AutosaveInterval() time.Duration {
	return time.Duration(c.Session.AutosaveIntervalSeconds) * time.Second
}

// UploadTimeout bounds one upload attempt.
func (c *Config) UploadTimeout() time.Duration {
	return time.Duration(c.Uploads.TimeoutSeconds) * time.Second
}

// SimulatedLatency is the artificial delay of the offline uploader.
func (c *Config) SimulatedLatency() time.Duration {
	return time.Duration(c.Uploads.SimulatedLatencyMS) * time.Millisecond
}

// IsGuestFacing reports whether completion of the type requires the
// guest-report sub-flow.
func (c *Config) IsGuestFacing(t domain.ActivityType) bool {
	for _, g := range c.GuestFacing {
		if domain.ActivityType(g) == t {
			return true
		}
	}
	return false
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "fieldops.yml")
}

// Load reads config from the workspace, falling back to defaults when the
// file does not exist.
func Load(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// GenerateDefault returns the default config YAML for `fo init`.
func GenerateDefault() string {
	return defaultTemplate
}

const defaultTemplate = `context:
  season: summer
  occupancy: vacant

session:
  autosave_interval_seconds: 30

uploads:
  endpoint: ""
  timeout_seconds: 30
  workers: 3
  simulate: true
  simulated_latency_ms: 750

guest_facing:
  - meet-greet

export:
  dir: reports
  webhooks: []
`
