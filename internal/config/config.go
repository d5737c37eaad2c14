// Package config handles Ember configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/ember/config.yaml, /etc/ember/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "ember", "config.yaml"))
	}

	paths = append(paths, "/etc/ember/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// Returns the path found, or an error if nothing was found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all Ember configuration.
type Config struct {
	Listen        ListenConfig        `yaml:"listen"`
	HomeAssistant HomeAssistantConfig `yaml:"homeassistant"`
	Bedrock       BedrockConfig       `yaml:"bedrock"`
	Agent         AgentConfig         `yaml:"agent"`
	MQTT          MQTTConfig          `yaml:"mqtt"`
	DataDir       string              `yaml:"data_dir"`
	SystemPrompt  string              `yaml:"system_prompt"`
	LogLevel      string              `yaml:"log_level"`
}

// ListenConfig defines the API server settings.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`
}

// HomeAssistantConfig defines HA connection settings.
type HomeAssistantConfig struct {
	URL   string `yaml:"url"`
	Token string `yaml:"token"`
	// StateWatch enables the WebSocket state_changed subscription that
	// keeps the local entity cache fresh between REST calls.
	StateWatch bool `yaml:"state_watch"`
	// WatchEntities restricts the state cache to entity IDs matching
	// these glob patterns. Empty means every entity.
	WatchEntities []string `yaml:"watch_entities"`
}

// BedrockConfig defines the Amazon Bedrock runtime connection.
type BedrockConfig struct {
	// Endpoint is the Bedrock runtime base URL
	// (e.g. https://bedrock-runtime.us-east-1.amazonaws.com).
	Endpoint string `yaml:"endpoint"`
	// APIKey is a Bedrock API key, sent as a bearer token.
	APIKey string `yaml:"api_key"`
}

// AgentConfig defines conversation loop settings.
type AgentConfig struct {
	Model       string  `yaml:"model"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
	// MaxIterations bounds the tool-calling loop within one user turn.
	MaxIterations int `yaml:"max_iterations"`
	// MaxHistory is the per-conversation message retention limit.
	MaxHistory int `yaml:"max_history"`
}

// MQTTConfig defines the optional MQTT presence publisher. When Broker
// is empty, MQTT publishing is disabled.
type MQTTConfig struct {
	Broker          string `yaml:"broker"` // e.g. mqtt://broker.local:1883
	Username        string `yaml:"username"`
	Password        string `yaml:"password"`
	DeviceName      string `yaml:"device_name"`      // default "ember"
	DiscoveryPrefix string `yaml:"discovery_prefix"` // default "homeassistant"
	// PublishIntervalSec is the sensor state publish cadence.
	PublishIntervalSec int `yaml:"publish_interval_sec"` // default 60
}

// Configured reports whether MQTT publishing should start.
func (m MQTTConfig) Configured() bool {
	return m.Broker != "" && m.DeviceName != ""
}

// Defaults applied by Load when fields are unset.
const (
	DefaultPort          = 8208
	DefaultModel         = "anthropic.claude-3-5-sonnet-20240620-v1:0"
	DefaultTemperature   = 1.0
	DefaultMaxTokens     = 4096
	DefaultMaxIterations = 10
	DefaultMaxHistory    = 200
)

// Load reads configuration from a YAML file. Environment variables in
// the file are expanded before parsing, so secrets can be referenced
// as ${BEDROCK_API_KEY} rather than stored inline.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	expanded := os.ExpandEnv(string(data))

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Listen.Port == 0 {
		c.Listen.Port = DefaultPort
	}
	if c.Agent.Model == "" {
		c.Agent.Model = DefaultModel
	}
	if c.Agent.Temperature == 0 {
		c.Agent.Temperature = DefaultTemperature
	}
	if c.Agent.MaxTokens == 0 {
		c.Agent.MaxTokens = DefaultMaxTokens
	}
	if c.Agent.MaxIterations == 0 {
		c.Agent.MaxIterations = DefaultMaxIterations
	}
	if c.Agent.MaxHistory == 0 {
		c.Agent.MaxHistory = DefaultMaxHistory
	}
	if c.MQTT.DeviceName == "" {
		c.MQTT.DeviceName = "ember"
	}
	if c.MQTT.DiscoveryPrefix == "" {
		c.MQTT.DiscoveryPrefix = "homeassistant"
	}
	if c.MQTT.PublishIntervalSec == 0 {
		c.MQTT.PublishIntervalSec = 60
	}
	if c.DataDir == "" {
		c.DataDir = "."
	}
}

// Validate checks required fields and value ranges.
func (c *Config) Validate() error {
	if c.Bedrock.Endpoint == "" {
		return fmt.Errorf("bedrock.endpoint is required")
	}
	if c.Bedrock.APIKey == "" {
		return fmt.Errorf("bedrock.api_key is required")
	}
	if c.HomeAssistant.URL != "" && c.HomeAssistant.Token == "" {
		return fmt.Errorf("homeassistant.token is required when homeassistant.url is set")
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}
