// Package config handles Samuel configuration loading.
//
// Configuration comes from an optional YAML file plus environment
// variables. The environment always wins, so a bare deployment can run
// on HA_URL / HA_TOKEN / REPO_PATH alone with no file at all.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Default ports for the two processes. The MCP server and the bridge
// run side by side, so they must never share a port.
const (
	DefaultServerPort = 5100
	DefaultBridgePort = 5101
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/samuel/config.yaml, /etc/samuel/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "samuel", "config.yaml"))
	}

	paths = append(paths, "/etc/samuel/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists,
// or "" when nothing was found (env-only operation).
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

	return "", nil
}

// Config holds all Samuel configuration.
type Config struct {
	Server        ListenConfig        `yaml:"server"`
	Bridge        ListenConfig        `yaml:"bridge"`
	HomeAssistant HomeAssistantConfig `yaml:"homeassistant"`
	MQTT          MQTTConfig          `yaml:"mqtt"`
	RepoPath      string              `yaml:"repo_path"`
	DataDir       string              `yaml:"data_dir"`
	LogLevel      string              `yaml:"log_level"`

	// Watch selects which entity IDs the state-change recorder keeps.
	// Glob patterns; empty means all entities.
	Watch []string `yaml:"watch"`
}

// ListenConfig defines bind settings for an HTTP listener.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`
}

// HomeAssistantConfig defines HA connection settings.
type HomeAssistantConfig struct {
	URL   string `yaml:"url"`
	Token string `yaml:"token"`
}

// Configured reports whether the HA connection settings are usable.
func (h HomeAssistantConfig) Configured() bool {
	return h.URL != "" && h.Token != ""
}

// MQTTConfig defines the optional MQTT health publisher.
type MQTTConfig struct {
	Enabled            bool   `yaml:"enabled"`
	Broker             string `yaml:"broker"` // e.g. mqtt://homeassistant.local:1883
	Username           string `yaml:"username"`
	Password           string `yaml:"password"`
	DeviceName         string `yaml:"device_name"`      // default "samuel"
	DiscoveryPrefix    string `yaml:"discovery_prefix"` // default "homeassistant"
	PublishIntervalSec int    `yaml:"publish_interval_sec"`
}

// Load reads configuration from a YAML file (if path is non-empty),
// then applies environment overrides and defaults.
func Load(path string) (*Config, error) {
	cfg := &Config{
		Server: ListenConfig{Port: DefaultServerPort},
		Bridge: ListenConfig{Port: DefaultBridgePort},
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}

		// Expand ${VAR} references so secrets can live in the environment.
		expanded := os.ExpandEnv(string(data))

		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	cfg.applyDefaults()
	return cfg, nil
}

// applyEnv overrides file values with environment variables. These are
// the documented deployment knobs; the file is optional sugar.
func (c *Config) applyEnv() {
	if v := os.Getenv("HA_URL"); v != "" {
		c.HomeAssistant.URL = v
	}
	if v := os.Getenv("HA_TOKEN"); v != "" {
		c.HomeAssistant.Token = v
	}
	if v := os.Getenv("REPO_PATH"); v != "" {
		c.RepoPath = v
	}
	if v := os.Getenv("DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("SAMUEL_HOST"); v != "" {
		c.Server.Address = v
	}
	if v := os.Getenv("SAMUEL_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			c.Server.Port = p
		}
	}
	if v := os.Getenv("BRIDGE_HOST"); v != "" {
		c.Bridge.Address = v
	}
	if v := os.Getenv("BRIDGE_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			c.Bridge.Port = p
		}
	}
	if v := os.Getenv("SAMUEL_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = DefaultServerPort
	}
	if c.Bridge.Port == 0 {
		c.Bridge.Port = DefaultBridgePort
	}
	if c.DataDir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			c.DataDir = filepath.Join(home, "data")
		} else {
			c.DataDir = "data"
		}
	}
	if c.MQTT.DeviceName == "" {
		c.MQTT.DeviceName = "samuel"
	}
	if c.MQTT.DiscoveryPrefix == "" {
		c.MQTT.DiscoveryPrefix = "homeassistant"
	}
	if c.MQTT.PublishIntervalSec <= 0 {
		c.MQTT.PublishIntervalSec = 60
	}
}

// Validate checks settings that must be consistent before startup.
// A missing HA token is deliberately not fatal — state tools report
// the failure per call instead.
func (c *Config) Validate() error {
	if c.LogLevel != "" {
		if _, err := ParseLogLevel(c.LogLevel); err != nil {
			return err
		}
	}
	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		return fmt.Errorf("mqtt.enabled requires mqtt.broker")
	}
	if c.Server.Port == c.Bridge.Port {
		return fmt.Errorf("server and bridge must listen on different ports (both %d)", c.Server.Port)
	}
	return nil
}
