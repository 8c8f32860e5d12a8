// Copyright 2025 Arion Yau
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
	"sonyctl/internal/bluray"
	"sonyctl/internal/endpoint"
	"sonyctl/internal/flood"
)

// Config represents the complete sonyctl configuration
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Displays   []DisplayConfig  `yaml:"displays"`
	DiscPlayer DiscPlayerConfig `yaml:"disc_player"`
	Flood      FloodConfig      `yaml:"flood"`
	Logging    LoggingConfig    `yaml:"logging"`
	History    HistoryConfig    `yaml:"history"`
	Dedup      DedupConfig      `yaml:"dedup"`
}

// ServerConfig contains HTTP API server settings
type ServerConfig struct {
	Address string `yaml:"address"`
	Timeout string `yaml:"timeout"`
}

// DisplayConfig describes one display reachable over the REST API
type DisplayConfig struct {
	ID             string `yaml:"id"`
	Model          string `yaml:"model"`
	Host           string `yaml:"host"`
	Port           int    `yaml:"port"`
	PSK            string `yaml:"psk"`
	RequestTimeout string `yaml:"request_timeout"`
}

// DiscPlayerConfig describes the disc player reachable over TCP
type DiscPlayerConfig struct {
	ID          string `yaml:"id"`
	Model       string `yaml:"model"`
	Host        string `yaml:"host"`
	Port        int    `yaml:"port"`
	ReadTimeout string `yaml:"read_timeout"`
	CallTimeout string `yaml:"call_timeout"`
	ReadPolicy  string `yaml:"read_policy"` // "best_effort" or "strict"
}

// FloodConfig contains flood protection settings
type FloodConfig struct {
	Cooldown string `yaml:"cooldown"`
	Window   string `yaml:"window"` // "sliding" or "fixed"
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// HistoryConfig contains action history settings
type HistoryConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
	Limit   int    `yaml:"limit"`
}

// DedupConfig sizes the request nonce cache
type DedupConfig struct {
	MaxSize    int    `yaml:"max_size"`
	Expiration string `yaml:"expiration"`
}

// LoadConfig loads configuration from a YAML file, applies environment
// overrides and defaults, then validates it
func LoadConfig(filepath string) (*Config, error) {
	data, err := os.ReadFile(filepath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := config.applyEnv(os.LookupEnv); err != nil {
		return nil, fmt.Errorf("failed to apply environment: %w", err)
	}

	config.setDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// LoadOrDefault loads filepath, falling back to the default configuration
// (with environment overrides) when the file does not exist
func LoadOrDefault(filepath string) (*Config, error) {
	if _, err := os.Stat(filepath); errors.Is(err, fs.ErrNotExist) {
		config := NewDefaultConfig()
		if err := config.applyEnv(os.LookupEnv); err != nil {
			return nil, fmt.Errorf("failed to apply environment: %w", err)
		}
		config.setDefaults()
		return config, config.Validate()
	}
	return LoadConfig(filepath)
}

// LoadDotEnv loads KEY=VALUE pairs from path into the environment. A missing
// file is not an error.
func LoadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load env file: %w", err)
	}
	return nil
}

// SaveConfig saves configuration to a YAML file
func SaveConfig(config *Config, filepath string) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filepath, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// NewDefaultConfig creates a default configuration: two displays and one
// disc player on the local network
func NewDefaultConfig() *Config {
	c := &Config{
		Displays: []DisplayConfig{
			{
				ID:    "display1",
				Model: "Sony Bravia",
				Host:  "192.168.111.96",
				PSK:   "Sony1234!",
			},
			{
				ID:    "display2",
				Model: "Sony Bravia",
				Host:  "192.168.111.225",
				PSK:   "sony123456789012",
			},
		},
		DiscPlayer: DiscPlayerConfig{
			ID:    "bluray",
			Model: "Blu-ray player",
			Host:  "192.168.111.10",
		},
		History: HistoryConfig{
			Enabled: true,
		},
	}
	c.setDefaults()
	return c
}

// setDefaults fills every unset field
func (c *Config) setDefaults() {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}
	if c.Server.Timeout == "" {
		c.Server.Timeout = "15s"
	}

	for i := range c.Displays {
		d := &c.Displays[i]
		if d.ID == "" {
			d.ID = fmt.Sprintf("display%d", i+1)
		}
		if d.Model == "" {
			d.Model = "Sony Bravia"
		}
		if d.Port == 0 {
			d.Port = 443
		}
		if d.RequestTimeout == "" {
			d.RequestTimeout = "10s"
		}
	}

	if c.DiscPlayer.ID == "" {
		c.DiscPlayer.ID = "bluray"
	}
	if c.DiscPlayer.Model == "" {
		c.DiscPlayer.Model = "Blu-ray player"
	}
	if c.DiscPlayer.Port == 0 {
		c.DiscPlayer.Port = bluray.DefaultPort
	}
	if c.DiscPlayer.ReadTimeout == "" {
		c.DiscPlayer.ReadTimeout = "30s"
	}
	if c.DiscPlayer.CallTimeout == "" {
		c.DiscPlayer.CallTimeout = "95s"
	}
	if c.DiscPlayer.ReadPolicy == "" {
		c.DiscPlayer.ReadPolicy = bluray.BestEffort.String()
	}

	if c.Flood.Cooldown == "" {
		c.Flood.Cooldown = "5s"
	}
	if c.Flood.Window == "" {
		c.Flood.Window = flood.Sliding.String()
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}

	if c.History.Path == "" {
		c.History.Path = "sonyctl.db"
	}
	if c.History.Limit == 0 {
		c.History.Limit = 100
	}

	if c.Dedup.MaxSize == 0 {
		c.Dedup.MaxSize = 50
	}
	if c.Dedup.Expiration == "" {
		c.Dedup.Expiration = "1h"
	}
}

// Validate checks field formats. Device hosts are deliberately not checked
// here: a bad host fails the dispatched action, not the whole process.
func (c *Config) Validate() error {
	durations := map[string]string{
		"server.timeout":           c.Server.Timeout,
		"disc_player.read_timeout": c.DiscPlayer.ReadTimeout,
		"disc_player.call_timeout": c.DiscPlayer.CallTimeout,
		"flood.cooldown":           c.Flood.Cooldown,
		"dedup.expiration":         c.Dedup.Expiration,
	}
	for i, d := range c.Displays {
		durations[fmt.Sprintf("displays[%d].request_timeout", i)] = d.RequestTimeout
	}
	for field, value := range durations {
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("invalid %s: %w", field, err)
		}
	}

	if len(c.Displays) == 0 {
		return fmt.Errorf("at least one display must be configured")
	}

	ids := make(map[string]bool)
	for i, d := range c.Displays {
		if ids[d.ID] {
			return fmt.Errorf("duplicate device ID: %s", d.ID)
		}
		ids[d.ID] = true
		if d.Port < 1 || d.Port > 65535 {
			return fmt.Errorf("displays[%d].port out of range: %d", i, d.Port)
		}
	}
	if ids[c.DiscPlayer.ID] {
		return fmt.Errorf("duplicate device ID: %s", c.DiscPlayer.ID)
	}
	if c.DiscPlayer.Port < 1 || c.DiscPlayer.Port > 65535 {
		return fmt.Errorf("disc_player.port out of range: %d", c.DiscPlayer.Port)
	}

	if _, err := bluray.ParseReadPolicy(c.DiscPlayer.ReadPolicy); err != nil {
		return err
	}
	if _, err := flood.ParseWindow(c.Flood.Window); err != nil {
		return err
	}

	validLevels := []string{"debug", "info", "warn", "error"}
	levelValid := false
	for _, level := range validLevels {
		if c.Logging.Level == level {
			levelValid = true
			break
		}
	}
	if !levelValid {
		return fmt.Errorf("invalid logging level: %s (must be one of: %v)", c.Logging.Level, validLevels)
	}

	if c.Dedup.MaxSize < 0 {
		return fmt.Errorf("dedup.max_size must not be negative")
	}

	return nil
}

// HostWarnings lists configured hosts that will fail endpoint validation
func (c *Config) HostWarnings() []string {
	var warnings []string
	for _, d := range c.Displays {
		if _, err := endpoint.Validate(d.Host); err != nil {
			warnings = append(warnings, fmt.Sprintf("%s: %v", d.ID, err))
		}
	}
	if _, err := endpoint.Validate(c.DiscPlayer.Host); err != nil {
		warnings = append(warnings, fmt.Sprintf("%s: %v", c.DiscPlayer.ID, err))
	}
	return warnings
}

// GetServerTimeout returns the API timeout as a time.Duration
func (c *Config) GetServerTimeout() time.Duration {
	return mustDuration(c.Server.Timeout)
}

// GetFloodCooldown returns the flood cooldown as a time.Duration
func (c *Config) GetFloodCooldown() time.Duration {
	return mustDuration(c.Flood.Cooldown)
}

// GetFloodWindow returns the flood window mode
func (c *Config) GetFloodWindow() flood.Window {
	w, _ := flood.ParseWindow(c.Flood.Window)
	return w
}

// GetDedupExpiration returns the nonce cache expiration
func (c *Config) GetDedupExpiration() time.Duration {
	return mustDuration(c.Dedup.Expiration)
}

// GetRequestTimeout returns the display request timeout
func (d DisplayConfig) GetRequestTimeout() time.Duration {
	return mustDuration(d.RequestTimeout)
}

// GetReadTimeout returns the per-read socket timeout
func (d DiscPlayerConfig) GetReadTimeout() time.Duration {
	return mustDuration(d.ReadTimeout)
}

// GetCallTimeout returns the deadline for one whole disc player session
func (d DiscPlayerConfig) GetCallTimeout() time.Duration {
	return mustDuration(d.CallTimeout)
}

// GetReadPolicy returns the frame read policy
func (d DiscPlayerConfig) GetReadPolicy() bluray.ReadPolicy {
	p, _ := bluray.ParseReadPolicy(d.ReadPolicy)
	return p
}

func mustDuration(s string) time.Duration {
	d, _ := time.ParseDuration(s)
	return d
}

// applyEnv overrides device settings from SONYCTL_* variables.
// SONYCTL_DISPLAYn_* updates the n-th configured display; past the end of
// the list it adds a display named displayn, without empty ones in between.
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	for n := 1; n <= 2; n++ {
		prefix := fmt.Sprintf("SONYCTL_DISPLAY%d_", n)
		host, hasHost := lookup(prefix + "HOST")
		psk, hasPSK := lookup(prefix + "PSK")
		if !hasHost && !hasPSK {
			continue
		}

		var d *DisplayConfig
		if n <= len(c.Displays) {
			d = &c.Displays[n-1]
		} else {
			c.Displays = append(c.Displays, DisplayConfig{ID: fmt.Sprintf("display%d", n)})
			d = &c.Displays[len(c.Displays)-1]
		}
		if hasHost {
			d.Host = host
		}
		if hasPSK {
			d.PSK = psk
		}
	}

	if host, ok := lookup("SONYCTL_BLURAY_HOST"); ok {
		c.DiscPlayer.Host = host
	}
	if port, ok := lookup("SONYCTL_BLURAY_PORT"); ok {
		p, err := strconv.Atoi(port)
		if err != nil {
			return fmt.Errorf("invalid SONYCTL_BLURAY_PORT: %w", err)
		}
		c.DiscPlayer.Port = p
	}

	return nil
}
