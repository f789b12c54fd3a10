// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the todo CLI configuration.
//
// # Precedence
//
// Highest wins:
//
//  1. Command-line flags (bound by the caller with BindPFlag)
//  2. TODO_* environment variables (TODO_CLIENT_TOKEN, TODO_SERVER_PORT, ...)
//  3. The YAML file (default ~/.aleutian-todo/config.yaml)
//  4. DefaultConfig
//
// The file is created with defaults on first run.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "TODO"

// Config is the full CLI configuration.
type Config struct {
	Server ServerConfig `yaml:"server" mapstructure:"server"`
	Client ClientConfig `yaml:"client" mapstructure:"client"`
	Log    LogConfig    `yaml:"log" mapstructure:"log"`
}

// ServerConfig configures `todo serve`.
type ServerConfig struct {
	Host         string            `yaml:"host" mapstructure:"host"`
	Port         int               `yaml:"port" mapstructure:"port"`
	Storage      string            `yaml:"storage" mapstructure:"storage"`
	DSN          string            `yaml:"dsn" mapstructure:"dsn"`
	BadgerPath   string            `yaml:"badger_path" mapstructure:"badger_path"`
	GinMode      string            `yaml:"gin_mode" mapstructure:"gin_mode"`
	OTelEndpoint string            `yaml:"otel_endpoint" mapstructure:"otel_endpoint"`
	RateLimit    float64           `yaml:"rate_limit" mapstructure:"rate_limit"`
	RateBurst    int               `yaml:"rate_burst" mapstructure:"rate_burst"`
	Tokens       []TokenConfig     `yaml:"tokens" mapstructure:"tokens"`
}

// TokenConfig is one bearer token and the user it signs in.
//
// Tokens are a list rather than a map because viper lowercases map keys.
type TokenConfig struct {
	Token string `yaml:"token" mapstructure:"token"`
	User  string `yaml:"user" mapstructure:"user"`
}

// TokenMap returns the tokens as token → user ID. A later duplicate
// token wins.
func (s ServerConfig) TokenMap() map[string]string {
	m := make(map[string]string, len(s.Tokens))
	for _, t := range s.Tokens {
		m[t.Token] = t.User
	}
	return m
}

// ClientConfig configures the commands that talk to a server.
type ClientConfig struct {
	URL     string        `yaml:"url" mapstructure:"url"`
	Token   string        `yaml:"token" mapstructure:"token"`
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

// LogConfig configures pkg/logging.
type LogConfig struct {
	Level string `yaml:"level" mapstructure:"level"`
	Dir   string `yaml:"dir" mapstructure:"dir"`
	JSON  bool   `yaml:"json" mapstructure:"json"`
}

// DefaultConfig returns the defaults written on first run.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Port:      12310,
			Storage:   "sqlite",
			DSN:       "~/.aleutian-todo/todo.db",
			GinMode:   "release",
			RateLimit: 10,
			RateBurst: 20,
			Tokens:    []TokenConfig{},
		},
		Client: ClientConfig{
			URL:     "http://localhost:12310",
			Timeout: 10 * time.Second,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// DefaultPath returns ~/.aleutian-todo/config.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not find the user's home directory: %w", err)
	}
	return filepath.Join(home, ".aleutian-todo", "config.yaml"), nil
}

// EnsureDefault writes the default config to path unless it exists.
// Returns true if the file was created.
func EnsureDefault(path string) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		return false, nil
	} else if !os.IsNotExist(err) {
		return false, fmt.Errorf("error checking config file %s: %w", path, err)
	}
	return true, WriteDefault(path)
}

// WriteDefault writes the default config to path, replacing any file.
func WriteDefault(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create the config directory: %w", err)
	}
	data, err := yaml.Marshal(DefaultConfig())
	if err != nil {
		return fmt.Errorf("failed to encode default config: %w", err)
	}
	// The file may later hold tokens.
	return os.WriteFile(path, data, 0o600)
}

// NewViper returns a viper instance for path with defaults and TODO_*
// environment overrides registered. The file must exist.
func NewViper(path string) (*viper.Viper, error) {
	v := viper.New()
	setDefaults(v, DefaultConfig())

	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file %s: %w", path, err)
	}
	return v, nil
}

// Decode unmarshals v into a Config and expands ~ in paths.
func Decode(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("error unmarshalling config: %w", err)
	}
	cfg.Server.DSN = expandHome(cfg.Server.DSN)
	cfg.Server.BadgerPath = expandHome(cfg.Server.BadgerPath)
	cfg.Log.Dir = expandHome(cfg.Log.Dir)
	if cfg.Server.Tokens == nil {
		cfg.Server.Tokens = []TokenConfig{}
	}
	return cfg, nil
}

// Load creates the default file if needed and decodes path.
func Load(path string) (Config, error) {
	if _, err := EnsureDefault(path); err != nil {
		return Config{}, err
	}
	v, err := NewViper(path)
	if err != nil {
		return Config{}, err
	}
	return Decode(v)
}

// Watch calls onChange with the decoded config each time the file at
// v's path is written. Decode failures are passed as err with the zero
// Config; the previous values should stay in effect.
func Watch(v *viper.Viper, onChange func(cfg Config, err error)) {
	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		cfg, err := Decode(v)
		onChange(cfg, err)
	})
	v.WatchConfig()
}

// setDefaults registers every key so AutomaticEnv can override keys that
// are missing from the file.
func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("server.host", d.Server.Host)
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.storage", d.Server.Storage)
	v.SetDefault("server.dsn", d.Server.DSN)
	v.SetDefault("server.badger_path", d.Server.BadgerPath)
	v.SetDefault("server.gin_mode", d.Server.GinMode)
	v.SetDefault("server.otel_endpoint", d.Server.OTelEndpoint)
	v.SetDefault("server.rate_limit", d.Server.RateLimit)
	v.SetDefault("server.rate_burst", d.Server.RateBurst)
	v.SetDefault("client.url", d.Client.URL)
	v.SetDefault("client.token", d.Client.Token)
	v.SetDefault("client.timeout", d.Client.Timeout)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.dir", d.Log.Dir)
	v.SetDefault("log.json", d.Log.JSON)
}

func expandHome(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[2:])
}
