// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_CreatesDefaultFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg, err := Load(path)
	require.NoError(t, err)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	want := DefaultConfig()
	assert.Equal(t, want.Server.Port, cfg.Server.Port)
	assert.Equal(t, want.Server.Storage, cfg.Server.Storage)
	assert.Equal(t, want.Client.URL, cfg.Client.URL)
	assert.Equal(t, 10*time.Second, cfg.Client.Timeout)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.NotNil(t, cfg.Server.Tokens)
}

func TestEnsureDefault_KeepsExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("client:\n  url: http://example:1\n"), 0o600))

	created, err := EnsureDefault(path)
	require.NoError(t, err)
	assert.False(t, created)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "http://example:1", cfg.Client.URL)
	// Keys missing from the file fall back to defaults.
	assert.Equal(t, 12310, cfg.Server.Port)
}

func TestLoad_FileValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
server:
  port: 9000
  storage: badger
  badger_path: /var/lib/todo
  tokens:
    - token: Tok-A
      user: alice
    - token: tok-b
      user: bob
client:
  timeout: 3s
log:
  level: debug
  json: true
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "badger", cfg.Server.Storage)
	assert.Equal(t, "/var/lib/todo", cfg.Server.BadgerPath)
	assert.Equal(t, map[string]string{"Tok-A": "alice", "tok-b": "bob"}, cfg.Server.TokenMap())
	assert.Equal(t, 3*time.Second, cfg.Client.Timeout)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.True(t, cfg.Log.JSON)
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, WriteDefault(path))

	t.Setenv("TODO_CLIENT_TOKEN", "from-env")
	t.Setenv("TODO_SERVER_PORT", "7777")
	t.Setenv("TODO_LOG_LEVEL", "warn")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.Client.Token)
	assert.Equal(t, 7777, cfg.Server.Port)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoad_ExpandsHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, WriteDefault(path))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(home, ".aleutian-todo", "todo.db"), cfg.Server.DSN)
}

func TestNewViper_MissingFile(t *testing.T) {
	_, err := NewViper(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [unclosed"), 0o600))

	_, err := Load(path)
	require.Error(t, err)
}

func TestWatch_ReloadsTokens(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  tokens:\n    - token: first\n      user: alice\n"), 0o600))

	v, err := NewViper(path)
	require.NoError(t, err)

	reloaded := make(chan Config, 4)
	Watch(v, func(cfg Config, err error) {
		if err == nil {
			reloaded <- cfg
		}
	})

	require.NoError(t, os.WriteFile(path, []byte("server:\n  tokens:\n    - token: second\n      user: bob\n"), 0o600))

	require.Eventually(t, func() bool {
		select {
		case cfg := <-reloaded:
			return cfg.Server.TokenMap()["second"] == "bob"
		default:
			return false
		}
	}, 5*time.Second, 20*time.Millisecond)
}
