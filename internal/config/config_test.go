/*
Copyright 2025.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultOptions(t *testing.T) {
	opts := DefaultOptions()
	assert.Equal(t, ":8080", opts.ListenAddr)
	assert.Equal(t, ":9090", opts.MetricsAddr)
	assert.Equal(t, Duration(24*time.Hour), opts.SessionTimeout)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
listenAddr: ":9999"
toolsDir: /etc/sajha/tools
tokenSecret: file-secret
sessionTimeout: 1h
warehouse:
  account: acme-prod
  user: loader
  database: analytics
`), 0o600))

	opts, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9999", opts.ListenAddr)
	assert.Equal(t, "/etc/sajha/tools", opts.ToolsDir)
	assert.Equal(t, "file-secret", opts.TokenSecret)
	assert.Equal(t, Duration(time.Hour), opts.SessionTimeout)
	assert.Equal(t, "acme-prod", opts.Warehouse.Account)
	// Unset fields keep their defaults.
	assert.Equal(t, ":9090", opts.MetricsAddr)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("SAJHA_TOKEN_SECRET", "env-secret")
	t.Setenv("SAJHA_LISTEN_ADDR", ":7777")
	t.Setenv("SAJHA_SESSION_TIMEOUT", "30m")

	opts, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "env-secret", opts.TokenSecret)
	assert.Equal(t, ":7777", opts.ListenAddr)
	assert.Equal(t, Duration(30*time.Minute), opts.SessionTimeout)
}

func TestValidate(t *testing.T) {
	opts := DefaultOptions()
	opts.TokenSecret = "secret"
	require.NoError(t, opts.Validate())

	opts.TokenSecret = ""
	require.Error(t, opts.Validate())

	opts = DefaultOptions()
	opts.TokenSecret = "secret"
	opts.SessionTimeout = 0
	require.Error(t, opts.Validate())

	opts = DefaultOptions()
	opts.TokenSecret = "secret"
	opts.Warehouse.Account = "acme"
	err := opts.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "warehouse.user")
}
