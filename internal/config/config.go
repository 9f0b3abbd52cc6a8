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

// Package config provides configuration management for the tool server.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sajhalabs/sajha/internal/olap"
)

// Duration is a time.Duration that unmarshals from YAML strings like
// "30m" or "24h".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the standard library duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// RedisOptions configure the optional redis session store.
type RedisOptions struct {
	// Addr is the redis host:port; empty selects the in-memory store.
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// Options holds all configuration options for the server.
type Options struct {
	// ListenAddr is the address the REST API and MCP endpoint bind to.
	ListenAddr string `yaml:"listenAddr"`

	// MetricsAddr is the address the Prometheus endpoint binds to.
	MetricsAddr string `yaml:"metricsAddr"`

	// ToolsDir is the directory of tool configuration documents.
	ToolsDir string `yaml:"toolsDir"`

	// PromptsDir is the directory of MCP prompt templates.
	PromptsDir string `yaml:"promptsDir"`

	// AuthStoreDir is the directory holding users.json and apikeys.json.
	AuthStoreDir string `yaml:"authStoreDir"`

	// TokenSecret signs session bearer tokens.
	TokenSecret string `yaml:"tokenSecret"`

	// SessionTimeout is the session inactivity timeout.
	SessionTimeout Duration `yaml:"sessionTimeout"`

	// Redis configures the session store for multi-replica deployments.
	Redis RedisOptions `yaml:"redis"`

	// AuditDSN is the PostgreSQL connection string for the audit trail.
	// Empty keeps the audit trail in log-only mode.
	AuditDSN string `yaml:"auditDSN"`

	// CatalogDir is the directory of OLAP semantic layer documents.
	CatalogDir string `yaml:"catalogDir"`

	// Warehouse configures the OLAP columnar warehouse connection.
	Warehouse olap.WarehouseConfig `yaml:"warehouse"`

	// TracingEndpoint is the OTLP gRPC collector address. Empty disables
	// trace export.
	TracingEndpoint string `yaml:"tracingEndpoint"`
}

// DefaultOptions returns Options with sensible defaults.
func DefaultOptions() Options {
	return Options{
		ListenAddr:     ":8080",
		MetricsAddr:    ":9090",
		ToolsDir:       "tools",
		PromptsDir:     "prompts",
		AuthStoreDir:   "auth",
		SessionTimeout: Duration(24 * time.Hour),
	}
}

// Load reads options from a YAML file, if path is non-empty, and then
// applies environment overrides on top.
func Load(path string) (Options, error) {
	opts := DefaultOptions()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return opts, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &opts); err != nil {
			return opts, fmt.Errorf("parse config file: %w", err)
		}
	}

	opts.applyEnv()
	return opts, nil
}

// applyEnv overrides options from SAJHA_* environment variables.
// Secrets are usually supplied this way rather than in the file.
func (o *Options) applyEnv() {
	setString := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setString(&o.ListenAddr, "SAJHA_LISTEN_ADDR")
	setString(&o.MetricsAddr, "SAJHA_METRICS_ADDR")
	setString(&o.ToolsDir, "SAJHA_TOOLS_DIR")
	setString(&o.PromptsDir, "SAJHA_PROMPTS_DIR")
	setString(&o.AuthStoreDir, "SAJHA_AUTH_STORE_DIR")
	setString(&o.TokenSecret, "SAJHA_TOKEN_SECRET")
	setString(&o.Redis.Addr, "SAJHA_REDIS_ADDR")
	setString(&o.Redis.Password, "SAJHA_REDIS_PASSWORD")
	setString(&o.AuditDSN, "SAJHA_AUDIT_DSN")
	setString(&o.CatalogDir, "SAJHA_CATALOG_DIR")
	setString(&o.Warehouse.Password, "SAJHA_WAREHOUSE_PASSWORD")
	setString(&o.TracingEndpoint, "SAJHA_TRACING_ENDPOINT")

	if v := os.Getenv("SAJHA_SESSION_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			o.SessionTimeout = Duration(d)
		}
	}
}

// Validate checks option consistency before startup.
func (o *Options) Validate() error {
	if o.ListenAddr == "" {
		return fmt.Errorf("listenAddr must not be empty")
	}
	if o.ToolsDir == "" {
		return fmt.Errorf("toolsDir must not be empty")
	}
	if o.AuthStoreDir == "" {
		return fmt.Errorf("authStoreDir must not be empty")
	}
	if o.TokenSecret == "" {
		return fmt.Errorf("tokenSecret must be set (file or SAJHA_TOKEN_SECRET)")
	}
	if o.SessionTimeout <= 0 {
		return fmt.Errorf("sessionTimeout must be positive")
	}
	if o.Warehouse.Account != "" && o.Warehouse.User == "" {
		return fmt.Errorf("warehouse.user must be set when warehouse.account is set")
	}
	return nil
}
