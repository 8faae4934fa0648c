/*
Copyright 2023 Gravitational, Inc.

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

// Package config loads the gateway configuration from the environment.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/gravitational/trace"

	"github.com/zmb3/webterm/lib/defaults"
)

// Config is the gateway configuration.
type Config struct {
	// ListenPort is the HTTP listen port (PORT).
	ListenPort int
	// CORSOrigin is the allowed cross origin (CORS_ORIGIN).
	CORSOrigin string
	// TokenSecret signs bearer tokens (JWT_SECRET). Required.
	TokenSecret string
	// EncryptionKey seals credentials at rest (ENCRYPTION_KEY). Defaults
	// to TokenSecret for compatibility with deployments that configure a
	// single secret.
	EncryptionKey string
	// DatabasePath is the sqlite database location (DATABASE_URL).
	DatabasePath string
	// RateLimitMaxRequests is the global limiter allowance per window
	// (RATE_LIMIT_MAX_REQUESTS).
	RateLimitMaxRequests int
	// RateLimitWindow is the limiter window (RATE_LIMIT_WINDOW_MS).
	RateLimitWindow time.Duration
	// OpenAIKey enables the OpenAI assistant provider (OPENAI_API_KEY).
	OpenAIKey string
	// AnthropicKey enables the Anthropic assistant provider
	// (ANTHROPIC_API_KEY).
	AnthropicKey string
	// AssistProvider overrides provider selection (ASSIST_PROVIDER).
	AssistProvider string
	// Debug enables verbose logging (DEBUG).
	Debug bool
}

// FromEnv reads the configuration from the process environment.
func FromEnv() (*Config, error) {
	cfg := &Config{
		CORSOrigin:     os.Getenv("CORS_ORIGIN"),
		TokenSecret:    os.Getenv("JWT_SECRET"),
		EncryptionKey:  os.Getenv("ENCRYPTION_KEY"),
		DatabasePath:   os.Getenv("DATABASE_URL"),
		OpenAIKey:      os.Getenv("OPENAI_API_KEY"),
		AnthropicKey:   os.Getenv("ANTHROPIC_API_KEY"),
		AssistProvider: os.Getenv("ASSIST_PROVIDER"),
		Debug:          os.Getenv("DEBUG") != "",
	}

	var err error
	if cfg.ListenPort, err = intFromEnv("PORT", defaults.HTTPListenPort); err != nil {
		return nil, trace.Wrap(err)
	}
	if cfg.RateLimitMaxRequests, err = intFromEnv("RATE_LIMIT_MAX_REQUESTS", defaults.RateLimitMaxRequests); err != nil {
		return nil, trace.Wrap(err)
	}
	windowMs, err := intFromEnv("RATE_LIMIT_WINDOW_MS", int(defaults.RateLimitWindow/time.Millisecond))
	if err != nil {
		return nil, trace.Wrap(err)
	}
	cfg.RateLimitWindow = time.Duration(windowMs) * time.Millisecond

	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return cfg, nil
}

// CheckAndSetDefaults validates the values of a *Config.
func (c *Config) CheckAndSetDefaults() error {
	if c.TokenSecret == "" {
		return trace.BadParameter("JWT_SECRET must be set")
	}
	if c.EncryptionKey == "" {
		// A single shared secret keeps older deployments working; set
		// ENCRYPTION_KEY to separate the two duties.
		c.EncryptionKey = c.TokenSecret
	}
	if c.DatabasePath == "" {
		c.DatabasePath = defaults.DatabaseFile
	}
	if c.ListenPort < 1 || c.ListenPort > 65535 {
		return trace.BadParameter("PORT must be between 1 and 65535")
	}
	if c.RateLimitMaxRequests < 1 {
		return trace.BadParameter("RATE_LIMIT_MAX_REQUESTS must be positive")
	}
	if c.RateLimitWindow < time.Second {
		return trace.BadParameter("RATE_LIMIT_WINDOW_MS must be at least 1000")
	}
	return nil
}

func intFromEnv(name string, fallback int) (int, error) {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, trace.BadParameter("%v must be a number, got %q", name, raw)
	}
	return v, nil
}
