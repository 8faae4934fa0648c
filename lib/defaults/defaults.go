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

// Package defaults holds tunable default values for the gateway.
package defaults

import "time"

const (
	// HTTPListenPort is the port the gateway listens on unless PORT is set.
	HTTPListenPort = 5000

	// DatabaseFile is the sqlite database path unless DATABASE_URL is set.
	DatabaseFile = "webterm.db"

	// TokenTTL is the lifetime of a minted bearer token.
	TokenTTL = 7 * 24 * time.Hour

	// BcryptCost is the work factor used when hashing passwords.
	BcryptCost = 12

	// MinPasswordLength is the minimum accepted password length.
	MinPasswordLength = 8
)

const (
	// SSHDialTimeout bounds the SSH handshake to a target host.
	SSHDialTimeout = 30 * time.Second

	// KeepAliveInterval is how often SSH keepalive requests are sent on
	// healthy connections.
	KeepAliveInterval = 60 * time.Second

	// ReconnectDelay is the pause before the single automatic reconnection
	// attempt after a transport failure.
	ReconnectDelay = 5 * time.Second

	// SweepInterval is how often the idle sweeper runs.
	SweepInterval = 60 * time.Second

	// IdleTimeout is how long a connection may stay silent before the
	// sweeper closes it.
	IdleTimeout = 30 * time.Minute

	// TermCols and TermRows are the dimensions requested for new shells
	// before the client reports its real ones.
	TermCols = 80
	TermRows = 24

	// MaxTermCols and MaxTermRows bound client supplied resize requests.
	MaxTermCols = 300
	MaxTermRows = 100
)

const (
	// RateLimitWindow is the accounting window shared by both limiter tiers.
	RateLimitWindow = 15 * time.Minute

	// RateLimitMaxRequests is the number of requests a source may issue per
	// window before the global limiter rejects it.
	RateLimitMaxRequests = 100

	// AuthRateLimitMaxAttempts is the number of authentication attempts a
	// source may issue per window.
	AuthRateLimitMaxAttempts = 5

	// AuthRateLimitBlock is how long a source stays blocked after
	// exhausting its authentication attempts.
	AuthRateLimitBlock = 15 * time.Minute
)

const (
	// AssistTimeout bounds a single assistant provider call.
	AssistTimeout = 60 * time.Second

	// AssistMaxTokens caps provider completions.
	AssistMaxTokens = 1024

	// AssistFallbackConfidence is the confidence ceiling applied when the
	// provider answer had to be scraped from free text, and when a command
	// matches the dangerous pattern list.
	AssistFallbackConfidence = 0.6
)
