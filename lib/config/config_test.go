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

package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFromEnv(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")
	t.Setenv("PORT", "8080")
	t.Setenv("RATE_LIMIT_MAX_REQUESTS", "50")
	t.Setenv("RATE_LIMIT_WINDOW_MS", "60000")
	t.Setenv("ENCRYPTION_KEY", "")
	t.Setenv("DATABASE_URL", "")

	cfg, err := FromEnv()
	require.NoError(t, err)
	require.Equal(t, 8080, cfg.ListenPort)
	require.Equal(t, 50, cfg.RateLimitMaxRequests)
	require.Equal(t, time.Minute, cfg.RateLimitWindow)
	// The encryption key falls back to the signing secret.
	require.Equal(t, "test-secret", cfg.EncryptionKey)
	require.Equal(t, "webterm.db", cfg.DatabasePath)
}

func TestFromEnvRequiresSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")

	_, err := FromEnv()
	require.Error(t, err)
}

func TestFromEnvSeparateEncryptionKey(t *testing.T) {
	t.Setenv("JWT_SECRET", "signing")
	t.Setenv("ENCRYPTION_KEY", "sealing")
	t.Setenv("PORT", "")
	t.Setenv("RATE_LIMIT_MAX_REQUESTS", "")
	t.Setenv("RATE_LIMIT_WINDOW_MS", "")

	cfg, err := FromEnv()
	require.NoError(t, err)
	require.Equal(t, "signing", cfg.TokenSecret)
	require.Equal(t, "sealing", cfg.EncryptionKey)
}

func TestFromEnvRejectsBadNumbers(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")
	t.Setenv("PORT", "not-a-number")

	_, err := FromEnv()
	require.Error(t, err)
}
