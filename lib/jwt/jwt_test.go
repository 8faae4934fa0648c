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

package jwt

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
)

func TestSignVerifyRoundTrip(t *testing.T) {
	t.Parallel()

	clock := clockwork.NewFakeClock()
	key, err := New(&Config{Secret: "test-secret", Clock: clock})
	require.NoError(t, err)

	token, expires, err := key.Sign("user-1", "a@b.co")
	require.NoError(t, err)
	require.True(t, expires.After(clock.Now()))

	claims, err := key.Verify(token)
	require.NoError(t, err)
	require.Equal(t, "user-1", claims.UserID())
	require.Equal(t, "a@b.co", claims.Email)
}

func TestVerifyExpiry(t *testing.T) {
	t.Parallel()

	clock := clockwork.NewFakeClock()
	key, err := New(&Config{Secret: "test-secret", Clock: clock, TTL: time.Hour})
	require.NoError(t, err)

	token, _, err := key.Sign("user-1", "a@b.co")
	require.NoError(t, err)

	// Valid at any point before the TTL elapses.
	clock.Advance(59 * time.Minute)
	_, err = key.Verify(token)
	require.NoError(t, err)

	// Invalid at and past the TTL.
	clock.Advance(time.Minute)
	_, err = key.Verify(token)
	require.Error(t, err)
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	t.Parallel()

	clock := clockwork.NewFakeClock()
	key, err := New(&Config{Secret: "secret-one", Clock: clock})
	require.NoError(t, err)
	other, err := New(&Config{Secret: "secret-two", Clock: clock})
	require.NoError(t, err)

	token, _, err := key.Sign("user-1", "a@b.co")
	require.NoError(t, err)

	_, err = other.Verify(token)
	require.Error(t, err)
}

func TestVerifyRejectsGarbage(t *testing.T) {
	t.Parallel()

	key, err := New(&Config{Secret: "test-secret"})
	require.NoError(t, err)

	for _, raw := range []string{"", "garbage", "a.b.c"} {
		_, err := key.Verify(raw)
		require.Error(t, err, "token %q", raw)
	}
}
