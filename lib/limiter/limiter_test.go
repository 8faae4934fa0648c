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

package limiter

import (
	"testing"
	"time"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
)

func TestGlobalTier(t *testing.T) {
	t.Parallel()

	clock := clockwork.NewFakeClock()
	l, err := New(Config{Window: 15 * time.Minute, MaxRequests: 3, Clock: clock})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := l.Allow("1.2.3.4")
		require.NoError(t, err, "request %d", i)
	}

	retryAfter, err := l.Allow("1.2.3.4")
	require.True(t, trace.IsLimitExceeded(err))
	require.Greater(t, retryAfter, time.Duration(0))
	require.LessOrEqual(t, retryAfter, 15*time.Minute)

	// Other sources are unaffected.
	_, err = l.Allow("5.6.7.8")
	require.NoError(t, err)

	// The bucket refills over time.
	clock.Advance(15 * time.Minute)
	_, err = l.Allow("1.2.3.4")
	require.NoError(t, err)
}

func TestAuthTierBlocks(t *testing.T) {
	t.Parallel()

	clock := clockwork.NewFakeClock()
	l, err := New(Config{
		Window:          15 * time.Minute,
		MaxRequests:     100,
		AuthMaxAttempts: 5,
		AuthBlock:       15 * time.Minute,
		Clock:           clock,
	})
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		_, err := l.AllowAuth("1.2.3.4")
		require.NoError(t, err, "attempt %d", i)
	}

	retryAfter, err := l.AllowAuth("1.2.3.4")
	require.True(t, trace.IsLimitExceeded(err))
	require.Equal(t, 15*time.Minute, retryAfter)

	// The block holds even after a partial refill would have allowed a
	// request.
	clock.Advance(5 * time.Minute)
	retryAfter, err = l.AllowAuth("1.2.3.4")
	require.True(t, trace.IsLimitExceeded(err))
	require.Equal(t, 10*time.Minute, retryAfter)

	// After the block expires attempts are admitted again.
	clock.Advance(10 * time.Minute)
	_, err = l.AllowAuth("1.2.3.4")
	require.NoError(t, err)
}

func TestAuthTierIndependentOfGlobal(t *testing.T) {
	t.Parallel()

	clock := clockwork.NewFakeClock()
	l, err := New(Config{Window: 15 * time.Minute, MaxRequests: 100, AuthMaxAttempts: 1, AuthBlock: time.Minute, Clock: clock})
	require.NoError(t, err)

	_, err = l.AllowAuth("1.2.3.4")
	require.NoError(t, err)
	_, err = l.AllowAuth("1.2.3.4")
	require.True(t, trace.IsLimitExceeded(err))

	// The global tier still admits the same source.
	_, err = l.Allow("1.2.3.4")
	require.NoError(t, err)
}

func TestPrune(t *testing.T) {
	t.Parallel()

	clock := clockwork.NewFakeClock()
	l, err := New(Config{Window: time.Minute, MaxRequests: 10, Clock: clock})
	require.NoError(t, err)

	_, err = l.Allow("1.2.3.4")
	require.NoError(t, err)
	require.Len(t, l.global, 1)

	clock.Advance(3 * time.Minute)
	l.Prune()
	require.Empty(t, l.global)
}
