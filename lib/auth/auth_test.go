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

package auth

import (
	"context"
	"testing"
	"time"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/zmb3/webterm/lib/jwt"
	"github.com/zmb3/webterm/lib/secret"
	"github.com/zmb3/webterm/lib/services/local"
)

func newTestServer(t *testing.T) (*Server, clockwork.FakeClock) {
	t.Helper()

	vault, err := secret.New(secret.Config{Key: "test-key"})
	require.NoError(t, err)

	clock := clockwork.NewFakeClock()
	storage, err := local.New(local.Config{Path: ":memory:", Vault: vault, Clock: clock})
	require.NoError(t, err)
	t.Cleanup(func() { storage.Close() })

	key, err := jwt.New(&jwt.Config{Secret: "test-secret", Clock: clock})
	require.NoError(t, err)

	// The minimum cost keeps the test fast; production uses a higher
	// work factor.
	server, err := New(Config{Identity: storage, Key: key, BcryptCost: 4, Clock: clock})
	require.NoError(t, err)
	return server, clock
}

func TestRegisterAndLogin(t *testing.T) {
	t.Parallel()

	server, _ := newTestServer(t)
	ctx := context.Background()

	resp, err := server.Register(ctx, RegisterParams{Email: "a@b.co", Password: "Abcdef12", Name: "A"})
	require.NoError(t, err)
	require.NotEmpty(t, resp.Token)
	require.Equal(t, "a@b.co", resp.User.Email)
	require.Nil(t, resp.User.LastLogin)

	login, err := server.Login(ctx, LoginParams{Email: "a@b.co", Password: "Abcdef12"})
	require.NoError(t, err)
	require.NotEmpty(t, login.Token)
	require.NotNil(t, login.User.LastLogin)
}

func TestRegisterRejectsWeakPasswords(t *testing.T) {
	t.Parallel()

	server, _ := newTestServer(t)
	ctx := context.Background()

	for _, password := range []string{
		"short1A",    // too short
		"abcdefgh",   // no upper, no digit
		"ABCDEFGH1",  // no lower
		"Abcdefghij", // no digit
	} {
		_, err := server.Register(ctx, RegisterParams{Email: "a@b.co", Password: password, Name: "A"})
		require.True(t, trace.IsBadParameter(err), "password %q", password)
	}
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	t.Parallel()

	server, _ := newTestServer(t)
	ctx := context.Background()

	_, err := server.Register(ctx, RegisterParams{Email: "a@b.co", Password: "Abcdef12", Name: "A"})
	require.NoError(t, err)

	_, err = server.Register(ctx, RegisterParams{Email: "A@B.co", Password: "Abcdef12", Name: "B"})
	require.True(t, trace.IsAlreadyExists(err))
}

func TestLoginFailuresAreUniform(t *testing.T) {
	t.Parallel()

	server, _ := newTestServer(t)
	ctx := context.Background()

	_, err := server.Register(ctx, RegisterParams{Email: "a@b.co", Password: "Abcdef12", Name: "A"})
	require.NoError(t, err)

	wrongPassword := server.mustLoginErr(t, ctx, "a@b.co", "Wrong1234")
	unknownEmail := server.mustLoginErr(t, ctx, "nobody@b.co", "Wrong1234")
	require.Equal(t, wrongPassword.Error(), unknownEmail.Error())
	require.True(t, trace.IsAccessDenied(wrongPassword))
	require.True(t, trace.IsAccessDenied(unknownEmail))
}

func (s *Server) mustLoginErr(t *testing.T, ctx context.Context, email, password string) error {
	t.Helper()
	_, err := s.Login(ctx, LoginParams{Email: email, Password: password})
	require.Error(t, err)
	return err
}

func TestVerifyToken(t *testing.T) {
	t.Parallel()

	server, clock := newTestServer(t)
	ctx := context.Background()

	resp, err := server.Register(ctx, RegisterParams{Email: "a@b.co", Password: "Abcdef12", Name: "A"})
	require.NoError(t, err)

	user, err := server.VerifyToken(ctx, resp.Token)
	require.NoError(t, err)
	require.Equal(t, resp.User.ID, user.ID)

	_, err = server.VerifyToken(ctx, "garbage")
	require.True(t, trace.IsAccessDenied(err))

	clock.Advance(8 * 24 * time.Hour)
	_, err = server.VerifyToken(ctx, resp.Token)
	require.True(t, trace.IsAccessDenied(err))
}
