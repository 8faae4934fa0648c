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

// Package jwt is used to sign and verify the bearer tokens that
// authenticate gateway requests.
package jwt

import (
	"time"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"gopkg.in/square/go-jose.v2"
	"gopkg.in/square/go-jose.v2/jwt"

	"github.com/zmb3/webterm/lib/defaults"
)

// Config defines the signing secret and clock that form a *Key.
type Config struct {
	// Secret is the process wide HMAC signing secret.
	Secret string

	// Clock is used to control issue and expiry times.
	Clock clockwork.Clock

	// TTL is the lifetime of minted tokens.
	TTL time.Duration
}

// CheckAndSetDefaults validates the values of a *Config.
func (c *Config) CheckAndSetDefaults() error {
	if c.Secret == "" {
		return trace.BadParameter("signing secret is required")
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.TTL == 0 {
		c.TTL = defaults.TokenTTL
	}
	return nil
}

// Key mints and verifies bearer tokens.
type Key struct {
	config *Config
	signer jose.Signer
}

// New creates a key that can be used to sign and verify tokens.
func New(config *Config) (*Key, error) {
	if err := config.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}

	signingKey := jose.SigningKey{
		Algorithm: jose.HS256,
		Key:       []byte(config.Secret),
	}
	signer, err := jose.NewSigner(signingKey, (&jose.SignerOptions{}).WithType("JWT"))
	if err != nil {
		return nil, trace.Wrap(err)
	}

	return &Key{config: config, signer: signer}, nil
}

// Claims represents the public and private claims embedded in a token.
type Claims struct {
	// Claims represents public claim values (as specified in RFC 7519).
	jwt.Claims

	// Email is the account email at mint time.
	Email string `json:"email"`
}

// UserID returns the account the token was minted for.
func (c *Claims) UserID() string {
	return c.Subject
}

// Sign mints a token for the given account.
func (k *Key) Sign(userID, email string) (token string, expires time.Time, err error) {
	if userID == "" {
		return "", time.Time{}, trace.BadParameter("user id is missing")
	}

	now := k.config.Clock.Now()
	expires = now.Add(k.config.TTL)
	claims := Claims{
		Claims: jwt.Claims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now.Add(-10 * time.Second)),
			Expiry:    jwt.NewNumericDate(expires),
		},
		Email: email,
	}

	token, err = jwt.Signed(k.signer).Claims(claims).CompactSerialize()
	if err != nil {
		return "", time.Time{}, trace.Wrap(err)
	}
	return token, expires, nil
}

// Verify validates the passed in token and returns its claims.
func (k *Key) Verify(raw string) (*Claims, error) {
	if raw == "" {
		return nil, trace.AccessDenied("missing bearer token")
	}

	tok, err := jwt.ParseSigned(raw)
	if err != nil {
		return nil, trace.AccessDenied("malformed bearer token")
	}

	var out Claims
	if err := tok.Claims([]byte(k.config.Secret), &out); err != nil {
		return nil, trace.AccessDenied("invalid token signature")
	}
	// Zero leeway: a token is invalid the moment its TTL elapses.
	if err := out.ValidateWithLeeway(jwt.Expected{Time: k.config.Clock.Now()}, 0); err != nil {
		return nil, trace.AccessDenied("token is expired or not yet valid")
	}
	// ValidateWithLeeway still accepts a token at exactly its expiry.
	if out.Expiry != nil && !k.config.Clock.Now().Before(out.Expiry.Time()) {
		return nil, trace.AccessDenied("token is expired or not yet valid")
	}
	if out.Subject == "" {
		return nil, trace.AccessDenied("token is missing a subject")
	}
	return &out, nil
}
