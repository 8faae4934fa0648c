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

// Package auth implements account registration, password authentication
// and bearer token verification.
package auth

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	webterm "github.com/zmb3/webterm"
	"github.com/zmb3/webterm/lib/defaults"
	"github.com/zmb3/webterm/lib/jwt"
	"github.com/zmb3/webterm/lib/services"
	"github.com/zmb3/webterm/lib/utils"
)

// Config holds the identity service dependencies.
type Config struct {
	// Identity is the durable user store.
	Identity services.Identity

	// Key mints and verifies bearer tokens.
	Key *jwt.Key

	// BcryptCost is the password hashing work factor.
	BcryptCost int

	// Clock is used for timestamps.
	Clock clockwork.Clock

	// Log is a component logger.
	Log logrus.FieldLogger
}

// CheckAndSetDefaults validates the values of a *Config.
func (c *Config) CheckAndSetDefaults() error {
	if c.Identity == nil {
		return trace.BadParameter("identity store is required")
	}
	if c.Key == nil {
		return trace.BadParameter("token key is required")
	}
	if c.BcryptCost == 0 {
		c.BcryptCost = defaults.BcryptCost
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Log == nil {
		c.Log = logrus.WithField(trace.Component, webterm.ComponentAuth)
	}
	return nil
}

// Server is the identity and token service.
type Server struct {
	Config
}

// New creates an identity service.
func New(cfg Config) (*Server, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Server{Config: cfg}, nil
}

// RegisterParams are the inputs to Register.
type RegisterParams struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

// LoginParams are the inputs to Login.
type LoginParams struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// AuthResponse carries a user together with a freshly minted token.
type AuthResponse struct {
	User      *services.User `json:"user"`
	Token     string         `json:"token"`
	ExpiresAt time.Time      `json:"expiresAt"`
}

// Register creates a new account and mints its first token.
func (s *Server) Register(ctx context.Context, params RegisterParams) (*AuthResponse, error) {
	if !utils.IsValidEmail(params.Email) {
		return nil, trace.BadParameter("invalid email address")
	}
	if params.Name == "" {
		return nil, trace.BadParameter("name is required")
	}
	if err := services.CheckPasswordStrength(params.Password); err != nil {
		return nil, trace.Wrap(err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(params.Password), s.BcryptCost)
	if err != nil {
		return nil, trace.Wrap(err)
	}

	user := &services.User{
		ID:           uuid.NewString(),
		Email:        services.NormalizeEmail(params.Email),
		Name:         params.Name,
		PasswordHash: string(hash),
		Preferences:  map[string]interface{}{},
		CreatedAt:    s.Clock.Now(),
	}
	if err := s.Identity.CreateUser(ctx, user); err != nil {
		return nil, trace.Wrap(err)
	}

	return s.mintFor(user)
}

// Login verifies the password and mints a token. Failures do not reveal
// whether the email or the password was wrong.
func (s *Server) Login(ctx context.Context, params LoginParams) (*AuthResponse, error) {
	user, err := s.Identity.GetUserByEmail(ctx, params.Email)
	if err != nil {
		if trace.IsNotFound(err) {
			// Burn comparable time so an unknown email is not
			// distinguishable by latency.
			bcrypt.CompareHashAndPassword(dummyHash, []byte(params.Password))
			return nil, trace.AccessDenied("invalid credentials")
		}
		return nil, trace.Wrap(err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(params.Password)); err != nil {
		s.Log.WithField("user", user.ID).Debug("Password verification failed.")
		return nil, trace.AccessDenied("invalid credentials")
	}

	if err := s.Identity.UpdateLastLogin(ctx, user.ID); err != nil {
		return nil, trace.Wrap(err)
	}
	now := s.Clock.Now()
	user.LastLogin = &now

	return s.mintFor(user)
}

// VerifyToken validates a bearer token and loads the account it was minted
// for.
func (s *Server) VerifyToken(ctx context.Context, raw string) (*services.User, error) {
	claims, err := s.Key.Verify(raw)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	user, err := s.Identity.GetUser(ctx, claims.UserID())
	if err != nil {
		if trace.IsNotFound(err) {
			return nil, trace.AccessDenied("account no longer exists")
		}
		return nil, trace.Wrap(err)
	}
	return user, nil
}

// UpdatePreferences persists the user's opaque preferences blob.
func (s *Server) UpdatePreferences(ctx context.Context, userID string, prefs map[string]interface{}) error {
	return trace.Wrap(s.Identity.UpdatePreferences(ctx, userID, prefs))
}

func (s *Server) mintFor(user *services.User) (*AuthResponse, error) {
	token, expires, err := s.Key.Sign(user.ID, user.Email)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return &AuthResponse{User: user, Token: token, ExpiresAt: expires}, nil
}

// dummyHash is compared against when the account does not exist.
var dummyHash = []byte("$2a$12$R9h/cIPz0gi.URNNX3kh2OPST9/PgBkqquzi.Ss7KIUgO2t0jWMUW")
