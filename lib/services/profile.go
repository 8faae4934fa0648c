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

package services

import (
	"time"

	"github.com/gravitational/trace"

	"github.com/zmb3/webterm/lib/utils"
)

// AuthMethod is how a profile authenticates to its SSH target.
type AuthMethod string

const (
	// AuthMethodPassword authenticates with a password.
	AuthMethodPassword AuthMethod = "password"
	// AuthMethodPublicKey authenticates with a private key and an optional
	// passphrase.
	AuthMethodPublicKey AuthMethod = "publicKey"
)

// Check validates the auth method tag.
func (m AuthMethod) Check() error {
	switch m {
	case AuthMethodPassword, AuthMethodPublicKey:
		return nil
	}
	return trace.BadParameter("unsupported auth method %q", m)
}

// Profile is the durable record of how to dial an SSH target. It never
// holds a live connection.
type Profile struct {
	// ID is an opaque unique identifier.
	ID string `json:"id"`
	// UserID is the owning user.
	UserID string `json:"userId"`
	// Name is the display name, unique per user among active profiles.
	Name string `json:"name"`
	// Host is a DNS name or IPv4 literal.
	Host string `json:"host"`
	// Port is the SSH port on the target.
	Port int `json:"port"`
	// Username is the remote login name.
	Username string `json:"username"`
	// AuthMethod selects which secret the profile presents.
	AuthMethod AuthMethod `json:"authMethod"`
	// CreatedAt is when the profile was created.
	CreatedAt time.Time `json:"createdAt"`
	// LastUsed is the time of the most recent connect through this profile.
	LastUsed *time.Time `json:"lastUsed,omitempty"`
	// Active is cleared on delete; rows are retained.
	Active bool `json:"-"`
}

// Check validates the profile fields.
func (p *Profile) Check() error {
	if p.Name == "" {
		return trace.BadParameter("profile name is missing")
	}
	if !utils.IsValidHostname(p.Host) {
		return trace.BadParameter("host must be a DNS name or IPv4 address")
	}
	if !utils.IsValidPort(p.Port) {
		return trace.BadParameter("port must be between 1 and 65535")
	}
	if p.Username == "" {
		return trace.BadParameter("username is missing")
	}
	return trace.Wrap(p.AuthMethod.Check())
}

// Credentials is a decrypted credential snapshot. It exists in memory only,
// scoped to profile creation and to the lifetime of a live connection.
type Credentials struct {
	// Password is set for the password auth method.
	Password string `json:"password,omitempty"`
	// PrivateKey is a PEM encoded private key, set for the publicKey method.
	PrivateKey string `json:"privateKey,omitempty"`
	// Passphrase optionally protects PrivateKey.
	Passphrase string `json:"passphrase,omitempty"`
}

// CheckFor validates that the supplied secrets are consistent with the
// given auth method.
func (c *Credentials) CheckFor(method AuthMethod) error {
	if err := method.Check(); err != nil {
		return trace.Wrap(err)
	}
	switch method {
	case AuthMethodPassword:
		if c.Password == "" {
			return trace.BadParameter("password is required for the password auth method")
		}
		if c.PrivateKey != "" || c.Passphrase != "" {
			return trace.BadParameter("private key material is not allowed for the password auth method")
		}
	case AuthMethodPublicKey:
		if c.PrivateKey == "" {
			return trace.BadParameter("private key is required for the publicKey auth method")
		}
		if c.Password != "" {
			return trace.BadParameter("password is not allowed for the publicKey auth method")
		}
	}
	return nil
}

// Scrub drops the secret references so the snapshot no longer pins them.
func (c *Credentials) Scrub() {
	c.Password = ""
	c.PrivateKey = ""
	c.Passphrase = ""
}

// EncryptedCredentials is the self-describing bundle stored at rest. Each
// present secret is a vault ciphertext.
type EncryptedCredentials struct {
	// AuthMethod tags which secrets are populated.
	AuthMethod AuthMethod `json:"authMethod"`
	// Password is the sealed password.
	Password string `json:"password,omitempty"`
	// PrivateKey is the sealed private key.
	PrivateKey string `json:"privateKey,omitempty"`
	// Passphrase is the sealed key passphrase.
	Passphrase string `json:"passphrase,omitempty"`
}

// ProfileUpdate is a partial update of the mutable profile fields. Nil
// fields are left untouched; credentials are never updated through it.
type ProfileUpdate struct {
	Name     *string `json:"name,omitempty"`
	Host     *string `json:"host,omitempty"`
	Port     *int    `json:"port,omitempty"`
	Username *string `json:"username,omitempty"`
}

// Check validates that the update touches at least one field and that every
// supplied field is well formed.
func (u *ProfileUpdate) Check() error {
	if u.Name == nil && u.Host == nil && u.Port == nil && u.Username == nil {
		return trace.BadParameter("no updatable fields supplied")
	}
	if u.Name != nil && *u.Name == "" {
		return trace.BadParameter("profile name cannot be empty")
	}
	if u.Host != nil && !utils.IsValidHostname(*u.Host) {
		return trace.BadParameter("host must be a DNS name or IPv4 address")
	}
	if u.Port != nil && !utils.IsValidPort(*u.Port) {
		return trace.BadParameter("port must be between 1 and 65535")
	}
	if u.Username != nil && *u.Username == "" {
		return trace.BadParameter("username cannot be empty")
	}
	return nil
}
