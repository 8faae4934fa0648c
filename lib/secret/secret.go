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

// Package secret implements the credential vault: authenticated symmetric
// encryption of secrets at rest under a single process wide key.
package secret

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"io"

	"github.com/gravitational/trace"
)

// Config holds the vault construction parameters.
type Config struct {
	// Key is the symmetric key material. Any length is accepted, the
	// effective key is derived with SHA-256.
	Key string
}

// CheckAndSetDefaults validates the values of a *Config.
func (c *Config) CheckAndSetDefaults() error {
	if c.Key == "" {
		return trace.BadParameter("encryption key is required")
	}
	return nil
}

// Vault seals and opens secrets with AES-256-GCM. Each ciphertext carries
// its own nonce so sealing the same plaintext twice yields distinct blobs.
type Vault struct {
	aead cipher.AEAD
}

// New creates a vault from the configured key.
func New(cfg Config) (*Vault, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}

	key := sha256.Sum256([]byte(cfg.Key))
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, trace.Wrap(err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, trace.Wrap(err)
	}

	return &Vault{aead: aead}, nil
}

// Seal encrypts plaintext and returns a self-describing base64 blob of
// nonce followed by ciphertext.
func (v *Vault) Seal(plaintext string) (string, error) {
	nonce := make([]byte, v.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", trace.Wrap(err)
	}

	sealed := v.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Open decrypts a blob produced by Seal. It fails on tamper, truncation or
// a key mismatch without exposing partial plaintext.
func (v *Vault) Open(blob string) (string, error) {
	sealed, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		return "", trace.BadParameter("malformed ciphertext encoding")
	}
	if len(sealed) < v.aead.NonceSize() {
		return "", trace.BadParameter("ciphertext is truncated")
	}

	nonce, ciphertext := sealed[:v.aead.NonceSize()], sealed[v.aead.NonceSize():]
	plaintext, err := v.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", trace.BadParameter("ciphertext failed integrity check")
	}
	return string(plaintext), nil
}
