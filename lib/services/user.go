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

// Package services defines the durable resources of the gateway and the
// interfaces of the stores that persist them.
package services

import (
	"strings"
	"time"
	"unicode"

	"github.com/gravitational/trace"

	"github.com/zmb3/webterm/lib/utils"
)

// User is a registered account.
type User struct {
	// ID is an opaque unique identifier.
	ID string `json:"id"`
	// Email is unique across users, compared case insensitively.
	Email string `json:"email"`
	// Name is the display name.
	Name string `json:"name"`
	// PasswordHash is the bcrypt hash of the account password. It never
	// leaves the process boundary.
	PasswordHash string `json:"-"`
	// Preferences is an opaque blob the gateway persists verbatim.
	Preferences map[string]interface{} `json:"preferences,omitempty"`
	// CreatedAt is when the account was registered.
	CreatedAt time.Time `json:"createdAt"`
	// LastLogin is the time of the most recent successful login.
	LastLogin *time.Time `json:"lastLogin,omitempty"`
}

// Check validates the user record.
func (u *User) Check() error {
	if u.ID == "" {
		return trace.BadParameter("user id is missing")
	}
	if !utils.IsValidEmail(u.Email) {
		return trace.BadParameter("invalid email address")
	}
	if u.Name == "" {
		return trace.BadParameter("name is missing")
	}
	if u.PasswordHash == "" {
		return trace.BadParameter("password hash is missing")
	}
	return nil
}

// NormalizeEmail converts an email address to its canonical lookup form.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// CheckPasswordStrength enforces the registration password policy: at least
// eight characters with one upper case letter, one lower case letter and
// one digit.
func CheckPasswordStrength(password string) error {
	if len(password) < 8 {
		return trace.BadParameter("password must be at least 8 characters")
	}
	var upper, lower, digit bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		}
	}
	if !upper || !lower || !digit {
		return trace.BadParameter("password must contain an upper case letter, a lower case letter and a digit")
	}
	return nil
}
