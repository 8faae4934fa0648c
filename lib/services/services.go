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

import "context"

// Identity manages user accounts.
type Identity interface {
	// CreateUser inserts a new account. Returns AlreadyExists when the
	// email is taken.
	CreateUser(ctx context.Context, user *User) error
	// GetUser fetches an account by id.
	GetUser(ctx context.Context, id string) (*User, error)
	// GetUserByEmail fetches an account by its canonical email.
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	// UpdateLastLogin records a successful login.
	UpdateLastLogin(ctx context.Context, id string) error
	// UpdatePreferences replaces the opaque preferences blob.
	UpdatePreferences(ctx context.Context, id string, prefs map[string]interface{}) error
}

// Profiles manages SSH connection profiles. Every operation is scoped to
// the calling user.
type Profiles interface {
	// ListProfiles returns the caller's active profiles ordered by
	// last-used descending then created-at descending. Credentials are
	// never included.
	ListProfiles(ctx context.Context, userID string) ([]Profile, error)
	// CreateProfile validates and stores a profile with sealed credentials.
	CreateProfile(ctx context.Context, profile *Profile, creds *Credentials) (*Profile, error)
	// UpdateProfile applies a partial update to an active profile.
	UpdateProfile(ctx context.Context, userID, profileID string, update *ProfileUpdate) (*Profile, error)
	// DeleteProfile soft deletes an active profile.
	DeleteProfile(ctx context.Context, userID, profileID string) error
	// ResolveCredentials returns the profile together with its decrypted
	// credential snapshot and marks it used. Restricted to the owner.
	ResolveCredentials(ctx context.Context, userID, profileID string) (*Profile, *Credentials, error)
}

// Sessions manages durable terminal session records.
type Sessions interface {
	// UpsertSession inserts or replaces a session record.
	UpsertSession(ctx context.Context, session *TerminalSession) error
	// UpdateSessionStatus records a lifecycle transition.
	UpdateSessionStatus(ctx context.Context, id string, status SessionStatus) error
	// TouchSession bumps the session's last-activity timestamp.
	TouchSession(ctx context.Context, id string) error
	// ListActiveSessions returns the user's sessions whose status is not
	// disconnected.
	ListActiveSessions(ctx context.Context, userID string) ([]TerminalSession, error)
}

// AssistQueries records assistant exchanges for auditing.
type AssistQueries interface {
	// RecordQuery persists one exchange.
	RecordQuery(ctx context.Context, query *AssistQuery) error
	// ListQueries returns the user's most recent exchanges, newest first.
	ListQueries(ctx context.Context, userID string, limit int) ([]AssistQuery, error)
}
