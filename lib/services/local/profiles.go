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

package local

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/gravitational/trace"

	"github.com/zmb3/webterm/lib/services"
)

// ListProfiles returns the caller's active profiles ordered by last-used
// descending then created-at descending. Credentials are never included.
func (s *Storage) ListProfiles(ctx context.Context, userID string) ([]services.Profile, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, name, host, port, username, auth_method, created_at, last_used
		 FROM ssh_profiles
		 WHERE user_id = ? AND active = 1
		 ORDER BY last_used IS NULL, last_used DESC, created_at DESC`, userID)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	defer rows.Close()

	var out []services.Profile
	for rows.Next() {
		profile, err := scanProfile(rows)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		out = append(out, *profile)
	}
	return out, trace.Wrap(rows.Err())
}

// CreateProfile validates and stores a profile. Secrets are sealed with the
// vault before they touch the database.
func (s *Storage) CreateProfile(ctx context.Context, profile *services.Profile, creds *services.Credentials) (*services.Profile, error) {
	if err := profile.Check(); err != nil {
		return nil, trace.Wrap(err)
	}
	if creds == nil {
		return nil, trace.BadParameter("credentials are required")
	}
	if err := creds.CheckFor(profile.AuthMethod); err != nil {
		return nil, trace.Wrap(err)
	}

	encrypted, err := s.sealCredentials(profile.AuthMethod, creds)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	blob, err := json.Marshal(encrypted)
	if err != nil {
		return nil, trace.Wrap(err)
	}

	stored := *profile
	stored.CreatedAt = s.Clock.Now()
	stored.Active = true

	err = s.inTx(ctx, func(tx *sql.Tx) error {
		var count int
		err := tx.QueryRowContext(ctx,
			`SELECT COUNT(1) FROM ssh_profiles WHERE user_id = ? AND name = ? AND active = 1`,
			stored.UserID, stored.Name).Scan(&count)
		if err != nil {
			return trace.Wrap(err)
		}
		if count > 0 {
			return trace.AlreadyExists("profile %q already exists", stored.Name)
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO ssh_profiles (id, user_id, name, host, port, username, auth_method, encrypted_credentials, created_at, last_used, active)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, NULL, 1)`,
			stored.ID, stored.UserID, stored.Name, stored.Host, stored.Port,
			stored.Username, string(stored.AuthMethod), string(blob), encodeTime(stored.CreatedAt))
		return trace.Wrap(err)
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return &stored, nil
}

// UpdateProfile applies a partial update to an active profile owned by the
// caller. Credentials are preserved untouched.
func (s *Storage) UpdateProfile(ctx context.Context, userID, profileID string, update *services.ProfileUpdate) (*services.Profile, error) {
	if update == nil {
		return nil, trace.BadParameter("update is required")
	}
	if err := update.Check(); err != nil {
		return nil, trace.Wrap(err)
	}

	var updated *services.Profile
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx,
			`SELECT id, user_id, name, host, port, username, auth_method, created_at, last_used
			 FROM ssh_profiles WHERE id = ? AND user_id = ? AND active = 1`, profileID, userID)
		profile, err := scanProfile(row)
		if err != nil {
			return trace.Wrap(err)
		}

		if update.Name != nil && *update.Name != profile.Name {
			var count int
			err := tx.QueryRowContext(ctx,
				`SELECT COUNT(1) FROM ssh_profiles WHERE user_id = ? AND name = ? AND active = 1 AND id != ?`,
				userID, *update.Name, profileID).Scan(&count)
			if err != nil {
				return trace.Wrap(err)
			}
			if count > 0 {
				return trace.AlreadyExists("profile %q already exists", *update.Name)
			}
			profile.Name = *update.Name
		}
		if update.Host != nil {
			profile.Host = *update.Host
		}
		if update.Port != nil {
			profile.Port = *update.Port
		}
		if update.Username != nil {
			profile.Username = *update.Username
		}

		_, err = tx.ExecContext(ctx,
			`UPDATE ssh_profiles SET name = ?, host = ?, port = ?, username = ? WHERE id = ?`,
			profile.Name, profile.Host, profile.Port, profile.Username, profileID)
		if err != nil {
			return trace.Wrap(err)
		}

		updated = profile
		return nil
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return updated, nil
}

// DeleteProfile soft deletes an active profile owned by the caller.
func (s *Storage) DeleteProfile(ctx context.Context, userID, profileID string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE ssh_profiles SET active = 0 WHERE id = ? AND user_id = ? AND active = 1`,
			profileID, userID)
		if err != nil {
			return trace.Wrap(err)
		}
		return requireRow(res, "profile %v not found", profileID)
	})
}

// ResolveCredentials returns the active profile with its decrypted
// credential snapshot and records the use. Restricted to the owning user.
func (s *Storage) ResolveCredentials(ctx context.Context, userID, profileID string) (*services.Profile, *services.Credentials, error) {
	var profile *services.Profile
	var blob string

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx,
			`SELECT id, user_id, name, host, port, username, auth_method, created_at, last_used, encrypted_credentials
			 FROM ssh_profiles WHERE id = ? AND user_id = ? AND active = 1`, profileID, userID)

		var p services.Profile
		var createdAt, authMethod string
		var lastUsed sql.NullString
		err := row.Scan(&p.ID, &p.UserID, &p.Name, &p.Host, &p.Port, &p.Username,
			&authMethod, &createdAt, &lastUsed, &blob)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return trace.NotFound("profile %v not found", profileID)
			}
			return trace.Wrap(err)
		}
		p.AuthMethod = services.AuthMethod(authMethod)
		p.Active = true
		if p.CreatedAt, err = decodeTime(createdAt); err != nil {
			return trace.Wrap(err)
		}
		if p.LastUsed, err = decodeNullTime(lastUsed); err != nil {
			return trace.Wrap(err)
		}

		now := s.Clock.Now()
		if _, err := tx.ExecContext(ctx,
			`UPDATE ssh_profiles SET last_used = ? WHERE id = ?`, encodeTime(now), profileID); err != nil {
			return trace.Wrap(err)
		}
		p.LastUsed = &now

		profile = &p
		return nil
	})
	if err != nil {
		return nil, nil, trace.Wrap(err)
	}

	var encrypted services.EncryptedCredentials
	if err := json.Unmarshal([]byte(blob), &encrypted); err != nil {
		return nil, nil, trace.Wrap(err)
	}
	creds, err := s.openCredentials(&encrypted)
	if err != nil {
		return nil, nil, trace.Wrap(err)
	}
	return profile, creds, nil
}

func (s *Storage) sealCredentials(method services.AuthMethod, creds *services.Credentials) (*services.EncryptedCredentials, error) {
	out := &services.EncryptedCredentials{AuthMethod: method}
	var err error
	if creds.Password != "" {
		if out.Password, err = s.Vault.Seal(creds.Password); err != nil {
			return nil, trace.Wrap(err)
		}
	}
	if creds.PrivateKey != "" {
		if out.PrivateKey, err = s.Vault.Seal(creds.PrivateKey); err != nil {
			return nil, trace.Wrap(err)
		}
	}
	if creds.Passphrase != "" {
		if out.Passphrase, err = s.Vault.Seal(creds.Passphrase); err != nil {
			return nil, trace.Wrap(err)
		}
	}
	return out, nil
}

func (s *Storage) openCredentials(encrypted *services.EncryptedCredentials) (*services.Credentials, error) {
	out := &services.Credentials{}
	var err error
	if encrypted.Password != "" {
		if out.Password, err = s.Vault.Open(encrypted.Password); err != nil {
			return nil, trace.Wrap(err)
		}
	}
	if encrypted.PrivateKey != "" {
		if out.PrivateKey, err = s.Vault.Open(encrypted.PrivateKey); err != nil {
			return nil, trace.Wrap(err)
		}
	}
	if encrypted.Passphrase != "" {
		if out.Passphrase, err = s.Vault.Open(encrypted.Passphrase); err != nil {
			return nil, trace.Wrap(err)
		}
	}
	return out, nil
}

func scanProfile(row rowScanner) (*services.Profile, error) {
	var p services.Profile
	var createdAt, authMethod string
	var lastUsed sql.NullString

	err := row.Scan(&p.ID, &p.UserID, &p.Name, &p.Host, &p.Port, &p.Username,
		&authMethod, &createdAt, &lastUsed)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, trace.NotFound("profile not found")
		}
		return nil, trace.Wrap(err)
	}

	p.AuthMethod = services.AuthMethod(authMethod)
	p.Active = true
	if p.CreatedAt, err = decodeTime(createdAt); err != nil {
		return nil, trace.Wrap(err)
	}
	if p.LastUsed, err = decodeNullTime(lastUsed); err != nil {
		return nil, trace.Wrap(err)
	}
	return &p, nil
}
