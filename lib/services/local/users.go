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
	"strings"

	"github.com/gravitational/trace"

	"github.com/zmb3/webterm/lib/services"
)

// CreateUser inserts a new account.
func (s *Storage) CreateUser(ctx context.Context, user *services.User) error {
	if err := user.Check(); err != nil {
		return trace.Wrap(err)
	}

	prefs, err := encodePreferences(user.Preferences)
	if err != nil {
		return trace.Wrap(err)
	}

	return s.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO users (id, email, name, password_hash, preferences, created_at, last_login)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			user.ID, services.NormalizeEmail(user.Email), user.Name, user.PasswordHash,
			prefs, encodeTime(user.CreatedAt), encodeNullTime(user.LastLogin))
		if err != nil {
			if isUniqueViolation(err) {
				return trace.AlreadyExists("user %q already exists", user.Email)
			}
			return trace.Wrap(err)
		}
		return nil
	})
}

// GetUser fetches an account by id.
func (s *Storage) GetUser(ctx context.Context, id string) (*services.User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, email, name, password_hash, preferences, created_at, last_login
		 FROM users WHERE id = ?`, id)
	user, err := scanUser(row)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return user, nil
}

// GetUserByEmail fetches an account by its canonical email.
func (s *Storage) GetUserByEmail(ctx context.Context, email string) (*services.User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, email, name, password_hash, preferences, created_at, last_login
		 FROM users WHERE email = ?`, services.NormalizeEmail(email))
	user, err := scanUser(row)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return user, nil
}

// UpdateLastLogin records a successful login.
func (s *Storage) UpdateLastLogin(ctx context.Context, id string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE users SET last_login = ? WHERE id = ?`,
			encodeTime(s.Clock.Now()), id)
		if err != nil {
			return trace.Wrap(err)
		}
		return requireRow(res, "user %v not found", id)
	})
}

// UpdatePreferences replaces the opaque preferences blob.
func (s *Storage) UpdatePreferences(ctx context.Context, id string, prefs map[string]interface{}) error {
	encoded, err := encodePreferences(prefs)
	if err != nil {
		return trace.Wrap(err)
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE users SET preferences = ? WHERE id = ?`, encoded, id)
		if err != nil {
			return trace.Wrap(err)
		}
		return requireRow(res, "user %v not found", id)
	})
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanUser(row rowScanner) (*services.User, error) {
	var user services.User
	var prefs, createdAt string
	var lastLogin sql.NullString

	err := row.Scan(&user.ID, &user.Email, &user.Name, &user.PasswordHash, &prefs, &createdAt, &lastLogin)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, trace.NotFound("user not found")
		}
		return nil, trace.Wrap(err)
	}

	if err := json.Unmarshal([]byte(prefs), &user.Preferences); err != nil {
		return nil, trace.Wrap(err)
	}
	if user.CreatedAt, err = decodeTime(createdAt); err != nil {
		return nil, trace.Wrap(err)
	}
	if user.LastLogin, err = decodeNullTime(lastLogin); err != nil {
		return nil, trace.Wrap(err)
	}
	return &user, nil
}

func encodePreferences(prefs map[string]interface{}) (string, error) {
	if prefs == nil {
		return "{}", nil
	}
	data, err := json.Marshal(prefs)
	if err != nil {
		return "", trace.Wrap(err)
	}
	return string(data), nil
}

// requireRow converts a zero row count into a NotFound error.
func requireRow(res sql.Result, format string, args ...interface{}) error {
	n, err := res.RowsAffected()
	if err != nil {
		return trace.Wrap(err)
	}
	if n == 0 {
		return trace.NotFound(format, args...)
	}
	return nil
}

// isUniqueViolation detects sqlite unique constraint failures without
// depending on driver error types.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
