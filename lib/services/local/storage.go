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

// Package local implements the durable stores on top of an embedded
// sqlite database.
package local

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"

	webterm "github.com/zmb3/webterm"
	"github.com/zmb3/webterm/lib/secret"
)

// Config describes how to open the storage.
type Config struct {
	// Path is the sqlite database path. The special value ":memory:"
	// opens a private in-memory database.
	Path string
	// Vault seals and opens profile credentials.
	Vault *secret.Vault
	// Clock is used for created-at and activity timestamps.
	Clock clockwork.Clock
	// Log is a component logger.
	Log logrus.FieldLogger
}

// CheckAndSetDefaults validates the values of a *Config.
func (c *Config) CheckAndSetDefaults() error {
	if c.Path == "" {
		return trace.BadParameter("database path is required")
	}
	if c.Vault == nil {
		return trace.BadParameter("credential vault is required")
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Log == nil {
		c.Log = logrus.WithField(trace.Component, webterm.ComponentStorage)
	}
	return nil
}

// Storage is the sqlite backed implementation of the durable stores. It
// satisfies services.Identity, services.Profiles, services.Sessions and
// services.AssistQueries.
type Storage struct {
	Config
	db *sql.DB
}

// New opens the database and applies the schema.
func New(cfg Config) (*Storage, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}

	dsn := fmt.Sprintf("file:%s?_foreign_keys=on&_busy_timeout=5000", cfg.Path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	// sqlite allows a single writer; a single pooled connection avoids
	// SQLITE_BUSY churn and keeps in-memory databases on one handle.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, trace.Wrap(err, "applying schema")
	}

	return &Storage{Config: cfg, db: db}, nil
}

// Close releases the database handle.
func (s *Storage) Close() error {
	return trace.Wrap(s.db.Close())
}

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id            TEXT PRIMARY KEY,
	email         TEXT NOT NULL UNIQUE,
	name          TEXT NOT NULL,
	password_hash TEXT NOT NULL,
	preferences   TEXT NOT NULL DEFAULT '{}',
	created_at    TEXT NOT NULL,
	last_login    TEXT
);

CREATE TABLE IF NOT EXISTS ssh_profiles (
	id                    TEXT PRIMARY KEY,
	user_id               TEXT NOT NULL REFERENCES users (id) ON DELETE CASCADE,
	name                  TEXT NOT NULL,
	host                  TEXT NOT NULL,
	port                  INTEGER NOT NULL,
	username              TEXT NOT NULL,
	auth_method           TEXT NOT NULL,
	encrypted_credentials TEXT NOT NULL,
	created_at            TEXT NOT NULL,
	last_used             TEXT,
	active                INTEGER NOT NULL DEFAULT 1
);
CREATE INDEX IF NOT EXISTS ssh_profiles_user_id ON ssh_profiles (user_id);

CREATE TABLE IF NOT EXISTS terminal_sessions (
	id            TEXT PRIMARY KEY,
	user_id       TEXT NOT NULL REFERENCES users (id) ON DELETE CASCADE,
	profile_id    TEXT NOT NULL REFERENCES ssh_profiles (id) ON DELETE CASCADE,
	status        TEXT NOT NULL,
	title         TEXT NOT NULL DEFAULT '',
	created_at    TEXT NOT NULL,
	last_activity TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS terminal_sessions_user_id ON terminal_sessions (user_id);

CREATE TABLE IF NOT EXISTS ai_queries (
	id          TEXT PRIMARY KEY,
	user_id     TEXT NOT NULL REFERENCES users (id) ON DELETE CASCADE,
	session_id  TEXT REFERENCES terminal_sessions (id) ON DELETE SET NULL,
	prompt      TEXT NOT NULL,
	response    TEXT NOT NULL,
	commands    TEXT NOT NULL DEFAULT '[]',
	explanation TEXT NOT NULL DEFAULT '',
	warnings    TEXT NOT NULL DEFAULT '[]',
	confidence  REAL NOT NULL DEFAULT 0,
	created_at  TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS ai_queries_user_id ON ai_queries (user_id);
`

// inTx runs fn inside a transaction, rolling back on error.
func (s *Storage) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return trace.Wrap(err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.Log.WithError(rbErr).Warn("Transaction rollback failed.")
		}
		return trace.Wrap(err)
	}
	return trace.Wrap(tx.Commit())
}

// encodeTime stores timestamps as RFC 3339 with nanoseconds so that
// lexicographic and chronological order agree.
func encodeTime(t time.Time) string {
	// Fixed nine-digit fraction: RFC3339Nano drops trailing zeros, which
	// would make the strings vary in width and sort out of order.
	return t.UTC().Format("2006-01-02T15:04:05.000000000Z07:00")
}

func decodeTime(v string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}, trace.Wrap(err)
	}
	return t, nil
}

func encodeNullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: encodeTime(*t), Valid: true}
}

func decodeNullTime(v sql.NullString) (*time.Time, error) {
	if !v.Valid {
		return nil, nil
	}
	t, err := decodeTime(v.String)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return &t, nil
}
