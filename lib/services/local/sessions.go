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
	"errors"

	"github.com/gravitational/trace"

	"github.com/zmb3/webterm/lib/services"
)

// UpsertSession inserts or replaces a terminal session record.
func (s *Storage) UpsertSession(ctx context.Context, session *services.TerminalSession) error {
	if err := session.Check(); err != nil {
		return trace.Wrap(err)
	}

	stored := *session
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = s.Clock.Now()
	}
	if stored.LastActivity.IsZero() {
		stored.LastActivity = stored.CreatedAt
	}

	return s.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO terminal_sessions (id, user_id, profile_id, status, title, created_at, last_activity)
			 VALUES (?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT (id) DO UPDATE SET
				profile_id = excluded.profile_id,
				status = excluded.status,
				title = excluded.title,
				last_activity = excluded.last_activity`,
			stored.ID, stored.UserID, stored.ProfileID, string(stored.Status),
			stored.Title, encodeTime(stored.CreatedAt), encodeTime(stored.LastActivity))
		return trace.Wrap(err)
	})
}

// UpdateSessionStatus records a lifecycle transition.
func (s *Storage) UpdateSessionStatus(ctx context.Context, id string, status services.SessionStatus) error {
	if err := status.Check(); err != nil {
		return trace.Wrap(err)
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE terminal_sessions SET status = ?, last_activity = ? WHERE id = ?`,
			string(status), encodeTime(s.Clock.Now()), id)
		if err != nil {
			return trace.Wrap(err)
		}
		return requireRow(res, "session %v not found", id)
	})
}

// TouchSession bumps the session's last-activity timestamp.
func (s *Storage) TouchSession(ctx context.Context, id string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE terminal_sessions SET last_activity = ? WHERE id = ?`,
			encodeTime(s.Clock.Now()), id)
		if err != nil {
			return trace.Wrap(err)
		}
		return requireRow(res, "session %v not found", id)
	})
}

// GetSession fetches one session record.
func (s *Storage) GetSession(ctx context.Context, id string) (*services.TerminalSession, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, profile_id, status, title, created_at, last_activity
		 FROM terminal_sessions WHERE id = ?`, id)
	session, err := scanSession(row)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return session, nil
}

// ListActiveSessions returns the user's sessions whose status is not
// disconnected, most recently active first.
func (s *Storage) ListActiveSessions(ctx context.Context, userID string) ([]services.TerminalSession, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, profile_id, status, title, created_at, last_activity
		 FROM terminal_sessions
		 WHERE user_id = ? AND status != ?
		 ORDER BY last_activity DESC`, userID, string(services.StatusDisconnected))
	if err != nil {
		return nil, trace.Wrap(err)
	}
	defer rows.Close()

	var out []services.TerminalSession
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		out = append(out, *session)
	}
	return out, trace.Wrap(rows.Err())
}

func scanSession(row rowScanner) (*services.TerminalSession, error) {
	var session services.TerminalSession
	var status, createdAt, lastActivity string

	err := row.Scan(&session.ID, &session.UserID, &session.ProfileID, &status,
		&session.Title, &createdAt, &lastActivity)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, trace.NotFound("session not found")
		}
		return nil, trace.Wrap(err)
	}

	session.Status = services.SessionStatus(status)
	if session.CreatedAt, err = decodeTime(createdAt); err != nil {
		return nil, trace.Wrap(err)
	}
	if session.LastActivity, err = decodeTime(lastActivity); err != nil {
		return nil, trace.Wrap(err)
	}
	return &session, nil
}
