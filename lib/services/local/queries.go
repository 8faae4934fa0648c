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

	"github.com/gravitational/trace"

	"github.com/zmb3/webterm/lib/services"
)

// RecordQuery persists one assistant exchange for auditing.
func (s *Storage) RecordQuery(ctx context.Context, query *services.AssistQuery) error {
	if err := query.Check(); err != nil {
		return trace.Wrap(err)
	}

	commands, err := encodeStrings(query.Commands)
	if err != nil {
		return trace.Wrap(err)
	}
	warnings, err := encodeStrings(query.Warnings)
	if err != nil {
		return trace.Wrap(err)
	}

	createdAt := query.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.Clock.Now()
	}

	var sessionID sql.NullString
	if query.SessionID != nil {
		sessionID = sql.NullString{String: *query.SessionID, Valid: true}
	}

	return s.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO ai_queries (id, user_id, session_id, prompt, response, commands, explanation, warnings, confidence, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			query.ID, query.UserID, sessionID, query.Prompt, query.Response,
			commands, query.Explanation, warnings, query.Confidence, encodeTime(createdAt))
		return trace.Wrap(err)
	})
}

// ListQueries returns the user's most recent exchanges, newest first.
func (s *Storage) ListQueries(ctx context.Context, userID string, limit int) ([]services.AssistQuery, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, session_id, prompt, response, commands, explanation, warnings, confidence, created_at
		 FROM ai_queries WHERE user_id = ?
		 ORDER BY created_at DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	defer rows.Close()

	var out []services.AssistQuery
	for rows.Next() {
		var q services.AssistQuery
		var sessionID sql.NullString
		var commands, warnings, createdAt string

		err := rows.Scan(&q.ID, &q.UserID, &sessionID, &q.Prompt, &q.Response,
			&commands, &q.Explanation, &warnings, &q.Confidence, &createdAt)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		if sessionID.Valid {
			q.SessionID = &sessionID.String
		}
		if err := json.Unmarshal([]byte(commands), &q.Commands); err != nil {
			return nil, trace.Wrap(err)
		}
		if err := json.Unmarshal([]byte(warnings), &q.Warnings); err != nil {
			return nil, trace.Wrap(err)
		}
		if q.CreatedAt, err = decodeTime(createdAt); err != nil {
			return nil, trace.Wrap(err)
		}
		out = append(out, q)
	}
	return out, trace.Wrap(rows.Err())
}

func encodeStrings(v []string) (string, error) {
	if v == nil {
		v = []string{}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", trace.Wrap(err)
	}
	return string(data), nil
}
