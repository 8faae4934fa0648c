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
)

// AssistQuery is the audit record of one assistant exchange. Records are
// persisted verbatim and never replayed.
type AssistQuery struct {
	// ID is an opaque unique identifier.
	ID string `json:"id"`
	// UserID is the owning user.
	UserID string `json:"userId"`
	// SessionID optionally references the terminal session the query was
	// asked from. It is nulled when the session is deleted.
	SessionID *string `json:"sessionId,omitempty"`
	// Prompt is the natural language input.
	Prompt string `json:"prompt"`
	// Response is the raw provider answer.
	Response string `json:"response"`
	// Commands are the extracted shell commands.
	Commands []string `json:"commands"`
	// Explanation is the provider's description of the commands.
	Explanation string `json:"explanation"`
	// Warnings carry operator warnings, including dangerous command flags.
	Warnings []string `json:"warnings"`
	// Confidence is the provider confidence in [0, 1].
	Confidence float64 `json:"confidence"`
	// CreatedAt is when the exchange happened.
	CreatedAt time.Time `json:"createdAt"`
}

// Check validates the query record.
func (q *AssistQuery) Check() error {
	if q.ID == "" {
		return trace.BadParameter("query id is missing")
	}
	if q.UserID == "" {
		return trace.BadParameter("user id is missing")
	}
	if q.Prompt == "" {
		return trace.BadParameter("prompt is missing")
	}
	if q.Confidence < 0 || q.Confidence > 1 {
		return trace.BadParameter("confidence must be within [0, 1]")
	}
	return nil
}
