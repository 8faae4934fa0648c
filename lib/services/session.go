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

// SessionStatus is the lifecycle state of a terminal session and of the
// SSH connection backing it.
type SessionStatus string

const (
	// StatusDisconnected means no transport is attached.
	StatusDisconnected SessionStatus = "disconnected"
	// StatusConnecting means the SSH dial and shell setup are in flight.
	StatusConnecting SessionStatus = "connecting"
	// StatusConnected means a live shell is attached.
	StatusConnected SessionStatus = "connected"
	// StatusReconnecting means the transport dropped and an automatic
	// reattach is pending or in flight.
	StatusReconnecting SessionStatus = "reconnecting"
	// StatusError means the last transition failed.
	StatusError SessionStatus = "error"
)

// Check validates the status value.
func (s SessionStatus) Check() error {
	switch s {
	case StatusDisconnected, StatusConnecting, StatusConnected, StatusReconnecting, StatusError:
		return nil
	}
	return trace.BadParameter("unknown session status %q", s)
}

// TerminalSession is the durable record of a client visible terminal tab.
// It is retained after disconnect for history listing.
type TerminalSession struct {
	// ID is supplied by the client when the session is created and is
	// unique for the lifetime of the process.
	ID string `json:"id"`
	// UserID is the owning user.
	UserID string `json:"userId"`
	// ProfileID references the profile the session dialed through.
	ProfileID string `json:"profileId"`
	// Status is the last reported lifecycle state.
	Status SessionStatus `json:"status"`
	// Title is an optional client supplied label.
	Title string `json:"title,omitempty"`
	// CreatedAt is when the session record was created.
	CreatedAt time.Time `json:"createdAt"`
	// LastActivity is set when the record is created, on every status
	// change and by TouchSession. Terminal traffic does not update it.
	LastActivity time.Time `json:"lastActivity"`
}

// Check validates the session record.
func (s *TerminalSession) Check() error {
	if s.ID == "" {
		return trace.BadParameter("session id is missing")
	}
	if s.UserID == "" {
		return trace.BadParameter("user id is missing")
	}
	if s.ProfileID == "" {
		return trace.BadParameter("profile id is missing")
	}
	return trace.Wrap(s.Status.Check())
}
