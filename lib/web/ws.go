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

package web

import (
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/gravitational/trace"
	"github.com/julienschmidt/httprouter"

	"github.com/zmb3/webterm/lib/broker"
	"github.com/zmb3/webterm/lib/httplib"
)

// handleWebsocket upgrades the stream channel. The bearer token is
// presented at handshake; a failed check closes the channel before any
// frame flows.
func (h *Handler) handleWebsocket(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	user, err := h.Auth.VerifyToken(r.Context(), httplib.BearerToken(r))
	if err != nil {
		httplib.Error(w, trace.AccessDenied("unauthorized"))
		return
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			// The bearer token is the admission gate; the configured
			// origin additionally constrains browsers.
			origin := r.Header.Get("Origin")
			return h.CORSOrigin == "" || h.CORSOrigin == "*" || origin == h.CORSOrigin || origin == ""
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.Log.WithError(err).Debug("Websocket upgrade failed.")
		return
	}

	stream := broker.NewWebsocketStream(conn)
	defer stream.Close()

	b, err := broker.New(broker.Config{
		User:     user,
		Profiles: h.Profiles,
		Sessions: h.Sessions,
		Queries:  h.Queries,
		Pool:     h.Pool,
		Assist:   h.Assist,
		Clock:    h.Clock,
	})
	if err != nil {
		h.Log.WithError(err).Warn("Failed to create a session broker.")
		return
	}

	h.Log.WithField("user", user.ID).Info("Stream channel opened.")
	if err := b.Serve(r.Context(), stream); err != nil {
		h.Log.WithError(err).Warn("Stream channel failed.")
	}
	h.Log.WithField("user", user.ID).Info("Stream channel closed.")
}
