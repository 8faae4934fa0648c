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

// Package broker implements the per client session multiplexer: it maps
// client visible session ids to pool connection ids, routes terminal
// traffic and lifecycle events, and brokers assistant queries.
package broker

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	webterm "github.com/zmb3/webterm"
	"github.com/zmb3/webterm/lib/assist"
	"github.com/zmb3/webterm/lib/services"
	"github.com/zmb3/webterm/lib/sshpool"
)

// Config holds one broker instance's dependencies. A broker serves
// exactly one authenticated client channel.
type Config struct {
	// User is the authenticated owner of the channel. Every operation is
	// scoped to it.
	User *services.User
	// Profiles resolves stored connection profiles.
	Profiles services.Profiles
	// Sessions persists durable terminal session records.
	Sessions services.Sessions
	// Queries records assistant exchanges.
	Queries services.AssistQueries
	// Pool is the process wide SSH connection manager.
	Pool *sshpool.Manager
	// Assist is the assistant bridge. Optional; when nil, assistant
	// requests answer with a configuration error.
	Assist *assist.Bridge
	// Clock is used for timestamps.
	Clock clockwork.Clock
	// Log is a component logger.
	Log logrus.FieldLogger
}

// CheckAndSetDefaults validates the values of a *Config.
func (c *Config) CheckAndSetDefaults() error {
	if c.User == nil {
		return trace.BadParameter("user is required")
	}
	if c.Profiles == nil {
		return trace.BadParameter("profile store is required")
	}
	if c.Sessions == nil {
		return trace.BadParameter("session store is required")
	}
	if c.Queries == nil {
		return trace.BadParameter("query store is required")
	}
	if c.Pool == nil {
		return trace.BadParameter("connection pool is required")
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Log == nil {
		c.Log = logrus.WithFields(logrus.Fields{
			trace.Component: webterm.ComponentBroker,
			"user":          c.User.ID,
		})
	}
	return nil
}

// binding ties a client visible session id to a pool connection.
type binding struct {
	conn *sshpool.Connection
}

// Broker routes messages between one client channel and the connection
// pool. It owns the session mapping for its channel; events for
// connections it does not own never reach its client.
type Broker struct {
	Config

	stream Stream

	// mu is held only for map access, never across I/O.
	mu       sync.Mutex
	sessions map[string]*binding
}

// New creates a broker for one authenticated channel.
func New(cfg Config) (*Broker, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Broker{
		Config:   cfg,
		sessions: make(map[string]*binding),
	}, nil
}

// Serve pumps the client channel until it closes, then tears down every
// owned session.
func (b *Broker) Serve(ctx context.Context, stream Stream) error {
	b.stream = stream
	defer b.cleanup()

	for {
		frame, err := stream.Recv()
		if err != nil {
			// The client went away; not an error of ours.
			b.Log.WithError(err).Debug("Client channel closed.")
			return nil
		}
		if err := b.dispatch(ctx, frame); err != nil {
			b.sendError(err)
		}
	}
}

// dispatch routes one inbound frame. Unknown types are a protocol error,
// not silence.
func (b *Broker) dispatch(ctx context.Context, frame *Frame) error {
	switch frame.Type {
	case TypeSSHConnect:
		return b.handleConnect(ctx, frame)
	case TypeSSHDisconnect:
		return b.handleDisconnect(ctx, frame)
	case TypeTerminalInput:
		return b.handleInput(frame)
	case TypeTerminalResize:
		return b.handleResize(frame)
	case TypeTerminalClear:
		// Advisory: the clear happens client side.
		return nil
	case TypeAITranslate, TypeAIQuery, TypeAIExplain:
		return b.handleAssist(ctx, frame)
	case TypeSessionList:
		return b.handleSessionList(ctx)
	default:
		return trace.BadParameter("unknown message type %q", frame.Type)
	}
}

func (b *Broker) handleConnect(ctx context.Context, frame *Frame) error {
	var req ConnectRequest
	if err := frame.Decode(&req); err != nil {
		return trace.Wrap(err)
	}
	if req.SessionID == "" {
		return trace.BadParameter("session id is required")
	}
	if req.ProfileID == "" {
		return trace.BadParameter("profile id is required")
	}

	b.mu.Lock()
	_, bound := b.sessions[req.SessionID]
	b.mu.Unlock()
	if bound {
		return trace.AlreadyExists("session %v is already connected", req.SessionID)
	}

	profile, creds, err := b.Profiles.ResolveCredentials(ctx, b.User.ID, req.ProfileID)
	if err != nil {
		return trace.Wrap(err)
	}

	record := &services.TerminalSession{
		ID:        req.SessionID,
		UserID:    b.User.ID,
		ProfileID: profile.ID,
		Status:    services.StatusConnecting,
		Title:     req.Title,
		CreatedAt: b.Clock.Now(),
	}
	if record.Title == "" {
		record.Title = profile.Name
	}
	if err := b.Sessions.UpsertSession(ctx, record); err != nil {
		return trace.Wrap(err)
	}

	conn, err := b.Pool.CreateConnection(ctx, sshpool.Target{
		Host:        profile.Host,
		Port:        profile.Port,
		Username:    profile.Username,
		Credentials: *creds,
	})
	if err != nil {
		// The connection never registered, so its buffered events are
		// unreachable; report the short lifecycle directly.
		b.send(TypeSSHStatus, StatusPayload{SessionID: req.SessionID, Status: services.StatusConnecting})
		b.send(TypeSSHStatus, StatusPayload{SessionID: req.SessionID, Status: services.StatusError, Error: trace.UserMessage(err)})
		if dbErr := b.Sessions.UpdateSessionStatus(ctx, req.SessionID, services.StatusError); dbErr != nil {
			b.Log.WithError(dbErr).Warn("Failed to record session failure.")
		}
		return nil
	}

	b.mu.Lock()
	b.sessions[req.SessionID] = &binding{conn: conn}
	b.mu.Unlock()

	go b.pump(req.SessionID, conn)
	return nil
}

func (b *Broker) handleDisconnect(ctx context.Context, frame *Frame) error {
	var req DisconnectRequest
	if err := frame.Decode(&req); err != nil {
		return trace.Wrap(err)
	}

	bound, err := b.lookup(req.SessionID)
	if err != nil {
		return trace.Wrap(err)
	}
	return trace.Wrap(b.Pool.CloseConnection(bound.conn.ID()))
}

func (b *Broker) handleInput(frame *Frame) error {
	var req InputPayload
	if err := frame.Decode(&req); err != nil {
		return trace.Wrap(err)
	}

	bound, err := b.lookup(req.SessionID)
	if err != nil {
		return trace.Wrap(err)
	}
	return trace.Wrap(b.Pool.SendInput(bound.conn.ID(), req.Data))
}

func (b *Broker) handleResize(frame *Frame) error {
	var req ResizePayload
	if err := frame.Decode(&req); err != nil {
		return trace.Wrap(err)
	}

	bound, err := b.lookup(req.SessionID)
	if err != nil {
		return trace.Wrap(err)
	}
	return trace.Wrap(b.Pool.ResizeTerminal(bound.conn.ID(), req.Size.Cols, req.Size.Rows))
}

func (b *Broker) handleAssist(ctx context.Context, frame *Frame) error {
	var req AIRequest
	if err := frame.Decode(&req); err != nil {
		return trace.Wrap(err)
	}

	if b.Assist == nil {
		b.send(TypeAIResponse, AIResponsePayload{
			Commands:   []string{},
			Warnings:   []string{"the assistant is not configured on this gateway"},
			Confidence: 0,
			Error:      "assistant unavailable",
		})
		return nil
	}

	var completion *assist.Completion
	var err error
	var prompt string
	switch frame.Type {
	case TypeAIExplain:
		prompt = req.Command
		completion, err = b.Assist.Explain(ctx, req.Command)
	default:
		prompt = req.Prompt
		completion, err = b.Assist.Translate(ctx, req.Prompt, req.Context)
	}
	if err != nil {
		// Assistant failures are answered, never fatal to the channel.
		b.Log.WithError(err).Warn("Assistant request failed.")
		b.send(TypeAIResponse, AIResponsePayload{
			Commands:   []string{},
			Warnings:   []string{"the assistant did not answer: " + trace.UserMessage(err)},
			Confidence: 0,
			Error:      "assistant unavailable",
		})
		return nil
	}

	b.recordQuery(ctx, &req, prompt, completion)
	b.send(TypeAIResponse, AIResponsePayload{
		Commands:    completion.Commands,
		Explanation: completion.Explanation,
		Warnings:    completion.Warnings,
		Confidence:  completion.Confidence,
	})
	return nil
}

func (b *Broker) recordQuery(ctx context.Context, req *AIRequest, prompt string, completion *assist.Completion) {
	query := &services.AssistQuery{
		ID:          uuid.NewString(),
		UserID:      b.User.ID,
		Prompt:      prompt,
		Response:    completion.Raw,
		Commands:    completion.Commands,
		Explanation: completion.Explanation,
		Warnings:    completion.Warnings,
		Confidence:  completion.Confidence,
		CreatedAt:   b.Clock.Now(),
	}
	if req.SessionID != "" {
		query.SessionID = &req.SessionID
	}
	if err := b.Queries.RecordQuery(ctx, query); err != nil {
		b.Log.WithError(err).Warn("Failed to record assistant query.")
	}
}

func (b *Broker) handleSessionList(ctx context.Context) error {
	sessions, err := b.Sessions.ListActiveSessions(ctx, b.User.ID)
	if err != nil {
		return trace.Wrap(err)
	}
	if sessions == nil {
		sessions = []services.TerminalSession{}
	}
	b.send(TypeSessionList, SessionListPayload{Sessions: sessions})
	return nil
}

// pump forwards one connection's events to the client and mirrors status
// transitions into the durable record. It exits when the connection is
// gone, unbinding the session.
func (b *Broker) pump(sessionID string, conn *sshpool.Connection) {
	defer b.unbind(sessionID)

	for {
		select {
		case event := <-conn.Data():
			b.send(TypeTerminalOutput, OutputPayload{SessionID: sessionID, Data: event.Data})
		case event := <-conn.Status():
			b.forwardStatus(sessionID, event)
		case <-conn.Done():
			b.drain(sessionID, conn)
			return
		}
	}
}

// drain forwards events that were buffered before the connection closed,
// the final disconnected transition included.
func (b *Broker) drain(sessionID string, conn *sshpool.Connection) {
	for {
		select {
		case event := <-conn.Data():
			b.send(TypeTerminalOutput, OutputPayload{SessionID: sessionID, Data: event.Data})
		case event := <-conn.Status():
			b.forwardStatus(sessionID, event)
		default:
			return
		}
	}
}

func (b *Broker) forwardStatus(sessionID string, event sshpool.StatusEvent) {
	if err := b.Sessions.UpdateSessionStatus(context.Background(), sessionID, event.Status); err != nil {
		b.Log.WithError(err).Warn("Failed to record session status.")
	}
	b.send(TypeSSHStatus, StatusPayload{
		SessionID: sessionID,
		Status:    event.Status,
		Error:     event.Message,
	})
}

func (b *Broker) lookup(sessionID string) (*binding, error) {
	if sessionID == "" {
		return nil, trace.BadParameter("session id is required")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	bound, ok := b.sessions[sessionID]
	if !ok {
		return nil, trace.NotFound("session %v is not connected", sessionID)
	}
	return bound, nil
}

func (b *Broker) unbind(sessionID string) {
	b.mu.Lock()
	delete(b.sessions, sessionID)
	b.mu.Unlock()
}

// cleanup closes every owned connection when the client channel goes
// away. Durable records keep whatever status the pool last reported.
func (b *Broker) cleanup() {
	b.mu.Lock()
	conns := make([]*sshpool.Connection, 0, len(b.sessions))
	for _, bound := range b.sessions {
		conns = append(conns, bound.conn)
	}
	b.sessions = make(map[string]*binding)
	b.mu.Unlock()

	for _, conn := range conns {
		if err := b.Pool.CloseConnection(conn.ID()); err != nil {
			b.Log.WithError(err).Warn("Failed to close connection.")
		}
	}
}

func (b *Broker) send(frameType string, payload interface{}) {
	frame, err := NewFrame(frameType, payload)
	if err != nil {
		b.Log.WithError(err).Warn("Failed to encode frame.")
		return
	}
	if err := b.stream.Send(frame); err != nil {
		b.Log.WithError(err).Debug("Failed to send frame.")
	}
}

func (b *Broker) sendError(err error) {
	b.send(TypeError, ErrorPayload{Message: trace.UserMessage(err)})
}
