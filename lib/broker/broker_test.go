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

package broker

import (
	"bytes"
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/zmb3/webterm/lib/assist"
	"github.com/zmb3/webterm/lib/secret"
	"github.com/zmb3/webterm/lib/services"
	"github.com/zmb3/webterm/lib/services/local"
	"github.com/zmb3/webterm/lib/sshpool"
	"github.com/zmb3/webterm/lib/sshtest"
)

// fakeStream is an in-memory Stream for driving a broker in tests.
type fakeStream struct {
	in     chan *Frame
	out    chan *Frame
	inOnce sync.Once
}

func newFakeStream() *fakeStream {
	return &fakeStream{
		in:  make(chan *Frame, 64),
		out: make(chan *Frame, 1024),
	}
}

func (s *fakeStream) Recv() (*Frame, error) {
	frame, ok := <-s.in
	if !ok {
		return nil, io.EOF
	}
	return frame, nil
}

func (s *fakeStream) Send(frame *Frame) error {
	s.out <- frame
	return nil
}

func (s *fakeStream) Close() error {
	return nil
}

// closeInput ends the inbound side, making Recv return EOF.
func (s *fakeStream) closeInput() {
	s.inOnce.Do(func() { close(s.in) })
}

// push sends an inbound frame, building the payload.
func (s *fakeStream) push(t *testing.T, frameType string, payload interface{}) {
	t.Helper()
	frame, err := NewFrame(frameType, payload)
	require.NoError(t, err)
	s.in <- frame
}

// next returns the next outbound frame, failing on timeout.
func (s *fakeStream) next(t *testing.T) *Frame {
	t.Helper()
	select {
	case frame := <-s.out:
		return frame
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for an outbound frame")
		return nil
	}
}

// nextOfType skips outbound frames until one of the wanted type arrives.
func (s *fakeStream) nextOfType(t *testing.T, frameType string) *Frame {
	t.Helper()
	for {
		frame := s.next(t)
		if frame.Type == frameType {
			return frame
		}
	}
}

type testEnv struct {
	storage *local.Storage
	pool    *sshpool.Manager
	user    *services.User
	profile *services.Profile
	stream  *fakeStream
	broker  *Broker
	done    chan struct{}
}

func newTestEnv(t *testing.T, fixture *sshtest.Server, bridge *assist.Bridge) *testEnv {
	t.Helper()
	ctx := context.Background()

	vault, err := secret.New(secret.Config{Key: "test-key"})
	require.NoError(t, err)
	storage, err := local.New(local.Config{Path: ":memory:", Vault: vault})
	require.NoError(t, err)
	t.Cleanup(func() { storage.Close() })

	user := &services.User{
		ID:           uuid.NewString(),
		Email:        "a@b.co",
		Name:         "A",
		PasswordHash: "$2a$12$not-a-real-hash",
		CreatedAt:    time.Now(),
	}
	require.NoError(t, storage.CreateUser(ctx, user))

	host, port := fixture.Addr()
	profile, err := storage.CreateProfile(ctx, &services.Profile{
		ID:         uuid.NewString(),
		UserID:     user.ID,
		Name:       "fixture",
		Host:       host,
		Port:       port,
		Username:   sshtest.User,
		AuthMethod: services.AuthMethodPassword,
	}, &services.Credentials{Password: sshtest.Password})
	require.NoError(t, err)

	pool, err := sshpool.NewManager(sshpool.Config{
		DialTimeout:    5 * time.Second,
		ReconnectDelay: 50 * time.Millisecond,
	})
	require.NoError(t, err)

	b, err := New(Config{
		User:     user,
		Profiles: storage,
		Sessions: storage,
		Queries:  storage,
		Pool:     pool,
		Assist:   bridge,
	})
	require.NoError(t, err)

	stream := newFakeStream()
	done := make(chan struct{})
	go func() {
		defer close(done)
		b.Serve(ctx, stream)
	}()
	t.Cleanup(func() {
		stream.closeInput()
		<-done
	})

	return &testEnv{
		storage: storage,
		pool:    pool,
		user:    user,
		profile: profile,
		stream:  stream,
		broker:  b,
		done:    done,
	}
}

// connect opens a session and waits for the connected transition.
func (e *testEnv) connect(t *testing.T, sessionID string) {
	t.Helper()
	e.stream.push(t, TypeSSHConnect, ConnectRequest{SessionID: sessionID, ProfileID: e.profile.ID})

	var statuses []services.SessionStatus
	for {
		frame := e.stream.nextOfType(t, TypeSSHStatus)
		var status StatusPayload
		require.NoError(t, frame.Decode(&status))
		require.Equal(t, sessionID, status.SessionID)
		statuses = append(statuses, status.Status)
		if status.Status == services.StatusConnected {
			break
		}
		require.NotEqual(t, services.StatusError, status.Status, "unexpected error status: %v", status.Error)
	}
	require.Equal(t, services.SessionStatus("connecting"), statuses[0])
}

func TestConnectLifecycle(t *testing.T) {
	t.Parallel()

	fixture := sshtest.NewServer(t)
	env := newTestEnv(t, fixture, nil)
	env.connect(t, "S1")

	// The durable record tracks the transition.
	sessions, err := env.storage.ListActiveSessions(context.Background(), env.user.ID)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	require.Equal(t, "S1", sessions[0].ID)
	require.Equal(t, services.StatusConnected, sessions[0].Status)
	require.Equal(t, 1, env.pool.Len())
}

func TestTerminalEcho(t *testing.T) {
	t.Parallel()

	fixture := sshtest.NewServer(t)
	env := newTestEnv(t, fixture, nil)
	env.connect(t, "S1")

	env.stream.push(t, TypeTerminalInput, InputPayload{SessionID: "S1", Data: []byte("echo hi\n")})

	var output bytes.Buffer
	for !bytes.Contains(output.Bytes(), []byte("hi")) {
		frame := env.stream.nextOfType(t, TypeTerminalOutput)
		var payload OutputPayload
		require.NoError(t, frame.Decode(&payload))
		require.Equal(t, "S1", payload.SessionID)
		output.Write(payload.Data)
	}
}

func TestCrossSessionIsolation(t *testing.T) {
	t.Parallel()

	fixture := sshtest.NewServer(t)
	env := newTestEnv(t, fixture, nil)
	env.connect(t, "S1")
	env.connect(t, "S2")

	env.stream.push(t, TypeTerminalInput, InputPayload{SessionID: "S1", Data: []byte("only-for-s1\n")})

	// All output produced by the S1 input is attributed to S1.
	var output bytes.Buffer
	for !bytes.Contains(output.Bytes(), []byte("only-for-s1")) {
		frame := env.stream.nextOfType(t, TypeTerminalOutput)
		var payload OutputPayload
		require.NoError(t, frame.Decode(&payload))
		require.Equal(t, "S1", payload.SessionID)
		output.Write(payload.Data)
	}
}

func TestDisconnect(t *testing.T) {
	t.Parallel()

	fixture := sshtest.NewServer(t)
	env := newTestEnv(t, fixture, nil)
	env.connect(t, "S1")

	env.stream.push(t, TypeSSHDisconnect, DisconnectRequest{SessionID: "S1"})

	frame := env.stream.nextOfType(t, TypeSSHStatus)
	var status StatusPayload
	require.NoError(t, frame.Decode(&status))
	require.Equal(t, services.StatusDisconnected, status.Status)
	require.Equal(t, 0, env.pool.Len())

	require.Eventually(t, func() bool {
		sessions, err := env.storage.ListActiveSessions(context.Background(), env.user.ID)
		return err == nil && len(sessions) == 0
	}, 5*time.Second, 10*time.Millisecond)
}

func TestInputToUnknownSession(t *testing.T) {
	t.Parallel()

	fixture := sshtest.NewServer(t)
	env := newTestEnv(t, fixture, nil)

	env.stream.push(t, TypeTerminalInput, InputPayload{SessionID: "ghost", Data: []byte("x")})

	frame := env.stream.nextOfType(t, TypeError)
	var payload ErrorPayload
	require.NoError(t, frame.Decode(&payload))
	require.Contains(t, payload.Message, "not connected")
}

func TestUnknownMessageType(t *testing.T) {
	t.Parallel()

	fixture := sshtest.NewServer(t)
	env := newTestEnv(t, fixture, nil)

	env.stream.push(t, "bogus:type", map[string]string{"x": "y"})

	frame := env.stream.nextOfType(t, TypeError)
	var payload ErrorPayload
	require.NoError(t, frame.Decode(&payload))
	require.Contains(t, payload.Message, "unknown message type")
}

func TestConnectUnknownProfile(t *testing.T) {
	t.Parallel()

	fixture := sshtest.NewServer(t)
	env := newTestEnv(t, fixture, nil)

	env.stream.push(t, TypeSSHConnect, ConnectRequest{SessionID: "S1", ProfileID: uuid.NewString()})

	frame := env.stream.nextOfType(t, TypeError)
	var payload ErrorPayload
	require.NoError(t, frame.Decode(&payload))
	require.Contains(t, payload.Message, "not found")
}

func TestSessionList(t *testing.T) {
	t.Parallel()

	fixture := sshtest.NewServer(t)
	env := newTestEnv(t, fixture, nil)

	env.stream.push(t, TypeSessionList, nil)
	frame := env.stream.nextOfType(t, TypeSessionList)
	var listing SessionListPayload
	require.NoError(t, frame.Decode(&listing))
	require.Empty(t, listing.Sessions)

	env.connect(t, "S1")

	env.stream.push(t, TypeSessionList, nil)
	frame = env.stream.nextOfType(t, TypeSessionList)
	require.NoError(t, frame.Decode(&listing))
	require.Len(t, listing.Sessions, 1)
	require.Equal(t, "S1", listing.Sessions[0].ID)
}

// cannedProvider answers every assistant call with the same payload.
type cannedProvider struct {
	answer string
}

func (p *cannedProvider) Complete(ctx context.Context, system, prompt string) (string, error) {
	return p.answer, nil
}

func (p *cannedProvider) Name() string { return "canned" }

func TestAssistTranslate(t *testing.T) {
	t.Parallel()

	bridge, err := assist.New(assist.Config{
		Provider: &cannedProvider{answer: `{"commands":["ls -la"],"explanation":"lists files","confidence":0.9}`},
	})
	require.NoError(t, err)

	fixture := sshtest.NewServer(t)
	env := newTestEnv(t, fixture, bridge)

	env.stream.push(t, TypeAITranslate, AIRequest{Prompt: "list files"})

	frame := env.stream.nextOfType(t, TypeAIResponse)
	var payload AIResponsePayload
	require.NoError(t, frame.Decode(&payload))
	require.Equal(t, []string{"ls -la"}, payload.Commands)
	require.Equal(t, 0.9, payload.Confidence)
	require.Empty(t, payload.Error)

	// The exchange is recorded for auditing.
	require.Eventually(t, func() bool {
		queries, err := env.storage.ListQueries(context.Background(), env.user.ID, 10)
		return err == nil && len(queries) == 1 && queries[0].Prompt == "list files"
	}, 5*time.Second, 10*time.Millisecond)
}

func TestAssistUnconfigured(t *testing.T) {
	t.Parallel()

	fixture := sshtest.NewServer(t)
	env := newTestEnv(t, fixture, nil)

	env.stream.push(t, TypeAIQuery, AIRequest{Prompt: "anything"})

	frame := env.stream.nextOfType(t, TypeAIResponse)
	var payload AIResponsePayload
	require.NoError(t, frame.Decode(&payload))
	require.Empty(t, payload.Commands)
	require.Equal(t, float64(0), payload.Confidence)
	require.NotEmpty(t, payload.Error)
}

func TestCleanupOnChannelClose(t *testing.T) {
	t.Parallel()

	fixture := sshtest.NewServer(t)
	env := newTestEnv(t, fixture, nil)
	env.connect(t, "S1")
	env.connect(t, "S2")
	require.Equal(t, 2, env.pool.Len())

	env.stream.closeInput()
	<-env.done

	require.Equal(t, 0, env.pool.Len())
}
