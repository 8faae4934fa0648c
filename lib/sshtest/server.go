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

// Package sshtest provides an in-process SSH server fixture for tests
// that need a reachable shell target.
package sshtest

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
)

const (
	// User is the login name the fixture accepts.
	User = "test"
	// Password is the password the fixture accepts.
	Password = "s3cret"
)

// Server is a minimal SSH server that accepts password logins, allocates
// shells and echoes every byte written to them.
type Server struct {
	listener net.Listener

	mu         sync.Mutex
	conns      []net.Conn
	lastResize [2]uint32 // cols, rows
}

// NewServer starts a fixture listening on a loopback port. It is shut
// down with the test.
func NewServer(t *testing.T) *Server {
	t.Helper()

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	signer, err := ssh.NewSignerFromKey(priv)
	require.NoError(t, err)

	config := &ssh.ServerConfig{
		PasswordCallback: func(meta ssh.ConnMetadata, password []byte) (*ssh.Permissions, error) {
			if meta.User() == User && string(password) == Password {
				return nil, nil
			}
			return nil, fmt.Errorf("access denied for %q", meta.User())
		},
	}
	config.AddHostKey(signer)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	s := &Server{listener: listener}
	go s.acceptLoop(config)
	t.Cleanup(func() {
		listener.Close()
		s.DropConns()
	})
	return s
}

// Addr returns the host and port the fixture listens on.
func (s *Server) Addr() (string, int) {
	addr := s.listener.Addr().(*net.TCPAddr)
	return addr.IP.String(), addr.Port
}

// DropConns severs every established transport, simulating a network
// failure.
func (s *Server) DropConns() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, conn := range s.conns {
		conn.Close()
	}
	s.conns = nil
}

// LastResize returns the most recent window-change dimensions.
func (s *Server) LastResize() (cols, rows uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastResize[0], s.lastResize[1]
}

func (s *Server) acceptLoop(config *ssh.ServerConfig) {
	for {
		tcpConn, err := s.listener.Accept()
		if err != nil {
			return
		}
		s.mu.Lock()
		s.conns = append(s.conns, tcpConn)
		s.mu.Unlock()

		go s.handleConn(tcpConn, config)
	}
}

func (s *Server) handleConn(tcpConn net.Conn, config *ssh.ServerConfig) {
	serverConn, chans, reqs, err := ssh.NewServerConn(tcpConn, config)
	if err != nil {
		return
	}
	defer serverConn.Close()
	go ssh.DiscardRequests(reqs)

	for newChannel := range chans {
		if newChannel.ChannelType() != "session" {
			newChannel.Reject(ssh.UnknownChannelType, "unsupported channel type")
			continue
		}
		channel, requests, err := newChannel.Accept()
		if err != nil {
			continue
		}
		go s.handleSession(channel, requests)
	}
}

func (s *Server) handleSession(channel ssh.Channel, requests <-chan *ssh.Request) {
	defer channel.Close()

	started := make(chan struct{})
	go func() {
		for req := range requests {
			switch req.Type {
			case "pty-req", "shell":
				if req.Type == "shell" {
					close(started)
				}
				req.Reply(true, nil)
			case "window-change":
				if len(req.Payload) >= 8 {
					cols := binary.BigEndian.Uint32(req.Payload[0:4])
					rows := binary.BigEndian.Uint32(req.Payload[4:8])
					s.mu.Lock()
					s.lastResize = [2]uint32{cols, rows}
					s.mu.Unlock()
				}
				if req.WantReply {
					req.Reply(true, nil)
				}
			default:
				if req.WantReply {
					req.Reply(false, nil)
				}
			}
		}
	}()

	<-started
	// A trivial shell: everything typed comes straight back.
	io.Copy(channel, channel)
}
