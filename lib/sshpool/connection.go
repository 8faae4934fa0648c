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

package sshpool

import (
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/gravitational/trace"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/ssh"

	webterm "github.com/zmb3/webterm"
	"github.com/zmb3/webterm/lib/services"
)

// Target describes where and how to dial.
type Target struct {
	// Host is a DNS name or IPv4 literal.
	Host string
	// Port is the SSH port.
	Port int
	// Username is the remote login name.
	Username string
	// Credentials is the decrypted snapshot. It is retained for the
	// lifetime of the connection to allow transparent reconnects and is
	// scrubbed on close.
	Credentials services.Credentials
}

// Addr returns the dial address.
func (t *Target) Addr() string {
	return net.JoinHostPort(t.Host, strconv.Itoa(t.Port))
}

// authMethods converts the credential snapshot into SSH auth methods.
func (t *Target) authMethods() ([]ssh.AuthMethod, error) {
	switch {
	case t.Credentials.Password != "":
		return []ssh.AuthMethod{ssh.Password(t.Credentials.Password)}, nil
	case t.Credentials.PrivateKey != "":
		var signer ssh.Signer
		var err error
		if t.Credentials.Passphrase != "" {
			signer, err = ssh.ParsePrivateKeyWithPassphrase([]byte(t.Credentials.PrivateKey), []byte(t.Credentials.Passphrase))
		} else {
			signer, err = ssh.ParsePrivateKey([]byte(t.Credentials.PrivateKey))
		}
		if err != nil {
			return nil, trace.BadParameter("failed to parse private key: %v", err)
		}
		return []ssh.AuthMethod{ssh.PublicKeys(signer)}, nil
	}
	return nil, trace.BadParameter("credential snapshot holds no usable secret")
}

// DataEvent carries a chunk of shell output.
type DataEvent struct {
	// ConnectionID identifies the source connection.
	ConnectionID string
	// Data is the raw byte chunk, in shell order.
	Data []byte
}

// StatusEvent carries a lifecycle transition.
type StatusEvent struct {
	// ConnectionID identifies the source connection.
	ConnectionID string
	// Status is the new state.
	Status services.SessionStatus
	// Message optionally describes an error transition.
	Message string
}

// transport bundles the live SSH client with its shell session.
type transport struct {
	client  *ssh.Client
	session *ssh.Session
	stdin   io.WriteCloser
	stdout  io.Reader
	stderr  io.Reader
}

// Connection is one live SSH shell. It is owned by the Manager and never
// persisted.
type Connection struct {
	id      string
	manager *Manager
	log     logrus.FieldLogger
	target  Target

	// mu guards the fields below.
	mu           sync.Mutex
	tr           *transport
	status       services.SessionStatus
	cols, rows   int
	lastActivity time.Time

	// writeMu serializes shell stdin writes so a single send is never
	// interleaved with another.
	writeMu sync.Mutex

	dataC   chan DataEvent
	statusC chan StatusEvent

	closed    chan struct{}
	closeOnce sync.Once
}

// ID returns the connection identifier.
func (c *Connection) ID() string {
	return c.id
}

// Data returns the shell output event stream.
func (c *Connection) Data() <-chan DataEvent {
	return c.dataC
}

// Status returns the lifecycle event stream.
func (c *Connection) Status() <-chan StatusEvent {
	return c.statusC
}

// Done is closed when the connection is torn down.
func (c *Connection) Done() <-chan struct{} {
	return c.closed
}

// CurrentStatus returns the connection state.
func (c *Connection) CurrentStatus() services.SessionStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// LastActivity returns the time of the last byte of terminal traffic.
func (c *Connection) LastActivity() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastActivity
}

func (c *Connection) setStatus(status services.SessionStatus, message string) {
	c.mu.Lock()
	c.status = status
	c.mu.Unlock()
	c.emitStatus(status, message)
}

// emitStatus delivers a transition in order. Delivery blocks on a slow
// consumer but gives up once the connection is closed.
func (c *Connection) emitStatus(status services.SessionStatus, message string) {
	event := StatusEvent{ConnectionID: c.id, Status: status, Message: message}
	select {
	case c.statusC <- event:
	case <-c.closed:
	}
}

func (c *Connection) emitData(data []byte) {
	event := DataEvent{ConnectionID: c.id, Data: data}
	select {
	case c.dataC <- event:
		c.touch()
	case <-c.closed:
	}
}

func (c *Connection) touch() {
	c.mu.Lock()
	c.lastActivity = c.manager.Clock.Now()
	c.mu.Unlock()
}

// dial establishes the transport and shell using the stored target and
// dimensions. It does not mutate connection state.
func (c *Connection) dial() (*transport, error) {
	methods, err := c.target.authMethods()
	if err != nil {
		return nil, trace.Wrap(err)
	}

	config := &ssh.ClientConfig{
		User:            c.target.Username,
		Auth:            methods,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         c.manager.DialTimeout,
	}
	client, err := ssh.Dial("tcp", c.target.Addr(), config)
	if err != nil {
		return nil, trace.ConnectionProblem(err, "failed to dial %v", c.target.Addr())
	}

	session, err := client.NewSession()
	if err != nil {
		client.Close()
		return nil, trace.ConnectionProblem(err, "failed to open a session on %v", c.target.Addr())
	}

	c.mu.Lock()
	cols, rows := c.cols, c.rows
	c.mu.Unlock()

	modes := ssh.TerminalModes{
		ssh.ECHO:          1,
		ssh.TTY_OP_ISPEED: 14400,
		ssh.TTY_OP_OSPEED: 14400,
	}
	if err := session.RequestPty(webterm.TerminalType, rows, cols, modes); err != nil {
		session.Close()
		client.Close()
		return nil, trace.ConnectionProblem(err, "failed to allocate a pty")
	}

	stdin, err := session.StdinPipe()
	if err != nil {
		session.Close()
		client.Close()
		return nil, trace.Wrap(err)
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		session.Close()
		client.Close()
		return nil, trace.Wrap(err)
	}
	stderr, err := session.StderrPipe()
	if err != nil {
		session.Close()
		client.Close()
		return nil, trace.Wrap(err)
	}

	if err := session.Shell(); err != nil {
		session.Close()
		client.Close()
		return nil, trace.ConnectionProblem(err, "failed to start the shell")
	}

	return &transport{client: client, session: session, stdin: stdin, stdout: stdout, stderr: stderr}, nil
}

// startLoops spawns the transport's watchers. Callers install tr on the
// connection first so the wait loop sees a current transport.
func (c *Connection) startLoops(tr *transport) {
	go c.readLoop(tr, tr.stdout)
	go c.readLoop(tr, tr.stderr)
	go c.waitLoop(tr)
	go c.keepAliveLoop(tr)
}

// readLoop pumps shell output into the data event stream, preserving byte
// order. Chunking is allowed, reordering is not.
func (c *Connection) readLoop(tr *transport, r io.Reader) {
	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			c.emitData(chunk)
		}
		if err != nil {
			return
		}
	}
}

// waitLoop watches the shell session and drives the reconnect flow when
// the transport drops out from under a live connection.
func (c *Connection) waitLoop(tr *transport) {
	err := tr.session.Wait()

	// Only the transport that is still current may drive state; a stale
	// transport from before a reconnect stays quiet.
	c.mu.Lock()
	current := c.tr == tr
	status := c.status
	c.mu.Unlock()
	if !current || status != services.StatusConnected {
		return
	}

	select {
	case <-c.closed:
		return
	default:
	}

	tr.client.Close()

	if err == nil || isRemoteExit(err) {
		c.setStatus(services.StatusDisconnected, "")
	} else {
		c.log.WithError(err).Warn("Shell transport failed.")
		c.setStatus(services.StatusError, err.Error())
	}

	c.reconnect()
}

// reconnect waits the configured delay and makes a single attempt to
// re-establish the transport, preserving the connection identity.
func (c *Connection) reconnect() {
	c.setStatus(services.StatusReconnecting, "")

	select {
	case <-c.manager.Clock.After(c.manager.ReconnectDelay):
	case <-c.closed:
		return
	}

	tr, err := c.dial()
	if err != nil {
		c.log.WithError(err).Warn("Reconnect attempt failed.")
		c.setStatus(services.StatusError, err.Error())
		return
	}

	c.mu.Lock()
	c.tr = tr
	c.status = services.StatusConnected
	c.lastActivity = c.manager.Clock.Now()
	c.mu.Unlock()
	c.startLoops(tr)
	c.emitStatus(services.StatusConnected, "")
}

// keepAliveLoop sends SSH keepalive requests while the transport lives.
func (c *Connection) keepAliveLoop(tr *transport) {
	ticker := c.manager.Clock.NewTicker(c.manager.KeepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.Chan():
			if _, _, err := tr.client.SendRequest(webterm.KeepAliveReqType, true, nil); err != nil {
				// The wait loop observes the broken transport and
				// drives the state machine; this loop just stops.
				return
			}
		case <-c.closed:
			return
		}
	}
}

// Write sends user input to the shell, byte for byte.
func (c *Connection) Write(data []byte) error {
	c.mu.Lock()
	if c.status != services.StatusConnected {
		status := c.status
		c.mu.Unlock()
		return trace.ConnectionProblem(nil, "connection is %v, not connected", status)
	}
	stdin := c.tr.stdin
	c.mu.Unlock()

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if _, err := stdin.Write(data); err != nil {
		return trace.ConnectionProblem(err, "failed to write to the shell")
	}
	c.touch()
	return nil
}

// Resize clamps and stores the dimensions and issues a window change to
// the shell.
func (c *Connection) Resize(cols, rows int) error {
	cols = clamp(cols, 1, c.manager.MaxCols)
	rows = clamp(rows, 1, c.manager.MaxRows)

	c.mu.Lock()
	c.cols, c.rows = cols, rows
	tr := c.tr
	status := c.status
	c.mu.Unlock()

	if status != services.StatusConnected {
		return trace.ConnectionProblem(nil, "connection is %v, not connected", status)
	}
	if err := tr.session.WindowChange(rows, cols); err != nil {
		return trace.ConnectionProblem(err, "failed to resize the terminal")
	}
	return nil
}

// close tears the connection down. The final disconnected status is
// emitted exactly once; subsequent calls are no-ops.
func (c *Connection) close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.status = services.StatusDisconnected
		tr := c.tr
		c.tr = nil
		c.mu.Unlock()

		c.emitStatus(services.StatusDisconnected, "")
		close(c.closed)

		if tr != nil {
			tr.stdin.Close()
			tr.session.Close()
			tr.client.Close()
		}
		c.target.Credentials.Scrub()
	})
}

// isRemoteExit reports whether the shell ended by itself rather than the
// transport failing.
func isRemoteExit(err error) bool {
	switch err.(type) {
	case *ssh.ExitError, *ssh.ExitMissingError:
		return true
	}
	return false
}

func clamp(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
