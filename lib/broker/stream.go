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
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/gravitational/trace"

	"github.com/zmb3/webterm/lib/utils"
)

// Stream is one end of the bidirectional client channel. Send may be
// called from multiple goroutines.
type Stream interface {
	// Recv blocks for the next frame. It returns an error once the
	// channel is closed.
	Recv() (*Frame, error)
	// Send writes one frame.
	Send(*Frame) error
	// Close shuts the channel down.
	Close() error
}

// WebsocketStream adapts a websocket connection to the Stream interface.
// Frames travel as JSON text messages.
type WebsocketStream struct {
	conn *websocket.Conn

	// writeMu serializes writes; the websocket package allows a single
	// concurrent writer.
	writeMu   sync.Mutex
	closeOnce sync.Once
}

// NewWebsocketStream wraps an upgraded websocket connection.
func NewWebsocketStream(conn *websocket.Conn) *WebsocketStream {
	return &WebsocketStream{conn: conn}
}

// Recv blocks for the next frame, skipping message kinds the protocol
// does not use.
func (s *WebsocketStream) Recv() (*Frame, error) {
	for {
		ty, data, err := s.conn.ReadMessage()
		if err != nil {
			return nil, trace.Wrap(err)
		}
		if ty != websocket.TextMessage {
			continue
		}

		var frame Frame
		if err := utils.FastUnmarshal(data, &frame); err != nil {
			return nil, trace.BadParameter("malformed frame: %v", err)
		}
		return &frame, nil
	}
}

// Send writes one frame.
func (s *WebsocketStream) Send(frame *Frame) error {
	data, err := utils.FastMarshal(frame)
	if err != nil {
		return trace.Wrap(err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return trace.Wrap(s.conn.WriteMessage(websocket.TextMessage, data))
}

// Close sends a close frame and tears the connection down.
func (s *WebsocketStream) Close() error {
	s.closeOnce.Do(func() {
		s.writeMu.Lock()
		deadline := time.Now().Add(time.Second)
		s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		s.writeMu.Unlock()
		s.conn.Close()
	})
	return nil
}
