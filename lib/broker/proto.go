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
	"encoding/json"

	"github.com/gravitational/trace"

	"github.com/zmb3/webterm/lib/services"
	"github.com/zmb3/webterm/lib/utils"
)

// Stream message types. Every frame on the client channel carries exactly
// one of these tags.
const (
	// TypeSSHConnect asks to open a session through a stored profile.
	TypeSSHConnect = "ssh:connect"
	// TypeSSHDisconnect asks to close a session.
	TypeSSHDisconnect = "ssh:disconnect"
	// TypeSSHStatus reports a session lifecycle transition.
	TypeSSHStatus = "ssh:status"
	// TypeTerminalInput carries keystrokes to the shell.
	TypeTerminalInput = "terminal:input"
	// TypeTerminalResize reports new terminal dimensions.
	TypeTerminalResize = "terminal:resize"
	// TypeTerminalClear is advisory; the server takes no action.
	TypeTerminalClear = "terminal:clear"
	// TypeTerminalOutput carries shell output to the client.
	TypeTerminalOutput = "terminal:output"
	// TypeAITranslate asks for commands matching a natural language prompt.
	TypeAITranslate = "ai:translate"
	// TypeAIExplain asks for an explanation of a command.
	TypeAIExplain = "ai:explain"
	// TypeAIQuery is a general assistant question.
	TypeAIQuery = "ai:query"
	// TypeAIResponse carries the assistant answer.
	TypeAIResponse = "ai:response"
	// TypeSessionList requests and carries the active session listing.
	TypeSessionList = "session:list"
	// TypeError reports a request level failure to the client.
	TypeError = "error"
)

// Frame is one message on the stream channel: a type tag with a payload.
// Receivers ignore payload fields they do not know.
type Frame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewFrame builds a frame from a payload value.
func NewFrame(frameType string, payload interface{}) (*Frame, error) {
	if payload == nil {
		return &Frame{Type: frameType}, nil
	}
	data, err := utils.FastMarshal(payload)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return &Frame{Type: frameType, Payload: data}, nil
}

// Decode unpacks the frame payload into v.
func (f *Frame) Decode(v interface{}) error {
	if len(f.Payload) == 0 {
		return trace.BadParameter("%v payload is missing", f.Type)
	}
	return trace.Wrap(utils.FastUnmarshal(f.Payload, v))
}

// TerminalSize is a cols by rows dimension pair.
type TerminalSize struct {
	Cols int `json:"cols"`
	Rows int `json:"rows"`
}

// ConnectRequest opens a session. The client picks the session id.
type ConnectRequest struct {
	SessionID string `json:"sessionId"`
	ProfileID string `json:"profileId"`
	Title     string `json:"title,omitempty"`
}

// DisconnectRequest closes a session.
type DisconnectRequest struct {
	SessionID string `json:"sessionId"`
}

// InputPayload carries keystrokes. Data is raw bytes, base64 on the wire.
type InputPayload struct {
	SessionID string `json:"sessionId"`
	Data      []byte `json:"data"`
}

// ResizePayload carries new terminal dimensions.
type ResizePayload struct {
	SessionID string       `json:"sessionId"`
	Size      TerminalSize `json:"size"`
}

// ClearPayload identifies the session whose display the client cleared.
type ClearPayload struct {
	SessionID string `json:"sessionId"`
}

// OutputPayload carries shell output. Data is raw bytes, base64 on the
// wire, in shell order.
type OutputPayload struct {
	SessionID string `json:"sessionId"`
	Data      []byte `json:"data"`
}

// StatusPayload reports a lifecycle transition for one session.
type StatusPayload struct {
	SessionID string                 `json:"sessionId"`
	Status    services.SessionStatus `json:"status"`
	Error     string                 `json:"error,omitempty"`
}

// AIRequest asks the assistant for help. Prompt is used by translate and
// query, Command by explain.
type AIRequest struct {
	SessionID string `json:"sessionId,omitempty"`
	Prompt    string `json:"prompt,omitempty"`
	Command   string `json:"command,omitempty"`
	Context   string `json:"context,omitempty"`
}

// AIResponsePayload carries the assistant answer. On assistant failure
// Commands is empty, Confidence is zero and Error holds a diagnostic.
type AIResponsePayload struct {
	Commands    []string `json:"commands"`
	Explanation string   `json:"explanation"`
	Warnings    []string `json:"warnings"`
	Confidence  float64  `json:"confidence"`
	Error       string   `json:"error,omitempty"`
}

// SessionListPayload carries the active session listing.
type SessionListPayload struct {
	Sessions []services.TerminalSession `json:"sessions"`
}

// ErrorPayload reports a request level failure.
type ErrorPayload struct {
	Message string `json:"message"`
}
