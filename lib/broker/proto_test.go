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
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zmb3/webterm/lib/utils"
)

func TestFrameRoundTrip(t *testing.T) {
	t.Parallel()

	frame, err := NewFrame(TypeTerminalInput, InputPayload{SessionID: "S1", Data: []byte{0x1b, '[', 'A'}})
	require.NoError(t, err)

	wire, err := utils.FastMarshal(frame)
	require.NoError(t, err)

	var decoded Frame
	require.NoError(t, utils.FastUnmarshal(wire, &decoded))
	require.Equal(t, TypeTerminalInput, decoded.Type)

	var payload InputPayload
	require.NoError(t, decoded.Decode(&payload))
	require.Equal(t, "S1", payload.SessionID)
	// Raw control bytes survive the wire unchanged.
	require.Equal(t, []byte{0x1b, '[', 'A'}, payload.Data)
}

func TestDecodeIgnoresUnknownFields(t *testing.T) {
	t.Parallel()

	frame := &Frame{
		Type:    TypeSSHConnect,
		Payload: []byte(`{"sessionId":"S1","profileId":"p","futureField":42}`),
	}
	var req ConnectRequest
	require.NoError(t, frame.Decode(&req))
	require.Equal(t, "S1", req.SessionID)
	require.Equal(t, "p", req.ProfileID)
}

func TestDecodeMissingPayload(t *testing.T) {
	t.Parallel()

	frame := &Frame{Type: TypeTerminalInput}
	var req InputPayload
	require.Error(t, frame.Decode(&req))
}
