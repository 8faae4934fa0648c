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

package utils

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIsValidHostname(t *testing.T) {
	t.Parallel()

	tests := []struct {
		host  string
		valid bool
	}{
		{host: "example.com", valid: true},
		{host: "sub-domain.example.com", valid: true},
		{host: "localhost", valid: true},
		{host: "10.0.0.1", valid: true},
		{host: "256.0.0.1", valid: false},
		{host: "2001:db8::1", valid: false},
		{host: "-leading.example.com", valid: false},
		{host: "trailing-.example.com", valid: false},
		{host: "under_score.example.com", valid: false},
		{host: "", valid: false},
	}
	for _, tt := range tests {
		require.Equal(t, tt.valid, IsValidHostname(tt.host), "host %q", tt.host)
	}
}

func TestIsValidEmail(t *testing.T) {
	t.Parallel()

	require.True(t, IsValidEmail("a@b.co"))
	require.True(t, IsValidEmail("first.last+tag@example.org"))
	require.False(t, IsValidEmail("missing-at.example.org"))
	require.False(t, IsValidEmail("two@@example.org"))
	require.False(t, IsValidEmail("@example.org"))
	require.False(t, IsValidEmail("user@nodot"))
}

func TestFastMarshalRoundTrip(t *testing.T) {
	t.Parallel()

	in := map[string]interface{}{"type": "terminal:input", "sessionId": "s1"}
	data, err := FastMarshal(in)
	require.NoError(t, err)

	var out map[string]interface{}
	require.NoError(t, FastUnmarshal(data, &out))
	require.Equal(t, in, out)
}
