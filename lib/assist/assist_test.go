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

package assist

import (
	"context"
	"testing"

	"github.com/gravitational/trace"
	"github.com/stretchr/testify/require"
)

// fakeProvider returns a canned answer or error.
type fakeProvider struct {
	answer string
	err    error

	lastSystem string
	lastPrompt string
}

func (p *fakeProvider) Complete(ctx context.Context, system, prompt string) (string, error) {
	p.lastSystem = system
	p.lastPrompt = prompt
	return p.answer, p.err
}

func (p *fakeProvider) Name() string { return "fake" }

func newTestBridge(t *testing.T, provider Provider) *Bridge {
	t.Helper()
	bridge, err := New(Config{Provider: provider})
	require.NoError(t, err)
	return bridge
}

func TestTranslateStructuredAnswer(t *testing.T) {
	t.Parallel()

	provider := &fakeProvider{answer: `{"commands":["ls -la"],"explanation":"lists files","confidence":0.92}`}
	bridge := newTestBridge(t, provider)

	completion, err := bridge.Translate(context.Background(), "list all files", "")
	require.NoError(t, err)
	require.Equal(t, []string{"ls -la"}, completion.Commands)
	require.Equal(t, "lists files", completion.Explanation)
	require.Equal(t, 0.92, completion.Confidence)
	require.Empty(t, completion.Warnings)
}

func TestTranslateFreeTextFallback(t *testing.T) {
	t.Parallel()

	provider := &fakeProvider{answer: "You can list files like this:\n```bash\nls -la\n```\nThat shows hidden files too."}
	bridge := newTestBridge(t, provider)

	completion, err := bridge.Translate(context.Background(), "list all files", "")
	require.NoError(t, err)
	require.Equal(t, []string{"ls -la"}, completion.Commands)
	require.LessOrEqual(t, completion.Confidence, 0.6)
	require.NotEmpty(t, completion.Warnings)
}

func TestTranslateFlagsDangerousCommands(t *testing.T) {
	t.Parallel()

	provider := &fakeProvider{answer: `{"commands":["rm -rf /"],"explanation":"wipes the disk","confidence":0.99}`}
	bridge := newTestBridge(t, provider)

	completion, err := bridge.Translate(context.Background(), "free up space", "")
	require.NoError(t, err)
	require.LessOrEqual(t, completion.Confidence, 0.6)
	require.NotEmpty(t, completion.Warnings)
	require.Contains(t, completion.Warnings[0], "destructive")
}

func TestTranslateAppendsContext(t *testing.T) {
	t.Parallel()

	provider := &fakeProvider{answer: `{"commands":["pwd"],"explanation":"prints the directory","confidence":0.9}`}
	bridge := newTestBridge(t, provider)

	_, err := bridge.Translate(context.Background(), "where am I", "cwd: /home/alice")
	require.NoError(t, err)
	require.Contains(t, provider.lastPrompt, "where am I")
	require.Contains(t, provider.lastPrompt, "cwd: /home/alice")
}

func TestExplain(t *testing.T) {
	t.Parallel()

	provider := &fakeProvider{answer: `{"commands":[],"explanation":"tar creates archives; -x extracts","confidence":0.95}`}
	bridge := newTestBridge(t, provider)

	completion, err := bridge.Explain(context.Background(), "tar -xzf archive.tgz")
	require.NoError(t, err)
	require.Contains(t, completion.Explanation, "extracts")
	require.Contains(t, provider.lastPrompt, "tar -xzf archive.tgz")
}

func TestProviderFailure(t *testing.T) {
	t.Parallel()

	provider := &fakeProvider{err: trace.ConnectionProblem(nil, "provider is down")}
	bridge := newTestBridge(t, provider)

	_, err := bridge.Translate(context.Background(), "anything", "")
	require.Error(t, err)
}

func TestJSONWrappedInFence(t *testing.T) {
	t.Parallel()

	provider := &fakeProvider{answer: "```json\n{\"commands\":[\"df -h\"],\"explanation\":\"disk usage\",\"confidence\":0.8}\n```"}
	bridge := newTestBridge(t, provider)

	completion, err := bridge.Translate(context.Background(), "disk usage", "")
	require.NoError(t, err)
	require.Equal(t, []string{"df -h"}, completion.Commands)
	require.Equal(t, 0.8, completion.Confidence)
}

func TestNewProviderFromEnv(t *testing.T) {
	t.Parallel()

	_, err := NewProviderFromEnv("", "", "")
	require.True(t, trace.IsBadParameter(err))

	provider, err := NewProviderFromEnv("", "sk-test", "")
	require.NoError(t, err)
	require.Equal(t, "openai", provider.Name())

	provider, err = NewProviderFromEnv("", "", "sk-ant-test")
	require.NoError(t, err)
	require.Equal(t, "anthropic", provider.Name())

	provider, err = NewProviderFromEnv("anthropic", "sk-test", "sk-ant-test")
	require.NoError(t, err)
	require.Equal(t, "anthropic", provider.Name())

	_, err = NewProviderFromEnv("llama", "", "")
	require.True(t, trace.IsBadParameter(err))
}
