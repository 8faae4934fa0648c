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

	"github.com/gravitational/trace"
	openai "github.com/sashabaranov/go-openai"

	"github.com/zmb3/webterm/lib/defaults"
)

// OpenAIProvider generates completions through the OpenAI chat API.
type OpenAIProvider struct {
	client *openai.Client
	model  string
}

// NewOpenAIProvider creates a provider from an API key.
func NewOpenAIProvider(apiKey, model string) (*OpenAIProvider, error) {
	if apiKey == "" {
		return nil, trace.BadParameter("OpenAI API key is required")
	}
	if model == "" {
		model = openai.GPT4o
	}
	return &OpenAIProvider{
		client: openai.NewClient(apiKey),
		model:  model,
	}, nil
}

// NewOpenAIProviderFromConfig creates a provider from a full client
// configuration. Tests use it to point the client at a mock server.
func NewOpenAIProviderFromConfig(cfg openai.ClientConfig, model string) *OpenAIProvider {
	if model == "" {
		model = openai.GPT4o
	}
	return &OpenAIProvider{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
	}
}

// Name identifies the provider in logs and audit records.
func (p *OpenAIProvider) Name() string {
	return "openai"
}

// Complete sends one system prompted exchange and returns the raw answer.
func (p *OpenAIProvider) Complete(ctx context.Context, system, prompt string) (string, error) {
	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     p.model,
		MaxTokens: defaults.AssistMaxTokens,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return "", trace.ConnectionProblem(err, "OpenAI completion failed")
	}
	if len(resp.Choices) == 0 {
		return "", trace.BadParameter("OpenAI returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}
