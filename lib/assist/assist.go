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

// Package assist bridges natural language prompts to shell command
// suggestions through an external text generation provider.
package assist

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/gravitational/trace"
	"github.com/sirupsen/logrus"

	webterm "github.com/zmb3/webterm"
	"github.com/zmb3/webterm/lib/defaults"
)

// Provider is an external text generation backend.
type Provider interface {
	// Complete sends one system prompted exchange and returns the raw
	// answer.
	Complete(ctx context.Context, system, prompt string) (string, error)
	// Name identifies the provider.
	Name() string
}

// Config holds the bridge dependencies.
type Config struct {
	// Provider is the text generation backend. Use NewProviderFromEnv to
	// pick one from configured credentials.
	Provider Provider

	// Timeout bounds a single provider call.
	Timeout time.Duration

	// Log is a component logger.
	Log logrus.FieldLogger
}

// CheckAndSetDefaults validates the values of a *Config.
func (c *Config) CheckAndSetDefaults() error {
	if c.Provider == nil {
		return trace.BadParameter("assistant provider is required")
	}
	if c.Timeout == 0 {
		c.Timeout = defaults.AssistTimeout
	}
	if c.Log == nil {
		c.Log = logrus.WithField(trace.Component, webterm.ComponentAssist)
	}
	return nil
}

// NewProviderFromEnv picks a provider: an explicit name wins, otherwise
// OpenAI when its key is present, otherwise Anthropic.
func NewProviderFromEnv(name, openAIKey, anthropicKey string) (Provider, error) {
	switch name {
	case "openai":
		return NewOpenAIProvider(openAIKey, "")
	case "anthropic":
		return NewAnthropicProvider(anthropicKey, "")
	case "":
	default:
		return nil, trace.BadParameter("unknown assistant provider %q", name)
	}
	if openAIKey != "" {
		return NewOpenAIProvider(openAIKey, "")
	}
	if anthropicKey != "" {
		return NewAnthropicProvider(anthropicKey, "")
	}
	return nil, trace.BadParameter("no assistant provider credentials configured")
}

// Completion is a processed assistant answer.
type Completion struct {
	// Commands are the suggested shell commands.
	Commands []string `json:"commands"`
	// Explanation describes what the commands do.
	Explanation string `json:"explanation"`
	// Warnings carry operator warnings.
	Warnings []string `json:"warnings"`
	// Confidence is in [0, 1].
	Confidence float64 `json:"confidence"`
	// Raw is the unprocessed provider answer, kept for auditing.
	Raw string `json:"-"`
}

// Bridge translates prompts to commands and explains commands.
type Bridge struct {
	Config
}

// New creates an assistant bridge.
func New(cfg Config) (*Bridge, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Bridge{Config: cfg}, nil
}

const translateSystemPrompt = `You translate natural language requests into shell commands for a Linux terminal.
Respond with a single JSON object and nothing else:
{"commands": ["cmd1"], "explanation": "what the commands do", "confidence": 0.9}
Commands must be directly executable. Confidence is a number between 0 and 1.`

const explainSystemPrompt = `You explain shell commands to an operator.
Respond with a single JSON object and nothing else:
{"commands": [], "explanation": "what the command does, flag by flag", "confidence": 0.9}`

// Translate converts a natural language prompt into command suggestions.
// Optional context (current directory, recent output) sharpens the answer.
func (b *Bridge) Translate(ctx context.Context, prompt, extra string) (*Completion, error) {
	if prompt == "" {
		return nil, trace.BadParameter("prompt is required")
	}
	input := prompt
	if extra != "" {
		input = prompt + "\n\nTerminal context:\n" + extra
	}
	return b.complete(ctx, translateSystemPrompt, input)
}

// Explain describes what a command does.
func (b *Bridge) Explain(ctx context.Context, command string) (*Completion, error) {
	if command == "" {
		return nil, trace.BadParameter("command is required")
	}
	return b.complete(ctx, explainSystemPrompt, "Explain this command: "+command)
}

func (b *Bridge) complete(ctx context.Context, system, input string) (*Completion, error) {
	ctx, cancel := context.WithTimeout(ctx, b.Timeout)
	defer cancel()

	raw, err := b.Provider.Complete(ctx, system, input)
	if err != nil {
		return nil, trace.Wrap(err)
	}

	completion := parseCompletion(raw)
	completion.Raw = raw
	flagDangerous(completion)
	return completion, nil
}

// parseCompletion decodes a structured answer, falling back to scraping
// fenced code blocks from free text with reduced confidence.
func parseCompletion(raw string) *Completion {
	var out Completion
	if err := json.Unmarshal([]byte(extractJSONObject(raw)), &out); err == nil && (len(out.Commands) > 0 || out.Explanation != "") {
		if out.Confidence < 0 {
			out.Confidence = 0
		}
		if out.Confidence > 1 {
			out.Confidence = 1
		}
		if out.Warnings == nil {
			out.Warnings = []string{}
		}
		if out.Commands == nil {
			out.Commands = []string{}
		}
		return &out
	}

	commands := extractFencedCommands(raw)
	confidence := defaults.AssistFallbackConfidence
	if len(commands) == 0 {
		confidence = 0
	}
	return &Completion{
		Commands:    commands,
		Explanation: strings.TrimSpace(raw),
		Warnings:    []string{"the assistant answer was not structured; commands were extracted heuristically"},
		Confidence:  confidence,
	}
}

// flagDangerous appends an operator warning and clamps confidence when any
// suggested command matches the high risk pattern list.
func flagDangerous(c *Completion) {
	for _, command := range c.Commands {
		if IsDangerousCommand(command) {
			c.Warnings = append(c.Warnings, fmt.Sprintf("command %q is potentially destructive; review before running", command))
			if c.Confidence > defaults.AssistFallbackConfidence {
				c.Confidence = defaults.AssistFallbackConfidence
			}
		}
	}
}

// jsonObjectRegexp finds the first {...} block in an answer that wraps its
// JSON in prose or a code fence.
var jsonObjectRegexp = regexp.MustCompile(`(?s)\{.*\}`)

func extractJSONObject(raw string) string {
	if match := jsonObjectRegexp.FindString(raw); match != "" {
		return match
	}
	return raw
}

// fencedBlockRegexp matches fenced code blocks with an optional shell
// language tag.
var fencedBlockRegexp = regexp.MustCompile("(?s)```(?:bash|shell|sh|zsh)?\\n?(.*?)```")

func extractFencedCommands(raw string) []string {
	var commands []string
	for _, match := range fencedBlockRegexp.FindAllStringSubmatch(raw, -1) {
		for _, line := range strings.Split(match[1], "\n") {
			line = strings.TrimSpace(line)
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			commands = append(commands, line)
		}
	}
	return commands
}
