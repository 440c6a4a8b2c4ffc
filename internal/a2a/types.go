// Package a2a is the host side of agent-to-agent tool registration.
//
// Plugins describe a server (name + version) with a set of tools; each tool
// carries a JSON schema for its arguments and a handler. The host keeps them
// in a Registry and exposes them to callers (HTTP, MCP, schedules, CLI).
package a2a

import (
	"context"
	"encoding/json"
	"errors"
)

var (
	// ErrInvalidArgument marks a tool call whose arguments don't satisfy the
	// tool's schema. Tool handlers wrap it with the offending field.
	ErrInvalidArgument = errors.New("invalid argument")
	ErrUnknownTool     = errors.New("unknown tool")
)

// Handler runs one tool invocation. args is the raw JSON argument object.
type Handler func(ctx context.Context, args json.RawMessage) (Result, error)

type ServerConfig struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	Tools   []Tool `json:"tools"`
}

type Tool struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	InputSchema InputSchema `json:"inputSchema"`
	Handler     Handler     `json:"-"`
}

type InputSchema struct {
	Type       string              `json:"type"`
	Properties map[string]Property `json:"properties"`
	Required   []string            `json:"required,omitempty"`
}

type Property struct {
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
}

// Result is the tool response envelope: { content: [ { type, text } ] }.
type Result struct {
	Content []Content `json:"content"`
}

type Content struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// TextResult builds the single-text-element envelope.
func TextResult(text string) Result {
	return Result{Content: []Content{{Type: "text", Text: text}}}
}

// Text returns the first text element, or "".
func (r Result) Text() string {
	for _, c := range r.Content {
		if c.Type == "text" {
			return c.Text
		}
	}
	return ""
}
