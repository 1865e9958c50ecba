package llm

import "context"

// Package llm provides minimal non-streaming clients for the two
// supported completion providers, behind one Client interface.
//
// Responsibilities:
//   - Define the provider-neutral message, tool, and completion types
//   - Translate neutral tool descriptors into each provider's schema
//   - Issue one completion request and parse text plus tool calls

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is one turn in a conversation. Assistant turns that called
// tools carry ToolCalls; tool-result turns carry ToolCallID.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// Tool is a provider-neutral tool descriptor.
type Tool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"input_schema"`
}

// ToolCall is one tool invocation requested by the model.
type ToolCall struct {
	ID        string                 `json:"id"`
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`
}

// TokenUsage tracks token consumption for one completion.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

// Completion is the model's answer: text, tool calls, or both.
type Completion struct {
	Text      string     `json:"text"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	Usage     TokenUsage `json:"usage"`
}

// Client issues one completion request. Implementations are safe for
// concurrent use.
type Client interface {
	Complete(ctx context.Context, messages []Message, tools []Tool) (*Completion, error)
}

// ProviderATool renders a tool in the chat-completions function-calling
// shape: {type:"function", function:{name, description, parameters}}.
func ProviderATool(t Tool) map[string]interface{} {
	return map[string]interface{}{
		"type": "function",
		"function": map[string]interface{}{
			"name":        t.Name,
			"description": t.Description,
			"parameters":  t.InputSchema,
		},
	}
}

// ProviderBTool renders a tool in the messages tool-use shape:
// {name, description, input_schema}. Same JSON Schema, flatter nesting.
func ProviderBTool(t Tool) map[string]interface{} {
	return map[string]interface{}{
		"name":         t.Name,
		"description":  t.Description,
		"input_schema": t.InputSchema,
	}
}
