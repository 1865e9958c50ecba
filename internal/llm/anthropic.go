package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Conversation turns for the messages tool-use API:
//
//	Turn N (model returns tool calls):
//	  content: [{type:"tool_use", id, name, input:{...}}]
//	  stop_reason: "tool_use"
//
//	→ Append: {role:"assistant", content:[tool_use blocks]} then
//	  {role:"user", content:[{type:"tool_result", tool_use_id, content}]}.
//	  The driver owns that bookkeeping; this client only does single
//	  completions.

const (
	defaultAnthropicBaseURL = "https://api.anthropic.com/v1"
	anthropicAPIVersion     = "2023-06-01"
	defaultMaxTokens        = 4096
)

// AnthropicClient talks to a messages tool-use endpoint.
type AnthropicClient struct {
	apiKey  string
	model   string
	baseURL string
	httpc   *http.Client
}

// NewAnthropicClient builds a client. baseURL may be empty for the
// public endpoint.
func NewAnthropicClient(apiKey, model, baseURL string) *AnthropicClient {
	if baseURL == "" {
		baseURL = defaultAnthropicBaseURL
	}
	return &AnthropicClient{
		apiKey:  apiKey,
		model:   model,
		baseURL: baseURL,
		httpc:   &http.Client{Timeout: 120 * time.Second},
	}
}

type anthContentBlock struct {
	Type      string                 `json:"type"`
	Text      string                 `json:"text,omitempty"`
	ID        string                 `json:"id,omitempty"`
	Name      string                 `json:"name,omitempty"`
	Input     map[string]interface{} `json:"input,omitempty"`
	ToolUseID string                 `json:"tool_use_id,omitempty"`
	Content   string                 `json:"content,omitempty"`
}

type anthMessage struct {
	Role    string             `json:"role"`
	Content []anthContentBlock `json:"content"`
}

type anthRequest struct {
	Model     string                   `json:"model"`
	MaxTokens int                      `json:"max_tokens"`
	System    string                   `json:"system,omitempty"`
	Messages  []anthMessage            `json:"messages"`
	Tools     []map[string]interface{} `json:"tools,omitempty"`
}

type anthResponse struct {
	Content    []anthContentBlock `json:"content"`
	StopReason string             `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// Complete issues one messages request.
func (c *AnthropicClient) Complete(ctx context.Context, messages []Message, tools []Tool) (*Completion, error) {
	system, rest := extractSystem(messages)

	req := anthRequest{
		Model:     c.model,
		MaxTokens: defaultMaxTokens,
		System:    system,
		Messages:  convertToAnth(rest),
	}
	for _, t := range tools {
		req.Tools = append(req.Tools, ProviderBTool(t))
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicAPIVersion)

	httpResp, err := c.httpc.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("http: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(httpResp.Body, 4096))
		return nil, fmt.Errorf("api %d: %s", httpResp.StatusCode, string(raw))
	}

	var resp anthResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	out := &Completion{
		Usage: TokenUsage{
			PromptTokens:     resp.Usage.InputTokens,
			CompletionTokens: resp.Usage.OutputTokens,
		},
	}
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			if out.Text != "" {
				out.Text += "\n"
			}
			out.Text += block.Text
		case "tool_use":
			out.ToolCalls = append(out.ToolCalls, ToolCall{
				ID:        block.ID,
				Name:      block.Name,
				Arguments: block.Input,
			})
		}
	}
	return out, nil
}

// extractSystem pulls system turns out of the message list; the
// messages API carries the system prompt as a top-level field.
func extractSystem(messages []Message) (string, []Message) {
	var system string
	rest := make([]Message, 0, len(messages))
	for _, m := range messages {
		if m.Role == RoleSystem {
			if system != "" {
				system += "\n"
			}
			system += m.Content
			continue
		}
		rest = append(rest, m)
	}
	return system, rest
}

// convertToAnth maps neutral messages onto the messages wire shape.
// Tool results become user turns with tool_result blocks.
func convertToAnth(messages []Message) []anthMessage {
	out := make([]anthMessage, 0, len(messages))
	for _, m := range messages {
		switch {
		case m.Role == RoleTool:
			out = append(out, anthMessage{
				Role: "user",
				Content: []anthContentBlock{{
					Type:      "tool_result",
					ToolUseID: m.ToolCallID,
					Content:   m.Content,
				}},
			})
		case len(m.ToolCalls) > 0:
			blocks := make([]anthContentBlock, 0, len(m.ToolCalls)+1)
			if m.Content != "" {
				blocks = append(blocks, anthContentBlock{Type: "text", Text: m.Content})
			}
			for _, tc := range m.ToolCalls {
				blocks = append(blocks, anthContentBlock{
					Type:  "tool_use",
					ID:    tc.ID,
					Name:  tc.Name,
					Input: tc.Arguments,
				})
			}
			out = append(out, anthMessage{Role: "assistant", Content: blocks})
		default:
			out = append(out, anthMessage{
				Role:    m.Role,
				Content: []anthContentBlock{{Type: "text", Text: m.Content}},
			})
		}
	}
	return out
}
