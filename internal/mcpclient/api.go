package mcpclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/reportalin/reportalin-mcp/internal/llm"
)

// ListTools returns the server's tools in the neutral shape the agent
// hands to its model provider.
func (c *Client) ListTools(ctx context.Context) ([]llm.Tool, error) {
	raw, err := c.call(ctx, "tools/list", nil)
	if err != nil {
		return nil, err
	}

	var result struct {
		Tools []struct {
			Name        string                 `json:"name"`
			Description string                 `json:"description"`
			InputSchema map[string]interface{} `json:"inputSchema"`
		} `json:"tools"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, &ProtocolError{Message: "malformed tools/list result"}
	}

	out := make([]llm.Tool, 0, len(result.Tools))
	for _, t := range result.Tools {
		out = append(out, llm.Tool{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.InputSchema,
		})
	}
	return out, nil
}

// ExecuteTool runs one tool and returns its flattened text output.
// Tool-level failures come back as ToolExecutionFailedError so the
// caller can distinguish them from transport trouble.
func (c *Client) ExecuteTool(ctx context.Context, name string, args map[string]interface{}) (string, error) {
	raw, err := c.call(ctx, "tools/call", map[string]interface{}{
		"name":      name,
		"arguments": args,
	})
	if err != nil {
		var pe *ProtocolError
		if errors.As(err, &pe) {
			return "", &ToolExecutionFailedError{Tool: name, Cause: err}
		}
		return "", err
	}

	var result struct {
		Content []ContentBlock `json:"content"`
		IsError bool           `json:"isError"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return "", &ProtocolError{Message: "malformed tools/call result"}
	}

	text := FlattenContent(result.Content)
	if result.IsError {
		return "", &ToolExecutionFailedError{Tool: name, Cause: fmt.Errorf("%s", text)}
	}
	return text, nil
}

// Resource is one resources/list entry as seen by the client.
type Resource struct {
	URI         string `json:"uri"`
	Name        string `json:"name"`
	Description string `json:"description"`
	MimeType    string `json:"mimeType"`
}

// ListResources returns the server's resource descriptors.
func (c *Client) ListResources(ctx context.Context) ([]Resource, error) {
	raw, err := c.call(ctx, "resources/list", nil)
	if err != nil {
		return nil, err
	}

	var result struct {
		Resources []Resource `json:"resources"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, &ProtocolError{Message: "malformed resources/list result"}
	}
	return result.Resources, nil
}

// ReadResource fetches one resource and returns its text contents
// concatenated in order.
func (c *Client) ReadResource(ctx context.Context, uri string) (string, error) {
	raw, err := c.call(ctx, "resources/read", map[string]interface{}{"uri": uri})
	if err != nil {
		return "", err
	}

	var result struct {
		Contents []struct {
			Text string `json:"text"`
		} `json:"contents"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return "", &ProtocolError{Message: "malformed resources/read result"}
	}

	text := ""
	for i, entry := range result.Contents {
		if i > 0 {
			text += "\n"
		}
		text += entry.Text
	}
	return text, nil
}
