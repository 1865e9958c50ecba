// Package agent runs the multi-turn reasoning loop: hand the model the
// server's tools, execute what it asks for, feed results back, repeat
// until it answers in plain text or the tool budget runs out.
//
// Responsibilities:
//   - Maintain the conversation transcript across turns
//   - Execute requested tool calls through the adapter and append
//     their results as tool turns
//   - Enforce the tool budget and force a final answer when it runs out
//   - Honor cancellation between tool calls
package agent

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/reportalin/reportalin-mcp/internal/llm"
)

// DefaultToolBudget caps how many tool-call rounds one query may spend.
const DefaultToolBudget = 10

// budgetExhaustedPrompt is appended when the budget runs out, before
// the forced no-tools completion.
const budgetExhaustedPrompt = "tool budget exhausted; produce a final answer now"

// ToolExecutor runs server tools on the model's behalf. It is the
// subset of the MCP client the loop needs.
type ToolExecutor interface {
	ListTools(ctx context.Context) ([]llm.Tool, error)
	ExecuteTool(ctx context.Context, name string, args map[string]interface{}) (string, error)
}

// Agent drives one model against one tool server.
type Agent struct {
	client   llm.Client
	executor ToolExecutor
	logger   *zap.Logger

	// SystemPrompt seeds every conversation. Empty means no system turn.
	SystemPrompt string
	// ToolBudget caps tool-call rounds; zero selects DefaultToolBudget.
	ToolBudget int
}

// New builds an agent over a model client and a tool executor.
func New(client llm.Client, executor ToolExecutor, logger *zap.Logger) *Agent {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Agent{
		client:     client,
		executor:   executor,
		logger:     logger,
		ToolBudget: DefaultToolBudget,
	}
}

// Result is the outcome of one query.
type Result struct {
	// Answer is the model's final text.
	Answer string
	// ToolCallsMade counts executed tool calls across all rounds.
	ToolCallsMade int
	// Usage accumulates token counts over every completion.
	Usage llm.TokenUsage
}

// Run answers one user query. Cancellation takes effect between tool
// calls: the call in flight finishes, its result is discarded.
func (a *Agent) Run(ctx context.Context, userQuery string) (*Result, error) {
	if userQuery == "" {
		return nil, errors.New("empty query")
	}

	serverTools, err := a.executor.ListTools(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tools: %w", err)
	}

	messages := make([]llm.Message, 0, 8)
	if a.SystemPrompt != "" {
		messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: a.SystemPrompt})
	}
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: userQuery})

	budget := a.ToolBudget
	if budget <= 0 {
		budget = DefaultToolBudget
	}

	result := &Result{}
	for {
		comp, err := a.client.Complete(ctx, messages, serverTools)
		if err != nil {
			return nil, fmt.Errorf("completion: %w", err)
		}
		result.Usage.PromptTokens += comp.Usage.PromptTokens
		result.Usage.CompletionTokens += comp.Usage.CompletionTokens

		if len(comp.ToolCalls) == 0 {
			result.Answer = comp.Text
			return result, nil
		}

		messages = append(messages, llm.Message{
			Role:      llm.RoleAssistant,
			Content:   comp.Text,
			ToolCalls: comp.ToolCalls,
		})

		for _, call := range comp.ToolCalls {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			messages = append(messages, a.executeCall(ctx, call))
			result.ToolCallsMade++
		}

		budget--
		if budget <= 0 {
			return a.finalAnswer(ctx, messages, result)
		}
	}
}

// executeCall runs one tool call and renders its outcome as a tool
// turn. Failures become readable text so the model can route around
// them instead of the loop dying.
func (a *Agent) executeCall(ctx context.Context, call llm.ToolCall) llm.Message {
	out, err := a.executor.ExecuteTool(ctx, call.Name, call.Arguments)
	if err != nil {
		a.logger.Warn("tool call failed",
			zap.String("tool", call.Name), zap.Error(err))
		out = fmt.Sprintf("tool error: %v", err)
	}
	return llm.Message{
		Role:       llm.RoleTool,
		Content:    out,
		ToolCallID: call.ID,
	}
}

// finalAnswer forces a text-only completion once the budget is gone.
func (a *Agent) finalAnswer(ctx context.Context, messages []llm.Message, result *Result) (*Result, error) {
	messages = append(messages, llm.Message{
		Role:    llm.RoleSystem,
		Content: budgetExhaustedPrompt,
	})

	// No tools offered: the model cannot spend what it does not have.
	comp, err := a.client.Complete(ctx, messages, nil)
	if err != nil {
		return nil, fmt.Errorf("final completion: %w", err)
	}
	result.Usage.PromptTokens += comp.Usage.PromptTokens
	result.Usage.CompletionTokens += comp.Usage.CompletionTokens
	result.Answer = comp.Text
	return result, nil
}
