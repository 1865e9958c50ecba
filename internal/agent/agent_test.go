package agent

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reportalin/reportalin-mcp/internal/llm"
)

// scriptedLLM replays a fixed sequence of completions and records what
// it was asked.
type scriptedLLM struct {
	script   []*llm.Completion
	turn     int
	requests [][]llm.Message
	tools    [][]llm.Tool
}

func (s *scriptedLLM) Complete(ctx context.Context, messages []llm.Message, tools []llm.Tool) (*llm.Completion, error) {
	s.requests = append(s.requests, append([]llm.Message(nil), messages...))
	s.tools = append(s.tools, tools)
	if s.turn >= len(s.script) {
		return nil, errors.New("script exhausted")
	}
	comp := s.script[s.turn]
	s.turn++
	return comp, nil
}

// fakeExecutor records tool calls and answers from a canned table.
type fakeExecutor struct {
	calls   []string
	results map[string]string
	err     error
}

func (f *fakeExecutor) ListTools(ctx context.Context) ([]llm.Tool, error) {
	return []llm.Tool{{Name: "combined_search", Description: "search", InputSchema: map[string]interface{}{"type": "object"}}}, nil
}

func (f *fakeExecutor) ExecuteTool(ctx context.Context, name string, args map[string]interface{}) (string, error) {
	f.calls = append(f.calls, name)
	if f.err != nil {
		return "", f.err
	}
	return f.results[name], nil
}

func TestRunPlainAnswer(t *testing.T) {
	model := &scriptedLLM{script: []*llm.Completion{
		{Text: "Nothing to look up.", Usage: llm.TokenUsage{PromptTokens: 10, CompletionTokens: 5}},
	}}
	exec := &fakeExecutor{}

	a := New(model, exec, nil)
	a.SystemPrompt = "You analyze study data."

	res, err := a.Run(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, "Nothing to look up.", res.Answer)
	assert.Zero(t, res.ToolCallsMade)
	assert.Equal(t, 10, res.Usage.PromptTokens)

	// First turn: system then user, with the server tools offered.
	require.Len(t, model.requests, 1)
	assert.Equal(t, llm.RoleSystem, model.requests[0][0].Role)
	assert.Equal(t, llm.RoleUser, model.requests[0][1].Role)
	require.Len(t, model.tools[0], 1)
}

func TestRunToolRound(t *testing.T) {
	model := &scriptedLLM{script: []*llm.Completion{
		{ToolCalls: []llm.ToolCall{{ID: "c1", Name: "combined_search", Arguments: map[string]interface{}{"concept": "diabetes"}}}},
		{Text: "Found 12 variables."},
	}}
	exec := &fakeExecutor{results: map[string]string{"combined_search": `{"matches":12}`}}

	a := New(model, exec, nil)
	res, err := a.Run(context.Background(), "tell me about diabetes")
	require.NoError(t, err)

	assert.Equal(t, "Found 12 variables.", res.Answer)
	assert.Equal(t, 1, res.ToolCallsMade)
	assert.Equal(t, []string{"combined_search"}, exec.calls)

	// Second turn carries the assistant tool-call turn and its result.
	second := model.requests[1]
	assistant := second[len(second)-2]
	toolTurn := second[len(second)-1]
	require.Len(t, assistant.ToolCalls, 1)
	assert.Equal(t, llm.RoleTool, toolTurn.Role)
	assert.Equal(t, "c1", toolTurn.ToolCallID)
	assert.Equal(t, `{"matches":12}`, toolTurn.Content)
}

func TestRunToolFailureFeedsBack(t *testing.T) {
	model := &scriptedLLM{script: []*llm.Completion{
		{ToolCalls: []llm.ToolCall{{ID: "c1", Name: "combined_search"}}},
		{Text: "Could not search; here is what I know."},
	}}
	exec := &fakeExecutor{err: errors.New("k-anonymity floor")}

	a := New(model, exec, nil)
	res, err := a.Run(context.Background(), "query")
	require.NoError(t, err)
	assert.Equal(t, "Could not search; here is what I know.", res.Answer)

	toolTurn := model.requests[1][len(model.requests[1])-1]
	assert.Contains(t, toolTurn.Content, "tool error")
}

func TestRunBudgetExhausted(t *testing.T) {
	callEveryTurn := &llm.Completion{
		ToolCalls: []llm.ToolCall{{ID: "c", Name: "combined_search"}},
	}
	model := &scriptedLLM{script: []*llm.Completion{
		callEveryTurn,
		callEveryTurn,
		{Text: "Best effort answer."},
	}}
	exec := &fakeExecutor{results: map[string]string{"combined_search": "{}"}}

	a := New(model, exec, nil)
	a.ToolBudget = 2

	res, err := a.Run(context.Background(), "query")
	require.NoError(t, err)
	assert.Equal(t, "Best effort answer.", res.Answer)
	assert.Equal(t, 2, res.ToolCallsMade)

	// The forced turn carries the exhaustion prompt and offers no tools.
	final := model.requests[2]
	assert.Equal(t, budgetExhaustedPrompt, final[len(final)-1].Content)
	assert.Nil(t, model.tools[2])
}

func TestRunCancellationBetweenCalls(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	model := &scriptedLLM{script: []*llm.Completion{
		{ToolCalls: []llm.ToolCall{
			{ID: "c1", Name: "combined_search"},
			{ID: "c2", Name: "combined_search"},
		}},
	}}
	exec := &cancelAfterFirst{cancel: cancel}

	a := New(model, exec, nil)
	_, err := a.Run(ctx, "query")
	require.ErrorIs(t, err, context.Canceled)

	// The call in flight finished; the second in the round never ran.
	assert.Equal(t, 1, exec.executed)
}

// cancelAfterFirst cancels the run context once its first tool call
// returns, so the second call in the same round must be skipped.
type cancelAfterFirst struct {
	cancel   func()
	executed int
}

func (c *cancelAfterFirst) ListTools(ctx context.Context) ([]llm.Tool, error) {
	return []llm.Tool{{Name: "combined_search", InputSchema: map[string]interface{}{"type": "object"}}}, nil
}

func (c *cancelAfterFirst) ExecuteTool(ctx context.Context, name string, args map[string]interface{}) (string, error) {
	c.executed++
	c.cancel()
	return "{}", nil
}
