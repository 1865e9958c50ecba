package tools

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/reportalin/reportalin-mcp/internal/dataset"
	"github.com/reportalin/reportalin-mcp/internal/metrics"
)

// Package tools implements the four analytical tools exposed over MCP.
//
// Responsibilities:
//   - Register the tool descriptors with their JSON-Schema input shapes
//   - Validate tool arguments before dispatch
//   - Search the data dictionary and code lists
//   - Compute aggregates against the active snapshot
//   - Enforce k-anonymity on every aggregate before it leaves the kernel
//
// Tool names are contracts with clients and never change:
//   prompt_enhancer, combined_search, search_data_dictionary,
//   search_cleaned_dataset.

// Tool names.
const (
	ToolPromptEnhancer       = "prompt_enhancer"
	ToolCombinedSearch       = "combined_search"
	ToolSearchDictionary     = "search_data_dictionary"
	ToolSearchCleanedDataset = "search_cleaned_dataset"
)

// ErrUnknownTool marks a call naming a tool that is not registered.
var ErrUnknownTool = errors.New("unknown tool")

// Handler executes one tool call against a snapshot.
type Handler func(ctx context.Context, snap *dataset.Snapshot, args map[string]interface{}) (interface{}, error)

// Definition is one registered tool: descriptor plus handler.
type Definition struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"inputSchema"`

	handler Handler
}

// ValidationError reports a schema violation, naming the offending field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid argument %q: %s", e.Field, e.Message)
}

// ExecutionError wraps an unexpected handler failure. The wire message is
// sanitized by the caller; the cause is for logs only.
type ExecutionError struct {
	Tool  string
	Cause error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("tool %s failed: %v", e.Tool, e.Cause)
}

func (e *ExecutionError) Unwrap() error { return e.Cause }

// Recorder receives an audit record for every executed tool call.
// Arguments are deliberately absent from the record.
type Recorder interface {
	RecordToolCall(ctx context.Context, tool string, duration time.Duration, outcome string) error
}

// Kernel owns the tool registry and runs tool calls against the active
// snapshot.
type Kernel struct {
	store    *dataset.Store
	k        int
	logger   *zap.Logger
	recorder Recorder // optional

	registry map[string]*Definition
	ordered  []string
}

// NewKernel builds the kernel and registers the four tools. k is the
// k-anonymity threshold; values < 1 fall back to the default.
func NewKernel(store *dataset.Store, k int, logger *zap.Logger, recorder Recorder) *Kernel {
	kr := &Kernel{
		store:    store,
		k:        k,
		logger:   logger,
		recorder: recorder,
		registry: make(map[string]*Definition),
	}

	kr.register(&Definition{
		Name:        ToolPromptEnhancer,
		Description: "Primary entry point. Interprets a natural-language query about the study data, classifies the intent, and routes to the right analytical tool. Set user_confirmation=true to execute, false to preview the interpretation.",
		InputSchema: promptEnhancerSchema,
		handler:     kr.promptEnhancer,
	})
	kr.register(&Definition{
		Name:        ToolCombinedSearch,
		Description: "Default analytical search. Expands a clinical concept into synonyms, finds matching dictionary variables and code lists, and optionally computes aggregate statistics for the matches.",
		InputSchema: combinedSearchSchema,
		handler:     kr.combinedSearch,
	})
	kr.register(&Definition{
		Name:        ToolSearchDictionary,
		Description: "Metadata-only dictionary search. Finds variables and optionally code lists matching a query string. Never computes statistics.",
		InputSchema: searchDictionarySchema,
		handler:     kr.searchDictionary,
	})
	kr.register(&Definition{
		Name:        ToolSearchCleanedDataset,
		Description: "Direct aggregate lookup. Computes aggregate statistics for every field matching a variable name across the cleaned dataset tables.",
		InputSchema: searchCleanedDatasetSchema,
		handler:     kr.searchCleanedDataset,
	})

	return kr
}

func (k *Kernel) register(def *Definition) {
	k.registry[def.Name] = def
	k.ordered = append(k.ordered, def.Name)
}

// List returns the tool descriptors in registration order.
func (k *Kernel) List() []Definition {
	out := make([]Definition, 0, len(k.ordered))
	for _, name := range k.ordered {
		out = append(out, *k.registry[name])
	}
	return out
}

// Execute validates args against the tool's schema and runs the handler
// against the snapshot current at call time. The snapshot reference is
// taken once, so a concurrent reload never splits one call across two
// snapshots.
func (k *Kernel) Execute(ctx context.Context, name string, args map[string]interface{}) (interface{}, error) {
	def, ok := k.registry[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}

	if err := validateArgs(def.InputSchema, args); err != nil {
		return nil, err
	}

	snap := k.store.Current()
	if snap == nil {
		return nil, fmt.Errorf("dataset snapshot not loaded")
	}

	start := time.Now()
	result, err := def.handler(ctx, snap, args)
	duration := time.Since(start)

	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.ToolCalls.WithLabelValues(name, status).Inc()
	metrics.ToolDuration.WithLabelValues(name).Observe(duration.Seconds())

	if k.recorder != nil {
		if recErr := k.recorder.RecordToolCall(ctx, name, duration, status); recErr != nil {
			k.logger.Warn("audit record failed", zap.Error(recErr))
		}
	}

	if err != nil {
		return nil, &ExecutionError{Tool: name, Cause: err}
	}
	return result, nil
}

// kThreshold resolves the effective k-anonymity threshold.
func (k *Kernel) kThreshold() int {
	if k.k < 1 {
		return defaultKThreshold
	}
	return k.k
}
