package main

// Package main is the reportalin-agent binary: it connects to a running
// reportalin-mcp server, hands the server's tools to a completion
// provider, and drives the reasoning loop until the model answers.
//
// Responsibilities:
//   - Dial the MCP server over SSE with the configured bearer token
//   - Select and configure the completion provider from flags and env
//   - Run one query through the agent loop and print the answer
//
// Exit codes:
//   0  answered (or --version)
//   1  connection or provider failure
//   2  configuration error

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/reportalin/reportalin-mcp/internal/agent"
	"github.com/reportalin/reportalin-mcp/internal/llm"
	"github.com/reportalin/reportalin-mcp/internal/logging"
	"github.com/reportalin/reportalin-mcp/internal/mcp"
	"github.com/reportalin/reportalin-mcp/internal/mcpclient"
)

const (
	exitOK     = 0
	exitRun    = 1
	exitConfig = 2
)

const defaultSystemPrompt = "You are a clinical study data analyst. " +
	"Answer using the analytical tools provided; every aggregate they return " +
	"is privacy-preserving. When a tool reports a suppressed result, say so " +
	"rather than guessing."

func main() {
	os.Exit(run())
}

func run() int {
	var (
		flagServer   string
		flagToken    string
		flagProvider string
		flagModel    string
		flagBaseURL  string
		flagBudget   int
		flagTimeout  time.Duration
		flagVersion  bool
	)

	exitCode := exitOK

	rootCmd := &cobra.Command{
		Use:           "reportalin-agent [query]",
		Short:         "Ask a question against a reportalin-mcp server through an LLM",
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if flagVersion {
				fmt.Fprintf(os.Stderr, "reportalin-agent v%s\n", mcp.ServerVersion)
				return nil
			}
			if len(args) == 0 || strings.TrimSpace(args[0]) == "" {
				exitCode = exitConfig
				return fmt.Errorf("a query argument is required")
			}
			query := args[0]

			if flagToken == "" {
				flagToken = os.Getenv("REPORTALIN_MCP_AUTH_TOKEN")
			}

			model, err := newProvider(flagProvider, flagModel, flagBaseURL)
			if err != nil {
				exitCode = exitConfig
				return err
			}

			logger, err := logging.New(&logging.Config{Level: "info", StderrOnly: true})
			if err != nil {
				exitCode = exitRun
				return err
			}
			defer logger.Sync() //nolint:errcheck

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			client, err := mcpclient.Dial(ctx, mcpclient.Config{
				BaseURL:     strings.TrimRight(flagServer, "/"),
				Token:       flagToken,
				CallTimeout: flagTimeout,
				Logger:      logger,
			})
			if err != nil {
				exitCode = exitRun
				return fmt.Errorf("connect to %s: %w", flagServer, err)
			}
			defer client.Close()

			driver := agent.New(model, client, logger)
			driver.SystemPrompt = defaultSystemPrompt
			driver.ToolBudget = flagBudget

			result, err := driver.Run(ctx, query)
			if err != nil {
				exitCode = exitRun
				return err
			}

			fmt.Println(result.Answer)
			logger.Info("query answered",
				zap.Int("tool_calls", result.ToolCallsMade),
				zap.Int("prompt_tokens", result.Usage.PromptTokens),
				zap.Int("completion_tokens", result.Usage.CompletionTokens))
			return nil
		},
	}

	rootCmd.Flags().StringVar(&flagServer, "server", "http://127.0.0.1:8000", "MCP server origin")
	rootCmd.Flags().StringVar(&flagToken, "token", "", "bearer token (default: REPORTALIN_MCP_AUTH_TOKEN)")
	rootCmd.Flags().StringVar(&flagProvider, "provider", "anthropic", "completion provider: openai or anthropic")
	rootCmd.Flags().StringVar(&flagModel, "model", "", "model name (required)")
	rootCmd.Flags().StringVar(&flagBaseURL, "base-url", "", "override the provider API base URL")
	rootCmd.Flags().IntVar(&flagBudget, "budget", agent.DefaultToolBudget, "max tool-call rounds per query")
	rootCmd.Flags().DurationVar(&flagTimeout, "timeout", mcpclient.DefaultCallTimeout, "per-call timeout")
	rootCmd.Flags().BoolVar(&flagVersion, "version", false, "print version to stderr and exit")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "reportalin-agent: %v\n", err)
		if exitCode == exitOK {
			exitCode = exitRun
		}
	}
	return exitCode
}

// newProvider builds the completion client. API keys come from the
// environment only; they are never accepted as flags.
func newProvider(provider, model, baseURL string) (llm.Client, error) {
	if model == "" {
		return nil, fmt.Errorf("--model is required")
	}
	switch provider {
	case "openai":
		key := os.Getenv("OPENAI_API_KEY")
		if key == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY not set")
		}
		return llm.NewOpenAIClient(key, model, baseURL), nil
	case "anthropic":
		key := os.Getenv("ANTHROPIC_API_KEY")
		if key == "" {
			return nil, fmt.Errorf("ANTHROPIC_API_KEY not set")
		}
		return llm.NewAnthropicClient(key, model, baseURL), nil
	default:
		return nil, fmt.Errorf("unknown provider %q (openai or anthropic)", provider)
	}
}
