package main

// Package main is the entry point for the reportalin-mcp server binary.
//
// Responsibilities:
//   - Merge CLI flags over the REPORTALIN_* environment and config file
//   - Validate configuration before anything binds or loads
//   - Load the initial dataset snapshot (fatal when it fails)
//   - Run the stdio or SSE transport until a shutdown signal arrives
//
// Exit codes:
//   0  clean shutdown (or --version)
//   1  startup failure
//   2  configuration error
//   3  unrecoverable I/O error

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/reportalin/reportalin-mcp/internal/config"
	"github.com/reportalin/reportalin-mcp/internal/logging"
	"github.com/reportalin/reportalin-mcp/internal/mcp"
	"github.com/reportalin/reportalin-mcp/internal/server"
)

const (
	exitOK     = 0
	exitStart  = 1
	exitConfig = 2
	exitIO     = 3
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		flagConfig    string
		flagTransport string
		flagHost      string
		flagPort      int
		flagReload    bool
		flagVersion   bool
	)

	exitCode := exitOK

	rootCmd := &cobra.Command{
		Use:           "reportalin-mcp",
		Short:         "Privacy-preserving MCP server over de-identified clinical study data",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if flagVersion {
				// stderr keeps the stdio protocol stream clean.
				fmt.Fprintf(os.Stderr, "%s v%s\n", mcp.ServerName, mcp.ServerVersion)
				return nil
			}

			cfg, err := config.Load(flagConfig)
			if err != nil {
				exitCode = exitConfig
				return err
			}

			// Flags given explicitly override file and environment.
			if cmd.Flags().Changed("transport") {
				cfg.MCP.Transport = flagTransport
			}
			if cmd.Flags().Changed("host") {
				cfg.MCP.Host = flagHost
			}
			if cmd.Flags().Changed("port") {
				cfg.MCP.Port = flagPort
			}
			if cmd.Flags().Changed("reload") {
				cfg.Data.Reload = flagReload
			}

			if err := cfg.Valid(); err != nil {
				exitCode = exitConfig
				return err
			}

			logger, err := newLogger(cfg)
			if err != nil {
				exitCode = exitStart
				return err
			}
			defer logger.Sync() //nolint:errcheck

			if cfg.MCP.Transport == config.TransportSSE && !isLoopback(cfg.MCP.Host) {
				logger.Warn("binding to a non-local address; ensure auth and TLS are configured",
					zap.String("host", cfg.MCP.Host))
			}

			srv, err := server.New(cfg, logger)
			if err != nil {
				exitCode = exitStart
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			logger.Info("starting",
				zap.String("transport", cfg.MCP.Transport),
				zap.String("environment", cfg.Environment),
				zap.String("version", mcp.ServerVersion))

			if err := srv.Run(ctx); err != nil {
				exitCode = exitIO
				return err
			}
			return nil
		},
	}

	rootCmd.Flags().StringVar(&flagConfig, "config", "", "path to YAML config file")
	rootCmd.Flags().StringVar(&flagTransport, "transport", config.TransportStdio, "transport: stdio or sse")
	rootCmd.Flags().StringVar(&flagHost, "host", "127.0.0.1", "bind address for sse transport")
	rootCmd.Flags().IntVar(&flagPort, "port", 8000, "bind port for sse transport (1024..65535)")
	rootCmd.Flags().BoolVar(&flagReload, "reload", false, "watch the data root and hot-swap snapshots (dev only)")
	rootCmd.Flags().BoolVar(&flagVersion, "version", false, "print version to stderr and exit")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "reportalin-mcp: %v\n", err)
		if exitCode == exitOK {
			exitCode = exitStart
		}
	}
	return exitCode
}

// newLogger builds the process logger. In stdio mode everything must go
// to stderr: stdout carries the protocol.
func newLogger(cfg *config.Config) (*zap.Logger, error) {
	return logging.New(&logging.Config{
		Level:      cfg.Logging.Level,
		FilePath:   cfg.Logging.FilePath,
		StderrOnly: cfg.MCP.Transport == config.TransportStdio,
	})
}

func isLoopback(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
