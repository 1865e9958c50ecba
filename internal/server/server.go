package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/reportalin/reportalin-mcp/internal/auth"
	"github.com/reportalin/reportalin-mcp/internal/config"
	"github.com/reportalin/reportalin-mcp/internal/dataset"
	"github.com/reportalin/reportalin-mcp/internal/db"
	"github.com/reportalin/reportalin-mcp/internal/mcp"
	"github.com/reportalin/reportalin-mcp/internal/middleware"
	"github.com/reportalin/reportalin-mcp/internal/tools"
)

// Package server assembles the MCP server from its components and owns
// the process lifecycle for both transports.
//
// Responsibilities:
//   - Wire store, kernel, sessions, transports, and middleware together
//   - Serve the public endpoints: /health, /ready, /metrics
//   - Run the HTTP server for SSE mode, or the stdio loop otherwise
//   - Shut down gracefully: close frames first, then a drain window

// shutdownGrace is how long in-flight streams get to drain after the
// close frame goes out.
const shutdownGrace = 5 * time.Second

// Server is the assembled MCP server.
type Server struct {
	cfg    *config.Config
	logger *zap.Logger

	store    *dataset.Store
	kernel   *tools.Kernel
	manager  *mcp.Manager
	sse      *mcp.SSETransport
	stdio    *mcp.StdioTransport
	limiter  *middleware.RateLimiter
	audit    db.Store
	watcher  *dataset.Watcher

	httpServer *http.Server
	startTime  time.Time

	cancel      context.CancelFunc
	wg          sync.WaitGroup
	shutdownOne sync.Once

	mu      sync.Mutex
	running bool
}

// New builds the server: loads the initial snapshot, opens the audit
// store, and wires the transports. It fails rather than serve with no
// data.
func New(cfg *config.Config, logger *zap.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if err := cfg.Valid(); err != nil {
		return nil, err
	}

	store := dataset.NewStore(&dataset.Loader{
		Root:        cfg.Data.Root,
		DatasetName: cfg.Data.DatasetName,
	}, logger)
	if err := store.Load(); err != nil {
		return nil, err
	}

	audit, err := db.NewSQLiteStore(cfg.Audit.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open audit store: %w", err)
	}

	kernel := tools.NewKernel(store, cfg.Privacy.MinKAnonymity, logger, audit)
	catalog := mcp.NewCatalog(store)
	dispatcher := mcp.NewDispatcher(kernel, catalog, logger)

	manager := mcp.NewManager(logger, mcp.DefaultIdleTimeout)

	s := &Server{
		cfg:     cfg,
		logger:  logger,
		store:   store,
		kernel:  kernel,
		manager: manager,
		audit:   audit,
	}

	switch cfg.MCP.Transport {
	case config.TransportSSE:
		s.sse = mcp.NewSSETransport(manager, dispatcher, logger)
		s.limiter = middleware.NewRateLimiter(cfg.RateLimit.Capacity, cfg.RateLimit.PerSecond)
	case config.TransportStdio:
		s.stdio = mcp.NewStdioTransport(dispatcher, logger, os.Stdin, os.Stdout)
	}

	if cfg.Data.Reload {
		watcher, err := dataset.NewWatcher(store, cfg.Data.Root, logger)
		if err != nil {
			logger.Warn("reload watcher unavailable", zap.Error(err))
		} else {
			s.watcher = watcher
		}
	}

	return s, nil
}

// Run starts the configured transport and blocks until ctx is done or
// the transport exits, then shuts down.
func (s *Server) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("server already running")
	}
	s.running = true
	s.startTime = time.Now()
	s.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	defer cancel()

	if s.watcher != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.watcher.Run(ctx)
		}()
	}

	if s.stdio != nil {
		err := s.stdio.Run(ctx)
		s.shutdown()
		return err
	}
	return s.runSSE(ctx)
}

func (s *Server) runSSE(ctx context.Context) error {
	secret := auth.NewRotatableSecret(s.cfg.MCP.AuthToken)
	chain := middleware.NewChain(secret, s.cfg.MCP.AuthEnabled, s.limiter,
		middleware.DefaultLimits(), s.cfg.TLS.Enabled, s.logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/ready", s.handleReady)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/mcp/sse", s.sse.HandleSSE)
	mux.HandleFunc("/mcp/messages", s.sse.HandleMessages)

	s.httpServer = &http.Server{
		Addr:        fmt.Sprintf("%s:%d", s.cfg.MCP.Host, s.cfg.MCP.Port),
		Handler:     chain.Wrap(mux),
		ReadTimeout: 30 * time.Second,
		// SSE streams are long-lived; no write timeout.
		IdleTimeout: 2 * time.Minute,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.sse.Run(ctx)
	}()

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening",
			zap.String("addr", s.httpServer.Addr),
			zap.Bool("tls", s.cfg.TLS.Enabled))
		var err error
		if s.cfg.TLS.Enabled {
			err = s.httpServer.ListenAndServeTLS(s.cfg.TLS.CertPath, s.cfg.TLS.KeyPath)
		} else {
			err = s.httpServer.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		s.shutdown()
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
		s.Stop()
		return <-errCh
	}
}

// Stop shuts the server down gracefully: sessions receive their close
// frame, then streams get shutdownGrace to drain before the listener
// is torn down.
func (s *Server) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	s.logger.Info("shutting down")
	s.manager.CloseAll()

	if s.httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("http shutdown", zap.Error(err))
		}
	}

	if s.cancel != nil {
		s.cancel()
	}
	s.shutdown()
}

// shutdown releases resources shared by both transports. Idempotent:
// Stop and Run both reach it.
func (s *Server) shutdown() {
	s.shutdownOne.Do(func() {
		s.wg.Wait()
		if s.limiter != nil {
			s.limiter.Stop()
		}
		if err := s.audit.Close(); err != nil {
			s.logger.Warn("audit store close", zap.Error(err))
		}
	})
}
