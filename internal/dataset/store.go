package dataset

import (
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/reportalin/reportalin-mcp/internal/metrics"
)

// Store holds the active snapshot behind an atomic pointer. Readers never
// block; Reload swaps the pointer and in-flight requests keep whichever
// snapshot they already dereferenced.
type Store struct {
	loader *Loader
	logger *zap.Logger
	active atomic.Pointer[Snapshot]
}

// NewStore creates a store around loader. No snapshot is loaded yet; call
// Load before serving.
func NewStore(loader *Loader, logger *zap.Logger) *Store {
	return &Store{loader: loader, logger: logger}
}

// Load performs the initial load. Fatal at startup when it fails.
func (s *Store) Load() error {
	snap, err := s.loader.Load()
	if err != nil {
		metrics.SnapshotReloads.WithLabelValues("error").Inc()
		return fmt.Errorf("initial snapshot load: %w", err)
	}
	s.active.Store(snap)
	s.observe(snap)
	return nil
}

// Current returns the active snapshot, or nil before the first Load. Safe
// for concurrent use.
func (s *Store) Current() *Snapshot {
	return s.active.Load()
}

// Ready reports whether an initial snapshot has been loaded.
func (s *Store) Ready() bool {
	return s.active.Load() != nil
}

// Reload builds a fresh snapshot and swaps it in atomically. On failure the
// previous snapshot stays active.
func (s *Store) Reload() error {
	snap, err := s.loader.Load()
	if err != nil {
		metrics.SnapshotReloads.WithLabelValues("error").Inc()
		s.logger.Warn("snapshot reload failed, keeping previous snapshot", zap.Error(err))
		return err
	}
	s.active.Store(snap)
	s.observe(snap)
	s.logger.Info("snapshot reloaded",
		zap.Int("cleaned_tables", len(snap.Cleaned)),
		zap.Int("original_tables", len(snap.Original)),
		zap.Int("dictionary_tables", len(snap.Dictionary)),
		zap.Int("code_lists", len(snap.CodeLists)),
	)
	return nil
}

func (s *Store) observe(snap *Snapshot) {
	metrics.SnapshotReloads.WithLabelValues("ok").Inc()
	metrics.SnapshotTables.Set(float64(len(snap.Cleaned)))
}
