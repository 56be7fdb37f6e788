package backup

import (
	"context"
	"fmt"
	"time"

	"callcore/internal/core/domain"
	"callcore/internal/core/ports"
	"callcore/pkg/backup"

	"go.uber.org/zap"
)

const callLogKind = "call_log"

type Config struct {
	Interval time.Duration
	// Keep is how many snapshots survive pruning.
	Keep int
}

// CallLogSnapshots periodically writes the call log to storage and restores
// the newest snapshot into a repository at startup. It lets the memory
// repository survive restarts.
type CallLogSnapshots struct {
	service *backup.Service[domain.CallLogEntry]
	repo    ports.CallLogRepository
	cfg     Config
	logger  *zap.SugaredLogger
	stop    chan struct{}
	done    chan struct{}
}

func NewCallLogSnapshots(storage backup.Storage, repo ports.CallLogRepository, cfg Config, logger *zap.SugaredLogger) *CallLogSnapshots {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.Keep <= 0 {
		cfg.Keep = 3
	}
	return &CallLogSnapshots{
		service: backup.NewService[domain.CallLogEntry](storage, callLogKind, "1"),
		repo:    repo,
		cfg:     cfg,
		logger:  logger.With("component", "call_log_snapshots"),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Restore replays the newest snapshot into the repository and returns how many
// entries it held.
func (s *CallLogSnapshots) Restore(ctx context.Context) (int, error) {
	snap, err := s.service.Latest(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to load call log snapshot: %w", err)
	}
	if snap == nil {
		return 0, nil
	}
	for _, e := range snap.Records {
		if err := s.repo.Insert(ctx, e); err != nil {
			return 0, fmt.Errorf("failed to restore call log entry %s: %w", e.ID, err)
		}
	}
	s.logger.Infow("restored call log", "entries", len(snap.Records), "taken_at", snap.Timestamp)
	return len(snap.Records), nil
}

// SnapshotNow writes the whole call log and prunes old snapshots.
func (s *CallLogSnapshots) SnapshotNow(ctx context.Context) (string, error) {
	entries, err := s.repo.List(ctx, 0)
	if err != nil {
		return "", fmt.Errorf("failed to list call log: %w", err)
	}
	name, err := s.service.Create(ctx, entries)
	if err != nil {
		return "", err
	}
	if deleted, err := s.service.Prune(ctx, s.cfg.Keep); err != nil {
		s.logger.Warnw("failed to prune call log snapshots", "error", err)
	} else if deleted > 0 {
		s.logger.Debugw("pruned call log snapshots", "deleted", deleted)
	}
	return name, nil
}

// Start runs until Stop or ctx ends, taking a final snapshot on the way out.
func (s *CallLogSnapshots) Start(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.snapshot(ctx)
		case <-s.stop:
			s.snapshot(context.Background())
			return
		case <-ctx.Done():
			s.snapshot(context.Background())
			return
		}
	}
}

func (s *CallLogSnapshots) snapshot(ctx context.Context) {
	name, err := s.SnapshotNow(ctx)
	if err != nil {
		s.logger.Errorw("call log snapshot failed", "error", err)
		return
	}
	s.logger.Debugw("call log snapshot written", "name", name)
}

// Stop ends Start and waits for its final snapshot.
func (s *CallLogSnapshots) Stop() {
	select {
	case <-s.stop:
	default:
		close(s.stop)
	}
	<-s.done
}
