package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/lms-circulation-api/pkg/config"
)

// ReconciliationScheduler runs the nightly penalty sweep. One sweep at a
// time; a run that overlaps the next tick simply delays it.
type ReconciliationScheduler struct {
	penalties *PenaltyService
	cfg       config.ReconciliationConfig
	logger    *zap.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	started bool
}

// NewReconciliationScheduler wires the scheduler.
func NewReconciliationScheduler(penalties *PenaltyService, cfg config.ReconciliationConfig, logger *zap.Logger) *ReconciliationScheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReconciliationScheduler{penalties: penalties, cfg: cfg, logger: logger}
}

// Start launches the scheduling loop. No-op when disabled or already
// running.
func (s *ReconciliationScheduler) Start(ctx context.Context) {
	if s == nil || !s.cfg.Enabled {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.started = true
	go s.loop(runCtx)
	s.logger.Sugar().Infow("reconciliation scheduler started", "run_at", s.cfg.RunAt)
}

// Stop halts the loop and waits for an in-flight sweep to finish.
func (s *ReconciliationScheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	cancel := s.cancel
	done := s.done
	s.started = false
	s.mu.Unlock()

	cancel()
	<-done
	s.logger.Sugar().Infow("reconciliation scheduler stopped")
}

func (s *ReconciliationScheduler) loop(ctx context.Context) {
	defer close(s.done)
	for {
		wait := time.Until(s.nextRun(time.Now()))
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			if _, err := s.penalties.Reconcile(ctx); err != nil {
				s.logger.Sugar().Errorw("scheduled reconciliation failed", "error", err)
			}
		}
	}
}

// nextRun returns the next occurrence of the configured HH:MM, always in the
// future relative to now. A malformed RunAt falls back to 02:00.
func (s *ReconciliationScheduler) nextRun(now time.Time) time.Time {
	hour, minute, err := parseRunAt(s.cfg.RunAt)
	if err != nil {
		hour, minute = 2, 0
	}
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

func parseRunAt(raw string) (int, int, error) {
	parts := strings.Split(strings.TrimSpace(raw), ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("run_at must be HH:MM, got %q", raw)
	}
	var hour, minute int
	if _, err := fmt.Sscanf(raw, "%d:%d", &hour, &minute); err != nil {
		return 0, 0, fmt.Errorf("run_at must be HH:MM, got %q", raw)
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("run_at out of range: %q", raw)
	}
	return hour, minute, nil
}
