// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

package auth

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/samber/oops"
)

// SessionSweeper periodically deletes expired sessions.
type SessionSweeper struct {
	sessions SessionRepository
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewSessionSweeper creates a sweeper running every interval.
func NewSessionSweeper(sessions SessionRepository, interval time.Duration, logger *slog.Logger) (*SessionSweeper, error) {
	if sessions == nil {
		return nil, oops.Code("SWEEPER_INVALID").Errorf("sessions repository is required")
	}
	if interval <= 0 {
		return nil, oops.Code("SWEEPER_INVALID").
			With("interval", interval.String()).
			Errorf("sweep interval must be positive")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionSweeper{
		sessions: sessions,
		interval: interval,
		logger:   logger,
		now:      time.Now,
	}, nil
}

// SweepOnce deletes every session expired now and returns how many went.
func (s *SessionSweeper) SweepOnce(ctx context.Context) (int64, error) {
	n, err := s.sessions.DeleteExpired(ctx, s.now())
	if err != nil {
		return 0, oops.Code("SESSION_SWEEP_FAILED").
			With("operation", "delete expired sessions").
			Wrap(err)
	}
	if n > 0 {
		recordSessionEvents(EventSwept, n)
	}
	return n, nil
}

// Start runs the sweep loop in the background until Stop or ctx is done.
func (s *SessionSweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return oops.Code("SWEEPER_RUNNING").Errorf("session sweeper already running")
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	go s.loop(ctx, s.done)
	s.logger.Info("session sweeper started", "interval", s.interval.String())
	return nil
}

// Stop halts the sweep loop and waits for it to exit.
func (s *SessionSweeper) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	s.logger.Info("session sweeper stopped")
}

func (s *SessionSweeper) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.SweepOnce(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				s.logger.WarnContext(ctx, "best-effort session sweep failed",
					"operation", "sweep_sessions",
					"error", err.Error())
				continue
			}
			if n > 0 {
				s.logger.DebugContext(ctx, "swept expired sessions", "count", n)
			}
		}
	}
}
