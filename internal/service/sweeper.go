package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/carticy-dev/agentic-checkout/internal/catalog"
	"github.com/carticy-dev/agentic-checkout/internal/domain"
	"github.com/carticy-dev/agentic-checkout/internal/repository"
)

// SweeperConfig controls the expiry sweep. Two independent thresholds feed
// the same expired state: a hard TTL past ExpiresAt and a shorter
// inactivity window for abandoned sessions.
type SweeperConfig struct {
	Interval       time.Duration
	AbandonedAfter time.Duration
	BatchSize      int
}

// DefaultSweeperConfig returns the sweep defaults.
func DefaultSweeperConfig() SweeperConfig {
	return SweeperConfig{
		Interval:       time.Minute,
		AbandonedAfter: time.Hour,
		BatchSize:      100,
	}
}

// Sweeper expires open sessions in bounded batches on a timer.
type Sweeper struct {
	sessions repository.SessionRepository
	reserver catalog.Reserver
	cfg      SweeperConfig
	logger   *slog.Logger
	now      func() time.Time

	stop chan struct{}
	done chan struct{}
}

// NewSweeper creates an expiry sweeper.
func NewSweeper(sessions repository.SessionRepository, reserver catalog.Reserver, cfg SweeperConfig, log *slog.Logger) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	return &Sweeper{
		sessions: sessions,
		reserver: reserver,
		cfg:      cfg,
		logger:   log,
		now:      time.Now,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the background sweep loop.
func (s *Sweeper) Start(ctx context.Context) {
	go s.run(ctx)
}

func (s *Sweeper) run(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n, err := s.Sweep(ctx); err != nil {
				s.logger.ErrorContext(ctx, "expiry sweep failed", slog.String("error", err.Error()))
			} else if n > 0 {
				s.logger.InfoContext(ctx, "expired sessions", slog.Int("count", n))
			}
		case <-s.stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Stop halts the sweep loop and waits for an in-flight sweep to finish.
func (s *Sweeper) Stop() {
	close(s.stop)
	<-s.done
}

// Sweep runs one bounded expiry pass and returns how many sessions it
// expired. A session that loses its version check to concurrent activity is
// skipped; the next pass will see its refreshed timestamps.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	now := s.now().UTC()
	abandonedBefore := now.Add(-s.cfg.AbandonedAfter)

	sessions, err := s.sessions.ListExpirable(ctx, now, abandonedBefore, s.cfg.BatchSize)
	if err != nil {
		return 0, err
	}

	var expired int
	for _, sess := range sessions {
		if !sess.CanTransitionTo(domain.SessionStatusExpired) {
			continue
		}
		// A payment capture may be resolving; let the claim settle first.
		if sess.CompletionInProgress(now) {
			continue
		}
		sess.Status = domain.SessionStatusExpired
		if err := s.sessions.Update(ctx, sess); err != nil {
			if errors.Is(err, repository.ErrVersionConflict) {
				continue
			}
			return expired, err
		}
		if s.reserver != nil {
			if err := s.reserver.Release(ctx, sess.ID); err != nil {
				s.logger.WarnContext(ctx, "reservation release failed",
					slog.String("session_id", sess.ID), slog.String("error", err.Error()))
			}
		}
		expired++
	}
	return expired, nil
}
