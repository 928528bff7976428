// Package sweep force-closes sessions that were never exited.
package sweep

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"gymattendance/internal/attendance"
	"gymattendance/internal/clock"
	"gymattendance/internal/metrics"
)

// Annotation marks sessions closed by the sweep.
const Annotation = "[AUTO-CLOSE] orphan sweep"

// Result summarizes one sweep run.
type Result struct {
	Scanned int
	Closed  int
	Skipped int
}

// Sweeper closes open sessions from a previous day or older than MaxAge.
type Sweeper struct {
	ledger  attendance.Ledger
	clock   clock.Clock
	maxAge  time.Duration
	log     *zap.Logger
	metrics *metrics.Recorder
}

// New builds a sweeper that treats sessions older than maxAge (default 12h) as orphans.
func New(ledger attendance.Ledger, c clock.Clock, maxAge time.Duration, log *zap.Logger, m *metrics.Recorder) *Sweeper {
	if maxAge <= 0 {
		maxAge = 12 * time.Hour
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Sweeper{ledger: ledger, clock: c, maxAge: maxAge, log: log, metrics: m}
}

// Sweep runs once. A session closed by someone else meanwhile is skipped; any other
// failure stops the run and is returned together with the partial result.
func (s *Sweeper) Sweep(ctx context.Context) (Result, error) {
	now := s.clock.Now()
	orphans, err := s.ledger.ListOrphans(ctx, now.Add(-s.maxAge))
	if err != nil {
		return Result{}, err
	}

	res := Result{Scanned: len(orphans)}
	defer func() { s.metrics.OrphansClosed(res.Closed) }()

	for _, o := range orphans {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		_, err := s.ledger.ForceCloseOrphan(ctx, o.ID, now, Annotation)
		switch {
		case err == nil:
			res.Closed++
		case errors.Is(err, attendance.ErrAlreadyClosed), errors.Is(err, attendance.ErrSessionNotFound):
			res.Skipped++
		default:
			s.log.Error("sweep close failed", zap.Int64("session_id", o.ID), zap.Error(err))
			return res, err
		}
	}
	if res.Scanned > 0 {
		s.log.Info("orphan sweep finished",
			zap.Int("scanned", res.Scanned),
			zap.Int("closed", res.Closed),
			zap.Int("skipped", res.Skipped))
	}
	return res, nil
}

// Run sweeps every interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		if _, err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
			s.log.Warn("orphan sweep failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}
