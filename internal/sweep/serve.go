package sweep

import (
	"context"
	"time"

	"go.uber.org/zap"

	"gymattendance/internal/queue"
)

// Serve sweeps every interval and also whenever a sweep job arrives on q, until ctx is
// done or the queue closes.
func (s *Sweeper) Serve(ctx context.Context, q queue.Queue, interval time.Duration) error {
	msgs, err := q.Consume(ctx)
	if err != nil {
		return err
	}
	go s.Run(ctx, interval)

	for msg := range msgs {
		if msg.Type != queue.TypeSweep {
			s.log.Warn("ignoring unknown job", zap.String("type", msg.Type))
			continue
		}
		job, err := queue.DecodeSweep(msg)
		if err != nil {
			s.log.Warn("malformed sweep job", zap.Error(err))
			continue
		}
		res, err := s.Sweep(ctx)
		if err != nil {
			s.log.Error("requested sweep failed", zap.String("job_id", job.ID), zap.Error(err))
			continue
		}
		s.log.Info("requested sweep done",
			zap.String("job_id", job.ID),
			zap.String("requested_by", job.RequestedBy),
			zap.Int("closed", res.Closed))
	}
	return ctx.Err()
}
