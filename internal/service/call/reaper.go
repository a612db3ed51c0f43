package call

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"callsignal-backend/internal/domain"
	"callsignal-backend/pkg/constants"
	"callsignal-backend/pkg/logger"
	"callsignal-backend/pkg/metrics"
)

// CleanupStaleCalls ends every ringing or ongoing call that started more than
// maxAge ago, exactly as if a participant had ended it. It returns how many
// calls this sweep ended.
func (s *Service) CleanupStaleCalls(ctx context.Context, maxAge time.Duration) (int, error) {
	return s.sweep(ctx, domain.ActiveCallStatuses(), maxAge, ReasonStale)
}

// ExpireRingingCalls ends calls nobody answered within ringTimeout. Ringing
// participants become missed.
func (s *Service) ExpireRingingCalls(ctx context.Context, ringTimeout time.Duration) (int, error) {
	return s.sweep(ctx, []domain.CallStatus{domain.CallStatusRinging}, ringTimeout, ReasonRingTimeout)
}

func (s *Service) sweep(ctx context.Context, statuses []domain.CallStatus, age time.Duration, reason string) (int, error) {
	now := s.now()
	cutoff := now.Add(-age)

	total := 0
	for {
		ids, err := s.store.ListStale(ctx, statuses, cutoff, s.sweepBatch)
		if err != nil {
			return total, storeError(err)
		}
		if len(ids) == 0 {
			return total, nil
		}

		ended := s.terminate(ctx, ids, statuses, now, reason)
		total += ended

		// a short page means we saw everything; a page with nothing ended
		// means the rest keep failing and will be retried next sweep
		if len(ids) < s.sweepBatch || ended == 0 {
			return total, ctx.Err()
		}
	}
}

func (s *Service) terminate(ctx context.Context, ids []uuid.UUID, statuses []domain.CallStatus, now time.Time, reason string) int {
	var ended atomic.Int64
	var g errgroup.Group
	g.SetLimit(s.sweepParallelism)

	for _, id := range ids {
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}

			t, err := s.mutate(ctx, id, func(cs *domain.CallSession) error {
				// the call may have moved on since it was listed
				if !containsCallStatus(statuses, cs.Call.Status) {
					return nil
				}
				cs.End(now)
				return nil
			})
			if err != nil {
				logger.FromContext(ctx).Error("Failed to terminate stale call",
					zap.String("call_id", id.String()),
					zap.String("reason", reason),
					zap.Error(err))
				return nil
			}
			if !t.ended {
				return nil
			}

			ended.Add(1)
			metrics.CallReaperTerminatedTotal.WithLabelValues(reason).Inc()
			s.afterEnd(ctx, t, nil, reason)
			return nil
		})
	}
	_ = g.Wait()
	return int(ended.Load())
}

func containsCallStatus(list []domain.CallStatus, s domain.CallStatus) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// ReaperConfig tunes the stale-call reaper
type ReaperConfig struct {
	Interval    time.Duration
	MaxAge      time.Duration
	RingTimeout time.Duration
	LockKey     string
}

// SweepResult counts the calls one sweep ended
type SweepResult struct {
	Expired int  `json:"expired"`
	Stale   int  `json:"stale"`
	Skipped bool `json:"skipped"`
}

// Reaper periodically ends calls whose termination signal was lost
type Reaper struct {
	service *Service
	locker  Locker
	cfg     ReaperConfig
}

// NewReaper creates a reaper. With a nil locker every instance sweeps.
func NewReaper(service *Service, locker Locker, cfg ReaperConfig) *Reaper {
	if cfg.Interval <= 0 {
		cfg.Interval = constants.ReaperInterval
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = constants.StaleCallMaxAge
	}
	if cfg.RingTimeout <= 0 {
		cfg.RingTimeout = constants.RingTimeout
	}
	if cfg.LockKey == "" {
		cfg.LockKey = constants.ReaperLockKey
	}
	return &Reaper{service: service, locker: locker, cfg: cfg}
}

// Run sweeps every interval until ctx is cancelled
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	logger.Info("Call reaper started",
		zap.Duration("interval", r.cfg.Interval),
		zap.Duration("max_age", r.cfg.MaxAge),
		zap.Duration("ring_timeout", r.cfg.RingTimeout))

	for {
		select {
		case <-ctx.Done():
			logger.Info("Call reaper stopped")
			return
		case <-ticker.C:
			if _, err := r.Sweep(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("Call reaper sweep failed", zap.Error(err))
			}
		}
	}
}

// Sweep runs one pass unless another instance holds the reaper lock
func (r *Reaper) Sweep(ctx context.Context) (SweepResult, error) {
	if r.locker != nil {
		release, ok, err := r.locker.TryLock(ctx, r.cfg.LockKey, r.cfg.Interval)
		if err != nil {
			metrics.CallReaperSweepsTotal.WithLabelValues("error").Inc()
			return SweepResult{}, err
		}
		if !ok {
			metrics.CallReaperSweepsTotal.WithLabelValues("skipped").Inc()
			return SweepResult{Skipped: true}, nil
		}
		defer func() {
			if err := release(context.WithoutCancel(ctx)); err != nil {
				logger.Warn("Failed to release reaper lock", zap.Error(err))
			}
		}()
	}

	var result SweepResult
	var expireErr, staleErr error
	result.Expired, expireErr = r.service.ExpireRingingCalls(ctx, r.cfg.RingTimeout)
	result.Stale, staleErr = r.service.CleanupStaleCalls(ctx, r.cfg.MaxAge)

	if err := errors.Join(expireErr, staleErr); err != nil {
		metrics.CallReaperSweepsTotal.WithLabelValues("error").Inc()
		return result, err
	}

	metrics.CallReaperSweepsTotal.WithLabelValues("ok").Inc()
	if result.Expired+result.Stale > 0 {
		logger.Info("Call reaper sweep finished",
			zap.Int("expired", result.Expired),
			zap.Int("stale", result.Stale))
	}
	return result, nil
}
