// Package notification fans call notifications out to push, realtime and the
// event stream without blocking the request that caused them.
package notification

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"callsignal-backend/internal/domain"
	"callsignal-backend/internal/events"
	"callsignal-backend/pkg/constants"
	"callsignal-backend/pkg/logger"
	"callsignal-backend/pkg/metrics"
	"callsignal-backend/pkg/push"
)

const (
	kindIncoming    = "incoming"
	kindEnded       = "ended"
	kindMissed      = "missed"
	kindParticipant = "participant_update"

	sinkPush = "push"
	sinkPool = "pool"
)

// PushSender is the subset of push.Service the gateway drives
type PushSender interface {
	SendIncomingCall(ctx context.Context, data *push.CallNotificationData, calleeIDs []uuid.UUID, ringTTL time.Duration) error
	SendCallEnded(ctx context.Context, data *push.CallNotificationData, participantIDs []uuid.UUID) error
	SendMissedCall(ctx context.Context, data *push.CallNotificationData, calleeIDs []uuid.UUID) error
}

type sink struct {
	name      string
	publisher events.Publisher
}

// Gateway runs every notification on a bounded worker pool. Failures are
// logged and counted, never returned to the caller.
type Gateway struct {
	pool    *ants.Pool
	push    PushSender
	sinks   []sink
	ringTTL time.Duration
	timeout time.Duration
	wg      sync.WaitGroup
}

// Option configures a Gateway
type Option func(*Gateway)

// WithPush enables mobile push delivery
func WithPush(p PushSender) Option {
	return func(g *Gateway) { g.push = p }
}

// WithPublisher adds an event sink such as Redis pub/sub or Kafka
func WithPublisher(name string, p events.Publisher) Option {
	return func(g *Gateway) { g.sinks = append(g.sinks, sink{name: name, publisher: p}) }
}

// WithRingTTL bounds how long an incoming call push stays deliverable
func WithRingTTL(d time.Duration) Option {
	return func(g *Gateway) { g.ringTTL = d }
}

// WithTimeout bounds each notification task
func WithTimeout(d time.Duration) Option {
	return func(g *Gateway) { g.timeout = d }
}

// NewGateway creates a gateway backed by a non-blocking pool of poolSize workers
func NewGateway(poolSize int, opts ...Option) (*Gateway, error) {
	pool, err := ants.NewPool(poolSize, ants.WithPreAlloc(true), ants.WithNonblocking(true))
	if err != nil {
		return nil, err
	}

	g := &Gateway{
		pool:    pool,
		ringTTL: constants.RingTimeout,
		timeout: constants.NotificationTimeout,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// NotifyIncoming rings recipients
func (g *Gateway) NotifyIncoming(ctx context.Context, call *domain.Call, callerName string, recipients []uuid.UUID) {
	g.dispatch(ctx, kindIncoming, call, recipients, func(ctx context.Context, call *domain.Call, ids []uuid.UUID) {
		event := events.NewCallEvent(events.TypeIncoming, call, ids)
		event.CallerName = callerName
		g.publish(ctx, kindIncoming, event)

		if g.push != nil {
			g.record(ctx, kindIncoming, sinkPush, call,
				g.push.SendIncomingCall(ctx, pushData(call, callerName), ids, g.ringTTL))
		}
	})
}

// NotifyEnded tells recipients the call is over
func (g *Gateway) NotifyEnded(ctx context.Context, call *domain.Call, recipients []uuid.UUID) {
	g.dispatch(ctx, kindEnded, call, recipients, func(ctx context.Context, call *domain.Call, ids []uuid.UUID) {
		g.publish(ctx, kindEnded, events.NewCallEvent(events.TypeEnded, call, ids))

		if g.push != nil {
			g.record(ctx, kindEnded, sinkPush, call,
				g.push.SendCallEnded(ctx, pushData(call, ""), ids))
		}
	})
}

// NotifyMissed tells recipients they missed the call
func (g *Gateway) NotifyMissed(ctx context.Context, call *domain.Call, callerName string, recipients []uuid.UUID) {
	g.dispatch(ctx, kindMissed, call, recipients, func(ctx context.Context, call *domain.Call, ids []uuid.UUID) {
		event := events.NewCallEvent(events.TypeMissed, call, ids)
		event.CallerName = callerName
		g.publish(ctx, kindMissed, event)

		if g.push != nil {
			g.record(ctx, kindMissed, sinkPush, call,
				g.push.SendMissedCall(ctx, pushData(call, callerName), ids))
		}
	})
}

// NotifyParticipantUpdate sends a participant change to connected clients.
// It is realtime only.
func (g *Gateway) NotifyParticipantUpdate(ctx context.Context, call *domain.Call, participant *domain.CallParticipant, recipients []uuid.UUID) {
	participant = participant.Clone()
	g.dispatch(ctx, kindParticipant, call, recipients, func(ctx context.Context, call *domain.Call, ids []uuid.UUID) {
		event := events.NewCallEvent(events.TypeParticipantUpdated, call, ids)
		event.Participant = participant
		g.publish(ctx, kindParticipant, event)
	})
}

// Close waits up to timeout for queued notifications, then stops the pool
func (g *Gateway) Close(timeout time.Duration) error {
	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-time.After(timeout):
		err = errors.New("timed out waiting for notifications to drain")
	}
	g.pool.Release()
	return err
}

func (g *Gateway) dispatch(ctx context.Context, kind string, call *domain.Call, recipients []uuid.UUID, task func(context.Context, *domain.Call, []uuid.UUID)) {
	if len(recipients) == 0 {
		return
	}

	// the task outlives the request, but keeps its values for logging
	base := context.WithoutCancel(ctx)
	ids := append([]uuid.UUID(nil), recipients...)
	snapshot := call.Clone()

	g.wg.Add(1)
	err := g.pool.Submit(func() {
		defer g.wg.Done()

		taskCtx, cancel := context.WithTimeout(base, g.timeout)
		defer cancel()
		task(taskCtx, snapshot, ids)
	})
	if err != nil {
		g.wg.Done()
		metrics.CallNotificationFailuresTotal.WithLabelValues(kind, sinkPool).Inc()
		logger.FromContext(ctx).Warn("Notification dropped",
			zap.String("kind", kind),
			zap.String("call_id", call.CallID.String()),
			zap.Int("recipients", len(ids)),
			zap.Error(err))
	}
}

func (g *Gateway) publish(ctx context.Context, kind string, event *events.CallEvent) {
	for _, s := range g.sinks {
		err := s.publisher.Publish(ctx, event)
		if err != nil {
			metrics.CallNotificationFailuresTotal.WithLabelValues(kind, s.name).Inc()
			logger.FromContext(ctx).Warn("Failed to publish call event",
				zap.String("sink", s.name),
				zap.String("kind", kind),
				zap.String("call_id", event.CallID.String()),
				zap.Error(err))
			continue
		}
		metrics.CallNotificationsTotal.WithLabelValues(kind, s.name).Inc()
	}
}

func (g *Gateway) record(ctx context.Context, kind, sinkName string, call *domain.Call, err error) {
	if err != nil {
		metrics.CallNotificationFailuresTotal.WithLabelValues(kind, sinkName).Inc()
		logger.FromContext(ctx).Warn("Failed to send push notification",
			zap.String("kind", kind),
			zap.String("call_id", call.CallID.String()),
			zap.Error(err))
		return
	}
	metrics.CallNotificationsTotal.WithLabelValues(kind, sinkName).Inc()
}

func pushData(call *domain.Call, callerName string) *push.CallNotificationData {
	data := &push.CallNotificationData{
		CallID:         call.CallID,
		ConversationID: call.ConversationID,
		CallerID:       call.CallerID,
		CallerName:     callerName,
		CallType:       string(call.CallType),
		RoomID:         call.RoomID,
		Timestamp:      time.Now().Unix(),
	}
	if call.Duration != nil {
		data.Duration = int64(*call.Duration)
	}
	return data
}
