package worker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"emotion-comfort/internal/service"
	"emotion-comfort/internal/tasks"
)

// sweepTimeout bounds a single sweep pass so a slow store cannot pile
// up overlapping sweep tasks.
const sweepTimeout = 30 * time.Second

// SessionSweepHandler ends sessions past their end time. A failure on
// one session is logged and the rest of the batch still runs; that
// isolation lives in the service, the handler only reports the tally.
type SessionSweepHandler struct {
	live *service.LiveService
}

// NewSessionSweepHandler creates a SessionSweepHandler.
func NewSessionSweepHandler(live *service.LiveService) *SessionSweepHandler {
	if live == nil {
		panic("LiveService cannot be nil for SessionSweepHandler")
	}
	return &SessionSweepHandler{live: live}
}

// ProcessTask implements asynq.Handler.
func (h *SessionSweepHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	logCtx := logrus.WithField("task_type", t.Type())

	var payload tasks.SessionSweepPayload
	if err := json.Unmarshal(t.Payload(), &payload); err == nil && !payload.ScheduledAt.IsZero() {
		logCtx = logCtx.WithField("queue_latency_ms", time.Since(payload.ScheduledAt).Milliseconds())
	}

	sweepCtx, cancel := context.WithTimeout(ctx, sweepTimeout)
	defer cancel()

	ended, err := h.live.CloseExpired(sweepCtx)
	if err != nil {
		logCtx.WithError(err).Error("Session sweep failed to list expired sessions")
		return err
	}
	if ended > 0 {
		logCtx.WithField("ended", ended).Info("Session sweep ended expired sessions")
	} else {
		logCtx.Debug("Session sweep found nothing to end")
	}
	return nil
}
