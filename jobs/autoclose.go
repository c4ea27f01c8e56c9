package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	"github.com/guildticket/guildticket/internal/actor"
	jobmetrics "github.com/guildticket/guildticket/internal/jobs"
	"github.com/guildticket/guildticket/internal/shared"
	"github.com/guildticket/guildticket/internal/tickets"
)

// AutoCloseActorID identifies the worker in ticket audit entries.
const AutoCloseActorID = "autoclose-worker"

const sweepParallelism = 4

// AutoCloser is the lifecycle surface the auto-close jobs drive.
type AutoCloser interface {
	AutoClose(ctx context.Context, ticketID int64, closeRequestID, closedByID string) (tickets.Ticket, error)
	ListDue(ctx context.Context, now time.Time, limit int) ([]tickets.Ticket, error)
}

// AutoCloseJob handles ticket:autoclose and ticket:autoclose_sweep tasks.
type AutoCloseJob struct {
	Lifecycle  AutoCloser
	Logger     *slog.Logger
	Metrics    *jobmetrics.Metrics
	SweepLimit int
	clock      func() time.Time
}

// NewAutoCloseJob wires dependencies for the auto-close handlers.
func NewAutoCloseJob(lifecycle AutoCloser, logger *slog.Logger, metrics *jobmetrics.Metrics, sweepLimit int) *AutoCloseJob {
	return &AutoCloseJob{
		Lifecycle:  lifecycle,
		Logger:     logger,
		Metrics:    metrics,
		SweepLimit: sweepLimit,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle processes one scheduled auto-close. Deliveries whose ticket moved
// on or disappeared are dropped without retry; other failures are retried.
func (j *AutoCloseJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Lifecycle == nil {
		return errors.New("auto close: handler not configured")
	}
	var payload AutoClosePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil || payload.TicketID <= 0 {
		return fmt.Errorf("auto close: bad payload: %w", asynq.SkipRetry)
	}

	tracker := j.Metrics.Track(TaskAutoClose)
	logger := j.logger().With(
		slog.Int64("ticket_id", payload.TicketID),
		slog.String("close_request_id", payload.CloseRequestID))

	err := j.closeOne(ctx, payload.TicketID, payload.CloseRequestID)
	switch {
	case err == nil:
		logger.Info("ticket auto closed")
		return tracker.End(nil)
	case skippable(err):
		logger.Info("auto close skipped", slog.Any("reason", err))
		_ = tracker.End(nil)
		return fmt.Errorf("auto close: %v: %w", err, asynq.SkipRetry)
	default:
		logger.Error("auto close", slog.Any("error", err))
		return tracker.End(err)
	}
}

// HandleSweep closes overdue tickets whose scheduled task was lost.
func (j *AutoCloseJob) HandleSweep(ctx context.Context, t *asynq.Task) (resultErr error) {
	if j == nil || j.Lifecycle == nil {
		return errors.New("auto close sweep: handler not configured")
	}
	var payload AutoCloseSweepPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return fmt.Errorf("auto close sweep: bad payload: %w", asynq.SkipRetry)
		}
	}
	limit := payload.Limit
	if limit <= 0 {
		limit = j.SweepLimit
	}

	tracker := j.Metrics.Track(TaskAutoCloseSweep)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	due, err := j.Lifecycle.ListDue(ctx, j.now(), limit)
	if err != nil {
		j.logger().Error("list due tickets", slog.Any("error", err))
		return err
	}
	if len(due) == 0 {
		return nil
	}

	var closed, skipped, failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(sweepParallelism)
	for _, tk := range due {
		g.Go(func() error {
			requestID := ""
			if tk.CloseRequestID != nil {
				requestID = tk.CloseRequestID.String()
			}
			err := j.closeOne(gctx, tk.ID, requestID)
			switch {
			case err == nil:
				closed.Add(1)
			case skippable(err):
				skipped.Add(1)
			default:
				failed.Add(1)
				j.logger().Warn("sweep auto close", slog.Int64("ticket_id", tk.ID), slog.Any("error", err))
			}
			return nil
		})
	}
	_ = g.Wait()

	j.Metrics.AddSwept("closed", int(closed.Load()))
	j.Metrics.AddSwept("skipped", int(skipped.Load()))
	j.Metrics.AddSwept("failed", int(failed.Load()))
	j.logger().Info("auto close sweep finished",
		slog.Int("due", len(due)),
		slog.Int64("closed", closed.Load()),
		slog.Int64("skipped", skipped.Load()),
		slog.Int64("failed", failed.Load()))
	if n := failed.Load(); n > 0 {
		return fmt.Errorf("auto close sweep: %d tickets failed", n)
	}
	return nil
}

// closeOne binds the worker actor and closes ticketID if closeRequestID is
// still the pending request.
func (j *AutoCloseJob) closeOne(ctx context.Context, ticketID int64, closeRequestID string) error {
	return actor.Run(ctx, actor.System{Identifier: AutoCloseActorID}, func(ctx context.Context) error {
		_, err := j.Lifecycle.AutoClose(ctx, ticketID, closeRequestID, AutoCloseActorID)
		return err
	})
}

func skippable(err error) bool {
	return errors.Is(err, shared.ErrInvalidTransition) || errors.Is(err, shared.ErrNotFound)
}

func (j *AutoCloseJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}

func (j *AutoCloseJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}
