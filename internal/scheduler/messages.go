package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/avetra/flowbot/internal/metrics"
	"github.com/avetra/flowbot/internal/notify"
	"github.com/avetra/flowbot/internal/store"
	"github.com/avetra/flowbot/pkg/schema"
)

// MessageDispatcher delivers scheduled messages when they come due. One-shot
// messages are marked delivered after a successful send; recurring messages
// advance to their next occurrence instead. A failed send leaves the message
// active so the next tick retries it.
type MessageDispatcher struct {
	store    store.Store
	notifier notify.Notifier
	parser   cron.Parser
	tick     time.Duration
	logger   *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewMessageDispatcher creates a dispatcher ticking at the given interval.
func NewMessageDispatcher(st store.Store, notifier notify.Notifier, tick time.Duration, logger *slog.Logger) *MessageDispatcher {
	if tick <= 0 {
		tick = DefaultTick
	}
	return &MessageDispatcher{
		store:    st,
		notifier: notifier,
		parser:   cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		tick:     tick,
		logger:   logger,
	}
}

// Start launches the delivery loop.
func (d *MessageDispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cancel != nil {
		return schema.NewError(schema.ErrCodeConflict, "message dispatcher already running")
	}

	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.done = make(chan struct{})

	go d.loop(ctx)
	d.logger.Info("message dispatcher started", slog.Duration("tick", d.tick))
	return nil
}

// Stop cancels the loop and waits for it to exit.
func (d *MessageDispatcher) Stop() {
	d.mu.Lock()
	cancel, done := d.cancel, d.done
	d.cancel, d.done = nil, nil
	d.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	d.logger.Info("message dispatcher stopped")
}

func (d *MessageDispatcher) loop(ctx context.Context) {
	defer close(d.done)

	ticker := time.NewTicker(d.tick)
	defer ticker.Stop()

	d.deliverDue(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.deliverDue(ctx)
		}
	}
}

// deliverDue sends every active message whose run_at has passed.
func (d *MessageDispatcher) deliverDue(ctx context.Context) {
	started := time.Now()
	defer func() {
		metrics.TickDuration.WithLabelValues("messages").Observe(time.Since(started).Seconds())
	}()

	now := time.Now().UTC()
	due, err := d.store.ListDueMessages(ctx, now)
	if err != nil {
		d.logger.ErrorContext(ctx, "failed to list due messages", slog.String("error", err.Error()))
		return
	}

	for _, msg := range due {
		select {
		case <-ctx.Done():
			return
		default:
		}
		d.deliver(ctx, msg, now)
	}
}

func (d *MessageDispatcher) deliver(ctx context.Context, msg *store.ScheduledMessage, now time.Time) {
	// Send first: if the send fails the message stays active and the next
	// tick retries, rather than losing it by marking it delivered unsent.
	if err := d.notifier.Notify(ctx, msg.OwnerID, msg.Message); err != nil {
		metrics.NotifyFailures.Inc()
		d.logger.WarnContext(ctx, "scheduled message delivery failed, will retry",
			slog.String("message_id", msg.ID),
			slog.String("owner_id", msg.OwnerID),
			slog.String("error", err.Error()),
		)
		return
	}

	if !msg.Repeat {
		if err := d.store.MarkMessageDelivered(ctx, msg.ID, now); err != nil {
			d.logger.ErrorContext(ctx, "failed to mark message delivered",
				slog.String("message_id", msg.ID),
				slog.String("error", err.Error()),
			)
			return
		}
		metrics.MessagesDelivered.WithLabelValues("one_shot").Inc()
		d.logger.InfoContext(ctx, "one-shot message delivered", slog.String("message_id", msg.ID))
		return
	}

	next, err := d.nextOccurrence(msg, now)
	if err != nil {
		// An unparseable recurrence cannot be rescheduled. Retiring the
		// message beats redelivering it every tick forever.
		d.logger.ErrorContext(ctx, "cannot compute next occurrence, retiring message",
			slog.String("message_id", msg.ID),
			slog.String("error", err.Error()),
		)
		if markErr := d.store.MarkMessageDelivered(ctx, msg.ID, now); markErr != nil {
			d.logger.ErrorContext(ctx, "failed to retire message",
				slog.String("message_id", msg.ID),
				slog.String("error", markErr.Error()),
			)
		}
		return
	}

	if err := d.store.RescheduleMessage(ctx, msg.ID, now, next); err != nil {
		d.logger.ErrorContext(ctx, "failed to reschedule message",
			slog.String("message_id", msg.ID),
			slog.String("error", err.Error()),
		)
		return
	}
	metrics.MessagesDelivered.WithLabelValues("recurring").Inc()
	d.logger.InfoContext(ctx, "recurring message delivered",
		slog.String("message_id", msg.ID),
		slog.Time("next_run", next),
	)
}

// nextOccurrence computes when a recurring message fires again: the cron
// expression when one is set, otherwise now plus the repeat interval.
func (d *MessageDispatcher) nextOccurrence(msg *store.ScheduledMessage, now time.Time) (time.Time, error) {
	if msg.CronExpr != "" {
		sched, err := d.parser.Parse(msg.CronExpr)
		if err != nil {
			return time.Time{}, schema.NewErrorf(schema.ErrCodeValidation,
				"parse cron expression %q: %s", msg.CronExpr, err.Error()).WithCause(err)
		}
		return sched.Next(now), nil
	}

	interval := msg.RepeatIntervalMin
	if interval <= 0 {
		return time.Time{}, schema.NewErrorf(schema.ErrCodeValidation,
			"recurring message %s has no cron expression and no repeat interval", msg.ID)
	}
	return now.Add(time.Duration(interval) * time.Minute), nil
}
