// Package scheduler promotes due scheduled messages into the live message
// stream and advances recurring ones.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rohitpatil2845/BAATKANE/internal/bus"
	"github.com/rohitpatil2845/BAATKANE/internal/logging"
	"github.com/rohitpatil2845/BAATKANE/internal/realtime"
	"github.com/rohitpatil2845/BAATKANE/internal/store"
	"go.uber.org/zap"
)

// Store is what the loop needs from the durable store.
type Store interface {
	DueScheduled(ctx context.Context, now time.Time) ([]store.ScheduledMessage, error)
	DeliverScheduled(ctx context.Context, row store.ScheduledMessage, next time.Time) (*store.MessageView, error)
}

// Options tunes a Loop.
type Options struct {
	Interval time.Duration
	Location *time.Location
	Now      func() time.Time
}

// Loop is the periodic scheduled-delivery task. It keeps no state between
// ticks; every tick re-scans the store.
type Loop struct {
	store    Store
	hub      *realtime.Hub
	out      *realtime.Broadcaster
	bus      *bus.Bus
	log      *zap.Logger
	interval time.Duration
	loc      *time.Location
	now      func() time.Time
	cancel   context.CancelFunc
	done     chan struct{}
}

// Result summarises one tick.
type Result struct {
	Due       int
	Delivered int
	Failed    int
}

// Delivery is the bus payload for a delivered occurrence.
type Delivery struct {
	ScheduledID string
	MessageID   string
	ChatID      string
	Next        time.Time // zero for one-shot rows
}

// Failure is the bus payload for a row that could not be delivered.
type Failure struct {
	ScheduledID string
	ChatID      string
	Err         string
}

// New creates a loop. b may be nil.
func New(st Store, hub *realtime.Hub, out *realtime.Broadcaster, b *bus.Bus, log *zap.Logger, opts Options) *Loop {
	l := &Loop{
		store:    st,
		hub:      hub,
		out:      out,
		bus:      b,
		log:      logging.OrNop(log).Named("scheduler"),
		interval: opts.Interval,
		loc:      opts.Location,
		now:      opts.Now,
	}
	if l.interval <= 0 {
		l.interval = time.Minute
	}
	if l.loc == nil {
		l.loc = time.Local
	}
	if l.now == nil {
		l.now = time.Now
	}
	return l
}

// Start runs one tick immediately and then one per interval until Stop.
func (l *Loop) Start(ctx context.Context) {
	ctx, l.cancel = context.WithCancel(ctx)
	l.done = make(chan struct{})
	go l.loop(ctx)
}

// Stop stops the loop and waits for an in-flight tick to finish.
func (l *Loop) Stop() {
	if l.cancel != nil {
		l.cancel()
		<-l.done
	}
}

func (l *Loop) loop(ctx context.Context) {
	defer close(l.done)
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	l.Tick(ctx, l.now())
	for {
		select {
		case <-ticker.C:
			l.Tick(ctx, l.now())
		case <-ctx.Done():
			return
		}
	}
}

// Tick delivers every row due at now. Each row is handled on its own: a
// failing row is logged and skipped and never blocks its siblings.
func (l *Loop) Tick(ctx context.Context, now time.Time) Result {
	due, err := l.store.DueScheduled(ctx, now)
	if err != nil {
		l.log.Warn("query due scheduled messages", zap.Error(err))
		return Result{}
	}
	res := Result{Due: len(due)}
	for _, row := range due {
		if ctx.Err() != nil {
			break
		}
		switch err := l.deliver(ctx, row); {
		case err == nil:
			res.Delivered++
		case errors.Is(err, store.ErrAlreadyDelivered):
			l.log.Debug("scheduled message already delivered", zap.String("scheduled_id", row.ID))
		default:
			res.Failed++
			l.log.Warn("deliver scheduled message",
				zap.String("scheduled_id", row.ID),
				zap.String("chat_id", row.ChatID),
				zap.Error(err))
			l.bus.Emit(bus.KindSchedulerFailed, Failure{ScheduledID: row.ID, ChatID: row.ChatID, Err: err.Error()})
		}
	}
	if res.Due > 0 {
		l.log.Info("scheduler tick",
			zap.Int("due", res.Due),
			zap.Int("delivered", res.Delivered),
			zap.Int("failed", res.Failed))
	}
	return res
}

func (l *Loop) deliver(ctx context.Context, row store.ScheduledMessage) error {
	var next time.Time
	if row.IsRecurring {
		var err error
		if next, err = Next(row.ScheduledTime, row.Pattern, l.loc); err != nil {
			return err
		}
	}

	var view *store.MessageView
	var err error
	l.hub.WithChat(row.ChatID, func() {
		view, err = l.store.DeliverScheduled(ctx, row, next)
		if err == nil {
			l.out.ToChat(row.ChatID, realtime.NewMessage(*view), "")
		}
	})
	if err != nil {
		return err
	}
	l.bus.Emit(bus.KindSchedulerDelivered, Delivery{
		ScheduledID: row.ID,
		MessageID:   view.ID,
		ChatID:      row.ChatID,
		Next:        next,
	})
	return nil
}

// Next returns the occurrence one calendar interval after prev, computed in
// loc so that daily and weekly rows keep their wall-clock time across DST
// changes. Monthly rows use month arithmetic with Go's date normalisation
// (Jan 31 + 1 month = Mar 3 in a non-leap year).
func Next(prev time.Time, p store.Recurrence, loc *time.Location) (time.Time, error) {
	t := prev.In(loc)
	switch p {
	case store.RecurDaily:
		return t.AddDate(0, 0, 1), nil
	case store.RecurWeekly:
		return t.AddDate(0, 0, 7), nil
	case store.RecurMonthly:
		return t.AddDate(0, 1, 0), nil
	}
	return time.Time{}, fmt.Errorf("unknown recurrence pattern %q", p)
}
