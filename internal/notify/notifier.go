// Package notify renders bus events for the operator. The default sink
// writes structured log lines; a console front-end can swap in its own.
package notify

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"prodtrack/internal/eventbus"
	logx "prodtrack/pkg/logx"
)

// Sink receives rendered notifications.
type Sink interface {
	Notify(text string)
}

// LogSink writes notifications at info level.
type LogSink struct{ Log logx.Logger }

func (s LogSink) Notify(text string) {
	s.Log.Info(text)
}

// Notifier consumes bus events and forwards the operator-relevant ones to
// the sink. Bursts are rate-limited; dropped notifications are counted,
// not queued, because stale prompts are worse than missing ones.
type Notifier struct {
	events <-chan eventbus.Event
	unsub  func()
	sink   Sink
	limit  *rate.Limiter
	log    logx.Logger
}

// New subscribes to the bus immediately; events published before Run
// starts are buffered up to the subscription's capacity.
func New(bus eventbus.Bus, sink Sink, perSec float64, log logx.Logger) *Notifier {
	if perSec <= 0 {
		perSec = 2
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	n := &Notifier{
		sink:  sink,
		limit: rate.NewLimiter(rate.Limit(perSec), 3),
		log:   log,
	}
	n.events, n.unsub = bus.Subscribe(32)
	return n
}

// Run drains events until ctx is done.
func (n *Notifier) Run(ctx context.Context) error {
	defer n.unsub()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-n.events:
			if !ok {
				return nil
			}
			text := render(ev)
			if text == "" {
				continue
			}
			if !n.limit.Allow() {
				n.log.Debug("notification dropped (rate limited)", logx.String("type", ev.Type))
				continue
			}
			n.sink.Notify(text)
		}
	}
}

func render(ev eventbus.Event) string {
	switch ev.Type {
	case eventbus.TypeOverrun:
		o, ok := ev.Data.(eventbus.Overrun)
		if !ok {
			return ""
		}
		return fmt.Sprintf("%s has exceeded its expected time of %.1f min. Mark it complete?",
			o.ItemCode, o.ExpectedMinutes)
	case eventbus.TypeSaveState:
		st, ok := ev.Data.(eventbus.SaveState)
		if !ok || st.Saving || st.Error == "" {
			return ""
		}
		return fmt.Sprintf("saving %s failed: %s", st.Date, st.Error)
	case eventbus.TypeDayFinished:
		d, ok := ev.Data.(eventbus.DayFinished)
		if !ok {
			return ""
		}
		return fmt.Sprintf("day %s finished", d.Date)
	default:
		return ""
	}
}
