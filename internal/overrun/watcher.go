package overrun

import (
	"sync"
	"time"

	"prodtrack/internal/eventbus"
	"prodtrack/internal/timer"
	logx "prodtrack/pkg/logx"
)

// DefaultGrace is added on top of an item's expected time before the
// watcher considers the job overdue.
const DefaultGrace = time.Minute

// DefaultScanInterval is how often Check runs when wired as a periodic
// task. Coarse on purpose; overrun detection is advisory.
const DefaultScanInterval = 5 * time.Second

// Watcher observes the job timer and publishes a single Overrun event per
// run-cycle once elapsed time passes expected + grace. It never acts on
// the timer itself; the operator (via the auto-completion flow) decides
// what happens next.
type Watcher struct {
	timer *timer.JobTimer
	bus   eventbus.Bus
	log   logx.Logger
	grace time.Duration

	mu       sync.Mutex
	firedGen uint64
}

func New(t *timer.JobTimer, bus eventbus.Bus, grace time.Duration, log logx.Logger) *Watcher {
	if grace <= 0 {
		grace = DefaultGrace
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Watcher{timer: t, bus: bus, log: log, grace: grace}
}

// Check fires the overrun event if the active measurement is past its
// threshold and has not fired for this run-cycle yet. Safe to call at any
// frequency, including immediately after a recovery.
func (w *Watcher) Check() {
	item, active := w.timer.ActiveItem()
	if !active || item.ExpectedMinutes <= 0 {
		return
	}
	gen := w.timer.Generation()
	elapsed := w.timer.Elapsed()
	threshold := time.Duration(item.ExpectedMinutes*float64(time.Minute)) + w.grace
	if elapsed < threshold {
		return
	}

	w.mu.Lock()
	if w.firedGen == gen {
		w.mu.Unlock()
		return
	}
	w.firedGen = gen
	w.mu.Unlock()

	w.log.Info("job overran expected time",
		logx.String("item", item.ItemCode),
		logx.Float64("expected_minutes", item.ExpectedMinutes),
		logx.Duration("elapsed", elapsed))
	w.bus.Publish(eventbus.Event{
		Type: eventbus.TypeOverrun,
		Data: eventbus.Overrun{
			ItemCode:        item.ItemCode,
			LMCode:          item.LMCode,
			ExpectedMinutes: item.ExpectedMinutes,
			ElapsedMillis:   elapsed.Milliseconds(),
		},
	})
}
