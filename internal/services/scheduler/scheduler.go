// Package scheduler runs the session's periodic work: stopwatch ticks,
// overrun scans and calendar-driven jobs. Interval tasks run on plain
// tickers; calendar tasks (cron specs and @descriptors) run on robfig/cron.
package scheduler

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	logx "prodtrack/pkg/logx"
)

type Service struct {
	log logx.Logger
	loc *time.Location

	parser cron.Parser

	mu        sync.Mutex
	c         *cron.Cron
	cronDefs  []cronDef
	intervals map[string]*intervalTask
	running   bool
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

type cronDef struct {
	name string
	spec string
	job  func(ctx context.Context) error
}

type intervalTask struct {
	name   string
	every  time.Duration
	job    func(ctx context.Context) error
	cancel context.CancelFunc
}

func New(log logx.Logger, timezone string) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	loc := time.Local
	if timezone != "" {
		if l, err := time.LoadLocation(timezone); err == nil {
			loc = l
		} else {
			log.Warn("unknown timezone; using local", logx.String("timezone", timezone), logx.Err(err))
		}
	}
	return &Service{
		log: log,
		loc: loc,
		// SecondOptional allows both 5-field and 6-field (with seconds) specs.
		parser:    cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		intervals: map[string]*intervalTask{},
	}
}

// AddCron registers a calendar task. Specs are validated immediately;
// registration after Start schedules the task right away.
func (s *Service) AddCron(name, spec string, job func(ctx context.Context) error) error {
	if _, err := s.parser.Parse(spec); err != nil {
		return fmt.Errorf("task %s: invalid spec %q: %w", name, spec, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	d := cronDef{name: name, spec: spec, job: job}
	s.cronDefs = append(s.cronDefs, d)
	if s.running {
		s.addCronLocked(d)
	}
	return nil
}

func (s *Service) addCronLocked(d cronDef) {
	_, err := s.c.AddFunc(d.spec, func() { s.runJob(s.ctx, d.name, d.job) })
	if err != nil {
		s.log.Warn("cron task registration failed", logx.String("task", d.name), logx.Err(err))
	}
}

// AddInterval registers a fixed-interval task and returns a cancel func
// that stops just this task. Intervals below one second are supported,
// which is why these don't go through the cron engine.
func (s *Service) AddInterval(name string, every time.Duration, job func(ctx context.Context) error) (cancel func(), err error) {
	if every <= 0 {
		return nil, fmt.Errorf("task %s: interval must be > 0", name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.intervals[name]; dup {
		return nil, fmt.Errorf("task %s: already registered", name)
	}
	t := &intervalTask{name: name, every: every, job: job}
	s.intervals[name] = t
	if s.running {
		s.startIntervalLocked(t)
	}
	return func() { s.removeInterval(name) }, nil
}

func (s *Service) removeInterval(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.intervals[name]
	if !ok {
		return
	}
	delete(s.intervals, name)
	if t.cancel != nil {
		t.cancel()
	}
}

func (s *Service) startIntervalLocked(t *intervalTask) {
	tctx, tcancel := context.WithCancel(s.ctx)
	t.cancel = tcancel
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		tick := time.NewTicker(t.every)
		defer tick.Stop()
		for {
			select {
			case <-tctx.Done():
				return
			case <-tick.C:
				s.runJob(tctx, t.name, t.job)
			}
		}
	}()
}

// runJob executes one firing with panic containment. A panicking task
// logs and skips the firing rather than taking the process down.
func (s *Service) runJob(ctx context.Context, name string, job func(ctx context.Context) error) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("scheduled task panicked",
				logx.String("task", name),
				logx.Any("panic", r),
				logx.String("stack", string(debug.Stack())))
		}
	}()
	if ctx.Err() != nil {
		return
	}
	if err := job(ctx); err != nil {
		s.log.Warn("scheduled task failed", logx.String("task", name), logx.Err(err))
	}
}

// Start brings up the cron engine and all registered tasks. Idempotent.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(s.loc))
	for _, d := range s.cronDefs {
		s.addCronLocked(d)
	}
	for _, t := range s.intervals {
		s.startIntervalLocked(t)
	}
	s.c.Start()
	s.log.Debug("scheduler started",
		logx.Int("cron_tasks", len(s.cronDefs)),
		logx.Int("interval_tasks", len(s.intervals)))
}

// Stop halts all tasks and waits for in-flight firings.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	c := s.c
	cancel := s.cancel
	s.mu.Unlock()

	cancel()
	if c != nil {
		<-c.Stop().Done()
	}
	s.wg.Wait()
	s.log.Debug("scheduler stopped")
}
