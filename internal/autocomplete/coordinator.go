// Package autocomplete turns overrun notifications into an actionable
// proposal: "this job looks done, log it?". Nothing is committed until
// the operator confirms; cancelling discards the measurement and the
// job can still be logged manually.
package autocomplete

import (
	"context"
	"fmt"
	"sync"

	"prodtrack/internal/eventbus"
	"prodtrack/internal/timer"
	"prodtrack/internal/track"
	logx "prodtrack/pkg/logx"
)

// Proposal is a pending suggestion awaiting operator action.
type Proposal struct {
	Item          track.ProductionItem
	ElapsedMillis int64
	// ProposedUnits defaults to the item's batch quantity (full
	// completion); the operator can override it on confirm.
	ProposedUnits int
}

// CommitFunc finalizes a confirmed proposal, typically stopping the timer
// and logging the job. Supplied by the session layer.
type CommitFunc func(units int) error

type Coordinator struct {
	timer  *timer.JobTimer
	events <-chan eventbus.Event
	unsub  func()
	commit CommitFunc
	log    logx.Logger

	mu      sync.Mutex
	pending *Proposal
	gen     uint64
}

// New subscribes to the bus immediately, so an overrun published before
// Run starts (the post-recovery check in particular) is buffered rather
// than lost.
func New(t *timer.JobTimer, bus eventbus.Bus, commit CommitFunc, log logx.Logger) *Coordinator {
	if log.IsZero() {
		log = logx.Nop()
	}
	c := &Coordinator{timer: t, commit: commit, log: log}
	c.events, c.unsub = bus.Subscribe(16)
	return c
}

// Run drains overrun events until ctx is done.
func (c *Coordinator) Run(ctx context.Context) error {
	defer c.unsub()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-c.events:
			if !ok {
				return nil
			}
			if ev.Type != eventbus.TypeOverrun {
				continue
			}
			over, ok := ev.Data.(eventbus.Overrun)
			if !ok {
				continue
			}
			c.propose(over)
		}
	}
}

func (c *Coordinator) propose(over eventbus.Overrun) {
	item, active := c.timer.ActiveItem()
	if !active || item.ItemCode != over.ItemCode {
		// The job ended between the overrun firing and us seeing it.
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending = &Proposal{
		Item:          item,
		ElapsedMillis: over.ElapsedMillis,
		ProposedUnits: item.Quantity,
	}
	c.gen = c.timer.Generation()
	c.log.Info("completion proposed",
		logx.String("item", item.ItemCode),
		logx.Int("units", item.Quantity))
}

// Pending returns the current proposal, if one is awaiting action.
func (c *Coordinator) Pending() (Proposal, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending == nil {
		return Proposal{}, false
	}
	return *c.pending, true
}

// Confirm commits the proposal with the given unit count (callers accept
// the default by passing Proposal.ProposedUnits). Stale proposals (the
// timer moved on to a new run-cycle) are rejected.
func (c *Coordinator) Confirm(units int) error {
	if units <= 0 {
		return fmt.Errorf("%w: units must be > 0", track.ErrInvalidQuantity)
	}
	c.mu.Lock()
	p := c.pending
	gen := c.gen
	c.mu.Unlock()
	if p == nil {
		return fmt.Errorf("%w: no completion pending", track.ErrIllegalTransition)
	}
	if c.timer.Generation() != gen {
		c.dismiss()
		return fmt.Errorf("%w: proposal is stale", track.ErrIllegalTransition)
	}
	if err := c.commit(units); err != nil {
		return err
	}
	c.dismiss()
	return nil
}

// Cancel discards the proposal and the timer without creating a job. The
// operator can still log the job manually through the ordinary path.
func (c *Coordinator) Cancel() {
	c.mu.Lock()
	hadProposal := c.pending != nil
	c.pending = nil
	c.mu.Unlock()
	if hadProposal {
		c.timer.Discard()
	}
}

func (c *Coordinator) dismiss() {
	c.mu.Lock()
	c.pending = nil
	c.mu.Unlock()
}
