package rules

import (
	"context"
	"sync"
	"time"
)

// DefaultDebounceDelay is how long edits must be quiet before a save.
const DefaultDebounceDelay = 800 * time.Millisecond

// Debouncer coalesces bursts of rule edits into a single SaveRules call.
//
// Schedule is safe to pass to WithOnChange. Only the latest snapshot of a
// burst is written.
type Debouncer struct {
	p     Persister
	delay time.Duration
	onErr func(error)

	mu      sync.Mutex
	timer   *time.Timer
	pending *Snapshot
	stopped bool
}

// NewDebouncer returns a debouncer saving to p after delay of inactivity.
// onErr receives save failures and may be nil.
func NewDebouncer(p Persister, delay time.Duration, onErr func(error)) *Debouncer {
	if delay <= 0 {
		delay = DefaultDebounceDelay
	}
	return &Debouncer{p: p, delay: delay, onErr: onErr}
}

// Schedule records snap as the pending save and restarts the quiet timer.
func (d *Debouncer) Schedule(snap Snapshot) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}
	d.pending = &snap
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.delay, func() {
		_ = d.Flush(context.Background())
	})
}

// Flush writes the pending snapshot now, if any.
func (d *Debouncer) Flush(ctx context.Context) error {
	d.mu.Lock()
	snap := d.pending
	d.pending = nil
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.mu.Unlock()

	if snap == nil {
		return nil
	}
	err := d.p.SaveRules(ctx, *snap)
	if err != nil && d.onErr != nil {
		d.onErr(err)
	}
	return err
}

// Cancel drops the pending snapshot without saving it.
func (d *Debouncer) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.pending = nil
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}

// Stop flushes the pending snapshot and ignores further Schedule calls.
func (d *Debouncer) Stop(ctx context.Context) error {
	d.mu.Lock()
	d.stopped = true
	d.mu.Unlock()
	return d.Flush(ctx)
}
