package detect

import "time"

// debouncer coalesces notifications: every touch restarts the window, and
// the timer channel fires once the window passes quietly or immediately
// after maxPending touches.
type debouncer struct {
	window     time.Duration
	maxPending int
	pending    int
	timer      *time.Timer
	timerCh    <-chan time.Time
}

func newDebouncer(window time.Duration, maxPending int) *debouncer {
	return &debouncer{window: window, maxPending: maxPending}
}

// touch records one notification. Returns true when the pending count hit
// maxPending and the caller should scan now.
func (d *debouncer) touch() bool {
	d.pending++
	if d.maxPending > 0 && d.pending >= d.maxPending {
		d.reset()
		return true
	}

	// (Re)start the window timer.
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.NewTimer(d.window)
	d.timerCh = d.timer.C
	return false
}

// timerC returns the channel that fires when the window expires. Nil when
// nothing is pending, so a select on it blocks.
func (d *debouncer) timerC() <-chan time.Time {
	return d.timerCh
}

// reset clears pending notifications and stops the timer.
func (d *debouncer) reset() {
	d.pending = 0
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
		d.timerCh = nil
	}
}
