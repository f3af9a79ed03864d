package stream

import (
	"sync"
	"time"
)

// watchdog is the one-shot, cancellable, resettable, idempotent timer
// spec.md §5 requires for the frame-complete deadline. Starting it while
// already running replaces the pending fire; cancelling an already-fired
// or never-started timer is a no-op.
type watchdog struct {
	mu    sync.Mutex
	timer *time.Timer
	fn    func()
}

func newWatchdog(fn func()) *watchdog {
	return &watchdog{fn: fn}
}

// Start (re)arms the timer for d, replacing any pending fire.
func (w *watchdog) Start(d time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(d, w.fn)
}

// Cancel stops a pending fire, if any. Idempotent.
func (w *watchdog) Cancel() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
}
