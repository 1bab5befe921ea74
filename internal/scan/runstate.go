package scan

import (
	"sync"
	"time"
)

// runState is the shared pause/resume coordination point. A boolean
// flag plus a per-pause resume channel: the supervisor flips the flag
// on an external trigger, and every worker observes it at its own
// cooperative checkpoint, blocking until either the pause ends or the
// worker is told to die. A bare condition variable can't race against
// a second channel, so resume is modeled as a channel that toggle()
// closes, not a Condvar broadcast.
type runState struct {
	mu     sync.Mutex
	paused bool

	// resumeCh is closed by toggle() when a pause ends, waking every
	// checkpoint() blocked on the current pause. toggle() replaces it
	// with a fresh channel when a new pause begins.
	resumeCh chan struct{}

	// pausedSince and pausedTotal let the reporter compute elapsed
	// wall time net of paused intervals without coupling to any
	// individual worker's pause loop.
	pausedSince time.Time
	pausedTotal time.Duration
}

func newRunState() *runState {
	return &runState{resumeCh: make(chan struct{})}
}

// checkpoint blocks the calling worker while the run is paused, and
// unblocks on whichever comes first: resume, or die. A worker paused
// when die fires returns immediately instead of waiting on a resume
// that may never come.
func (r *runState) checkpoint(die *dieSignal) {
	for {
		r.mu.Lock()
		if !r.paused {
			r.mu.Unlock()
			return
		}
		resumeCh := r.resumeCh
		r.mu.Unlock()

		select {
		case <-resumeCh:
		case <-die.wait():
			return
		}
	}
}

// toggle flips the paused flag in response to an external trigger
// (stdin line in the CLI) and wakes every worker blocked in
// checkpoint.
func (r *runState) toggle() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.paused = !r.paused
	if r.paused {
		r.pausedSince = time.Now()
		r.resumeCh = make(chan struct{})
	} else {
		r.pausedTotal += time.Since(r.pausedSince)
		close(r.resumeCh)
	}
}

// pausedDuration returns the accumulated paused time, including any
// pause currently in progress.
func (r *runState) pausedDuration() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()

	total := r.pausedTotal
	if r.paused {
		total += time.Since(r.pausedSince)
	}
	return total
}

// dieSignal is a single-shot termination channel from the supervisor
// to one worker. Cancellation never interrupts a worker mid-packet: a worker only observes die() at its own
// checkpoint, and a repeated check after the first always reports
// termination (closing, not sending, makes the signal durable).
type dieSignal struct {
	ch   chan struct{}
	once sync.Once
}

func newDieSignal() *dieSignal {
	return &dieSignal{ch: make(chan struct{})}
}

// die delivers the one-shot termination signal. Safe to call more than
// once; only the first call closes the channel.
func (d *dieSignal) die() {
	d.once.Do(func() { close(d.ch) })
}

// requested reports whether termination has been requested, without
// blocking.
func (d *dieSignal) requested() bool {
	select {
	case <-d.ch:
		return true
	default:
		return false
	}
}

// wait returns the channel to select on for termination, e.g. to race
// against a bounded-timeout I/O call.
func (d *dieSignal) wait() <-chan struct{} {
	return d.ch
}
