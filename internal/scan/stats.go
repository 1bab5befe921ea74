package scan

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/golang/glog"
)

// stats is the shared, mutex-protected pair of monotonic counters.
// The emitter increments sent, the harvester increments received, and
// the reporter reads both once per second. The critical section is
// limited to a single increment or read.
type stats struct {
	mu       sync.Mutex
	sent     uint64
	received uint64
}

func (s *stats) incSent() {
	s.mu.Lock()
	s.sent++
	s.mu.Unlock()
}

func (s *stats) incReceived() {
	s.mu.Lock()
	s.received++
	s.mu.Unlock()
}

func (s *stats) snapshot() (sent, received uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sent, s.received
}

// addressSpaceSize is 2^32 - 1, the number of non-zero IPv4 addresses,
// used as the scan total in the ETA estimate. A complete scan yields
// one fewer, since the generator never yields its seed 0.0.0.1.
const addressSpaceSize = uint64(1)<<32 - 1

// reporter prints a human-readable throughput/ETA line once per
// second until told to stop. It is purely observational: the only
// state it mutates is its own local timers, per spec.md §4.6.
type reporter struct {
	stats     *stats
	run       *runState
	start     time.Time
	interval  time.Duration
	die       *dieSignal
	printFunc func(string)
}

func newReporter(st *stats, run *runState, die *dieSignal) *reporter {
	return &reporter{
		stats:    st,
		run:      run,
		start:    time.Now(),
		interval: time.Second,
		die:      die,
		printFunc: func(s string) {
			fmt.Println(s)
		},
	}
}

// loop prints a report every interval until die() is observed. It
// checkpoints on the shared run state like every other worker, so no
// report is printed while the scan is paused; the elapsed time shown
// afterwards excludes the paused interval.
func (r *reporter) loop() {
	glog.V(2).Infoln("reporter starting")
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.run.checkpoint(r.die)
			if r.die.requested() {
				glog.V(2).Infoln("reporter terminating")
				return
			}
			r.printFunc(r.render())
		case <-r.die.wait():
			glog.V(2).Infoln("reporter terminating")
			return
		}
	}
}

func (r *reporter) render() string {
	sent, received := r.stats.snapshot()
	elapsed := time.Since(r.start) - r.run.pausedDuration()
	if elapsed <= 0 {
		elapsed = time.Nanosecond
	}

	sendKpps := (float64(sent) / 1000.0) / elapsed.Seconds()
	recvPps := float64(received) / elapsed.Seconds()

	remaining := addressSpaceSize - sent
	if sent > addressSpaceSize {
		remaining = 0
	}
	etaSeconds := elapsed.Seconds() * float64(remaining) / float64(sent+1)
	eta := time.Duration(etaSeconds * float64(time.Second))

	return fmt.Sprintf(
		"%s: sent=%d recv=%d rate=%.2f kp/s recv_rate=%.2f p/s eta=%s",
		elapsed.Round(time.Second), sent, received, sendKpps, recvPps, formatETA(eta),
	)
}

func formatETA(d time.Duration) string {
	if math.IsInf(float64(d), 0) || d < 0 {
		return "unknown"
	}
	return d.Round(time.Second).String()
}
