package scan

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/google/gopacket/pcap"
)

// hitChannelCapacity is the confirmed-hit channel's small fixed
// capacity. The sink is expected to be faster than hit arrival; if
// not, the harvester blocks on publish rather than drop a hit, per
// spec.md §5.
const hitChannelCapacity = 5

// shutdownGrace is the interval the supervisor waits after the
// emitter finishes before telling the harvester to die, giving
// in-flight replies a chance to arrive. SPEC_FULL.md §6.4 fixes this
// at 5s, the value the Rust source uses for its pause handling.
const shutdownGrace = 5 * time.Second

// Config collects the external inputs the scanner needs: the CLI
// surface of spec.md §6.
type Config struct {
	OutputPath string
	Port       uint16
	Interface  string // empty triggers auto-detection
}

// Scanner is the supervisor (spec.md §4.5): it constructs the cookie
// authenticator, statistics counter, run-state, confirmed-hit channel,
// and the emitter/harvester/reporter/sink workers, then fans control
// signals and joins on termination.
type Scanner struct {
	cfg Config

	iface   *ifaceSnapshot
	cookies *cookieAuthenticator
	stats   *stats
	run     *runState

	sendHandle *pcap.Handle
	recvSource *pcapSegmentSource

	emitter   *probeEmitter
	harvester *responseHarvester
	reporter  *reporter
	sink      Sink

	emitterDie   *dieSignal
	harvesterDie *dieSignal
	reporterDie  *dieSignal
	sinkDie      *dieSignal

	hits chan net.IP
}

// NewScanner performs the startup-fatal work: resolving the
// interface, sampling the cookie secret, and opening raw channels. The
// output sink is opened by the caller and passed in. Any failure is
// returned as an error, which the CLI turns into a fatal diagnostic,
// per spec.md §7.
func NewScanner(cfg Config, sink Sink) (*Scanner, error) {
	iface, err := fetchIfaceSnapshot(cfg.Interface)
	if err != nil {
		return nil, fmt.Errorf("resolve interface: %w", err)
	}

	cookies, err := newCookieAuthenticator()
	if err != nil {
		return nil, fmt.Errorf("construct cookie authenticator: %w", err)
	}

	sendHandle, err := openTransportSend(iface)
	if err != nil {
		return nil, err
	}

	recvSource, err := openTransportRecv(iface, cfg.Port)
	if err != nil {
		sendHandle.Close()
		return nil, err
	}

	st := &stats{}
	run := newRunState()
	hits := make(chan net.IP, hitChannelCapacity)

	emitterDie := newDieSignal()
	harvesterDie := newDieSignal()
	reporterDie := newDieSignal()
	sinkDie := newDieSignal()

	emitter := newProbeEmitter(cfg.Port, iface, cookies, sendHandle, st, run, emitterDie)
	harvester := newResponseHarvester(recvSource, cfg.Port, iface, cookies, st, run, harvesterDie, hits)
	rep := newReporter(st, run, reporterDie)

	return &Scanner{
		cfg:          cfg,
		iface:        iface,
		cookies:      cookies,
		stats:        st,
		run:          run,
		sendHandle:   sendHandle,
		recvSource:   recvSource,
		emitter:      emitter,
		harvester:    harvester,
		reporter:     rep,
		sink:         sink,
		emitterDie:   emitterDie,
		harvesterDie: harvesterDie,
		reporterDie:  reporterDie,
		sinkDie:      sinkDie,
		hits:         hits,
	}, nil
}

// Pause toggles the shared run-state flag; every worker observes it at
// its next checkpoint.
func (s *Scanner) Pause() {
	s.run.toggle()
}

// Scan launches the four workers and runs the canonical termination
// sequence from spec.md §4.5:
//  1. await emitter completion,
//  2. wait a grace period, then die the harvester,
//  3. die the reporter,
//  4. die the sink,
//  5. join everyone.
//
// It returns the first sink error encountered, or nil on clean
// completion.
func (s *Scanner) Scan() error {
	var sinkErr error
	var sinkWg, reporterWg, harvesterWg sync.WaitGroup

	sinkWg.Add(1)
	go func() {
		defer sinkWg.Done()
		sinkErr = s.sink.run(s.hits, s.sinkDie)
	}()

	harvesterWg.Add(1)
	go func() {
		defer harvesterWg.Done()
		s.harvester.loop()
	}()

	reporterWg.Add(1)
	go func() {
		defer reporterWg.Done()
		s.reporter.loop()
	}()

	// Emitter completion is the natural scan terminator; it is run on
	// the calling goroutine so Scan only returns once the whole
	// termination sequence is done.
	s.emitter.loop()
	glog.V(2).Infoln("supervisor: emitter finished, starting shutdown sequence")

	time.Sleep(shutdownGrace)

	s.harvesterDie.die()
	harvesterWg.Wait()

	// Only safe to close the hit channel once the harvester, its sole
	// writer, has actually returned.
	close(s.hits)

	s.reporterDie.die()
	reporterWg.Wait()

	s.sinkDie.die()
	sinkWg.Wait()

	s.sendHandle.Close()
	s.recvSource.Close()

	return sinkErr
}

// Stop triggers the same termination sequence as natural emitter
// exhaustion, used when the CLI control loop sees EOF on stdin before
// the address space is exhausted.
func (s *Scanner) Stop() {
	s.emitterDie.die()
}
