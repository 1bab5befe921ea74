package scan

import (
	"net"
	"time"

	"github.com/golang/glog"
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// segmentSource is the subset of gopacket.PacketDataSource the
// harvester needs: a single bounded-timeout read call per iteration,
// mirroring the teacher's `packet_rcv.next_with_timeout` pnet call.
// Kept as an interface so tests can inject synthesized segments
// without a live pcap handle.
type segmentSource interface {
	ReadPacketData() (data []byte, ci gopacket.CaptureInfo, err error)
}

// responseHarvester demultiplexes inbound TCP segments, validates
// their cookies, and publishes confirmed hits, per spec.md §4.4.
type responseHarvester struct {
	source     segmentSource
	targetPort uint16
	iface      *ifaceSnapshot
	cookies    *cookieAuthenticator
	stats      *stats
	run        *runState
	die        *dieSignal
	hits       chan<- net.IP

	readTimeout time.Duration
}

func newResponseHarvester(
	source segmentSource,
	targetPort uint16,
	iface *ifaceSnapshot,
	cookies *cookieAuthenticator,
	st *stats,
	run *runState,
	die *dieSignal,
	hits chan<- net.IP,
) *responseHarvester {
	return &responseHarvester{
		source:      source,
		targetPort:  targetPort,
		iface:       iface,
		cookies:     cookies,
		stats:       st,
		run:         run,
		die:         die,
		hits:        hits,
		readTimeout: 5 * time.Second,
	}
}

// loop reads segments until told to die. Every iteration honors pause
// first, then performs one bounded read so control signals are
// serviced even during silence, per spec.md §5.
func (h *responseHarvester) loop() {
	glog.V(2).Infoln("harvester starting")
	for {
		h.run.checkpoint(h.die)

		if h.die.requested() {
			glog.V(2).Infoln("harvester received die signal")
			return
		}

		data, _, err := h.source.ReadPacketData()
		if err != nil {
			if err == errReadTimeout {
				continue
			}
			glog.V(4).Infof("harvester read error (tolerated): %v", err)
			continue
		}

		h.handleSegment(data)
	}
}

// errReadTimeout is the sentinel a segmentSource returns when its
// bounded read timed out with no data, letting the loop re-check
// pause/die without treating the timeout as a transient I/O error.
var errReadTimeout = errTimeout{}

type errTimeout struct{}

func (errTimeout) Error() string { return "read timeout" }

// handleSegment applies the admission filter chain from spec.md §4.4
// and §3 invariant I2: IPv4 only, TCP source port equal to the
// configured scan target port, SYN|ACK set, and cookie-verified.
func (h *responseHarvester) handleSegment(data []byte) {
	pkt := gopacket.NewPacket(data, layers.LayerTypeEthernet, gopacket.NoCopy)

	ipLayer := pkt.Layer(layers.LayerTypeIPv4)
	if ipLayer == nil {
		return // discard: not IPv4
	}
	ip4, ok := ipLayer.(*layers.IPv4)
	if !ok {
		return
	}

	tcpLayer := pkt.Layer(layers.LayerTypeTCP)
	if tcpLayer == nil {
		return
	}
	tcp, ok := tcpLayer.(*layers.TCP)
	if !ok {
		return
	}

	if uint16(tcp.SrcPort) != h.targetPort {
		return
	}

	if !tcp.SYN || !tcp.ACK {
		return
	}

	remoteIP := ip4.SrcIP
	observedDstPort := uint16(tcp.DstPort)

	if !h.cookies.verify(h.iface.deviceIP, remoteIP, observedDstPort) {
		return // cookie verification fail: silently drop, not an error
	}

	h.stats.incReceived()
	h.hits <- remoteIP
}
