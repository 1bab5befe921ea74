package scan

import (
	"net"
	"testing"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// fakeSegmentSource replays a fixed queue of frames, then reports a
// synthetic read timeout, letting tests drive exactly one
// handleSegment call at a time via handleSegment directly, or the
// whole loop via a bounded queue.
type fakeSegmentSource struct {
	frames [][]byte
	idx    int
}

func (f *fakeSegmentSource) ReadPacketData() ([]byte, gopacket.CaptureInfo, error) {
	if f.idx >= len(f.frames) {
		return nil, gopacket.CaptureInfo{}, errReadTimeout
	}
	data := f.frames[f.idx]
	f.idx++
	return data, gopacket.CaptureInfo{}, nil
}

// buildTestSegment serializes an Ethernet/IPv4/TCP frame with the
// given flags and ports, mirroring what a real SYN/ACK (or RST) reply
// would look like on the wire.
func buildTestSegment(t *testing.T, srcIP, dstIP net.IP, srcPort, dstPort uint16, syn, ack, rst bool) []byte {
	t.Helper()

	eth := layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0x02, 0, 0, 0, 0, 0xaa},
		DstMAC:       net.HardwareAddr{0x02, 0, 0, 0, 0, 0xbb},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := layers.IPv4{
		Version:  4,
		IHL:      5,
		TTL:      64,
		Protocol: layers.IPProtocolTCP,
		SrcIP:    srcIP.To4(),
		DstIP:    dstIP.To4(),
	}
	tcp := layers.TCP{
		SrcPort: layers.TCPPort(srcPort),
		DstPort: layers.TCPPort(dstPort),
		SYN:     syn,
		ACK:     ack,
		RST:     rst,
		Window:  64240,
	}
	if err := tcp.SetNetworkLayerForChecksum(&ip); err != nil {
		t.Fatalf("SetNetworkLayerForChecksum: %v", err)
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, &eth, &ip, &tcp); err != nil {
		t.Fatalf("SerializeLayers: %v", err)
	}
	return buf.Bytes()
}

func newTestHarvester(t *testing.T, source segmentSource, hits chan net.IP) (*responseHarvester, *cookieAuthenticator, *ifaceSnapshot) {
	t.Helper()
	iface := testIfaceSnapshot()
	auth := testAuthForEmitter()
	st := &stats{}
	run := newRunState()
	die := newDieSignal()

	h := newResponseHarvester(source, 22, iface, auth, st, run, die, hits)
	return h, auth, iface
}

// TestHarvesterAcceptsValidCookie is spec.md §8 scenario 3: compute
// p = port_tag(device_ip, remote), inject SYN/ACK with dst port p and
// src port equal to the scan target; expect exactly one publication.
func TestHarvesterAcceptsValidCookie(t *testing.T) {
	hits := make(chan net.IP, 1)
	h, auth, iface := newTestHarvester(t, nil, hits)

	remote := net.IPv4(203, 0, 113, 5)
	tag := auth.portTag(iface.deviceIP, remote)

	frame := buildTestSegment(t, remote, iface.deviceIP, 22, tag, true, true, false)
	h.handleSegment(frame)

	select {
	case got := <-hits:
		if !got.Equal(remote.To4()) {
			t.Fatalf("published %s, want %s", got, remote)
		}
	default:
		t.Fatalf("no hit published for a cookie-valid SYN/ACK")
	}

	sent, received := h.stats.snapshot()
	_ = sent
	if received != 1 {
		t.Fatalf("stats.received = %d, want 1", received)
	}
}

// TestHarvesterRejectsWrongCookie is spec.md §8 scenario 2.
func TestHarvesterRejectsWrongCookie(t *testing.T) {
	hits := make(chan net.IP, 1)
	h, _, iface := newTestHarvester(t, nil, hits)

	remote := net.IPv4(203, 0, 113, 5)
	frame := buildTestSegment(t, remote, iface.deviceIP, 22, 12345, true, true, false)
	h.handleSegment(frame)

	select {
	case got := <-hits:
		t.Fatalf("unexpected publication for a cookie-invalid segment: %s", got)
	default:
	}

	_, received := h.stats.snapshot()
	if received != 0 {
		t.Fatalf("stats.received = %d, want 0", received)
	}
}

// TestHarvesterIgnoresNonSynAck is spec.md §8 scenario 4: a TCP RST
// must never be published.
func TestHarvesterIgnoresNonSynAck(t *testing.T) {
	hits := make(chan net.IP, 1)
	h, auth, iface := newTestHarvester(t, nil, hits)

	remote := net.IPv4(203, 0, 113, 5)
	tag := auth.portTag(iface.deviceIP, remote)
	frame := buildTestSegment(t, remote, iface.deviceIP, 22, tag, false, false, true)
	h.handleSegment(frame)

	select {
	case got := <-hits:
		t.Fatalf("unexpected publication for a RST segment: %s", got)
	default:
	}
}

// TestHarvesterRejectsWrongSourcePort checks the corrected filter
// semantics from spec.md §4.4/§9.2: a SYN/ACK from a source port other
// than the scan's target port is discarded even with a valid cookie.
func TestHarvesterRejectsWrongSourcePort(t *testing.T) {
	hits := make(chan net.IP, 1)
	h, auth, iface := newTestHarvester(t, nil, hits)

	remote := net.IPv4(203, 0, 113, 5)
	tag := auth.portTag(iface.deviceIP, remote)
	frame := buildTestSegment(t, remote, iface.deviceIP, 9999, tag, true, true, false)
	h.handleSegment(frame)

	select {
	case got := <-hits:
		t.Fatalf("unexpected publication for wrong source port: %s", got)
	default:
	}
}

func TestHarvesterLoopStopsOnDie(t *testing.T) {
	hits := make(chan net.IP, 1)
	source := &fakeSegmentSource{}
	iface := testIfaceSnapshot()
	auth := testAuthForEmitter()
	st := &stats{}
	run := newRunState()
	die := newDieSignal()
	die.die()

	h := newResponseHarvester(source, 22, iface, auth, st, run, die, hits)
	h.loop()
}
