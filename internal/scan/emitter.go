package scan

import (
	"fmt"
	"net"

	"github.com/golang/glog"
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// frameWriter is the subset of *pcap.Handle the emitter needs. Kept as
// an interface so tests can inject a recording fake instead of opening
// a real layer-2 handle.
type frameWriter interface {
	WritePacketData(data []byte) error
}

// probeEmitter builds and transmits Ethernet/IPv4/TCP SYN frames at
// line rate, one per address the generator yields, per spec.md §4.3.
type probeEmitter struct {
	gen        *addrGenerator
	targetPort uint16
	iface      *ifaceSnapshot
	cookies    *cookieAuthenticator
	channel    frameWriter
	stats      *stats
	run        *runState
	die        *dieSignal

	serializeBuf gopacket.SerializeBuffer
	opts         gopacket.SerializeOptions
}

func newProbeEmitter(
	targetPort uint16,
	iface *ifaceSnapshot,
	cookies *cookieAuthenticator,
	channel frameWriter,
	st *stats,
	run *runState,
	die *dieSignal,
) *probeEmitter {
	return &probeEmitter{
		gen:          newAddrGenerator(),
		targetPort:   targetPort,
		iface:        iface,
		cookies:      cookies,
		channel:      channel,
		stats:        st,
		run:          run,
		die:          die,
		serializeBuf: gopacket.NewSerializeBuffer(),
		opts: gopacket.SerializeOptions{
			FixLengths:       true,
			ComputeChecksums: true,
		},
	}
}

// buildFrame renders the exact 54-byte Ethernet/IPv4/TCP SYN frame
// spec.md §4.3 specifies: no options, no payload, mandatory checksums.
func (e *probeEmitter) buildFrame(dst net.IP, srcPort uint16) ([]byte, error) {
	eth := layers.Ethernet{
		SrcMAC:       e.iface.deviceMAC,
		DstMAC:       e.iface.gatewayMAC,
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := layers.IPv4{
		Version:  4,
		IHL:      5,
		TTL:      64,
		Id:       5,
		Protocol: layers.IPProtocolTCP,
		SrcIP:    e.iface.deviceIP,
		DstIP:    dst,
	}
	tcp := layers.TCP{
		SrcPort:    layers.TCPPort(srcPort),
		DstPort:    layers.TCPPort(e.targetPort),
		SYN:        true,
		Window:     64240,
		DataOffset: 5,
	}
	if err := tcp.SetNetworkLayerForChecksum(&ip); err != nil {
		return nil, fmt.Errorf("set checksum network layer: %w", err)
	}

	if err := e.serializeBuf.Clear(); err != nil {
		return nil, fmt.Errorf("reset serialize buffer: %w", err)
	}
	if err := gopacket.SerializeLayers(e.serializeBuf, e.opts, &eth, &ip, &tcp); err != nil {
		return nil, fmt.Errorf("serialize probe frame: %w", err)
	}
	// gopacket's Ethernet layer pads short frames to the 60-byte
	// minimum; trim that padding so only the 54 header bytes go out.
	return e.serializeBuf.Bytes()[:14+20+20], nil
}

// loop runs the emitter to completion: it drains the generator,
// sending one probe per address, until the sequence is exhausted or a
// Die signal arrives. Send failures are logged and tolerated, never
// fatal, per spec.md §4.3's loss-tolerance contract.
func (e *probeEmitter) loop() {
	glog.V(2).Infoln("emitter starting")
	for {
		e.run.checkpoint(e.die)

		if e.die.requested() {
			glog.V(2).Infoln("emitter received die signal")
			return
		}

		dst, ok := e.gen.next()
		if !ok {
			glog.V(2).Infoln("emitter exhausted address space")
			return
		}

		srcPort := e.cookies.portTag(e.iface.deviceIP, dst)

		frame, err := e.buildFrame(dst, srcPort)
		if err != nil {
			glog.Errorf("build probe frame for %s: %v", dst, err)
			continue
		}

		if err := e.channel.WritePacketData(frame); err != nil {
			glog.V(4).Infof("send probe to %s failed (tolerated): %v", dst, err)
		}

		e.stats.incSent()
	}
}
