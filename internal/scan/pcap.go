package scan

import (
	"fmt"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/pcap"
)

// openTransportSend opens the layer-2 write handle the probe emitter
// uses, bound to iface, following the pcap.OpenLive pattern used
// throughout the retrieval pack's scanning tools (e.g.
// superapple8x-GoNetWatch's ARP scanner).
func openTransportSend(iface *ifaceSnapshot) (*pcap.Handle, error) {
	handle, err := pcap.OpenLive(iface.name, 65535, false, pcap.BlockForever)
	if err != nil {
		return nil, fmt.Errorf("open send handle on %q: %w", iface.name, err)
	}
	return handle, nil
}

// openTransportRecv opens the layer-2 capture handle the response
// harvester uses, filtered to inbound TCP segments sent from the
// scan's target port to this host.
func openTransportRecv(iface *ifaceSnapshot, targetPort uint16) (*pcapSegmentSource, error) {
	handle, err := pcap.OpenLive(iface.name, 65535, false, pcap.BlockForever)
	if err != nil {
		return nil, fmt.Errorf("open receive handle on %q: %w", iface.name, err)
	}

	filter := fmt.Sprintf("tcp and src port %d and dst host %s", targetPort, iface.deviceIP.String())
	if err := handle.SetBPFFilter(filter); err != nil {
		handle.Close()
		return nil, fmt.Errorf("set BPF filter %q: %w", filter, err)
	}

	return newPcapSegmentSource(handle, 5*time.Second), nil
}

// pcapSegmentSource adapts a *pcap.Handle into the harvester's
// segmentSource, enforcing the bounded 5s read timeout spec.md §4.4
// requires so pause/die checkpoints are never starved during silence.
// A background goroutine drains the handle; ReadPacketData races that
// drain against a timer.
type pcapSegmentSource struct {
	handle  *pcap.Handle
	timeout time.Duration

	packets chan rawPacket
	errs    chan error
}

type rawPacket struct {
	data []byte
	ci   gopacket.CaptureInfo
}

func newPcapSegmentSource(handle *pcap.Handle, timeout time.Duration) *pcapSegmentSource {
	s := &pcapSegmentSource{
		handle:  handle,
		timeout: timeout,
		packets: make(chan rawPacket, 64),
		errs:    make(chan error, 1),
	}
	go s.drain()
	return s
}

func (s *pcapSegmentSource) drain() {
	for {
		data, ci, err := s.handle.ReadPacketData()
		if err != nil {
			select {
			case s.errs <- err:
			default:
			}
			return
		}
		cp := make([]byte, len(data))
		copy(cp, data)
		s.packets <- rawPacket{data: cp, ci: ci}
	}
}

func (s *pcapSegmentSource) ReadPacketData() ([]byte, gopacket.CaptureInfo, error) {
	select {
	case p := <-s.packets:
		return p.data, p.ci, nil
	case err := <-s.errs:
		return nil, gopacket.CaptureInfo{}, err
	case <-time.After(s.timeout):
		return nil, gopacket.CaptureInfo{}, errReadTimeout
	}
}

func (s *pcapSegmentSource) Close() {
	s.handle.Close()
}
