package scan

import (
	"crypto/aes"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
)

// portRange is the inclusive ephemeral source-port interval the OS
// would itself draw from for outbound connections. The cookie is
// reduced into this interval so probe source ports look ordinary.
type portRange struct {
	low, high uint16
}

func (r portRange) size() uint16 {
	return r.high - r.low + 1
}

// ephemeralPortRangePath is the proc file consulted at startup; a
// package-level var so tests can point it at fixture data.
var ephemeralPortRangePath = "/proc/sys/net/ipv4/ip_local_port_range"

// readEphemeralPortRange parses the two whitespace-separated u16
// values in /proc/sys/net/ipv4/ip_local_port_range.
func readEphemeralPortRange() (portRange, error) {
	data, err := os.ReadFile(ephemeralPortRangePath)
	if err != nil {
		return portRange{}, fmt.Errorf("read ephemeral port range: %w", err)
	}

	fields := strings.Fields(string(data))
	if len(fields) != 2 {
		return portRange{}, fmt.Errorf("unexpected ip_local_port_range contents: %q", data)
	}

	low, err := strconv.ParseUint(fields[0], 10, 16)
	if err != nil {
		return portRange{}, fmt.Errorf("parse ephemeral range low bound: %w", err)
	}
	high, err := strconv.ParseUint(fields[1], 10, 16)
	if err != nil {
		return portRange{}, fmt.Errorf("parse ephemeral range high bound: %w", err)
	}
	if high < low {
		return portRange{}, fmt.Errorf("ephemeral range high %d below low %d", high, low)
	}

	return portRange{low: uint16(low), high: uint16(high)}, nil
}

// cookieAuthenticator derives the deterministic 16-bit ephemeral
// source port tag used to mark every outbound probe, and verifies
// inbound replies against that same construction. It is immutable
// after construction and safely shared by reference between the
// emitter and harvester goroutines.
type cookieAuthenticator struct {
	cipher cipherBlock
	ports  portRange
}

// cipherBlock is the minimal subset of cipher.Block this package
// relies on; kept as an interface purely so tests can substitute a
// deterministic stub without pulling in a real AES key schedule.
type cipherBlock interface {
	BlockSize() int
	Encrypt(dst, src []byte)
}

// newCookieAuthenticator samples a fresh 128-bit secret from
// crypto/rand, constructs the AES-128 cipher, and loads the ephemeral
// port range from the kernel. The secret is never persisted or
// exposed after this call.
func newCookieAuthenticator() (*cookieAuthenticator, error) {
	var secret [16]byte
	if _, err := rand.Read(secret[:]); err != nil {
		return nil, fmt.Errorf("generate cookie secret: %w", err)
	}

	cipher, err := aes.NewCipher(secret[:])
	if err != nil {
		return nil, fmt.Errorf("construct cookie cipher: %w", err)
	}

	ports, err := readEphemeralPortRange()
	if err != nil {
		return nil, err
	}

	return &cookieAuthenticator{cipher: cipher, ports: ports}, nil
}

// newCookieAuthenticatorWithCipher is used by tests to inject a
// deterministic cipher and an explicit port range.
func newCookieAuthenticatorWithCipher(c cipherBlock, ports portRange) *cookieAuthenticator {
	return &cookieAuthenticator{cipher: c, ports: ports}
}

// portTag deterministically derives the 16-bit ephemeral source port
// to use for a probe from src to dst. AES-128-encrypts a 16-byte block
// of [src_ip(4) | dst_ip(4) | zero(8)], folds the first and last bytes
// of the ciphertext into a 16-bit hash, and reduces that hash into the
// ephemeral port range.
func (c *cookieAuthenticator) portTag(src, dst net.IP) uint16 {
	var buf [16]byte
	copy(buf[0:4], src.To4())
	copy(buf[4:8], dst.To4())

	var block [16]byte
	c.cipher.Encrypt(block[:], buf[:])

	h := binary.BigEndian.Uint16([]byte{block[0], block[15]})
	return c.ports.low + h%c.ports.size()
}

// verify reports whether observedDstPort is the cookie this process
// would have chosen for a probe sent from localIP to remoteIP. Used by
// the harvester to authenticate inbound SYN/ACK segments.
func (c *cookieAuthenticator) verify(localIP, remoteIP net.IP, observedDstPort uint16) bool {
	return observedDstPort == c.portTag(localIP, remoteIP)
}
