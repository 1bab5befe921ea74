package scan

import (
	"net"
	"os"
	"path/filepath"
	"testing"
)

// xorCipherBlock is a deterministic stand-in for AES used only in
// tests: it XORs the plaintext with a fixed key-derived pad. It
// satisfies cipherBlock without pulling a real key schedule into the
// determinism checks below, which only care that the same input
// always produces the same output within a process.
type xorCipherBlock struct {
	pad [16]byte
}

func (x *xorCipherBlock) BlockSize() int { return 16 }

func (x *xorCipherBlock) Encrypt(dst, src []byte) {
	for i := 0; i < 16; i++ {
		dst[i] = src[i] ^ x.pad[i]
	}
}

func newTestAuthenticator(seed byte, ports portRange) *cookieAuthenticator {
	var pad [16]byte
	for i := range pad {
		pad[i] = seed + byte(i)
	}
	return newCookieAuthenticatorWithCipher(&xorCipherBlock{pad: pad}, ports)
}

func TestCookieDeterministic(t *testing.T) {
	auth := newTestAuthenticator(7, portRange{low: 32768, high: 60999})

	a := net.IPv4(10, 0, 0, 1)
	b := net.IPv4(203, 0, 113, 5)

	first := auth.portTag(a, b)
	second := auth.portTag(a, b)

	if first != second {
		t.Fatalf("portTag not deterministic: %d != %d", first, second)
	}
}

func TestCookieRange(t *testing.T) {
	ports := portRange{low: 32768, high: 60999}
	auth := newTestAuthenticator(3, ports)

	src := net.IPv4(192, 168, 1, 1)
	for b := 0; b < 256; b++ {
		dst := net.IPv4(203, 0, 113, byte(b))
		tag := auth.portTag(src, dst)
		if tag < ports.low || tag > ports.high {
			t.Fatalf("portTag(%s, %s) = %d out of range [%d,%d]", src, dst, tag, ports.low, ports.high)
		}
	}
}

func TestCookieVerifyAcceptsMatchingTag(t *testing.T) {
	auth := newTestAuthenticator(11, portRange{low: 1024, high: 65535})

	local := net.IPv4(10, 0, 0, 2)
	remote := net.IPv4(203, 0, 113, 5)

	tag := auth.portTag(local, remote)
	if !auth.verify(local, remote, tag) {
		t.Fatalf("verify rejected the correct cookie")
	}
}

func TestCookieVerifyRejectsWrongTag(t *testing.T) {
	auth := newTestAuthenticator(11, portRange{low: 1024, high: 65535})

	local := net.IPv4(10, 0, 0, 2)
	remote := net.IPv4(203, 0, 113, 5)

	tag := auth.portTag(local, remote)
	if auth.verify(local, remote, tag+1) {
		t.Fatalf("verify accepted an incorrect cookie")
	}
}

func TestCookieDifferentSecretsDiffer(t *testing.T) {
	a := newTestAuthenticator(1, portRange{low: 1024, high: 65535})
	b := newTestAuthenticator(99, portRange{low: 1024, high: 65535})

	src := net.IPv4(10, 0, 0, 1)
	dst := net.IPv4(203, 0, 113, 5)

	if a.portTag(src, dst) == b.portTag(src, dst) {
		t.Skip("tags collided by chance; not a determinism failure")
	}
}

func TestReadEphemeralPortRange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ip_local_port_range")
	if err := os.WriteFile(path, []byte("32768\t60999\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	old := ephemeralPortRangePath
	ephemeralPortRangePath = path
	defer func() { ephemeralPortRangePath = old }()

	got, err := readEphemeralPortRange()
	if err != nil {
		t.Fatalf("readEphemeralPortRange: %v", err)
	}
	want := portRange{low: 32768, high: 60999}
	if got != want {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}
