package scan

import (
	"encoding/binary"
	"math/rand"
	"net"
)

// lcg is a 32-bit linear congruential generator with state update
// s <- a*s + c (mod 2^32). With c == 1 (odd) and a == 4k+1 (a == 1 mod 4),
// the Hull-Dobell theorem guarantees the recurrence has full period 2^32
// over 32-bit words, so seeding at state 1 visits every other residue
// exactly once before state returns to 1.
type lcg struct {
	state uint32
	a     uint32
	c     uint32
}

// newLCG picks a random small multiplier and returns an LCG seeded at
// state 1, ready to walk the address space in pseudo-random order.
func newLCG() *lcg {
	k := uint32(rand.Intn(1000))
	return &lcg{
		state: 1,
		a:     4*k + 1,
		c:     1,
	}
}

// next advances the generator and returns the freshly computed state.
// ok is false exactly once, the moment the recurrence produces the
// value 0 that a full-period sequence seeded at 1 is guaranteed to
// emit once per period; that value is skipped rather than returned,
// since 0.0.0.0 is never a scan target and 0 doubles as the halt
// sentinel.
func (l *lcg) next() (uint32, bool) {
	l.state = l.state*l.a + l.c
	if l.state == 0 {
		return 0, false
	}
	return l.state, true
}

// addrGenerator is the single-consumer, non-restartable iterator the
// probe emitter owns exclusively. It reinterprets each LCG word as an
// IPv4 address in network byte order.
type addrGenerator struct {
	lcg *lcg
}

// newAddrGenerator returns an address generator that yields every
// non-zero 32-bit IPv4 address exactly once, in pseudo-random order,
// except the seed 0.0.0.1: state 0 is the one just before the sequence
// returns to the seed, so the generator halts before reaching it.
func newAddrGenerator() *addrGenerator {
	return &addrGenerator{lcg: newLCG()}
}

// next returns the next target address, or false once the sequence is
// exhausted.
func (g *addrGenerator) next() (net.IP, bool) {
	word, ok := g.lcg.next()
	if !ok {
		return nil, false
	}
	ip := make(net.IP, 4)
	binary.BigEndian.PutUint32(ip, word)
	return ip, true
}
