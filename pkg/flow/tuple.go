/////////////////////////////////////////////////////////////////////////////////
//
// tuple.go
//
// Canonical 5-tuple identity of a flow. Endpoints are observed through the
// lower / upper accessors so that both directions of a connection yield the
// same identity.
//
// Written by Lennart Elsen lel@open.ch, May 2014
// Copyright (c) 2014 Open Systems AG, Switzerland
// All Rights Reserved.
//
/////////////////////////////////////////////////////////////////////////////////

package flow

import (
	"encoding/binary"
	"fmt"
	"net/netip"

	"github.com/zeebo/xxh3"
)

// Endpoint is one side of a flow: an IP address and an L4 port. For
// protocols without ports the port is zero.
type Endpoint struct {
	Addr netip.Addr
	Port uint16
}

// String implements fmt.Stringer (v4 dotted quad / v6 colon-hex plus port)
func (e Endpoint) String() string {
	return fmt.Sprintf("%s:%d", e.Addr, e.Port)
}

// equal compares family, address and port
func (e Endpoint) equal(other Endpoint) bool {
	return e.Port == other.Port && e.Addr == other.Addr
}

// Tuple is the direction-independent identity of a flow: IP protocol plus
// the two endpoints. Both endpoints always share the same address family.
type Tuple struct {
	proto byte
	src   Endpoint
	dst   Endpoint

	// memoised weak hash, see Hash()
	hash uint32
}

// NewTuple assembles a tuple from its parts
func NewTuple(proto byte, src, dst Endpoint) Tuple {
	return Tuple{proto: proto, src: src, dst: dst}
}

// Protocol returns the IP protocol number of the tuple
func (t *Tuple) Protocol() byte {
	return t.proto
}

// Src returns the endpoint the packet originated from
func (t *Tuple) Src() Endpoint {
	return t.src
}

// Dst returns the endpoint the packet was sent to
func (t *Tuple) Dst() Endpoint {
	return t.dst
}

// Lower returns the endpoint with the numerically smaller port. On equal
// ports the source endpoint is the lower one.
func (t *Tuple) Lower() Endpoint {
	if t.dst.Port < t.src.Port {
		return t.dst
	}
	return t.src
}

// Upper returns the counterpart of Lower()
func (t *Tuple) Upper() Endpoint {
	if t.dst.Port < t.src.Port {
		return t.src
	}
	return t.dst
}

// Server returns the endpoint assumed to be the service side (the one
// listening on the lower port)
func (t *Tuple) Server() Endpoint {
	return t.Lower()
}

// Client returns the endpoint assumed to be the initiating side
func (t *Tuple) Client() Endpoint {
	return t.Upper()
}

// Equal determines if two tuples describe the same flow, irrespective of
// direction: protocols must match and the canonically ordered endpoints
// must match pairwise.
func (t *Tuple) Equal(other *Tuple) bool {
	return t.proto == other.proto &&
		t.Lower().equal(other.Lower()) &&
		t.Upper().equal(other.Upper())
}

// Hash returns the memoised canonical hash of the tuple. The value is the
// concatenation of the canonically ordered ports. It is deliberately weak
// (portless flows all collide on zero) but cheap and stable under direction
// reversal, which is all the flow map requires.
func (t *Tuple) Hash() uint32 {
	if t.hash != 0 {
		return t.hash
	}
	t.hash = uint32(t.Lower().Port)<<16 | uint32(t.Upper().Port)
	return t.hash
}

// Sum64 returns a strong 64-bit digest of the canonical tuple
// serialisation. Direction-independent like Hash(), but suitable for
// sharding across workers or keying external data structures.
func (t *Tuple) Sum64() uint64 {
	var b [38]byte

	lower, upper := t.Lower(), t.Upper()
	b[0] = t.proto
	lo16 := lower.Addr.As16()
	up16 := upper.Addr.As16()
	copy(b[1:17], lo16[:])
	binary.BigEndian.PutUint16(b[17:19], lower.Port)
	copy(b[19:35], up16[:])
	binary.BigEndian.PutUint16(b[35:37], upper.Port)
	if lower.Addr.Is4() {
		b[37] = 0x04
	} else {
		b[37] = 0x06
	}

	return xxh3.Hash(b[:])
}

// String implements fmt.Stringer
func (t *Tuple) String() string {
	return fmt.Sprintf("%s->%s_%d", t.src, t.dst, t.proto)
}

// TupleKey is the comparable canonical form of a tuple, usable as a map key.
// Two tuples that are Equal produce identical keys.
type TupleKey struct {
	Proto byte
	Lower netip.AddrPort
	Upper netip.AddrPort
}

// Key derives the canonical map key for the tuple
func (t *Tuple) Key() TupleKey {
	lower, upper := t.Lower(), t.Upper()
	return TupleKey{
		Proto: t.proto,
		Lower: netip.AddrPortFrom(lower.Addr, lower.Port),
		Upper: netip.AddrPortFrom(upper.Addr, upper.Port),
	}
}

// sameAddrPair compares the address pairs of two tuples as unordered sets,
// ignoring ports. Used by the fragment cache, where later fragments carry
// no L4 header.
func sameAddrPair(a, b *Tuple) bool {
	if a.src.Addr == b.src.Addr && a.dst.Addr == b.dst.Addr {
		return true
	}
	return a.src.Addr == b.dst.Addr && a.dst.Addr == b.src.Addr
}
