package flow

import (
	"encoding/binary"
	"net/netip"
)

// Hand-rolled frame builders. Byte-level control matters for the exotic
// encapsulations (MPLS, PPPoE, IPv6 extension chains, fragments) where the
// tests pin exact wire layouts.

func ethFrame(etherType uint16, payload []byte) []byte {
	b := make([]byte, ethHeaderLen, ethHeaderLen+len(payload))
	copy(b[0:6], []byte{0x02, 0x00, 0x00, 0x00, 0x00, 0x01})
	copy(b[6:12], []byte{0x02, 0x00, 0x00, 0x00, 0x00, 0x02})
	binary.BigEndian.PutUint16(b[12:14], etherType)
	return append(b, payload...)
}

func vlanTag(tci, innerType uint16, payload []byte) []byte {
	b := make([]byte, vlanHeaderLen, vlanHeaderLen+len(payload))
	binary.BigEndian.PutUint16(b[0:2], tci)
	binary.BigEndian.PutUint16(b[2:4], innerType)
	return append(b, payload...)
}

func mplsLabel(label uint32, payload []byte) []byte {
	b := make([]byte, mplsLabelLen, mplsLabelLen+len(payload))
	binary.BigEndian.PutUint32(b[0:4], label)
	return append(b, payload...)
}

func pppoeSession(pppProtocol uint16, payload []byte) []byte {
	b := make([]byte, pppoeHeaderLen, pppoeHeaderLen+len(payload))
	b[0] = 0x11 // version 1, type 1
	// session id, then payload length including the PPP protocol ID
	binary.BigEndian.PutUint16(b[2:4], 0x0001)
	binary.BigEndian.PutUint16(b[4:6], uint16(2+len(payload)))
	binary.BigEndian.PutUint16(b[6:8], pppProtocol)
	return append(b, payload...)
}

func ipv4Packet(src, dst string, proto byte, id, fragOff uint16, payload []byte) []byte {
	b := make([]byte, ipv4HeaderLen, ipv4HeaderLen+len(payload))
	b[0] = 0x45
	binary.BigEndian.PutUint16(b[2:4], uint16(ipv4HeaderLen+len(payload)))
	binary.BigEndian.PutUint16(b[4:6], id)
	binary.BigEndian.PutUint16(b[6:8], fragOff)
	b[8] = 64
	b[9] = proto
	copy(b[12:16], netip.MustParseAddr(src).AsSlice())
	copy(b[16:20], netip.MustParseAddr(dst).AsSlice())
	return append(b, payload...)
}

func ipv6Packet(src, dst string, nextHdr byte, payload []byte) []byte {
	b := make([]byte, ipv6HeaderLen, ipv6HeaderLen+len(payload))
	b[0] = 0x60
	binary.BigEndian.PutUint16(b[4:6], uint16(len(payload)))
	b[6] = nextHdr
	b[7] = 64
	copy(b[8:24], netip.MustParseAddr(src).AsSlice())
	copy(b[24:40], netip.MustParseAddr(dst).AsSlice())
	return append(b, payload...)
}

// ipv6ExtHeader builds a minimal (8-byte) extension header of the
// hop-by-hop / destination-options family
func ipv6ExtHeader(nextHdr byte, payload []byte) []byte {
	b := make([]byte, ipv6ExtUnit, ipv6ExtUnit+len(payload))
	b[0] = nextHdr
	b[1] = 0 // (0+1)*8 bytes
	return append(b, payload...)
}

func ipv6FragHeader(nextHdr byte, fragWord uint16, id uint32, payload []byte) []byte {
	b := make([]byte, fragHeaderLen, fragHeaderLen+len(payload))
	b[0] = nextHdr
	binary.BigEndian.PutUint16(b[2:4], fragWord)
	binary.BigEndian.PutUint32(b[4:8], id)
	return append(b, payload...)
}

func ipv6AuthHeader(nextHdr byte, payload []byte) []byte {
	// fixed-size AH: payload length 3 -> (3+2)*4 = 20 bytes
	b := make([]byte, authHeaderLen, authHeaderLen+len(payload))
	b[0] = nextHdr
	b[1] = 3
	return append(b, payload...)
}

func greHeader(flags, proto uint16, payload []byte) []byte {
	optLen := 0
	if flags&(greFlagChecksum|greFlagRouting) != 0 {
		optLen += 4
	}
	if flags&greFlagKey != 0 {
		optLen += 4
	}
	if flags&greFlagSeq != 0 {
		optLen += 4
	}
	b := make([]byte, greHeaderLen+optLen, greHeaderLen+optLen+len(payload))
	binary.BigEndian.PutUint16(b[0:2], flags)
	binary.BigEndian.PutUint16(b[2:4], proto)
	return append(b, payload...)
}

func tcpSegment(sport, dport, flags uint16) []byte {
	b := make([]byte, tcpHeaderLen)
	binary.BigEndian.PutUint16(b[0:2], sport)
	binary.BigEndian.PutUint16(b[2:4], dport)
	b[12] = 5 << 4 // data offset, no options
	b[13] = byte(flags)
	binary.BigEndian.PutUint16(b[14:16], 0xffff)
	return b
}

func udpDatagram(sport, dport uint16, payload []byte) []byte {
	b := make([]byte, udpHeaderLen, udpHeaderLen+len(payload))
	binary.BigEndian.PutUint16(b[0:2], sport)
	binary.BigEndian.PutUint16(b[2:4], dport)
	binary.BigEndian.PutUint16(b[4:6], uint16(udpHeaderLen+len(payload)))
	return append(b, payload...)
}

func sctpHeader(sport, dport uint16) []byte {
	b := make([]byte, sctpHeaderLen)
	binary.BigEndian.PutUint16(b[0:2], sport)
	binary.BigEndian.PutUint16(b[2:4], dport)
	return b
}

// ethTCP is the short form for the most common test frame
func ethTCP(src string, sport uint16, dst string, dport uint16, flags uint16) []byte {
	return ethFrame(etherTypeIPv4, ipv4Packet(src, dst, ProtoTCP, 0, 0, tcpSegment(sport, dport, flags)))
}

func ethUDP(src string, sport uint16, dst string, dport uint16) []byte {
	return ethFrame(etherTypeIPv4, ipv4Packet(src, dst, ProtoUDP, 0, 0, udpDatagram(sport, dport, nil)))
}
