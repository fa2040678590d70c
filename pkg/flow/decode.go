/////////////////////////////////////////////////////////////////////////////////
//
// decode.go
//
// Layered header walker turning a raw frame into a flow tuple. The walker
// operates in place on the frame buffer, checks every header against the
// remaining length and fails closed: a truncated or unsupported outer layer
// never yields a partial tuple.
//
// Written by Lennart Elsen lel@open.ch, May 2014
// Copyright (c) 2014 Open Systems AG, Switzerland
// All Rights Reserved.
//
/////////////////////////////////////////////////////////////////////////////////

package flow

import (
	"encoding/binary"
	"errors"
	"net/netip"
)

var (

	// ErrFrameTruncated indicates that a frame was too short to hold the next
	// header of its encapsulation chain
	ErrFrameTruncated = errors.New("frame too short / truncated")

	// ErrUnsupportedEtherType indicates an EtherType the walker cannot descend into
	ErrUnsupportedEtherType = errors.New("unsupported ethernet protocol")

	// ErrUnsupportedPPPProtocol indicates a PPP payload that is neither IPv4 nor IPv6
	ErrUnsupportedPPPProtocol = errors.New("unsupported PPPoE protocol")

	// ErrInvalidIPHeader indicates that neither an IPv4 nor an IPv6 header was found
	ErrInvalidIPHeader = errors.New("received neither IPv4 nor IPv6 IP header")

	// ErrVLANTagLimit indicates more than two stacked VLAN tags
	ErrVLANTagLimit = errors.New("VLAN tag limit exceeded")

	// ErrMPLSLabelLimit indicates more than three stacked MPLS labels
	ErrMPLSLabelLimit = errors.New("MPLS label limit exceeded")

	// ErrNestingLimit indicates too many nested IP / GRE encapsulation levels
	ErrNestingLimit = errors.New("IP encapsulation limit exceeded")

	// ErrFragmentNotFound indicates a non-initial IP fragment whose first
	// fragment was never seen, leaving the L4 ports unrecoverable
	ErrFragmentNotFound = errors.New("no tuple cached for IP fragment")
)

// decodeResult carries everything the flow table needs from a single frame
type decodeResult struct {
	tuple    Tuple
	tcpFlags uint16
	l3Offset int
}

// decodeFrame walks the frame starting at the Ethernet header
func decodeFrame(data []byte, frags *FragCache, tsUs uint64) (res decodeResult, err error) {
	if len(data) < ethHeaderLen {
		return res, ErrFrameTruncated
	}

	etherType := binary.BigEndian.Uint16(data[12:14])
	offset := ethHeaderLen
	var tags, labels int

	for {
		switch etherType {
		case etherTypeVLAN, etherTypeQinQ:
			tags++
			if tags > maxVLANTags {
				return res, ErrVLANTagLimit
			}
			if len(data) < offset+vlanHeaderLen {
				return res, ErrFrameTruncated
			}
			etherType = binary.BigEndian.Uint16(data[offset+2 : offset+4])
			offset += vlanHeaderLen

		case etherTypeMPLSUcast, etherTypeMPLSMcast:
			labels++
			if labels > maxMPLSLabels {
				return res, ErrMPLSLabelLimit
			}
			if len(data) < offset+mplsLabelLen {
				return res, ErrFrameTruncated
			}
			label := binary.BigEndian.Uint32(data[offset : offset+4])
			offset += mplsLabelLen

			// descend until the bottom-of-stack label, below which plain
			// IPv4 is assumed
			if label&mplsBottomOfStack == 0 {
				etherType = etherTypeMPLSUcast
			} else {
				etherType = etherTypeIPv4
			}

		case etherTypePPPoE:
			if len(data) < offset+pppoeHeaderLen {
				return res, ErrFrameTruncated
			}
			switch binary.BigEndian.Uint16(data[offset+6 : offset+8]) {
			case pppProtocolIPv4:
				etherType = etherTypeIPv4
			case pppProtocolIPv6:
				etherType = etherTypeIPv6
			default:
				return res, ErrUnsupportedPPPProtocol
			}
			offset += pppoeHeaderLen

		case etherTypeIPv4:
			err = decodeIPv4(data, offset, 0, &res, frags, tsUs)
			return res, err

		case etherTypeIPv6:
			err = decodeIPv6(data, offset, 0, &res, frags, tsUs)
			return res, err

		default:
			return res, ErrUnsupportedEtherType
		}
	}
}

// decodeIP dispatches on the IP version nibble (frames handed over without
// their L2 header)
func decodeIP(data []byte, frags *FragCache, tsUs uint64) (res decodeResult, err error) {
	if len(data) < 1 {
		return res, ErrFrameTruncated
	}

	switch data[0] >> 4 {
	case 4:
		err = decodeIPv4(data, 0, 0, &res, frags, tsUs)
	case 6:
		err = decodeIPv6(data, 0, 0, &res, frags, tsUs)
	default:
		err = ErrInvalidIPHeader
	}
	return res, err
}

// decodeIPv4 parses the IPv4 header at data[off:] and whatever it carries.
// Options are not interpreted, the L4 header is expected right after the
// 20-byte fixed header.
func decodeIPv4(data []byte, off, depth int, res *decodeResult, frags *FragCache, tsUs uint64) error {
	if depth > maxIPNesting {
		return ErrNestingLimit
	}
	if len(data) < off+ipv4HeaderLen {
		return ErrFrameTruncated
	}
	hdr := data[off:]

	res.l3Offset = off
	res.tuple.proto = hdr[9]
	res.tuple.src.Addr = netip.AddrFrom4([4]byte(hdr[12:16]))
	res.tuple.dst.Addr = netip.AddrFrom4([4]byte(hdr[16:20]))

	fragOff := binary.BigEndian.Uint16(hdr[6:8])
	if fragOff&ipv4FragOffMask != 0 {

		// non-initial fragment: the ports travelled with the first fragment
		// only, recover them from the fragment cache
		ipID := uint32(binary.BigEndian.Uint16(hdr[4:6]))
		entry := frags.match(ipID, &res.tuple)
		if entry == nil {
			return ErrFragmentNotFound
		}
		res.tuple.src.Port = entry.tuple.src.Port
		res.tuple.dst.Port = entry.tuple.dst.Port

		if fragOff&ipv4FlagMF == 0 {
			frags.consume(entry)
		}
		return nil
	}

	switch res.tuple.proto {
	case ProtoTCP:
		if err := decodeTCP(data, off+ipv4HeaderLen, res); err != nil {
			return err
		}
	case ProtoUDP:
		if err := decodeUDP(data, off+ipv4HeaderLen, res); err != nil {
			return err
		}
	case ProtoGRE:
		if err := decodeGRE(data, off+ipv4HeaderLen, depth, res, frags, tsUs); err != nil {
			return err
		}
	default:
		res.tuple.src.Port = 0
		res.tuple.dst.Port = 0
	}

	// remember the identity of a first fragment (MF set, offset zero) so the
	// remaining fragments can be attributed. A full cache drops the entry,
	// the current packet itself is unaffected.
	if fragOff&ipv4FlagMF != 0 && fragOff&ipv4FragOffMask == 0 {
		ipID := uint32(binary.BigEndian.Uint16(hdr[4:6]))
		frags.remember(ipID, &res.tuple, tsUs)
	}

	return nil
}

// decodeIPv6 parses the IPv6 header at data[off:] and walks its extension
// header chain until an upper-layer protocol (or the end of the chain) is
// reached.
func decodeIPv6(data []byte, off, depth int, res *decodeResult, frags *FragCache, tsUs uint64) error {
	if depth > maxIPNesting {
		return ErrNestingLimit
	}
	if len(data) < off+ipv6HeaderLen {
		return ErrFrameTruncated
	}
	hdr := data[off:]

	res.l3Offset = off
	res.tuple.proto = hdr[6]
	res.tuple.src.Addr = netip.AddrFrom16([16]byte(hdr[8:24]))
	res.tuple.dst.Addr = netip.AddrFrom16([16]byte(hdr[24:40]))

	pos := off + ipv6HeaderLen

	// identity of the last fragment header seen on the chain
	var fragWord uint16
	var fragID uint32
	var sawFragment bool

walk:
	for {
		switch res.tuple.proto {
		case ProtoTCP:
			if err := decodeTCP(data, pos, res); err != nil {
				return err
			}
			break walk
		case ProtoUDP:
			if err := decodeUDP(data, pos, res); err != nil {
				return err
			}
			break walk
		case ProtoSCTP:
			if err := decodeSCTP(data, pos, res); err != nil {
				return err
			}
			break walk
		case ProtoIPv4:
			if err := decodeIPv4(data, pos, depth+1, res, frags, tsUs); err != nil {
				return err
			}
			break walk
		case ProtoIPv6:
			if err := decodeIPv6(data, pos, depth+1, res, frags, tsUs); err != nil {
				return err
			}
			break walk
		case ProtoGRE:
			if err := decodeGRE(data, pos, depth, res, frags, tsUs); err != nil {
				return err
			}
			break walk

		case ProtoHopByHop, ProtoDestOpt, ProtoRouting, ProtoMobility, ProtoHIPv2, ProtoShim6:
			if len(data) < pos+2 {
				return ErrFrameTruncated
			}
			extLen := (int(data[pos+1]) + 1) * ipv6ExtUnit
			if len(data) < pos+extLen {
				return ErrFrameTruncated
			}
			res.tuple.proto = data[pos]
			pos += extLen

		case ProtoAuth:
			if len(data) < pos+authHeaderLen {
				return ErrFrameTruncated
			}
			extLen := (int(data[pos+1]) + 2) * authLenUnit
			if len(data) < pos+extLen {
				return ErrFrameTruncated
			}
			res.tuple.proto = data[pos]
			pos += extLen

		case ProtoFragment:
			if len(data) < pos+fragHeaderLen {
				return ErrFrameTruncated
			}
			res.tuple.proto = data[pos]
			fragWord = binary.BigEndian.Uint16(data[pos+2 : pos+4])
			fragID = binary.BigEndian.Uint32(data[pos+4 : pos+8])
			sawFragment = true
			pos += fragHeaderLen

			if fragWord&ipv6FragOffMask != 0 {

				// non-initial fragment, same identity recovery as IPv4
				entry := frags.match(fragID, &res.tuple)
				if entry == nil {
					return ErrFragmentNotFound
				}
				res.tuple.src.Port = entry.tuple.src.Port
				res.tuple.dst.Port = entry.tuple.dst.Port

				if fragWord&ipv6FragFlagMF == 0 {
					frags.consume(entry)
				}
				return nil
			}

		case ProtoESP, ProtoNoNext, ProtoICMPv6:
			break walk
		default:
			break walk
		}
	}

	if sawFragment && fragWord&ipv6FragFlagMF != 0 && fragWord&ipv6FragOffMask == 0 {
		frags.remember(fragID, &res.tuple, tsUs)
	}

	return nil
}

// decodeGRE skips the GRE header including its optional fields and descends
// into the encapsulated IP packet
func decodeGRE(data []byte, off, depth int, res *decodeResult, frags *FragCache, tsUs uint64) error {
	if len(data) < off+greHeaderLen {
		return ErrFrameTruncated
	}
	flags := binary.BigEndian.Uint16(data[off : off+2])
	proto := binary.BigEndian.Uint16(data[off+2 : off+4])

	pos := off + greHeaderLen
	if flags&(greFlagChecksum|greFlagRouting) != 0 {
		pos += 4
	}
	if flags&greFlagKey != 0 {
		pos += 4
	}
	if flags&greFlagSeq != 0 {
		pos += 4
	}
	if len(data) < pos {
		return ErrFrameTruncated
	}

	switch proto {
	case etherTypeIPv4:
		return decodeIPv4(data, pos, depth+1, res, frags, tsUs)
	case etherTypeIPv6:
		return decodeIPv6(data, pos, depth+1, res, frags, tsUs)
	default:
		return ErrUnsupportedEtherType
	}
}

// decodeTCP reads the ports and the flags word
func decodeTCP(data []byte, off int, res *decodeResult) error {
	if len(data) < off+tcpHeaderLen {
		return ErrFrameTruncated
	}
	res.tuple.src.Port = binary.BigEndian.Uint16(data[off : off+2])
	res.tuple.dst.Port = binary.BigEndian.Uint16(data[off+2 : off+4])
	res.tcpFlags = binary.BigEndian.Uint16(data[off+12 : off+14])
	return nil
}

// decodeUDP reads the ports
func decodeUDP(data []byte, off int, res *decodeResult) error {
	if len(data) < off+udpHeaderLen {
		return ErrFrameTruncated
	}
	res.tuple.src.Port = binary.BigEndian.Uint16(data[off : off+2])
	res.tuple.dst.Port = binary.BigEndian.Uint16(data[off+2 : off+4])
	return nil
}

// decodeSCTP reads the ports of the SCTP common header
func decodeSCTP(data []byte, off int, res *decodeResult) error {
	if len(data) < off+sctpHeaderLen {
		return ErrFrameTruncated
	}
	res.tuple.src.Port = binary.BigEndian.Uint16(data[off : off+2])
	res.tuple.dst.Port = binary.BigEndian.Uint16(data[off+2 : off+4])
	return nil
}

// ParseTuple is the stateless decode helper: it extracts the canonical
// tuple from a frame starting at the Ethernet header without touching any
// flow table. The fragment cache may be shared with a table or stand on its
// own; pass nil if fragment identity recovery is not required.
func ParseTuple(frame []byte, frags *FragCache) (Tuple, error) {
	if frags == nil {
		frags = NewFragCache()
	}
	res, err := decodeFrame(frame, frags, 0)
	if err != nil {
		return Tuple{}, err
	}
	return res.tuple, nil
}
