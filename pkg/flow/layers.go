/////////////////////////////////////////////////////////////////////////////////
//
// layers.go
//
// Wire format constants for the header walker.
//
// Written by Lennart Elsen lel@open.ch, May 2014
// Copyright (c) 2014 Open Systems AG, Switzerland
// All Rights Reserved.
//
/////////////////////////////////////////////////////////////////////////////////

package flow

import (
	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
)

// EtherType values dispatched at the Ethernet layer
const (
	etherTypeIPv4      = 0x0800
	etherTypeIPv6      = 0x86DD
	etherTypeVLAN      = 0x8100 // 802.1Q
	etherTypeQinQ      = 0x88A8 // 802.1ad
	etherTypeMPLSUcast = 0x8847
	etherTypeMPLSMcast = 0x8848
	etherTypePPPoE     = 0x8864 // PPPoE session stage
)

// PPP protocol IDs carried inside a PPPoE session
const (
	pppProtocolIPv4 = 0x0021
	pppProtocolIPv6 = 0x0057
)

// Enumeration of the IP protocols the walker interprets
const (
	ProtoHopByHop = 0   // ProtoHopByHop : IPv6 hop-by-hop options
	ProtoICMP     = 1   // ProtoICMP : ICMP
	ProtoIPv4     = 4   // ProtoIPv4 : IPv4-in-IP encapsulation
	ProtoTCP      = 6   // ProtoTCP : TCP
	ProtoUDP      = 17  // ProtoUDP : UDP
	ProtoIPv6     = 41  // ProtoIPv6 : IPv6-in-IP encapsulation
	ProtoRouting  = 43  // ProtoRouting : IPv6 routing header
	ProtoFragment = 44  // ProtoFragment : IPv6 fragment header
	ProtoGRE      = 47  // ProtoGRE : Generic Routing Encapsulation
	ProtoESP      = 50  // ProtoESP : Encapsulating Security Payload
	ProtoAuth     = 51  // ProtoAuth : Authentication Header
	ProtoICMPv6   = 58  // ProtoICMPv6 : ICMPv6
	ProtoNoNext   = 59  // ProtoNoNext : IPv6 no next header
	ProtoDestOpt  = 60  // ProtoDestOpt : IPv6 destination options
	ProtoSCTP     = 132 // ProtoSCTP : SCTP
	ProtoMobility = 135 // ProtoMobility : IPv6 mobility header
	ProtoHIPv2    = 139 // ProtoHIPv2 : Host Identity Protocol v2
	ProtoShim6    = 140 // ProtoShim6 : Shim6 header
)

// Fixed header sizes. The IP header lengths are the protocol-defined
// minima from x/net; options / extension headers are handled explicitly by
// the walker.
const (
	ethHeaderLen   = 14
	vlanHeaderLen  = 4
	mplsLabelLen   = 4
	pppoeHeaderLen = 8 // PPPoE session header including the PPP protocol ID
	ipv4HeaderLen  = ipv4.HeaderLen
	ipv6HeaderLen  = ipv6.HeaderLen
	greHeaderLen   = 4
	tcpHeaderLen   = 20
	udpHeaderLen   = 8
	sctpHeaderLen  = 12 // common header: ports, verification tag, checksum
	fragHeaderLen  = 8
	authHeaderLen  = 20 // 12-byte fixed part incl. SPI/SEQ plus two ICV words
	ipv6ExtUnit    = 8
	authLenUnit    = 4
)

// Encapsulation limits enforced by the walker
const (
	maxVLANTags   = 2
	maxMPLSLabels = 3
	maxIPNesting  = 4 // IP-in-IP / GRE levels below the outermost IP header
)

// mplsBottomOfStack marks the last label of an MPLS stack
const mplsBottomOfStack = 0x100

// GRE optional field flag bits
const (
	greFlagChecksum = 0x8000
	greFlagRouting  = 0x4000
	greFlagKey      = 0x2000
	greFlagSeq      = 0x1000
)

// IPv4 fragmentation bits of the big-endian fragment offset word: bit
// 0x2000 is "more fragments", the low 13 bits are the fragment offset in
// units of 8 bytes. The IPv6 fragment header keeps the offset in the upper
// 13 bits (mask 0xFFF8) and "more fragments" in bit 0x1.
const (
	ipv4FlagMF      = 0x2000
	ipv4FragOffMask = 0x1FFF
	ipv6FragOffMask = 0xFFF8
	ipv6FragFlagMF  = 0x0001
)

// TCP flag bits of the 16-bit word at offset 12 of the TCP header (data
// offset nibble included in the upper bits)
const (
	TCPFlagFIN = 0x0001
	TCPFlagSYN = 0x0002
	TCPFlagRST = 0x0004
	TCPFlagPSH = 0x0008
	TCPFlagACK = 0x0010
)
