/*
Package flow ingests raw network frames, derives their direction-independent
5-tuple identity and maintains a table of long-lived flow records with
state-dependent expiry.
*/
package flow

import "strconv"

// ipProtocols maps the protocol numbers the walker interprets to their
// friendly names
var ipProtocols = map[byte]string{
	ProtoICMP:   "icmp",
	ProtoTCP:    "tcp",
	ProtoUDP:    "udp",
	ProtoGRE:    "gre",
	ProtoESP:    "esp",
	ProtoICMPv6: "icmp6",
	ProtoSCTP:   "sctp",
}

// ProtoName returns the friendly name for a given IP protocol number,
// falling back to its decimal representation
func ProtoName(id byte) string {
	if name, ok := ipProtocols[id]; ok {
		return name
	}
	return strconv.Itoa(int(id))
}
