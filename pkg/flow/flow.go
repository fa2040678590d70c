/////////////////////////////////////////////////////////////////////////////////
//
// flow.go
//
// Per-flow record kept by the table: canonical tuple, lifecycle state,
// counters and the expiry queue link.
//
// Written by Lennart Elsen lel@open.ch, May 2014
// Copyright (c) 2014 Open Systems AG, Switzerland
// All Rights Reserved.
//
/////////////////////////////////////////////////////////////////////////////////

package flow

import (
	"container/list"
	"fmt"
	"io"
	"text/tabwriter"

	jsoniter "github.com/json-iterator/go"
)

// State enumerates the lifecycle states of a flow
type State uint8

const (
	// StateNew means that no reply (or TCP handshake completion) has been seen yet
	StateNew State = iota
	// StateOpen means that the flow is established in both directions
	StateOpen
	// StateClosed means that the flow has been shut down or reset
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Default per-state lifetimes in seconds. A flow untouched for its lifetime
// becomes eligible for expiry.
const (
	DefaultNewTimeout    uint64 = 30
	DefaultOpenTimeout   uint64 = 300
	DefaultClosedTimeout uint64 = 10
)

// Flow is a single bidirectional flow tracked by a Table. A Flow handle
// obtained from GetFull or Foreach is only valid until the next mutating
// operation on its table; callers needing persistence must copy the
// observable fields out.
type Flow struct {
	table *Table

	tuple     Tuple
	state     State
	lifetime  uint64 // seconds
	updatedUs uint64 // last-seen timestamp, microseconds
	packets   uint64
	flags     uint16 // TCP flags word of the last flag-bearing packet
	direction Direction

	// expiry queue link
	elem  *list.Element
	queue int

	// opaque caller data, never touched by the table
	ctx any
}

// State returns the current lifecycle state
func (f *Flow) State() State {
	return f.state
}

// Packets returns the number of packets attributed to the flow
func (f *Flow) Packets() uint64 {
	return f.packets
}

// Hash returns the canonical tuple hash
func (f *Flow) Hash() uint32 {
	return f.tuple.Hash()
}

// Protocol returns the IP protocol number
func (f *Flow) Protocol() byte {
	return f.tuple.Protocol()
}

// Tuple returns a copy of the flow's canonical tuple
func (f *Flow) Tuple() Tuple {
	return f.tuple
}

// Lifetime returns the current per-state lifetime in seconds
func (f *Flow) Lifetime() uint64 {
	return f.lifetime
}

// LastSeen returns the timestamp of the last update in microseconds
func (f *Flow) LastSeen() uint64 {
	return f.updatedUs
}

// LowerPort returns the numerically smaller port of the tuple
func (f *Flow) LowerPort() uint16 {
	return f.tuple.Lower().Port
}

// UpperPort returns the numerically larger port of the tuple
func (f *Flow) UpperPort() uint16 {
	return f.tuple.Upper().Port
}

// ServerPort returns the port of the assumed service side (the lower port)
func (f *Flow) ServerPort() uint16 {
	return f.tuple.Server().Port
}

// LowerIP returns the address of the lower endpoint as a string
func (f *Flow) LowerIP() string {
	return f.tuple.Lower().Addr.String()
}

// UpperIP returns the address of the upper endpoint as a string
func (f *Flow) UpperIP() string {
	return f.tuple.Upper().Addr.String()
}

// ServerIP returns the address of the assumed service side as a string
func (f *Flow) ServerIP() string {
	return f.tuple.Server().Addr.String()
}

// TCPFlags returns the flags word of the last flag-bearing packet
func (f *Flow) TCPFlags() uint16 {
	return f.flags
}

// Context returns the opaque caller data attached to the flow
func (f *Flow) Context() any {
	return f.ctx
}

// SetContext attaches opaque caller data to the flow. The table never
// dereferences or releases it.
func (f *Flow) SetContext(ctx any) {
	f.ctx = ctx
}

// Finalize removes the flow from its table and expiry queue. The handle
// must not be used afterwards.
func (f *Flow) Finalize() {
	f.table.remove(f)
}

// MarshalJSON implements the jsoniter.Marshaler interface
func (f *Flow) MarshalJSON() ([]byte, error) {
	return jsoniter.Marshal(f.toInfo())
}

// FlowInfo summarizes the observable attributes of a flow
type FlowInfo struct {
	State      string `json:"state"`
	Protocol   string `json:"protocol"`
	LowerIP    string `json:"lip"`
	UpperIP    string `json:"uip"`
	LowerPort  uint16 `json:"lport"`
	UpperPort  uint16 `json:"uport"`
	Packets    uint64 `json:"packets"`
	Hash       uint32 `json:"hash"`
	LastSeenUs uint64 `json:"last_seen_us"`
}

func (f *Flow) toInfo() FlowInfo {
	return FlowInfo{
		State:      f.state.String(),
		Protocol:   ProtoName(f.tuple.Protocol()),
		LowerIP:    f.LowerIP(),
		UpperIP:    f.UpperIP(),
		LowerPort:  f.LowerPort(),
		UpperPort:  f.UpperPort(),
		Packets:    f.packets,
		Hash:       f.Hash(),
		LastSeenUs: f.updatedUs,
	}
}

// FlowInfos is a list of FlowInfo objects
type FlowInfos []FlowInfo

// constants for table printing
const (
	headerStr = "\thash\tlip\tlport\t\tuip\tuport\tproto\tpackets\tstate\t"
	fmtStr    = "\t0x%08x\t%s\t%d\t←―→\t%s\t%d\t%s\t%d\t%s\t\n"
)

// TablePrint prints the list of flow infos in a formatted table
func (fs FlowInfos) TablePrint(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 0, 4, ' ', tabwriter.AlignRight)

	fmt.Fprintln(tw, headerStr)
	for _, fi := range fs {
		fmt.Fprintf(tw, fmtStr,
			fi.Hash,
			fi.LowerIP,
			fi.LowerPort,
			fi.UpperIP,
			fi.UpperPort,
			fi.Protocol,
			fi.Packets,
			fi.State,
		)
	}
	return tw.Flush()
}
