/////////////////////////////////////////////////////////////////////////////////
//
// table.go
//
// Flow table: a map of live flows keyed by their canonical tuple plus one
// expiry queue per lifetime bucket. All operations on one table must be
// serialised by the caller; independent tables share no state.
//
// Written by Lennart Elsen lel@open.ch, May 2014
// Copyright (c) 2014 Open Systems AG, Switzerland
// All Rights Reserved.
//
/////////////////////////////////////////////////////////////////////////////////

package flow

import (
	"container/list"
	"errors"

	jsoniter "github.com/json-iterator/go"
)

// ErrTableFull indicates that a new flow was rejected because the table
// reached its configured maximum
var ErrTableFull = errors.New("flow table full")

// numLifetimes is the number of expiry queues; one per lifecycle state
const numLifetimes = 3

// lifetimeSeconds maps a queue index to its lifetime. Queue order is also
// the scan order of Expire and Foreach.
var lifetimeSeconds = [numLifetimes]uint64{
	DefaultNewTimeout,
	DefaultOpenTimeout,
	DefaultClosedTimeout,
}

// expiryIndex returns the queue index whose bucket matches the lifetime
func expiryIndex(lifetime uint64) int {
	for i, v := range lifetimeSeconds {
		if v == lifetime {
			return i
		}
	}
	return 0
}

// Table stores flows indexed by their canonical tuple. It is NOT
// threadsafe; serialise all access (the typical pattern shards packets
// across per-worker tables instead of locking a shared one).
type Table struct {
	flows  map[TupleKey]*Flow
	queues [numLifetimes]*list.List
	frags  *FragCache

	hits   uint64
	misses uint64
	max    uint64

	clock func() uint64
}

// TableOption configures a Table
type TableOption func(*Table)

// WithClock sets the microsecond timestamp source used when packets are
// submitted without a timestamp. Meant for tests; the default is the wall
// clock.
func WithClock(clock func() uint64) TableOption {
	return func(t *Table) {
		t.clock = clock
	}
}

// NewTable creates an empty flow table
func NewTable(opts ...TableOption) *Table {
	t := &Table{
		flows: make(map[TupleKey]*Flow),
		frags: NewFragCache(),
		clock: wallClockUs,
	}
	for i := range t.queues {
		t.queues[i] = list.New()
	}
	for _, opt := range opts {
		opt(t)
	}
	t.frags.clock = t.clock
	return t
}

// SetMax caps the number of flows in the table (zero means unbounded).
// Existing excess flows are not evicted.
func (t *Table) SetMax(max uint64) {
	t.max = max
}

// Max returns the configured flow cap
func (t *Table) Max() uint64 {
	return t.max
}

// Len returns the current number of flows
func (t *Table) Len() int {
	return len(t.flows)
}

// Hits returns the number of packets that matched an existing flow
func (t *Table) Hits() uint64 {
	return t.hits
}

// Misses returns the number of packets that created a new flow
func (t *Table) Misses() uint64 {
	return t.misses
}

// FragCache exposes the table's fragment cache (shared with ParseTuple
// when pre-parsing frames for sharding)
func (t *Table) FragCache() *FragCache {
	return t.frags
}

// Get looks up the flow for a frame starting at the Ethernet header
// without updating any flow state
func (t *Table) Get(frame []byte) *Flow {
	f, _, _ := t.GetFull(frame, 0, 0, false, true)
	return f
}

// GetFull looks up (or creates) the flow a frame belongs to and returns it
// together with the offset of the L3 header inside the frame.
//
// A non-zero hashHint pre-seeds the memoised tuple hash. A zero timestamp
// falls back to the table clock. With update set, a matched flow runs
// through the state machine, is re-queued at the tail of its lifetime
// bucket and has its counters refreshed; without it the lookup is
// read-only. l2 selects whether the frame starts at the Ethernet or the IP
// header.
//
// Decode failures and capacity rejections return a nil flow and the error;
// neither touches the hit/miss counters.
func (t *Table) GetFull(frame []byte, hashHint uint32, timestampUs uint64, update, l2 bool) (*Flow, int, error) {
	var res decodeResult
	var err error

	if l2 {
		res, err = decodeFrame(frame, t.frags, timestampUs)
	} else {
		res, err = decodeIP(frame, t.frags, timestampUs)
	}
	if err != nil {
		decodeErrors.Inc()
		return nil, 0, err
	}
	packetsProcessed.Inc()

	if hashHint != 0 {
		res.tuple.hash = hashHint
	}

	pkt := packet{
		proto:     res.tuple.Protocol(),
		tcpFlags:  res.tcpFlags,
		direction: packetDirection(&res.tuple),
	}

	if f, exists := t.flows[res.tuple.Key()]; exists {
		t.hits++
		if update {
			t.unlink(f)
			f.update(&pkt)
			t.enqueue(f)
			f.updatedUs = t.timestamp(timestampUs)
			f.packets++
		}
		return f, res.l3Offset, nil
	}

	if t.max > 0 && uint64(len(t.flows)) >= t.max {
		capacityRejects.Inc()
		return nil, 0, ErrTableFull
	}

	f := &Flow{
		table:     t,
		tuple:     res.tuple,
		state:     StateNew,
		lifetime:  DefaultNewTimeout,
		direction: pkt.direction,
	}
	t.flows[f.tuple.Key()] = f
	t.misses++
	f.updatedUs = t.timestamp(timestampUs)

	// the creating packet may promote the flow straight to open or closed
	f.update(&pkt)
	t.enqueue(f)
	f.packets = 1
	flowsCreated.Inc()

	return f, res.l3Offset, nil
}

// Expire returns the first flow whose lifetime has elapsed at now, scanning
// the queue heads in new / open / closed order, or nil if none is due.
// Callers drive eviction by calling Expire repeatedly and finalizing each
// returned flow.
func (t *Table) Expire(nowUs uint64) *Flow {
	for i := range t.queues {
		e := t.queues[i].Front()
		if e == nil {
			continue
		}
		f := e.Value.(*Flow)
		if f.updatedUs+lifetimeSeconds[i]*TimestampResolution <= nowUs {
			return f
		}
	}
	return nil
}

// Foreach visits every flow exactly once, in expiry queue order. The table
// must not be mutated during iteration; callers deleting flows collect
// first and finalize after.
func (t *Table) Foreach(fn func(*Flow)) {
	for i := range t.queues {
		for e := t.queues[i].Front(); e != nil; e = e.Next() {
			fn(e.Value.(*Flow))
		}
	}
}

// Flows returns a snapshot of all flows in expiry queue order
func (t *Table) Flows() []*Flow {
	flows := make([]*Flow, 0, len(t.flows))
	t.Foreach(func(f *Flow) {
		flows = append(flows, f)
	})
	return flows
}

// Infos returns the observable attributes of all flows in expiry queue order
func (t *Table) Infos() FlowInfos {
	infos := make(FlowInfos, 0, len(t.flows))
	t.Foreach(func(f *Flow) {
		infos = append(infos, f.toInfo())
	})
	return infos
}

// MarshalJSON implements the jsoniter.Marshaler interface
func (t *Table) MarshalJSON() ([]byte, error) {
	return jsoniter.Marshal(t.Infos())
}

// timestamp resolves a caller-supplied timestamp, falling back to the
// table clock
func (t *Table) timestamp(timestampUs uint64) uint64 {
	if timestampUs != 0 {
		return timestampUs
	}
	return t.clock()
}

// enqueue links the flow into the tail of the queue matching its lifetime
func (t *Table) enqueue(f *Flow) {
	f.queue = expiryIndex(f.lifetime)
	f.elem = t.queues[f.queue].PushBack(f)
}

// unlink removes the flow from its current expiry queue
func (t *Table) unlink(f *Flow) {
	t.queues[f.queue].Remove(f.elem)
	f.elem = nil
}

// remove drops the flow from the map and its expiry queue
func (t *Table) remove(f *Flow) {
	t.unlink(f)
	delete(t.flows, f.tuple.Key())
	flowsFinalized.Inc()
}
