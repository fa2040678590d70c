/////////////////////////////////////////////////////////////////////////////////
//
// fragment.go
//
// Cache mapping the IP identification / address pair of a fragmented
// datagram to the tuple of its first fragment, so that later fragments
// (which carry no L4 header) can be attributed to the right flow.
//
// Written by Lennart Elsen lel@open.ch, June 2014
// Copyright (c) 2014 Open Systems AG, Switzerland
// All Rights Reserved.
//
/////////////////////////////////////////////////////////////////////////////////

package flow

import (
	"container/list"
	"time"
)

const (
	// MaxFragDepth bounds the number of datagrams tracked concurrently
	MaxFragDepth = 128

	// FragExpiry is the age after which an entry may be swept
	FragExpiry = 30 * time.Second

	// TimestampResolution is the number of timestamp ticks per second
	// (timestamps are microseconds throughout)
	TimestampResolution = 1_000_000
)

type fragEntry struct {
	id        uint32
	tuple     Tuple
	timestamp uint64
	elem      *list.Element
}

// FragCache tracks the identity of fragmented datagrams between their first
// and last fragment. It is bounded in depth, sweeps lazily on insert
// pressure and is best-effort by design: identification collisions across
// address pairs and dropped entries merely degrade fragment attribution,
// never correctness of non-fragmented traffic. Not safe for concurrent use.
type FragCache struct {
	entries *list.List
	clock   func() uint64
}

// NewFragCache creates an empty fragment cache using the wall clock for
// timestamp-less insertions
func NewFragCache() *FragCache {
	return &FragCache{
		entries: list.New(),
		clock:   wallClockUs,
	}
}

func wallClockUs() uint64 {
	return uint64(time.Now().UnixMicro())
}

// Len returns the number of tracked datagrams
func (c *FragCache) Len() int {
	return c.entries.Len()
}

// match looks up the entry for the given IP identification and the address
// pair of t. The address pair is compared as an unordered set and ports are
// ignored, fragments after the first do not carry any.
func (c *FragCache) match(id uint32, t *Tuple) *fragEntry {
	for e := c.entries.Front(); e != nil; e = e.Next() {
		entry := e.Value.(*fragEntry)
		if entry.id != id {
			continue
		}
		if sameAddrPair(&entry.tuple, t) {
			return entry
		}
	}
	return nil
}

// remember stores the tuple of a first fragment. At full depth entries
// older than FragExpiry are swept first; if the sweep frees nothing the
// insert is dropped and false is returned (bounded-memory behaviour, later
// fragments of this datagram will not be attributable).
func (c *FragCache) remember(id uint32, t *Tuple, tsUs uint64) bool {
	if tsUs == 0 {
		tsUs = c.clock()
	}
	if c.entries.Len() >= MaxFragDepth {
		if c.sweep(tsUs) == 0 {
			return false
		}
	}
	entry := &fragEntry{id: id, tuple: *t, timestamp: tsUs}
	entry.elem = c.entries.PushFront(entry)
	return true
}

// consume removes an entry once the last fragment has been seen
func (c *FragCache) consume(entry *fragEntry) {
	c.entries.Remove(entry.elem)
}

// sweep drops all entries older than FragExpiry and reports how many were
// removed
func (c *FragCache) sweep(nowUs uint64) (cleared int) {
	expiryUs := uint64(FragExpiry / time.Microsecond)
	for e := c.entries.Front(); e != nil; {
		next := e.Next()
		if entry := e.Value.(*fragEntry); nowUs-entry.timestamp > expiryUs {
			c.entries.Remove(e)
			cleared++
		}
		e = next
	}
	return
}
