package flow

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFragCacheMatch(t *testing.T) {
	c := NewFragCache()
	tp := mkTuple(ProtoUDP, "10.0.0.1", 1000, "10.0.0.2", 2000)
	require.True(t, c.remember(42, &tp, 1_000_000))

	// lookups carry no ports and may see the addresses in either order
	fwd := mkTuple(ProtoUDP, "10.0.0.1", 0, "10.0.0.2", 0)
	rev := mkTuple(ProtoUDP, "10.0.0.2", 0, "10.0.0.1", 0)

	require.NotNil(t, c.match(42, &fwd))
	require.NotNil(t, c.match(42, &rev))
	assert.Equal(t, uint16(1000), c.match(42, &fwd).tuple.src.Port)

	// identification and address pair are both part of the key
	assert.Nil(t, c.match(43, &fwd))
	other := mkTuple(ProtoUDP, "10.0.0.3", 0, "10.0.0.2", 0)
	assert.Nil(t, c.match(42, &other))
}

func TestFragCacheConsume(t *testing.T) {
	c := NewFragCache()
	tp := mkTuple(ProtoUDP, "10.0.0.1", 1000, "10.0.0.2", 2000)
	require.True(t, c.remember(42, &tp, 1_000_000))

	entry := c.match(42, &tp)
	require.NotNil(t, entry)
	c.consume(entry)

	assert.Zero(t, c.Len())
	assert.Nil(t, c.match(42, &tp))
}

func TestFragCacheDepthBound(t *testing.T) {
	c := NewFragCache()
	now := uint64(1_000_000)

	for i := 0; i < MaxFragDepth; i++ {
		tp := mkTuple(ProtoUDP, "10.0.0.1", 1000, fmt.Sprintf("10.0.1.%d", i), 2000)
		require.True(t, c.remember(uint32(i), &tp, now))
	}
	require.Equal(t, MaxFragDepth, c.Len())

	// nothing is old enough to sweep: the insert is dropped
	tp := mkTuple(ProtoUDP, "10.0.0.1", 1000, "10.0.2.1", 2000)
	assert.False(t, c.remember(9999, &tp, now+1))
	assert.Equal(t, MaxFragDepth, c.Len())

	// once the entries exceed the expiry age the sweep frees the cache
	later := now + uint64(FragExpiry.Microseconds()) + 1
	require.True(t, c.remember(9999, &tp, later))
	assert.Equal(t, 1, c.Len())
	assert.NotNil(t, c.match(9999, &tp))
}
