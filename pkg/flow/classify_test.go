package flow

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyTCP(t *testing.T) {
	for _, c := range []struct {
		name         string
		flags        uint16
		initial      State
		wantState    State
		wantLifetime uint64
	}{
		{"syn", TCPFlagSYN, StateNew, StateNew, DefaultNewTimeout},
		{"syn ack", TCPFlagSYN | TCPFlagACK, StateNew, StateOpen, DefaultOpenTimeout},
		{"fin ack", TCPFlagFIN | TCPFlagACK, StateOpen, StateClosed, DefaultClosedTimeout},
		{"fin only", TCPFlagFIN, StateOpen, StateOpen, DefaultOpenTimeout},
		{"rst", TCPFlagRST, StateOpen, StateClosed, DefaultClosedTimeout},
		{"plain ack", TCPFlagACK, StateOpen, StateOpen, DefaultOpenTimeout},
	} {
		t.Run(c.name, func(t *testing.T) {
			f := &Flow{
				tuple:    mkTuple(ProtoTCP, "10.0.0.1", 40000, "10.0.0.2", 80),
				state:    c.initial,
				lifetime: lifetimeSeconds[int(c.initial)],
			}

			f.update(&packet{proto: ProtoTCP, tcpFlags: c.flags})
			assert.Equal(t, c.wantState, f.state)
			assert.Equal(t, c.wantLifetime, f.lifetime)
		})
	}
}

func TestClassifyUDP(t *testing.T) {
	f := &Flow{
		tuple:     mkTuple(ProtoUDP, "192.168.1.5", 53, "192.168.1.9", 44444),
		state:     StateNew,
		lifetime:  DefaultNewTimeout,
		direction: DirectionFromLower,
	}

	// same direction: nothing happens
	f.update(&packet{proto: ProtoUDP, direction: DirectionFromLower})
	assert.Equal(t, StateNew, f.state)

	// a reply opens the flow
	f.update(&packet{proto: ProtoUDP, direction: DirectionFromUpper})
	assert.Equal(t, StateOpen, f.state)
	assert.Equal(t, DefaultOpenTimeout, f.lifetime)
}

func TestClassifyOtherProtocols(t *testing.T) {
	f := &Flow{
		tuple:    mkTuple(ProtoESP, "10.0.0.1", 0, "10.0.0.2", 0),
		state:    StateNew,
		lifetime: DefaultNewTimeout,
	}
	f.update(&packet{proto: ProtoESP})
	assert.Equal(t, StateNew, f.state)
	assert.Equal(t, DefaultNewTimeout, f.lifetime)
}

func TestPacketDirection(t *testing.T) {
	fromLower := mkTuple(ProtoUDP, "192.168.1.5", 53, "192.168.1.9", 44444)
	fromUpper := mkTuple(ProtoUDP, "192.168.1.9", 44444, "192.168.1.5", 53)

	assert.Equal(t, DirectionFromLower, packetDirection(&fromLower))
	assert.Equal(t, DirectionFromUpper, packetDirection(&fromUpper))
}
