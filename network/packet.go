// Package network provides the nodes, the addressing and the shared medium
// that carry packets between simulated applications.
//
// The medium is where a link layer would plug in. The default medium delivers
// every packet after a fixed latency and does not model radio propagation,
// contention or routing.
package network

import (
	"github.com/sarchlab/malnet/flowstats"
	"github.com/sarchlab/malnet/sim"
)

// A Packet is a datagram travelling between two nodes.
type Packet struct {
	ID       string
	Key      flowstats.FlowKey
	Seq      uint32
	Size     int
	SendTime sim.VTimeInSec
}

// Clone returns a copy of the packet with the same ID.
func (p *Packet) Clone() *Packet {
	c := *p
	return &c
}

// A Receiver consumes the packets delivered to a bound port.
type Receiver interface {
	Receive(pkt *Packet)
}
