package app

import (
	"github.com/sarchlab/malnet/network"
	"github.com/sarchlab/malnet/sim"
)

// A UDPServer counts the datagrams that arrive on its port while it is active.
// Datagrams that arrive before the start time or at/after the stop time are
// ignored.
type UDPServer struct {
	name       string
	timeTeller sim.TimeTeller
	port       uint16
	start      sim.VTimeInSec
	stop       sim.VTimeInSec

	received uint64
	ignored  uint64
	lost     uint64
	nextSeq  uint32
}

// NewUDPServer binds a server to a port of a node.
func NewUDPServer(
	name string,
	timeTeller sim.TimeTeller,
	node *network.Node,
	port uint16,
	start, stop sim.VTimeInSec,
) (*UDPServer, error) {
	s := &UDPServer{
		name:       name,
		timeTeller: timeTeller,
		port:       port,
		start:      start,
		stop:       stop,
	}

	err := node.Bind(port, s)
	if err != nil {
		return nil, err
	}

	return s, nil
}

// Name returns the name of the server.
func (s *UDPServer) Name() string {
	return s.name
}

// Receive counts a packet. Gaps in the sequence numbers are counted as lost.
func (s *UDPServer) Receive(pkt *network.Packet) {
	now := s.timeTeller.CurrentTime()
	if now < s.start || now >= s.stop {
		s.ignored++
		return
	}

	s.received++

	if pkt.Seq >= s.nextSeq {
		s.lost += uint64(pkt.Seq - s.nextSeq)
		s.nextSeq = pkt.Seq + 1
	}
}

// NumReceived returns the number of packets received while active.
func (s *UDPServer) NumReceived() uint64 {
	return s.received
}

// NumIgnored returns the number of packets that arrived while inactive.
func (s *UDPServer) NumIgnored() uint64 {
	return s.ignored
}

// NumLost returns the number of sequence numbers that never arrived before a
// later one did.
func (s *UDPServer) NumLost() uint64 {
	return s.lost
}
