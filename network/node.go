package network

import (
	"errors"
	"fmt"
	"net/netip"
)

// ErrPortInUse is returned when binding a port that already has a receiver.
var ErrPortInUse = errors.New("port in use")

// ErrNotAttached is returned when a node sends before joining a medium.
var ErrNotAttached = errors.New("node not attached to a medium")

const firstEphemeralPort uint16 = 49153

// NodeID identifies a node. It equals the ID of the entity the node stands
// for.
type NodeID uint32

// A Node is a host with one network device attached to a medium.
type Node struct {
	id     NodeID
	name   string
	addr   netip.Addr
	medium *Medium

	receivers     map[uint16]Receiver
	nextEphemeral uint16

	rxNoReceiver uint64
}

// NewNode creates a node without an address.
func NewNode(id NodeID) *Node {
	return &Node{
		id:            id,
		name:          fmt.Sprintf("Node[%d]", id),
		receivers:     make(map[uint16]Receiver),
		nextEphemeral: firstEphemeralPort,
	}
}

// ID returns the node ID.
func (n *Node) ID() NodeID {
	return n.id
}

// Name returns the name of the node.
func (n *Node) Name() string {
	return n.name
}

// Addr returns the address assigned to the node.
func (n *Node) Addr() netip.Addr {
	return n.addr
}

// SetAddr assigns the address of the node. It must be called before the node
// is attached to a medium.
func (n *Node) SetAddr(addr netip.Addr) {
	if n.medium != nil {
		panic("cannot change the address of an attached node")
	}

	n.addr = addr
}

// Medium returns the medium the node is attached to.
func (n *Node) Medium() *Medium {
	return n.medium
}

// Bind registers a receiver on a port.
func (n *Node) Bind(port uint16, r Receiver) error {
	if _, found := n.receivers[port]; found {
		return fmt.Errorf("%w: %s port %d", ErrPortInUse, n.name, port)
	}

	n.receivers[port] = r

	return nil
}

// AllocateEphemeralPort returns an unused port from the ephemeral range.
func (n *Node) AllocateEphemeralPort() uint16 {
	for {
		port := n.nextEphemeral
		n.nextEphemeral++

		if n.nextEphemeral == 0 {
			n.nextEphemeral = firstEphemeralPort
		}

		if _, found := n.receivers[port]; !found {
			return port
		}
	}
}

// Send hands a packet to the medium.
func (n *Node) Send(pkt *Packet) error {
	if n.medium == nil {
		return fmt.Errorf("%w: %s", ErrNotAttached, n.name)
	}

	return n.medium.Send(pkt)
}

// Deliver passes a packet that arrived at the node to the receiver bound on
// the destination port. Packets to unbound ports are discarded.
func (n *Node) Deliver(pkt *Packet) {
	r, found := n.receivers[pkt.Key.DstPort]
	if !found {
		n.rxNoReceiver++
		return
	}

	r.Receive(pkt)
}

// NumDiscarded returns the number of packets that arrived at an unbound port.
func (n *Node) NumDiscarded() uint64 {
	return n.rxNoReceiver
}
