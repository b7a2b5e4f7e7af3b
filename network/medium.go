package network

import (
	"errors"
	"fmt"
	"net/netip"

	"github.com/sarchlab/malnet/sim"
)

// HookPosPacketTx marks a packet handed to the medium.
var HookPosPacketTx = &sim.HookPos{Name: "Packet Tx"}

// HookPosPacketRx marks a packet delivered to its destination node.
var HookPosPacketRx = &sim.HookPos{Name: "Packet Rx"}

// HookPosPacketDrop marks a packet that the medium drops.
var HookPosPacketDrop = &sim.HookPos{Name: "Packet Drop"}

// DropReason is attached as the hook detail of HookPosPacketDrop.
type DropReason string

// The reasons a packet is dropped.
const (
	DropNoRoute DropReason = "no route to host"
	DropPolicy  DropReason = "dropped by policy"
)

// ErrDuplicateAddress is returned when two nodes with the same address attach
// to one medium.
var ErrDuplicateAddress = errors.New("duplicate address")

// A LossModel decides whether a packet is lost on the medium. It is the place
// where an external link model plugs in.
type LossModel interface {
	Lost(pkt *Packet, now sim.VTimeInSec) bool
}

// LossModelFunc adapts a function to the LossModel interface.
type LossModelFunc func(pkt *Packet, now sim.VTimeInSec) bool

// Lost calls f(pkt, now).
func (f LossModelFunc) Lost(pkt *Packet, now sim.VTimeInSec) bool {
	return f(pkt, now)
}

type deliveryEvent struct {
	sim.EventBase

	pkt *Packet
	dst *Node
}

// A Medium is the shared channel that all attached nodes send through. It
// delivers packets after a fixed latency.
type Medium struct {
	*sim.ComponentBase

	engine  sim.Engine
	idGen   sim.IDGenerator
	latency sim.VTimeInSec
	loss    LossModel

	nodes  []*Node
	byAddr map[netip.Addr]*Node
}

// MediumBuilder builds a Medium.
type MediumBuilder struct {
	engine  sim.Engine
	idGen   sim.IDGenerator
	latency sim.VTimeInSec
	loss    LossModel
}

// MakeMediumBuilder creates a MediumBuilder with default parameters.
func MakeMediumBuilder() MediumBuilder {
	return MediumBuilder{
		latency: 1e-3,
	}
}

// WithEngine sets the engine used to schedule deliveries.
func (b MediumBuilder) WithEngine(engine sim.Engine) MediumBuilder {
	b.engine = engine
	return b
}

// WithIDGenerator sets how packet IDs are generated.
func (b MediumBuilder) WithIDGenerator(g sim.IDGenerator) MediumBuilder {
	b.idGen = g
	return b
}

// WithLatency sets the time between sending and delivering a packet.
func (b MediumBuilder) WithLatency(latency sim.VTimeInSec) MediumBuilder {
	b.latency = latency
	return b
}

// WithLossModel sets the model that decides which packets are lost.
func (b MediumBuilder) WithLossModel(loss LossModel) MediumBuilder {
	b.loss = loss
	return b
}

// Build creates the Medium.
func (b MediumBuilder) Build(name string) *Medium {
	if b.engine == nil {
		panic("medium requires an engine")
	}

	if b.latency < 0 {
		panic("medium latency cannot be negative")
	}

	m := &Medium{
		ComponentBase: sim.NewComponentBase(name),
		engine:        b.engine,
		idGen:         b.idGen,
		latency:       b.latency,
		loss:          b.loss,
		byAddr:        make(map[netip.Addr]*Node),
	}

	if m.idGen == nil {
		m.idGen = sim.NewSequentialIDGenerator()
	}

	return m
}

// Attach connects a node to the medium.
func (m *Medium) Attach(n *Node) error {
	if n.medium != nil {
		return fmt.Errorf("%s is already attached to %s",
			n.Name(), n.medium.Name())
	}

	if n.addr.IsValid() {
		if other, found := m.byAddr[n.addr]; found {
			return fmt.Errorf("%w: %s used by %s and %s",
				ErrDuplicateAddress, n.addr, other.Name(), n.Name())
		}

		m.byAddr[n.addr] = n
	}

	m.nodes = append(m.nodes, n)
	n.medium = m

	return nil
}

// Nodes returns the attached nodes in attaching order.
func (m *Medium) Nodes() []*Node {
	return m.nodes
}

// Latency returns the delivery latency.
func (m *Medium) Latency() sim.VTimeInSec {
	return m.latency
}

// Send transmits a packet. The packet gets an ID and a send time. A packet
// that cannot reach its destination is dropped, not returned as an error, the
// same way a datagram is lost on a real network.
func (m *Medium) Send(pkt *Packet) error {
	now := m.engine.CurrentTime()
	pkt.ID = m.idGen.Generate()
	pkt.SendTime = now

	m.InvokeHook(sim.HookCtx{
		Domain: m,
		Pos:    HookPosPacketTx,
		Item:   pkt,
	})

	dst, found := m.byAddr[pkt.Key.Dst]
	if !found {
		m.drop(pkt, DropNoRoute)
		return nil
	}

	if m.loss != nil && m.loss.Lost(pkt, now) {
		m.drop(pkt, DropPolicy)
		return nil
	}

	evt := &deliveryEvent{
		EventBase: sim.MakeEventBase(now+m.latency, m),
		pkt:       pkt,
		dst:       dst,
	}
	m.engine.Schedule(evt)

	return nil
}

func (m *Medium) drop(pkt *Packet, reason DropReason) {
	m.InvokeHook(sim.HookCtx{
		Domain: m,
		Pos:    HookPosPacketDrop,
		Item:   pkt,
		Detail: reason,
	})
}

// Handle delivers the packet carried by a delivery event.
func (m *Medium) Handle(e sim.Event) error {
	switch evt := e.(type) {
	case *deliveryEvent:
		m.InvokeHook(sim.HookCtx{
			Domain: m,
			Pos:    HookPosPacketRx,
			Item:   evt.pkt,
		})
		evt.dst.Deliver(evt.pkt)
	default:
		return fmt.Errorf("medium %s cannot handle %T", m.Name(), e)
	}

	return nil
}
