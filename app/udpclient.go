// Package app implements the traffic applications installed on nodes.
package app

import (
	"fmt"
	"net/netip"

	"github.com/sarchlab/malnet/flowstats"
	"github.com/sarchlab/malnet/network"
	"github.com/sarchlab/malnet/sim"
)

// headerSize is the size of the sequence number and timestamp that each
// client packet carries in front of its payload.
const headerSize = 12

type sendEvent struct {
	sim.EventBase
}

// A UDPClient sends fixed-size datagrams to a remote address at a constant
// interval while it is active.
type UDPClient struct {
	*sim.ComponentBase

	engine     sim.Engine
	node       *network.Node
	remote     netip.Addr
	remotePort uint16
	localPort  uint16

	maxPackets uint32
	interval   sim.VTimeInSec
	packetSize int
	start      sim.VTimeInSec
	stop       sim.VTimeInSec

	sent     uint32
	sendErrs uint32
}

// UDPClientBuilder builds UDPClients.
type UDPClientBuilder struct {
	engine     sim.Engine
	remote     netip.Addr
	remotePort uint16
	maxPackets uint32
	interval   sim.VTimeInSec
	packetSize int
	start      sim.VTimeInSec
	stop       sim.VTimeInSec
}

// MakeUDPClientBuilder returns a builder with the default client attributes.
func MakeUDPClientBuilder() UDPClientBuilder {
	return UDPClientBuilder{
		maxPackets: 100,
		interval:   1,
		packetSize: 1024,
	}
}

// WithEngine sets the engine that drives the client.
func (b UDPClientBuilder) WithEngine(engine sim.Engine) UDPClientBuilder {
	b.engine = engine
	return b
}

// WithRemote sets the destination of the datagrams.
func (b UDPClientBuilder) WithRemote(
	addr netip.Addr,
	port uint16,
) UDPClientBuilder {
	b.remote = addr
	b.remotePort = port

	return b
}

// WithMaxPackets sets the number of packets to send before going quiet.
func (b UDPClientBuilder) WithMaxPackets(n uint32) UDPClientBuilder {
	b.maxPackets = n
	return b
}

// WithInterval sets the time between two packets.
func (b UDPClientBuilder) WithInterval(interval sim.VTimeInSec) UDPClientBuilder {
	b.interval = interval
	return b
}

// WithPacketSize sets the size of each packet, in bytes.
func (b UDPClientBuilder) WithPacketSize(size int) UDPClientBuilder {
	b.packetSize = size
	return b
}

// WithStartTime sets when the client sends its first packet.
func (b UDPClientBuilder) WithStartTime(t sim.VTimeInSec) UDPClientBuilder {
	b.start = t
	return b
}

// WithStopTime sets when the client stops sending. No packet is sent at or
// after the stop time.
func (b UDPClientBuilder) WithStopTime(t sim.VTimeInSec) UDPClientBuilder {
	b.stop = t
	return b
}

// Build installs a client on a node.
func (b UDPClientBuilder) Build(name string, node *network.Node) *UDPClient {
	if b.engine == nil {
		panic("udp client requires an engine")
	}

	if b.interval <= 0 {
		panic("udp client interval must be positive")
	}

	if b.packetSize < headerSize {
		panic(fmt.Sprintf("udp client packet size must be at least %d",
			headerSize))
	}

	return &UDPClient{
		ComponentBase: sim.NewComponentBase(name),
		engine:        b.engine,
		node:          node,
		remote:        b.remote,
		remotePort:    b.remotePort,
		localPort:     node.AllocateEphemeralPort(),
		maxPackets:    b.maxPackets,
		interval:      b.interval,
		packetSize:    b.packetSize,
		start:         b.start,
		stop:          b.stop,
	}
}

// Start schedules the first transmission.
func (c *UDPClient) Start() {
	if c.start >= c.stop || c.maxPackets == 0 {
		return
	}

	c.engine.Schedule(&sendEvent{EventBase: sim.MakeEventBase(c.start, c)})
}

// Handle sends one packet and schedules the next one.
func (c *UDPClient) Handle(e sim.Event) error {
	if _, ok := e.(*sendEvent); !ok {
		return fmt.Errorf("udp client %s cannot handle %T", c.Name(), e)
	}

	now := c.engine.CurrentTime()
	if now >= c.stop || c.sent >= c.maxPackets {
		return nil
	}

	pkt := &network.Packet{
		Key: flowstats.FlowKey{
			Src:      c.node.Addr(),
			Dst:      c.remote,
			SrcPort:  c.localPort,
			DstPort:  c.remotePort,
			Protocol: flowstats.ProtocolUDP,
		},
		Seq:  c.sent,
		Size: c.packetSize,
	}

	err := c.node.Send(pkt)
	if err != nil {
		c.sendErrs++
		return err
	}

	c.sent++

	next := c.start + sim.VTimeInSec(c.sent)*c.interval
	if c.sent < c.maxPackets && next < c.stop {
		c.engine.Schedule(&sendEvent{EventBase: sim.MakeEventBase(next, c)})
	}

	return nil
}

// NumSent returns the number of packets sent so far.
func (c *UDPClient) NumSent() uint32 {
	return c.sent
}

// LocalPort returns the source port of the client packets.
func (c *UDPClient) LocalPort() uint16 {
	return c.localPort
}
