// Package scenario sets up and runs the malicious-node scenario: a population
// of nodes on a shared medium, a UDP flow between two of them, and a flow
// monitor whose counters are reduced into a packet delivery ratio.
package scenario

import (
	"fmt"

	"github.com/sarchlab/malnet/role"
	"github.com/sarchlab/malnet/sim"
)

// ErrInvalidConfiguration is returned for configurations that cannot be run.
var ErrInvalidConfiguration = role.ErrInvalidConfiguration

// AddressingConfig is the subnet the node addresses are taken from.
type AddressingConfig struct {
	Network string
	Mask    string
}

// TrafficConfig describes the UDP flow of the scenario.
type TrafficConfig struct {
	ServerNode  int
	ClientNode  int
	Port        uint16
	MaxPackets  uint32
	Interval    sim.VTimeInSec
	PacketSize  int
	ServerStart sim.VTimeInSec
	ClientStart sim.VTimeInSec
}

// Config is the complete description of a run.
type Config struct {
	NumNodes          int
	NumMaliciousNodes int
	SimulationTime    sim.VTimeInSec
	Population        role.PopulationMode

	Wifi       WifiConfig
	Addressing AddressingConfig
	Traffic    TrafficConfig

	LinkLatency    sim.VTimeInSec
	MaxPerHopDelay sim.VTimeInSec
}

// DefaultConfig returns 20 nodes plus 2 malicious nodes running for 10
// seconds, with node 1 sending 1024-byte datagrams to node 0 every 50 ms.
func DefaultConfig() Config {
	return Config{
		NumNodes:          20,
		NumMaliciousNodes: 2,
		SimulationTime:    10,
		Population:        role.PopulationAdditive,
		Wifi:              DefaultWifiConfig(),
		Addressing: AddressingConfig{
			Network: "10.1.1.0",
			Mask:    "255.255.255.0",
		},
		Traffic: TrafficConfig{
			ServerNode:  0,
			ClientNode:  1,
			Port:        9,
			MaxPackets:  32000,
			Interval:    0.05,
			PacketSize:  1024,
			ServerStart: 1,
			ClientStart: 2,
		},
		LinkLatency:    1e-3,
		MaxPerHopDelay: 10,
	}
}

// PopulationSize returns the number of nodes the configuration creates.
func (c Config) PopulationSize() int {
	if c.Population == role.PopulationAdditive {
		return c.NumNodes + c.NumMaliciousNodes
	}

	return c.NumNodes
}

// Validate checks that the configuration can be built.
func (c Config) Validate() error {
	if c.NumNodes < 0 || c.NumMaliciousNodes < 0 {
		return fmt.Errorf("%w: node counts cannot be negative",
			ErrInvalidConfiguration)
	}

	if c.Population == role.PopulationSubset &&
		c.NumMaliciousNodes > c.NumNodes {
		return fmt.Errorf("%w: %d malicious nodes cannot be a subset of %d nodes",
			ErrInvalidConfiguration, c.NumMaliciousNodes, c.NumNodes)
	}

	if c.SimulationTime <= 0 {
		return fmt.Errorf("%w: simulation time must be positive, got %v",
			ErrInvalidConfiguration, c.SimulationTime)
	}

	if c.LinkLatency < 0 || c.MaxPerHopDelay <= 0 {
		return fmt.Errorf("%w: invalid link delay", ErrInvalidConfiguration)
	}

	err := c.Wifi.Validate()
	if err != nil {
		return err
	}

	return c.Traffic.validate(c.PopulationSize())
}

func (t TrafficConfig) validate(population int) error {
	for _, n := range []int{t.ServerNode, t.ClientNode} {
		if n < 0 || n >= population {
			return fmt.Errorf("%w: traffic node %d outside of %d nodes",
				ErrInvalidConfiguration, n, population)
		}
	}

	if t.ServerNode == t.ClientNode {
		return fmt.Errorf("%w: client and server are both node %d",
			ErrInvalidConfiguration, t.ServerNode)
	}

	if t.Interval <= 0 {
		return fmt.Errorf("%w: packet interval must be positive",
			ErrInvalidConfiguration)
	}

	if t.PacketSize < 12 {
		return fmt.Errorf("%w: packet size %d is too small",
			ErrInvalidConfiguration, t.PacketSize)
	}

	if t.ServerStart < 0 || t.ClientStart < 0 {
		return fmt.Errorf("%w: start times cannot be negative",
			ErrInvalidConfiguration)
	}

	return nil
}
