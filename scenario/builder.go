package scenario

import (
	"fmt"
	"log"

	"github.com/rs/xid"

	"github.com/sarchlab/malnet/app"
	"github.com/sarchlab/malnet/flowmon"
	"github.com/sarchlab/malnet/network"
	"github.com/sarchlab/malnet/role"
	"github.com/sarchlab/malnet/sim"
)

// Builder can be used to build a scenario.
type Builder struct {
	config    Config
	engine    sim.Engine
	idGen     sim.IDGenerator
	lossModel network.LossModel
	hooks     []sim.Hook
}

// MakeBuilder creates a builder with the default configuration.
func MakeBuilder() Builder {
	return Builder{
		config: DefaultConfig(),
	}
}

// WithConfig sets the configuration of the run.
func (b Builder) WithConfig(c Config) Builder {
	b.config = c
	return b
}

// WithEngine sets the engine. A serial engine is used by default.
func (b Builder) WithEngine(e sim.Engine) Builder {
	b.engine = e
	return b
}

// WithParallelIDGenerator makes packet IDs unique without being sequential.
func (b Builder) WithParallelIDGenerator() Builder {
	b.idGen = sim.NewParallelIDGenerator()
	return b
}

// WithLossModel sets the model that decides which packets the medium loses.
func (b Builder) WithLossModel(m network.LossModel) Builder {
	b.lossModel = m
	return b
}

// WithMediumHook adds a hook that observes the traffic on the medium.
func (b Builder) WithMediumHook(h sim.Hook) Builder {
	b.hooks = append(b.hooks[:len(b.hooks):len(b.hooks)], h)
	return b
}

// Build validates the configuration and wires the scenario together.
func (b Builder) Build() (*Scenario, error) {
	cfg := b.config

	err := cfg.Validate()
	if err != nil {
		return nil, err
	}

	s := &Scenario{
		id:     xid.New().String(),
		config: cfg,
		engine: b.engine,
	}

	if s.engine == nil {
		s.engine = sim.NewSerialEngine()
	}
	s.engine.StopAt(cfg.SimulationTime)

	err = b.buildRegistry(s)
	if err != nil {
		return nil, err
	}

	err = b.buildNetwork(s)
	if err != nil {
		return nil, err
	}

	err = b.buildApplications(s)
	if err != nil {
		return nil, err
	}

	return s, nil
}

func (b Builder) buildRegistry(s *Scenario) error {
	cfg := s.config

	registry, err := role.Create(
		cfg.NumNodes, cfg.NumMaliciousNodes, cfg.Population)
	if err != nil {
		return err
	}

	err = markMaliciousNodes(registry)
	if err != nil {
		return err
	}

	registry.Freeze()
	s.registry = registry

	return nil
}

func markMaliciousNodes(registry *role.Registry) error {
	for _, id := range registry.DesignatedMalicious() {
		err := registry.MarkMalicious(id)
		if err != nil {
			return err
		}

		log.Printf("Node %d is marked as malicious", id)
	}

	return nil
}

func (b Builder) buildNetwork(s *Scenario) error {
	cfg := s.config

	addresses, err := network.NewAddressHelper(
		cfg.Addressing.Network, cfg.Addressing.Mask)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfiguration, err)
	}

	s.medium = network.MakeMediumBuilder().
		WithEngine(s.engine).
		WithIDGenerator(b.idGen).
		WithLatency(cfg.LinkLatency).
		WithLossModel(b.lossModel).
		Build("Medium")

	for _, e := range s.registry.Entities() {
		node := network.NewNode(network.NodeID(e.ID))

		addr, err := addresses.Assign()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidConfiguration, err)
		}
		node.SetAddr(addr)

		err = s.medium.Attach(node)
		if err != nil {
			return err
		}

		s.nodes = append(s.nodes, node)
	}

	s.monitor = flowmon.NewMonitor(s.engine)
	s.monitor.Install(s.medium)

	for _, h := range b.hooks {
		s.medium.AcceptHook(h)
	}

	return nil
}

func (b Builder) buildApplications(s *Scenario) error {
	cfg := s.config
	t := cfg.Traffic
	serverNode := s.nodes[t.ServerNode]
	clientNode := s.nodes[t.ClientNode]

	server, err := app.NewUDPServer("UdpServer", s.engine,
		serverNode, t.Port, t.ServerStart, cfg.SimulationTime)
	if err != nil {
		return err
	}
	s.server = server

	s.client = app.MakeUDPClientBuilder().
		WithEngine(s.engine).
		WithRemote(serverNode.Addr(), t.Port).
		WithMaxPackets(t.MaxPackets).
		WithInterval(t.Interval).
		WithPacketSize(t.PacketSize).
		WithStartTime(t.ClientStart).
		WithStopTime(cfg.SimulationTime).
		Build("UdpClient", clientNode)

	return nil
}
