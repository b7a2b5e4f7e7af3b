package scenario

import (
	"context"
	"errors"
	"net/netip"

	"github.com/sarchlab/malnet/app"
	"github.com/sarchlab/malnet/flowmon"
	"github.com/sarchlab/malnet/flowstats"
	"github.com/sarchlab/malnet/network"
	"github.com/sarchlab/malnet/role"
	"github.com/sarchlab/malnet/sim"
)

// ErrAlreadyRun is returned when a scenario is run a second time.
var ErrAlreadyRun = errors.New("scenario already run")

// A Scenario is a fully wired run that has not started yet.
type Scenario struct {
	id       string
	config   Config
	engine   sim.Engine
	registry *role.Registry
	medium   *network.Medium
	nodes    []*network.Node
	monitor  *flowmon.Monitor
	server   *app.UDPServer
	client   *app.UDPClient
	started  bool
}

// NodeInfo describes one node of a finished run.
type NodeInfo struct {
	ID   role.EntityID
	Addr netip.Addr
	Role role.Role
}

// Result is what a run produces.
type Result struct {
	RunID   string
	Config  Config
	Nodes   []NodeInfo
	Records []flowstats.FlowRecord
	Report  flowstats.DeliveryReport

	// NoTraffic is set when no packet was sent, in which case Report has no
	// meaningful ratio.
	NoTraffic bool
}

// MaliciousNodes returns the malicious nodes of the run.
func (r *Result) MaliciousNodes() []NodeInfo {
	out := []NodeInfo{}
	for _, n := range r.Nodes {
		if n.Role == role.Malicious {
			out = append(out, n)
		}
	}

	return out
}

// ID returns the unique ID of the run.
func (s *Scenario) ID() string {
	return s.id
}

// Config returns the configuration the scenario was built with.
func (s *Scenario) Config() Config {
	return s.config
}

// Engine returns the engine that drives the scenario.
func (s *Scenario) Engine() sim.Engine {
	return s.engine
}

// Registry returns the role registry. It is frozen once the scenario is built.
func (s *Scenario) Registry() *role.Registry {
	return s.registry
}

// Medium returns the medium shared by all the nodes.
func (s *Scenario) Medium() *network.Medium {
	return s.medium
}

// Nodes returns the nodes, indexed by ID.
func (s *Scenario) Nodes() []*network.Node {
	return s.nodes
}

// Monitor returns the flow monitor.
func (s *Scenario) Monitor() *flowmon.Monitor {
	return s.monitor
}

// Server returns the UDP server application.
func (s *Scenario) Server() *app.UDPServer {
	return s.server
}

// Client returns the UDP client application.
func (s *Scenario) Client() *app.UDPClient {
	return s.client
}

// Run simulates until the simulation time and aggregates the flow counters.
// If no packet was sent, the result is returned together with an error that
// wraps flowstats.ErrNoTraffic. Cancelling ctx stops the engine after the
// current event, resuming it first if it is paused, and returns ctx.Err(). A
// run that completes before the cancellation is noticed returns its result.
func (s *Scenario) Run(ctx context.Context) (*Result, error) {
	if s.started {
		return nil, ErrAlreadyRun
	}
	s.started = true

	interrupted := false
	s.engine.AcceptHook(sim.HookFunc(func(hookCtx sim.HookCtx) {
		if hookCtx.Pos == sim.HookPosBeforeEvent && ctx.Err() != nil {
			interrupted = true
			s.engine.Stop()
		}
	}))

	done := make(chan struct{})
	defer close(done)

	go func() {
		select {
		case <-ctx.Done():
			s.engine.Continue()
		case <-done:
		}
	}()

	s.client.Start()

	err := s.engine.Run()
	if err != nil {
		return nil, err
	}

	if interrupted && s.engine.CurrentTime() < s.config.SimulationTime {
		return nil, ctx.Err()
	}

	s.engine.Finished()
	s.monitor.CheckForLostPackets(s.config.MaxPerHopDelay)

	result := &Result{
		RunID:   s.id,
		Config:  s.config,
		Nodes:   s.nodeInfo(),
		Records: s.monitor.Records(),
	}

	result.Report, err = flowstats.Aggregate(result.Records)
	if errors.Is(err, flowstats.ErrNoTraffic) {
		result.NoTraffic = true
	}

	return result, err
}

func (s *Scenario) nodeInfo() []NodeInfo {
	info := make([]NodeInfo, 0, len(s.nodes))
	for _, n := range s.nodes {
		id := role.EntityID(n.ID())
		r, _ := s.registry.RoleOf(id)

		info = append(info, NodeInfo{ID: id, Addr: n.Addr(), Role: r})
	}

	return info
}
