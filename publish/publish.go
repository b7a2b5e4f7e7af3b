// Package publish sends the summary of a finished run to external systems.
package publish

import (
	"context"
	"errors"
	"time"

	"github.com/sarchlab/malnet/scenario"
)

// A Summary is the outcome of a run as published to other systems.
type Summary struct {
	RunID             string    `json:"run_id"`
	Time              time.Time `json:"time"`
	NumNodes          int       `json:"num_nodes"`
	NumMaliciousNodes int       `json:"num_malicious_nodes"`
	Population        string    `json:"population"`
	SimulationTime    float64   `json:"simulation_time"`
	MaliciousNodes    []uint32  `json:"malicious_nodes"`
	NumFlows          int       `json:"num_flows"`
	TotalSent         uint64    `json:"total_sent"`
	TotalReceived     uint64    `json:"total_received"`

	// Ratio is nil when no packet was sent.
	Ratio *float64 `json:"ratio"`
}

// NewSummary summarizes the result of a run.
func NewSummary(res *scenario.Result) Summary {
	s := Summary{
		RunID:             res.RunID,
		Time:              time.Now().UTC(),
		NumNodes:          res.Config.NumNodes,
		NumMaliciousNodes: res.Config.NumMaliciousNodes,
		Population:        res.Config.Population.String(),
		SimulationTime:    float64(res.Config.SimulationTime),
		MaliciousNodes:    []uint32{},
		NumFlows:          len(res.Records),
		TotalSent:         res.Report.TotalSent,
		TotalReceived:     res.Report.TotalReceived,
	}

	for _, n := range res.MaliciousNodes() {
		s.MaliciousNodes = append(s.MaliciousNodes, uint32(n.ID))
	}

	if !res.NoTraffic {
		ratio := res.Report.Ratio
		s.Ratio = &ratio
	}

	return s
}

// A Publisher sends summaries somewhere.
type Publisher interface {
	Publish(ctx context.Context, s Summary) error
	Close() error
}

// Multi publishes to all the publishers it holds.
type Multi []Publisher

// Publish sends the summary to every publisher, even if some of them fail.
func (m Multi) Publish(ctx context.Context, s Summary) error {
	var errs []error

	for _, p := range m {
		err := p.Publish(ctx, s)
		if err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// Close closes every publisher.
func (m Multi) Close() error {
	var errs []error

	for _, p := range m {
		err := p.Close()
		if err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}
