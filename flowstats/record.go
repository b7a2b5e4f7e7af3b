// Package flowstats reduces per-flow packet counters into a delivery report.
package flowstats

import (
	"fmt"
	"net/netip"

	"github.com/sarchlab/malnet/sim"
)

// Protocol numbers used in flow keys.
const (
	ProtocolTCP uint8 = 6
	ProtocolUDP uint8 = 17
)

// A FlowKey is the 5-tuple that identifies a flow.
type FlowKey struct {
	Src      netip.Addr
	Dst      netip.Addr
	SrcPort  uint16
	DstPort  uint16
	Protocol uint8
}

func (k FlowKey) String() string {
	return fmt.Sprintf("%s:%d -> %s:%d/%d",
		k.Src, k.SrcPort, k.Dst, k.DstPort, k.Protocol)
}

// A FlowRecord holds the counters observed for one flow during a run. Only
// TxPackets and RxPackets take part in aggregation. RxPackets may exceed
// TxPackets when packets are duplicated.
type FlowRecord struct {
	FlowID uint32
	Key    FlowKey

	TxPackets   uint64
	RxPackets   uint64
	TxBytes     uint64
	RxBytes     uint64
	LostPackets uint64

	DelaySum          sim.VTimeInSec
	TimeFirstTxPacket sim.VTimeInSec
	TimeLastTxPacket  sim.VTimeInSec
	TimeFirstRxPacket sim.VTimeInSec
	TimeLastRxPacket  sim.VTimeInSec
}

// MeanDelay returns the average one-way delay of the received packets, or 0
// if no packet is received.
func (r FlowRecord) MeanDelay() sim.VTimeInSec {
	if r.RxPackets == 0 {
		return 0
	}

	return r.DelaySum / sim.VTimeInSec(r.RxPackets)
}
