package flowstats

import (
	"errors"
	"fmt"
	"math/bits"
	"strconv"
	"sync"
)

// ErrNoTraffic is returned when there is nothing to compute a ratio from,
// either because there are no records or because no packet was sent.
var ErrNoTraffic = errors.New("no traffic")

// ErrCounterOverflow is returned when a total does not fit in 64 bits.
var ErrCounterOverflow = errors.New("packet counter overflow")

// A DeliveryReport is the packet delivery ratio of a run.
type DeliveryReport struct {
	TotalSent     uint64
	TotalReceived uint64

	// Ratio is TotalReceived / TotalSent. It is not clamped, so duplicated
	// deliveries can push it above 1.
	Ratio float64
}

// String formats the report the way it is printed at the end of a run.
func (r DeliveryReport) String() string {
	return "Packet Delivery Ratio: " + strconv.FormatFloat(r.Ratio, 'g', 6, 64)
}

type sums struct {
	sent, received uint64
	overflow       bool
}

func addCounter(a, b uint64, overflow *bool) uint64 {
	sum, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		*overflow = true
	}

	return sum
}

func (s sums) add(o sums) sums {
	r := sums{overflow: s.overflow || o.overflow}
	r.sent = addCounter(s.sent, o.sent, &r.overflow)
	r.received = addCounter(s.received, o.received, &r.overflow)

	return r
}

func sumRecords(records []FlowRecord) sums {
	s := sums{}
	for _, r := range records {
		s = s.add(sums{sent: r.TxPackets, received: r.RxPackets})
	}

	return s
}

func (s sums) report() (DeliveryReport, error) {
	rep := DeliveryReport{
		TotalSent:     s.sent,
		TotalReceived: s.received,
	}

	if s.overflow {
		return DeliveryReport{}, ErrCounterOverflow
	}

	if s.sent == 0 {
		return rep, fmt.Errorf("%w: %d packets received, 0 sent",
			ErrNoTraffic, s.received)
	}

	rep.Ratio = float64(s.received) / float64(s.sent)

	return rep, nil
}

// Aggregate sums the transmitted and received packets of all the records and
// computes the delivery ratio. It returns ErrNoTraffic if records is empty or
// if no packet was transmitted, and ErrCounterOverflow if a total exceeds the
// uint64 range. The order of records does not matter.
func Aggregate(records []FlowRecord) (DeliveryReport, error) {
	return sumRecords(records).report()
}

// AggregateParallel produces the same report as Aggregate, splitting records
// over a number of workers. It only pays off for very large collections.
func AggregateParallel(records []FlowRecord, workers int) (DeliveryReport, error) {
	if workers <= 1 || len(records) < 2*workers {
		return Aggregate(records)
	}

	chunk := (len(records) + workers - 1) / workers
	partials := make(chan sums, workers)

	var wg sync.WaitGroup
	for start := 0; start < len(records); start += chunk {
		end := start + chunk
		if end > len(records) {
			end = len(records)
		}

		wg.Add(1)
		go func(part []FlowRecord) {
			defer wg.Done()
			partials <- sumRecords(part)
		}(records[start:end])
	}

	go func() {
		wg.Wait()
		close(partials)
	}()

	total := sums{}
	for p := range partials {
		total = total.add(p)
	}

	return total.report()
}
