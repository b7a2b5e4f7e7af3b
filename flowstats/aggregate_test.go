package flowstats_test

import (
	"errors"
	"math"
	"math/rand"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/malnet/flowstats"
)

func rec(sent, received uint64) flowstats.FlowRecord {
	return flowstats.FlowRecord{TxPackets: sent, RxPackets: received}
}

var _ = Describe("Aggregate", func() {
	It("should sum the flows", func() {
		report, err := flowstats.Aggregate([]flowstats.FlowRecord{
			rec(100, 95),
			rec(50, 50),
		})

		Expect(err).NotTo(HaveOccurred())
		Expect(report.TotalSent).To(Equal(uint64(150)))
		Expect(report.TotalReceived).To(Equal(uint64(145)))
		Expect(report.Ratio).To(BeNumerically("~", 145.0/150.0, 1e-12))
		Expect(report.String()).To(Equal("Packet Delivery Ratio: 0.966667"))
	})

	It("should keep ratios above one", func() {
		report, err := flowstats.Aggregate([]flowstats.FlowRecord{rec(10, 12)})

		Expect(err).NotTo(HaveOccurred())
		Expect(report.Ratio).To(BeNumerically("~", 1.2, 1e-12))
		Expect(report.String()).To(Equal("Packet Delivery Ratio: 1.2"))
	})

	It("should report zero delivery as a ratio, not as an error", func() {
		report, err := flowstats.Aggregate([]flowstats.FlowRecord{rec(40, 0)})

		Expect(err).NotTo(HaveOccurred())
		Expect(report.Ratio).To(BeZero())
	})

	It("should fail without records", func() {
		_, err := flowstats.Aggregate(nil)
		Expect(errors.Is(err, flowstats.ErrNoTraffic)).To(BeTrue())

		_, err = flowstats.Aggregate([]flowstats.FlowRecord{})
		Expect(errors.Is(err, flowstats.ErrNoTraffic)).To(BeTrue())
	})

	It("should fail when nothing was sent", func() {
		_, err := flowstats.Aggregate([]flowstats.FlowRecord{rec(0, 0)})
		Expect(errors.Is(err, flowstats.ErrNoTraffic)).To(BeTrue())

		report, err := flowstats.Aggregate([]flowstats.FlowRecord{rec(0, 3)})
		Expect(errors.Is(err, flowstats.ErrNoTraffic)).To(BeTrue())
		Expect(report.TotalReceived).To(Equal(uint64(3)))
	})

	It("should not depend on the order of records", func() {
		records := make([]flowstats.FlowRecord, 50)
		for i := range records {
			sent := uint64(rand.Intn(1000))
			records[i] = rec(sent, uint64(rand.Intn(1100)))
		}
		records[0].TxPackets++

		expected, err := flowstats.Aggregate(records)
		Expect(err).NotTo(HaveOccurred())

		for i := 0; i < 20; i++ {
			rand.Shuffle(len(records), func(a, b int) {
				records[a], records[b] = records[b], records[a]
			})

			Expect(flowstats.Aggregate(records)).To(Equal(expected))
		}
	})

	It("should give the same answer in parallel", func() {
		records := make([]flowstats.FlowRecord, 10001)
		for i := range records {
			records[i] = rec(uint64(i%17+1), uint64(i%13))
		}

		serial, err := flowstats.Aggregate(records)
		Expect(err).NotTo(HaveOccurred())

		for _, workers := range []int{0, 1, 2, 7, 64} {
			Expect(flowstats.AggregateParallel(records, workers)).
				To(Equal(serial))
		}
	})

	It("should fail in parallel without traffic", func() {
		_, err := flowstats.AggregateParallel(make([]flowstats.FlowRecord, 100), 4)
		Expect(errors.Is(err, flowstats.ErrNoTraffic)).To(BeTrue())
	})

	It("should fail when the sent total overflows", func() {
		records := []flowstats.FlowRecord{rec(math.MaxUint64, 1), rec(2, 1)}

		_, err := flowstats.Aggregate(records)

		Expect(err).To(MatchError(flowstats.ErrCounterOverflow))
	})

	It("should fail when the received total overflows", func() {
		records := []flowstats.FlowRecord{rec(1, math.MaxUint64), rec(1, 1)}

		_, err := flowstats.Aggregate(records)

		Expect(err).To(MatchError(flowstats.ErrCounterOverflow))
	})

	It("should detect overflow across workers", func() {
		records := make([]flowstats.FlowRecord, 100)
		for i := range records {
			records[i] = rec(math.MaxUint64/50, 1)
		}

		_, err := flowstats.AggregateParallel(records, 4)

		Expect(err).To(MatchError(flowstats.ErrCounterOverflow))
	})
})

var _ = Describe("FlowRecord", func() {
	It("should compute the mean delay", func() {
		r := flowstats.FlowRecord{RxPackets: 4, DelaySum: 0.02}
		Expect(float64(r.MeanDelay())).To(BeNumerically("~", 0.005, 1e-12))

		Expect(flowstats.FlowRecord{}.MeanDelay()).To(BeZero())
	})
})
