package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/spf13/pflag"

	"github.com/sarchlab/malnet/flowstats"
	"github.com/sarchlab/malnet/role"
	"github.com/sarchlab/malnet/scenario"
)

const sampleFlowMonitor = `<?xml version="1.0" ?>
<FlowMonitor>
  <FlowStats>
    <Flow flowId="1" timeFirstTxPacket="+2e+09ns" timeFirstRxPacket="+2.001e+09ns" timeLastTxPacket="+9.95e+09ns" timeLastRxPacket="+9.951e+09ns" delaySum="+1.6e+08ns" jitterSum="+0ns" lastDelay="+1e+06ns" txBytes="168320" rxBytes="126240" txPackets="160" rxPackets="120" lostPackets="40" timesForwarded="0">
    </Flow>
  </FlowStats>
</FlowMonitor>
`

var _ = Describe("Environment", func() {
	DescribeTable("variable names",
		func(flag, env string) {
			Expect(envName(flag)).To(Equal(env))
		},
		Entry("camel case", "numNodes", "MALNET_NUM_NODES"),
		Entry("kebab case", "monitor-port", "MALNET_MONITOR_PORT"),
		Entry("single word", "redis", "MALNET_REDIS"),
	)

	It("should fill unset flags from the environment", func() {
		flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
		nodes := flags.Int("numNodes", 20, "")
		malicious := flags.Int("numMaliciousNodes", 2, "")
		Expect(flags.Parse([]string{"--numMaliciousNodes", "4"})).To(Succeed())

		os.Setenv("MALNET_NUM_NODES", "7")
		os.Setenv("MALNET_NUM_MALICIOUS_NODES", "9")
		DeferCleanup(func() {
			os.Unsetenv("MALNET_NUM_NODES")
			os.Unsetenv("MALNET_NUM_MALICIOUS_NODES")
		})

		Expect(applyEnv(flags)).To(Succeed())
		Expect(*nodes).To(Equal(7))
		Expect(*malicious).To(Equal(4))
	})

	It("should reject malformed values", func() {
		flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
		flags.Int("numNodes", 20, "")

		os.Setenv("MALNET_NUM_NODES", "many")
		DeferCleanup(func() { os.Unsetenv("MALNET_NUM_NODES") })

		Expect(applyEnv(flags)).To(MatchError(
			ContainSubstring("MALNET_NUM_NODES")))
	})
})

var _ = Describe("Exit code", func() {
	It("should tell no traffic apart from other failures", func() {
		Expect(exitCode(nil)).To(Equal(0))
		Expect(exitCode(fmt.Errorf("run: %w", flowstats.ErrNoTraffic))).
			To(Equal(2))
		Expect(exitCode(scenario.ErrInvalidConfiguration)).To(Equal(1))
	})
})

var _ = Describe("Run options", func() {
	It("should build the configuration", func() {
		o := runOptions{
			numNodes:          10,
			numMaliciousNodes: 3,
			simulationTime:    5,
			population:        "subset",
			packetInterval:    0.1,
			maxPackets:        10,
			wifiStandard:      "802.11ac",
			wifiManager:       "ns3::ArfWifiManager",
			wifiErrorModel:    "ns3::YansErrorRateModel",
			wifiMac:           "ns3::AdhocWifiMac",
		}

		c, err := o.config()

		Expect(err).ToNot(HaveOccurred())
		Expect(c.NumNodes).To(Equal(10))
		Expect(c.Population).To(Equal(role.PopulationSubset))
		Expect(c.Wifi.Standard).To(Equal(scenario.Standard80211ac))
		Expect(c.Wifi.StationManager).To(Equal(scenario.ArfWifiManager))
		Expect(c.Wifi.Mac).To(Equal(scenario.AdhocWifiMac))
	})

	It("should reject unknown wifi names", func() {
		o := runOptions{
			numNodes:       10,
			simulationTime: 5,
			packetInterval: 0.1,
			wifiStandard:   "80211z",
		}

		_, err := o.config()

		Expect(err).To(MatchError(scenario.ErrInvalidConfiguration))
	})

	It("should reject loss rates above one", func() {
		o := runOptions{lossRate: 1.5}

		_, err := o.builder(scenario.DefaultConfig())

		Expect(err).To(MatchError(scenario.ErrInvalidConfiguration))
	})

	It("should lose every packet at rate one", func() {
		loss := randomLoss(1, 42)

		Expect(loss.Lost(nil, 0)).To(BeTrue())
	})
})

var _ = Describe("Commands", func() {
	var dir string

	BeforeEach(func() {
		var err error
		dir, err = os.MkdirTemp("", "malnet-cmd")
		Expect(err).ToNot(HaveOccurred())
		DeferCleanup(func() { os.RemoveAll(dir) })
	})

	It("should aggregate a FlowMonitor report", func() {
		path := filepath.Join(dir, "flowmon.xml")
		Expect(os.WriteFile(path, []byte(sampleFlowMonitor), 0o600)).
			To(Succeed())

		records, err := loadRecords(path, "", "")
		Expect(err).ToNot(HaveOccurred())

		report, err := aggregate(records, 4)
		Expect(err).ToNot(HaveOccurred())
		Expect(report.Ratio).To(Equal(0.75))
	})

	It("should require exactly one source", func() {
		_, err := loadRecords("", "", "")
		Expect(err).To(HaveOccurred())

		_, err = loadRecords("a.xml", "b.sqlite3", "")
		Expect(err).To(HaveOccurred())
	})

	It("should run, record, and aggregate", func() {
		record := filepath.Join(dir, "run")

		rootCmd.SetArgs([]string{"run",
			"--numNodes", "3",
			"--numMaliciousNodes", "1",
			"--simulationTime", "3",
			"--record", record,
		})
		Expect(rootCmd.Execute()).To(Succeed())

		rootCmd.SetArgs([]string{"aggregate",
			"--db", record + ".sqlite3",
		})
		Expect(rootCmd.Execute()).To(Succeed())

		records, err := loadRecords("", record+".sqlite3", "")
		Expect(err).ToNot(HaveOccurred())
		Expect(records).To(HaveLen(1))
		Expect(records[0].TxPackets).To(Equal(uint64(20)))
		Expect(records[0].RxPackets).To(Equal(uint64(20)))
	})

	It("should fail when no packet is sent", func() {
		rootCmd.SetArgs([]string{"run",
			"--numNodes", "3",
			"--simulationTime", "1",
			"--record", "",
		})

		Expect(rootCmd.Execute()).To(MatchError(flowstats.ErrNoTraffic))
	})
})
