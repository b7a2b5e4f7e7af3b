package scenario_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/malnet/role"
	"github.com/sarchlab/malnet/scenario"
)

var _ = Describe("Config", func() {
	It("should be valid by default", func() {
		c := scenario.DefaultConfig()

		Expect(c.Validate()).To(Succeed())
		Expect(c.PopulationSize()).To(Equal(22))
	})

	It("should not add malicious nodes in subset mode", func() {
		c := scenario.DefaultConfig()
		c.Population = role.PopulationSubset

		Expect(c.PopulationSize()).To(Equal(20))
	})

	DescribeTable("invalid configurations",
		func(mutate func(c *scenario.Config)) {
			c := scenario.DefaultConfig()
			mutate(&c)

			Expect(c.Validate()).To(MatchError(scenario.ErrInvalidConfiguration))
		},
		Entry("negative node count", func(c *scenario.Config) {
			c.NumNodes = -1
		}),
		Entry("negative malicious count", func(c *scenario.Config) {
			c.NumMaliciousNodes = -3
		}),
		Entry("subset larger than population", func(c *scenario.Config) {
			c.Population = role.PopulationSubset
			c.NumNodes = 3
			c.NumMaliciousNodes = 5
		}),
		Entry("zero simulation time", func(c *scenario.Config) {
			c.SimulationTime = 0
		}),
		Entry("traffic node outside population", func(c *scenario.Config) {
			c.NumNodes = 1
			c.NumMaliciousNodes = 0
		}),
		Entry("client is the server", func(c *scenario.Config) {
			c.Traffic.ClientNode = c.Traffic.ServerNode
		}),
		Entry("zero interval", func(c *scenario.Config) {
			c.Traffic.Interval = 0
		}),
		Entry("tiny packets", func(c *scenario.Config) {
			c.Traffic.PacketSize = 4
		}),
		Entry("no ssid", func(c *scenario.Config) {
			c.Wifi.SSID = ""
		}),
	)
})

var _ = Describe("Wifi", func() {
	DescribeTable("parsing standards",
		func(name string, expected scenario.Standard) {
			s, err := scenario.ParseStandard(name)

			Expect(err).ToNot(HaveOccurred())
			Expect(s).To(Equal(expected))
		},
		Entry("plain", "80211n", scenario.Standard80211n),
		Entry("dotted", "802.11ac", scenario.Standard80211ac),
		Entry("ns-3 enum", "WIFI_STANDARD_80211ax", scenario.Standard80211ax),
	)

	It("should parse ns-3 type names", func() {
		m, err := scenario.ParseStationManager("ns3::IdealWifiManager")
		Expect(err).ToNot(HaveOccurred())
		Expect(m).To(Equal(scenario.IdealWifiManager))

		e, err := scenario.ParseErrorRateModel("ns3::NistErrorRateModel")
		Expect(err).ToNot(HaveOccurred())
		Expect(e).To(Equal(scenario.NistErrorRateModel))

		mac, err := scenario.ParseMacType("ns3::StaWifiMac")
		Expect(err).ToNot(HaveOccurred())
		Expect(mac).To(Equal(scenario.StaWifiMac))
	})

	It("should round trip names", func() {
		m, err := scenario.ParseStationManager(
			scenario.MinstrelWifiManager.String())

		Expect(err).ToNot(HaveOccurred())
		Expect(m).To(Equal(scenario.MinstrelWifiManager))
	})

	It("should reject unknown names", func() {
		_, err := scenario.ParseStationManager("ns3::MagicWifiManager")

		Expect(err).To(MatchError(scenario.ErrInvalidConfiguration))
	})
})
