package cmd

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/sarchlab/malnet/datarecording"
	"github.com/sarchlab/malnet/flowstats"
	"github.com/sarchlab/malnet/monitoring"
	"github.com/sarchlab/malnet/network"
	"github.com/sarchlab/malnet/publish"
	"github.com/sarchlab/malnet/role"
	"github.com/sarchlab/malnet/scenario"
	"github.com/sarchlab/malnet/sim"
)

type runOptions struct {
	numNodes          int
	numMaliciousNodes int
	simulationTime    float64
	population        string
	packetInterval    float64
	maxPackets        uint32
	lossRate          float64
	seed              int64
	parallelIDs       bool

	wifiStandard   string
	wifiManager    string
	wifiErrorModel string
	wifiMac        string

	record      string
	postgres    string
	monitor     bool
	monitorPort int

	redis        string
	redisChannel string
	kafkaBrokers string
	kafkaTopic   string
}

var runOpts runOptions

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the scenario and print the packet delivery ratio.",
	RunE:  runScenario,
}

func init() {
	rootCmd.AddCommand(runCmd)
	addRunFlags(runCmd.Flags())
}

func addRunFlags(flags *pflag.FlagSet) {
	d := scenario.DefaultConfig()
	o := &runOpts

	flags.IntVar(&o.numNodes, "numNodes", d.NumNodes,
		"Number of nodes")
	flags.Float64Var(&o.simulationTime, "simulationTime",
		float64(d.SimulationTime), "Simulation time in seconds")
	flags.IntVar(&o.numMaliciousNodes, "numMaliciousNodes",
		d.NumMaliciousNodes, "Number of malicious nodes")
	flags.StringVar(&o.population, "population", d.Population.String(),
		"additive adds the malicious nodes to the population, "+
			"subset picks them from it")
	flags.Float64Var(&o.packetInterval, "packetInterval",
		float64(d.Traffic.Interval), "Seconds between two datagrams")
	flags.Uint32Var(&o.maxPackets, "maxPackets", d.Traffic.MaxPackets,
		"Maximum number of datagrams the client sends")
	flags.Float64Var(&o.lossRate, "lossRate", 0,
		"Probability that the medium loses a packet")
	flags.Int64Var(&o.seed, "seed", 1, "Seed of the loss model")
	flags.BoolVar(&o.parallelIDs, "parallel-ids", false,
		"Use globally unique packet IDs")

	flags.StringVar(&o.wifiStandard, "wifi-standard",
		d.Wifi.Standard.String(), "Wi-Fi standard")
	flags.StringVar(&o.wifiManager, "wifi-manager",
		d.Wifi.StationManager.String(), "Remote station manager")
	flags.StringVar(&o.wifiErrorModel, "wifi-error-model",
		d.Wifi.ErrorRateModel.String(), "Error rate model")
	flags.StringVar(&o.wifiMac, "wifi-mac", d.Wifi.Mac.String(),
		"MAC type of the devices")

	flags.StringVar(&o.record, "record", "",
		"Record the result into <record>.sqlite3")
	flags.StringVar(&o.postgres, "postgres", "",
		"Record the result into a PostgreSQL database")
	flags.BoolVar(&o.monitor, "monitor", false,
		"Serve the state of the simulation over HTTP")
	flags.IntVar(&o.monitorPort, "monitor-port", 0,
		"Port of the monitoring server, random if 0")

	flags.StringVar(&o.redis, "redis", "",
		"Publish the summary to Redis, e.g. redis://localhost:6379")
	flags.StringVar(&o.redisChannel, "redis-channel", "malnet-runs",
		"Redis channel to announce summaries on")
	flags.StringVar(&o.kafkaBrokers, "kafka-brokers", "",
		"Comma-separated Kafka brokers to publish the summary to")
	flags.StringVar(&o.kafkaTopic, "kafka-topic", "malnet-runs",
		"Kafka topic to publish the summary to")
}

func (o *runOptions) config() (scenario.Config, error) {
	c := scenario.DefaultConfig()

	c.NumNodes = o.numNodes
	c.NumMaliciousNodes = o.numMaliciousNodes
	c.SimulationTime = sim.VTimeInSec(o.simulationTime)
	c.Traffic.Interval = sim.VTimeInSec(o.packetInterval)
	c.Traffic.MaxPackets = o.maxPackets

	var err error

	c.Population, err = role.ParsePopulationMode(o.population)
	if err != nil {
		return c, err
	}

	c.Wifi.Standard, err = scenario.ParseStandard(o.wifiStandard)
	if err != nil {
		return c, err
	}

	c.Wifi.StationManager, err = scenario.ParseStationManager(o.wifiManager)
	if err != nil {
		return c, err
	}

	c.Wifi.ErrorRateModel, err = scenario.ParseErrorRateModel(o.wifiErrorModel)
	if err != nil {
		return c, err
	}

	c.Wifi.Mac, err = scenario.ParseMacType(o.wifiMac)
	if err != nil {
		return c, err
	}

	return c, c.Validate()
}

func (o *runOptions) builder(c scenario.Config) (scenario.Builder, error) {
	b := scenario.MakeBuilder().WithConfig(c)

	if o.parallelIDs {
		b = b.WithParallelIDGenerator()
	}

	if o.lossRate < 0 || o.lossRate > 1 {
		return b, fmt.Errorf("%w: loss rate %v is not a probability",
			scenario.ErrInvalidConfiguration, o.lossRate)
	}

	if o.lossRate > 0 {
		b = b.WithLossModel(randomLoss(o.lossRate, o.seed))
	}

	return b, nil
}

func randomLoss(rate float64, seed int64) network.LossModel {
	rng := rand.New(rand.NewSource(seed))

	return network.LossModelFunc(
		func(*network.Packet, sim.VTimeInSec) bool {
			return rng.Float64() < rate
		})
}

func runScenario(_ *cobra.Command, _ []string) error {
	c, err := runOpts.config()
	if err != nil {
		return err
	}

	b, err := runOpts.builder(c)
	if err != nil {
		return err
	}

	s, err := b.Build()
	if err != nil {
		return err
	}

	if runOpts.monitor {
		m := attachMonitor(s, runOpts.monitorPort)
		defer func() { _ = m.StopServer() }()
	}

	ctx, stop := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM)
	defer stop()

	res, err := s.Run(ctx)
	if err != nil && !errors.Is(err, flowstats.ErrNoTraffic) {
		return err
	}

	runErr := err
	if res.NoTraffic {
		fmt.Fprintln(os.Stderr,
			"No packet was sent, the packet delivery ratio is undefined.")
	} else {
		fmt.Println(res.Report)
	}

	err = storeResult(res)
	if err != nil {
		return err
	}

	err = publishResult(res)
	if err != nil {
		return err
	}

	return runErr
}

func attachMonitor(s *scenario.Scenario, port int) *monitoring.Monitor {
	m := monitoring.NewMonitor().WithPortNumber(port)

	m.RegisterEngine(s.Engine())
	m.RegisterRegistry(s.Registry())
	m.RegisterFlowSource(s.Monitor())
	m.RegisterComponent(s.Medium())
	m.RegisterComponent(s.Server())
	m.RegisterComponent(s.Client())

	for _, n := range s.Nodes() {
		m.RegisterComponent(n)
	}

	const resolution = 0.01

	total := uint64(s.Config().SimulationTime / resolution)
	bar := m.CreateProgressBar("Simulation", total)
	s.Engine().AcceptHook(monitoring.NewSimTimeTracker(bar, resolution))

	m.StartServer()

	return m
}

func storeResult(res *scenario.Result) error {
	if runOpts.record != "" {
		rec := datarecording.New(runOpts.record)
		scenario.RecordResult(rec, res)

		err := rec.Close()
		if err != nil {
			return err
		}
	}

	if runOpts.postgres != "" {
		rec, err := datarecording.OpenPostgres(runOpts.postgres)
		if err != nil {
			return err
		}

		scenario.RecordResult(rec, res)

		err = rec.Close()
		if err != nil {
			return err
		}
	}

	return nil
}

func publishResult(res *scenario.Result) error {
	var publishers publish.Multi

	if runOpts.redis != "" {
		p, err := publish.NewRedisPublisher(
			runOpts.redis, "malnet:run:", runOpts.redisChannel, 0)
		if err != nil {
			return err
		}

		publishers = append(publishers, p)
	}

	if runOpts.kafkaBrokers != "" {
		brokers := strings.Split(runOpts.kafkaBrokers, ",")
		for i := range brokers {
			brokers[i] = strings.TrimSpace(brokers[i])
		}

		publishers = append(publishers,
			publish.NewKafkaPublisher(brokers, runOpts.kafkaTopic))
	}

	if len(publishers) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	err := publishers.Publish(ctx, publish.NewSummary(res))
	closeErr := publishers.Close()

	if err != nil {
		return err
	}

	if closeErr != nil {
		log.Printf("closing publishers: %v", closeErr)
	}

	return nil
}
