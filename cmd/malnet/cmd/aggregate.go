package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sarchlab/malnet/datarecording"
	"github.com/sarchlab/malnet/flowstats"
	"github.com/sarchlab/malnet/scenario"
)

var aggregateCmd = &cobra.Command{
	Use:   "aggregate",
	Short: "Compute the packet delivery ratio of recorded flows.",
	Long: "`aggregate --flowmon flowmon.xml` reads an ns-3 FlowMonitor " +
		"report. `aggregate --db run.sqlite3` reads a malnet recording.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		flowmonPath, _ := cmd.Flags().GetString("flowmon")
		dbPath, _ := cmd.Flags().GetString("db")
		runID, _ := cmd.Flags().GetString("run")
		workers, _ := cmd.Flags().GetInt("workers")

		records, err := loadRecords(flowmonPath, dbPath, runID)
		if err != nil {
			return err
		}

		report, err := aggregate(records, workers)
		if errors.Is(err, flowstats.ErrNoTraffic) {
			fmt.Fprintln(os.Stderr,
				"No packet was sent, the packet delivery ratio is undefined.")
			return err
		}

		if err != nil {
			return err
		}

		fmt.Println(report)

		return nil
	},
}

func init() {
	rootCmd.AddCommand(aggregateCmd)
	aggregateCmd.Flags().String("flowmon", "", "FlowMonitor XML file")
	aggregateCmd.Flags().String("db", "", "SQLite recording")
	aggregateCmd.Flags().String("run", "",
		"Only aggregate the flows of this run")
	aggregateCmd.Flags().Int("workers", 1,
		"Number of goroutines that sum the records")
}

func loadRecords(
	flowmonPath, dbPath, runID string,
) ([]flowstats.FlowRecord, error) {
	switch {
	case flowmonPath != "" && dbPath != "":
		return nil, errors.New("--flowmon and --db cannot be used together")
	case flowmonPath != "":
		f, err := os.Open(flowmonPath)
		if err != nil {
			return nil, err
		}
		defer f.Close()

		return flowstats.ParseFlowMonitorXML(f)
	case dbPath != "":
		reader, err := datarecording.OpenSQLite(dbPath)
		if err != nil {
			return nil, err
		}
		defer reader.Close()

		return scenario.LoadFlowRecords(reader, runID)
	default:
		return nil, errors.New("either --flowmon or --db is required")
	}
}

func aggregate(
	records []flowstats.FlowRecord,
	workers int,
) (flowstats.DeliveryReport, error) {
	if workers > 1 {
		return flowstats.AggregateParallel(records, workers)
	}

	return flowstats.Aggregate(records)
}
