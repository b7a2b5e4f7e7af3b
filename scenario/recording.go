package scenario

import (
	"fmt"
	"net/netip"

	"github.com/sarchlab/malnet/datarecording"
	"github.com/sarchlab/malnet/flowstats"
	"github.com/sarchlab/malnet/sim"
)

// Names of the tables a result is recorded into.
const (
	RolesTable  = "malnet_roles"
	FlowsTable  = "malnet_flows"
	ReportTable = "malnet_report"
)

type roleRow struct {
	RunID string
	Node  int64
	Addr  string
	Role  string
}

type flowRow struct {
	RunID       string
	FlowID      int64
	SrcAddr     string
	DstAddr     string
	SrcPort     int64
	DstPort     int64
	Protocol    int64
	TxPackets   int64
	RxPackets   int64
	TxBytes     int64
	RxBytes     int64
	LostPackets int64
	DelaySum    float64
	FirstTx     float64
	LastTx      float64
	FirstRx     float64
	LastRx      float64
}

type reportRow struct {
	RunID          string
	NumNodes       int64
	NumMalicious   int64
	Population     string
	SimulationTime float64
	TotalSent      int64
	TotalReceived  int64
	Ratio          float64
	NoTraffic      bool
}

// RecordResult writes the roles, the flow records, and the delivery report of
// a run into the recorder and flushes it.
func RecordResult(rec datarecording.DataRecorder, res *Result) {
	rec.CreateTable(RolesTable, roleRow{})
	rec.CreateTable(FlowsTable, flowRow{})
	rec.CreateTable(ReportTable, reportRow{})

	for _, n := range res.Nodes {
		rec.InsertData(RolesTable, roleRow{
			RunID: res.RunID,
			Node:  int64(n.ID),
			Addr:  n.Addr.String(),
			Role:  n.Role.String(),
		})
	}

	for _, r := range res.Records {
		rec.InsertData(FlowsTable, toFlowRow(res.RunID, r))
	}

	rec.InsertData(ReportTable, reportRow{
		RunID:          res.RunID,
		NumNodes:       int64(res.Config.NumNodes),
		NumMalicious:   int64(res.Config.NumMaliciousNodes),
		Population:     res.Config.Population.String(),
		SimulationTime: float64(res.Config.SimulationTime),
		TotalSent:      int64(res.Report.TotalSent),
		TotalReceived:  int64(res.Report.TotalReceived),
		Ratio:          res.Report.Ratio,
		NoTraffic:      res.NoTraffic,
	})

	rec.Flush()
}

func toFlowRow(runID string, r flowstats.FlowRecord) flowRow {
	return flowRow{
		RunID:       runID,
		FlowID:      int64(r.FlowID),
		SrcAddr:     addrString(r.Key.Src),
		DstAddr:     addrString(r.Key.Dst),
		SrcPort:     int64(r.Key.SrcPort),
		DstPort:     int64(r.Key.DstPort),
		Protocol:    int64(r.Key.Protocol),
		TxPackets:   int64(r.TxPackets),
		RxPackets:   int64(r.RxPackets),
		TxBytes:     int64(r.TxBytes),
		RxBytes:     int64(r.RxBytes),
		LostPackets: int64(r.LostPackets),
		DelaySum:    float64(r.DelaySum),
		FirstTx:     float64(r.TimeFirstTxPacket),
		LastTx:      float64(r.TimeLastTxPacket),
		FirstRx:     float64(r.TimeFirstRxPacket),
		LastRx:      float64(r.TimeLastRxPacket),
	}
}

func addrString(a netip.Addr) string {
	if !a.IsValid() {
		return ""
	}

	return a.String()
}

// LoadFlowRecords reads back the flow records of a run. If runID is empty, the
// records of all the runs are returned.
func LoadFlowRecords(
	reader *datarecording.DataReader,
	runID string,
) ([]flowstats.FlowRecord, error) {
	found, err := reader.HasTable(FlowsTable)
	if err != nil {
		return nil, err
	}

	if !found {
		return nil, fmt.Errorf("table %s not found", FlowsTable)
	}

	query := "SELECT FlowID, SrcAddr, DstAddr, SrcPort, DstPort, Protocol, " +
		"TxPackets, RxPackets, TxBytes, RxBytes, LostPackets, DelaySum, " +
		"FirstTx, LastTx, FirstRx, LastRx FROM " + FlowsTable
	args := []any{}

	if runID != "" {
		query += " WHERE RunID = " + reader.Placeholder(1)
		args = append(args, runID)
	}
	query += " ORDER BY RunID, FlowID"

	rows, err := reader.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := []flowstats.FlowRecord{}
	for rows.Next() {
		var row flowRow

		err := rows.Scan(&row.FlowID, &row.SrcAddr, &row.DstAddr,
			&row.SrcPort, &row.DstPort, &row.Protocol,
			&row.TxPackets, &row.RxPackets, &row.TxBytes, &row.RxBytes,
			&row.LostPackets, &row.DelaySum,
			&row.FirstTx, &row.LastTx, &row.FirstRx, &row.LastRx)
		if err != nil {
			return nil, err
		}

		record, err := fromFlowRow(row)
		if err != nil {
			return nil, err
		}

		records = append(records, record)
	}

	return records, rows.Err()
}

func fromFlowRow(row flowRow) (flowstats.FlowRecord, error) {
	key := flowstats.FlowKey{
		SrcPort:  uint16(row.SrcPort),
		DstPort:  uint16(row.DstPort),
		Protocol: uint8(row.Protocol),
	}

	var err error
	if row.SrcAddr != "" {
		key.Src, err = netip.ParseAddr(row.SrcAddr)
		if err != nil {
			return flowstats.FlowRecord{}, err
		}
	}

	if row.DstAddr != "" {
		key.Dst, err = netip.ParseAddr(row.DstAddr)
		if err != nil {
			return flowstats.FlowRecord{}, err
		}
	}

	return flowstats.FlowRecord{
		FlowID:            uint32(row.FlowID),
		Key:               key,
		TxPackets:         uint64(row.TxPackets),
		RxPackets:         uint64(row.RxPackets),
		TxBytes:           uint64(row.TxBytes),
		RxBytes:           uint64(row.RxBytes),
		LostPackets:       uint64(row.LostPackets),
		DelaySum:          sim.VTimeInSec(row.DelaySum),
		TimeFirstTxPacket: sim.VTimeInSec(row.FirstTx),
		TimeLastTxPacket:  sim.VTimeInSec(row.LastTx),
		TimeFirstRxPacket: sim.VTimeInSec(row.FirstRx),
		TimeLastRxPacket:  sim.VTimeInSec(row.LastRx),
	}, nil
}
