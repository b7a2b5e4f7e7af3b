package flowstats

import (
	"encoding/xml"
	"fmt"
	"io"
	"net/netip"
	"sort"
	"strconv"
	"strings"

	"github.com/sarchlab/malnet/sim"
)

type flowMonitorDoc struct {
	XMLName    xml.Name       `xml:"FlowMonitor"`
	Stats      []xmlFlowStats `xml:"FlowStats>Flow"`
	Classifier []xmlFlowTuple `xml:"Ipv4FlowClassifier>Flow"`
}

type xmlFlowStats struct {
	FlowID            uint32 `xml:"flowId,attr"`
	TimeFirstTxPacket string `xml:"timeFirstTxPacket,attr"`
	TimeFirstRxPacket string `xml:"timeFirstRxPacket,attr"`
	TimeLastTxPacket  string `xml:"timeLastTxPacket,attr"`
	TimeLastRxPacket  string `xml:"timeLastRxPacket,attr"`
	DelaySum          string `xml:"delaySum,attr"`
	TxBytes           uint64 `xml:"txBytes,attr"`
	RxBytes           uint64 `xml:"rxBytes,attr"`
	TxPackets         uint64 `xml:"txPackets,attr"`
	RxPackets         uint64 `xml:"rxPackets,attr"`
	LostPackets       uint64 `xml:"lostPackets,attr"`
}

type xmlFlowTuple struct {
	FlowID          uint32 `xml:"flowId,attr"`
	SourceAddress   string `xml:"sourceAddress,attr"`
	DestinationAddr string `xml:"destinationAddress,attr"`
	Protocol        uint8  `xml:"protocol,attr"`
	SourcePort      uint16 `xml:"sourcePort,attr"`
	DestinationPort uint16 `xml:"destinationPort,attr"`
}

// ParseFlowMonitorXML reads the XML file written by the ns-3 FlowMonitor
// (SerializeToXmlFile) and returns one record per flow, ordered by flow ID.
// The 5-tuple is taken from the Ipv4FlowClassifier section when present.
func ParseFlowMonitorXML(r io.Reader) ([]FlowRecord, error) {
	doc := flowMonitorDoc{}

	err := xml.NewDecoder(r).Decode(&doc)
	if err != nil {
		return nil, fmt.Errorf("decoding flow monitor xml: %w", err)
	}

	tuples := make(map[uint32]xmlFlowTuple, len(doc.Classifier))
	for _, t := range doc.Classifier {
		tuples[t.FlowID] = t
	}

	records := make([]FlowRecord, 0, len(doc.Stats))
	for _, s := range doc.Stats {
		rec, err := s.toRecord()
		if err != nil {
			return nil, err
		}

		if t, found := tuples[s.FlowID]; found {
			rec.Key, err = t.toKey()
			if err != nil {
				return nil, err
			}
		}

		records = append(records, rec)
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].FlowID < records[j].FlowID
	})

	return records, nil
}

func (s xmlFlowStats) toRecord() (FlowRecord, error) {
	rec := FlowRecord{
		FlowID:      s.FlowID,
		TxPackets:   s.TxPackets,
		RxPackets:   s.RxPackets,
		TxBytes:     s.TxBytes,
		RxBytes:     s.RxBytes,
		LostPackets: s.LostPackets,
	}

	fields := []struct {
		raw string
		dst *sim.VTimeInSec
	}{
		{s.DelaySum, &rec.DelaySum},
		{s.TimeFirstTxPacket, &rec.TimeFirstTxPacket},
		{s.TimeLastTxPacket, &rec.TimeLastTxPacket},
		{s.TimeFirstRxPacket, &rec.TimeFirstRxPacket},
		{s.TimeLastRxPacket, &rec.TimeLastRxPacket},
	}

	for _, f := range fields {
		t, err := parseNSTime(f.raw)
		if err != nil {
			return rec, fmt.Errorf("flow %d: %w", s.FlowID, err)
		}

		*f.dst = t
	}

	return rec, nil
}

func (t xmlFlowTuple) toKey() (FlowKey, error) {
	src, err := netip.ParseAddr(t.SourceAddress)
	if err != nil {
		return FlowKey{}, fmt.Errorf("flow %d source: %w", t.FlowID, err)
	}

	dst, err := netip.ParseAddr(t.DestinationAddr)
	if err != nil {
		return FlowKey{}, fmt.Errorf("flow %d destination: %w", t.FlowID, err)
	}

	return FlowKey{
		Src:      src,
		Dst:      dst,
		SrcPort:  t.SourcePort,
		DstPort:  t.DestinationPort,
		Protocol: t.Protocol,
	}, nil
}

// parseNSTime converts an ns-3 time attribute such as "+2.0012e+09ns" into
// seconds. An empty attribute is zero.
func parseNSTime(raw string) (sim.VTimeInSec, error) {
	if raw == "" {
		return 0, nil
	}

	s := strings.TrimPrefix(raw, "+")
	scale := 1.0

	switch {
	case strings.HasSuffix(s, "ns"):
		s, scale = strings.TrimSuffix(s, "ns"), 1e-9
	case strings.HasSuffix(s, "us"):
		s, scale = strings.TrimSuffix(s, "us"), 1e-6
	case strings.HasSuffix(s, "ms"):
		s, scale = strings.TrimSuffix(s, "ms"), 1e-3
	case strings.HasSuffix(s, "s"):
		s = strings.TrimSuffix(s, "s")
	}

	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid time %q: %w", raw, err)
	}

	return sim.VTimeInSec(v * scale), nil
}
