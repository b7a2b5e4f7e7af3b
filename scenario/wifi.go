package scenario

import (
	"fmt"
	"strings"
)

// Standard is the Wi-Fi standard of the devices.
type Standard int

// The recognized standards.
const (
	Standard80211a Standard = iota
	Standard80211b
	Standard80211g
	Standard80211n
	Standard80211ac
	Standard80211ax
)

var standardNames = []string{
	"80211a", "80211b", "80211g", "80211n", "80211ac", "80211ax",
}

func (s Standard) String() string {
	return enumName(standardNames, int(s), "Standard")
}

// ParseStandard accepts "80211n", "802.11n" or "WIFI_STANDARD_80211n".
func ParseStandard(name string) (Standard, error) {
	n := strings.TrimPrefix(name, "WIFI_STANDARD_")
	n = strings.ReplaceAll(n, ".", "")

	i, err := parseEnum(standardNames, n, "wifi standard", name)

	return Standard(i), err
}

// StationManager is the rate control algorithm of the devices.
type StationManager int

// The recognized rate managers.
const (
	IdealWifiManager StationManager = iota
	ArfWifiManager
	AarfWifiManager
	MinstrelWifiManager
	ConstantRateWifiManager
)

var stationManagerNames = []string{
	"IdealWifiManager", "ArfWifiManager", "AarfWifiManager",
	"MinstrelWifiManager", "ConstantRateWifiManager",
}

func (m StationManager) String() string {
	return enumName(stationManagerNames, int(m), "StationManager")
}

// ParseStationManager accepts "IdealWifiManager" or "ns3::IdealWifiManager".
func ParseStationManager(name string) (StationManager, error) {
	i, err := parseEnum(stationManagerNames,
		strings.TrimPrefix(name, "ns3::"), "remote station manager", name)

	return StationManager(i), err
}

// ErrorRateModel is the error model of the physical layer.
type ErrorRateModel int

// The recognized error rate models.
const (
	NistErrorRateModel ErrorRateModel = iota
	YansErrorRateModel
	TableBasedErrorRateModel
)

var errorRateModelNames = []string{
	"NistErrorRateModel", "YansErrorRateModel", "TableBasedErrorRateModel",
}

func (m ErrorRateModel) String() string {
	return enumName(errorRateModelNames, int(m), "ErrorRateModel")
}

// ParseErrorRateModel accepts "NistErrorRateModel" or
// "ns3::NistErrorRateModel".
func ParseErrorRateModel(name string) (ErrorRateModel, error) {
	i, err := parseEnum(errorRateModelNames,
		strings.TrimPrefix(name, "ns3::"), "error rate model", name)

	return ErrorRateModel(i), err
}

// MacType is the MAC role of the devices.
type MacType int

// The recognized MAC types.
const (
	StaWifiMac MacType = iota
	ApWifiMac
	AdhocWifiMac
)

var macTypeNames = []string{"StaWifiMac", "ApWifiMac", "AdhocWifiMac"}

func (m MacType) String() string {
	return enumName(macTypeNames, int(m), "MacType")
}

// ParseMacType accepts "StaWifiMac" or "ns3::StaWifiMac".
func ParseMacType(name string) (MacType, error) {
	i, err := parseEnum(macTypeNames,
		strings.TrimPrefix(name, "ns3::"), "mac type", name)

	return MacType(i), err
}

// WifiConfig describes the link layer the nodes are configured with. The
// values are recorded with the run and validated, but the medium does not
// model them.
type WifiConfig struct {
	Standard       Standard
	StationManager StationManager
	ErrorRateModel ErrorRateModel
	Mac            MacType
	SSID           string
	ActiveProbing  bool
}

// DefaultWifiConfig returns an 802.11n station setup with an ideal rate
// manager.
func DefaultWifiConfig() WifiConfig {
	return WifiConfig{
		Standard:       Standard80211n,
		StationManager: IdealWifiManager,
		ErrorRateModel: NistErrorRateModel,
		Mac:            StaWifiMac,
		SSID:           "ns3-wifi",
		ActiveProbing:  false,
	}
}

// Validate checks that every option is a recognized value.
func (w WifiConfig) Validate() error {
	switch {
	case int(w.Standard) < 0 || int(w.Standard) >= len(standardNames):
		return fmt.Errorf("%w: %s", ErrInvalidConfiguration, w.Standard)
	case int(w.StationManager) < 0 ||
		int(w.StationManager) >= len(stationManagerNames):
		return fmt.Errorf("%w: %s", ErrInvalidConfiguration, w.StationManager)
	case int(w.ErrorRateModel) < 0 ||
		int(w.ErrorRateModel) >= len(errorRateModelNames):
		return fmt.Errorf("%w: %s", ErrInvalidConfiguration, w.ErrorRateModel)
	case int(w.Mac) < 0 || int(w.Mac) >= len(macTypeNames):
		return fmt.Errorf("%w: %s", ErrInvalidConfiguration, w.Mac)
	case w.SSID == "" || len(w.SSID) > 32:
		return fmt.Errorf("%w: ssid must have 1 to 32 bytes, got %q",
			ErrInvalidConfiguration, w.SSID)
	}

	return nil
}

func enumName(names []string, i int, typeName string) string {
	if i < 0 || i >= len(names) {
		return fmt.Sprintf("%s(%d)", typeName, i)
	}

	return names[i]
}

func parseEnum(names []string, name, what, raw string) (int, error) {
	for i, n := range names {
		if strings.EqualFold(n, name) {
			return i, nil
		}
	}

	return 0, fmt.Errorf("%w: unknown %s %q",
		ErrInvalidConfiguration, what, raw)
}
