// Package diagnostics collects device and application details attached to
// help-desk tickets.
package diagnostics

import (
	"strings"
)

// Network types reported on tickets.
const (
	NetworkWiFi    = "WiFi"
	NetworkMobile  = "Mobile"
	UnknownValue   = "unknown"
	networkTypeKey = "Network Type:"
	carrierKey     = "Carrier:"
	countryCodeKey = "Country Code:"
)

// NetworkProvider reports the active network. Implementations return an
// empty string for anything they cannot determine.
type NetworkProvider interface {
	Type() string
	Carrier() string
	CountryCode() string
}

// StaticNetwork is a NetworkProvider with fixed values, typically supplied
// by the client or configuration.
type StaticNetwork struct {
	NetworkType string
	CarrierName string
	CountryISO  string
}

// Type implements NetworkProvider.
func (n StaticNetwork) Type() string { return n.NetworkType }

// Carrier implements NetworkProvider.
func (n StaticNetwork) Carrier() string { return n.CarrierName }

// CountryCode implements NetworkProvider.
func (n StaticNetwork) CountryCode() string { return n.CountryISO }

// NormalizeNetworkType maps client-reported connection kinds to the values
// used on tickets.
func NormalizeNetworkType(kind string) string {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "wifi", "wi-fi", "wlan", "ethernet":
		return NetworkWiFi
	case "mobile", "cellular", "wwan", "lte", "5g", "4g", "3g":
		return NetworkMobile
	default:
		return UnknownValue
	}
}

// NetworkInformation renders the three-line network summary for a ticket.
func NetworkInformation(p NetworkProvider) string {
	networkType, carrier, country := UnknownValue, UnknownValue, UnknownValue
	if p != nil {
		networkType = NormalizeNetworkType(p.Type())
		carrier = orUnknown(p.Carrier())
		country = orUnknown(p.CountryCode())
	}
	return strings.Join([]string{
		networkTypeKey + " " + networkType,
		carrierKey + " " + carrier,
		countryCodeKey + " " + country,
	}, "\n")
}

func orUnknown(s string) string {
	if strings.TrimSpace(s) == "" {
		return UnknownValue
	}
	return s
}
