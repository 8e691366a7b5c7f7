package diagnostics

import (
	"log/slog"

	"github.com/dustin/go-humanize"
)

// Collector gathers the device diagnostics attached to tickets.
type Collector struct {
	AppVersion string
	DataDir    string
	Network    NetworkProvider
	Logs       *DeviceLogs
}

// FreeSpaceSummary renders the free space of the data directory, or
// "unknown" when it cannot be read.
func (c *Collector) FreeSpaceSummary() string {
	if c.DataDir == "" {
		return UnknownValue
	}
	free, err := FreeSpace(c.DataDir)
	if err != nil {
		slog.Debug("Failed to read free space", "path", c.DataDir, "error", err)
		return UnknownValue
	}
	return humanize.Bytes(free)
}

// NetworkSummary renders the network information for network, falling
// back to the collector's own provider when network is nil.
func (c *Collector) NetworkSummary(network NetworkProvider) string {
	if network == nil {
		network = c.Network
	}
	return NetworkInformation(network)
}

// LogText returns the log output recently captured for one device.
func (c *Collector) LogText(deviceID string) string {
	if c.Logs == nil || deviceID == "" {
		return ""
	}
	return c.Logs.Text(deviceID)
}

// Version returns the application version or "unknown".
func (c *Collector) Version() string {
	return orUnknown(c.AppVersion)
}
