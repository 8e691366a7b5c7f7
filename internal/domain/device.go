// Package domain contains core domain types for the support service.
package domain

import (
	"time"
)

// Device represents an anonymous client device known to the service.
type Device struct {
	DeviceID   string    `json:"device_id"`
	Label      string    `json:"label"`
	LastSeenAt time.Time `json:"last_seen_at"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// IdleFor returns how long the device has been inactive.
func (d *Device) IdleFor(now time.Time) time.Duration {
	idle := now.Sub(d.LastSeenAt)
	if idle < 0 {
		return 0
	}
	return idle
}
