// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/ashureev/shsh-support/internal/domain"
)

// Repository defines the interface for persisting devices, support
// preferences and the ticket outbox.
type Repository interface {
	// GetDevice retrieves a device by its ID. Returns nil, nil when absent.
	GetDevice(ctx context.Context, deviceID string) (*domain.Device, error)

	// UpsertDevice creates or updates a device record.
	UpsertDevice(ctx context.Context, device *domain.Device) error

	// UpdateLastSeen updates the last_seen_at timestamp for a device.
	UpdateLastSeen(ctx context.Context, deviceID string, lastSeen time.Time) error

	// GetSupportIdentity returns the confirmed support identity for a device,
	// or the zero value when none has been confirmed.
	GetSupportIdentity(ctx context.Context, deviceID string) (domain.SupportIdentity, error)

	// SetSupportIdentity replaces the confirmed support identity for a device.
	SetSupportIdentity(ctx context.Context, deviceID string, id domain.SupportIdentity) error

	// DeleteSupportIdentity forgets the confirmed support identity for a device.
	DeleteSupportIdentity(ctx context.Context, deviceID string) error

	// CreateTicket inserts a new outbox ticket.
	CreateTicket(ctx context.Context, ticket *domain.Ticket) error

	// UpdateTicketDelivery records the outcome of a delivery attempt.
	UpdateTicketDelivery(ctx context.Context, ticket *domain.Ticket) error

	// ClaimTicket moves a pending ticket whose next attempt is due at now to
	// leaseUntil. It reports false when the ticket was not due or another
	// caller claimed it first.
	ClaimTicket(ctx context.Context, ticketID string, now, leaseUntil time.Time) (bool, error)

	// GetTicket retrieves a ticket by ID. Returns nil, nil when absent.
	GetTicket(ctx context.Context, ticketID string) (*domain.Ticket, error)

	// ListTickets returns a device's tickets, newest first.
	ListTickets(ctx context.Context, deviceID string) ([]*domain.Ticket, error)

	// DuePendingTickets returns pending tickets whose next attempt is due.
	DuePendingTickets(ctx context.Context, now time.Time, limit int) ([]*domain.Ticket, error)

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}

// DevicePreferences exposes one device's support identity as a
// preference store for the identity resolver.
type DevicePreferences struct {
	repo     Repository
	deviceID string
}

// NewDevicePreferences scopes repo's support preferences to deviceID.
func NewDevicePreferences(repo Repository, deviceID string) *DevicePreferences {
	return &DevicePreferences{repo: repo, deviceID: deviceID}
}

// SupportIdentity returns the stored identity for the device.
func (p *DevicePreferences) SupportIdentity(ctx context.Context) (domain.SupportIdentity, error) {
	return p.repo.GetSupportIdentity(ctx, p.deviceID)
}

// SetSupportIdentity stores the identity for the device.
func (p *DevicePreferences) SetSupportIdentity(ctx context.Context, id domain.SupportIdentity) error {
	return p.repo.SetSupportIdentity(ctx, p.deviceID, id)
}
