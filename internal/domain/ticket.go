package domain

import (
	"time"
)

// TicketStatus enumerates outbox states for help-desk tickets.
type TicketStatus string

const (
	// TicketStatusPending is stored but not yet accepted by the help desk.
	TicketStatusPending TicketStatus = "pending"
	// TicketStatusSubmitted was accepted and carries an external id.
	TicketStatusSubmitted TicketStatus = "submitted"
	// TicketStatusFailed exhausted its delivery attempts.
	TicketStatusFailed TicketStatus = "failed"
)

// CustomField is a help-desk ticket field keyed by the vendor's numeric id.
// Private fields go to the help desk but are never shown back to clients.
type CustomField struct {
	ID      int64  `json:"id"`
	Value   string `json:"value"`
	Private bool   `json:"private,omitempty"`
}

// Ticket is a support request queued for delivery to the help desk.
type Ticket struct {
	ID            string          `json:"id"`
	DeviceID      string          `json:"device_id"`
	ExternalID    string          `json:"external_id,omitempty"`
	Subject       string          `json:"subject"`
	Description   string          `json:"description,omitempty"`
	Requester     SupportIdentity `json:"requester"`
	FormID        int64           `json:"form_id"`
	CustomFields  []CustomField   `json:"custom_fields"`
	Tags          []string        `json:"tags"`
	Status        TicketStatus    `json:"status"`
	Attempts      int             `json:"attempts"`
	LastError     string          `json:"last_error,omitempty"`
	NextAttemptAt time.Time       `json:"next_attempt_at"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
	SubmittedAt   *time.Time      `json:"submitted_at,omitempty"`
}

// Field returns the value of the custom field with the given id.
func (t *Ticket) Field(id int64) (string, bool) {
	for _, f := range t.CustomFields {
		if f.ID == id {
			return f.Value, true
		}
	}
	return "", false
}

// Public returns a copy of the ticket without its private custom fields.
func (t *Ticket) Public() *Ticket {
	out := *t
	out.CustomFields = make([]CustomField, 0, len(t.CustomFields))
	for _, f := range t.CustomFields {
		if !f.Private {
			out.CustomFields = append(out.CustomFields, f)
		}
	}
	return &out
}
