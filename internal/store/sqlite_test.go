package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/containerd/errdefs"

	"github.com/ashureev/shsh-support/internal/domain"
)

func newTestStore(t *testing.T) Repository {
	t.Helper()
	repo, err := NewSQLite(filepath.Join(t.TempDir(), "support.db"))
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	t.Cleanup(func() {
		if err := repo.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return repo
}

func TestDeviceRoundTrip(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()

	got, err := repo.GetDevice(ctx, "dev_missing")
	if err != nil || got != nil {
		t.Fatalf("expected nil, nil for missing device, got %v, %v", got, err)
	}

	now := time.Unix(1700000000, 0)
	if err := repo.UpsertDevice(ctx, &domain.Device{
		DeviceID: "dev_1", Label: "device-1", LastSeenAt: now, CreatedAt: now, UpdatedAt: now,
	}); err != nil {
		t.Fatalf("UpsertDevice: %v", err)
	}

	later := now.Add(time.Hour)
	if err := repo.UpdateLastSeen(ctx, "dev_1", later); err != nil {
		t.Fatalf("UpdateLastSeen: %v", err)
	}

	got, err = repo.GetDevice(ctx, "dev_1")
	if err != nil {
		t.Fatalf("GetDevice: %v", err)
	}
	if got.Label != "device-1" || !got.LastSeenAt.Equal(later) || !got.CreatedAt.Equal(now) {
		t.Errorf("unexpected device %+v", got)
	}
}

func TestSupportIdentityLifecycle(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()
	prefs := NewDevicePreferences(repo, "dev_1")

	id, err := prefs.SupportIdentity(ctx)
	if err != nil {
		t.Fatalf("SupportIdentity: %v", err)
	}
	if !id.IsZero() {
		t.Fatalf("expected no identity at first run, got %+v", id)
	}

	if err := prefs.SetSupportIdentity(ctx, domain.SupportIdentity{Email: "a@b.com", Name: "Ann"}); err != nil {
		t.Fatalf("SetSupportIdentity: %v", err)
	}
	if err := prefs.SetSupportIdentity(ctx, domain.SupportIdentity{Email: "c@d.com", Name: ""}); err != nil {
		t.Fatalf("SetSupportIdentity overwrite: %v", err)
	}

	id, err = prefs.SupportIdentity(ctx)
	if err != nil {
		t.Fatalf("SupportIdentity: %v", err)
	}
	if id.Email != "c@d.com" || id.Name != "" {
		t.Errorf("expected superseded identity, got %+v", id)
	}

	other, err := repo.GetSupportIdentity(ctx, "dev_2")
	if err != nil || !other.IsZero() {
		t.Errorf("identity leaked across devices: %+v, %v", other, err)
	}

	if err := repo.DeleteSupportIdentity(ctx, "dev_1"); err != nil {
		t.Fatalf("DeleteSupportIdentity: %v", err)
	}
	id, _ = prefs.SupportIdentity(ctx)
	if !id.IsZero() {
		t.Errorf("expected identity forgotten, got %+v", id)
	}
}

func TestSetSupportIdentityRequiresEmail(t *testing.T) {
	repo := newTestStore(t)
	err := repo.SetSupportIdentity(context.Background(), "dev_1", domain.SupportIdentity{Name: "Ann"})
	if !errdefs.IsInvalidArgument(err) {
		t.Fatalf("expected invalid argument, got %v", err)
	}
}

func TestTicketOutbox(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()
	now := time.Unix(1700000000, 0)

	ticket := &domain.Ticket{
		ID:            "tkt-1",
		DeviceID:      "dev_1",
		Subject:       "Support",
		Requester:     domain.SupportIdentity{Email: "a@b.com", Name: "Ann"},
		FormID:        42,
		CustomFields:  []domain.CustomField{{ID: 1, Value: "1.0"}, {ID: 2, Value: "none"}},
		Tags:          []string{"wpcom", "premium"},
		Status:        domain.TicketStatusPending,
		NextAttemptAt: now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := repo.CreateTicket(ctx, ticket); err != nil {
		t.Fatalf("CreateTicket: %v", err)
	}
	if err := repo.CreateTicket(ctx, ticket); !errdefs.IsAlreadyExists(err) {
		t.Fatalf("expected already exists on duplicate, got %v", err)
	}

	due, err := repo.DuePendingTickets(ctx, now.Add(-time.Minute), 10)
	if err != nil {
		t.Fatalf("DuePendingTickets: %v", err)
	}
	if len(due) != 0 {
		t.Fatalf("expected nothing due yet, got %d", len(due))
	}

	due, err = repo.DuePendingTickets(ctx, now, 10)
	if err != nil {
		t.Fatalf("DuePendingTickets: %v", err)
	}
	if len(due) != 1 || due[0].ID != "tkt-1" {
		t.Fatalf("expected tkt-1 due, got %+v", due)
	}
	if v, ok := due[0].Field(2); !ok || v != "none" {
		t.Errorf("custom field not round-tripped: %q %v", v, ok)
	}
	if len(due[0].Tags) != 2 || due[0].Tags[1] != "premium" {
		t.Errorf("tags not round-tripped: %v", due[0].Tags)
	}

	submitted := now.Add(time.Second)
	ticket.Status = domain.TicketStatusSubmitted
	ticket.ExternalID = "9001"
	ticket.Attempts = 1
	ticket.SubmittedAt = &submitted
	ticket.UpdatedAt = submitted
	if err := repo.UpdateTicketDelivery(ctx, ticket); err != nil {
		t.Fatalf("UpdateTicketDelivery: %v", err)
	}

	got, err := repo.GetTicket(ctx, "tkt-1")
	if err != nil {
		t.Fatalf("GetTicket: %v", err)
	}
	if got.Status != domain.TicketStatusSubmitted || got.ExternalID != "9001" || got.SubmittedAt == nil {
		t.Errorf("delivery not recorded: %+v", got)
	}

	due, _ = repo.DuePendingTickets(ctx, now.Add(time.Hour), 10)
	if len(due) != 0 {
		t.Errorf("submitted ticket must not be due, got %d", len(due))
	}

	list, err := repo.ListTickets(ctx, "dev_1")
	if err != nil || len(list) != 1 {
		t.Fatalf("ListTickets: %v, %d", err, len(list))
	}

	missing := &domain.Ticket{ID: "nope"}
	if err := repo.UpdateTicketDelivery(ctx, missing); !errdefs.IsNotFound(err) {
		t.Errorf("expected not found, got %v", err)
	}
	if got, err := repo.GetTicket(ctx, "nope"); got != nil || err != nil {
		t.Errorf("expected nil, nil for missing ticket, got %v, %v", got, err)
	}
}

func TestClaimTicketIsExclusive(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()
	now := time.Unix(1700000000, 0)

	ticket := &domain.Ticket{
		ID:            "tkt-claim",
		DeviceID:      "dev_1",
		Subject:       "Support",
		Requester:     domain.SupportIdentity{Email: "a@b.com"},
		CustomFields:  []domain.CustomField{{ID: 7, Value: "logs", Private: true}},
		Status:        domain.TicketStatusPending,
		NextAttemptAt: now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := repo.CreateTicket(ctx, ticket); err != nil {
		t.Fatalf("CreateTicket: %v", err)
	}

	if ok, err := repo.ClaimTicket(ctx, "tkt-claim", now.Add(-time.Second), now.Add(time.Minute)); err != nil || ok {
		t.Fatalf("ticket not yet due must not be claimed: %v, %v", ok, err)
	}
	if ok, err := repo.ClaimTicket(ctx, "tkt-claim", now, now.Add(time.Minute)); err != nil || !ok {
		t.Fatalf("expected first claim to win: %v, %v", ok, err)
	}
	if ok, err := repo.ClaimTicket(ctx, "tkt-claim", now, now.Add(time.Minute)); err != nil || ok {
		t.Fatalf("expected second claim to lose: %v, %v", ok, err)
	}

	due, err := repo.DuePendingTickets(ctx, now.Add(30*time.Second), 10)
	if err != nil || len(due) != 0 {
		t.Fatalf("leased ticket must not be due: %v, %d", err, len(due))
	}
	due, err = repo.DuePendingTickets(ctx, now.Add(time.Minute), 10)
	if err != nil || len(due) != 1 {
		t.Fatalf("expected ticket due after the lease: %v, %d", err, len(due))
	}
	if len(due[0].CustomFields) != 1 || !due[0].CustomFields[0].Private {
		t.Errorf("private flag not round-tripped: %+v", due[0].CustomFields)
	}

	if ok, _ := repo.ClaimTicket(ctx, "nope", now, now.Add(time.Minute)); ok {
		t.Error("missing ticket must not be claimed")
	}
}
