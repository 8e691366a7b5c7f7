// Package helpdesk assembles support tickets and hands them to the
// help-desk vendor.
package helpdesk

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/containerd/errdefs"
	"github.com/google/uuid"

	"github.com/ashureev/shsh-support/internal/config"
	"github.com/ashureev/shsh-support/internal/diagnostics"
	"github.com/ashureev/shsh-support/internal/domain"
)

var (
	// ErrAlreadyInitialized is returned when Setup is called twice.
	ErrAlreadyInitialized = fmt.Errorf("%w: help desk already initialized", errdefs.ErrAlreadyExists)
	// ErrNotEnabled is returned by operations that need a configured help desk.
	ErrNotEnabled = fmt.Errorf("%w: help desk needs to be set up first", errdefs.ErrFailedPrecondition)
	// ErrNoIdentity is returned when a ticket or help-center request has no email.
	ErrNoIdentity = fmt.Errorf("%w: support identity required", errdefs.ErrFailedPrecondition)
)

const (
	blogSeparator = "\n----------\n"
	noneValue     = "none"
	wpComTag      = "wpcom"
	jetpackTag    = "jetpack"
)

// Settings configure the vendor connection.
type Settings struct {
	URL           string
	ApplicationID string
	OAuthClientID string
	DeviceLocale  string
	Fields        config.TicketFields
}

// TicketStore is the outbox the client writes tickets to.
type TicketStore interface {
	CreateTicket(ctx context.Context, ticket *domain.Ticket) error
	UpdateTicketDelivery(ctx context.Context, ticket *domain.Ticket) error
	// ClaimTicket moves a due pending ticket's next attempt to leaseUntil
	// and reports whether this caller won it.
	ClaimTicket(ctx context.Context, ticketID string, now, leaseUntil time.Time) (bool, error)
}

// Submitter delivers a ticket to the help desk and returns the vendor's id
// for it. Errors wrapping errdefs.ErrUnavailable are retried later.
type Submitter interface {
	Submit(ctx context.Context, ticket *domain.Ticket) (string, error)
}

// TicketRequest is the caller-supplied part of a ticket.
type TicketRequest struct {
	DeviceID    string
	Identity    domain.SupportIdentity
	Sites       []domain.Site
	Username    string
	Description string
	// Network overrides the collector's network provider when set.
	Network diagnostics.NetworkProvider
}

// HelpCenterRequest tells a client which articles to show.
type HelpCenterRequest struct {
	Identity    domain.SupportIdentity `json:"identity"`
	CategoryIDs []int64                `json:"category_ids"`
	LabelNames  []string               `json:"label_names"`
	Locale      string                 `json:"locale"`
}

// Client is the help-desk integration. It stays disabled until Setup is
// called with complete credentials.
type Client struct {
	mu        sync.RWMutex
	enabled   bool
	settings  Settings
	locale    string
	submitter Submitter
	store     TicketStore
	diag      *diagnostics.Collector
	outbox    OutboxPolicy
	now       func() time.Time
	logger    *slog.Logger
}

// NewClient creates a disabled client.
func NewClient(submitter Submitter, store TicketStore, diag *diagnostics.Collector, policy OutboxPolicy, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if diag == nil {
		diag = &diagnostics.Collector{}
	}
	return &Client{
		submitter: submitter,
		store:     store,
		diag:      diag,
		outbox:    policy.withDefaults(),
		now:       time.Now,
		logger:    logger,
	}
}

// Setup enables the client. Missing credentials leave it disabled without
// error; a second call fails with ErrAlreadyInitialized.
func (c *Client) Setup(s Settings) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.enabled {
		return ErrAlreadyInitialized
	}
	if s.URL == "" || s.ApplicationID == "" || s.OAuthClientID == "" {
		c.logger.Info("Help desk credentials missing, support tickets disabled")
		return nil
	}
	if err := s.Fields.Validate(); err != nil {
		return fmt.Errorf("%w: %w", errdefs.ErrInvalidArgument, err)
	}

	c.settings = s
	c.enabled = true
	c.locale = s.DeviceLocale
	c.logger.Info("Help desk enabled", "url", s.URL, "locale", s.DeviceLocale)
	return nil
}

// Enabled reports whether Setup succeeded.
func (c *Client) Enabled() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.enabled
}

// SetDeviceLocale changes the locale used for help-center content.
func (c *Client) SetDeviceLocale(locale string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.enabled {
		return ErrNotEnabled
	}
	c.locale = locale
	return nil
}

// Locale returns the current device locale.
func (c *Client) Locale() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.locale
}

// HelpCenter returns the help-center articles to show for id.
func (c *Client) HelpCenter(id domain.SupportIdentity) (HelpCenterRequest, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.enabled {
		return HelpCenterRequest{}, ErrNotEnabled
	}
	if id.IsZero() {
		return HelpCenterRequest{}, ErrNoIdentity
	}

	categories := make([]int64, len(c.settings.Fields.CategoryIDs))
	copy(categories, c.settings.Fields.CategoryIDs)
	var labels []string
	if c.settings.Fields.ArticleLabel != "" {
		labels = []string{c.settings.Fields.ArticleLabel}
	}
	return HelpCenterRequest{
		Identity:    id,
		CategoryIDs: categories,
		LabelNames:  labels,
		Locale:      c.locale,
	}, nil
}

// CreateTicket builds a ticket with diagnostics, stores it in the outbox and
// attempts delivery once. The ticket is stored leased, so the outbox worker
// leaves it alone while this call delivers it. A failed delivery still
// returns the stored ticket; the outbox worker retries it.
func (c *Client) CreateTicket(ctx context.Context, req TicketRequest) (*domain.Ticket, error) {
	c.mu.RLock()
	enabled := c.enabled
	fields := c.settings.Fields
	c.mu.RUnlock()

	if !enabled {
		return nil, ErrNotEnabled
	}
	if req.Identity.IsZero() {
		return nil, ErrNoIdentity
	}

	now := c.now()
	ticket := &domain.Ticket{
		ID:          uuid.NewString(),
		DeviceID:    req.DeviceID,
		Subject:     fields.Subject,
		Description: req.Description,
		Requester:   req.Identity,
		FormID:      fields.Form,
		CustomFields: []domain.CustomField{
			{ID: fields.AppVersion, Value: c.diag.Version()},
			{ID: fields.BlogList, Value: BlogInformation(req.Sites, req.Username)},
			{ID: fields.DeviceFreeSpace, Value: c.diag.FreeSpaceSummary()},
			{ID: fields.NetworkInformation, Value: c.diag.NetworkSummary(req.Network)},
			{ID: fields.Logs, Value: c.diag.LogText(req.DeviceID), Private: true},
		},
		Tags:          Tags(req.Sites),
		Status:        domain.TicketStatusPending,
		NextAttemptAt: now.Add(c.outbox.Lease),
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := c.store.CreateTicket(ctx, ticket); err != nil {
		return nil, fmt.Errorf("store ticket: %w", err)
	}
	c.logger.Info("Support ticket queued", "ticket_id", ticket.ID, diagnostics.Device(ticket.DeviceID), "tags", ticket.Tags)

	c.Deliver(ctx, ticket)
	return ticket, nil
}

// Deliver makes one delivery attempt and records its outcome. The caller
// must own the ticket: either it just created it or it won ClaimTicket.
func (c *Client) Deliver(ctx context.Context, ticket *domain.Ticket) {
	externalID, err := c.submitter.Submit(ctx, ticket)
	now := c.now()
	ticket.Attempts++
	ticket.UpdatedAt = now

	switch {
	case err == nil:
		ticket.Status = domain.TicketStatusSubmitted
		ticket.ExternalID = externalID
		ticket.LastError = ""
		ticket.SubmittedAt = &now
		c.logger.Info("Support ticket submitted", "ticket_id", ticket.ID, "external_id", externalID, diagnostics.Device(ticket.DeviceID))
	case IsRetryable(err) && ticket.Attempts < c.outbox.MaxAttempts:
		ticket.LastError = err.Error()
		ticket.NextAttemptAt = now.Add(c.outbox.backoff(ticket.Attempts))
		c.logger.Warn("Support ticket delivery failed, will retry",
			"ticket_id", ticket.ID,
			diagnostics.Device(ticket.DeviceID),
			"attempt", ticket.Attempts,
			"next_attempt_at", ticket.NextAttemptAt,
			"error", err)
	default:
		ticket.Status = domain.TicketStatusFailed
		ticket.LastError = err.Error()
		c.logger.Error("Support ticket delivery failed permanently",
			"ticket_id", ticket.ID,
			diagnostics.Device(ticket.DeviceID),
			"attempt", ticket.Attempts,
			"error", err)
	}

	// Record the outcome even if the request context is gone.
	updateCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := c.store.UpdateTicketDelivery(updateCtx, ticket); err != nil {
		c.logger.Error("Failed to record ticket delivery", "ticket_id", ticket.ID, "error", err)
	}
}

// BlogInformation renders the sites as ticket text. A nil slice means the
// site list is unknown and renders as "none".
func BlogInformation(sites []domain.Site, username string) string {
	if sites == nil {
		return noneValue
	}
	lines := make([]string, 0, len(sites))
	for _, site := range sites {
		lines = append(lines, site.LogInformation(username))
	}
	return strings.Join(lines, blogSeparator)
}

// Tags derives ticket tags from the user's sites: wpcom when any site is
// hosted, jetpack when any is Jetpack connected, then each distinct plan.
func Tags(sites []domain.Site) []string {
	tags := []string{}
	hasWPCom, hasJetpack := false, false
	for _, site := range sites {
		hasWPCom = hasWPCom || site.IsWPCom
		hasJetpack = hasJetpack || site.IsJetpackConnected
	}
	if hasWPCom {
		tags = append(tags, wpComTag)
	}
	if hasJetpack {
		tags = append(tags, jetpackTag)
	}

	seen := make(map[string]struct{})
	for _, site := range sites {
		if site.PlanShortName == "" {
			continue
		}
		if _, ok := seen[site.PlanShortName]; ok {
			continue
		}
		seen[site.PlanShortName] = struct{}{}
		tags = append(tags, site.PlanShortName)
	}
	return tags
}

// IsRetryable reports whether a delivery error should be retried.
func IsRetryable(err error) bool {
	return err != nil && errdefs.IsUnavailable(err) && !errors.Is(err, context.Canceled)
}
