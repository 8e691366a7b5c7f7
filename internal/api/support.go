package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/shsh-support/internal/diagnostics"
	"github.com/ashureev/shsh-support/internal/domain"
	"github.com/ashureev/shsh-support/internal/helpdesk"
	"github.com/ashureev/shsh-support/internal/identity"
	"github.com/ashureev/shsh-support/internal/store"
	"github.com/ashureev/shsh-support/internal/support"
)

const maxBodyBytes = 1 << 20

// SupportHandler serves the identity dialog and ticket endpoints.
type SupportHandler struct {
	*Handler
}

// NewSupportHandler creates a support handler.
func NewSupportHandler(base *Handler) *SupportHandler {
	return &SupportHandler{Handler: base}
}

// RegisterRoutes registers support routes.
func (h *SupportHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/support", func(r chi.Router) {
		r.Get("/identity", h.GetIdentity)
		r.Delete("/identity", h.ForgetIdentity)
		r.Post("/identity/confirm", h.ConfirmIdentity)
		r.Post("/identity/cancel", h.CancelIdentity)
		r.Get("/tickets", h.ListTickets)
		r.Post("/tickets", h.CreateTicket)
		r.Get("/help-center", h.HelpCenter)
	})
}

type identityResponse struct {
	Status string          `json:"status"`
	Email  string          `json:"email,omitempty"`
	Name   string          `json:"name,omitempty"`
	Prompt *support.Prompt `json:"prompt,omitempty"`
}

type confirmRequest struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}

type networkRequest struct {
	Type        string `json:"type"`
	Carrier     string `json:"carrier"`
	CountryCode string `json:"country_code"`
}

type ticketRequest struct {
	Sites       []domain.Site   `json:"sites"`
	Username    string          `json:"username"`
	Description string          `json:"description"`
	Network     *networkRequest `json:"network,omitempty"`
}

func resolvedResponse(id domain.SupportIdentity) identityResponse {
	return identityResponse{Status: support.StateResolved.String(), Email: id.Email, Name: id.Name}
}

// suggestionSource reads optional account and site hints from the query.
func suggestionSource(r *http.Request) domain.SuggestionSource {
	q := r.URL.Query()
	var src domain.SuggestionSource
	if email, name := q.Get("account_email"), q.Get("account_display_name"); email != "" || name != "" {
		src.Account = &domain.Account{Email: email, DisplayName: name}
	}
	if email, username := q.Get("site_email"), q.Get("site_username"); email != "" || username != "" {
		src.Site = &domain.Site{Email: email, Username: username}
	}
	return src
}

// GetIdentity returns the stored identity, or opens (or re-reads) the
// pending dialog for this device and tab.
func (h *SupportHandler) GetIdentity(w http.ResponseWriter, r *http.Request) {
	key := dialogKey(r)
	if d := h.dialogs.Get(key); d != nil {
		prompt := d.Prompt()
		JSON(w, http.StatusOK, identityResponse{Status: support.StatePending.String(), Prompt: &prompt})
		return
	}

	deviceID := identity.DeviceIDFromContext(r.Context())

	// The dialog outlives this request; it ends on confirm, cancel, replacement or TTL.
	dialogCtx, cancel := context.WithTimeout(context.Background(), h.dialogTTL)
	res := h.resolverFor(deviceID, h.dialogs.SurfaceFor(key)).Resolve(dialogCtx, suggestionSource(r))
	go func() {
		<-res.Done()
		cancel()
	}()

	switch res.State() {
	case support.StateResolved:
		JSON(w, http.StatusOK, resolvedResponse(res.Identity()))
		return
	case support.StateCancelled:
		_, err := res.Wait(r.Context())
		h.ErrorFrom(w, r, err)
		return
	}

	d := h.dialogs.Get(key)
	if d == nil {
		// Settled between Resolve and here.
		h.writeSettled(w, r, res)
		return
	}
	prompt := d.Prompt()
	h.logger.Info("Identity dialog opened", diagnostics.Device(deviceID), "session_id", identity.SessionIDFromContext(r.Context()))
	JSON(w, http.StatusOK, identityResponse{Status: support.StatePending.String(), Prompt: &prompt})
}

func (h *SupportHandler) writeSettled(w http.ResponseWriter, r *http.Request, res *support.Resolution) {
	id, err := res.Wait(r.Context())
	if err != nil {
		JSON(w, http.StatusOK, identityResponse{Status: support.StateCancelled.String()})
		return
	}
	JSON(w, http.StatusOK, resolvedResponse(id))
}

// ConfirmIdentity submits the dialog's email and name.
func (h *SupportHandler) ConfirmIdentity(w http.ResponseWriter, r *http.Request) {
	var req confirmRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	d := h.dialogs.Get(dialogKey(r))
	if d == nil {
		Error(w, http.StatusNotFound, "no identity dialog pending")
		return
	}

	err := d.Submit(r.Context(), support.Submission{Email: req.Email, Name: req.Name})
	var verr *support.ValidationError
	switch {
	case errors.As(err, &verr):
		FieldError(w, verr)
		return
	case err != nil:
		// Client went away.
		return
	}

	stored, err := store.NewDevicePreferences(h.repo, identity.DeviceIDFromContext(r.Context())).SupportIdentity(r.Context())
	if err != nil {
		h.ErrorFrom(w, r, err)
		return
	}
	if stored.IsZero() {
		Error(w, http.StatusGone, "identity dialog closed")
		return
	}
	JSON(w, http.StatusOK, resolvedResponse(stored))
}

// CancelIdentity dismisses the pending dialog without storing anything.
func (h *SupportHandler) CancelIdentity(w http.ResponseWriter, r *http.Request) {
	d := h.dialogs.Get(dialogKey(r))
	if d == nil {
		Error(w, http.StatusNotFound, "no identity dialog pending")
		return
	}
	if err := d.Submit(r.Context(), support.Submission{Cancel: true}); err != nil {
		return
	}
	JSON(w, http.StatusOK, identityResponse{Status: support.StateCancelled.String()})
}

// ForgetIdentity deletes the stored identity so the next request asks again.
func (h *SupportHandler) ForgetIdentity(w http.ResponseWriter, r *http.Request) {
	deviceID := identity.DeviceIDFromContext(r.Context())
	if err := h.repo.DeleteSupportIdentity(r.Context(), deviceID); err != nil {
		h.ErrorFrom(w, r, err)
		return
	}
	h.logger.Info("Support identity forgotten", diagnostics.Device(deviceID))
	w.WriteHeader(http.StatusNoContent)
}

func (h *SupportHandler) storedIdentity(w http.ResponseWriter, r *http.Request) (domain.SupportIdentity, bool) {
	id, err := store.NewDevicePreferences(h.repo, identity.DeviceIDFromContext(r.Context())).SupportIdentity(r.Context())
	if err != nil {
		h.ErrorFrom(w, r, err)
		return domain.SupportIdentity{}, false
	}
	if id.IsZero() {
		Error(w, http.StatusConflict, "support identity required")
		return domain.SupportIdentity{}, false
	}
	return id, true
}

func (h *SupportHandler) requireHelpdesk(w http.ResponseWriter) bool {
	if h.helpdesk == nil || !h.helpdesk.Enabled() {
		Error(w, http.StatusServiceUnavailable, "help desk is not configured")
		return false
	}
	return true
}

// CreateTicket files a ticket for the device's confirmed identity.
func (h *SupportHandler) CreateTicket(w http.ResponseWriter, r *http.Request) {
	if !h.requireHelpdesk(w) {
		return
	}

	var req ticketRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	id, ok := h.storedIdentity(w, r)
	if !ok {
		return
	}

	ticketReq := helpdesk.TicketRequest{
		DeviceID:    identity.DeviceIDFromContext(r.Context()),
		Identity:    id,
		Sites:       req.Sites,
		Username:    strings.TrimSpace(req.Username),
		Description: req.Description,
	}
	if req.Network != nil {
		ticketReq.Network = diagnostics.StaticNetwork{
			NetworkType: req.Network.Type,
			CarrierName: req.Network.Carrier,
			CountryISO:  req.Network.CountryCode,
		}
	}

	ticket, err := h.helpdesk.CreateTicket(r.Context(), ticketReq)
	if err != nil {
		h.ErrorFrom(w, r, err)
		return
	}
	JSON(w, http.StatusCreated, ticket.Public())
}

// ListTickets returns this device's tickets, newest first.
func (h *SupportHandler) ListTickets(w http.ResponseWriter, r *http.Request) {
	tickets, err := h.repo.ListTickets(r.Context(), identity.DeviceIDFromContext(r.Context()))
	if err != nil {
		h.ErrorFrom(w, r, err)
		return
	}
	public := make([]*domain.Ticket, 0, len(tickets))
	for _, t := range tickets {
		public = append(public, t.Public())
	}
	JSON(w, http.StatusOK, map[string]interface{}{"tickets": public})
}

// HelpCenter returns the help-center articles for the confirmed identity.
func (h *SupportHandler) HelpCenter(w http.ResponseWriter, r *http.Request) {
	if !h.requireHelpdesk(w) {
		return
	}
	id, ok := h.storedIdentity(w, r)
	if !ok {
		return
	}
	req, err := h.helpdesk.HelpCenter(id)
	if err != nil {
		h.ErrorFrom(w, r, err)
		return
	}
	JSON(w, http.StatusOK, req)
}
