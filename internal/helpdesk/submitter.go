package helpdesk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/containerd/errdefs"

	"github.com/ashureev/shsh-support/internal/domain"
)

const requestsPath = "/api/v2/requests.json"

// HTTPSubmitter files tickets as anonymous requests through the help-desk
// REST API.
type HTTPSubmitter struct {
	baseURL  string
	clientID string
	http     *http.Client
	logger   *slog.Logger
}

type requestEnvelope struct {
	Request ticketRequest `json:"request"`
}

type ticketRequest struct {
	Requester    requester     `json:"requester"`
	Subject      string        `json:"subject"`
	Comment      comment       `json:"comment"`
	TicketFormID int64         `json:"ticket_form_id,omitempty"`
	CustomFields []customField `json:"custom_fields,omitempty"`
	Tags         []string      `json:"tags,omitempty"`
}

type requester struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email"`
}

type comment struct {
	Body string `json:"body"`
}

type customField struct {
	ID    int64  `json:"id"`
	Value string `json:"value"`
}

type createdResponse struct {
	Request struct {
		ID int64 `json:"id"`
	} `json:"request"`
}

type errorResponse struct {
	Error       string `json:"error"`
	Description string `json:"description"`
}

// NewHTTPSubmitter builds a submitter for the help desk at baseURL.
func NewHTTPSubmitter(logger *slog.Logger, baseURL, clientID string, timeout time.Duration) *HTTPSubmitter {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &HTTPSubmitter{
		baseURL:  strings.TrimRight(baseURL, "/"),
		clientID: clientID,
		logger:   logger.With(slog.String("component", "helpdesk_submitter")),
		http:     &http.Client{Timeout: timeout},
	}
}

// Submit posts the ticket and returns the help desk's request id.
func (s *HTTPSubmitter) Submit(ctx context.Context, ticket *domain.Ticket) (string, error) {
	body := ticket.Description
	if strings.TrimSpace(body) == "" {
		body = ticket.Subject
	}

	fields := make([]customField, 0, len(ticket.CustomFields))
	for _, f := range ticket.CustomFields {
		fields = append(fields, customField{ID: f.ID, Value: f.Value})
	}

	payload, err := json.Marshal(requestEnvelope{Request: ticketRequest{
		Requester:    requester{Name: ticket.Requester.Name, Email: ticket.Requester.Email},
		Subject:      ticket.Subject,
		Comment:      comment{Body: body},
		TicketFormID: ticket.FormID,
		CustomFields: fields,
		Tags:         ticket.Tags,
	}})
	if err != nil {
		return "", fmt.Errorf("encode ticket: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+requestsPath, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if s.clientID != "" {
		req.Header.Set("X-Client-Id", s.clientID)
	}

	resp, err := s.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("submit ticket: %w", ctx.Err())
		}
		return "", fmt.Errorf("%w: submit ticket: %w", errdefs.ErrUnavailable, err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			s.logger.Warn("Failed to close response body", "error", err)
		}
	}()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", statusError(resp.StatusCode, raw)
	}

	var created createdResponse
	if err := json.Unmarshal(raw, &created); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if created.Request.ID == 0 {
		return "", fmt.Errorf("decode response: missing request id")
	}
	return strconv.FormatInt(created.Request.ID, 10), nil
}

func statusError(status int, body []byte) error {
	msg := strings.TrimSpace(string(body))
	var parsed errorResponse
	if json.Unmarshal(body, &parsed) == nil && parsed.Error != "" {
		msg = parsed.Error
		if parsed.Description != "" {
			msg += ": " + parsed.Description
		}
	}

	var category error
	switch {
	case status == http.StatusTooManyRequests || status >= 500:
		category = errdefs.ErrUnavailable
	case status == http.StatusUnauthorized:
		category = errdefs.ErrUnauthenticated
	case status == http.StatusForbidden:
		category = errdefs.ErrPermissionDenied
	case status == http.StatusNotFound:
		category = errdefs.ErrNotFound
	default:
		category = errdefs.ErrInvalidArgument
	}
	return fmt.Errorf("%w: help desk returned %d: %s", category, status, msg)
}
