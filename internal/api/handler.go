// Package api provides HTTP handlers for the support API.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/containerd/errdefs"

	"github.com/ashureev/shsh-support/internal/diagnostics"
	"github.com/ashureev/shsh-support/internal/helpdesk"
	"github.com/ashureev/shsh-support/internal/identity"
	"github.com/ashureev/shsh-support/internal/store"
	"github.com/ashureev/shsh-support/internal/support"
)

const defaultDialogTTL = 15 * time.Minute

// Handler provides common handler utilities.
type Handler struct {
	repo      store.Repository
	helpdesk  *helpdesk.Client
	dialogs   *support.DialogRegistry
	sockets   *SocketRegistry
	dialogTTL time.Duration
	logger    *slog.Logger
}

// NewHandler creates a new Handler with common dependencies.
func NewHandler(repo store.Repository, hd *helpdesk.Client, dialogs *support.DialogRegistry, dialogTTL time.Duration, logger *slog.Logger) *Handler {
	if dialogs == nil {
		dialogs = support.NewDialogRegistry()
	}
	if dialogTTL <= 0 {
		dialogTTL = defaultDialogTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		repo:      repo,
		helpdesk:  hd,
		dialogs:   dialogs,
		sockets:   NewSocketRegistry(),
		dialogTTL: dialogTTL,
		logger:    logger,
	}
}

// resolverFor builds a resolver scoped to the request's device whose
// dialogs are hosted by surface.
func (h *Handler) resolverFor(deviceID string, surface support.Surface) *support.Resolver {
	return support.NewResolver(store.NewDevicePreferences(h.repo, deviceID), surface, h.logger)
}

func dialogKey(r *http.Request) string {
	ctx := r.Context()
	return identity.DeviceIDFromContext(ctx) + ":" + identity.SessionIDFromContext(ctx)
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// FieldError writes a 422 response naming the input that needs fixing.
func FieldError(w http.ResponseWriter, verr *support.ValidationError) {
	JSON(w, http.StatusUnprocessableEntity, map[string]string{
		"error": verr.Message,
		"field": string(verr.Field),
	})
}

// StatusFromError maps an error category to an HTTP status.
func StatusFromError(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errdefs.IsNotFound(err):
		return http.StatusNotFound
	case errdefs.IsInvalidArgument(err):
		return http.StatusBadRequest
	case errdefs.IsAlreadyExists(err), errdefs.IsConflict(err), errdefs.IsFailedPrecondition(err):
		return http.StatusConflict
	case errdefs.IsUnauthorized(err):
		return http.StatusUnauthorized
	case errdefs.IsPermissionDenied(err):
		return http.StatusForbidden
	case errdefs.IsUnavailable(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// ErrorFrom writes err with the status its category maps to. Internal
// errors are logged and not echoed to the client.
func (h *Handler) ErrorFrom(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusFromError(err)
	if status == http.StatusInternalServerError {
		h.logger.Error("Request failed", "error", err, "path", r.URL.Path, diagnostics.Device(identity.DeviceIDFromContext(r.Context())))
		Error(w, status, "internal error")
		return
	}
	Error(w, status, err.Error())
}
