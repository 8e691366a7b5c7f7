// Package identity provides anonymous per-device identity primitives.
package identity

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/ashureev/shsh-support/internal/diagnostics"
	"github.com/ashureev/shsh-support/internal/domain"
)

const (
	DeviceCookieName      = "support_device_id"
	DeviceHeaderName      = "X-Support-Device-ID"
	SessionHeaderName     = "X-Support-Session-ID"
	DefaultSessionIDValue = "default"
	deviceCookieMaxAge    = 365 * 24 * time.Hour
	lastSeenGranularity   = time.Minute
	maxLabelLength        = 120
)

type contextKey int

const (
	deviceIDKey contextKey = iota
	sessionIDKey
)

var (
	deviceIDPattern  = regexp.MustCompile(`^dev_[a-f0-9]{32}$`)
	sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,128}$`)
)

// DeviceStore is the slice of the repository the middleware needs.
type DeviceStore interface {
	GetDevice(ctx context.Context, deviceID string) (*domain.Device, error)
	UpsertDevice(ctx context.Context, device *domain.Device) error
	UpdateLastSeen(ctx context.Context, deviceID string, lastSeen time.Time) error
}

// DeviceIDFromContext extracts the device ID from the request context.
func DeviceIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(deviceIDKey).(string); ok {
		return v
	}
	return ""
}

// SessionIDFromContext extracts the tab session ID from the request context.
func SessionIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(sessionIDKey).(string); ok {
		return v
	}
	return DefaultSessionIDValue
}

// WithDevice returns ctx carrying deviceID and sessionID.
func WithDevice(ctx context.Context, deviceID, sessionID string) context.Context {
	ctx = context.WithValue(ctx, deviceIDKey, deviceID)
	return context.WithValue(ctx, sessionIDKey, sanitizeSessionID(sessionID))
}

// GenerateDeviceID returns a new random device ID.
func GenerateDeviceID() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate device id: %w", err)
	}
	return "dev_" + hex.EncodeToString(buf), nil
}

// IsValidDeviceID reports whether id has the shape GenerateDeviceID produces.
func IsValidDeviceID(id string) bool {
	return deviceIDPattern.MatchString(id)
}

func sanitizeSessionID(id string) string {
	id = strings.TrimSpace(id)
	if id == "" || !sessionIDPattern.MatchString(id) {
		return DefaultSessionIDValue
	}
	return id
}

func deviceLabel(r *http.Request) string {
	label := strings.TrimSpace(r.UserAgent())
	if len(label) > maxLabelLength {
		label = label[:maxLabelLength]
	}
	return label
}

// EnsureDevice creates the device row on first sight and refreshes
// last_seen_at at most once per minute afterwards.
func EnsureDevice(ctx context.Context, repo DeviceStore, deviceID, label string) error {
	device, err := repo.GetDevice(ctx, deviceID)
	if err != nil {
		return fmt.Errorf("get device: %w", err)
	}

	now := time.Now()
	if device == nil {
		return repo.UpsertDevice(ctx, &domain.Device{
			DeviceID:   deviceID,
			Label:      label,
			LastSeenAt: now,
			CreatedAt:  now,
			UpdatedAt:  now,
		})
	}
	if device.IdleFor(now) < lastSeenGranularity {
		return nil
	}
	return repo.UpdateLastSeen(ctx, deviceID, now)
}

func setDeviceCookie(w http.ResponseWriter, id string, isDev bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     DeviceCookieName,
		Value:    id,
		Path:     "/",
		MaxAge:   int(deviceCookieMaxAge.Seconds()),
		Expires:  time.Now().Add(deviceCookieMaxAge),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   !isDev,
	})
}

// getOrCreateDeviceID prefers the cookie, then the header used by
// non-browser clients, and otherwise mints a new ID.
func getOrCreateDeviceID(w http.ResponseWriter, r *http.Request, isDev bool) (string, error) {
	if c, err := r.Cookie(DeviceCookieName); err == nil && IsValidDeviceID(c.Value) {
		setDeviceCookie(w, c.Value, isDev)
		return c.Value, nil
	}
	if id := strings.TrimSpace(r.Header.Get(DeviceHeaderName)); IsValidDeviceID(id) {
		return id, nil
	}

	id, err := GenerateDeviceID()
	if err != nil {
		return "", err
	}
	setDeviceCookie(w, id, isDev)
	w.Header().Set(DeviceHeaderName, id)
	return id, nil
}

func sessionIDFromRequest(r *http.Request) string {
	sid := r.Header.Get(SessionHeaderName)
	if sid == "" {
		sid = r.URL.Query().Get("session_id")
	}
	return sanitizeSessionID(sid)
}

// Middleware injects anonymous per-device identity and per-request session ID.
func Middleware(repo DeviceStore, isDev bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			deviceID, err := getOrCreateDeviceID(w, r, isDev)
			if err != nil {
				slog.Error("Failed to establish device identity", "error", err, "ip", IPFromRequest(r))
				http.Error(w, `{"error":"failed to establish device identity"}`, http.StatusInternalServerError)
				return
			}

			if err := EnsureDevice(r.Context(), repo, deviceID, deviceLabel(r)); err != nil {
				slog.Error("Failed to initialize device", "error", err, diagnostics.Device(deviceID))
				http.Error(w, `{"error":"failed to initialize device"}`, http.StatusInternalServerError)
				return
			}

			ctx := WithDevice(r.Context(), deviceID, sessionIDFromRequest(r))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// IPFromRequest returns a normalized remote IP for optional request tracing.
func IPFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
