package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/go-chi/chi/v5"

	"github.com/ashureev/shsh-support/internal/diagnostics"
	"github.com/ashureev/shsh-support/internal/identity"
	"github.com/ashureev/shsh-support/internal/support"
)

const (
	msgPrompt     = "prompt"
	msgConfirm    = "confirm"
	msgCancel     = "cancel"
	msgFieldError = "field_error"
	msgResolved   = "resolved"
	msgCancelled  = "cancelled"
	msgPing       = "ping"
	msgPong       = "pong"
	msgError      = "error"

	socketWriteTimeout = 5 * time.Second
)

// dialogMessage is the envelope for both directions of the dialog socket.
type dialogMessage struct {
	Type    string          `json:"type"`
	Prompt  *support.Prompt `json:"prompt,omitempty"`
	Email   string          `json:"email,omitempty"`
	Name    string          `json:"name,omitempty"`
	Field   string          `json:"field,omitempty"`
	Message string          `json:"message,omitempty"`
}

// DialogSocketHandler hosts the identity dialog over a WebSocket.
type DialogSocketHandler struct {
	*Handler
	allowedOrigin string
	isDev         bool
}

// NewDialogSocketHandler creates a WebSocket dialog handler.
func NewDialogSocketHandler(base *Handler, allowedOrigin string, isDev bool) *DialogSocketHandler {
	return &DialogSocketHandler{Handler: base, allowedOrigin: allowedOrigin, isDev: isDev}
}

// RegisterRoutes registers the socket route.
func (h *DialogSocketHandler) RegisterRoutes(r chi.Router) {
	r.Get("/ws/support/identity", h.ServeHTTP)
}

// socketDialog is a Dialog backed by one WebSocket connection.
type socketDialog struct {
	ctx         context.Context
	conn        *websocket.Conn
	logger      *slog.Logger
	submissions chan support.Submission
	dismissOnce sync.Once
	dismissed   chan struct{}
}

func newSocketDialog(ctx context.Context, conn *websocket.Conn, logger *slog.Logger) *socketDialog {
	return &socketDialog{
		ctx:         ctx,
		conn:        conn,
		logger:      logger,
		submissions: make(chan support.Submission),
		dismissed:   make(chan struct{}),
	}
}

func (d *socketDialog) Submissions() <-chan support.Submission { return d.submissions }

func (d *socketDialog) Dismissed() <-chan struct{} { return d.dismissed }

func (d *socketDialog) FieldError(field support.Field, message string) {
	d.notify(dialogMessage{Type: msgFieldError, Field: string(field), Message: message})
}

// Close is a no-op; the handler closes the socket after the final message.
func (d *socketDialog) Close() {}

func (d *socketDialog) send(msg dialogMessage) error {
	ctx, cancel := context.WithTimeout(d.ctx, socketWriteTimeout)
	defer cancel()
	return wsjson.Write(ctx, d.conn, msg)
}

// notify writes msg and reports whether it was delivered. A socket that
// cannot be written to is dismissed.
func (d *socketDialog) notify(msg dialogMessage) bool {
	if err := d.send(msg); err != nil {
		d.logger.Debug("Failed to write dialog message", "type", msg.Type, "error", err)
		d.dismiss()
		return false
	}
	return true
}

func (d *socketDialog) dismiss() {
	d.dismissOnce.Do(func() { close(d.dismissed) })
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *DialogSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	deviceID := identity.DeviceIDFromContext(r.Context())
	sessionID := identity.SessionIDFromContext(r.Context())

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.logger.Error("Failed to accept WebSocket", "error", err, diagnostics.Device(deviceID))
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "dialog ended"); closeErr != nil {
			h.logger.Debug("Failed to close websocket", "error", closeErr, diagnostics.Device(deviceID))
		}
	}()

	h.sockets.Register(deviceID, sessionID, ws)
	defer h.sockets.Unregister(deviceID, sessionID, ws)

	ctx, cancel := context.WithTimeout(r.Context(), h.dialogTTL)
	defer cancel()

	dialog := newSocketDialog(ctx, ws, h.logger.With(diagnostics.Device(deviceID), "session_id", sessionID))
	surface := support.SurfaceFunc(func(_ context.Context, prompt support.Prompt) (support.Dialog, error) {
		if err := dialog.send(dialogMessage{Type: msgPrompt, Prompt: &prompt}); err != nil {
			return nil, fmt.Errorf("send prompt: %w", err)
		}
		return dialog, nil
	})

	res := h.resolverFor(deviceID, surface).Resolve(ctx, suggestionSource(r))
	if res.State() == support.StatePending {
		go h.readLoop(ctx, ws, dialog, deviceID)
	}

	<-res.Done()
	id, err := res.Wait(ctx)
	if err != nil {
		h.logger.Info("Identity dialog cancelled", diagnostics.Device(deviceID), "session_id", sessionID, "reason", err)
		dialog.notify(dialogMessage{Type: msgCancelled})
		return
	}
	dialog.notify(dialogMessage{Type: msgResolved, Email: id.Email, Name: id.Name})
}

func (h *DialogSocketHandler) readLoop(ctx context.Context, ws *websocket.Conn, dialog *socketDialog, deviceID string) {
	defer dialog.dismiss()
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				h.logger.Debug("Dialog socket closed by client", diagnostics.Device(deviceID))
			} else if ctx.Err() == nil {
				h.logger.Warn("Dialog socket read error", "error", err, diagnostics.Device(deviceID))
			}
			return
		}

		var msg dialogMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			if !dialog.notify(dialogMessage{Type: msgError, Message: "invalid message"}) {
				return
			}
			continue
		}

		var sub support.Submission
		switch msg.Type {
		case msgConfirm:
			sub = support.Submission{Email: msg.Email, Name: msg.Name}
		case msgCancel:
			sub = support.Submission{Cancel: true}
		case msgPing:
			if !dialog.notify(dialogMessage{Type: msgPong}) {
				return
			}
			continue
		default:
			if !dialog.notify(dialogMessage{Type: msgError, Message: "unknown message type"}) {
				return
			}
			continue
		}

		select {
		case dialog.submissions <- sub:
		case <-ctx.Done():
			return
		}
	}
}

func (h *DialogSocketHandler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "*" {
		return true
	}
	if origin == h.allowedOrigin {
		return true
	}
	h.logger.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}
