package support

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ashureev/shsh-support/internal/domain"
)

// PreferenceStore persists the last confirmed support identity.
type PreferenceStore interface {
	// SupportIdentity returns the stored identity, or the zero value when
	// none has been confirmed yet.
	SupportIdentity(ctx context.Context) (domain.SupportIdentity, error)

	// SetSupportIdentity replaces the stored identity.
	SetSupportIdentity(ctx context.Context, id domain.SupportIdentity) error
}

// Resolver decides which identity to use for a support interaction,
// asking the user through a Surface when none is stored.
type Resolver struct {
	prefs   PreferenceStore
	surface Surface
	logger  *slog.Logger
}

// NewResolver creates a Resolver. A nil logger uses slog.Default().
func NewResolver(prefs PreferenceStore, surface Surface, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		prefs:   prefs,
		surface: surface,
		logger:  logger,
	}
}

// Resolve starts resolving an identity. A stored identity resolves
// immediately without opening a dialog. Otherwise a dialog pre-filled from
// src is opened and the returned Resolution stays pending until the user
// confirms a valid email or dismisses the dialog. Cancelling ctx cancels a
// pending resolution.
func (r *Resolver) Resolve(ctx context.Context, src domain.SuggestionSource) *Resolution {
	res := newResolution()

	stored, err := r.prefs.SupportIdentity(ctx)
	if err != nil {
		r.logger.Warn("Failed to read stored support identity, asking user", "error", err)
	}
	if err == nil && stored.Email != "" {
		res.resolve(stored)
		return res
	}

	suggestion := Suggest(src)
	dialog, err := r.surface.Open(ctx, Prompt{
		Message:     MessageEnterEmailAndName,
		Email:       suggestion.Email,
		Name:        suggestion.Name,
		SelectEmail: true,
	})
	if err != nil {
		r.logger.Error("Failed to open identity dialog", "error", err)
		res.cancel(fmt.Errorf("open identity dialog: %w", err))
		return res
	}

	go r.run(ctx, dialog, res)
	return res
}

// ResolveFunc is Resolve with a callback. onResolved runs exactly once if
// the identity resolves and never if the dialog is cancelled.
func (r *Resolver) ResolveFunc(ctx context.Context, src domain.SuggestionSource, onResolved func(email, name string)) *Resolution {
	res := r.Resolve(ctx, src)
	res.OnResolved(func(id domain.SupportIdentity) {
		onResolved(id.Email, id.Name)
	})
	return res
}

func (r *Resolver) run(ctx context.Context, dialog Dialog, res *Resolution) {
	defer dialog.Close()

	for {
		select {
		case <-ctx.Done():
			res.cancel(ctx.Err())
			return
		case <-dialog.Dismissed():
			res.cancel(nil)
			return
		case sub := <-dialog.Submissions():
			if sub.Cancel {
				res.cancel(nil)
				return
			}
			if r.confirm(ctx, dialog, sub, res) {
				return
			}
		}
	}
}

// confirm validates and persists one submission. It reports whether the
// resolution settled.
func (r *Resolver) confirm(ctx context.Context, dialog Dialog, sub Submission, res *Resolution) bool {
	id := NormalizeIdentity(domain.SupportIdentity{Email: sub.Email, Name: sub.Name})

	if err := ValidateIdentity(id); err != nil {
		var verr *ValidationError
		if errors.As(err, &verr) {
			dialog.FieldError(verr.Field, verr.Message)
			sub.reject(verr)
		}
		r.logger.Debug("Identity dialog rejected submission", "error", err)
		return false
	}

	if err := r.prefs.SetSupportIdentity(ctx, id); err != nil {
		r.logger.Error("Failed to persist support identity", "error", err)
		dialog.FieldError(FieldEmail, MessageSaveFailed)
		sub.reject(&ValidationError{Field: FieldEmail, Message: MessageSaveFailed})
		return false
	}

	r.logger.Info("Support identity confirmed", "has_name", id.Name != "")
	res.resolve(id)
	return true
}
