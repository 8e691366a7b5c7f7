package support

import (
	"errors"
	"testing"

	"github.com/ashureev/shsh-support/internal/domain"
)

func TestValidEmail(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"a@b.com", true},
		{"s@site.com", true},
		{"first.last+tag@mail.example.co.uk", true},
		{"under_score%x@host-name.io", true},
		{"bad-email", false},
		{"", false},
		{"@example.com", false},
		{"user@", false},
		{"user@localhost", false},
		{"user@-host.com", false},
		{"user name@example.com", false},
		{" a@b.com", false},
		{"a@b.com\n", false},
	}

	for _, tt := range tests {
		if got := ValidEmail(tt.input); got != tt.want {
			t.Errorf("ValidEmail(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestValidateIdentity(t *testing.T) {
	if err := ValidateIdentity(domain.SupportIdentity{Email: "a@b.com"}); err != nil {
		t.Fatalf("expected valid identity with empty name, got %v", err)
	}

	err := ValidateIdentity(domain.SupportIdentity{Email: "nope", Name: "Ann"})
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected *ValidationError, got %T", err)
	}
	if verr.Field != FieldEmail {
		t.Errorf("expected field %q, got %q", FieldEmail, verr.Field)
	}
	if verr.Message != MessageInvalidEmail {
		t.Errorf("unexpected message %q", verr.Message)
	}
}

func TestNormalizeIdentity(t *testing.T) {
	got := NormalizeIdentity(domain.SupportIdentity{Email: "  a@b.com\t", Name: " Ann "})
	if got.Email != "a@b.com" || got.Name != "Ann" {
		t.Errorf("unexpected normalized identity %+v", got)
	}
}
