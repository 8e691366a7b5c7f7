// Package support resolves the email and name attached to support requests.
package support

import (
	"regexp"
	"strings"

	"github.com/ashureev/shsh-support/internal/domain"
)

// Field names an input on the identity dialog.
type Field string

const (
	FieldEmail Field = "email"
	FieldName  Field = "name"
)

// Messages shown on the identity dialog.
const (
	MessageEnterEmailAndName = "To continue please enter your email address and name"
	MessageInvalidEmail      = "Please enter a valid email address"
	MessageSaveFailed        = "Your details could not be saved, please try again"
)

// Same shape as the mobile platform's email address pattern.
var emailPattern = regexp.MustCompile(
	`^[a-zA-Z0-9+._%\-]{1,256}@[a-zA-Z0-9][a-zA-Z0-9\-]{0,64}(\.[a-zA-Z0-9][a-zA-Z0-9\-]{0,25})+$`,
)

// ValidationError reports a user-correctable problem with a single field.
type ValidationError struct {
	Field   Field
	Message string
}

func (e *ValidationError) Error() string {
	return string(e.Field) + ": " + e.Message
}

// ValidEmail reports whether s is a syntactically valid email address.
func ValidEmail(s string) bool {
	return emailPattern.MatchString(s)
}

// NormalizeIdentity trims surrounding whitespace from both fields.
func NormalizeIdentity(id domain.SupportIdentity) domain.SupportIdentity {
	return domain.SupportIdentity{
		Email: strings.TrimSpace(id.Email),
		Name:  strings.TrimSpace(id.Name),
	}
}

// ValidateIdentity returns a *ValidationError when id cannot be persisted.
func ValidateIdentity(id domain.SupportIdentity) error {
	if !ValidEmail(id.Email) {
		return &ValidationError{Field: FieldEmail, Message: MessageInvalidEmail}
	}
	return nil
}
