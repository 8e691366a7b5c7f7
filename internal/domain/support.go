package domain

import (
	"fmt"
	"strings"
)

// SupportIdentity is the email and display name attached to a support
// interaction. Email is validated before it is ever persisted; Name may be empty.
type SupportIdentity struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}

// IsZero reports whether no email has been set.
func (s SupportIdentity) IsZero() bool {
	return s.Email == ""
}

// Account is the authenticated account a user is signed into, if any.
type Account struct {
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
}

// Site is a site the user has access to. Only the fields needed for
// identity suggestions and ticket diagnostics are carried.
type Site struct {
	Name               string `json:"name"`
	URL                string `json:"url"`
	Email              string `json:"email"`
	Username           string `json:"username"`
	IsWPCom            bool   `json:"is_wpcom"`
	IsJetpackConnected bool   `json:"is_jetpack_connected"`
	PlanShortName      string `json:"plan_short_name,omitempty"`
}

// LogInformation renders the site as a single diagnostic line for a ticket.
func (s Site) LogInformation(username string) string {
	siteType := "self-hosted"
	switch {
	case s.IsWPCom:
		siteType = "WordPress.com"
	case s.IsJetpackConnected:
		siteType = "Jetpack"
	}
	plan := s.PlanShortName
	if plan == "" {
		plan = "none"
	}
	if strings.TrimSpace(username) == "" {
		username = s.Username
	}
	return fmt.Sprintf("<Blog Name: %s> <URL: %s> <Type: %s> <Plan: %s> <Username: %s>",
		s.Name, s.URL, siteType, plan, username)
}

// SuggestionSource carries optional read-only context used to pre-fill the
// identity dialog. Either field may be nil.
type SuggestionSource struct {
	Account *Account `json:"account,omitempty"`
	Site    *Site    `json:"site,omitempty"`
}
