package support

import "github.com/ashureev/shsh-support/internal/domain"

// Suggestion holds the values pre-filled into the identity dialog.
type Suggestion struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}

// Suggest derives dialog defaults. Account values win when non-empty,
// otherwise the site's email and username are used.
func Suggest(src domain.SuggestionSource) Suggestion {
	var s Suggestion
	if src.Account != nil && src.Account.Email != "" {
		s.Email = src.Account.Email
	} else if src.Site != nil {
		s.Email = src.Site.Email
	}
	if src.Account != nil && src.Account.DisplayName != "" {
		s.Name = src.Account.DisplayName
	} else if src.Site != nil {
		s.Name = src.Site.Username
	}
	return s
}
