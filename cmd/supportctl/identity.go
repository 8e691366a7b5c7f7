package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ashureev/shsh-support/internal/domain"
	"github.com/ashureev/shsh-support/internal/support"
)

// sourceFlags are the optional suggestion inputs shared by commands that
// may open the identity dialog.
type sourceFlags struct {
	accountEmail string
	accountName  string
	siteEmail    string
	siteUsername string
}

func (f *sourceFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.accountEmail, "account-email", "", "account email to suggest")
	cmd.Flags().StringVar(&f.accountName, "account-name", "", "account display name to suggest")
	cmd.Flags().StringVar(&f.siteEmail, "site-email", "", "site email to suggest")
	cmd.Flags().StringVar(&f.siteUsername, "site-username", "", "site username to suggest")
}

func (f *sourceFlags) source() domain.SuggestionSource {
	var src domain.SuggestionSource
	if f.accountEmail != "" || f.accountName != "" {
		src.Account = &domain.Account{Email: f.accountEmail, DisplayName: f.accountName}
	}
	if f.siteEmail != "" || f.siteUsername != "" {
		src.Site = &domain.Site{Email: f.siteEmail, Username: f.siteUsername}
	}
	return src
}

// resolveIdentity returns the stored identity or asks for one.
func resolveIdentity(cmd *cobra.Command, a *app, flags *sourceFlags) (domain.SupportIdentity, error) {
	id, err := a.resolver().Resolve(cmd.Context(), flags.source()).Wait(cmd.Context())
	if errors.Is(err, support.ErrCancelled) {
		return domain.SupportIdentity{}, errors.New("identity dialog cancelled")
	}
	return id, err
}

func newIdentityCmd(a *app) *cobra.Command {
	flags := &sourceFlags{}
	cmd := &cobra.Command{
		Use:   "identity",
		Short: "Show the support identity, asking for one if none is stored",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			id, err := resolveIdentity(cmd, a, flags)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Email: %s\nName:  %s\n", id.Email, id.Name)
			return nil
		},
	}
	flags.register(cmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "forget",
		Short: "Forget the stored support identity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.repo.DeleteSupportIdentity(cmd.Context(), a.deviceID); err != nil {
				return fmt.Errorf("forget identity: %w", err)
			}
			fmt.Fprintln(a.out, "Support identity forgotten")
			return nil
		},
	})
	return cmd
}
