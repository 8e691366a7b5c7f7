package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/dustin/go-humanize/english"
	"github.com/spf13/cobra"

	"github.com/ashureev/shsh-support/internal/diagnostics"
	"github.com/ashureev/shsh-support/internal/domain"
	"github.com/ashureev/shsh-support/internal/helpdesk"
)

func loadSites(path string) ([]domain.Site, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read sites file: %w", err)
	}
	var sites []domain.Site
	if err := json.Unmarshal(data, &sites); err != nil {
		return nil, fmt.Errorf("parse sites file: %w", err)
	}
	return sites, nil
}

func newTicketCmd(a *app) *cobra.Command {
	flags := &sourceFlags{}
	var (
		description string
		sitesFile   string
		username    string
		networkType string
		carrier     string
		country     string
	)

	cmd := &cobra.Command{
		Use:   "ticket",
		Short: "File a support ticket with device diagnostics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			hd, err := a.helpdeskClient()
			if err != nil {
				return err
			}
			sites, err := loadSites(sitesFile)
			if err != nil {
				return err
			}
			id, err := resolveIdentity(cmd, a, flags)
			if err != nil {
				return err
			}

			req := helpdesk.TicketRequest{
				DeviceID:    a.deviceID,
				Identity:    id,
				Sites:       sites,
				Username:    username,
				Description: description,
			}
			if networkType != "" || carrier != "" || country != "" {
				req.Network = diagnostics.StaticNetwork{NetworkType: networkType, CarrierName: carrier, CountryISO: country}
			}

			ticket, err := hd.CreateTicket(cmd.Context(), req)
			if err != nil {
				return fmt.Errorf("create ticket: %w", err)
			}
			fmt.Fprintf(a.out, "Ticket %s %s", ticket.ID, ticket.Status)
			if ticket.ExternalID != "" {
				fmt.Fprintf(a.out, " (help desk #%s)", ticket.ExternalID)
			}
			fmt.Fprintln(a.out)
			if ticket.LastError != "" {
				fmt.Fprintf(a.out, "Last error: %s\n", ticket.LastError)
			}
			if ticket.Status == domain.TicketStatusPending {
				fmt.Fprintf(a.out, "Retry after %s with: supportctl tickets flush\n",
					humanize.Time(ticket.NextAttemptAt))
			}
			return nil
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVarP(&description, "description", "m", "", "what went wrong")
	cmd.Flags().StringVar(&sitesFile, "sites-file", "", "JSON file with the user's sites")
	cmd.Flags().StringVar(&username, "username", "", "username shown in the blog list")
	cmd.Flags().StringVar(&networkType, "network-type", "", "network type override (wifi, mobile)")
	cmd.Flags().StringVar(&carrier, "carrier", "", "carrier name override")
	cmd.Flags().StringVar(&country, "country-code", "", "carrier country code override")
	return cmd
}

func newTicketsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tickets",
		Short: "List tickets filed from this device",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			tickets, err := a.repo.ListTickets(cmd.Context(), a.deviceID)
			if err != nil {
				return fmt.Errorf("list tickets: %w", err)
			}
			if len(tickets) == 0 {
				fmt.Fprintln(a.out, "No tickets")
				return nil
			}

			tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tSTATUS\tATTEMPTS\tCREATED\tTAGS")
			for _, t := range tickets {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n",
					t.ID, t.Status, t.Attempts, humanize.RelTime(t.CreatedAt, time.Now(), "ago", "from now"), strings.Join(t.Tags, ","))
			}
			return tw.Flush()
		},
	}
	cmd.AddCommand(newTicketsFlushCmd(a))
	return cmd
}

func newTicketsFlushCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "flush",
		Short: "Retry delivery of pending tickets that are due",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			hd, err := a.helpdeskClient()
			if err != nil {
				return err
			}
			tried := hd.FlushOutbox(cmd.Context(), a.repo)
			fmt.Fprintf(a.out, "Retried %d %s\n", tried, english.PluralWord(tried, "ticket", ""))
			return nil
		},
	}
}

func newHelpCenterCmd(a *app) *cobra.Command {
	flags := &sourceFlags{}
	cmd := &cobra.Command{
		Use:   "help-center",
		Short: "Show which help-center articles apply to the support identity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			hd, err := a.helpdeskClient()
			if err != nil {
				return err
			}
			id, err := resolveIdentity(cmd, a, flags)
			if err != nil {
				return err
			}
			req, err := hd.HelpCenter(id)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(a.out)
			enc.SetIndent("", "  ")
			return enc.Encode(req)
		},
	}
	flags.register(cmd)
	return cmd
}
