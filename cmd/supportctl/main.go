// Command supportctl resolves the local support identity and files
// help-desk tickets from a terminal.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/ashureev/shsh-support/internal/config"
	"github.com/ashureev/shsh-support/internal/diagnostics"
	"github.com/ashureev/shsh-support/internal/helpdesk"
	"github.com/ashureev/shsh-support/internal/logging"
	"github.com/ashureev/shsh-support/internal/store"
	"github.com/ashureev/shsh-support/internal/support"
	"github.com/ashureev/shsh-support/internal/tui"
)

const defaultDeviceID = "local"

// app carries what every subcommand needs once the root has loaded config.
type app struct {
	cfg      *config.Config
	repo     store.Repository
	logger   *slog.Logger
	logs     *diagnostics.DeviceLogs
	surface  support.Surface
	deviceID string
	out      io.Writer
}

func (a *app) resolver() *support.Resolver {
	return support.NewResolver(store.NewDevicePreferences(a.repo, a.deviceID), a.surface, a.logger)
}

func (a *app) helpdeskClient() (*helpdesk.Client, error) {
	c := a.cfg
	collector := &diagnostics.Collector{
		AppVersion: c.Log.AppVersion,
		DataDir:    filepath.Dir(c.DBPath),
		Network: diagnostics.StaticNetwork{
			NetworkType: c.Network.Type,
			CarrierName: c.Network.Carrier,
			CountryISO:  c.Network.CountryCode,
		},
		Logs: a.logs,
	}
	submitter := helpdesk.NewHTTPSubmitter(a.logger, c.Helpdesk.URL, c.Helpdesk.OAuthClientID, c.Helpdesk.Timeout)
	hd := helpdesk.NewClient(submitter, a.repo, collector, helpdesk.OutboxPolicy{
		Interval:    c.Outbox.Interval,
		MaxAttempts: c.Outbox.MaxAttempts,
		BaseBackoff: c.Outbox.BaseBackoff,
		BatchSize:   c.Outbox.BatchSize,
		Lease:       c.Outbox.Lease,
	}, a.logger)
	if err := hd.Setup(helpdesk.Settings{
		URL:           c.Helpdesk.URL,
		ApplicationID: c.Helpdesk.ApplicationID,
		OAuthClientID: c.Helpdesk.OAuthClientID,
		DeviceLocale:  c.Helpdesk.DeviceLocale,
		Fields:        c.Helpdesk.Fields,
	}); err != nil {
		return nil, fmt.Errorf("set up help desk: %w", err)
	}
	if !hd.Enabled() {
		return nil, helpdesk.ErrNotEnabled
	}
	return hd, nil
}

func newRootCmd(surface support.Surface, stderr io.Writer) *cobra.Command {
	a := &app{surface: surface}
	var (
		envFile string
		dbPath  string
	)

	root := &cobra.Command{
		Use:           "supportctl",
		Short:         "Manage the support identity and help-desk tickets",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := godotenv.Load(envFile); err != nil && cmd.Flags().Changed("env-file") {
				return fmt.Errorf("load env file: %w", err)
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if dbPath != "" {
				cfg.DBPath = dbPath
			}
			a.cfg = cfg
			a.out = cmd.OutOrStdout()
			a.logger, a.logs = logging.New(cfg.Log, stderr)

			repo, err := store.NewSQLite(cfg.DBPath)
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			a.repo = repo
			return nil
		},
		PersistentPostRunE: func(_ *cobra.Command, _ []string) error {
			if a.repo == nil {
				return nil
			}
			return a.repo.Close()
		},
	}

	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "environment file to load")
	root.PersistentFlags().StringVar(&dbPath, "db", "", "SQLite database path (default $DB_PATH)")
	root.PersistentFlags().StringVar(&a.deviceID, "device", defaultDeviceID, "device whose preferences to use")

	root.AddCommand(
		newIdentityCmd(a),
		newTicketCmd(a),
		newTicketsCmd(a),
		newHelpCenterCmd(a),
	)
	return root
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	surface := tui.Surface{In: os.Stdin, Out: os.Stderr}
	if err := newRootCmd(surface, os.Stderr).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "supportctl:", err)
		os.Exit(1)
	}
}
