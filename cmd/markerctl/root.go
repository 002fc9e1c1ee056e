package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/couchcryptid/map-marker-service/internal/app"
	"github.com/couchcryptid/map-marker-service/internal/config"
	"github.com/couchcryptid/map-marker-service/internal/domain"
	"github.com/couchcryptid/map-marker-service/internal/observability"
	"github.com/couchcryptid/map-marker-service/internal/service"
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "markerctl",
		Short: "Inspect and maintain stored map marker locations",
		Long: `
markerctl works against the same backends as markerd and is configured by the
same environment variables (DATABASE_URL, GEOCODE_*, KAFKA_*).
`,
		SilenceUsage: true,
	}
	root.AddCommand(newGeocodeCmd(), newResolveCmd(), newMigrateStatusCmd())
	return root
}

// setup loads configuration, applies overrides and wires the backends. Logs
// go to stderr so command output on stdout stays machine readable.
func setup(ctx context.Context, cmd *cobra.Command, overrides ...func(*config.Config)) (*app.App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	for _, override := range overrides {
		override(cfg)
	}
	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: slog.LevelWarn}))
	return app.Build(ctx, cfg, logger, observability.NewMetricsForTesting())
}

func newGeocodeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "geocode <address>",
		Short: "Look up an address without storing anything",
		Long: `Runs a forward lookup for the address through the configured geocoder and
prints the resulting record:

$ markerctl geocode "1600 Amphitheatre Parkway"
1600 Amphitheatre Parkway (37.4224, -122.0841, 9) [OK]
`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(cmd.Context(), cmd, func(cfg *config.Config) {
				cfg.DatabaseURL = ""
				cfg.KafkaBrokers = nil
			})
			if err != nil {
				return err
			}
			defer a.Close()

			const scratch = "markerctl-geocode"
			if _, err := a.Service.Create(cmd.Context(), scratch); err != nil {
				return err
			}
			if _, err := a.Service.Update(cmd.Context(), scratch, service.Edit{
				Values: map[domain.Field]any{domain.FieldAddress: args[0]},
			}); err != nil {
				return err
			}
			res, err := a.Service.Resolve(cmd.Context(), scratch)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), res.Record.String())
			if res.Warning != nil {
				fmt.Fprintln(cmd.ErrOrStderr(), "warning:", res.Warning)
			}
			return nil
		},
	}
}

func newResolveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <content-id>...",
		Short: "Resolve stored locations and print them as JSON lines",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			enc := json.NewEncoder(cmd.OutOrStdout())
			var failed int
			for _, id := range args {
				res, err := a.Service.Resolve(cmd.Context(), id)
				if err != nil {
					failed++
					fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", id, err)
					continue
				}
				if err := enc.Encode(newResolveLine(id, res.Record, res.LookedUp, res.Warning)); err != nil {
					return err
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d locations could not be resolved", failed, len(args))
			}
			return nil
		},
	}
}

func newMigrateStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate-status",
		Short: "Convert rows written with the legacy status codes",
		Long: `Rewrites stored statuses from the legacy three-code scheme
(-1 N/A, 1 OK, -100 Geocode OFF) to the current taxonomy. Rows already
converted are left alone, so the command can be run more than once.
`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := setup(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			if a.Postgres == nil {
				return errors.New("migrate-status needs DATABASE_URL")
			}
			n, err := a.Postgres.MigrateLegacyStatuses(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "migrated %d rows\n", n)
			return nil
		},
	}
}

type resolveLine struct {
	ID       string   `json:"id"`
	Lat      *float64 `json:"lat"`
	Lng      *float64 `json:"lng"`
	Address  string   `json:"address"`
	Status   string   `json:"status"`
	LookedUp bool     `json:"looked_up"`
	Warning  string   `json:"warning,omitempty"`
}

func newResolveLine(id string, rec *domain.LocationRecord, lookedUp bool, warning error) resolveLine {
	e := domain.NewLocationEvent(id, rec)
	line := resolveLine{
		ID:       id,
		Lat:      e.Lat,
		Lng:      e.Lng,
		Address:  e.Address,
		Status:   e.Status.Name(),
		LookedUp: lookedUp,
	}
	if warning != nil {
		line.Warning = warning.Error()
	}
	return line
}
