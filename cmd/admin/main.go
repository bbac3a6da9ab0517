// Command admin runs one-off maintenance tasks against the configured store.
package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"schooltrack/internal/backend"
	"schooltrack/internal/config"
	"schooltrack/internal/logging"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "admin",
		Short:         "SchoolTrack maintenance commands",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(migrateCmd(), releaseTokensCmd(), exportAssignmentsCmd())
	return root
}

// env holds what every subcommand needs. close must be called when done.
type env struct {
	cfg    config.App
	log    *zap.Logger
	b      *backend.Backend
	svc    *backend.Services
	cancel context.CancelFunc
}

func (e *env) close() {
	_ = e.b.Close()
	_ = e.log.Sync()
	e.cancel()
}

func setup(migrate bool) (context.Context, *env, error) {
	cfg := config.Load()
	logger, err := logging.New(cfg.Log, "admin")
	if err != nil {
		log.Printf("logger init failed: %v", err)
		logger = zap.NewNop()
	}
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	b, err := backend.Open(ctx, cfg, migrate, logger)
	if err != nil {
		cancel()
		return nil, nil, err
	}
	return ctx, &env{
		cfg:    cfg,
		log:    logger,
		b:      b,
		svc:    backend.NewServices(b, cfg, logger, nil),
		cancel: cancel,
	}, nil
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create missing tables and indexes",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, e, err := setup(true)
			if err != nil {
				return err
			}
			defer e.close()
			fmt.Fprintln(cmd.OutOrStdout(), "schema up to date")
			return nil
		},
	}
}

func releaseTokensCmd() *cobra.Command {
	var sweep bool
	cmd := &cobra.Command{
		Use:   "release-tokens [trip-id]",
		Short: "Release the active token assignments of a trip, or of every concluded trip with --sweep",
		Args: func(cmd *cobra.Command, args []string) error {
			if sweep {
				return cobra.NoArgs(cmd, args)
			}
			return cobra.ExactArgs(1)(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, e, err := setup(false)
			if err != nil {
				return err
			}
			defer e.close()

			if sweep {
				n, err := e.svc.Trips.SweepConcluded(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "released %d assignments of concluded trips\n", n)
				return nil
			}
			tripID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid trip id %q: %w", args[0], err)
			}
			n, err := e.svc.Assignments.ReleaseAllForTrip(ctx, tripID)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "released %d assignments of trip %s\n", n, tripID)
			return nil
		},
	}
	cmd.Flags().BoolVar(&sweep, "sweep", false, "release every COMPLETED or ARCHIVED trip")
	return cmd
}

func exportAssignmentsCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "export-assignments <trip-id>",
		Short: "Write the active assignments of a trip as CSV",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tripID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid trip id %q: %w", args[0], err)
			}
			ctx, e, err := setup(false)
			if err != nil {
				return err
			}
			defer e.close()

			var w io.Writer = cmd.OutOrStdout()
			if out != "" && out != "-" {
				f, err := os.Create(out)
				if err != nil {
					return err
				}
				defer f.Close()
				w = f
			}
			return e.svc.Assignments.ExportCSV(ctx, tripID, w)
		},
	}
	cmd.Flags().StringVarP(&out, "output", "o", "-", "output file, - for stdout")
	return cmd
}
