package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/enrolytics/enrolytics/internal/audit"
	"github.com/enrolytics/enrolytics/internal/config"
	"github.com/enrolytics/enrolytics/internal/db"
	"github.com/enrolytics/enrolytics/internal/logging"
	"github.com/enrolytics/enrolytics/internal/server"
)

func newServeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve stored results over HTTP and WebSocket",
		Long:  "serve exposes persisted runs through the REST API, streams run lifecycle events over WebSocket, and accepts POST /api/v1/analyze to trigger fresh runs.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			mgr, cfg, err := a.loadConfig(cmd.Context())
			if err != nil {
				return err
			}
			return a.serve(cmd, mgr, cfg)
		},
	}

	cmd.Flags().StringVar(&a.host, "host", "", "override the listen host")
	cmd.Flags().IntVar(&a.port, "port", 0, "override the listen port")
	cmd.Flags().StringVar(&a.database, "database", "", "override the result database path")
	return cmd
}

// serve runs the result server until the command context is cancelled.
func (a *app) serve(cmd *cobra.Command, mgr config.Manager, cfg *config.Config) error {
	log, err := logging.New(cfg)
	if err != nil {
		return err
	}
	defer log.Sync()

	journal, err := audit.NewJournal(cfg)
	if err != nil {
		return fmt.Errorf("opening audit journal: %w", err)
	}
	defer journal.Close()

	var store db.Store
	if cfg.Output.Database != "" {
		store, err = db.NewSQLiteStore(cfg.Output.Database)
		if err != nil {
			return fmt.Errorf("opening result store: %w", err)
		}
		defer store.Close()
	} else {
		log.Warn("no result database configured, store-backed endpoints answer 503")
	}

	srv, err := server.NewServer(cfg, log, store, journal)
	if err != nil {
		return err
	}
	if err := srv.Start(); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "enrolytics serving on %s:%d\n", cfg.Server.Host, cfg.Server.Port)

	watchCtx, stopWatch := context.WithCancel(cmd.Context())
	defer stopWatch()
	go watchConfig(watchCtx, mgr, srv, log)

	<-cmd.Context().Done()
	log.Info("shutdown signal received")
	return srv.Stop()
}

// watchConfig forwards validated configuration file changes to the
// server. Changed settings apply to the next analysis run.
func watchConfig(ctx context.Context, mgr config.Manager, srv *server.Server, log *zap.Logger) {
	changes := mgr.Watch(ctx)
	for {
		select {
		case updated := <-changes:
			if errs := updated.Validate(); len(errs) > 0 {
				log.Warn("ignoring invalid configuration change", zap.Errors("errors", errs))
				continue
			}
			srv.UpdateConfig(&updated)
			log.Info("configuration reloaded, settings apply to the next run")
		case <-ctx.Done():
			return
		}
	}
}
