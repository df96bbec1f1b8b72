package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"farm-automation/internal/config"
	"farm-automation/internal/db"
	"farm-automation/internal/logging"
	"farm-automation/internal/mongodb"
	"farm-automation/internal/store"
	"farm-automation/internal/store/memory"
)

// openStore connects the configured backend and makes sure its schema exists.
func openStore(ctx context.Context, cfg config.Config) (store.Store, error) {
	switch cfg.Store.Driver {
	case config.DriverMongo:
		s, err := mongodb.Open(ctx, cfg.Store.MongoURI, cfg.Store.MongoDatabase, mongodb.Options{
			ResolvedAlertTTL: cfg.Retention.ResolvedAlertTTL,
		})
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.DriverPostgres:
		d, err := db.New(ctx, cfg.Store.PostgresDSN)
		if err != nil {
			return nil, err
		}
		if err := d.Migrate(ctx); err != nil {
			d.Pool.Close()
			return nil, err
		}
		return d, nil
	case config.DriverMemory:
		return memory.New(), nil
	}
	return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create tables and indexes for the configured store",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger, err := logging.New(cfg.Logging.Dir, cfg.Logging.Level)
			if err != nil {
				return err
			}
			defer logger.Close()

			ctx := cmd.Context()
			st, err := openStore(ctx, cfg)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			defer st.Close(ctx)

			logger.Infof("Schema ready for %s store", cfg.Store.Driver)
			return nil
		},
	}
}
