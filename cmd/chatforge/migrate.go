package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/chatforge/backend/internal/config"
	"github.com/chatforge/backend/internal/store"
)

func buildMigrateCheckCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate-check",
		Short: "Apply pending migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrateCheck(*configPath)
		},
	}
}

func runMigrateCheck(configPath string) error {
	mgr := config.New(configPath)
	if err := mgr.Load(); err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg := mgr.Get()

	dbCfg := store.DefaultConfig()
	dbCfg.DSN = cfg.Database.URL
	db, err := store.Open(dbCfg)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()
	if err := store.Migrate(ctx, db); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	fmt.Println("migrations applied")
	return nil
}
