// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Adega Contributors

package main

import (
	"log/slog"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/adega/adega/internal/store"
)

// MigratorFactory opens a SchemaMigrator for a database URL.
type MigratorFactory func(url string, logger *slog.Logger) (SchemaMigrator, error)

// NewMigrateCmd creates the migrate subcommand.
func NewMigrateCmd() *cobra.Command {
	return newMigrateCmdWithFactory(defaultMigratorFactory)
}

func newMigrateCmdWithFactory(factory MigratorFactory) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
		Long:  `Apply, roll back or inspect the embedded PostgreSQL migrations.`,
	}
	cmd.PersistentFlags().String("database-url", "", "PostgreSQL connection URL (default: DATABASE_URL)")

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMigrator(cmd, factory, func(m SchemaMigrator) error {
				if err := m.Up(); err != nil {
					return oops.Code("MIGRATION_FAILED").With("operation", "apply migrations").Wrap(err)
				}
				return printStatus(cmd, m)
			})
		},
	})

	var steps int
	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back migrations",
		Long: `Roll back the given number of migrations, or every migration when
--steps is 0. Rolling back everything drops all account data.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if steps < 0 {
				return oops.Code("INVALID_STEPS").With("steps", steps).Errorf("--steps must not be negative")
			}
			return withMigrator(cmd, factory, func(m SchemaMigrator) error {
				var err error
				if steps == 0 {
					err = m.Down()
				} else {
					err = m.Steps(-steps)
				}
				if err != nil {
					return oops.Code("MIGRATION_FAILED").With("operation", "roll back migrations").Wrap(err)
				}
				return printStatus(cmd, m)
			})
		},
	}
	down.Flags().IntVar(&steps, "steps", 1, "number of migrations to roll back (0 = all)")
	cmd.AddCommand(down)

	cmd.AddCommand(&cobra.Command{
		Use:     "version",
		Aliases: []string{"status"},
		Short:   "Show the applied schema version",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMigrator(cmd, factory, func(m SchemaMigrator) error {
				return printStatus(cmd, m)
			})
		},
	})

	return cmd
}

func withMigrator(cmd *cobra.Command, factory MigratorFactory, fn func(SchemaMigrator) error) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := cfg.Database.Validate(); err != nil {
		return err
	}

	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), nil))
	m, err := factory(cfg.Database.URL, logger)
	if err != nil {
		return oops.Code("MIGRATION_FAILED").With("operation", "open migrator").Wrap(err)
	}
	defer func() {
		if closeErr := m.Close(); closeErr != nil {
			logger.Warn("error closing migrator", "error", closeErr)
		}
	}()

	return fn(m)
}

func printStatus(cmd *cobra.Command, m SchemaMigrator) error {
	status, err := m.Status()
	if err != nil {
		return oops.Code("MIGRATION_FAILED").With("operation", "read schema version").Wrap(err)
	}

	name := "none"
	if status.Current > 0 {
		if n, err := store.MigrationName(status.Current); err == nil && n != "" {
			name = n
		}
	}
	cmd.Printf("schema version: %d (%s)\n", status.Current, name)
	cmd.Printf("latest version: %d\n", status.Latest)
	if status.Dirty {
		cmd.Println("WARNING: schema is dirty; a previous migration failed part way")
	}
	if len(status.Pending) > 0 {
		cmd.Printf("pending: %v\n", status.Pending)
	}
	return nil
}
