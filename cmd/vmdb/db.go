package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/meteorwatch/vmdb/internal/log"
	"github.com/meteorwatch/vmdb/pkg/migrate"
)

func newInitDBCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "initdb",
		Short: "Create the database schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withMigrator(cmd, func(m *migrate.Migrator) error {
				if err := m.MigrateUp(cmd.Context()); err != nil {
					return err
				}
				log.Info("database initialized")
				return nil
			})
		},
	}
}

func newMigrateCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or roll back schema migrations",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return g.withMigrator(cmd, func(m *migrate.Migrator) error {
					return m.MigrateUp(cmd.Context())
				})
			},
		},
		&cobra.Command{
			Use:   "down VERSION",
			Short: "Roll back to VERSION",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				target, err := strconv.Atoi(args[0])
				if err != nil {
					return withCode(exitSetup, fmt.Errorf("invalid target version %q", args[0]))
				}
				return g.withMigrator(cmd, func(m *migrate.Migrator) error {
					return m.MigrateDown(cmd.Context(), target)
				})
			},
		},
		&cobra.Command{
			Use:   "to VERSION",
			Short: "Migrate up or down to VERSION",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				target, err := strconv.Atoi(args[0])
				if err != nil {
					return withCode(exitSetup, fmt.Errorf("invalid target version %q", args[0]))
				}
				return g.withMigrator(cmd, func(m *migrate.Migrator) error {
					return m.MigrateTo(cmd.Context(), target)
				})
			},
		},
		&cobra.Command{
			Use:   "status",
			Short: "Show the current version and pending migrations",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return g.withMigrator(cmd, func(m *migrate.Migrator) error {
					return showStatus(cmd, m)
				})
			},
		},
	)
	return cmd
}

// withMigrator opens the database and runs fn with its migrator. Failures
// are database errors.
func (g *globals) withMigrator(cmd *cobra.Command, fn func(*migrate.Migrator) error) error {
	db, err := g.openDB(cmd.Context())
	if err != nil {
		return err
	}
	defer db.Close()

	m, err := db.Migrator()
	if err != nil {
		return withCode(exitSetup, err)
	}
	return withCode(exitDatabase, fn(m))
}

func showStatus(cmd *cobra.Command, m *migrate.Migrator) error {
	current, err := m.GetCurrentVersion(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to get current version: %w", err)
	}
	pending, err := m.GetPendingMigrations(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to get pending migrations: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Current version: %d\n", current)
	fmt.Fprintf(out, "Pending migrations: %d\n", len(pending))
	for _, mig := range pending {
		fmt.Fprintf(out, "  %d: %s\n", mig.Version, mig.Name)
	}
	return nil
}

func newCleanupCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Delete staged observations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := g.openDB(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close()

			if err := db.DeleteStaged(cmd.Context()); err != nil {
				return withCode(exitDatabase, err)
			}
			log.Info("staged observations deleted")
			return nil
		},
	}
}
