package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/meikuraledutech/fynq/postgres"
)

// withPostgres opens the app and requires a real database.
func withPostgres(cmd *cobra.Command, opts *rootOptions, fn func(ctx context.Context, pg *postgres.PGStore) error) error {
	if opts.cfg.Database.URL == "" {
		return errors.New("DATABASE_URL is not set")
	}
	ctx := cmd.Context()
	pg, closePool, err := openPostgres(ctx, opts.cfg, opts.log)
	if err != nil {
		return err
	}
	defer closePool()
	return fn(ctx, pg)
}

func newMigrateCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the chat database schema",
	}

	up := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPostgres(cmd, opts, func(ctx context.Context, pg *postgres.PGStore) error {
				if err := pg.CreateSchema(ctx); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Schema at version %d.\n", pg.Schema().Version)
				return nil
			})
		},
	}

	down := &cobra.Command{
		Use:   "down",
		Short: "Revert the last applied migration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPostgres(cmd, opts, func(ctx context.Context, pg *postgres.PGStore) error {
				name, err := pg.Rollback(ctx)
				if errors.Is(err, postgres.ErrNoMigrations) {
					fmt.Fprintln(cmd.OutOrStdout(), "Nothing to roll back.")
					return nil
				}
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Rolled back %s.\n", name)
				return nil
			})
		},
	}

	var format string
	status := &cobra.Command{
		Use:   "status",
		Short: "Show applied and pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkFormat(format); err != nil {
				return err
			}
			return withPostgres(cmd, opts, func(ctx context.Context, pg *postgres.PGStore) error {
				records, err := pg.MigrationStatus(ctx)
				if err != nil {
					return err
				}
				if format != formatText {
					return writeStructured(cmd.OutOrStdout(), format, records)
				}
				for _, r := range records {
					state := dateStyle.Render("pending")
					if r.Applied {
						state = titleStyle.Render("applied " + formatTime(*r.AppliedAt))
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%s  %s\n", idStyle.Render(r.Name), state)
				}
				return nil
			})
		},
	}
	status.Flags().StringVarP(&format, "output", "o", formatText, "Output format: text, json or yaml")

	cmd.AddCommand(up, down, status)
	return cmd
}
