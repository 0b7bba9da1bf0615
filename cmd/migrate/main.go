package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"SimBank/internal/config"
	"SimBank/internal/observability"
	"SimBank/internal/persistence"

	"github.com/spf13/cobra"
)

func main() {
	var (
		dsn string
		dir string
	)

	rootCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or roll back SimBank's Postgres schema",
		Long: "Reads the DSN and migrations directory from the SimBank config " +
			"(SIMBANK_CONFIG, SIMBANK_* env); flags override both.",
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&dsn, "dsn", "", "Postgres connection string")
	rootCmd.PersistentFlags().StringVar(&dir, "dir", "", "migrations directory")

	withMigrator := func(fn func(ctx context.Context, m *persistence.Migrator) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.FromEnv()
			if err != nil {
				return err
			}
			if dsn == "" {
				dsn = cfg.Store.PostgresDSN
			}
			if dir == "" {
				dir = cfg.Store.MigrationsDir
			}
			ctx := cmd.Context()
			db, err := persistence.Open(ctx, dsn, persistence.PoolConfig{MaxOpenConns: 2})
			if err != nil {
				return err
			}
			defer db.Close()
			return fn(ctx, persistence.NewMigrator(db, dir, observability.NewLogger("migrate")))
		}
	}

	rootCmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			Args:  cobra.NoArgs,
			RunE: withMigrator(func(ctx context.Context, m *persistence.Migrator) error {
				n, err := m.Up(ctx)
				if err != nil {
					return fmt.Errorf("migrate up: %w", err)
				}
				fmt.Printf("applied %d migration(s)\n", n)
				return nil
			}),
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back the last applied migration",
			Args:  cobra.NoArgs,
			RunE: withMigrator(func(ctx context.Context, m *persistence.Migrator) error {
				rolled, err := m.Down(ctx)
				if err != nil {
					return fmt.Errorf("migrate down: %w", err)
				}
				if !rolled {
					fmt.Println("nothing to roll back")
					return nil
				}
				fmt.Println("rolled back last migration")
				return nil
			}),
		},
		&cobra.Command{
			Use:   "status",
			Short: "List migrations and whether they are applied",
			Args:  cobra.NoArgs,
			RunE: withMigrator(func(ctx context.Context, m *persistence.Migrator) error {
				statuses, err := m.Status(ctx)
				if err != nil {
					return fmt.Errorf("migrate status: %w", err)
				}
				w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "VERSION\tAPPLIED\tFILE")
				for _, s := range statuses {
					fmt.Fprintf(w, "%s\t%t\t%s\n", s.Version, s.Applied, s.Filename)
				}
				return w.Flush()
			}),
		},
	)

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
