package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/spf13/cobra"

	"gatehouse.org/internal/admin"
	"gatehouse.org/internal/migrate"
	"gatehouse.org/internal/obs"
	"gatehouse.org/internal/store/pg"
	"gatehouse.org/ops/migrations"
)

type options struct {
	dsn     string
	dir     string
	timeout time.Duration
}

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var opts options
	cmd := &cobra.Command{
		Use:          "gatehouse-migrate",
		Short:        "Manage the gatehouse PostgreSQL schema",
		SilenceUsage: true,
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.dsn, "dsn", os.Getenv("GATEHOUSE_PG_DSN"), "PostgreSQL DSN")
	flags.StringVar(&opts.dir, "dir", "", "directory holding sql/ and seeds/ (defaults to the embedded files)")
	flags.DurationVar(&opts.timeout, "timeout", 30*time.Second, "overall deadline")

	cmd.AddCommand(
		upCmd(&opts),
		downCmd(&opts),
		seedCmd(&opts),
		statusCmd(&opts),
		bootstrapAdminCmd(&opts),
	)
	return cmd
}

func upCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withManager(cmd.Context(), opts, func(ctx context.Context, m *migrate.Manager) error {
				applied, err := m.Up(ctx)
				if err != nil {
					return err
				}
				report(cmd, "applied", applied)
				return nil
			})
		},
	}
}

func downCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "down",
		Short: "Roll back the latest migration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withManager(cmd.Context(), opts, func(ctx context.Context, m *migrate.Manager) error {
				name, err := m.Down(ctx)
				if errors.Is(err, migrate.ErrNothingApplied) {
					fmt.Fprintln(cmd.OutOrStdout(), "nothing to roll back")
					return nil
				}
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "rolled back", name)
				return nil
			})
		},
	}
}

func seedCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Apply pending seed files",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withManager(cmd.Context(), opts, func(ctx context.Context, m *migrate.Manager) error {
				applied, err := m.Seed(ctx)
				if err != nil {
					return err
				}
				report(cmd, "seeded", applied)
				return nil
			})
		},
	}
}

func statusCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "List applied migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withManager(cmd.Context(), opts, func(ctx context.Context, m *migrate.Manager) error {
				history, err := m.Status(ctx)
				if err != nil {
					return err
				}
				for _, item := range history {
					fmt.Fprintln(cmd.OutOrStdout(), item)
				}
				return nil
			})
		},
	}
}

func bootstrapAdminCmd(opts *options) *cobra.Command {
	var username, password string
	cmd := &cobra.Command{
		Use:   "bootstrap-admin",
		Short: "Create the administrator account holding every permission",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := deadline(cmd.Context(), opts)
			defer cancel()
			store, err := openStore(opts)
			if err != nil {
				return err
			}
			defer store.Close()
			created, err := admin.EnsureAdmin(ctx, store, username, password)
			if err != nil {
				return err
			}
			if created {
				fmt.Fprintf(cmd.OutOrStdout(), "created %s\n", username)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "%s already exists\n", username)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&username, "username", admin.DefaultAdminUsername, "administrator username")
	cmd.Flags().StringVar(&password, "password", admin.DefaultAdminPassword, "administrator password")
	return cmd
}

func withManager(parent context.Context, opts *options, fn func(context.Context, *migrate.Manager) error) error {
	ctx, cancel := deadline(parent, opts)
	defer cancel()
	store, err := openStore(opts)
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(ctx, migrate.NewManager(store.DB(), source(opts)))
}

func openStore(opts *options) (*pg.Store, error) {
	if opts.dsn == "" {
		return nil, errors.New("missing DSN: provide via --dsn or GATEHOUSE_PG_DSN")
	}
	return pg.Open(opts.dsn, pg.Pool{MaxOpenConns: 2})
}

func source(opts *options) fs.FS {
	if opts.dir != "" {
		return os.DirFS(opts.dir)
	}
	return migrations.FS
}

func deadline(parent context.Context, opts *options) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return context.WithTimeout(parent, opts.timeout)
}

func report(cmd *cobra.Command, verb string, names []string) {
	if len(names) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "nothing to do")
		return
	}
	for _, n := range names {
		fmt.Fprintln(cmd.OutOrStdout(), verb, n)
	}
	obs.Logger().Info("migrate", "action", verb, "count", len(names))
}
