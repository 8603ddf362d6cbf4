package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/dharsanguruparan/HashDrop/internal/app"
	"github.com/dharsanguruparan/HashDrop/internal/auth"
	"github.com/dharsanguruparan/HashDrop/internal/config"
	"github.com/dharsanguruparan/HashDrop/internal/database"
	"github.com/dharsanguruparan/HashDrop/internal/export"
	"github.com/dharsanguruparan/HashDrop/internal/model"
	"github.com/dharsanguruparan/HashDrop/internal/settings"
)

// deps lets tests replace the config source and the settings backend.
type deps struct {
	loadConfig func() (*config.Config, error)
	openStore  func(ctx context.Context, cfg *config.Config) (settings.Store, func(), error)
	openApp    func(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app.App, error)
}

func defaultDeps() deps {
	return deps{
		loadConfig: config.Load,
		openStore:  openPostgresSettings,
		openApp:    app.Open,
	}
}

func openPostgresSettings(ctx context.Context, cfg *config.Config) (settings.Store, func(), error) {
	if cfg.DatabaseURL == "" {
		return nil, nil, errors.New("HASHDROP_DATABASE_URL is required to manage settings")
	}
	pool, err := database.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	if err := database.Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, err
	}
	return settings.NewPostgresStore(pool, cfg.SettingOverrides), pool.Close, nil
}

func newRootCommand(d deps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hashdrop",
		Short: "HashDrop administration CLI",
		Long: `hashdrop manages a HashDrop deployment: policy settings, schema migrations,
access tokens for testing, and offline exports of the public file set.`,
		SilenceUsage: true,
	}
	cmd.AddCommand(
		newSettingsCmd(d),
		newMigrateCmd(d),
		newTokenCmd(d),
		newExportCmd(d),
	)
	return cmd
}

func newSettingsCmd(d deps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Inspect and change policy settings",
	}
	withStore := func(run func(cmd *cobra.Command, st settings.Store, args []string) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			cfg, err := d.loadConfig()
			if err != nil {
				return err
			}
			st, closeFn, err := d.openStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer closeFn()
			return run(cmd, st, args)
		}
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "Print every setting with its effective value",
		Args:  cobra.NoArgs,
		RunE: withStore(func(cmd *cobra.Command, st settings.Store, _ []string) error {
			values, err := st.List(cmd.Context())
			if err != nil {
				return err
			}
			for _, key := range settings.Keys() {
				fmt.Fprintf(cmd.OutOrStdout(), "%s=%s\n", key, values[key])
			}
			return nil
		}),
	}
	get := &cobra.Command{
		Use:   "get <key>",
		Short: "Print one setting",
		Args:  cobra.ExactArgs(1),
		RunE: withStore(func(cmd *cobra.Command, st settings.Store, args []string) error {
			v, err := st.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), v)
			return nil
		}),
	}
	set := &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Change one setting; it applies to the next request",
		Args:  cobra.ExactArgs(2),
		RunE: withStore(func(cmd *cobra.Command, st settings.Store, args []string) error {
			if err := st.Set(cmd.Context(), args[0], args[1]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s=%s\n", args[0], args[1])
			return nil
		}),
	}
	cmd.AddCommand(list, get, set)
	return cmd
}

func newMigrateCmd(d deps) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := d.loadConfig()
			if err != nil {
				return err
			}
			if cfg.DatabaseURL == "" {
				return errors.New("HASHDROP_DATABASE_URL is required")
			}
			pool, err := database.Connect(cmd.Context(), cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer pool.Close()
			if err := database.Migrate(cmd.Context(), pool); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return nil
		},
	}
}

func newTokenCmd(d deps) *cobra.Command {
	var (
		subject string
		role    string
		ttl     time.Duration
	)
	issue := &cobra.Command{
		Use:   "issue",
		Short: "Sign a bearer token for a principal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := d.loadConfig()
			if err != nil {
				return err
			}
			tok, err := auth.NewResolver(cfg.JWTSecret).Issue(model.Principal{
				ID:   subject,
				Role: model.ParseRole(role),
			}, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	issue.Flags().StringVar(&subject, "sub", "", "Principal id")
	issue.Flags().StringVar(&role, "role", string(model.RoleUser), "Role: user, admin or super_admin")
	issue.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "Token lifetime")
	_ = issue.MarkFlagRequired("sub")

	cmd := &cobra.Command{Use: "token", Short: "Manage access tokens"}
	cmd.AddCommand(issue)
	return cmd
}

func newExportCmd(d deps) *cobra.Command {
	var (
		out string
		tag string
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the routed archive of public files to a local zip",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := d.loadConfig()
			if err != nil {
				return err
			}
			logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), nil))
			a, err := d.openApp(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			if out == "" {
				out = export.NewArchiveName(time.Now())
			}
			return writeArchive(cmd.Context(), a.Packager, out, tag, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "Destination file (default: generated name in the working directory)")
	cmd.Flags().StringVar(&tag, "tag", "", "Only include files with a matching tag")
	return cmd
}

// writeArchive exports into a temp file next to path and renames it into
// place, so a failed export never leaves a truncated zip behind.
func writeArchive(ctx context.Context, p *export.Packager, path, tag string, stdout io.Writer) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".hashdrop-export-*")
	if err != nil {
		return fmt.Errorf("create temp archive: %w", err)
	}
	defer os.Remove(tmp.Name())

	summary, err := p.ExportPublic(ctx, tmp, export.TagFilter(tag))
	if err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close archive: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("publish archive: %w", err)
	}
	fmt.Fprintf(stdout, "%s: %d files, %d errors, %d skipped\n", path, len(summary.Files), len(summary.Errors), summary.Skipped)
	return nil
}
