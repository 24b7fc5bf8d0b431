package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"bounty-orchestrator/internal/app"
	"bounty-orchestrator/internal/config"
	"bounty-orchestrator/internal/core/postgres/repository"
	"bounty-orchestrator/internal/domain"
	"bounty-orchestrator/internal/logging"
)

type rootFlags struct {
	configFile string
}

func newRootCommand() *cobra.Command {
	flags := &rootFlags{}

	root := &cobra.Command{
		Use:          "bounty-orchestrator",
		Short:        "Checkpointed bounty workflow orchestrator",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&flags.configFile, "config", "c", "", "YAML config file (env vars override it)")

	learnings := &cobra.Command{Use: "learnings", Short: "Query recorded learnings"}
	learnings.AddCommand(newLearningsSearchCommand(flags))
	repo := &cobra.Command{Use: "repo", Short: "Inspect repository profiles"}
	repo.AddCommand(newRepoShowCommand(flags))

	root.AddCommand(
		newServeCommand(flags),
		newMigrateCommand(flags),
		newSyncRepoCommand(flags),
		learnings,
		repo,
	)
	return root
}

func loadConfig(flags *rootFlags) (*config.Config, *slog.Logger, error) {
	v, err := config.New(flags.configFile)
	if err != nil {
		return nil, nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := config.Load(v)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logging.New(cfg.Logging, os.Stderr), nil
}

// withApp builds the application, runs fn and closes it again.
func withApp(ctx context.Context, flags *rootFlags, fn func(ctx context.Context, a *app.App) error) error {
	cfg, log, err := loadConfig(flags)
	if err != nil {
		return err
	}
	a, err := app.Build(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			log.Error("close", "error", err)
		}
	}()
	return fn(ctx, a)
}

func newServeCommand(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, the worker pool and the coordinator",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return withApp(ctx, flags, func(ctx context.Context, a *app.App) error {
				return a.Serve(ctx)
			})
		},
	}
}

func newMigrateCommand(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database tables",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := loadConfig(flags)
			if err != nil {
				return err
			}
			if cfg.Database.URL == "" {
				return fmt.Errorf("database.url: %w", domain.ErrStoreUnconfigured)
			}
			db, err := repository.Open(cfg.Database.Driver, cfg.Database.URL)
			if err != nil {
				return err
			}
			defer repository.Close(db)
			if err := repository.Migrate(db); err != nil {
				return err
			}
			log.Info("migration complete", "driver", cfg.Database.Driver)
			return nil
		},
	}
}

func newSyncRepoCommand(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:     "sync-repo <url>",
		Short:   "Refresh the knowledge profile of a repository now",
		Example: `  bounty-orchestrator sync-repo https://github.com/octo/widgets
  bounty-orchestrator sync-repo octo/widgets`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), flags, func(ctx context.Context, a *app.App) error {
				key, err := a.Syncer.Sync(ctx, args[0])
				if err != nil {
					return err
				}
				profile, err := a.Memory.RepoProfile(ctx, key)
				if err != nil {
					return err
				}
				return printYAML(cmd.OutOrStdout(), profile)
			})
		},
	}
}

type searchFlags struct {
	category string
	limit    int
}

func newLearningsSearchCommand(root *rootFlags) *cobra.Command {
	flags := &searchFlags{}
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search learnings by similarity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), root, func(ctx context.Context, a *app.App) error {
				hits, err := a.Service.SearchLearnings(ctx, args[0], flags.category, flags.limit)
				if err != nil {
					return err
				}
				return printYAML(cmd.OutOrStdout(), hits)
			})
		},
	}
	cmd.Flags().StringVar(&flags.category, "category", "", "rejections or successes")
	cmd.Flags().IntVarP(&flags.limit, "limit", "n", 10, "maximum number of results")
	return cmd
}

func newRepoShowCommand(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "show <key>",
		Short: "Print a stored repository profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), flags, func(ctx context.Context, a *app.App) error {
				key := args[0]
				profile, err := a.Memory.RepoProfile(ctx, key)
				if err != nil {
					// accept repository references as well as keys
					profile, err = a.Memory.RepoProfile(ctx, domain.TargetKey(key))
				}
				if err != nil {
					return err
				}
				return printYAML(cmd.OutOrStdout(), profile)
			})
		},
	}
}

// printYAML writes v as YAML using its JSON field names.
func printYAML(w io.Writer, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return err
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return err
	}
	return enc.Close()
}
