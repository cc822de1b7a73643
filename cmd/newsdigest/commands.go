package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"NewsDigest/internal/app"
	"NewsDigest/internal/config"
	"NewsDigest/internal/domain"
	"NewsDigest/internal/logging"
	"NewsDigest/internal/usecase"
)

const shutdownTimeout = 30 * time.Second

type rootOptions struct {
	configPath string
	envFile    string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "newsdigest",
		Short:         "Ingest regional business news and build daily digests",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if _, err := os.Stat(opts.envFile); err == nil {
				if err := godotenv.Load(opts.envFile); err != nil {
					return fmt.Errorf("load %s: %w", opts.envFile, err)
				}
			}
			if opts.configPath != "" {
				return os.Setenv("NEWSDIGEST_CONFIG", opts.configPath)
			}
			return nil
		},
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "YAML config file (overrides NEWSDIGEST_CONFIG)")
	root.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "dotenv file loaded before the config")

	root.AddCommand(newServeCmd(), newIngestCmd(), newDigestCmd())
	return root
}

// bootstrap loads config and builds the application for a command.
func bootstrap(ctx context.Context) (*app.Application, *slog.Logger, error) {
	cfg := config.Load()
	logger := logging.NewWithFormat(cfg.Logging.Level, cfg.Logging.Format)
	slog.SetDefault(logger)
	application, err := app.New(ctx, cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	return application, logger, nil
}

func shutdown(application *app.Application, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := application.Shutdown(ctx); err != nil {
		logger.Error("shutdown", "error", err)
	}
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, worker pools and scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			application, logger, err := bootstrap(ctx)
			if err != nil {
				return err
			}
			defer shutdown(application, logger)

			if err := application.Serve(ctx); err != nil {
				logger.Error("application stopped", "error", err)
				return err
			}
			logger.Info("shutting down")
			return nil
		},
	}
}

func newIngestCmd() *cobra.Command {
	var (
		sources []string
		limit   int
	)
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Run one ingest job in this process and print its progress",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			application, logger, err := bootstrap(ctx)
			if err != nil {
				return err
			}
			defer shutdown(application, logger)

			detail, err := application.RunOnce(ctx, sources, domain.JobParams{Limit: limit})
			if err != nil {
				return err
			}
			printDetail(cmd, detail)
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&sources, "source", nil, "source name to ingest (repeatable, default all)")
	cmd.Flags().IntVar(&limit, "limit", 0, "links per source (default from config)")
	return cmd
}

func printDetail(cmd *cobra.Command, detail domain.JobDetail) {
	out := cmd.OutOrStdout()
	job := detail.Job
	fmt.Fprintf(out, "job %s: %s (%d/%d sources, %d ingested, %d errors)\n",
		job.ID, job.Status, job.DoneSources, job.TotalSources, job.Ingested, job.ErrorsCount)
	names := make([]string, 0, len(detail.Sources))
	for name := range detail.Sources {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		p := detail.Sources[name]
		fmt.Fprintf(out, "  %-24s %-7s links=%d fetched=%d inserted=%d dup=%d errors=%d %s\n",
			name, p.State, p.LinksFound, p.ArticlesFetched, p.Inserted, p.Duplicates, p.Errors, p.LastError)
	}
}

type digestOptions struct {
	day   string
	force bool
}

func (o *digestOptions) resolveDay() (time.Time, error) {
	if o.day == "" {
		return usecase.DayStart(time.Now()), nil
	}
	return usecase.ParseDay(o.day)
}

func newDigestCmd() *cobra.Command {
	opts := &digestOptions{}
	cmd := &cobra.Command{
		Use:   "digest",
		Short: "Build, narrate and publish daily digests",
	}
	cmd.PersistentFlags().StringVar(&opts.day, "day", "", "digest day YYYY-MM-DD (default today, UTC)")
	cmd.PersistentFlags().BoolVar(&opts.force, "force", false, "rebuild or regenerate even when stored")

	cmd.AddCommand(
		digestAction("build", "Build the digest of a day", opts, func(ctx context.Context, b *usecase.DigestBuilder, day time.Time, out io.Writer) error {
			digest, err := b.Build(ctx, day, b.Defaults(), opts.force)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "%s: %s, %d items (prefer %d, fallback %d)\n\n",
				digest.Day.Format(domain.DayLayout), digest.Status, digest.ItemsCount,
				digest.Diagnostics.PreferBucketSize, digest.Diagnostics.FallbackBucketSize)
			fmt.Fprint(out, usecase.FormatDigest(digest))
			return nil
		}),
		digestAction("script", "Generate the narration script of a built digest", opts, func(ctx context.Context, b *usecase.DigestBuilder, day time.Time, out io.Writer) error {
			digest, err := b.GenerateScript(ctx, day, opts.force)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(digest.Script)
		}),
		digestAction("publish", "Send a built digest to the configured notifier", opts, func(ctx context.Context, b *usecase.DigestBuilder, day time.Time, out io.Writer) error {
			if err := b.Publish(ctx, day); err != nil {
				return err
			}
			fmt.Fprintf(out, "published %s\n", day.Format(domain.DayLayout))
			return nil
		}),
	)
	return cmd
}

func digestAction(use, short string, opts *digestOptions, run func(context.Context, *usecase.DigestBuilder, time.Time, io.Writer) error) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			day, err := opts.resolveDay()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			application, logger, err := bootstrap(ctx)
			if err != nil {
				return err
			}
			defer shutdown(application, logger)
			return run(ctx, application.Digests(), day, cmd.OutOrStdout())
		},
	}
}
