package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/terra-clan/mission-bot/internal/config"
	"github.com/terra-clan/mission-bot/internal/storage"
	"github.com/terra-clan/mission-bot/internal/syncer"
	"github.com/terra-clan/mission-bot/pkg/client"
)

func syncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Run a single sync tick and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			setupLogging(cfg.LogLevel)

			ctx, cancel := context.WithTimeout(context.Background(), initTimeout)
			defer cancel()

			store, err := openStore(ctx, cfg)
			if err != nil {
				return fmt.Errorf("failed to open mission store: %w", err)
			}
			defer store.Close()

			publisher, err := connectDiscord(ctx, cfg)
			if err != nil {
				return fmt.Errorf("failed to connect to discord: %w", err)
			}
			defer publisher.Close()

			registry, _ := buildNotifiers(cfg)
			defer registry.Close()

			loop := syncer.NewSyncer(syncer.Deps{
				Source:    store,
				Sink:      store,
				Publisher: publisher,
				Validator: newValidator(cfg),
				Notifier:  registry,
			}, syncer.Config{
				Interval:  cfg.Sync.Interval,
				IOTimeout: cfg.Sync.IOTimeout,
			})

			report, err := loop.RunOnce(context.Background())
			if report != nil {
				printReport(report)
			}
			return err
		},
	}
}

func checkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate unpublished missions without publishing anything",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			setupLogging(cfg.LogLevel)

			ctx, cancel := context.WithTimeout(context.Background(), initTimeout)
			defer cancel()

			store, err := openStore(ctx, cfg)
			if err != nil {
				return fmt.Errorf("failed to open mission store: %w", err)
			}
			defer store.Close()

			missions, err := store.FetchUnpublished(ctx)
			if err != nil {
				return err
			}

			validator := newValidator(cfg)
			invalid := 0

			tw := table.NewWriter()
			tw.SetOutputMirror(os.Stdout)
			tw.AppendHeader(table.Row{"ID", "Title", "Created", "Valid", "Errors", "Warnings"})
			for _, m := range missions {
				res := validator.Validate(m)
				if !res.IsValid {
					invalid++
				}
				tw.AppendRow(table.Row{
					m.ID,
					m.Title,
					m.CreatedAt.Format(time.DateTime),
					res.IsValid,
					strings.Join(res.Errors, "\n"),
					strings.Join(res.Warnings, "\n"),
				})
			}
			tw.AppendFooter(table.Row{"", fmt.Sprintf("%d missions", len(missions)), "", fmt.Sprintf("%d invalid", invalid)})
			tw.Render()
			return nil
		},
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending SQL migrations to the Postgres backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			setupLogging(cfg.LogLevel)

			if cfg.Backend != config.BackendPostgres {
				return fmt.Errorf("migrations only apply to the %s backend", config.BackendPostgres)
			}

			ctx, cancel := context.WithTimeout(context.Background(), initTimeout)
			defer cancel()

			repo, err := storage.NewPostgresRepository(ctx, storage.PostgresConfig{DSN: cfg.Database.DSN})
			if err != nil {
				return err
			}
			defer repo.Close()

			applied, err := storage.RunMigrations(ctx, repo.Pool(), storage.MigrationsFS(cfg.Database.MigrationsDir))
			if err != nil {
				return err
			}
			fmt.Printf("%d migration(s) applied\n", applied)
			return nil
		},
	}
}

// apiFlags are shared by the commands that talk to a running bot
type apiFlags struct {
	url     string
	apiKey  string
	timeout time.Duration
}

func (f *apiFlags) bind(cmd *cobra.Command, timeout time.Duration) {
	cmd.Flags().StringVar(&f.url, "url", envOr("MISSIONBOT_URL", "http://localhost:8080"), "admin API base URL")
	cmd.Flags().StringVar(&f.apiKey, "api-key", os.Getenv("MISSIONBOT_API_KEY"), "admin API key")
	cmd.Flags().DurationVar(&f.timeout, "timeout", timeout, "request timeout")
}

func (f *apiFlags) client() *client.Client {
	return client.NewClient(f.url, f.apiKey, client.WithTimeout(f.timeout))
}

func triggerCmd() *cobra.Command {
	var f apiFlags
	cmd := &cobra.Command{
		Use:   "trigger",
		Short: "Ask a running bot to sync now",
		RunE: func(cmd *cobra.Command, args []string) error {
			report, err := f.client().TriggerSync(cmd.Context())
			if client.IsCode(err, "tick_in_progress") {
				fmt.Println("a sync tick is already running")
				return nil
			}
			if err != nil {
				return err
			}
			printReport(report)
			return nil
		},
	}
	// a tick may run up to the server's write timeout
	f.bind(cmd, httpWriteTimeout+time.Minute)
	return cmd
}

func statusCmd() *cobra.Command {
	var f apiFlags
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the sync loop status of a running bot",
		RunE: func(cmd *cobra.Command, args []string) error {
			status, err := f.client().SyncStatus(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("running: %t, interval: %s\n", status.Running,
				time.Duration(status.IntervalSeconds*float64(time.Second)))
			if status.LastReport == nil {
				fmt.Println("no tick has completed yet")
				return nil
			}
			printReport(status.LastReport)
			return nil
		},
	}
	f.bind(cmd, 30*time.Second)
	return cmd
}

// printReport renders a tick report as a table
func printReport(r *syncer.Report) {
	fmt.Printf("tick %s at %s (%s)\n", r.TickID, r.StartedAt.Format(time.RFC3339), r.Duration.Round(time.Millisecond))
	if r.FetchError != "" {
		fmt.Printf("fetch failed: %s\n", r.FetchError)
	}

	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"Mission", "Title", "Outcome", "Ref", "Error"})
	for _, res := range r.Results {
		tw.AppendRow(table.Row{res.MissionID, res.Title, res.Outcome, res.Ref, res.Error})
	}
	tw.AppendFooter(table.Row{
		fmt.Sprintf("fetched %d", r.Fetched),
		fmt.Sprintf("published %d", r.Published),
		fmt.Sprintf("skipped %d", r.Skipped),
		fmt.Sprintf("failed %d", r.Failed),
		fmt.Sprintf("inconsistent %d", r.Inconsistent),
	})
	tw.Render()
}

func envOr(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}
