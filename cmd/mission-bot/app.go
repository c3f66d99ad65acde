package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/terra-clan/mission-bot/internal/config"
	"github.com/terra-clan/mission-bot/internal/discord"
	"github.com/terra-clan/mission-bot/internal/notify"
	"github.com/terra-clan/mission-bot/internal/storage"
	"github.com/terra-clan/mission-bot/internal/validation"
)

const initTimeout = 30 * time.Second

// openStore connects the configured backend. Postgres migrations run first
// so the schema is current before the first fetch.
func openStore(ctx context.Context, cfg *config.Config) (storage.MissionStore, error) {
	switch cfg.Backend {
	case config.BackendPostgres:
		repo, err := storage.NewPostgresRepository(ctx, storage.PostgresConfig{
			DSN:      cfg.Database.DSN,
			MaxConns: int32(cfg.Database.MaxConns),
			MinConns: int32(cfg.Database.MinConns),
		})
		if err != nil {
			return nil, err
		}

		applied, err := storage.RunMigrations(ctx, repo.Pool(), storage.MigrationsFS(cfg.Database.MigrationsDir))
		if err != nil {
			_ = repo.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
		slog.Info("database connected", "migrations_applied", applied)
		return repo, nil

	case config.BackendNotion:
		repo := storage.NewNotionRepository(storage.NotionConfig{
			Token:       cfg.Notion.APIKey,
			DatabaseID:  cfg.Notion.DatabaseID,
			PageSize:    cfg.Notion.PageSize,
			RefAsNumber: cfg.Notion.RefAsNumber,
		})
		if err := repo.Ping(ctx); err != nil {
			return nil, err
		}
		slog.Info("notion database reachable", "database_id", cfg.Notion.DatabaseID)
		return repo, nil
	}

	return nil, fmt.Errorf("unknown mission backend %q", cfg.Backend)
}

// openServeStore is openStore for the long-running bot: an unreachable
// backend does not stop startup. Postgres connects and migrates on first use
// and Notion only logs the failed ping; either way the tick reports the outage
// and the next one tries again.
func openServeStore(ctx context.Context, cfg *config.Config) (storage.MissionStore, error) {
	switch cfg.Backend {
	case config.BackendPostgres:
		repo, err := storage.NewPostgresRepository(ctx, storage.PostgresConfig{
			DSN:         cfg.Database.DSN,
			MaxConns:    int32(cfg.Database.MaxConns),
			MinConns:    int32(cfg.Database.MinConns),
			LazyConnect: true,
		})
		if err != nil {
			return nil, err
		}

		migrations := storage.MigrationsFS(cfg.Database.MigrationsDir)
		store := storage.NewPreparedStore(repo, func(ctx context.Context) error {
			if err := repo.Ping(ctx); err != nil {
				return err
			}
			applied, err := storage.RunMigrations(ctx, repo.Pool(), migrations)
			if err != nil {
				return fmt.Errorf("failed to run migrations: %w", err)
			}
			slog.Info("database connected", "migrations_applied", applied)
			return nil
		})

		if err := store.Ping(ctx); err != nil {
			slog.Warn("database unreachable, retrying on the next tick", "error", err)
		}
		return store, nil

	case config.BackendNotion:
		repo := storage.NewNotionRepository(storage.NotionConfig{
			Token:       cfg.Notion.APIKey,
			DatabaseID:  cfg.Notion.DatabaseID,
			PageSize:    cfg.Notion.PageSize,
			RefAsNumber: cfg.Notion.RefAsNumber,
		})
		if err := repo.Ping(ctx); err != nil {
			slog.Warn("notion database unreachable, retrying on the next tick", "error", err)
		} else {
			slog.Info("notion database reachable", "database_id", cfg.Notion.DatabaseID)
		}
		return repo, nil
	}

	return nil, fmt.Errorf("unknown mission backend %q", cfg.Backend)
}

// connectDiscord opens the gateway session and checks the target channel
func connectDiscord(ctx context.Context, cfg *config.Config) (*discord.Publisher, error) {
	if err := cfg.ValidateDiscord(); err != nil {
		return nil, err
	}

	layout, err := discord.LoadLayout(cfg.Discord.EmbedLayout)
	if err != nil {
		return nil, fmt.Errorf("failed to load embed layout %s: %w", cfg.Discord.EmbedLayout, err)
	}

	pub, err := discord.NewPublisher(cfg.Discord.Token, cfg.Discord.ChannelID, layout)
	if err != nil {
		return nil, err
	}

	if err := pub.Connect(ctx); err != nil {
		_ = pub.Close()
		return nil, err
	}
	return pub, nil
}

// buildNotifiers registers the in-process hub plus the optional Redis and
// webhook notifiers. A notifier that cannot be built is logged and skipped.
func buildNotifiers(cfg *config.Config) (*notify.Registry, *notify.Hub) {
	registry := notify.NewRegistry()

	hub := notify.NewHub()
	registry.Register("events", hub)

	if cfg.Redis.URL != "" {
		rn, err := notify.NewRedisNotifier(notify.RedisConfig{
			URL:          cfg.Redis.URL,
			Channel:      cfg.Redis.Channel,
			ReconcileKey: cfg.Redis.ReconcileKey,
			Retries:      cfg.Redis.Retries,
		})
		if err != nil {
			slog.Warn("redis notifier disabled", "error", err)
		} else {
			registry.Register("redis", rn)
		}
	}

	if cfg.Webhook.URL != "" {
		wn, err := notify.NewWebhookNotifier(notify.WebhookConfig{
			URL:     cfg.Webhook.URL,
			Retries: cfg.Webhook.Retries,
		})
		if err != nil {
			slog.Warn("webhook notifier disabled", "error", err)
		} else {
			registry.Register("webhook", wn)
		}
	}

	slog.Info("notifiers registered", "notifiers", registry.List())
	return registry, hub
}

func newValidator(cfg *config.Config) *validation.Validator {
	return validation.NewValidator(validation.Rules{
		MinDescriptionLength: cfg.Validation.MinDescriptionLength,
		MinPrice:             cfg.Validation.MinPrice,
		MaxPrice:             cfg.Validation.MaxPrice,
	})
}
