package cli

import (
	"context"
	"fmt"

	"cyberguard-progress-service/internal/catalog"
	"cyberguard-progress-service/internal/config"
	"cyberguard-progress-service/internal/infra/postgres"
	redisinfra "cyberguard-progress-service/internal/infra/redis"
	"cyberguard-progress-service/internal/logger"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

// NewSeedCmd loads the bundled module catalog and badge definitions into Postgres.
func NewSeedCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Seed modules and badges",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			log, err := newLogger(cfg)
			if err != nil {
				return err
			}
			defer log.Sync()
			return runSeed(cmd.Context(), cfg, log)
		},
	}
}

func runSeed(ctx context.Context, cfg config.Config, log *logger.Logger) error {
	if cfg.Postgres.URL == "" {
		return errNoPostgres
	}
	db := postgres.Open(cfg.Postgres.URL)
	defer db.Close()
	if err := migrateDB(ctx, db, log); err != nil {
		return err
	}
	pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pool.Close()

	modules, err := catalog.SampleModules()
	if err != nil {
		return err
	}
	loader := postgres.NewModuleLoader(pool)
	ids := make([]string, 0, len(modules))
	for _, m := range modules {
		if err := loader.UpsertModule(ctx, m); err != nil {
			return fmt.Errorf("seed module %s: %w", m.ID, err)
		}
		ids = append(ids, m.ID)
	}

	store := postgres.NewStore(db)
	badges := catalog.DefaultBadges()
	for _, b := range badges {
		if err := store.Badges().Upsert(ctx, b); err != nil {
			return fmt.Errorf("seed badge %s: %w", b.ID, err)
		}
	}

	// Running instances would otherwise serve the old catalog until the TTL lapses.
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		defer client.Close()
		cache := redisinfra.NewModuleRepository(client, loader, 0)
		if err := cache.Invalidate(ctx, ids...); err != nil {
			log.Warn("module cache invalidation failed", "error", err)
		}
	}

	log.Info("catalog seeded", "modules", len(modules), "badges", len(badges))
	return nil
}
