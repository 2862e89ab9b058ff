package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"cyberguard-progress-service/internal/app"
	"cyberguard-progress-service/internal/audit"
	"cyberguard-progress-service/internal/catalog"
	"cyberguard-progress-service/internal/config"
	"cyberguard-progress-service/internal/infra/amqp"
	"cyberguard-progress-service/internal/infra/memory"
	"cyberguard-progress-service/internal/infra/mongo"
	"cyberguard-progress-service/internal/infra/postgres"
	redisinfra "cyberguard-progress-service/internal/infra/redis"
	"cyberguard-progress-service/internal/logger"
	"cyberguard-progress-service/internal/metrics"
	transport "cyberguard-progress-service/internal/transport/http"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the progress API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

// components holds the wired adapters and the teardown for each of them.
type components struct {
	store    app.Store
	modules  app.ModuleSource
	locker   app.Locker
	relay    *redisinfra.SnapshotRelay
	limiter  transport.SubmissionLimiter
	activity transport.ActivityReader
	sinks    []audit.Sink
	closers  []func(context.Context)
}

func (c *components) close(ctx context.Context) {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i](ctx)
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if cfg.Auth.JWTSecret == "" {
		return errors.New("auth.jwtSecret or JWT_SECRET must be set")
	}
	log, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer log.Sync()
	gin.SetMode(cfg.Server.Mode)

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	comp, err := wire(ctx, cfg, log)
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		comp.close(closeCtx)
	}()
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	var relay app.Broadcaster
	if comp.relay != nil {
		relay = comp.relay
	}
	feed := app.NewFeed()
	service := app.NewService(app.Dependencies{
		Modules:  comp.modules,
		Store:    comp.store,
		Locker:   comp.locker,
		Audit:    audit.NewDispatcher(log, m, comp.sinks...),
		Feed:     feed,
		Relay:    relay,
		Log:      log,
		Recorder: m,
	}, app.Settings{
		PassThreshold: cfg.Scoring.PassThreshold,
		PageSize:      cfg.Leaderboard.PageSize,
		TopSize:       cfg.Leaderboard.TopSize,
		NearRadius:    cfg.Leaderboard.NearRadius,
	})

	router := transport.NewRouter(ctx, transport.RouterConfig{
		Service:           service,
		Log:               log,
		Metrics:           m,
		JWTSecret:         cfg.Auth.JWTSecret,
		AllowedOrigins:    cfg.Server.AllowedOrigins,
		RequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
		Submissions:       comp.limiter,
		Activity:          comp.activity,
	})

	server := &http.Server{
		Addr:              ":" + finalPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting progress service", "port", finalPort, "mode", cfg.Server.Mode)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	if comp.relay != nil {
		g.Go(func() error {
			return comp.relay.Run(gctx, feed)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// wire connects every configured backend. Unconfigured backends fall back to
// in-process implementations so the service runs standalone in development.
func wire(ctx context.Context, cfg config.Config, log *logger.Logger) (*components, error) {
	comp := &components{sinks: []audit.Sink{audit.NewLogSink(log)}}
	moduleTTL := config.TTLDuration(cfg.Cache.ModuleTTL, 10*time.Minute)

	var loader memory.ModuleLoader
	if cfg.Postgres.URL != "" {
		db := postgres.Open(cfg.Postgres.URL)
		comp.closers = append(comp.closers, func(context.Context) { _ = db.Close() })
		if err := migrateDB(ctx, db, log); err != nil {
			return comp, fmt.Errorf("migrate: %w", err)
		}
		pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return comp, fmt.Errorf("connect postgres: %w", err)
		}
		comp.closers = append(comp.closers, func(context.Context) { pool.Close() })
		comp.store = postgres.NewStore(db)
		loader = postgres.NewModuleLoader(pool)
	} else {
		log.Warn("postgres not configured, using in-memory store with the sample catalog")
		mods, err := catalog.SampleModules()
		if err != nil {
			return comp, err
		}
		store := memory.NewStore()
		for _, b := range catalog.DefaultBadges() {
			if err := store.Badges().Upsert(ctx, b); err != nil {
				return comp, err
			}
		}
		comp.store = store
		loader = memory.NewStaticModuleLoader(mods)
	}

	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		comp.closers = append(comp.closers, func(context.Context) { _ = client.Close() })
		if err := client.Ping(ctx).Err(); err != nil {
			return comp, fmt.Errorf("connect redis: %w", err)
		}
		comp.modules = redisinfra.NewModuleRepository(client, loader, moduleTTL)
		comp.locker = redisinfra.NewLocker(client, config.TTLDuration(cfg.Redis.LockTTL, 10*time.Second))
		comp.limiter = redisinfra.NewRateLimiter(client, cfg.RateLimit.Submissions, config.TTLDuration(cfg.RateLimit.SubmissionWindow, time.Minute))
		comp.relay = redisinfra.NewSnapshotRelay(client, log)
	} else {
		comp.modules = memory.NewModuleRepository(loader, moduleTTL)
		comp.locker = memory.NewKeyedMutex()
	}

	if cfg.Mongo.URI != "" {
		sink, err := mongo.Connect(ctx, cfg.Mongo.URI, cfg.Mongo.Database)
		if err != nil {
			return comp, fmt.Errorf("connect mongo: %w", err)
		}
		comp.closers = append(comp.closers, func(ctx context.Context) { _ = sink.Close(ctx) })
		comp.sinks = append(comp.sinks, sink)
		comp.activity = sink
	}

	if cfg.AMQP.URI != "" {
		pub, err := amqp.NewPublisher(cfg.AMQP.URI, cfg.AMQP.Exchange, log)
		if err != nil {
			return comp, fmt.Errorf("connect amqp: %w", err)
		}
		comp.closers = append(comp.closers, func(context.Context) { _ = pub.Close() })
		comp.sinks = append(comp.sinks, pub)
	}
	return comp, nil
}
