package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/rs/zerolog"
	"github.com/trogers1052/portfolio-tracker/internal/api"
	"github.com/trogers1052/portfolio-tracker/internal/config"
	"github.com/trogers1052/portfolio-tracker/internal/database"
	"github.com/trogers1052/portfolio-tracker/internal/events"
	"github.com/trogers1052/portfolio-tracker/internal/kafka"
	"github.com/trogers1052/portfolio-tracker/internal/logger"
	"github.com/trogers1052/portfolio-tracker/internal/portfolio"
	"github.com/trogers1052/portfolio-tracker/internal/quotes"
	"github.com/trogers1052/portfolio-tracker/internal/redis"
	"github.com/trogers1052/portfolio-tracker/internal/scheduler"
	"github.com/trogers1052/portfolio-tracker/internal/stream"
)

func main() {
	// Load configuration
	cfg := config.Load()
	log := logger.New(cfg.Log)

	// Connect to database
	db, err := database.New(cfg.Database.ConnectionString())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()

	// Run migrations
	if err := runMigrations(cfg.Database.MigrationsPath, cfg.Database.ConnectionString(), log); err != nil {
		log.Fatal().Err(err).Msg("Failed to run database migrations")
	}
	log.Info().Msg("Connected to PostgreSQL database")

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := events.NewBus(log)

	// Connect to Redis
	var quoteClient quotes.Client = quotes.NewYahooClient(cfg.Quotes, log)
	var tickPublisher stream.TickPublisher
	deps := api.Dependencies{DB: db, Events: bus}

	redisClient, err := redis.New(cfg.Redis)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to connect to Redis, continuing without cache")
	} else {
		defer redisClient.Close()
		log.Info().Str("addr", cfg.Redis.Address()).Msg("Connected to Redis cache")

		quoteClient = quotes.NewCachedClient(quoteClient, redisClient, cfg.Redis.QuoteTTL, log)
		tickPublisher = redisClient
		deps.Redis = redisClient
		go relayEvents(ctx, bus, redisClient, log)
	}

	// Create Kafka producer
	if len(cfg.Kafka.Brokers) > 0 {
		producer := kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.EventsTopic, log)
		defer producer.Close()
		go producer.Run(ctx, bus)
		deps.Kafka = true
		log.Info().Strs("brokers", cfg.Kafka.Brokers).Str("topic", cfg.Kafka.EventsTopic).Msg("Kafka producer initialized")
	}

	// Load the portfolio
	svc := portfolio.NewService(db, quoteClient, bus, portfolio.Options{
		Mode:       cfg.Refresh.Mode,
		Pacing:     cfg.Refresh.Pacing,
		BatchSize:  cfg.Refresh.BatchSize,
		BatchDelay: cfg.Refresh.BatchDelay,
	}, log)
	if err := svc.Load(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to load portfolio")
	}
	deps.Portfolio = svc

	if cfg.Refresh.OnStart {
		if _, err := svc.RefreshAll(ctx); err != nil {
			log.Warn().Err(err).Msg("Startup price refresh did not start")
		}
	}

	// Scheduled refreshes
	var sched *scheduler.Scheduler
	if cfg.Refresh.Schedule != "" {
		sched = scheduler.New(ctx, log)
		if err := sched.AddRefresh(cfg.Refresh.Schedule, svc); err != nil {
			log.Fatal().Err(err).Str("schedule", cfg.Refresh.Schedule).Msg("Invalid refresh schedule")
		}
		sched.Start()
	}

	// Live tick stream
	feed := stream.NewFeed(cfg.Stream.FeedCapacity)
	deps.Feed = feed

	var ingestor *stream.Ingestor
	if source, streamCfg := newTickSource(cfg, log); source != nil {
		ingestor = stream.NewIngestor(source, feed, bus, tickPublisher, streamCfg, log)
		if err := ingestor.Start(ctx); err != nil {
			log.Warn().Err(err).Msg("Tick stream failed to start")
		}
		deps.Stream = ingestor
	}

	// Set up HTTP handler and routes
	handler := api.NewHandler(deps, log)
	router := api.SetupRoutes(handler)

	addr := cfg.Server.Host + ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:        addr,
		Handler:     router,
		ReadTimeout: 15 * time.Second,
		// WriteTimeout stays unset so /events can hold its connection open
		IdleTimeout: 60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info().Str("addr", addr).Msg("Starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	if sched != nil {
		sched.Stop()
	}
	if ingestor != nil {
		ingestor.Stop()
	}
	svc.Close()

	// Cancel context to stop the producer and the event relay
	cancel()

	log.Info().Msg("Server stopped")
}

// newTickSource picks the streaming quote source and the stream settings it connects
// with, nil when streaming is off. The Kafka source dials the configured brokers,
// so its host and port are cleared.
func newTickSource(cfg *config.Config, log zerolog.Logger) (stream.Source, config.StreamConfig) {
	streamCfg := cfg.Stream
	switch cfg.Stream.Source {
	case "websocket":
		return stream.NewWebSocketSource(cfg.Stream.Path, log), streamCfg
	case "kafka":
		streamCfg.Host, streamCfg.Port = "", 0
		return kafka.NewQuoteSource(cfg.Kafka, log), streamCfg
	case "none", "":
		log.Info().Msg("Tick stream disabled")
		return nil, streamCfg
	default:
		log.Warn().Str("source", cfg.Stream.Source).Msg("Unknown stream source, tick stream disabled")
		return nil, streamCfg
	}
}

// relayEvents mirrors bus events onto the Redis events channel
func relayEvents(ctx context.Context, bus *events.Bus, rc *redis.Client, log zerolog.Logger) {
	ch := bus.Subscribe(events.DefaultBuffer)
	defer bus.Unsubscribe(ch)

	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			if e.Type == events.TicksDelivered {
				continue
			}
			if err := rc.PublishEvent(ctx, e); err != nil {
				log.Warn().Err(err).Str("type", string(e.Type)).Msg("Failed to relay event to Redis")
			}
		}
	}
}

func runMigrations(sourceURL, databaseURL string, log zerolog.Logger) error {
	m, err := migrate.New(sourceURL, databaseURL)
	if err != nil {
		return err
	}
	defer m.Close()

	// ErrNoChange means the schema is already current
	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			log.Info().Msg("No migrations to apply; database is up to date")
			return nil
		}
		return err
	}

	version, dirty, err := m.Version()
	if err == nil {
		log.Info().Uint("version", version).Bool("dirty", dirty).Msg("Database migrations applied")
	}
	return nil
}
