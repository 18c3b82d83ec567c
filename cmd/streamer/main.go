package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/yih5025/investment-assistant-backend-sub000/cmd/streamer/internal/gateway"
	"github.com/yih5025/investment-assistant-backend-sub000/cmd/streamer/internal/hub"
	"github.com/yih5025/investment-assistant-backend-sub000/cmd/streamer/internal/market"
	"github.com/yih5025/investment-assistant-backend-sub000/cmd/streamer/internal/repository"
	"github.com/yih5025/investment-assistant-backend-sub000/cmd/streamer/internal/stream"
	"github.com/yih5025/investment-assistant-backend-sub000/pkg/config"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		panic(err)
	}

	logger, err := config.NewLogger(cfg.Logger)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	db, err := gorm.Open(postgres.Open(cfg.Postgres.DSN), &gorm.Config{})
	if err != nil {
		logger.Fatal("Connecting to postgres", zap.Error(err))
	}
	store := repository.NewPostgresStore(db)

	cacheClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	cache := repository.NewRedisCache(cacheClient, logger)

	// Calendars are shared across channels on the same venue.
	calendars := make(map[string]*market.Calendar, len(cfg.Venues))
	for name, venue := range cfg.Venues {
		cal, err := market.NewCalendar(name, venue)
		if err != nil {
			logger.Fatal("Building venue calendar", zap.Error(err))
		}
		calendars[name] = cal
	}

	channelNames := make([]string, len(cfg.Channels))
	for i, ch := range cfg.Channels {
		channelNames[i] = ch.Name
	}

	registry := hub.NewRegistry(channelNames, cfg.Stream.MaxSessions, logger)
	broadcaster := hub.NewBroadcaster(registry, logger)
	detector := stream.NewChangeDetector()

	routers := make(map[string]*stream.SourceRouter, len(cfg.Channels))
	resolvers := make(map[string]*market.PreviousCloseResolver, len(cfg.Channels))
	pipelines := make(map[string]*stream.Pipeline, len(cfg.Channels))
	for _, ch := range cfg.Channels {
		cal := calendars[ch.Venue]
		router := stream.NewSourceRouter(cache, store, cal, ch.Name, ch.Limit, logger, nil)
		resolver := market.NewPreviousCloseResolver(store, cal, ch.Name, cfg.Stream.ResolverCacheTTL, logger, nil)

		routers[ch.Name] = router
		resolvers[ch.Name] = resolver
		pipelines[ch.Name] = stream.NewPipeline(ch.Name, router, resolver, detector, registry, broadcaster, logger, nil)
	}

	signalClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	signals := repository.NewRedisSignals(signalClient, channelNames,
		cfg.Stream.BackoffInitial, cfg.Stream.BackoffMax, cfg.Stream.BackoffMaxFailures, logger)

	listener := stream.NewListener(pipelines, signals, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	listenerDone := make(chan error, 1)
	go func() { listenerDone <- listener.Run(ctx) }()

	// Closed markets get no upstream signals, so a scheduler keeps store-fed
	// batches moving and the resolver cache bounded.
	scheduler := gocron.NewScheduler(time.UTC)
	scheduler.Every(cfg.Stream.ClosedRefreshEvery).Do(func() {
		for name, router := range routers {
			if !router.MarketOpen() {
				listener.Notify(name)
			}
		}
	})
	scheduler.Every(1).Hour().Do(func() {
		for name, resolver := range resolvers {
			if removed := resolver.Purge(); removed > 0 {
				logger.Debug("Purged resolver cache",
					zap.String("channel", name),
					zap.Int("removed", removed))
			}
		}
	})
	scheduler.StartAsync()
	defer scheduler.Stop()

	handler := gateway.NewHandler(registry, pipelines, cfg.Stream, logger)
	mux := http.NewServeMux()
	handler.Register(mux)

	srv := &http.Server{Addr: cfg.App.Port, Handler: mux}
	go func() {
		logger.Info("Server Started", zap.String("port", cfg.App.Port))
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			logger.Fatal("HTTP Error", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case <-stop:
	case err := <-listenerDone:
		logger.Error("Signal listener exited", zap.Error(err))
	}

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	srv.Shutdown(shutdownCtx)

	cache.Close()
	signals.Close()
	logger.Info("Shutdown Complete")
}
