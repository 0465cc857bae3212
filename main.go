package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"golang.org/x/sync/errgroup"

	"github.com/wfunc/planningpoker/broadcast"
	"github.com/wfunc/planningpoker/config"
	"github.com/wfunc/planningpoker/logger"
	"github.com/wfunc/planningpoker/monitor"
	"github.com/wfunc/planningpoker/persistence"
	"github.com/wfunc/planningpoker/room"
	"github.com/wfunc/planningpoker/rpc"
	"github.com/wfunc/planningpoker/server"
)

func main() {
	// Initialize logger
	logger.Init("info")

	// Load configuration
	cfg, err := config.LoadConfig(".")
	if err != nil {
		logger.Log.Fatalf("Failed to load configuration: %v", err)
	}
	logger.Init(cfg.Log.Level)
	defer logger.Sync()

	var redisClient *redis.Client
	if cfg.Store.Backend == "redis" || cfg.Notifier.Backend == "redis" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			logger.Log.Fatalf("Failed to connect to redis at %s: %v", cfg.Redis.Addr, err)
		}
		defer redisClient.Close()
	}

	// Initialize room store
	store, err := openStore(cfg, redisClient)
	if err != nil {
		logger.Log.Fatalf("Failed to open %s store: %v", cfg.Store.Backend, err)
	}
	defer store.Close()
	logger.Log.Infof("Room store: %s", cfg.Store.Backend)

	notifier, err := openNotifier(cfg, store, redisClient)
	if err != nil {
		logger.Log.Fatalf("Failed to open %s notifier: %v", cfg.Notifier.Backend, err)
	}
	defer notifier.Close()
	logger.Log.Infof("Change notifier: %s", cfg.Notifier.Backend)

	policy, err := room.ParsePolicy(cfg.Room.Concurrency)
	if err != nil {
		logger.Log.Fatalf("Invalid room.concurrency: %v", err)
	}

	mon := monitor.NewMonitor("planning_poker")
	engine := room.NewEngine(store, notifier,
		room.WithPolicy(policy),
		room.WithObserver(mon),
		room.WithIDGenerator(room.RandomCodes(cfg.Room.CodeLength)),
		room.WithKeyPrefix(cfg.Store.KeyPrefix),
		room.WithDefaultDeck(cfg.Room.Deck),
	)

	pokerServer := server.NewPokerServer(cfg.Server.HTTPAddress, engine, notifier, mon, server.Options{
		IdleTimeout:      cfg.Session.IdleTimeout,
		PresenceInterval: cfg.Session.PresenceInterval,
		CreateAttempts:   server.DefaultCreateAttempts,
	})

	rpcServer, err := rpc.NewServer(cfg.Server.RPCAddress, rpc.NewRoomService(engine, notifier, server.DefaultCreateAttempts))
	if err != nil {
		logger.Log.Fatalf("Failed to create RPC server: %v", err)
	}

	metricsServer := &http.Server{Addr: cfg.Server.MetricsAddress, Handler: mon.Handler()}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	g.Go(pokerServer.Start)
	g.Go(rpcServer.Start)
	g.Go(func() error {
		logger.Log.Infof("Metrics listening on %s", cfg.Server.MetricsAddress)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		logger.Log.Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		rpcServer.Stop()
		return errors.Join(pokerServer.Shutdown(shutdownCtx), metricsServer.Shutdown(shutdownCtx))
	})

	if err := g.Wait(); err != nil {
		logger.Log.Errorf("Server stopped: %v", err)
	}
}

func openStore(cfg *config.Config, redisClient *redis.Client) (persistence.RoomStore, error) {
	switch cfg.Store.Backend {
	case "", "memory":
		return persistence.NewMemoryStore(cfg.Store.KeyPrefix)
	case "postgres":
		return persistence.NewGormPostgreSQLDSN(cfg.Database.Postgres.DSN())
	case "sqlite":
		return persistence.NewGormSQLite(cfg.Database.SQLite.Path)
	case "redis":
		return persistence.NewRedisStore(redisClient, cfg.Store.KeyPrefix), nil
	}
	return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
}

func openNotifier(cfg *config.Config, store persistence.RoomStore, redisClient *redis.Client) (broadcast.Notifier, error) {
	switch cfg.Notifier.Backend {
	case "", "local":
		return broadcast.NewLocalNotifier(), nil
	case "redis":
		return broadcast.NewRedisNotifier(redisClient, ""), nil
	case "postgres":
		dsn := cfg.Database.Postgres.DSN()
		if gs, ok := store.(*persistence.GormStore); ok && cfg.Store.Backend == "postgres" {
			db, err := gs.DB().DB()
			if err != nil {
				return nil, err
			}
			return broadcast.NewPQNotifier(dsn, db), nil
		}
		db, err := sql.Open("postgres", dsn)
		if err != nil {
			return nil, err
		}
		return broadcast.NewPQNotifier(dsn, db), nil
	}
	return nil, fmt.Errorf("unknown notifier backend %q", cfg.Notifier.Backend)
}
