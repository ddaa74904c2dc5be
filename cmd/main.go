package main

import (
	"context"
	"database/sql"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/alexgthegreat/StudySync-22/internal/app/registry"
	"github.com/alexgthegreat/StudySync-22/internal/app/server"
	"github.com/alexgthegreat/StudySync-22/internal/config"
	"github.com/alexgthegreat/StudySync-22/internal/core/services"
	"github.com/alexgthegreat/StudySync-22/internal/platform/logger"
	"github.com/alexgthegreat/StudySync-22/internal/platform/telemetry"
	"github.com/alexgthegreat/StudySync-22/internal/plugins/postgres"
	redisPlugin "github.com/alexgthegreat/StudySync-22/internal/plugins/redis"
)

func main() {
	// Context
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Config
	cfg := config.Load()

	// Logger
	log := logger.NewLogger(*cfg)
	log.Info("starting application")

	otelShutdown, err := telemetry.InitTelemetry(ctx, *cfg)
	if err != nil {
		log.Error("failed to initialize telemetry", "err", err)
	}
	defer func() {
		if otelShutdown == nil {
			return
		}
		log.Info("flushing telemetry...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			log.Error("telemetry shutdown failed", "err", err)
		}
	}()

	// Infra
	var pdb *sql.DB
	if pdb, err = postgres.New(ctx, *cfg.Postgres); err != nil {
		log.Error("postgres connection failed", "DSN", cfg.Postgres.DSN, "err", err)
		return
	}
	defer pdb.Close()
	log.Info("postgres connected")
	var rdb *goredis.Client
	if rdb, err = redisPlugin.NewRedisClient(ctx, *cfg.Redis); err != nil {
		log.Error("redis connection failed", "url", cfg.Redis.URL, "err", err)
		return
	}
	defer rdb.Close()
	log.Info("redis connected")

	// Adapters
	msgRepo := postgres.NewMessageRepo(pdb)
	memberRepo := postgres.NewMembershipRepo(pdb)
	txManager := postgres.NewTxManager(pdb)
	historyCache := redisPlugin.NewRedisHistoryCache(rdb, cfg.Chat.HistoryLimit)

	// Core
	hub := registry.NewRegistry()
	groups := registry.NewGroups()
	tokenSvc := services.NewTokenService(cfg.SecretToken)
	chatSvc := services.NewChatService(log, hub, groups, memberRepo, msgRepo, historyCache, txManager, cfg.Chat)

	// Server
	srv := server.NewServer(log, cfg, tokenSvc, chatSvc)
	if err := srv.Start(ctx); err != nil {
		log.Error("server stopped", "err", err)
	}
}
