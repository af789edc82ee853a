package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/civchange/pdf2psd-back/internal/config"
	"github.com/civchange/pdf2psd-back/internal/conversion"
	"github.com/civchange/pdf2psd-back/internal/domain"
	httpserver "github.com/civchange/pdf2psd-back/internal/http"
	"github.com/civchange/pdf2psd-back/internal/http/handlers"
	"github.com/civchange/pdf2psd-back/internal/logger"
	"github.com/civchange/pdf2psd-back/internal/progress"
	"github.com/civchange/pdf2psd-back/internal/queue"
	"github.com/civchange/pdf2psd-back/internal/quota"
	"github.com/civchange/pdf2psd-back/internal/repository"
	"github.com/civchange/pdf2psd-back/internal/service"
	"github.com/civchange/pdf2psd-back/internal/worker"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg := config.Load()
	log := logger.New(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	users, usersCloser := setupUsers(ctx, cfg, log)
	defer usersCloser()

	broadcaster := setupBroadcaster(ctx, cfg, log)
	defer func() {
		if err := broadcaster.Close(); err != nil {
			log.Warn().Err(err).Msg("closing broadcaster")
		}
	}()

	store := repository.NewJobStore()
	localQueue := queue.NewLocalQueue(cfg.QueueCapacity, log)
	chain := setupChain(cfg, log)

	conversions := service.NewConversionService(
		store,
		quota.NewGate(users),
		chain,
		broadcaster,
		localQueue,
		service.ConversionServiceConfig{
			UploadDir:           cfg.UploadDir,
			OutputDir:           cfg.OutputDir,
			MaxUploadBytes:      cfg.MaxUploadBytes,
			DeleteAfterDownload: cfg.DeleteAfterDownload,
		},
		log,
	)

	handler := httpserver.NewRouter(ctx, httpserver.RouterDependencies{
		API:            handlers.NewAPI(conversions, cfg.CORSAllowedOrigins, log),
		Logger:         log,
		JWTSecret:      cfg.JWTSecret,
		CORSOrigins:    cfg.CORSAllowedOrigins,
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,
	})
	if cfg.JWTSecret == "" {
		log.Warn().Msg("JWT_SECRET not configured, authenticated routes will reject every request")
	}

	// Conversions can run for minutes, so the write timeout only guards
	// the download stream and the idle websocket is kept alive by pings.
	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       5 * time.Minute,
		WriteTimeout:      10 * time.Minute,
		IdleTimeout:       60 * time.Second,
	}

	processor := worker.NewProcessor(localQueue, conversions, cfg.WorkerConcurrency, log)
	janitor := worker.NewJanitor(store, cfg.Retention, cfg.JanitorInterval, log)

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		processor.Start(groupCtx)
		return nil
	})
	group.Go(func() error {
		janitor.Start(groupCtx)
		return nil
	})
	group.Go(func() error {
		log.Info().Str("port", cfg.Port).Msg("api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		log.Info().Msg("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil {
		log.Error().Err(err).Msg("server stopped with error")
		os.Exit(1)
	}
	log.Info().Msg("server stopped")
}

func setupUsers(
	ctx context.Context,
	cfg config.Config,
	log zerolog.Logger,
) (repository.UsersRepository, func()) {
	if cfg.DatabaseURL != "" {
		pgRepo, err := repository.NewPostgresUsersRepository(ctx, cfg.DatabaseURL)
		if err == nil {
			log.Info().Msg("postgres users repository initialized")
			return pgRepo, pgRepo.Close
		}
		log.Error().Err(err).Msg("failed to initialize postgres users repository, fallback to memory")
	} else {
		log.Info().Msg("DATABASE_URL not configured, using in-memory users repository")
	}

	memory := repository.NewMemoryUsersRepository()
	if cfg.DevUserID != "" {
		plan := domain.ParsePlan(cfg.DevUserPlan)
		user := &domain.User{ID: cfg.DevUserID, Plan: plan, ConversionsLeft: max(plan.Allotment(), 0)}
		if err := memory.SaveUser(ctx, user); err != nil {
			log.Error().Err(err).Msg("failed to seed development user")
		} else {
			log.Info().Str("user_id", user.ID).Str("plan", string(plan)).Msg("seeded development user")
		}
	}
	return memory, func() {}
}

func setupBroadcaster(ctx context.Context, cfg config.Config, log zerolog.Logger) progress.Broadcaster {
	if cfg.RedisAddr == "" {
		log.Info().Msg("REDIS_ADDR not configured, using local progress broadcaster")
		return progress.NewLocalBroadcaster(log)
	}

	redisBroadcaster, err := progress.NewRedisBroadcaster(ctx, progress.RedisConfig{
		Addr:          cfg.RedisAddr,
		Password:      cfg.RedisPassword,
		DB:            cfg.RedisDB,
		ChannelPrefix: cfg.RedisChannelPrefix,
	}, log)
	if err != nil {
		log.Error().Err(err).Msg("failed to initialize redis broadcaster, fallback to local")
		return progress.NewLocalBroadcaster(log)
	}
	log.Info().Str("addr", cfg.RedisAddr).Msg("redis progress broadcaster initialized")
	return redisBroadcaster
}

// setupChain orders strategies from highest to lowest fidelity.
func setupChain(cfg config.Config, log zerolog.Logger) *conversion.Chain {
	links := make([]conversion.Link, 0, 3)
	if cfg.RemoteConverterURL != "" {
		remote := conversion.NewRemoteStrategy(conversion.RemoteStrategyConfig{
			BaseURL:    cfg.RemoteConverterURL,
			Timeout:    cfg.RemoteConverterTimeout,
			MaxRetries: cfg.RemoteConverterMaxRetries,
			RetryDelay: cfg.RemoteConverterRetryDelay,
		})
		links = append(links, conversion.Link{
			Strategy:       remote,
			InitTimeout:    cfg.RemoteConverterInitTimeout,
			ExecTimeout:    remote.ExecBudget(),
			HighFidelity:   true,
			MinOutputBytes: cfg.MinOutputBytes,
		})
	}
	for _, density := range []int{300, 150} {
		links = append(links, conversion.Link{
			Strategy: conversion.NewCommandStrategy(conversion.CommandStrategyConfig{
				Binary:  cfg.MagickBinary,
				Density: density,
			}),
			InitTimeout:    cfg.MagickInitTimeout,
			ExecTimeout:    cfg.MagickExecTimeout,
			HighFidelity:   density >= 300,
			MinOutputBytes: cfg.MinOutputBytes,
		})
	}

	chain := conversion.NewChain(log, links...)
	log.Info().Strs("strategies", chain.Names()).Msg("conversion chain configured")
	return chain
}
