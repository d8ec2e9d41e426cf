package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"bot-dashboard/config"
	"bot-dashboard/internal/accounts"
	"bot-dashboard/internal/activation"
	"bot-dashboard/internal/announcements"
	"bot-dashboard/internal/api"
	"bot-dashboard/internal/auth"
	"bot-dashboard/internal/cache"
	"bot-dashboard/internal/database"
	"bot-dashboard/internal/events"
	"bot-dashboard/internal/funds"
	"bot-dashboard/internal/logging"
	"bot-dashboard/internal/plans"
	"bot-dashboard/internal/sysconfig"
	"bot-dashboard/internal/vault"

	"github.com/rs/zerolog"
)

func main() {
	sampleConfig := flag.String("sample-config", "", "write a sample config file to this path and exit")
	flag.Parse()

	if *sampleConfig != "" {
		if err := config.GenerateSampleConfig(*sampleConfig); err != nil {
			fmt.Fprintf(os.Stderr, "failed to write sample config: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Sample config written to %s\n", *sampleConfig)
		return
	}

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// Initialize structured logging
	logger := logging.New(&logging.Config{
		Level:       cfg.LoggingConfig.Level,
		Output:      cfg.LoggingConfig.Output,
		JSONFormat:  cfg.LoggingConfig.JSONFormat,
		IncludeFile: cfg.LoggingConfig.IncludeFile,
		Component:   "main",
	})
	logging.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Secrets from Vault override file and environment values
	vaultClient, err := vault.NewClient(cfg.VaultConfig)
	if err != nil {
		return fmt.Errorf("failed to create vault client: %w", err)
	}
	if vaultClient.IsEnabled() {
		if err := vaultClient.Health(ctx); err != nil {
			return err
		}
		secrets, err := vaultClient.Load(ctx)
		if err != nil {
			return err
		}
		secrets.Apply(cfg)
		logger.Info().Msg("Secrets loaded from vault")
	}

	// Database
	db, err := database.NewDB(database.Config{
		Host:     cfg.DatabaseConfig.Host,
		Port:     cfg.DatabaseConfig.Port,
		User:     cfg.DatabaseConfig.User,
		Password: cfg.DatabaseConfig.Password,
		Database: cfg.DatabaseConfig.Database,
		SSLMode:  cfg.DatabaseConfig.SSLMode,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	if err := db.RunMigrations(ctx); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	repo := database.NewRepository(db)

	// Redis is optional. Consumers treat a nil cache as disabled.
	var flagCache sysconfig.Cache
	var cacheStats api.CacheStats
	if cfg.RedisConfig.Enabled {
		cs, err := cache.NewCacheService(cfg.RedisConfig, logger)
		if err != nil {
			logger.Warn().Err(err).Msg("Redis cache unavailable, continuing without cache")
		} else {
			defer cs.Close()
			flagCache = cs
			cacheStats = cs
		}
	}

	eventBus := events.NewEventBus()

	flags := sysconfig.NewService(repo, flagCache, eventBus, cfg.RedisConfig.TTL, logger)

	tracker := activation.NewTracker(repo, logger,
		activation.WithPolicy(activation.ParseResumePolicy(cfg.ActivationConfig.ResumePolicy)),
		activation.WithEventBus(eventBus),
		activation.WithUserLister(repo),
	)
	logger.Info().Str("resume_policy", string(tracker.Policy())).Msg("Bot activation tracker ready")

	accountService := accounts.NewService(repo, eventBus, logger)
	fundsService := funds.NewService(repo, eventBus, logger)
	planService := plans.NewService(repo, flags, eventBus, logger)

	var source announcements.Source
	if cfg.TelegramConfig.Enabled {
		tg, err := announcements.NewTelegramSource(announcements.TelegramConfig{
			BotToken:  cfg.TelegramConfig.BotToken,
			ChannelID: cfg.TelegramConfig.ChannelID,
			MaxPosts:  cfg.TelegramConfig.MaxPosts,
		})
		if err != nil {
			logger.Warn().Err(err).Msg("Telegram channel unavailable, announcements will not sync")
		} else {
			source = tg
		}
	}
	announcementService := announcements.NewService(repo, source, flags, flagCache, eventBus, announcements.Config{
		Limit:    cfg.TelegramConfig.MaxPosts,
		CacheTTL: cfg.RedisConfig.TTL,
	}, logger)

	authService, err := auth.NewService(repo, auth.Config{
		JWTSecret:            cfg.AuthConfig.JWTSecret,
		AccessTokenDuration:  cfg.AuthConfig.AccessTokenDuration,
		RefreshTokenDuration: cfg.AuthConfig.RefreshTokenDuration,
		MinPasswordLength:    cfg.AuthConfig.MinPasswordLength,
		TempPasswordLength:   cfg.AuthConfig.TempPasswordLength,
		MaxSessionsPerUser:   cfg.AuthConfig.MaxSessionsPerUser,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to create auth service: %w", err)
	}
	authService.SetPlanAssigner(planService)
	authService.SetEventBus(eventBus)

	if err := auth.SeedOperator(ctx, repo, authService.PasswordManager(), auth.OperatorSeed{
		Email:     cfg.OperatorSeedConfig.Email,
		Password:  cfg.OperatorSeedConfig.Password,
		FirstName: cfg.OperatorSeedConfig.FirstName,
		LastName:  cfg.OperatorSeedConfig.LastName,
	}, logger); err != nil {
		return fmt.Errorf("failed to seed operator: %w", err)
	}

	// Background workers stop with ctx
	authService.StartSessionCleanup(ctx, cfg.AuthConfig.SessionCleanupInterval)
	if source != nil {
		go announcementService.Run(ctx, cfg.TelegramConfig.PollInterval)
	}

	tlsCert, tlsKey := "", ""
	if cfg.ServerConfig.TLSEnabled {
		tlsCert, tlsKey = cfg.ServerConfig.TLSCertFile, cfg.ServerConfig.TLSKeyFile
	}

	server, err := api.NewServer(api.ServerConfig{
		Port:           cfg.ServerConfig.Port,
		Host:           cfg.ServerConfig.Host,
		ProductionMode: cfg.LoggingConfig.JSONFormat,
		AllowedOrigins: api.ParseOrigins(cfg.ServerConfig.AllowedOrigins),
		ReadTimeout:    time.Duration(cfg.ServerConfig.ReadTimeout) * time.Second,
		WriteTimeout:   time.Duration(cfg.ServerConfig.WriteTimeout) * time.Second,
		AuthRateLimit:  cfg.ServerConfig.AuthRateLimit,
		TLSCertFile:    tlsCert,
		TLSKeyFile:     tlsKey,
	}, api.Services{
		Auth:          authService,
		Activation:    tracker,
		Accounts:      accountService,
		Funds:         fundsService,
		Plans:         planService,
		Config:        flags,
		Announcements: announcementService,
		Health:        repo,
		Cache:         cacheStats,
		EventBus:      eventBus,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Start(ctx)
	}()

	select {
	case err := <-serverErr:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}

	return shutdown(server, time.Duration(cfg.ServerConfig.ShutdownTimeout)*time.Second, logger)
}

func shutdown(server *api.Server, timeout time.Duration, logger zerolog.Logger) error {
	logger.Info().Msg("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("error shutting down web server: %w", err)
	}

	logger.Info().Msg("Shutdown complete")
	return nil
}
