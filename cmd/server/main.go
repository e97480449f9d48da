// Copyright 2026 The SecureDocs Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/securedocs/securedocs/internal/audit"
	"github.com/securedocs/securedocs/internal/config"
	"github.com/securedocs/securedocs/internal/document"
	"github.com/securedocs/securedocs/internal/enforce"
	"github.com/securedocs/securedocs/internal/identity"
	"github.com/securedocs/securedocs/internal/observability/logger"
	"github.com/securedocs/securedocs/internal/observability/metrics"
	"github.com/securedocs/securedocs/internal/observability/tracing"
	"github.com/securedocs/securedocs/internal/otp"
	"github.com/securedocs/securedocs/internal/storage"
	"github.com/securedocs/securedocs/internal/store/postgres"
	"github.com/securedocs/securedocs/internal/token"
	transportHTTP "github.com/securedocs/securedocs/internal/transport/http"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger.InitLogger(logger.Config{
		Level:       cfg.Observability.LogLevel,
		Format:      cfg.Observability.LogFormat,
		ServiceName: cfg.Observability.ServiceName,
	})
	slog.Info("starting securedocs server")

	// Phase: CLI Commands
	if len(os.Args) > 1 && os.Args[1] == "bootstrap" {
		if err := runBootstrap(cfg); err != nil {
			fmt.Printf("Bootstrap failed: %v\n", err)
			os.Exit(1)
		}
		os.Exit(0)
	}

	if len(os.Args) > 1 && os.Args[1] == "migrate" {
		if err := runMigrate(cfg); err != nil {
			fmt.Printf("Migration failed: %v\n", err)
			os.Exit(1)
		}
		os.Exit(0)
	}

	// Initialize context
	ctx := context.Background()

	// Initialize tracer
	tracer, err := tracing.New(ctx, tracing.Config{
		Enabled:        cfg.Observability.OTELEnabled,
		ServiceName:    cfg.Observability.ServiceName,
		ServiceVersion: cfg.Observability.ServiceVersion,
		SamplingRate:   1.0,
	})
	if err != nil {
		slog.Error("failed to initialize tracer", logger.Error(err))
	}
	defer tracer.Shutdown(ctx)

	// Initialize meter
	meter, err := metrics.New(ctx, metrics.Config{
		Enabled: cfg.Observability.OTELEnabled,
	}, cfg.Observability.ServiceName)
	if err != nil {
		slog.Error("failed to initialize meter", logger.Error(err))
	}

	var enforcementMetrics *metrics.EnforcementMetrics
	if meter != nil {
		enforcementMetrics, err = metrics.NewEnforcementMetrics(meter)
		if err != nil {
			slog.Error("failed to initialize enforcement metrics", logger.Error(err))
		}
	}

	// Initialize database
	db, err := postgres.New(ctx, postgres.Config{
		Host:         cfg.Database.Host,
		Port:         cfg.Database.Port,
		User:         cfg.Database.User,
		Password:     cfg.Database.Password,
		Database:     cfg.Database.Database,
		SSLMode:      cfg.Database.SSLMode,
		MaxOpenConns: cfg.Database.MaxOpenConns,
		MaxIdleConns: cfg.Database.MaxIdleConns,
	})
	if err != nil {
		slog.Error("failed to connect to database", logger.Error(err))
		os.Exit(1)
	}
	defer db.Close()
	slog.Info("connected to database")

	// Initialize repositories
	userRepo := postgres.NewUserRepository(db)
	documentRepo := postgres.NewDocumentRepository(db)

	// Initialize file storage
	fileStore, err := storage.NewFilesystemStore(cfg.Storage.RootDir, cfg.Storage.AllowedExtensions)
	if err != nil {
		slog.Error("failed to initialize file storage", logger.Error(err))
		os.Exit(1)
	}

	// Initialize helpers
	auditLogger := audit.NewSlogLogger()
	passwordHasher := identity.NewPasswordHasher(
		cfg.Security.Argon2Memory,
		cfg.Security.Argon2Iterations,
		cfg.Security.Argon2Parallelism,
		cfg.Security.Argon2SaltLength,
		cfg.Security.Argon2KeyLength,
	)

	// Initialize services
	identityService := identity.NewService(
		userRepo,
		passwordHasher,
		auditLogger,
		cfg.Security.LockoutMaxAttempts,
		enforcementMetrics,
	)
	documentService := document.NewService(documentRepo, auditLogger)
	otpManager := otp.NewManager(userRepo, auditLogger, nil, cfg.Otp.IssuerName)
	tokenManager := token.NewManager(
		cfg.Token.Secret,
		cfg.Token.Issuer,
		cfg.Token.AccessTTL,
		cfg.Token.RefreshTTL,
	)
	pipeline := enforce.NewPipeline(userRepo, documentRepo, otpManager, auditLogger, enforcementMetrics)

	// Initialize Bootstrap Service
	bootstrapService := identity.NewBootstrapService(identityService, auditLogger)

	// Run Bootstrap (ENV driven)
	if err := bootstrapService.Bootstrap(ctx); err != nil {
		slog.Error("bootstrap failed", logger.Error(err))
	}

	// Rate Limiters. The credential and OTP endpoints get a much
	// tighter budget than the rest of the API.
	apiLimiter := transportHTTP.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)
	authLimiter := transportHTTP.NewRateLimiter(1, 5)

	// Initialize HTTP handler
	handler := transportHTTP.NewHandler(
		identityService,
		documentService,
		otpManager,
		tokenManager,
		pipeline,
		fileStore,
		auditLogger,
		cfg.Storage.MaxUploadBytes,
	)

	// Create router
	router := transportHTTP.NewRouter(handler, apiLimiter, authLimiter)

	// Create HTTP server
	addr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server
	go func() {
		slog.Info("starting http server", logger.Component("server"), logger.Operation("listen"))
		slog.Info(fmt.Sprintf("listening on %s", addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", logger.Error(err))
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down server")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", logger.Error(err))
	}

	slog.Info("server stopped")
}

func runBootstrap(cfg *config.Config) error {
	ctx := context.Background()
	db, err := postgres.New(ctx, postgres.Config{
		Host:         cfg.Database.Host,
		Port:         cfg.Database.Port,
		User:         cfg.Database.User,
		Password:     cfg.Database.Password,
		Database:     cfg.Database.Database,
		SSLMode:      cfg.Database.SSLMode,
		MaxOpenConns: cfg.Database.MaxOpenConns,
		MaxIdleConns: cfg.Database.MaxIdleConns,
	})
	if err != nil {
		return err
	}
	defer db.Close()

	userRepo := postgres.NewUserRepository(db)
	auditLogger := audit.NewSlogLogger()
	passwordHasher := identity.NewPasswordHasher(
		cfg.Security.Argon2Memory,
		cfg.Security.Argon2Iterations,
		cfg.Security.Argon2Parallelism,
		cfg.Security.Argon2SaltLength,
		cfg.Security.Argon2KeyLength,
	)

	identityService := identity.NewService(
		userRepo,
		passwordHasher,
		auditLogger,
		cfg.Security.LockoutMaxAttempts,
		nil,
	)
	bootstrapService := identity.NewBootstrapService(identityService, auditLogger)

	return bootstrapService.Bootstrap(ctx)
}

func runMigrate(cfg *config.Config) error {
	ctx := context.Background()
	db, err := postgres.New(ctx, postgres.Config{
		Host:         cfg.Database.Host,
		Port:         cfg.Database.Port,
		User:         cfg.Database.User,
		Password:     cfg.Database.Password,
		Database:     cfg.Database.Database,
		SSLMode:      cfg.Database.SSLMode,
		MaxOpenConns: cfg.Database.MaxOpenConns,
		MaxIdleConns: cfg.Database.MaxIdleConns,
	})
	if err != nil {
		return err
	}
	defer db.Close()

	fmt.Println("Applying initial schema...")
	if err := db.Migrate(ctx, postgres.InitialSchema); err != nil {
		return err
	}
	fmt.Println("Migration successful.")
	return nil
}
