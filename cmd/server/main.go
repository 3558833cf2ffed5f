// Copyright 2026 The OpenTrusty Authors
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

	"github.com/opentrusty/idp/internal/account"
	"github.com/opentrusty/idp/internal/audit"
	"github.com/opentrusty/idp/internal/clients"
	"github.com/opentrusty/idp/internal/config"
	"github.com/opentrusty/idp/internal/federation"
	"github.com/opentrusty/idp/internal/jose"
	"github.com/opentrusty/idp/internal/keys"
	"github.com/opentrusty/idp/internal/oauth2"
	"github.com/opentrusty/idp/internal/observability/logger"
	"github.com/opentrusty/idp/internal/observability/metrics"
	"github.com/opentrusty/idp/internal/observability/tracing"
	"github.com/opentrusty/idp/internal/session"
	"github.com/opentrusty/idp/internal/store/postgres"
	transportHTTP "github.com/opentrusty/idp/internal/transport/http"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger.InitLogger(logger.Config{
		Level:       cfg.Observability.LogLevel,
		Format:      cfg.Observability.LogFormat,
		ServiceName: cfg.Observability.ServiceName,
	})
	slog.Info("starting opentrusty identity provider")

	ctx := context.Background()

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

	meter, err := metrics.New(ctx, metrics.Config{Enabled: cfg.Observability.OTELEnabled}, cfg.Observability.ServiceName)
	if err != nil {
		slog.Error("failed to initialize meter", logger.Error(err))
	}
	if meter != nil {
		defer meter.Shutdown(ctx)
	}

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

	auditLogger := audit.NewSlogLogger()

	clientRepo := postgres.NewClientRepository(db)
	codeRepo := postgres.NewAuthorizationCodeRepository(db)
	refreshRepo := postgres.NewRefreshTokenRepository(db)
	stateRepo := postgres.NewStateRepository(db)
	keyRepo := postgres.NewKeyRepository(db)
	userRepo := postgres.NewUserRepository(db)
	credentialRepo := postgres.NewCredentialRepository(db)

	keyManager := keys.NewManager(keyRepo, cfg.Security.KeyEncryptionKey, 900*time.Second)
	if err := keyManager.Load(ctx); err != nil {
		slog.Error("failed to load signing keys", logger.Error(err))
		os.Exit(1)
	}
	if _, err := keyManager.LatestActive(jose.RS256); err != nil {
		slog.Info("no active signing key found, generating one")
		if _, err := keyManager.Generate(ctx, jose.RS256); err != nil {
			slog.Error("failed to generate signing key", logger.Error(err))
			os.Exit(1)
		}
	}

	passwordHasher := account.NewPasswordHasher(
		cfg.Security.Argon2Memory,
		cfg.Security.Argon2Iterations,
		cfg.Security.Argon2Parallelism,
		cfg.Security.Argon2SaltLength,
		cfg.Security.Argon2KeyLength,
	)
	passwordAuth := account.NewArgon2Authenticator(
		userRepo,
		credentialRepo,
		passwordHasher,
		auditLogger,
		cfg.Security.LockoutMaxAttempts,
		cfg.Security.LockoutDuration,
	)

	clientsService := clients.NewService(clientRepo)

	var oauth2Opts []oauth2.Option
	var federationOpts []federation.Option
	if meter != nil {
		oauth2Opts = append(oauth2Opts, oauth2.WithMetrics(meter))
		federationOpts = append(federationOpts, federation.WithMetrics(meter))
	}

	oauth2Service := oauth2.NewService(
		codeRepo,
		refreshRepo,
		keyManager,
		userRepo,
		auditLogger,
		oauth2.Config{
			Issuer:          cfg.OIDC.Issuer,
			DefaultAudience: cfg.OIDC.DefaultAudience,
		},
		oauth2Opts...,
	)

	federationClient := federation.NewClient(
		federationProviders(cfg.Federation, cfg.OIDC.Issuer),
		stateRepo,
		userRepo,
		&http.Client{Timeout: 10 * time.Second},
		auditLogger,
		federationOpts...,
	)

	sessionKey := interface{}([]byte(cfg.Session.SigningSecret))
	sessionManager := session.NewManager(session.Config{
		Algorithm:  jose.HS256,
		SigningKey: sessionKey,
		VerifyKey:  sessionKey,
		TTL:        cfg.Session.Lifetime,
	})

	handler := transportHTTP.NewHandler(
		clientsService,
		oauth2Service,
		federationClient,
		keyManager,
		sessionManager,
		passwordAuth,
		userRepo,
		auditLogger,
		cfg.OIDC.Issuer,
		cfg.Server.Production,
		int(cfg.Session.Lifetime.Seconds()),
	)

	rateLimiter := transportHTTP.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)
	router := transportHTTP.NewRouter(handler, rateLimiter)

	addr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		slog.Info(fmt.Sprintf("listening on %s", addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", logger.Error(err))
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", logger.Error(err))
	}

	slog.Info("server stopped")
}

// federationProviders builds the provider registry from configuration,
// skipping any provider whose ClientID is empty.
func federationProviders(fed config.FederationConfig, issuer string) map[string]*federation.ProviderConfig {
	providers := make(map[string]*federation.ProviderConfig)

	if fed.Google.ClientID != "" {
		cfg := federation.DefaultGoogleConfig()
		cfg.ClientID = fed.Google.ClientID
		cfg.ClientSecret = fed.Google.ClientSecret
		cfg.RedirectURI = issuer + "/auth/" + federation.ProviderGoogle + "/callback"
		providers[federation.ProviderGoogle] = &cfg
	}
	if fed.Microsoft.ClientID != "" {
		cfg := federation.DefaultMicrosoftConfig(fed.Microsoft.Tenant)
		cfg.ClientID = fed.Microsoft.ClientID
		cfg.ClientSecret = fed.Microsoft.ClientSecret
		cfg.RedirectURI = issuer + "/auth/" + federation.ProviderMicrosoft + "/callback"
		providers[federation.ProviderMicrosoft] = &cfg
	}
	if fed.Facebook.ClientID != "" {
		cfg := federation.DefaultFacebookConfig()
		cfg.ClientID = fed.Facebook.ClientID
		cfg.ClientSecret = fed.Facebook.ClientSecret
		cfg.RedirectURI = issuer + "/auth/" + federation.ProviderFacebook + "/callback"
		providers[federation.ProviderFacebook] = &cfg
	}
	if fed.X.ClientID != "" {
		cfg := federation.DefaultXConfig()
		cfg.ClientID = fed.X.ClientID
		cfg.ClientSecret = fed.X.ClientSecret
		cfg.RedirectURI = issuer + "/auth/" + federation.ProviderX + "/callback"
		providers[federation.ProviderX] = &cfg
	}

	return providers
}
