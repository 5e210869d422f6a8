package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/sync/errgroup"

	"github.com/flockcare/golang_services/internal/platform/cache"
	"github.com/flockcare/golang_services/internal/platform/config"
	"github.com/flockcare/golang_services/internal/platform/database"
	"github.com/flockcare/golang_services/internal/platform/logger"
	"github.com/flockcare/golang_services/internal/platform/messagebroker"
	httpadapter "github.com/flockcare/golang_services/internal/sms_delivery_service/adapters/http"
	"github.com/flockcare/golang_services/internal/sms_delivery_service/adapters/smsprovider"
	"github.com/flockcare/golang_services/internal/sms_delivery_service/app"
	"github.com/flockcare/golang_services/internal/sms_delivery_service/domain"
	"github.com/flockcare/golang_services/internal/sms_delivery_service/repository/memory"
	"github.com/flockcare/golang_services/internal/sms_delivery_service/repository/postgres"
	redisrepo "github.com/flockcare/golang_services/internal/sms_delivery_service/repository/redis"
	"github.com/flockcare/golang_services/internal/sms_delivery_service/webhookauth"
)

const (
	serviceName     = "sms_webhook_service"
	sendQueueGroup  = "sms_webhook_service_senders"
	shutdownTimeout = 30 * time.Second
)

func main() {
	mainCtx, mainCancel := context.WithCancel(context.Background())
	defer mainCancel()

	cfg, err := config.Load(serviceName)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	appLogger := logger.NewWithOptions(logger.Options{Level: cfg.LogLevel, File: cfg.LogFile})
	appLogger = appLogger.With("service", serviceName)
	appLogger.Info("SMS webhook service starting...",
		"http_port", cfg.HTTPPort,
		"store_driver", cfg.StoreDriver,
		"sms_provider", cfg.SMSProvider,
		"webhook_validation_enabled", cfg.WebhookValidationEnabled,
		"webhook_allowed_cidrs", len(cfg.WebhookAllowedCIDRs),
		"trusted_proxy_cidrs", len(cfg.TrustedProxyCIDRs))

	repo, closeStore, err := openStore(mainCtx, cfg, appLogger)
	if err != nil {
		appLogger.Error("Failed to open message store", "error", err)
		os.Exit(1)
	}
	defer closeStore()

	var natsClient *messagebroker.NatsClient
	var publisher messagebroker.Publisher
	if cfg.NATSUrl != "" {
		natsClient, err = messagebroker.NewNatsClient(cfg.NATSUrl, serviceName, appLogger)
		if err != nil {
			appLogger.Error("Failed to connect to NATS", "error", err)
			os.Exit(1)
		}
		defer natsClient.Close()
		publisher = natsClient
		appLogger.Info("Connected to NATS", "url", cfg.NATSUrl)
	} else {
		appLogger.Warn("NATS_URL not set; status events and the send consumer are disabled")
	}

	sigValidator, err := webhookauth.NewValidator(webhookauth.Config{
		AuthToken:         cfg.TwilioAuthToken,
		ValidationEnabled: cfg.WebhookValidationEnabled,
		AllowedCIDRs:      cfg.WebhookAllowedCIDRs,
	}, appLogger)
	if err != nil {
		appLogger.Error("Failed to build webhook validator", "error", err)
		os.Exit(1)
	}

	trustedProxies, err := httpadapter.ParseTrustedProxies(cfg.TrustedProxyCIDRs)
	if err != nil {
		appLogger.Error("Invalid TRUSTED_PROXY_CIDRS", "error", err)
		os.Exit(1)
	}

	statusService := app.NewDeliveryStatusService(repo, publisher, appLogger)

	var provider smsprovider.Adapter
	switch cfg.SMSProvider {
	case "twilio":
		provider = smsprovider.NewTwilioAdapter(smsprovider.TwilioConfig{
			BaseURL:    cfg.TwilioAPIBaseURL,
			AccountSID: cfg.TwilioAccountSID,
			AuthToken:  cfg.TwilioAuthToken,
			FromNumber: cfg.TwilioFromNumber,
		}, nil, appLogger)
	default:
		provider = smsprovider.NewMockAdapter(appLogger)
	}
	dispatcher := app.NewSendDispatcher(repo, provider, statusService, cfg.WebhookPublicURL, appLogger)

	webhookHandler := httpadapter.NewWebhookHandler(sigValidator, statusService, validator.New(), cfg.WebhookPublicURL, appLogger)
	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:      httpadapter.NewRouter(webhookHandler, trustedProxies),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 35 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	g, groupCtx := errgroup.WithContext(mainCtx)

	g.Go(func() error {
		appLogger.Info("HTTP server starting", "address", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.Error("HTTP server ListenAndServe error", "error", err)
			return err
		}
		appLogger.Info("HTTP server shut down gracefully.")
		return nil
	})

	if natsClient != nil {
		consumer := app.NewSendConsumer(natsClient, dispatcher, appLogger)
		g.Go(func() error {
			return consumer.Run(groupCtx, sendQueueGroup)
		})
	}

	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)
		select {
		case sig := <-quit:
			appLogger.Info("Shutdown signal received", "signal", sig.String())
		case <-groupCtx.Done():
		}
		mainCancel()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			appLogger.Error("HTTP server shutdown failed", "error", err)
			return err
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		appLogger.Error("SMS webhook service stopped with error", "error", err)
		os.Exit(1)
	}
	appLogger.Info("SMS webhook service shut down.")
}

// openStore returns the repository selected by STORE_DRIVER and a func
// releasing its connections.
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (domain.OutboundMessageRepository, func(), error) {
	switch cfg.StoreDriver {
	case config.StoreDriverPostgres:
		if cfg.RunMigrations {
			if err := database.RunMigrations(cfg.PostgresDSN, logger); err != nil {
				return nil, nil, fmt.Errorf("running migrations: %w", err)
			}
		}
		pool, err := database.NewDBPool(ctx, cfg.PostgresDSN, database.PoolOptions{
			MaxConns:        cfg.PostgresMaxConns,
			MinConns:        cfg.PostgresMinConns,
			MaxConnLifetime: cfg.PostgresMaxConnLifetime,
			MaxConnIdleTime: cfg.PostgresMaxConnIdleTime,
		})
		if err != nil {
			return nil, nil, err
		}
		logger.Info("Connected to PostgreSQL")
		return postgres.NewPgOutboundMessageRepository(pool, logger), pool.Close, nil

	case config.StoreDriverRedis:
		rc, err := cache.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("Connected to Redis")
		return redisrepo.NewRedisOutboundMessageRepository(rc, logger), func() { _ = rc.Close() }, nil

	default:
		logger.Warn("Using in-memory message store; records are lost on restart")
		return memory.NewOutboundMessageRepository(), func() {}, nil
	}
}
