package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"project_wainbox/internal/config"
	"project_wainbox/internal/infrastructure"
	"project_wainbox/internal/interfaces"
	httpiface "project_wainbox/internal/interfaces/http"
	"project_wainbox/internal/repository"
	"project_wainbox/internal/usecases"
)

const (
	shutdownTimeout      = 15 * time.Second
	presenceSweepTick    = time.Minute
	sendLimiterSweepTick = 10 * time.Minute
	gatewayRateLimit     = 20
	gatewayRateBurst     = 40
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the webhook and operator API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := cfg.NewLogger()
	slog.SetDefault(log)

	// Storage
	pg, err := infrastructure.NewPostgresClient(ctx, cfg.DatabaseURL, cfg.DBMaxConns, log)
	if err != nil {
		return err
	}
	defer pg.Close()
	if err := pg.Migrate(); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	connRepo := repository.NewConnectionRepository(pg.Pool)
	convRepo := repository.NewConversationRepository(pg.Pool)
	msgRepo := repository.NewMessageRepository(pg.Pool)
	automationRepo := repository.NewAutomationRepository(pg.Pool)

	blobs, err := infrastructure.NewLocalBlobStorage(cfg.MediaDir, cfg.MediaPublicBaseURL, cfg.MediaMaxBytes)
	if err != nil {
		return err
	}

	// Collaborators
	gateway := infrastructure.NewGatewayClient(cfg.GatewayBaseURL, cfg.GatewayAPIKey, cfg.GatewayTimeout,
		rate.NewLimiter(gatewayRateLimit, gatewayRateBurst), log)
	engine := infrastructure.NewAutomationClient(cfg.AutomationBaseURL, cfg.AutomationTimeout, log)
	notifier := infrastructure.NewTelegramNotifier(cfg.TelegramBotToken, cfg.TelegramAlertChatID, log)

	var events interfaces.EventPublisher = infrastructure.NoopPublisher{}
	if cfg.AMQPURL != "" {
		amqp, err := infrastructure.NewAMQPPublisher(cfg.AMQPURL, cfg.AMQPExchange, log)
		if err != nil {
			return err
		}
		events = amqp
	}
	defer events.Close()

	presence := infrastructure.NewPresenceTracker(cfg.PresenceTTL)
	diagnostics := infrastructure.NewWebhookDiagnostics(cfg.DiagnosticsCapacity)

	// Usecases
	connections := usecases.NewConnectionService(connRepo, gateway, notifier, events, log)
	conversations := usecases.NewConversationResolver(convRepo, gateway, cfg.GatewayTimeout, log)
	dispatcher := usecases.NewAutomationDispatcher(automationRepo, engine, cfg.AutomationTimeout, log)
	ingestion := usecases.NewIngestionService(usecases.IngestionDeps{
		Connections:      connRepo,
		Messages:         msgRepo,
		Conversations:    conversations,
		Media:            usecases.NewMediaResolver(gateway, blobs, cfg.GatewayTimeout, log),
		Dispatcher:       dispatcher,
		Status:           connections,
		Presence:         presence,
		Events:           events,
		OptimisticWindow: cfg.OptimisticWindow,
	}, log)
	sendLimiter := infrastructure.NewMessageRateLimiter(float64(cfg.SendPerMinute)/60, cfg.SendBurst)
	outbound := usecases.NewOutboundService(msgRepo, conversations, gateway, events, sendLimiter, log)
	inbox := usecases.NewInboxService(connections, convRepo, msgRepo, presence)

	// Background jobs
	scheduler, err := infrastructure.NewScheduler(log)
	if err != nil {
		return err
	}
	if err := scheduler.Every("connection-status-poll", cfg.StatusPollInterval, func(ctx context.Context) {
		if err := connections.PollAll(ctx); err != nil {
			log.Warn("status poll failed", slog.Any("error", err))
		}
	}); err != nil {
		return err
	}
	if err := scheduler.Every("presence-sweep", presenceSweepTick, func(context.Context) {
		if n := presence.Sweep(cfg.PresenceTTL * 6); n > 0 {
			log.Debug("presence entries swept", slog.Int("count", n))
		}
	}); err != nil {
		return err
	}
	if err := scheduler.Every("send-limiter-sweep", sendLimiterSweepTick, func(context.Context) {
		sendLimiter.Sweep(30 * time.Minute)
	}); err != nil {
		return err
	}

	// HTTP
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	httpiface.SetupRoutes(r, httpiface.Services{
		Ingestion:   ingestion,
		Connections: connections,
		Inbox:       inbox,
		Outbound:    outbound,
		Storage:     blobs,
		Diagnostics: diagnostics,
	}, httpiface.NewMiddleware(cfg.JWTSecret, cfg.WebhookToken), log)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("server listening", slog.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		scheduler.Start()
		<-gctx.Done()

		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		var errs []error
		if err := srv.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
		if err := scheduler.Shutdown(); err != nil {
			errs = append(errs, err)
		}
		if err := dispatcher.Drain(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("automation dispatches still running: %w", err))
		}
		return errors.Join(errs...)
	})
	return g.Wait()
}
