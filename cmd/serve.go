package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"farm-automation/internal/actuator"
	"farm-automation/internal/alerts"
	"farm-automation/internal/api"
	"farm-automation/internal/automation"
	"farm-automation/internal/config"
	"farm-automation/internal/engine"
	"farm-automation/internal/evaluator"
	"farm-automation/internal/eventbus"
	"farm-automation/internal/kafka"
	"farm-automation/internal/logging"
	"farm-automation/internal/notification"
	"farm-automation/internal/notification/providers"
	"farm-automation/internal/realtime"
	"farm-automation/internal/retention"
	"farm-automation/pkg/email"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the automation pipeline and HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger, err := logging.New(cfg.Logging.Dir, cfg.Logging.Level)
			if err != nil {
				return err
			}
			defer logger.Close()
			return serve(cmd.Context(), cfg, logger)
		},
	}
}

func serve(parent context.Context, cfg config.Config, logger *logging.Logger) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(context.Background()); err != nil {
			logger.Errorf("Failed to close store: %v", err)
		}
	}()
	logger.Infof("Using %s store", cfg.Store.Driver)

	registry := statusRegistry(ctx, cfg, logger)

	var gateway actuator.Gateway
	if cfg.KafkaEnabled() {
		kg, err := actuator.NewKafkaGateway(cfg.Kafka.Brokers, cfg.Kafka.CommandsTopic)
		if err != nil {
			return err
		}
		defer kg.Close()
		gateway = kg
	} else {
		logger.Warn("No Kafka brokers configured, actuator commands run in dry-run mode")
		gateway = actuator.NewDryRunGateway(logger)
	}

	bus := eventbus.New(logger)
	queue := automation.NewQueue(st, bus, logger)

	dispatcher := notification.NewDispatcher(notification.DispatcherConfig{
		SendTimeout:   cfg.Notification.SendTimeout,
		RatePerSecond: cfg.Notification.RatePerSecond,
	}, bus, logger, notificationProviders(cfg, logger)...)
	settings := notification.Settings{
		DefaultRecipients: cfg.Notification.DefaultRecipients,
		SMSNumbers:        cfg.SMS.ToNumbers,
		PushChats:         cfg.Telegram.ChatIDs,
	}

	manager := alerts.NewManager(st, queue, settings, dispatcher, bus, logger, cfg.Automation.MaxAttempts)
	manager.Subscribe()

	eng := engine.New(evaluator.New(st, logger), st, queue, bus, logger)
	eng.Subscribe()

	hub := realtime.NewHub(logger)
	hub.Subscribe(bus)

	var wg sync.WaitGroup

	worker := automation.NewWorker(automation.WorkerConfig{
		Interval:    cfg.Automation.WorkerInterval,
		MaxAttempts: cfg.Automation.MaxAttempts,
		RetryDelay:  cfg.Automation.RetryDelay,
		BatchSize:   cfg.Automation.BatchSize,
		TaskTimeout: cfg.Automation.TaskTimeout,
	}, st, st, gateway, registry, bus, logger)
	if cfg.Automation.WorkerEnabled {
		worker.Start(ctx)
	} else {
		logger.Info("Automation worker disabled")
	}

	if cfg.KafkaEnabled() {
		consumer, err := kafka.NewReadingConsumer(kafka.ConsumerConfig{
			Brokers: cfg.Kafka.Brokers,
			Topic:   cfg.Kafka.ReadingsTopic,
			GroupID: cfg.Kafka.GroupID,
		}, eng, logger)
		if err != nil {
			return err
		}
		consumer.Start(ctx, &wg)
		defer consumer.Close()
		logger.Infof("Kafka consumer initialized with topic: %s", cfg.Kafka.ReadingsTopic)

		if cfg.Kafka.EventsTopic != "" {
			relay, err := kafka.NewEventRelay(cfg.Kafka.Brokers, cfg.Kafka.EventsTopic, kafka.RelayConfig{}, logger)
			if err != nil {
				return err
			}
			relay.Subscribe(bus)
			relay.Start(ctx, &wg)
			defer relay.Close()
		}
	}

	pruner := retention.NewPruner(st, cfg.Retention.ResolvedAlertTTL, cfg.Retention.Interval, logger)
	pruner.Start(ctx, &wg)

	if os.Getenv(gin.EnvGinMode) == "" {
		gin.SetMode(gin.ReleaseMode)
	}
	handler := api.NewHandler(manager, st, queue, eng, hub, logger)
	server := api.NewServer(cfg.Server.Port, api.NewRouter(handler, logger, cfg.Server.BasePath), logger)
	errCh := make(chan error, 1)
	server.Start(errCh)

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	case runErr = <-errCh:
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Errorf("HTTP server shutdown failed: %v", err)
	}
	if cfg.Automation.WorkerEnabled {
		worker.Stop()
	}
	wg.Wait()
	logger.Info("Shutdown complete")
	return runErr
}

// statusRegistry prefers Redis so toggles survive restarts and are shared
// between instances.
func statusRegistry(ctx context.Context, cfg config.Config, logger *logging.Logger) actuator.StatusRegistry {
	if cfg.Redis.Addr == "" {
		return actuator.NewMemoryRegistry()
	}
	client, err := actuator.DialRedis(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		logger.Warnf("Falling back to in-memory device status: %v", err)
		return actuator.NewMemoryRegistry()
	}
	return actuator.NewRedisRegistry(client)
}

func notificationProviders(cfg config.Config, logger *logging.Logger) []notification.Provider {
	var out []notification.Provider
	smtpCfg := email.Config{
		Server:   cfg.Email.SMTPServer,
		Port:     cfg.Email.SMTPPort,
		Username: cfg.Email.Username,
		Password: cfg.Email.Password,
		From:     cfg.Email.From,
	}
	if smtpCfg.Enabled() {
		out = append(out, providers.NewEmail(smtpCfg))
	}
	if cfg.SMS.AccountSID != "" && cfg.SMS.AuthToken != "" {
		out = append(out, providers.NewSMS(cfg.SMS.AccountSID, cfg.SMS.AuthToken, cfg.SMS.FromNumber))
	}
	if cfg.Telegram.BotToken != "" {
		out = append(out, providers.NewTelegram(cfg.Telegram.BotToken))
	}
	for _, p := range out {
		logger.Infof("Notification channel enabled: %s", p.Channel())
	}
	return out
}
