package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	gormpostgres "gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/frahmantamala/ride-wallet/internal/core/events"
	"github.com/frahmantamala/ride-wallet/internal/payment"
	paymentpostgres "github.com/frahmantamala/ride-wallet/internal/payment/postgres"
	"github.com/frahmantamala/ride-wallet/internal/paymentgateway"
	walletpostgres "github.com/frahmantamala/ride-wallet/internal/wallet/postgres"
	"github.com/frahmantamala/ride-wallet/pkg/logger"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Start background workers",
	Long:  `Start standalone workers: the gateway settlement simulator or the stale order sweeper.`,
}

// Gateway worker command
var gatewayWorkerCmd = &cobra.Command{
	Use:   "gateway",
	Short: "Start the gateway settlement worker pool",
	Long:  `Start the gateway simulator worker pool that settles orders and posts signed callbacks`,
	Run: func(cmd *cobra.Command, args []string) {
		startGatewayWorker()
	},
}

// Sweeper worker command
var sweeperWorkerCmd = &cobra.Command{
	Use:   "sweeper",
	Short: "Start the stale order sweeper",
	Long:  `Periodically cancel created/attempted orders older than the configured age`,
	Run: func(cmd *cobra.Command, args []string) {
		startSweeperWorker()
	},
}

var (
	maxWorkers     int
	jobQueueSize   int
	workerPoolSize int
	webhookURL     string
)

func startGatewayWorker() {
	config, err := loadConfig(".")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Init(config.Logging.Level, config.Logging.Format)
	log := logger.LoggerWrapper()

	gatewayConfig := paymentgateway.Config{
		BaseURL:        config.Gateway.BaseURL,
		KeyID:          config.Gateway.KeyID,
		WebhookSecret:  config.Gateway.WebhookSecret,
		WebhookURL:     getStringFlag(webhookURL, config.Gateway.WebhookURL),
		RequestTimeout: config.Gateway.RequestTimeout,
		MaxWorkers:     getIntFlag(maxWorkers, config.Gateway.MaxWorkers),
		JobQueueSize:   getIntFlag(jobQueueSize, config.Gateway.JobQueueSize),
		WorkerPoolSize: getIntFlag(workerPoolSize, config.Gateway.WorkerPoolSize),
	}

	log.Info("starting gateway worker",
		"max_workers", gatewayConfig.MaxWorkers,
		"job_queue_size", gatewayConfig.JobQueueSize,
		"webhook_url", gatewayConfig.WebhookURL)

	client := paymentgateway.NewClient(gatewayConfig, log)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	log.Info("gateway worker is running. Press Ctrl+C to stop.")

	sig := <-sigChan
	log.Info("received signal, shutting down gateway worker", "signal", sig)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	shutdownDone := make(chan struct{})
	go func() {
		client.Shutdown()
		close(shutdownDone)
	}()

	select {
	case <-shutdownDone:
		log.Info("gateway worker pool shutdown complete")
	case <-ctx.Done():
		log.Warn("shutdown timeout reached, forcing exit")
	}
}

func startSweeperWorker() {
	config, err := loadConfig(".")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Init(config.Logging.Level, config.Logging.Format)
	log := logger.LoggerWrapper()

	db, err := initDB(config.Database)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	gormDB, err := gorm.Open(gormpostgres.New(gormpostgres.Config{Conn: db.DB}), &gorm.Config{})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize gorm: %v\n", err)
		os.Exit(1)
	}

	eventBus := events.NewEventBus(log)
	payment.NewAuditEventHandler(log).Subscribe(eventBus)

	paymentRepo := paymentpostgres.NewPaymentRepository(gormDB)
	walletRepo := walletpostgres.NewWalletRepository(gormDB)
	paymentService := payment.NewService(gormDB, paymentRepo, nil, walletRepo, eventBus, log, payment.ServiceConfig{
		WebhookSecret:   config.Gateway.WebhookSecret,
		Currency:        config.Wallet.Currency,
		MinAmount:       config.Wallet.MinAmount,
		MaxAmount:       config.Wallet.MaxAmount,
		ApplyMaxRetries: config.Wallet.ApplyMaxRetries,
	})

	sweeper := payment.NewSweeper(paymentService, log,
		config.Sweeper.Interval, config.Sweeper.StaleAfter, config.Sweeper.BatchSize)

	ctx, cancel := context.WithCancel(context.Background())
	go sweeper.Run(ctx)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	log.Info("sweeper worker is running. Press Ctrl+C to stop.")

	sig := <-sigChan
	log.Info("received signal, shutting down sweeper", "signal", sig)
	cancel()
}

func getStringFlag(flagValue, configValue string) string {
	if flagValue != "" {
		return flagValue
	}
	return configValue
}

func getIntFlag(flagValue, configValue int) int {
	if flagValue > 0 {
		return flagValue
	}
	return configValue
}

func init() {
	gatewayWorkerCmd.Flags().IntVar(&maxWorkers, "max-workers", 0, "Maximum number of workers (overrides config)")
	gatewayWorkerCmd.Flags().IntVar(&jobQueueSize, "job-queue-size", 0, "Job queue buffer size (overrides config)")
	gatewayWorkerCmd.Flags().IntVar(&workerPoolSize, "worker-pool-size", 0, "Worker pool channel size (overrides config)")
	gatewayWorkerCmd.Flags().StringVar(&webhookURL, "webhook-url", "", "Webhook callback URL (overrides config)")

	workerCmd.AddCommand(gatewayWorkerCmd)
	workerCmd.AddCommand(sweeperWorkerCmd)

	rootCmd.AddCommand(workerCmd)
}
