package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"
	gormpostgres "gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/frahmantamala/ride-wallet/internal"
	"github.com/frahmantamala/ride-wallet/internal/core/events"
	"github.com/frahmantamala/ride-wallet/internal/payment"
	paymentpostgres "github.com/frahmantamala/ride-wallet/internal/payment/postgres"
	"github.com/frahmantamala/ride-wallet/internal/paymentgateway"
	"github.com/frahmantamala/ride-wallet/internal/transport"
	"github.com/frahmantamala/ride-wallet/internal/transport/rest"
	"github.com/frahmantamala/ride-wallet/internal/wallet"
	walletpostgres "github.com/frahmantamala/ride-wallet/internal/wallet/postgres"
	"github.com/frahmantamala/ride-wallet/pkg/logger"
)

var httpServerCmd = &cobra.Command{
	Use:   "server",
	Short: "Start HTTP server",
	Long:  `Start the HTTP server to handle wallet and payment API requests`,
	Run: func(cmd *cobra.Command, args []string) {
		startHTTPServer()
	},
}

type Dependencies struct {
	Config         *internal.Config
	DB             *sqlx.DB
	GormDB         *gorm.DB
	Router         *chi.Mux
	Logger         *slog.Logger
	EventBus       *events.EventBus
	GatewayClient  *paymentgateway.Client
	PaymentService *payment.Service
	Sweeper        *payment.Sweeper
}

func startHTTPServer() {
	deps, err := initializeDependencies()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize dependencies: %v\n", err)
		os.Exit(1)
	}

	sweeperCtx, stopSweeper := context.WithCancel(context.Background())
	defer stopSweeper()
	if deps.Sweeper != nil {
		go deps.Sweeper.Run(sweeperCtx)
	}

	addr := fmt.Sprintf(":%d", deps.Config.Server.Port)
	deps.Logger.Info("starting HTTP server", "address", addr)

	server := &http.Server{
		Addr:         addr,
		Handler:      deps.Router,
		ReadTimeout:  deps.Config.Server.ReadTimeout,
		WriteTimeout: deps.Config.Server.WriteTimeout,
		IdleTimeout:  deps.Config.Server.IdleTimeout,
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	serverErrChan := make(chan error, 1)
	go func() {
		serverErrChan <- server.ListenAndServe()
	}()

	select {
	case sig := <-sigChan:
		deps.Logger.Info("received signal, shutting down", "signal", sig)
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			deps.Logger.Error("server shutdown error", "error", err)
		}
		stopSweeper()
		deps.GatewayClient.Shutdown()
		if err := deps.DB.Close(); err != nil {
			deps.Logger.Error("database close error", "error", err)
		}
	case err := <-serverErrChan:
		if err != nil && err != http.ErrServerClosed {
			deps.Logger.Error("server failed to start", "error", err)
			os.Exit(1)
		}
	}

	deps.Logger.Info("server stopped")
}

func initializeDependencies() (*Dependencies, error) {
	config, err := loadConfig(".")
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger.Init(config.Logging.Level, config.Logging.Format)
	log := logger.LoggerWrapper()

	db, err := initDB(config.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	gormDB, err := gorm.Open(gormpostgres.New(gormpostgres.Config{Conn: db.DB}), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize gorm: %w", err)
	}

	eventBus := events.NewEventBus(log)
	payment.NewAuditEventHandler(log).Subscribe(eventBus)

	gatewayClient := paymentgateway.NewClient(paymentgateway.Config{
		BaseURL:        config.Gateway.BaseURL,
		KeyID:          config.Gateway.KeyID,
		WebhookSecret:  config.Gateway.WebhookSecret,
		WebhookURL:     config.Gateway.WebhookURL,
		RequestTimeout: config.Gateway.RequestTimeout,
		MaxWorkers:     config.Gateway.MaxWorkers,
		JobQueueSize:   config.Gateway.JobQueueSize,
		WorkerPoolSize: config.Gateway.WorkerPoolSize,
	}, log)

	baseHandler := transport.NewBaseHandler(log)

	walletRepo := walletpostgres.NewWalletRepository(gormDB)
	walletService := wallet.NewService(gormDB, walletRepo, eventBus, log, config.Wallet.ApplyMaxRetries)
	walletHandler := wallet.NewHandler(baseHandler, walletService, config.Wallet.Currency)

	paymentRepo := paymentpostgres.NewPaymentRepository(gormDB)
	paymentService := payment.NewService(gormDB, paymentRepo, gatewayClient, walletRepo, eventBus, log, payment.ServiceConfig{
		WebhookSecret:   config.Gateway.WebhookSecret,
		Currency:        config.Wallet.Currency,
		MinAmount:       config.Wallet.MinAmount,
		MaxAmount:       config.Wallet.MaxAmount,
		ApplyMaxRetries: config.Wallet.ApplyMaxRetries,
	})
	paymentHandler := payment.NewHandler(baseHandler, paymentService, log)
	webhookHandler := payment.NewWebhookHandler(baseHandler, paymentService, log)

	var sweeper *payment.Sweeper
	if config.Sweeper.Enabled {
		sweeper = payment.NewSweeper(paymentService, log,
			config.Sweeper.Interval, config.Sweeper.StaleAfter, config.Sweeper.BatchSize)
	}

	router := chi.NewRouter()
	rest.RegisterAllRoutes(router, db.DB, rest.RouterConfig{
		AllowedOrigins:  config.Server.AllowedOrigins,
		RiderAuthSecret: config.Security.RiderTokenSecret,
	}, walletHandler, paymentHandler, webhookHandler, log)

	return &Dependencies{
		Config:         config,
		DB:             db,
		GormDB:         gormDB,
		Router:         router,
		Logger:         log,
		EventBus:       eventBus,
		GatewayClient:  gatewayClient,
		PaymentService: paymentService,
		Sweeper:        sweeper,
	}, nil
}

// initDB initializes the database connection
func initDB(cfg internal.DatabaseConfig) (*sqlx.DB, error) {
	const driver = "pgx"

	dbConn, err := sqlx.Connect(driver, cfg.Source)
	if err != nil {
		return nil, fmt.Errorf("failed to open db connection: %w", err)
	}

	dbConn.SetMaxIdleConns(cfg.MaxIdleConns)
	dbConn.SetMaxOpenConns(cfg.MaxOpenConns)
	dbConn.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	dbConn.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	if err := dbConn.Ping(); err != nil {
		_ = dbConn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return dbConn, nil
}
