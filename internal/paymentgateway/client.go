package paymentgateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	gatewaytypes "github.com/frahmantamala/ride-wallet/internal/core/datamodel/paymentgateway"
)

// SettlementJob is one simulated payment attempt waiting to settle.
type SettlementJob struct {
	GatewayOrderID string
	Amount         int64
}

type Worker struct {
	ID         int
	WorkerPool chan chan SettlementJob
	JobChannel chan SettlementJob
	Logger     *slog.Logger
}

func NewWorker(id int, workerPool chan chan SettlementJob, logger *slog.Logger) *Worker {
	return &Worker{
		ID:         id,
		WorkerPool: workerPool,
		JobChannel: make(chan SettlementJob),
		Logger:     logger,
	}
}

func (w *Worker) Start(ctx context.Context, wg *sync.WaitGroup, processFunc func(SettlementJob)) {
	wg.Add(1)
	go func() {
		defer wg.Done()

		for {

			w.WorkerPool <- w.JobChannel

			select {
			case job := <-w.JobChannel:
				w.Logger.Debug("worker processing settlement", "worker_id", w.ID, "gateway_order_id", job.GatewayOrderID)
				processFunc(job)
			case <-ctx.Done():
				w.Logger.Debug("worker shutting down", "worker_id", w.ID)
				return
			}
		}
	}()
}

// Client registers orders with the payment gateway. With no BaseURL
// configured it runs in simulator mode: order ids are minted locally
// and a worker pool settles each one by posting a signed callback to
// the webhook URL, the same shape a real gateway would send.
type Client struct {
	baseURL        string
	keyID          string
	webhookSecret  string
	webhookURL     string
	requestTimeout time.Duration
	logger         *slog.Logger

	jobQueue   chan SettlementJob
	workerPool chan chan SettlementJob
	maxWorkers int
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	once       sync.Once
}

type Config struct {
	BaseURL        string
	KeyID          string
	WebhookSecret  string
	WebhookURL     string
	RequestTimeout time.Duration
	MaxWorkers     int
	JobQueueSize   int
	WorkerPoolSize int
}

func NewClient(config Config, logger *slog.Logger) *Client {
	ctx, cancel := context.WithCancel(context.Background())

	maxWorkers := config.MaxWorkers
	if maxWorkers <= 0 {
		maxWorkers = 10
	}

	jobQueueSize := config.JobQueueSize
	if jobQueueSize <= 0 {
		jobQueueSize = 100
	}

	workerPoolSize := config.WorkerPoolSize
	if workerPoolSize <= 0 {
		workerPoolSize = maxWorkers
	}

	requestTimeout := config.RequestTimeout
	if requestTimeout <= 0 {
		requestTimeout = 10 * time.Second
	}

	client := &Client{
		baseURL:        config.BaseURL,
		keyID:          config.KeyID,
		webhookSecret:  config.WebhookSecret,
		webhookURL:     config.WebhookURL,
		requestTimeout: requestTimeout,
		logger:         logger,

		maxWorkers: maxWorkers,
		jobQueue:   make(chan SettlementJob, jobQueueSize),
		workerPool: make(chan chan SettlementJob, workerPoolSize),
		ctx:        ctx,
		cancel:     cancel,
	}

	client.startWorkerPool()

	return client
}

func (c *Client) startWorkerPool() {
	c.once.Do(func() {

		for i := 0; i < c.maxWorkers; i++ {
			worker := NewWorker(i, c.workerPool, c.logger)
			worker.Start(c.ctx, &c.wg, c.settleJob)
		}

		go c.dispatch()

		c.logger.Info("payment gateway worker pool started",
			"max_workers", c.maxWorkers,
			"queue_size", cap(c.jobQueue),
			"simulator", c.baseURL == "")
	})
}

func (c *Client) dispatch() {
	defer c.wg.Done()
	c.wg.Add(1)

	for {
		select {
		case job := <-c.jobQueue:

			select {
			case jobChannel := <-c.workerPool:

				select {
				case jobChannel <- job:

				case <-c.ctx.Done():
					c.logger.Info("dispatcher shutting down")
					return
				}
			case <-c.ctx.Done():
				c.logger.Info("dispatcher shutting down")
				return
			}
		case <-c.ctx.Done():
			c.logger.Info("dispatcher shutting down")
			return
		}
	}
}

func (c *Client) Shutdown() {
	c.logger.Info("shutting down payment gateway client")
	c.cancel()
	c.wg.Wait()
	c.logger.Info("payment gateway client shutdown complete")
}

// CreateRemoteOrder registers a payment intent and returns the gateway
// order id. In simulator mode the id is minted locally and a settlement
// job is queued.
func (c *Client) CreateRemoteOrder(ctx context.Context, amount int64, currency, receipt string) (string, error) {
	req := &gatewaytypes.CreateOrderRequest{
		Amount:   amount,
		Currency: currency,
		Receipt:  receipt,
	}
	if err := req.Validate(); err != nil {
		return "", fmt.Errorf("validation error: %w", err)
	}

	if c.baseURL == "" {
		gatewayOrderID := "gord_" + uuid.NewString()

		job := SettlementJob{
			GatewayOrderID: gatewayOrderID,
			Amount:         amount,
		}

		select {
		case c.jobQueue <- job:
			c.logger.Info("simulator: order registered, settlement queued",
				"gateway_order_id", gatewayOrderID,
				"receipt", receipt,
				"queue_length", len(c.jobQueue))
		default:
			c.logger.Warn("simulator: job queue full, rejecting order",
				"receipt", receipt,
				"queue_capacity", cap(c.jobQueue))
			return "", fmt.Errorf("gateway queue full, please try again later")
		}

		return gatewayOrderID, nil
	}

	return c.createOrderHTTP(ctx, req)
}

func (c *Client) createOrderHTTP(ctx context.Context, req *gatewaytypes.CreateOrderRequest) (string, error) {
	jsonData, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("failed to marshal order request: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(reqCtx, "POST", c.baseURL+"/orders", bytes.NewBuffer(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create HTTP request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	if c.keyID != "" {
		httpReq.Header.Set("X-Key-Id", c.keyID)
	}

	client := &http.Client{Timeout: c.requestTimeout}
	resp, err := client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("gateway returned status %d", resp.StatusCode)
	}

	var apiResponse gatewaytypes.CreateOrderResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResponse); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}

	c.logger.Info("order registered with gateway",
		"gateway_order_id", apiResponse.Data.ID,
		"status", apiResponse.Data.Status)

	return apiResponse.Data.ID, nil
}

// settleJob decides the attempt outcome after a short delay and posts
// the signed callback, mimicking gateway timing.
func (c *Client) settleJob(job SettlementJob) {
	delay := time.Duration(1+rand.Intn(4)) * time.Second

	select {
	case <-time.After(delay):

	case <-c.ctx.Done():
		c.logger.Info("settlement cancelled", "gateway_order_id", job.GatewayOrderID)
		return
	}

	status := gatewaytypes.EventStatusPaid
	if rand.Float32() >= 0.9 {
		status = gatewaytypes.EventStatusFailed
	}

	gatewayPaymentID := "gpay_" + uuid.NewString()

	c.logger.Info("simulator: settlement decided",
		"gateway_order_id", job.GatewayOrderID,
		"gateway_payment_id", gatewayPaymentID,
		"status", status,
		"delay_seconds", delay.Seconds())

	c.sendCallback(job.GatewayOrderID, gatewayPaymentID, status)
}

func (c *Client) sendCallback(gatewayOrderID, gatewayPaymentID string, status gatewaytypes.EventStatus) {
	select {
	case <-c.ctx.Done():
		c.logger.Info("webhook callback cancelled", "gateway_order_id", gatewayOrderID)
		return
	default:

	}

	payload := gatewaytypes.CallbackPayload{
		GatewayOrderID:   gatewayOrderID,
		GatewayPaymentID: gatewayPaymentID,
		Signature:        Sign(c.webhookSecret, gatewayOrderID, gatewayPaymentID),
		EventStatus:      string(status),
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		c.logger.Error("simulator: failed to marshal callback", "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(c.ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, "POST", c.webhookURL, bytes.NewBuffer(jsonData))
	if err != nil {
		c.logger.Error("simulator: failed to create webhook request",
			"error", err,
			"gateway_order_id", gatewayOrderID)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	client := &http.Client{}
	resp, err := client.Do(req)
	if err != nil {
		c.logger.Error("simulator: webhook callback failed",
			"error", err,
			"gateway_order_id", gatewayOrderID)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		c.logger.Info("simulator: webhook callback delivered",
			"gateway_order_id", gatewayOrderID,
			"status_code", resp.StatusCode)
	} else {
		c.logger.Warn("simulator: webhook callback rejected",
			"gateway_order_id", gatewayOrderID,
			"status_code", resp.StatusCode)
	}
}
