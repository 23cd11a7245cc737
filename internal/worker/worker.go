package worker

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jmylchreest/ledger-api/internal/ledger"
)

// StatusError is recorded when no HTTP response was ever received.
const StatusError = "error"

// PaymentStore is the part of the ledger the worker needs.
type PaymentStore interface {
	PendingWebhooks(ctx context.Context, limit int) ([]*ledger.Payment, error)
	SetWebhookStatus(ctx context.Context, wallet, checkingID, status string) error
}

// Deliverer sends one payment notification and returns the HTTP status.
type Deliverer interface {
	Deliver(ctx context.Context, p *ledger.Payment) (int, error)
}

// Worker delivers webhooks of settled payments in the background.
type Worker struct {
	store        PaymentStore
	deliverer    Deliverer
	pollInterval time.Duration
	concurrency  int
	batchSize    int
	stop         chan struct{}
	stopOnce     sync.Once
	wg           sync.WaitGroup
	inFlight     atomic.Int64
	logger       *slog.Logger
}

// Config holds worker configuration.
type Config struct {
	PollInterval time.Duration
	Concurrency  int
	BatchSize    int
}

// New creates a new worker.
func New(store PaymentStore, deliverer Deliverer, cfg Config, logger *slog.Logger) *Worker {
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.Concurrency == 0 {
		cfg.Concurrency = 3
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 50
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		store:        store,
		deliverer:    deliverer,
		pollInterval: cfg.PollInterval,
		concurrency:  cfg.Concurrency,
		batchSize:    cfg.BatchSize,
		stop:         make(chan struct{}),
		logger:       logger.With("component", "worker"),
	}
}

// Start begins polling. It returns immediately.
func (w *Worker) Start(ctx context.Context) {
	w.logger.Info("starting", "concurrency", w.concurrency, "poll_interval", w.pollInterval)

	w.wg.Add(1)
	go w.run(ctx)
}

// Stop gracefully stops the worker, waiting for in-flight deliveries.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() {
		w.logger.Info("stopping")
		close(w.stop)
		w.wg.Wait()
		w.logger.Info("stopped")
	})
}

// Busy reports whether a batch is being delivered.
func (w *Worker) Busy() bool { return w.inFlight.Load() > 0 }

func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := w.RunOnce(ctx); err != nil {
				w.logger.Error("failed to process webhooks", "error", err)
			}
		}
	}
}

// RunOnce delivers one batch of pending webhooks and returns how many were
// attempted. Every attempted payment gets a webhook status, so it is not
// picked up again. The first error recording a status is returned once the
// whole batch has finished.
func (w *Worker) RunOnce(ctx context.Context) (int, error) {
	payments, err := w.store.PendingWebhooks(ctx, w.batchSize)
	if err != nil {
		return 0, err
	}
	if len(payments) == 0 {
		return 0, nil
	}

	w.inFlight.Add(int64(len(payments)))
	// A failure on one row must not cancel deliveries already on the wire.
	var g errgroup.Group
	g.SetLimit(w.concurrency)

	for _, p := range payments {
		g.Go(func() error {
			return w.deliver(ctx, p)
		})
	}

	return len(payments), g.Wait()
}

func (w *Worker) deliver(ctx context.Context, p *ledger.Payment) error {
	defer w.inFlight.Add(-1)

	code, err := w.deliverer.Deliver(ctx, p)

	status := strconv.Itoa(code)
	if code == 0 {
		status = StatusError
	}
	if err != nil {
		w.logger.Warn("webhook not accepted", "wallet", p.Wallet, "checking_id", p.CheckingID, "status", status, "error", err)
	}

	if err := w.store.SetWebhookStatus(ctx, p.Wallet, p.CheckingID, status); err != nil {
		w.logger.Error("failed to record webhook status", "checking_id", p.CheckingID, "error", err)
		return err
	}
	return nil
}
