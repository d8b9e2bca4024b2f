package webhook

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/carticy-dev/agentic-checkout/pkg/httpclient"
)

var (
	deliveryAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_delivery_attempts_total",
			Help: "Total webhook delivery attempts by outcome",
		},
		[]string{"outcome"},
	)
	permanentFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "webhook_deliveries_failed_permanently_total",
			Help: "Deliveries that exhausted the retry budget",
		},
	)
)

// DispatcherConfig holds delivery worker configuration.
type DispatcherConfig struct {
	MaxAttempts    int
	InitialDelay   time.Duration
	MaxDelay       time.Duration
	PollInterval   time.Duration
	BatchSize      int
	RequestTimeout time.Duration
}

// DefaultDispatcherConfig returns sensible delivery defaults.
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		MaxAttempts:    8,
		InitialDelay:   time.Second,
		MaxDelay:       5 * time.Minute,
		PollInterval:   time.Second,
		BatchSize:      50,
		RequestTimeout: 10 * time.Second,
	}
}

// Dispatcher is the background delivery loop. It polls the store for due
// records, signs each payload with a fresh timestamp, POSTs it, and
// schedules retries with exponential backoff up to the attempt ceiling.
// Records that exhaust the budget are marked failed and retained.
type Dispatcher struct {
	store  Store
	signer *Signer
	client *httpclient.Client
	cfg    DispatcherConfig
	logger *slog.Logger
	now    func() time.Time

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewDispatcher creates a delivery worker.
func NewDispatcher(store Store, signer *Signer, cfg DispatcherConfig, logger *slog.Logger) *Dispatcher {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 8
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	client := httpclient.New(httpclient.Config{
		Timeout:         cfg.RequestTimeout,
		MaxRetries:      0, // the dispatcher owns the retry schedule
		RetryWaitMin:    time.Second,
		RetryWaitMax:    time.Second,
		MaxConnsPerHost: 20,
	})
	return &Dispatcher{
		store:  store,
		signer: signer,
		client: client,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Start launches the delivery loop.
func (d *Dispatcher) Start(ctx context.Context) {
	go d.run(ctx)
}

func (d *Dispatcher) run(ctx context.Context) {
	defer close(d.done)

	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-d.stop:
			return
		case <-ticker.C:
			d.Sweep(ctx)
		}
	}
}

// Stop signals the loop to exit and waits for it.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() {
		close(d.stop)
		<-d.done
	})
}

// Sweep attempts every due record once. Exported so tests and the sweeper
// can drive delivery without the ticker.
func (d *Dispatcher) Sweep(ctx context.Context) {
	due, err := d.store.Due(ctx, d.now(), d.cfg.BatchSize)
	if err != nil {
		d.logger.ErrorContext(ctx, "load due webhook deliveries", slog.String("error", err.Error()))
		return
	}

	for _, rec := range due {
		d.attempt(ctx, rec)
	}
}

func (d *Dispatcher) attempt(ctx context.Context, rec *DeliveryRecord) {
	now := d.now()
	rec.AttemptCount++
	rec.LastAttemptAt = now
	rec.Signature = d.signer.Sign(rec.Payload, now)

	err := d.post(ctx, rec, now)
	if err == nil {
		deliveryAttempts.WithLabelValues("success").Inc()
		d.logger.InfoContext(ctx, "webhook delivered",
			slog.String("delivery_id", rec.ID),
			slog.String("event_type", rec.EventType),
			slog.Int("attempt", rec.AttemptCount),
		)
		// Succeeded records are purged, not retained.
		if derr := d.store.Delete(ctx, rec.ID); derr != nil {
			d.logger.ErrorContext(ctx, "purge delivered webhook record", slog.String("error", derr.Error()))
		}
		return
	}

	deliveryAttempts.WithLabelValues("failure").Inc()
	rec.LastError = err.Error()

	if rec.AttemptCount >= d.cfg.MaxAttempts {
		rec.Outcome = OutcomeFailed
		rec.NextRetryAt = time.Time{}
		permanentFailures.Inc()
		d.logger.ErrorContext(ctx, "webhook delivery failed permanently",
			slog.String("delivery_id", rec.ID),
			slog.String("event_type", rec.EventType),
			slog.Int("attempts", rec.AttemptCount),
			slog.String("error", err.Error()),
		)
	} else {
		rec.NextRetryAt = now.Add(d.RetryDelay(rec.AttemptCount))
		d.logger.WarnContext(ctx, "webhook delivery failed, scheduled retry",
			slog.String("delivery_id", rec.ID),
			slog.Int("attempt", rec.AttemptCount),
			slog.Time("next_retry_at", rec.NextRetryAt),
			slog.String("error", err.Error()),
		)
	}

	if uerr := d.store.Update(ctx, rec); uerr != nil {
		d.logger.ErrorContext(ctx, "update webhook delivery record", slog.String("error", uerr.Error()))
	}
}

func (d *Dispatcher) post(ctx context.Context, rec *DeliveryRecord, ts time.Time) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rec.TargetURL, bytes.NewReader(rec.Payload))
	if err != nil {
		return fmt.Errorf("create delivery request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderSignature, rec.Signature)
	req.Header.Set(HeaderTimestamp, fmt.Sprintf("%d", ts.Unix()))

	resp, err := d.client.Do(ctx, req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("endpoint returned status %d", resp.StatusCode)
	}
	return nil
}

// RetryDelay returns the backoff delay after the given attempt number
// (1-indexed). Delays double from the initial interval up to the cap, with
// no jitter so the schedule is strictly increasing.
func (d *Dispatcher) RetryDelay(attempt int) time.Duration {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = d.cfg.InitialDelay
	eb.MaxInterval = d.cfg.MaxDelay
	eb.RandomizationFactor = 0
	eb.Multiplier = 2

	delay := eb.NextBackOff()
	for i := 1; i < attempt; i++ {
		delay = eb.NextBackOff()
	}
	return delay
}
