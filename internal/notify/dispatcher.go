package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/couchcryptid/sonde-alert/internal/domain"
	"github.com/couchcryptid/sonde-alert/internal/observability"
)

// DispatcherConfig sizes the delivery queue and worker pool.
type DispatcherConfig struct {
	Workers   int
	QueueSize int
	// Timeout bounds one delivery attempt per notifier.
	Timeout time.Duration
	// RatePerMinute caps accepted notifications. Zero disables the limit.
	RatePerMinute int
}

// Dispatcher accepts notification requests without blocking and delivers them
// to every notifier from a fixed pool of workers. Delivery failures are logged
// and counted, never returned to the caller.
type Dispatcher struct {
	notifiers []Notifier
	queue     chan domain.NotificationRequest
	limiter   *rate.Limiter
	timeout   time.Duration
	logger    *slog.Logger
	metrics   *observability.Metrics

	mu     sync.RWMutex
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
	group  *errgroup.Group
	done   chan struct{}
}

// NewDispatcher starts the worker pool. Call Close to drain and stop it.
func NewDispatcher(notifiers []Notifier, cfg DispatcherConfig, logger *slog.Logger, metrics *observability.Metrics) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultHTTPTimeout
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RatePerMinute > 0 {
		limiter = rate.NewLimiter(rate.Limit(float64(cfg.RatePerMinute)/60), cfg.RatePerMinute)
	}

	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		notifiers: notifiers,
		queue:     make(chan domain.NotificationRequest, cfg.QueueSize),
		limiter:   limiter,
		timeout:   cfg.Timeout,
		logger:    logger,
		metrics:   metrics,
		ctx:       ctx,
		cancel:    cancel,
		group:     &errgroup.Group{},
		done:      make(chan struct{}),
	}

	for i := 0; i < cfg.Workers; i++ {
		d.group.Go(func() error {
			d.worker()
			return nil
		})
	}
	go func() {
		_ = d.group.Wait()
		close(d.done)
	}()

	return d
}

// Enqueue hands a request to the workers. It never blocks: a full queue
// returns ErrQueueFull and an exhausted rate budget returns ErrRateLimited.
func (d *Dispatcher) Enqueue(req domain.NotificationRequest) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		d.metrics.NotificationsDropped.WithLabelValues("closed").Inc()
		return ErrClosed
	}
	// A full queue rejects before the limiter so drops do not spend rate budget.
	if len(d.queue) >= cap(d.queue) {
		return d.dropQueueFull(req)
	}
	if !d.limiter.Allow() {
		d.metrics.NotificationsDropped.WithLabelValues("rate_limited").Inc()
		d.logger.Warn("notification rate limited", "criterion", req.Criterion, "object_id", req.ObjectID)
		return ErrRateLimited
	}

	select {
	case d.queue <- req:
		d.metrics.DispatchQueueDepth.Set(float64(len(d.queue)))
		return nil
	default:
		return d.dropQueueFull(req)
	}
}

func (d *Dispatcher) dropQueueFull(req domain.NotificationRequest) error {
	d.metrics.NotificationsDropped.WithLabelValues("queue_full").Inc()
	d.logger.Warn("notification queue full, dropping", "criterion", req.Criterion, "object_id", req.ObjectID)
	return ErrQueueFull
}

func (d *Dispatcher) worker() {
	for req := range d.queue {
		d.metrics.DispatchQueueDepth.Set(float64(len(d.queue)))
		if d.ctx.Err() != nil {
			d.metrics.NotificationsDropped.WithLabelValues("shutdown").Inc()
			continue
		}
		d.deliver(req)
	}
}

func (d *Dispatcher) deliver(req domain.NotificationRequest) {
	for _, n := range d.notifiers {
		ctx, cancel := context.WithTimeout(d.ctx, d.timeout)
		start := time.Now()
		err := n.Send(ctx, req)
		cancel()
		d.metrics.DispatchDuration.WithLabelValues(n.Name()).Observe(time.Since(start).Seconds())

		if err != nil {
			d.metrics.NotificationsFailed.WithLabelValues(n.Name()).Inc()
			d.logger.Error("notification delivery failed",
				"notifier", n.Name(),
				"criterion", req.Criterion,
				"object_id", req.ObjectID,
				"error", err,
			)
			continue
		}
		d.metrics.NotificationsSent.WithLabelValues(n.Name()).Inc()
		d.logger.Debug("notification delivered", "notifier", n.Name(), "id", req.ID)
	}
}

// Close stops accepting requests and waits for queued ones to be delivered.
// If ctx expires first, in-flight deliveries are cancelled, whatever is still
// queued is dropped, and ctx's error is returned. Notifiers are closed either way.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	var drainErr error
	select {
	case <-d.done:
	case <-ctx.Done():
		d.cancel()
		<-d.done
		drainErr = fmt.Errorf("drain notifications: %w", ctx.Err())
	}
	d.cancel()

	var errs []error
	if drainErr != nil {
		errs = append(errs, drainErr)
	}
	for _, n := range d.notifiers {
		if err := n.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", n.Name(), err))
		}
	}
	return errors.Join(errs...)
}
