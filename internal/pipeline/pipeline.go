package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"github.com/couchcryptid/sonde-alert/internal/domain"
	"github.com/couchcryptid/sonde-alert/internal/observability"
)

// BatchExtractor reads up to batchSize raw events from the source.
type BatchExtractor interface {
	ExtractBatch(ctx context.Context, batchSize int) ([]domain.RawEvent, error)
}

// Transformer converts a raw event into a telemetry event.
type Transformer interface {
	Transform(ctx context.Context, raw domain.RawEvent) (domain.TelemetryEvent, error)
}

// Evaluator decides which notifications an event triggers.
type Evaluator interface {
	Process(event domain.TelemetryEvent) ([]domain.NotificationRequest, error)
	Evict() int
}

// Publisher accepts notifications for delivery without blocking.
type Publisher interface {
	Enqueue(req domain.NotificationRequest) error
}

// Config sizes the pipeline.
type Config struct {
	// Source labels metrics, e.g. "kafka".
	Source    string
	Workers   int
	QueueSize int
	BatchSize int
	// EvictInterval is how often idle alert state is swept. Zero disables sweeping.
	EvictInterval time.Duration
}

// Pipeline moves events from a source through evaluation to the publisher.
// Events are sharded across workers by sonde serial, so one sonde's events
// are evaluated in arrival order while different sondes run in parallel.
type Pipeline struct {
	extractor   BatchExtractor
	transformer Transformer
	evaluator   Evaluator
	publisher   Publisher
	logger      *slog.Logger
	metrics     *observability.Metrics
	clock       clockwork.Clock
	cfg         Config
	ready       atomic.Bool
}

// New creates a Pipeline. Pass a nil clock for real time.
func New(
	e BatchExtractor,
	t Transformer,
	ev Evaluator,
	pub Publisher,
	logger *slog.Logger,
	metrics *observability.Metrics,
	cfg Config,
	clock clockwork.Clock,
) *Pipeline {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize < cfg.Workers {
		cfg.QueueSize = cfg.Workers
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Pipeline{
		extractor:   e,
		transformer: t,
		evaluator:   ev,
		publisher:   pub,
		logger:      logger,
		metrics:     metrics,
		clock:       clock,
		cfg:         cfg,
	}
}

// CheckReadiness returns nil once the source has delivered its first batch,
// or an error describing why the service is not yet ready.
func (p *Pipeline) CheckReadiness(_ context.Context) error {
	if !p.ready.Load() {
		return errors.New("pipeline has not read from its source yet")
	}
	return nil
}

// Run executes the pipeline until the context is cancelled. Events already
// handed to a worker are evaluated before Run returns.
func (p *Pipeline) Run(ctx context.Context) error {
	p.logger.Info("pipeline started",
		"source", p.cfg.Source,
		"workers", p.cfg.Workers,
		"queue_size", p.cfg.QueueSize,
	)
	p.metrics.PipelineRunning.Set(1)
	defer p.metrics.PipelineRunning.Set(0)

	shards := make([]chan domain.TelemetryEvent, p.cfg.Workers)
	for i := range shards {
		shards[i] = make(chan domain.TelemetryEvent, p.cfg.QueueSize/p.cfg.Workers)
	}

	// Workers use a detached group so they can drain after ctx is cancelled.
	var workers errgroup.Group
	for _, shard := range shards {
		workers.Go(func() error {
			p.work(shard)
			return nil
		})
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer func() {
			for _, shard := range shards {
				close(shard)
			}
		}()
		p.extractLoop(gctx, shards)
		return nil
	})
	if p.cfg.EvictInterval > 0 {
		g.Go(func() error {
			p.evictLoop(gctx)
			return nil
		})
	}

	err := g.Wait()
	_ = workers.Wait()
	p.logger.Info("pipeline stopped", "reason", ctx.Err())
	return err
}

func (p *Pipeline) extractLoop(ctx context.Context, shards []chan domain.TelemetryEvent) {
	// Exponential backoff: start at 200ms, double each retry, cap at 5s.
	backoff := 200 * time.Millisecond
	maxBackoff := 5 * time.Second

	for ctx.Err() == nil {
		rawBatch, err := p.extractor.ExtractBatch(ctx, p.cfg.BatchSize)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.metrics.SourceErrors.WithLabelValues(p.cfg.Source).Inc()
			p.logger.Error("extract batch failed", "source", p.cfg.Source, "error", err)
			if !sleepWithContext(ctx, p.clock, backoff) {
				return
			}
			backoff = nextBackoff(backoff, maxBackoff)
			continue
		}

		backoff = 200 * time.Millisecond
		p.ready.Store(true)
		if len(rawBatch) == 0 {
			continue
		}
		p.metrics.MessagesConsumed.WithLabelValues(p.cfg.Source).Add(float64(len(rawBatch)))

		for _, raw := range rawBatch {
			if !p.route(ctx, raw, shards) {
				return
			}
		}
	}
}

// route parses one raw event and hands it to its shard. Returns false if the
// pipeline should stop.
func (p *Pipeline) route(ctx context.Context, raw domain.RawEvent, shards []chan domain.TelemetryEvent) bool {
	event, err := p.transformer.Transform(ctx, raw)
	if err != nil {
		p.logger.Warn("dropping malformed event",
			"error", err,
			"source", raw.Source,
			"partition", raw.Partition,
			"offset", raw.Offset,
		)
		p.metrics.EventsDropped.WithLabelValues("malformed").Inc()
		p.commitOffset(ctx, raw)
		return true
	}

	shard := shards[xxhash.Sum64String(event.ObjectID)%uint64(len(shards))]
	select {
	case shard <- event:
	case <-ctx.Done():
		return false
	}
	// Alerts are best-effort, so the offset is committed once the event has
	// been accepted by a worker rather than after delivery.
	p.commitOffset(ctx, raw)
	return true
}

func (p *Pipeline) work(events <-chan domain.TelemetryEvent) {
	for event := range events {
		reqs, err := p.evaluator.Process(event)
		if err != nil {
			p.logger.Warn("event rejected", "object_id", event.ObjectID, "error", err)
			continue
		}
		for _, req := range reqs {
			// The publisher logs and counts its own drops.
			_ = p.publisher.Enqueue(req)
		}
	}
}

func (p *Pipeline) evictLoop(ctx context.Context) {
	ticker := p.clock.NewTicker(p.cfg.EvictInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			p.evaluator.Evict()
		}
	}
}

// commitOffset commits the message offset if a commit function is available.
func (p *Pipeline) commitOffset(ctx context.Context, raw domain.RawEvent) {
	if raw.Commit == nil {
		return
	}
	if err := raw.Commit(ctx); err != nil {
		p.logger.Warn("commit offset failed", "error", err,
			"source", raw.Source, "partition", raw.Partition, "offset", raw.Offset)
	}
}

func nextBackoff(current, maxBackoff time.Duration) time.Duration {
	next := current * 2
	if next > maxBackoff {
		return maxBackoff
	}
	return next
}

func sleepWithContext(ctx context.Context, clock clockwork.Clock, d time.Duration) bool {
	if d <= 0 {
		return true
	}

	timer := clock.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.Chan():
		return true
	}
}
