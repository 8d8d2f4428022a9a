package pipeline_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/sonde-alert/internal/domain"
	"github.com/couchcryptid/sonde-alert/internal/observability"
	"github.com/couchcryptid/sonde-alert/internal/pipeline"
)

// --- mocks ---

type mockExtractor struct {
	batches [][]domain.RawEvent
	errs    []error
	calls   atomic.Int64
}

func (m *mockExtractor) ExtractBatch(ctx context.Context, _ int) ([]domain.RawEvent, error) {
	i := int(m.calls.Add(1) - 1)
	if i < len(m.errs) && m.errs[i] != nil {
		return nil, m.errs[i]
	}
	if i >= len(m.batches) {
		// block until context cancelled to simulate waiting for messages
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return m.batches[i], nil
}

type mockEvaluator struct {
	mu      sync.Mutex
	events  []domain.TelemetryEvent
	evicted atomic.Int64
	fire    bool
	err     error
}

func (m *mockEvaluator) Process(event domain.TelemetryEvent) ([]domain.NotificationRequest, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.mu.Lock()
	m.events = append(m.events, event)
	m.mu.Unlock()
	if !m.fire {
		return nil, nil
	}
	return []domain.NotificationRequest{{ObjectID: event.ObjectID, Criterion: "any"}}, nil
}

func (m *mockEvaluator) Evict() int {
	m.evicted.Add(1)
	return 0
}

func (m *mockEvaluator) seen() []domain.TelemetryEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.TelemetryEvent(nil), m.events...)
}

type mockPublisher struct {
	mu   sync.Mutex
	reqs []domain.NotificationRequest
}

func (m *mockPublisher) Enqueue(req domain.NotificationRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reqs = append(m.reqs, req)
	return nil
}

func (m *mockPublisher) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.reqs)
}

// --- helpers ---

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func frame(t *testing.T, serial string, alt float64, at time.Time) domain.RawEvent {
	t.Helper()
	lat, lon := 40.70, -74.00
	data, err := json.Marshal(domain.SondeRecord{
		Serial:   serial,
		Lat:      &lat,
		Lon:      &lon,
		Alt:      &alt,
		Datetime: at.Format(time.RFC3339),
	})
	require.NoError(t, err)
	return domain.RawEvent{Key: []byte(serial), Value: data, Source: "test"}
}

func newPipeline(ext pipeline.BatchExtractor, ev pipeline.Evaluator, pub pipeline.Publisher, cfg pipeline.Config, clock clockwork.Clock) (*pipeline.Pipeline, *observability.Metrics) {
	m := observability.NewMetricsForTesting()
	if cfg.Source == "" {
		cfg.Source = "test"
	}
	tfm := pipeline.NewTransformer(100, observability.DiscardLogger())
	return pipeline.New(ext, tfm, ev, pub, observability.DiscardLogger(), m, cfg, clock), m
}

func runFor(t *testing.T, p *pipeline.Pipeline, d time.Duration) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	require.NoError(t, p.Run(ctx))
}

// --- tests ---

func TestPipeline_Run_HappyPath(t *testing.T) {
	ext := &mockExtractor{batches: [][]domain.RawEvent{{
		frame(t, "S1", 300, t0),
		frame(t, "S2", 300, t0),
	}}}
	ev := &mockEvaluator{fire: true}
	pub := &mockPublisher{}
	p, m := newPipeline(ext, ev, pub, pipeline.Config{Workers: 2, QueueSize: 8}, nil)

	require.Error(t, p.CheckReadiness(context.Background()))
	runFor(t, p, 300*time.Millisecond)

	assert.Len(t, ev.seen(), 2)
	assert.Equal(t, 2, pub.count())
	assert.NoError(t, p.CheckReadiness(context.Background()))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.MessagesConsumed.WithLabelValues("test")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.PipelineRunning))
}

func TestPipeline_Run_ContextCancellation(t *testing.T) {
	ext := &mockExtractor{}
	ev := &mockEvaluator{}
	p, _ := newPipeline(ext, ev, &mockPublisher{}, pipeline.Config{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, p.Run(ctx))
	assert.Empty(t, ev.seen())
	assert.Error(t, p.CheckReadiness(context.Background()))
}

func TestPipeline_Run_MalformedEventIsDroppedAndCommitted(t *testing.T) {
	var committed atomic.Bool
	bad := domain.RawEvent{
		Value:  []byte(`{"serial":"S1","lat":40.7}`),
		Source: "test",
		Commit: func(context.Context) error {
			committed.Store(true)
			return nil
		},
	}
	ext := &mockExtractor{batches: [][]domain.RawEvent{{bad, frame(t, "S2", 300, t0)}}}
	ev := &mockEvaluator{}
	p, m := newPipeline(ext, ev, &mockPublisher{}, pipeline.Config{}, nil)

	runFor(t, p, 300*time.Millisecond)

	assert.True(t, committed.Load())
	require.Len(t, ev.seen(), 1, "processing continues after a bad frame")
	assert.Equal(t, "S2", ev.seen()[0].ObjectID)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EventsDropped.WithLabelValues("malformed")))
}

func TestPipeline_Run_CommitsAfterHandoff(t *testing.T) {
	var commits atomic.Int64
	raw := frame(t, "S1", 300, t0)
	raw.Partition = 3
	raw.Offset = 17
	raw.Commit = func(context.Context) error {
		commits.Add(1)
		return nil
	}

	ext := &mockExtractor{batches: [][]domain.RawEvent{{raw}}}
	p, _ := newPipeline(ext, &mockEvaluator{}, &mockPublisher{}, pipeline.Config{}, nil)
	runFor(t, p, 300*time.Millisecond)

	assert.Equal(t, int64(1), commits.Load())
}

func TestPipeline_Run_RetriesAfterSourceError(t *testing.T) {
	ext := &mockExtractor{
		errs:    []error{errors.New("broker unavailable")},
		batches: [][]domain.RawEvent{nil, {frame(t, "S1", 300, t0)}},
	}
	ev := &mockEvaluator{}
	p, m := newPipeline(ext, ev, &mockPublisher{}, pipeline.Config{}, nil)

	runFor(t, p, time.Second)

	assert.Len(t, ev.seen(), 1)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SourceErrors.WithLabelValues("test")))
}

func TestPipeline_Run_EvaluatorErrorDoesNotStopPipeline(t *testing.T) {
	ext := &mockExtractor{batches: [][]domain.RawEvent{{frame(t, "S1", 300, t0)}}}
	ev := &mockEvaluator{err: fmt.Errorf("process event: %w", domain.ErrMalformedEvent)}
	pub := &mockPublisher{}
	p, _ := newPipeline(ext, ev, pub, pipeline.Config{}, nil)

	runFor(t, p, 300*time.Millisecond)

	assert.Zero(t, pub.count())
	assert.NoError(t, p.CheckReadiness(context.Background()))
}

func TestPipeline_Run_PreservesPerObjectOrder(t *testing.T) {
	var batch []domain.RawEvent
	for i := 0; i < 50; i++ {
		for _, serial := range []string{"A", "B", "C", "D", "E"} {
			batch = append(batch, frame(t, serial, float64(1000+i), t0.Add(time.Duration(i)*time.Second)))
		}
	}
	ext := &mockExtractor{batches: [][]domain.RawEvent{batch}}
	ev := &mockEvaluator{}
	p, _ := newPipeline(ext, ev, &mockPublisher{}, pipeline.Config{Workers: 4, QueueSize: 16}, nil)

	runFor(t, p, 500*time.Millisecond)

	seen := ev.seen()
	require.Len(t, seen, 250)
	bySerial := map[string][]time.Time{}
	for _, e := range seen {
		bySerial[e.ObjectID] = append(bySerial[e.ObjectID], e.Timestamp)
	}
	for serial, times := range bySerial {
		assert.True(t, sort.SliceIsSorted(times, func(i, j int) bool { return times[i].Before(times[j]) }),
			"events for %s evaluated out of order", serial)
	}
}

func TestPipeline_Run_EvictsOnInterval(t *testing.T) {
	clock := clockwork.NewFakeClock()
	ev := &mockEvaluator{}
	p, _ := newPipeline(&mockExtractor{}, ev, &mockPublisher{}, pipeline.Config{EvictInterval: time.Minute}, clock)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	waitCtx, waitCancel := context.WithTimeout(ctx, 5*time.Second)
	defer waitCancel()
	require.NoError(t, clock.BlockUntilContext(waitCtx, 1))

	clock.Advance(time.Minute)
	assert.Eventually(t, func() bool { return ev.evicted.Load() == 1 }, time.Second, 5*time.Millisecond)
	clock.Advance(time.Minute)
	assert.Eventually(t, func() bool { return ev.evicted.Load() == 2 }, time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}
