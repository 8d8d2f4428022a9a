package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/couchcryptid/sonde-alert/internal/domain"
	"github.com/couchcryptid/sonde-alert/internal/observability"
)

// recordingNotifier records every request it receives. When block is set,
// Send waits on it (or ctx) before returning.
type recordingNotifier struct {
	name    string
	err     error
	block   chan struct{}
	started chan struct{}

	mu     sync.Mutex
	got    []domain.NotificationRequest
	closed bool
}

func newRecorder(name string) *recordingNotifier {
	return &recordingNotifier{name: name, started: make(chan struct{}, 64)}
}

func (r *recordingNotifier) Name() string { return r.name }

func (r *recordingNotifier) Send(ctx context.Context, req domain.NotificationRequest) error {
	r.started <- struct{}{}
	if r.block != nil {
		select {
		case <-r.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	r.mu.Lock()
	r.got = append(r.got, req)
	r.mu.Unlock()
	return r.err
}

func (r *recordingNotifier) Close() error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	return nil
}

func (r *recordingNotifier) received() []domain.NotificationRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.NotificationRequest(nil), r.got...)
}

func request(i int) domain.NotificationRequest {
	return domain.NotificationRequest{
		ID:        fmt.Sprintf("req-%d", i),
		Criterion: "near",
		ObjectID:  fmt.Sprintf("S%d", i),
	}
}

func newTestDispatcher(cfg DispatcherConfig, notifiers ...Notifier) (*Dispatcher, *observability.Metrics) {
	m := observability.NewMetricsForTesting()
	return NewDispatcher(notifiers, cfg, observability.DiscardLogger(), m), m
}

func TestDispatcher_DeliversToAllNotifiers(t *testing.T) {
	defer goleak.VerifyNone(t)

	a, b := newRecorder("a"), newRecorder("b")
	d, m := newTestDispatcher(DispatcherConfig{Workers: 2, QueueSize: 10}, a, b)

	for i := 0; i < 5; i++ {
		require.NoError(t, d.Enqueue(request(i)))
	}
	require.NoError(t, d.Close(context.Background()))

	assert.Len(t, a.received(), 5)
	assert.Len(t, b.received(), 5)
	assert.True(t, a.closed)
	assert.True(t, b.closed)
	assert.Equal(t, 5.0, testutil.ToFloat64(m.NotificationsSent.WithLabelValues("a")))
}

func TestDispatcher_FailureIsCountedNotPropagated(t *testing.T) {
	defer goleak.VerifyNone(t)

	failing := newRecorder("failing")
	failing.err = errors.New("endpoint down")
	ok := newRecorder("ok")
	d, m := newTestDispatcher(DispatcherConfig{Workers: 1, QueueSize: 4}, failing, ok)

	require.NoError(t, d.Enqueue(request(1)))
	require.NoError(t, d.Close(context.Background()))

	assert.Len(t, ok.received(), 1, "one failing endpoint does not block the others")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.NotificationsFailed.WithLabelValues("failing")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.NotificationsSent.WithLabelValues("ok")))
}

func TestDispatcher_QueueFull(t *testing.T) {
	defer goleak.VerifyNone(t)

	slow := newRecorder("slow")
	slow.block = make(chan struct{})
	d, m := newTestDispatcher(DispatcherConfig{Workers: 1, QueueSize: 1}, slow)

	require.NoError(t, d.Enqueue(request(1)))
	<-slow.started // worker holds request 1

	require.NoError(t, d.Enqueue(request(2)))
	err := d.Enqueue(request(3))
	assert.True(t, errors.Is(err, ErrQueueFull))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.NotificationsDropped.WithLabelValues("queue_full")))

	close(slow.block)
	require.NoError(t, d.Close(context.Background()))
	assert.Len(t, slow.received(), 2)
}

func TestDispatcher_RateLimited(t *testing.T) {
	defer goleak.VerifyNone(t)

	n := newRecorder("n")
	d, m := newTestDispatcher(DispatcherConfig{Workers: 1, QueueSize: 10, RatePerMinute: 2}, n)

	require.NoError(t, d.Enqueue(request(1)))
	require.NoError(t, d.Enqueue(request(2)))
	err := d.Enqueue(request(3))
	assert.True(t, errors.Is(err, ErrRateLimited))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.NotificationsDropped.WithLabelValues("rate_limited")))

	require.NoError(t, d.Close(context.Background()))
	assert.Len(t, n.received(), 2)
}

func TestDispatcher_QueueFullKeepsRateBudget(t *testing.T) {
	defer goleak.VerifyNone(t)

	slow := newRecorder("slow")
	slow.block = make(chan struct{})
	d, m := newTestDispatcher(DispatcherConfig{Workers: 1, QueueSize: 1, RatePerMinute: 3}, slow)

	require.NoError(t, d.Enqueue(request(1)))
	<-slow.started
	require.NoError(t, d.Enqueue(request(2)))

	for i := 3; i <= 5; i++ {
		assert.True(t, errors.Is(d.Enqueue(request(i)), ErrQueueFull))
	}
	assert.Equal(t, 3.0, testutil.ToFloat64(m.NotificationsDropped.WithLabelValues("queue_full")))
	assert.Zero(t, testutil.ToFloat64(m.NotificationsDropped.WithLabelValues("rate_limited")))

	close(slow.block)
	<-slow.started // worker took request 2, queue is empty

	require.NoError(t, d.Enqueue(request(6)), "third token is still available")
	require.NoError(t, d.Close(context.Background()))
	assert.Len(t, slow.received(), 3)
}

func TestDispatcher_EnqueueAfterClose(t *testing.T) {
	defer goleak.VerifyNone(t)

	d, _ := newTestDispatcher(DispatcherConfig{}, newRecorder("n"))
	require.NoError(t, d.Close(context.Background()))

	assert.True(t, errors.Is(d.Enqueue(request(1)), ErrClosed))
	assert.NoError(t, d.Close(context.Background()), "second close is a no-op")
}

func TestDispatcher_CloseAbandonsAfterDeadline(t *testing.T) {
	defer goleak.VerifyNone(t)

	stuck := newRecorder("stuck")
	stuck.block = make(chan struct{}) // never released
	d, m := newTestDispatcher(DispatcherConfig{Workers: 1, QueueSize: 4, Timeout: time.Minute}, stuck)

	require.NoError(t, d.Enqueue(request(1)))
	require.NoError(t, d.Enqueue(request(2)))
	<-stuck.started

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := d.Close(ctx)

	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Empty(t, stuck.received())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.NotificationsFailed.WithLabelValues("stuck")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.NotificationsDropped.WithLabelValues("shutdown")))
}

func TestDispatcher_NoNotifiers(t *testing.T) {
	defer goleak.VerifyNone(t)

	d, _ := newTestDispatcher(DispatcherConfig{Workers: 1, QueueSize: 1})
	require.NoError(t, d.Enqueue(request(1)))
	require.NoError(t, d.Close(context.Background()))
}
