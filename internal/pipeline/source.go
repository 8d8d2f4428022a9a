package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/couchcryptid/sonde-alert/internal/domain"
)

// ErrSourceFull is returned by Push when the buffer has no room.
var ErrSourceFull = errors.New("telemetry buffer full")

// ChannelSource is a bounded in-memory source fed by Push, used for the HTTP
// ingest endpoint. It implements BatchExtractor.
type ChannelSource struct {
	events chan domain.RawEvent
	idle   time.Duration
}

// NewChannelSource buffers up to size events. ExtractBatch returns an empty
// batch after idle with no traffic so the pipeline loop stays responsive.
func NewChannelSource(size int, idle time.Duration) *ChannelSource {
	if size <= 0 {
		size = 1
	}
	if idle <= 0 {
		idle = time.Second
	}
	return &ChannelSource{events: make(chan domain.RawEvent, size), idle: idle}
}

// Push enqueues raw without blocking.
func (s *ChannelSource) Push(ctx context.Context, raw domain.RawEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case s.events <- raw:
		return nil
	default:
		return ErrSourceFull
	}
}

func (s *ChannelSource) ExtractBatch(ctx context.Context, batchSize int) ([]domain.RawEvent, error) {
	if batchSize <= 0 {
		batchSize = 1
	}

	timer := time.NewTimer(s.idle)
	defer timer.Stop()

	var batch []domain.RawEvent
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, nil
	case raw := <-s.events:
		batch = append(batch, raw)
	}

	for len(batch) < batchSize {
		select {
		case raw := <-s.events:
			batch = append(batch, raw)
		default:
			return batch, nil
		}
	}
	return batch, nil
}
