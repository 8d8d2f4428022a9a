package sondehub

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/sonde-alert/internal/domain"
)

// Poller turns periodic Latest calls into a stream of new frames.
// It implements pipeline.BatchExtractor.
type Poller struct {
	client   *Client
	query    Query
	interval time.Duration
	clock    clockwork.Clock

	pending []domain.RawEvent
	next    time.Time
	// seen maps serial to the datetime of the last frame handed out, so an
	// unchanged frame is not replayed on every poll.
	seen map[string]string
}

// NewPoller polls every interval. The lookback window is twice the interval,
// never less than a minute.
func NewPoller(client *Client, center domain.Point, radiusKM float64, interval time.Duration, clock clockwork.Clock) *Poller {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	last := 2 * interval
	if last < time.Minute {
		last = time.Minute
	}
	return &Poller{
		client:   client,
		query:    Query{Center: center, RadiusKM: radiusKM, Last: last},
		interval: interval,
		clock:    clock,
		seen:     make(map[string]string),
	}
}

// ExtractBatch returns frames left over from the last poll, or waits for the
// next poll time and queries SondeHub. A poll with nothing new returns an
// empty batch.
func (p *Poller) ExtractBatch(ctx context.Context, batchSize int) ([]domain.RawEvent, error) {
	if len(p.pending) == 0 {
		if err := p.waitForNextPoll(ctx); err != nil {
			return nil, err
		}
		p.next = p.clock.Now().Add(p.interval)

		events, err := p.client.Latest(ctx, p.query)
		if err != nil {
			return nil, err
		}
		p.pending = p.filterUnchanged(events)
	}

	n := len(p.pending)
	if batchSize > 0 && n > batchSize {
		n = batchSize
	}
	batch := p.pending[:n:n]
	p.pending = p.pending[n:]
	return batch, nil
}

func (p *Poller) waitForNextPoll(ctx context.Context) error {
	if p.next.IsZero() {
		return ctx.Err()
	}
	wait := p.next.Sub(p.clock.Now())
	if wait <= 0 {
		return ctx.Err()
	}
	timer := p.clock.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.Chan():
		return nil
	}
}

func (p *Poller) filterUnchanged(events []domain.RawEvent) []domain.RawEvent {
	current := make(map[string]string, len(events))
	fresh := events[:0]
	for _, ev := range events {
		serial := string(ev.Key)
		var frame struct {
			Datetime string `json:"datetime"`
		}
		// Frames that fail to decode pass through so the parser can reject
		// them with a proper error.
		if err := json.Unmarshal(ev.Value, &frame); err == nil && frame.Datetime != "" {
			current[serial] = frame.Datetime
			if p.seen[serial] == frame.Datetime {
				continue
			}
		}
		fresh = append(fresh, ev)
	}
	p.seen = current
	return fresh
}
