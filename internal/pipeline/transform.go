package pipeline

import (
	"context"
	"log/slog"

	"github.com/couchcryptid/sonde-alert/internal/domain"
)

// SondeTransformer implements Transformer. Frames without a vertical speed
// get one derived from the previous frame of the same sonde.
type SondeTransformer struct {
	positions *positionCache
	logger    *slog.Logger
}

// NewTransformer creates a SondeTransformer remembering the last frame of up
// to cacheSize sondes. A cacheSize of zero disables climb-rate derivation.
func NewTransformer(cacheSize int, logger *slog.Logger) *SondeTransformer {
	t := &SondeTransformer{logger: logger}
	if cacheSize > 0 {
		t.positions = newPositionCache(cacheSize)
	}
	return t
}

func (t *SondeTransformer) Transform(_ context.Context, raw domain.RawEvent) (domain.TelemetryEvent, error) {
	event, err := domain.ParseRawEvent(raw)
	if err != nil {
		return domain.TelemetryEvent{}, err
	}
	if t.positions == nil {
		return event, nil
	}

	if event.ClimbRate == nil {
		if prev, ok := t.positions.get(event.ObjectID); ok {
			if prev.Timestamp.Equal(event.Timestamp) {
				// Same frame relayed by another receiver.
				event.ClimbRate = prev.ClimbRate
			} else {
				event.ClimbRate = domain.DeriveClimbRate(prev, event)
			}
			if event.ClimbRate != nil {
				t.logger.Debug("derived climb rate", "object_id", event.ObjectID, "climb_rate", *event.ClimbRate)
			}
		}
	}
	t.positions.put(event.ObjectID, event)
	return event, nil
}
