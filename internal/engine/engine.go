// Package engine evaluates telemetry against the configured criteria and
// decides, per sonde and criterion, when a notification fires.
//
// Notifications are edge-triggered: a criterion fires when it starts matching
// for a sonde, stays silent while it keeps matching, and re-arms once a later
// event for that sonde no longer matches.
package engine

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/sonde-alert/internal/alertstate"
	"github.com/couchcryptid/sonde-alert/internal/domain"
	"github.com/couchcryptid/sonde-alert/internal/observability"
)

// Options tunes state retention and clearing.
type Options struct {
	// ClearAfter is how long an armed criterion must keep failing to match
	// before it clears. Zero clears on the first non-matching event.
	ClearAfter time.Duration

	// StateTTL is how long a sonde may stay silent before its state is evicted.
	// Zero disables eviction.
	StateTTL time.Duration
}

// Engine is the alert evaluation and de-duplication engine.
type Engine struct {
	location domain.Location
	criteria []domain.Criterion
	store    *alertstate.Store
	clock    clockwork.Clock
	logger   *slog.Logger
	metrics  *observability.Metrics
	opts     Options
	newID    func() string
}

// New creates an Engine. The criteria slice is copied; its order is the order
// notifications are emitted for a single event. Pass a nil clock for real time.
func New(
	location domain.Location,
	criteria []domain.Criterion,
	store *alertstate.Store,
	clock clockwork.Clock,
	logger *slog.Logger,
	metrics *observability.Metrics,
	opts Options,
) *Engine {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Engine{
		location: location,
		criteria: append([]domain.Criterion(nil), criteria...),
		store:    store,
		clock:    clock,
		logger:   logger,
		metrics:  metrics,
		opts:     opts,
		newID:    uuid.NewString,
	}
}

// Location returns the reference location.
func (e *Engine) Location() domain.Location {
	return e.location
}

// Criteria returns a copy of the configured criteria.
func (e *Engine) Criteria() []domain.Criterion {
	return append([]domain.Criterion(nil), e.criteria...)
}

// Process evaluates one event against every enabled criterion and returns the
// notifications it triggers, in criterion order. A malformed event returns an
// error wrapping domain.ErrMalformedEvent and leaves all state untouched.
func (e *Engine) Process(event domain.TelemetryEvent) ([]domain.NotificationRequest, error) {
	if err := event.Validate(); err != nil {
		e.metrics.EventsDropped.WithLabelValues("malformed").Inc()
		return nil, fmt.Errorf("process event: %w", err)
	}

	start := time.Now()
	now := e.clock.Now()
	var out []domain.NotificationRequest

	e.store.Update(event.ObjectID, now, func(obj *alertstate.Object) {
		for _, c := range e.criteria {
			if !c.Enabled {
				continue
			}
			if req, fired := e.evaluate(obj, c, event, now); fired {
				out = append(out, req)
			}
		}
	})

	e.metrics.EventsEvaluated.Inc()
	e.metrics.EvaluationDuration.Observe(time.Since(start).Seconds())
	return out, nil
}

// evaluate applies one criterion to the object's state. Must be called inside
// Store.Update for the event's object.
func (e *Engine) evaluate(obj *alertstate.Object, c domain.Criterion, event domain.TelemetryEvent, now time.Time) (domain.NotificationRequest, bool) {
	m := c.Evaluate(event, e.location)
	entry, exists := obj.Criteria[c.Name]

	switch {
	case m.Matched && (!exists || !entry.Armed):
		obj.Criteria[c.Name] = alertstate.Entry{Armed: true, FiredAt: now, LastSeen: now}
		e.metrics.AlertsFired.WithLabelValues(c.Name).Inc()
		e.logger.Info("alert fired",
			"criterion", c.Name,
			"object_id", event.ObjectID,
			"altitude_ft", event.AltitudeFt,
		)
		return e.newRequest(c, event, m, now), true

	case m.Matched:
		entry.LastSeen = now
		entry.MissSince = time.Time{}
		obj.Criteria[c.Name] = entry
		e.metrics.AlertsSuppressed.Inc()

	case exists && entry.Armed:
		entry.LastSeen = now
		if e.opts.ClearAfter > 0 {
			if entry.MissSince.IsZero() {
				entry.MissSince = now
			}
			if now.Sub(entry.MissSince) < e.opts.ClearAfter {
				obj.Criteria[c.Name] = entry
				return domain.NotificationRequest{}, false
			}
		}
		entry.Armed = false
		entry.MissSince = time.Time{}
		obj.Criteria[c.Name] = entry
		e.metrics.AlertsCleared.Inc()
		e.logger.Debug("alert cleared", "criterion", c.Name, "object_id", event.ObjectID)

	case exists:
		entry.LastSeen = now
		obj.Criteria[c.Name] = entry
	}

	return domain.NotificationRequest{}, false
}

func (e *Engine) newRequest(c domain.Criterion, event domain.TelemetryEvent, m domain.Match, now time.Time) domain.NotificationRequest {
	distance := m.DistanceMiles
	if distance == nil {
		d := domain.DistanceMiles(e.location.Point(), event.Point())
		distance = &d
	}

	title, body := domain.FormatNotification(c.Name, event, e.location, distance)
	return domain.NotificationRequest{
		ID:            e.newID(),
		Criterion:     c.Name,
		ObjectID:      event.ObjectID,
		Event:         event,
		DistanceMiles: distance,
		Title:         title,
		Body:          body,
		TrackerURL:    domain.TrackerURL(event.ObjectID),
		CreatedAt:     now,
	}
}

// Evict drops the state of every sonde silent for longer than StateTTL and
// returns how many were removed. Eviction never emits notifications.
func (e *Engine) Evict() int {
	if e.opts.StateTTL <= 0 {
		return 0
	}
	n := e.store.EvictIdle(e.clock.Now().Add(-e.opts.StateTTL))
	if n > 0 {
		e.metrics.StateEvicted.Add(float64(n))
		e.logger.Debug("evicted idle alert state", "objects", n)
	}
	e.metrics.TrackedObjects.Set(float64(e.store.Len()))
	return n
}
