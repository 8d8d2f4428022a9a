package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// ParseRawEvent deserializes a RawEvent's value into a TelemetryEvent.
// Frames without a datetime fall back to the message timestamp, then to the
// current time.
func ParseRawEvent(raw RawEvent) (TelemetryEvent, error) {
	var rec SondeRecord
	if err := json.Unmarshal(raw.Value, &rec); err != nil {
		return TelemetryEvent{}, fmt.Errorf("parse raw event: %w: %w", ErrMalformedEvent, err)
	}

	event, err := rec.ToTelemetryEvent(raw.Timestamp)
	if err != nil {
		return TelemetryEvent{}, err
	}
	event.Source = raw.Source
	return event, nil
}

// ToTelemetryEvent converts a SondeHub frame into a validated TelemetryEvent.
// Altitude is converted to feet here and nowhere else.
func (r SondeRecord) ToTelemetryEvent(fallback time.Time) (TelemetryEvent, error) {
	serial := strings.TrimSpace(r.Serial)
	switch {
	case serial == "":
		return TelemetryEvent{}, fmt.Errorf("%w: missing serial", ErrMalformedEvent)
	case r.Lat == nil || r.Lon == nil:
		return TelemetryEvent{}, fmt.Errorf("%w: serial %s: missing position", ErrMalformedEvent, serial)
	case r.Alt == nil:
		return TelemetryEvent{}, fmt.Errorf("%w: serial %s: missing altitude", ErrMalformedEvent, serial)
	}

	ts, err := parseFrameTime(r.Datetime, fallback)
	if err != nil {
		return TelemetryEvent{}, fmt.Errorf("%w: serial %s: %w", ErrMalformedEvent, serial, err)
	}

	event := TelemetryEvent{
		ObjectID:   serial,
		Lat:        *r.Lat,
		Lon:        *r.Lon,
		AltitudeFt: MetersToFeet(*r.Alt),
		Timestamp:  ts,
		Type:       r.Type,
		Subtype:    r.Subtype,
	}
	if r.VelV != nil {
		rate := *r.VelV
		event.ClimbRate = &rate
	}

	if err := event.Validate(); err != nil {
		return TelemetryEvent{}, err
	}
	return event, nil
}

func parseFrameTime(value string, fallback time.Time) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		if !fallback.IsZero() {
			return fallback.UTC(), nil
		}
		return clock.Now().UTC(), nil
	}
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid datetime %q", value)
	}
	return t.UTC(), nil
}

// DeriveClimbRate computes the vertical rate in m/s between two frames of the
// same sonde. Returns nil when the frames are not strictly ordered in time.
func DeriveClimbRate(prev, cur TelemetryEvent) *float64 {
	dt := cur.Timestamp.Sub(prev.Timestamp).Seconds()
	if dt <= 0 {
		return nil
	}
	rate := (cur.AltitudeFt - prev.AltitudeFt) / FeetPerMeter / dt
	return &rate
}
