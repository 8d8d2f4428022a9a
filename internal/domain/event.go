package domain

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrMalformedEvent marks telemetry that is missing a required field or
// carries values outside their valid range.
var ErrMalformedEvent = errors.New("malformed telemetry event")

// SondeRecord is the flat JSON telemetry frame published by SondeHub.
// Pointer fields distinguish "absent" from a legitimate zero value.
type SondeRecord struct {
	Serial       string   `json:"serial"`
	Lat          *float64 `json:"lat"`
	Lon          *float64 `json:"lon"`
	Alt          *float64 `json:"alt"`   // metres
	VelV         *float64 `json:"vel_v"` // m/s
	VelH         *float64 `json:"vel_h,omitempty"`
	Heading      *float64 `json:"heading,omitempty"`
	Datetime     string   `json:"datetime"`
	Type         string   `json:"type,omitempty"`
	Subtype      string   `json:"subtype,omitempty"`
	Frequency    *float64 `json:"frequency,omitempty"`
	UploaderCall string   `json:"uploader_callsign,omitempty"`
}

// RawEvent represents an unprocessed telemetry message from a source adapter.
type RawEvent struct {
	Key       []byte
	Value     []byte
	Headers   map[string]string
	Source    string
	Partition int
	Offset    int64
	Timestamp time.Time
	Commit    func(ctx context.Context) error
}

// Location is the fixed reference point alerts are measured from.
type Location struct {
	Name string  `json:"name,omitempty"`
	Lat  float64 `json:"lat"`
	Lon  float64 `json:"lon"`
}

// Point returns the location as a coordinate pair.
func (l Location) Point() Point {
	return Point{Lat: l.Lat, Lon: l.Lon}
}

// TelemetryEvent is one validated position report for a tracked sonde.
type TelemetryEvent struct {
	ObjectID   string    `json:"object_id"`
	Lat        float64   `json:"lat"`
	Lon        float64   `json:"lon"`
	AltitudeFt float64   `json:"altitude_ft"`
	ClimbRate  *float64  `json:"climb_rate,omitempty"` // m/s, nil when unknown
	Timestamp  time.Time `json:"timestamp"`
	Type       string    `json:"type,omitempty"`
	Subtype    string    `json:"subtype,omitempty"`
	Source     string    `json:"source,omitempty"`
}

// Point returns the event position.
func (e TelemetryEvent) Point() Point {
	return Point{Lat: e.Lat, Lon: e.Lon}
}

// Validate rejects events the engine cannot evaluate. The returned error wraps
// ErrMalformedEvent.
func (e TelemetryEvent) Validate() error {
	if e.ObjectID == "" {
		return fmt.Errorf("%w: missing object id", ErrMalformedEvent)
	}
	if !e.Point().Valid() {
		return fmt.Errorf("%w: position %.5f,%.5f out of range", ErrMalformedEvent, e.Lat, e.Lon)
	}
	if e.Timestamp.IsZero() {
		return fmt.Errorf("%w: missing timestamp", ErrMalformedEvent)
	}
	if !finite(e.AltitudeFt) {
		return fmt.Errorf("%w: altitude %v is not finite", ErrMalformedEvent, e.AltitudeFt)
	}
	if e.ClimbRate != nil && !finite(*e.ClimbRate) {
		return fmt.Errorf("%w: climb rate %v is not finite", ErrMalformedEvent, *e.ClimbRate)
	}
	return nil
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
