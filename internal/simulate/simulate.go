// Package simulate generates synthetic sonde descents and posts them to the
// telemetry ingest endpoint, for exercising a running service end to end.
package simulate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"

	"github.com/couchcryptid/sonde-alert/internal/domain"
)

// maxFrames bounds a generated track.
const maxFrames = 10000

// Flight describes a descent that drifts in a straight line toward Target.
type Flight struct {
	Serial  string
	Type    string
	Subtype string

	Target domain.Point
	// StartDistanceKM and BearingDeg place the first frame relative to Target.
	StartDistanceKM float64
	BearingDeg      float64

	StartAltitudeM float64
	// DescentRate is positive metres per second.
	DescentRate float64
	// GroundSpeed is the horizontal drift toward Target in metres per second.
	GroundSpeed float64

	// Step is the simulated time between frames.
	Step  time.Duration
	Start time.Time
}

// Frames renders the flight until the sonde lands. The landing frame has
// zero altitude and zero vertical speed.
func (f Flight) Frames() ([]domain.SondeRecord, error) {
	switch {
	case f.Serial == "":
		return nil, errors.New("serial is required")
	case f.DescentRate <= 0:
		return nil, fmt.Errorf("descent rate must be positive, got %v", f.DescentRate)
	case f.Step <= 0:
		return nil, fmt.Errorf("step must be positive, got %v", f.Step)
	case f.StartAltitudeM <= 0:
		return nil, fmt.Errorf("start altitude must be positive, got %v", f.StartAltitudeM)
	case !f.Target.Valid():
		return nil, fmt.Errorf("target %v,%v out of range", f.Target.Lat, f.Target.Lon)
	}

	target := orb.Point{f.Target.Lon, f.Target.Lat}
	startM := f.StartDistanceKM * 1000

	var frames []domain.SondeRecord
	for i := 0; i < maxFrames; i++ {
		elapsed := time.Duration(i) * f.Step
		secs := elapsed.Seconds()

		alt := f.StartAltitudeM - f.DescentRate*secs
		velV := -f.DescentRate
		landed := alt <= 0
		if landed {
			alt, velV = 0, 0
		}

		remaining := max(startM-f.GroundSpeed*secs, 0)
		pos := target
		if remaining > 0 {
			pos = geo.PointAtBearingAndDistance(target, f.BearingDeg, remaining)
		}

		frames = append(frames, domain.SondeRecord{
			Serial:   f.Serial,
			Lat:      domain.Float(pos.Lat()),
			Lon:      domain.Float(pos.Lon()),
			Alt:      domain.Float(alt),
			VelV:     domain.Float(velV),
			VelH:     domain.Float(f.GroundSpeed),
			Heading:  domain.Float(heading(f.BearingDeg)),
			Datetime: f.Start.Add(elapsed).UTC().Format(time.RFC3339),
			Type:     f.Type,
			Subtype:  f.Subtype,
		})
		if landed {
			break
		}
	}
	return frames, nil
}

// heading is the direction of travel, back toward the target.
func heading(bearingFromTarget float64) float64 {
	h := bearingFromTarget + 180
	for h >= 360 {
		h -= 360
	}
	for h < 0 {
		h += 360
	}
	return h
}

// Sender posts frames to the ingest endpoint.
type Sender struct {
	target string
	client *http.Client
}

// NewSender posts to target, e.g. http://localhost:8080/api/v1/telemetry.
// A nil client gets a 10 second timeout.
func NewSender(target string, client *http.Client) *Sender {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Sender{target: target, client: client}
}

// Send posts one frame and expects 202 Accepted.
func (s *Sender) Send(ctx context.Context, rec domain.SondeRecord) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.target, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("post frame: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusAccepted {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// Run sends frames in order, waiting interval between them on clock. It
// returns how many frames were accepted before the first error.
func Run(ctx context.Context, frames []domain.SondeRecord, s *Sender, interval time.Duration, clock clockwork.Clock, logger *slog.Logger) (int, error) {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	for i, rec := range frames {
		if i > 0 && interval > 0 {
			select {
			case <-ctx.Done():
				return i, ctx.Err()
			case <-clock.After(interval):
			}
		}
		if err := s.Send(ctx, rec); err != nil {
			return i, fmt.Errorf("frame %d: %w", i, err)
		}
		logger.Info("frame sent",
			"serial", rec.Serial,
			"datetime", rec.Datetime,
			"alt_m", *rec.Alt,
			"vel_v", *rec.VelV,
		)
	}
	return len(frames), nil
}
