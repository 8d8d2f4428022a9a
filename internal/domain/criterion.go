package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Criterion is a named alert rule. Every bound is optional and inclusive;
// a nil bound imposes no constraint on its axis.
type Criterion struct {
	Name string `json:"name"`

	// DistanceMax is the ceiling on distance from the reference location, in statute miles.
	DistanceMax *float64 `json:"distance_max,omitempty"`

	// Altitude bounds in feet.
	AltitudeMin *float64 `json:"altitude_min,omitempty"`
	AltitudeMax *float64 `json:"altitude_max,omitempty"`

	// Climb rate bounds in m/s; negative values mean descending.
	ClimbRateMin *float64 `json:"climb_rate_min,omitempty"`
	ClimbRateMax *float64 `json:"climb_rate_max,omitempty"`

	Enabled bool `json:"enabled"`
}

// Match is the outcome of evaluating one criterion against one event.
type Match struct {
	Matched bool
	// DistanceMiles is set when the distance was computed during evaluation.
	DistanceMiles *float64
}

// HasThresholds reports whether at least one bound is set.
func (c Criterion) HasThresholds() bool {
	return c.DistanceMax != nil ||
		c.AltitudeMin != nil || c.AltitudeMax != nil ||
		c.ClimbRateMin != nil || c.ClimbRateMax != nil
}

// Matches reports whether the event satisfies every bound the criterion defines.
// Disabled criteria never match.
func (c Criterion) Matches(event TelemetryEvent, ref Location) bool {
	return c.Evaluate(event, ref).Matched
}

// Evaluate is Matches, additionally returning the distance when it had to be
// computed. Distance is only computed when DistanceMax is set.
func (c Criterion) Evaluate(event TelemetryEvent, ref Location) Match {
	if !c.Enabled {
		return Match{}
	}

	var m Match
	if c.DistanceMax != nil {
		d := DistanceMiles(ref.Point(), event.Point())
		m.DistanceMiles = &d
		if d > *c.DistanceMax {
			return m
		}
	}

	if c.AltitudeMin != nil && event.AltitudeFt < *c.AltitudeMin {
		return m
	}
	if c.AltitudeMax != nil && event.AltitudeFt > *c.AltitudeMax {
		return m
	}

	// Climb bounds only apply once the climb rate is known.
	if event.ClimbRate != nil {
		rate := *event.ClimbRate
		if c.ClimbRateMin != nil && rate < *c.ClimbRateMin {
			return m
		}
		if c.ClimbRateMax != nil && rate > *c.ClimbRateMax {
			return m
		}
	}

	m.Matched = true
	return m
}

// Validate checks a single criterion for configuration errors.
func (c Criterion) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return errors.New("criterion name is required")
	}
	if !c.HasThresholds() {
		return fmt.Errorf("criterion %q: at least one threshold is required", c.Name)
	}
	if c.DistanceMax != nil && *c.DistanceMax < 0 {
		return fmt.Errorf("criterion %q: distance_max must not be negative", c.Name)
	}
	if c.AltitudeMin != nil && c.AltitudeMax != nil && *c.AltitudeMin > *c.AltitudeMax {
		return fmt.Errorf("criterion %q: altitude_min exceeds altitude_max", c.Name)
	}
	if c.ClimbRateMin != nil && c.ClimbRateMax != nil && *c.ClimbRateMin > *c.ClimbRateMax {
		return fmt.Errorf("criterion %q: climb_rate_min exceeds climb_rate_max", c.Name)
	}
	return nil
}

// ValidateCriteria validates every criterion and rejects duplicate names,
// since the name is the de-duplication key.
func ValidateCriteria(criteria []Criterion) error {
	seen := make(map[string]struct{}, len(criteria))
	for _, c := range criteria {
		if err := c.Validate(); err != nil {
			return err
		}
		if _, dup := seen[c.Name]; dup {
			return fmt.Errorf("criterion %q is defined more than once", c.Name)
		}
		seen[c.Name] = struct{}{}
	}
	return nil
}

// Describe renders the set bounds for startup logging, e.g.
// "distance<=50mi altitude<=1000ft climb<=0m/s".
func (c Criterion) Describe() string {
	var parts []string
	if c.DistanceMax != nil {
		parts = append(parts, fmt.Sprintf("distance<=%gmi", *c.DistanceMax))
	}
	if c.AltitudeMin != nil {
		parts = append(parts, fmt.Sprintf("altitude>=%gft", *c.AltitudeMin))
	}
	if c.AltitudeMax != nil {
		parts = append(parts, fmt.Sprintf("altitude<=%gft", *c.AltitudeMax))
	}
	if c.ClimbRateMin != nil {
		parts = append(parts, fmt.Sprintf("climb>=%gm/s", *c.ClimbRateMin))
	}
	if c.ClimbRateMax != nil {
		parts = append(parts, fmt.Sprintf("climb<=%gm/s", *c.ClimbRateMax))
	}
	if len(parts) == 0 {
		return "any"
	}
	return strings.Join(parts, " ")
}

// Float returns a pointer to v, for building optional thresholds.
func Float(v float64) *float64 {
	return &v
}
