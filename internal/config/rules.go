package config

import (
	_ "embed"
	"fmt"
	"os"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueyaml "cuelang.org/go/encoding/yaml"
	"gopkg.in/yaml.v3"

	"github.com/couchcryptid/sonde-alert/internal/domain"
)

//go:embed schema.cue
var schemaSource string

// DefaultCheckInterval applies when app.check_interval_seconds is unset.
const DefaultCheckInterval = 60 * time.Second

// Rules is the validated content of the alert rule file.
type Rules struct {
	Location         domain.Location
	Criteria         []domain.Criterion
	NotificationURLs []string
	// CheckInterval is the poll period for pull-based sources.
	CheckInterval time.Duration
}

// EnabledCriteria returns the enabled criteria in configured order.
func (r *Rules) EnabledCriteria() []domain.Criterion {
	var out []domain.Criterion
	for _, c := range r.Criteria {
		if c.Enabled {
			out = append(out, c)
		}
	}
	return out
}

// DefaultQueryRadiusKM is the poll radius when some enabled criterion has no
// distance limit.
const DefaultQueryRadiusKM = 500.0

// QueryRadiusKM returns the radius a pull source should cover. A positive
// override wins; otherwise it is the largest distance_max among enabled
// criteria, or DefaultQueryRadiusKM when any of them is unbounded.
func (r *Rules) QueryRadiusKM(override float64) float64 {
	if override > 0 {
		return override
	}
	maxMiles := 0.0
	enabled := r.EnabledCriteria()
	if len(enabled) == 0 {
		return DefaultQueryRadiusKM
	}
	for _, c := range enabled {
		if c.DistanceMax == nil {
			return DefaultQueryRadiusKM
		}
		maxMiles = max(maxMiles, *c.DistanceMax)
	}
	return maxMiles * domain.KilometersPerMile
}

type rulesFile struct {
	Location struct {
		Name      string  `yaml:"name"`
		Latitude  float64 `yaml:"latitude"`
		Longitude float64 `yaml:"longitude"`
	} `yaml:"location"`
	Criteria      []criterionYAML `yaml:"criteria"`
	Notifications struct {
		URLs []string `yaml:"urls"`
	} `yaml:"notifications"`
	App struct {
		CheckIntervalSeconds float64 `yaml:"check_interval_seconds"`
	} `yaml:"app"`
}

type criterionYAML struct {
	Name         string   `yaml:"name"`
	DistanceMax  *float64 `yaml:"distance_max"`
	AltitudeMin  *float64 `yaml:"altitude_min"`
	AltitudeMax  *float64 `yaml:"altitude_max"`
	ClimbRateMin *float64 `yaml:"climb_rate_min"`
	ClimbRateMax *float64 `yaml:"climb_rate_max"`
	Enabled      *bool    `yaml:"enabled"`
}

// LoadRules reads the YAML rule file at path, validates it against the
// embedded CUE schema and then against the criterion invariants.
func LoadRules(path string) (*Rules, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules file: %w", err)
	}
	return ParseRules(path, data)
}

// ParseRules is LoadRules on an in-memory document; name is used in errors.
func ParseRules(name string, data []byte) (*Rules, error) {
	if err := validateSchema(name, data); err != nil {
		return nil, err
	}

	var f rulesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse rules: %w", err)
	}

	rules := &Rules{
		Location: domain.Location{
			Name: f.Location.Name,
			Lat:  f.Location.Latitude,
			Lon:  f.Location.Longitude,
		},
		NotificationURLs: f.Notifications.URLs,
		CheckInterval:    DefaultCheckInterval,
	}
	if f.App.CheckIntervalSeconds > 0 {
		rules.CheckInterval = time.Duration(f.App.CheckIntervalSeconds * float64(time.Second))
	}

	for _, c := range f.Criteria {
		enabled := true
		if c.Enabled != nil {
			enabled = *c.Enabled
		}
		rules.Criteria = append(rules.Criteria, domain.Criterion{
			Name:         c.Name,
			DistanceMax:  c.DistanceMax,
			AltitudeMin:  c.AltitudeMin,
			AltitudeMax:  c.AltitudeMax,
			ClimbRateMin: c.ClimbRateMin,
			ClimbRateMax: c.ClimbRateMax,
			Enabled:      enabled,
		})
	}

	if !rules.Location.Point().Valid() {
		return nil, fmt.Errorf("validate rules: location %v,%v out of range", rules.Location.Lat, rules.Location.Lon)
	}
	if err := domain.ValidateCriteria(rules.Criteria); err != nil {
		return nil, fmt.Errorf("validate rules: %w", err)
	}
	return rules, nil
}

// validateSchema checks the raw YAML against the #Rules definition.
func validateSchema(name string, data []byte) error {
	ctx := cuecontext.New()

	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile rules schema: %w", err)
	}

	file, err := cueyaml.Extract(name, data)
	if err != nil {
		return fmt.Errorf("parse rules: %w", err)
	}
	value := ctx.BuildFile(file)
	if err := value.Err(); err != nil {
		return fmt.Errorf("parse rules: %w", err)
	}

	unified := schema.LookupPath(cue.ParsePath("#Rules")).Unify(value)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("rules schema validation failed: %w", err)
	}
	return nil
}
