package tuning

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Tuning struct {
	ProtocolVersion string `yaml:"protocol_version"`

	Calendar Calendar `yaml:"calendar"`
	Grid     Grid     `yaml:"grid"`
	Query    Query    `yaml:"query"`
	Import   Import   `yaml:"import"`
}

type Calendar struct {
	// Epoch is RFC 3339; day 1 starts here.
	Epoch         string `yaml:"epoch"`
	DayLengthSecs int    `yaml:"day_length_secs"`
	MonthDays     int    `yaml:"month_days"`
	QuarterDays   int    `yaml:"quarter_days"`
	YearDays      int    `yaml:"year_days"`
}

type Grid struct {
	Resolution int `yaml:"resolution"`
	Offset     int `yaml:"offset"`
}

type Query struct {
	DefaultRadius float64 `yaml:"default_radius"`
	MaxRadius     float64 `yaml:"max_radius"`
	MaxTextLen    int     `yaml:"max_text_len"`
}

type Import struct {
	MaxPlaces int `yaml:"max_places"`
}

func Defaults() Tuning {
	return Tuning{
		ProtocolVersion: "1.0",
		Calendar: Calendar{
			Epoch:         "2024-01-01T00:00:00Z",
			DayLengthSecs: 1200,
			MonthDays:     30,
		},
		Grid: Grid{Resolution: 8, Offset: 4},
		Query: Query{
			DefaultRadius: 64,
			MaxRadius:     1024,
			MaxTextLen:    512,
		},
		Import: Import{MaxPlaces: 10000},
	}
}

// Load reads path over Defaults. Missing keys keep their defaults.
func Load(path string) (Tuning, error) {
	t := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

func (t Tuning) Validate() error {
	if _, err := t.Calendar.EpochTime(); err != nil {
		return fmt.Errorf("calendar.epoch: %w", err)
	}
	if t.Calendar.DayLengthSecs <= 0 {
		return fmt.Errorf("calendar.day_length_secs must be > 0")
	}
	if t.Grid.Resolution <= 0 {
		return fmt.Errorf("grid.resolution must be > 0")
	}
	if t.Query.MaxRadius < t.Query.DefaultRadius {
		return fmt.Errorf("query.max_radius must be >= query.default_radius")
	}
	return nil
}

func (c Calendar) EpochTime() (time.Time, error) {
	if c.Epoch == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, c.Epoch)
}

func (c Calendar) DayLength() time.Duration {
	return time.Duration(c.DayLengthSecs) * time.Second
}
