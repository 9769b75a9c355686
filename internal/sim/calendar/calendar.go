package calendar

import (
	"time"

	"voxeltags.ai/internal/sim/places/query"
)

// Source is what the place service needs from a calendar.
type Source interface {
	Today() int
	DaysPerUnit(u query.Unit) int
}

type Config struct {
	Epoch     time.Time
	DayLength time.Duration

	MonthDays   int
	QuarterDays int
	YearDays    int
}

func DefaultConfig() Config {
	return Config{
		Epoch:       time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		DayLength:   20 * time.Minute,
		MonthDays:   30,
		QuarterDays: 120,
		YearDays:    360,
	}
}

// Normalize fills zero fields from DefaultConfig. Quarter and year default to
// multiples of the configured month.
func (c Config) Normalize() Config {
	d := DefaultConfig()
	if c.Epoch.IsZero() {
		c.Epoch = d.Epoch
	}
	if c.DayLength <= 0 {
		c.DayLength = d.DayLength
	}
	if c.MonthDays <= 0 {
		c.MonthDays = d.MonthDays
	}
	if c.QuarterDays <= 0 {
		c.QuarterDays = 4 * c.MonthDays
	}
	if c.YearDays <= 0 {
		c.YearDays = 12 * c.MonthDays
	}
	return c
}

// Calendar counts in-world days since an epoch. Day numbers start at 1 so
// that 0 stays free for "no bound" in tag windows.
type Calendar struct {
	cfg Config
	now func() time.Time
}

func New(cfg Config) *Calendar {
	return &Calendar{cfg: cfg.Normalize(), now: time.Now}
}

// WithClock swaps the wall clock, for tests and replays.
func (c *Calendar) WithClock(now func() time.Time) *Calendar {
	cp := *c
	cp.now = now
	return &cp
}

func (c *Calendar) Config() Config { return c.cfg }

func (c *Calendar) Today() int {
	return c.DayAt(c.now())
}

func (c *Calendar) DayAt(t time.Time) int {
	elapsed := t.Sub(c.cfg.Epoch)
	if elapsed < 0 {
		return 1
	}
	return int(elapsed/c.cfg.DayLength) + 1
}

func (c *Calendar) DaysPerUnit(u query.Unit) int {
	switch u {
	case query.UnitDay:
		return 1
	case query.UnitWeek:
		return 7
	case query.UnitMonth:
		return c.cfg.MonthDays
	case query.UnitQuarter:
		return c.cfg.QuarterDays
	case query.UnitYear:
		return c.cfg.YearDays
	}
	return 0
}

// Fixed is a Source pinned to one day.
type Fixed struct {
	Day     int
	Lengths query.DayTable
}

func (f Fixed) Today() int                   { return f.Day }
func (f Fixed) DaysPerUnit(u query.Unit) int { return f.Lengths.DaysPerUnit(u) }
