package query

// DayLengths converts a calendar unit into days.
type DayLengths interface {
	DaysPerUnit(u Unit) int
}

// DayTable is a fixed DayLengths. Day and week fall back to 1 and 7.
type DayTable map[Unit]int

func (t DayTable) DaysPerUnit(u Unit) int {
	if n, ok := t[u]; ok {
		return n
	}
	switch u {
	case UnitDay:
		return 1
	case UnitWeek:
		return 7
	}
	return 0
}

// Resolved is a Parsed query pinned to absolute days. Day is the evaluation
// day for matching; StartDay/EndDay is the window written by updates.
type Resolved struct {
	Parsed

	Day      int
	StartDay int
	EndDay   int
}

// Resolve pins offsets against today. A start that lands on or before day 0
// is open; an end offset of zero never expires. Matching happens on the
// start day when one was given.
func Resolve(p Parsed, today int, lengths DayLengths) Resolved {
	r := Resolved{Parsed: p, Day: today}
	if o, ok := p.StartOffset(); ok {
		if d := today + o.Amount*lengths.DaysPerUnit(o.Unit); d > 0 {
			r.StartDay = d
			r.Day = d
		}
	}
	if o, ok := p.EndOffset(); ok && o.Amount > 0 {
		if d := today + o.Amount*lengths.DaysPerUnit(o.Unit); d > 0 {
			r.EndDay = d
		}
	}
	return r
}

// At pins p to explicit days without a calendar.
func (p Parsed) At(day, startDay, endDay int) Resolved {
	return Resolved{Parsed: p, Day: day, StartDay: startDay, EndDay: endDay}
}

// WithoutIncluded drops the included axis so an update can only remove.
func (r Resolved) WithoutIncluded() Resolved {
	out := r
	out.included = nil
	out.includedPatterns = nil
	out.includedKeys = map[string]struct{}{}
	return out
}
