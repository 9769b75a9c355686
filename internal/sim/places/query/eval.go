package query

import (
	"voxeltags.ai/internal/sim/places/tags"
)

// Matches reports whether a tag list passes every filter axis as of r.Day.
// The axes are conjunctive.
func (r Resolved) Matches(ts []tags.Tag) bool {
	active := tags.ActiveKeys(ts, r.Day)
	for _, n := range r.included {
		if _, ok := active[n.Key()]; !ok {
			return false
		}
	}
	for _, p := range r.includedPatterns {
		if !anyMatch(p, active) {
			return false
		}
	}
	for _, n := range r.excluded {
		if _, ok := active[n.Key()]; ok {
			return false
		}
	}
	for _, p := range r.excludedPatterns {
		if anyMatch(p, active) {
			return false
		}
	}
	if r.hideReserved {
		for _, k := range reservedNames {
			if _, ok := active[k]; ok {
				return false
			}
		}
	}
	return true
}

// AllowsTag applies only the exclusion axes to a single name.
func (r Resolved) AllowsTag(n tags.Name) bool {
	if r.excludes(n) {
		return false
	}
	if r.hideReserved {
		for _, rn := range reservedNames {
			if n.Key() == rn {
				return false
			}
		}
	}
	return true
}

// Apply rewrites a tag list in one pass: included tags get r's window,
// excluded tags are dropped when allowRemove, missing included names are
// appended. When nothing changes the input slice is returned as is.
func (r Resolved) Apply(ts []tags.Tag, allowRemove bool) ([]tags.Tag, bool) {
	changed := false
	out := make([]tags.Tag, 0, len(ts)+len(r.included))
	present := make(map[string]struct{}, len(ts)+len(r.included))
	for _, t := range ts {
		switch {
		case r.includes(t.Name):
			if !t.SameWindow(r.StartDay, r.EndDay) {
				t.StartDay, t.EndDay = r.StartDay, r.EndDay
				changed = true
			}
		case allowRemove && r.excludes(t.Name):
			changed = true
			continue
		}
		present[t.Name.Key()] = struct{}{}
		out = append(out, t)
	}
	for _, n := range r.included {
		if _, ok := present[n.Key()]; ok {
			continue
		}
		present[n.Key()] = struct{}{}
		out = append(out, tags.New(n, r.StartDay, r.EndDay))
		changed = true
	}
	if !changed {
		return ts, false
	}
	return out, true
}

func (r Resolved) includes(n tags.Name) bool {
	if _, ok := r.includedKeys[n.Key()]; ok {
		return true
	}
	for _, p := range r.includedPatterns {
		if p.MatchName(n) {
			return true
		}
	}
	return false
}

func (r Resolved) excludes(n tags.Name) bool {
	if _, ok := r.excludedKeys[n.Key()]; ok {
		return true
	}
	for _, p := range r.excludedPatterns {
		if p.MatchName(n) {
			return true
		}
	}
	return false
}

func anyMatch(p tags.Pattern, active map[string]tags.Name) bool {
	for _, n := range active {
		if p.MatchName(n) {
			return true
		}
	}
	return false
}
