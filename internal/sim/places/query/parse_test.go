package query

import (
	"sort"
	"testing"

	"voxeltags.ai/internal/sim/places/tags"
)

func nameStrings(ns []tags.Name) []string {
	out := make([]string, 0, len(ns))
	for _, n := range ns {
		out = append(out, n.String())
	}
	return out
}

func patternStrings(ps []tags.Pattern) []string {
	out := make([]string, 0, len(ps))
	for _, p := range ps {
		out = append(out, p.String())
	}
	return out
}

func sameSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	a = append([]string(nil), a...)
	b = append([]string(nil), b...)
	sort.Strings(a)
	sort.Strings(b)
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestParse_Axes(t *testing.T) {
	p := Parse("  copper +rich  -stone ~*ore -~sand? \"~*lit\"  ")
	if got := nameStrings(p.IncludedNames()); !sameSet(got, []string{"copper", "rich", "~*lit"}) {
		t.Fatalf("included names mismatch: %v", got)
	}
	if got := patternStrings(p.IncludedPatterns()); !sameSet(got, []string{"*ore"}) {
		t.Fatalf("included patterns mismatch: %v", got)
	}
	if got := nameStrings(p.ExcludedNames()); !sameSet(got, []string{"stone"}) {
		t.Fatalf("excluded names mismatch: %v", got)
	}
	if got := patternStrings(p.ExcludedPatterns()); !sameSet(got, []string{"sand?"}) {
		t.Fatalf("excluded patterns mismatch: %v", got)
	}
}

func TestParse_MarkerWithoutWildcardIsName(t *testing.T) {
	p := Parse(`~plain ~esc\*`)
	if len(p.IncludedPatterns()) != 0 {
		t.Fatalf("expected no patterns, got %v", patternStrings(p.IncludedPatterns()))
	}
	if got := nameStrings(p.IncludedNames()); !sameSet(got, []string{"~plain", `~esc\*`}) {
		t.Fatalf("names mismatch: %v", got)
	}
}

func TestParse_WildcardWithoutMarkerIsName(t *testing.T) {
	p := Parse("*ore")
	if len(p.IncludedPatterns()) != 0 {
		t.Fatalf("expected no patterns")
	}
	if got := nameStrings(p.IncludedNames()); !sameSet(got, []string{"*ore"}) {
		t.Fatalf("names mismatch: %v", got)
	}
}

func TestParse_Offsets(t *testing.T) {
	cases := []struct {
		text     string
		start    Offset
		hasStart bool
		end      Offset
		hasEnd   bool
	}{
		{text: "", hasStart: false, hasEnd: false},
		{text: "+3d", start: Offset{3, UnitDay}, hasStart: true},
		{text: "-2W", start: Offset{-2, UnitWeek}, hasStart: true},
		{text: "5m", end: Offset{5, UnitMonth}, hasEnd: true},
		{text: "0d", end: Offset{0, UnitDay}, hasEnd: true},
		{text: "+0d", hasStart: false},
		{text: "-0y", hasStart: false},
		{text: "+1d +2q 1y 3w", start: Offset{2, UnitQuarter}, hasStart: true, end: Offset{3, UnitWeek}, hasEnd: true},
	}
	for _, c := range cases {
		p := Parse(c.text)
		s, ok := p.StartOffset()
		if ok != c.hasStart || (ok && s != c.start) {
			t.Fatalf("%q start: got %+v,%v want %+v,%v", c.text, s, ok, c.start, c.hasStart)
		}
		e, ok := p.EndOffset()
		if ok != c.hasEnd || (ok && e != c.end) {
			t.Fatalf("%q end: got %+v,%v want %+v,%v", c.text, e, ok, c.end, c.hasEnd)
		}
		if len(p.IncludedNames())+len(p.ExcludedNames()) != 0 {
			t.Fatalf("%q: offsets must not become tags", c.text)
		}
	}
}

func TestParse_NotOffsets(t *testing.T) {
	p := Parse("5days 3x d5 \"4d\"")
	if _, ok := p.EndOffset(); ok {
		t.Fatalf("unexpected end offset")
	}
	if got := nameStrings(p.IncludedNames()); !sameSet(got, []string{"5days", "3x", "d5", "4d"}) {
		t.Fatalf("names mismatch: %v", got)
	}
}

func TestParse_DropsEmptyTokens(t *testing.T) {
	p := Parse(`- + "" -""`)
	if !p.IsEmpty() {
		t.Fatalf("expected empty query, got %q", p.String())
	}
}

func TestParse_DedupesCaseInsensitive(t *testing.T) {
	p := Parse("Iron iron IRON ~*ORE ~*ore")
	if got := nameStrings(p.IncludedNames()); len(got) != 1 || got[0] != "Iron" {
		t.Fatalf("names mismatch: %v", got)
	}
	if n := len(p.IncludedPatterns()); n != 1 {
		t.Fatalf("expected one pattern, got %d", n)
	}
}

func TestParse_DefaultExclusions(t *testing.T) {
	if got := nameStrings(Parse("copper").AdditionalExcludedNames()); !sameSet(got, []string{"excluded", "hidden", "ignored"}) {
		t.Fatalf("default exclusions mismatch: %v", got)
	}
	for _, text := range []string{"hidden", "Excluded copper", "+ignored"} {
		if got := Parse(text).AdditionalExcludedNames(); len(got) != 0 {
			t.Fatalf("%q: expected no default exclusions, got %v", text, nameStrings(got))
		}
	}
	if got := Parse("-hidden").AdditionalExcludedNames(); len(got) != 3 {
		t.Fatalf("excluding a reserved name must keep the defaults")
	}
}

func TestParseSearchAndUpdate(t *testing.T) {
	s, u := ParseSearchAndUpdate("~*ore -> -rich")
	if got := patternStrings(s.IncludedPatterns()); !sameSet(got, []string{"*ore"}) {
		t.Fatalf("search patterns mismatch: %v", got)
	}
	if got := nameStrings(u.ExcludedNames()); !sameSet(got, []string{"rich"}) {
		t.Fatalf("update excluded mismatch: %v", got)
	}

	s, u = ParseSearchAndUpdate("copper 2w")
	if !s.IsEmpty() {
		t.Fatalf("search half should be empty, got %q", s.String())
	}
	if got := nameStrings(u.IncludedNames()); !sameSet(got, []string{"copper"}) {
		t.Fatalf("update included mismatch: %v", got)
	}

	s, u = ParseSearchAndUpdate("a->b")
	if !s.IsEmpty() || len(u.IncludedNames()) != 1 {
		t.Fatalf("separator requires surrounding spaces")
	}
}

func TestParse_RoundTrip(t *testing.T) {
	texts := []string{
		"copper -stone ~*ore -~sand? +3d 2w",
		`"-dash" "~*lit" "5d" "+plus" ""quoted""`,
		"hidden rich -1m",
		`~esc\*aped* -~\?q`,
	}
	for _, text := range texts {
		p := Parse(text)
		q := Parse(p.String())
		if !sameSet(nameStrings(p.IncludedNames()), nameStrings(q.IncludedNames())) ||
			!sameSet(nameStrings(p.ExcludedNames()), nameStrings(q.ExcludedNames())) ||
			!sameSet(patternStrings(p.IncludedPatterns()), patternStrings(q.IncludedPatterns())) ||
			!sameSet(patternStrings(p.ExcludedPatterns()), patternStrings(q.ExcludedPatterns())) ||
			!sameSet(nameStrings(p.AdditionalExcludedNames()), nameStrings(q.AdditionalExcludedNames())) {
			t.Fatalf("round trip mismatch for %q via %q", text, p.String())
		}
		ps, pok := p.StartOffset()
		qs, qok := q.StartOffset()
		pe, peok := p.EndOffset()
		qe, qeok := q.EndOffset()
		if ps != qs || pok != qok || pe != qe || peok != qeok {
			t.Fatalf("offset round trip mismatch for %q", text)
		}
	}
}
