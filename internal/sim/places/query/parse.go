package query

import (
	"regexp"
	"strconv"
	"strings"

	"voxeltags.ai/internal/sim/places/tags"
)

// SearchUpdateSeparator splits "search -> update" query text.
const SearchUpdateSeparator = " -> "

// PatternMarker prefixes a wildcard token: "~*ore".
const PatternMarker = '~'

// Reserved names hidden from every query that does not ask for them.
var reservedNames = [...]string{"excluded", "hidden", "ignored"}

// Unit is a calendar unit letter in an offset token.
type Unit byte

const (
	UnitDay     Unit = 'd'
	UnitWeek    Unit = 'w'
	UnitMonth   Unit = 'm'
	UnitQuarter Unit = 'q'
	UnitYear    Unit = 'y'
)

func (u Unit) String() string { return string(rune(u)) }

// Offset is a signed count of calendar units relative to today.
type Offset struct {
	Amount int
	Unit   Unit
}

// Parsed is a query split into its filter axes. It is immutable once
// returned by Parse; accessors hand out copies.
type Parsed struct {
	included         []tags.Name
	includedPatterns []tags.Pattern
	excluded         []tags.Name
	excludedPatterns []tags.Pattern

	includedKeys map[string]struct{}
	excludedKeys map[string]struct{}

	hideReserved bool

	start, end       Offset
	hasStart, hasEnd bool
}

var tokenRE = regexp.MustCompile(`(?i)^([+-]?)(?:(\d+)([yqmwd])|(.*))$`)

// Parse never fails; unusable tokens are dropped.
func Parse(text string) Parsed {
	b := newBuilder()
	for _, tok := range strings.Fields(text) {
		b.token(tok)
	}
	return b.build()
}

// ParseSearchAndUpdate splits on the first " -> ". Without a separator the
// whole text is the update half and the search half is empty.
func ParseSearchAndUpdate(text string) (search, update Parsed) {
	s, u, ok := strings.Cut(text, SearchUpdateSeparator)
	if !ok {
		return Parse(""), Parse(text)
	}
	return Parse(s), Parse(u)
}

type builder struct {
	p Parsed

	inPat map[string]struct{}
	exPat map[string]struct{}
}

func newBuilder() *builder {
	return &builder{
		p: Parsed{
			includedKeys: map[string]struct{}{},
			excludedKeys: map[string]struct{}{},
		},
		inPat: map[string]struct{}{},
		exPat: map[string]struct{}{},
	}
}

func (b *builder) token(tok string) {
	m := tokenRE.FindStringSubmatch(tok)
	if m == nil {
		return
	}
	sign := m[1]
	if m[2] != "" {
		b.offset(sign, m[2], m[3])
		return
	}
	b.tag(sign == "-", m[4])
}

func (b *builder) offset(sign, digits, unit string) {
	n, err := strconv.Atoi(digits)
	if err != nil {
		return
	}
	u := Unit(strings.ToLower(unit)[0])
	switch sign {
	case "":
		b.p.end = Offset{Amount: n, Unit: u}
		b.p.hasEnd = true
	default:
		if n == 0 {
			return
		}
		if sign == "-" {
			n = -n
		}
		b.p.start = Offset{Amount: n, Unit: u}
		b.p.hasStart = true
	}
}

func (b *builder) tag(exclude bool, text string) {
	quoted := len(text) >= 2 && text[0] == '"' && text[len(text)-1] == '"'
	if quoted {
		text = text[1 : len(text)-1]
	}
	if !quoted && len(text) > 1 && text[0] == PatternMarker && tags.HasWildcard(text[1:]) {
		pat, err := tags.CompilePattern(text[1:])
		if err != nil {
			return
		}
		if exclude {
			addPattern(&b.p.excludedPatterns, b.exPat, pat)
		} else {
			addPattern(&b.p.includedPatterns, b.inPat, pat)
		}
		return
	}
	n, err := tags.ParseName(text)
	if err != nil {
		return
	}
	if exclude {
		addName(&b.p.excluded, b.p.excludedKeys, n)
	} else {
		addName(&b.p.included, b.p.includedKeys, n)
	}
}

func addName(list *[]tags.Name, keys map[string]struct{}, n tags.Name) {
	if _, ok := keys[n.Key()]; ok {
		return
	}
	keys[n.Key()] = struct{}{}
	*list = append(*list, n)
}

func addPattern(list *[]tags.Pattern, keys map[string]struct{}, p tags.Pattern) {
	if _, ok := keys[p.Key()]; ok {
		return
	}
	keys[p.Key()] = struct{}{}
	*list = append(*list, p)
}

func (b *builder) build() Parsed {
	p := b.p
	p.hideReserved = true
	for _, r := range reservedNames {
		if _, ok := p.includedKeys[r]; ok {
			p.hideReserved = false
			break
		}
	}
	return p
}

func (p Parsed) IncludedNames() []tags.Name       { return append([]tags.Name(nil), p.included...) }
func (p Parsed) IncludedPatterns() []tags.Pattern { return append([]tags.Pattern(nil), p.includedPatterns...) }
func (p Parsed) ExcludedNames() []tags.Name       { return append([]tags.Name(nil), p.excluded...) }
func (p Parsed) ExcludedPatterns() []tags.Pattern { return append([]tags.Pattern(nil), p.excludedPatterns...) }

// AdditionalExcludedNames lists the reserved names this query hides.
func (p Parsed) AdditionalExcludedNames() []tags.Name {
	if !p.hideReserved {
		return nil
	}
	out := make([]tags.Name, 0, len(reservedNames))
	for _, r := range reservedNames {
		out = append(out, tags.MustName(r))
	}
	return out
}

func (p Parsed) StartOffset() (Offset, bool) { return p.start, p.hasStart }
func (p Parsed) EndOffset() (Offset, bool)   { return p.end, p.hasEnd }

// IsEmpty reports a query with no tag filters and no offsets.
func (p Parsed) IsEmpty() bool {
	return len(p.included) == 0 && len(p.includedPatterns) == 0 &&
		len(p.excluded) == 0 && len(p.excludedPatterns) == 0 &&
		!p.hasStart && !p.hasEnd
}

// String renders the query back into text that parses to the same filters.
func (p Parsed) String() string {
	var parts []string
	for _, n := range p.included {
		parts = append(parts, quoteName(n))
	}
	for _, pat := range p.includedPatterns {
		parts = append(parts, string(PatternMarker)+pat.String())
	}
	for _, n := range p.excluded {
		parts = append(parts, "-"+quoteName(n))
	}
	for _, pat := range p.excludedPatterns {
		parts = append(parts, "-"+string(PatternMarker)+pat.String())
	}
	if p.hasStart {
		sign := "+"
		amt := p.start.Amount
		if amt < 0 {
			sign = "-"
			amt = -amt
		}
		parts = append(parts, sign+strconv.Itoa(amt)+p.start.Unit.String())
	}
	if p.hasEnd {
		parts = append(parts, strconv.Itoa(p.end.Amount)+p.end.Unit.String())
	}
	return strings.Join(parts, " ")
}

func quoteName(n tags.Name) string {
	s := n.String()
	switch s[0] {
	case '"', PatternMarker, '+', '-':
		return `"` + s + `"`
	}
	if m := tokenRE.FindStringSubmatch(s); m != nil && m[2] != "" {
		return `"` + s + `"`
	}
	return s
}

// Select builds a query from explicit name lists, as if each had been typed
// as a bare or '-' prefixed token.
func Select(included, excluded []tags.Name) Parsed {
	b := newBuilder()
	for _, n := range included {
		if !n.IsZero() {
			addName(&b.p.included, b.p.includedKeys, n)
		}
	}
	for _, n := range excluded {
		if !n.IsZero() {
			addName(&b.p.excluded, b.p.excludedKeys, n)
		}
	}
	return b.build()
}
