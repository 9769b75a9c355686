package tags

import (
	"errors"
	"regexp"
	"strings"
)

var ErrEmptyName = errors.New("tags: empty tag name")

// Name is a trimmed, non-empty tag identifier. Equality is on the stored
// string; matching goes through Key.
type Name struct{ s string }

func ParseName(s string) (Name, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Name{}, ErrEmptyName
	}
	return Name{s: s}, nil
}

// MustName panics on an empty name. Use it only for names the caller controls.
func MustName(s string) Name {
	n, err := ParseName(s)
	if err != nil {
		panic(err)
	}
	return n
}

func (n Name) String() string { return n.s }
func (n Name) IsZero() bool   { return n.s == "" }

// Key is the normalized form used for all query matching.
func (n Name) Key() string { return strings.ToLower(n.s) }

func (n Name) EqualFold(o Name) bool { return strings.EqualFold(n.s, o.s) }

// Tag is a name with an activity window in days. A bound <= 0 is open.
type Tag struct {
	Name     Name
	StartDay int
	EndDay   int
}

func New(name Name, startDay, endDay int) Tag {
	return Tag{Name: name, StartDay: startDay, EndDay: endDay}
}

func (t Tag) ActiveOn(day int) bool {
	return (t.StartDay <= 0 || day >= t.StartDay) && (t.EndDay <= 0 || day <= t.EndDay)
}

// Expired reports whether the window closed before today.
func (t Tag) Expired(today int) bool {
	return t.EndDay > 0 && t.EndDay < today
}

func (t Tag) SameWindow(start, end int) bool {
	return t.StartDay == start && t.EndDay == end
}

// Pattern is a case-insensitive wildcard: '*' any run, '?' one character,
// '\' escapes the next character.
type Pattern struct {
	raw string
	re  *regexp.Regexp
}

func CompilePattern(raw string) (Pattern, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Pattern{}, ErrEmptyName
	}
	var b strings.Builder
	b.WriteString("(?is)^")
	rs := []rune(raw)
	for i := 0; i < len(rs); i++ {
		switch r := rs[i]; r {
		case '\\':
			if i+1 < len(rs) {
				i++
				b.WriteString(regexp.QuoteMeta(string(rs[i])))
			} else {
				b.WriteString(regexp.QuoteMeta(`\`))
			}
		case '*':
			b.WriteString(".*")
		case '?':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString("$")
	re, err := regexp.Compile(b.String())
	if err != nil {
		return Pattern{}, err
	}
	return Pattern{raw: raw, re: re}, nil
}

func (p Pattern) String() string { return p.raw }

// Key identifies equivalent patterns.
func (p Pattern) Key() string { return strings.ToLower(p.raw) }

func (p Pattern) Match(s string) bool {
	if p.re == nil {
		return false
	}
	return p.re.MatchString(s)
}

func (p Pattern) MatchName(n Name) bool { return p.Match(n.s) }

// HasWildcard reports an unescaped '*' or '?' in s.
func HasWildcard(s string) bool {
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '\\':
			i++
		case '*', '?':
			return true
		}
	}
	return false
}

// Dedupe keeps the first tag per name key, preserving order.
func Dedupe(in []Tag) []Tag {
	seen := make(map[string]struct{}, len(in))
	out := make([]Tag, 0, len(in))
	for _, t := range in {
		if t.Name.IsZero() {
			continue
		}
		k := t.Name.Key()
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, t)
	}
	return out
}

// ActiveKeys returns the set of name keys active on day.
func ActiveKeys(ts []Tag, day int) map[string]Name {
	out := make(map[string]Name, len(ts))
	for _, t := range ts {
		if t.ActiveOn(day) {
			out[t.Name.Key()] = t.Name
		}
	}
	return out
}
