package places

import (
	"sort"

	"voxeltags.ai/internal/sim/places/query"
	"voxeltags.ai/internal/sim/places/tags"
)

// Collection is a filtered view over a Store. Filters return narrower views
// and never touch the store; Update is the only method that writes, and it
// writes through to the store. A view is meant to live for a single call.
type Collection struct {
	store  *Store
	places []*Place
}

func (c Collection) Len() int { return len(c.places) }

// Places returns detached copies in view order.
func (c Collection) Places() []Place {
	out := make([]Place, 0, len(c.places))
	for _, p := range c.places {
		out = append(out, p.Clone())
	}
	return out
}

func (c Collection) filter(keep func(*Place) bool) Collection {
	out := Collection{store: c.store}
	for _, p := range c.places {
		if keep(p) {
			out.places = append(out.places, p)
		}
	}
	return out
}

func (c Collection) AtRoughPlace(cell RoughPlace) Collection {
	g := c.store.grid
	return c.filter(func(p *Place) bool { return g.Cell(p.Pos) == cell })
}

// AroundPoint keeps places within radius of (x, z) in the horizontal plane.
// The boundary is inclusive.
func (c Collection) AroundPoint(x, z, radius float64) Collection {
	return c.filter(func(p *Place) bool { return p.Pos.HorizontalDist(x, z) <= radius })
}

func (c Collection) Where(r query.Resolved) Collection {
	return c.filter(func(p *Place) bool { return r.Matches(p.Tags) })
}

// ActiveTags lists the distinct tag names active on day, sorted by key.
func (c Collection) ActiveTags(day int) []tags.Name {
	seen := map[string]tags.Name{}
	for _, p := range c.places {
		for k, n := range tags.ActiveKeys(p.Tags, day) {
			if _, ok := seen[k]; !ok {
				seen[k] = n
			}
		}
	}
	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]tags.Name, 0, len(keys))
	for _, k := range keys {
		out = append(out, seen[k])
	}
	return out
}

// Nearest returns the place closest to point in 3D. Ties keep view order.
func (c Collection) Nearest(point Vec3) (Place, bool) {
	var best *Place
	bestD := 0.0
	for _, p := range c.places {
		if d := p.Pos.Dist2(point); best == nil || d < bestD {
			best, bestD = p, d
		}
	}
	if best == nil {
		return Place{}, false
	}
	return best.Clone(), true
}

// Edit selects which kinds of writes Update may perform.
type Edit struct {
	AllowRemove bool
	AllowChange bool
	AllowAdd    bool
}

// Counts tallies places per outcome. Each place lands in at most one bucket.
type Counts struct {
	Added   int
	Changed int
	Removed int
}

func (c Counts) Total() int { return c.Added + c.Changed + c.Removed }

type outcome struct {
	added, changed, removed []*Place
}

func (o outcome) counts() Counts {
	return Counts{Added: len(o.added), Changed: len(o.changed), Removed: len(o.removed)}
}

// Update applies r to every place in the view. An empty view creates a place
// at anchor when AllowAdd is set and the result has tags. Places that end up
// with no tags are removed from the store.
func (c Collection) Update(r query.Resolved, anchor Vec3, e Edit) Counts {
	return c.update(r, anchor, e).counts()
}

func (c Collection) update(r query.Resolved, anchor Vec3, e Edit) outcome {
	var o outcome
	if len(c.places) == 0 {
		if !e.AllowAdd {
			return o
		}
		p := &Place{Pos: anchor}
		p.Update(r, false)
		if p.Valid() {
			c.store.add(p)
			o.added = append(o.added, p)
		}
		return o
	}
	if !e.AllowRemove && !e.AllowChange {
		return o
	}
	if !e.AllowChange {
		r = r.WithoutIncluded()
	}
	for _, p := range c.places {
		if !p.Update(r, e.AllowRemove) {
			continue
		}
		if !p.Valid() {
			c.store.remove(p)
			o.removed = append(o.removed, p)
			continue
		}
		c.store.touch()
		o.changed = append(o.changed, p)
	}
	return o
}
