package places

import (
	"math"

	"voxeltags.ai/internal/sim/places/query"
	"voxeltags.ai/internal/sim/places/tags"
)

type Vec3 struct {
	X, Y, Z float64
}

func (v Vec3) Dist2(o Vec3) float64 {
	dx, dy, dz := v.X-o.X, v.Y-o.Y, v.Z-o.Z
	return dx*dx + dy*dy + dz*dz
}

// HorizontalDist is the distance in the X/Z plane.
func (v Vec3) HorizontalDist(x, z float64) float64 {
	return math.Hypot(v.X-x, v.Z-z)
}

// Place is a tagged position. A stored place always has at least one tag
// and no two tags with the same name key.
type Place struct {
	Pos  Vec3
	Tags []tags.Tag
}

func (p Place) Clone() Place {
	return Place{Pos: p.Pos, Tags: append([]tags.Tag(nil), p.Tags...)}
}

// Sanitize drops unnamed and duplicate tags.
func (p Place) Sanitize() Place {
	return Place{Pos: p.Pos, Tags: tags.Dedupe(p.Tags)}
}

func (p Place) Valid() bool { return len(p.Tags) > 0 }

func (p Place) Matches(r query.Resolved) bool { return r.Matches(p.Tags) }

// Update rewrites p's tags in place and reports whether anything changed.
func (p *Place) Update(r query.Resolved, allowRemove bool) bool {
	out, changed := r.Apply(p.Tags, allowRemove)
	if changed {
		p.Tags = out
	}
	return changed
}

func (p Place) HasTag(n tags.Name) bool {
	for _, t := range p.Tags {
		if t.Name.EqualFold(n) {
			return true
		}
	}
	return false
}
