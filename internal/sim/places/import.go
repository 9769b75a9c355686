package places

import (
	"fmt"
	"strings"

	"voxeltags.ai/internal/sim/places/query"
	"voxeltags.ai/internal/sim/places/tags"
)

// ExistingPlaceAction decides what an imported place does to a place that
// already occupies its rough place.
type ExistingPlaceAction int

const (
	// SkipExisting leaves occupied cells untouched.
	SkipExisting ExistingPlaceAction = iota
	// UpdateExisting adds or refreshes incoming tags and never removes.
	UpdateExisting
	// ReplaceExisting makes the incoming tag set the final tag set.
	ReplaceExisting
)

func (a ExistingPlaceAction) String() string {
	switch a {
	case SkipExisting:
		return "skip"
	case UpdateExisting:
		return "update"
	case ReplaceExisting:
		return "replace"
	}
	return fmt.Sprintf("action(%d)", int(a))
}

func ParseExistingPlaceAction(s string) (ExistingPlaceAction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "skip", "":
		return SkipExisting, nil
	case "update", "merge":
		return UpdateExisting, nil
	case "replace":
		return ReplaceExisting, nil
	}
	return SkipExisting, fmt.Errorf("unknown existing place action: %q", s)
}

type ImportResult struct {
	Counts

	// Skipped counts cells left alone: occupied under SkipExisting, or nothing
	// unexpired to import.
	Skipped int
	// Dropped counts incoming places with no usable tags.
	Dropped int
}

type importGroup struct {
	cell   RoughPlace
	anchor Vec3
	tags   []tags.Tag
}

type window struct{ start, end int }

// Import reconciles incoming places with the store, one rough place at a
// time. The caller persists once afterwards.
func (s *Store) Import(incoming []Place, action ExistingPlaceAction, today int) ImportResult {
	var res ImportResult
	groups := s.groupIncoming(incoming, &res)
	for _, g := range groups {
		s.importGroup(g, action, today, &res)
	}
	return res
}

func (s *Store) groupIncoming(incoming []Place, res *ImportResult) []*importGroup {
	var order []*importGroup
	byCell := map[RoughPlace]*importGroup{}
	for _, p := range incoming {
		p = p.Sanitize()
		if !p.Valid() {
			res.Dropped++
			continue
		}
		cell := s.grid.Cell(p.Pos)
		g, ok := byCell[cell]
		if !ok {
			g = &importGroup{cell: cell, anchor: p.Pos}
			byCell[cell] = g
			order = append(order, g)
		}
		g.tags = append(g.tags, p.Tags...)
	}
	return order
}

func (s *Store) importGroup(g *importGroup, action ExistingPlaceAction, today int, res *ImportResult) {
	merged := make([]tags.Tag, 0, len(g.tags))
	for _, t := range tags.Dedupe(g.tags) {
		if !t.Expired(today) {
			merged = append(merged, t)
		}
	}
	if len(merged) == 0 {
		res.Skipped++
		return
	}

	before := s.All().AtRoughPlace(g.cell)
	if action == SkipExisting && before.Len() > 0 {
		res.Skipped++
		return
	}

	var windows []window
	batches := map[window][]tags.Name{}
	keep := map[string]struct{}{}
	for _, t := range merged {
		w := window{t.StartDay, t.EndDay}
		if _, ok := batches[w]; !ok {
			windows = append(windows, w)
		}
		batches[w] = append(batches[w], t.Name)
		keep[t.Name.Key()] = struct{}{}
	}

	var added, touched []*Place
	for _, w := range windows {
		r := query.Select(batches[w], nil).At(today, w.start, w.end)
		o := s.All().AtRoughPlace(g.cell).update(r, g.anchor, Edit{AllowChange: true, AllowAdd: true})
		added = append(added, o.added...)
		touched = append(touched, o.changed...)
	}

	if action == ReplaceExisting {
		var drop []tags.Name
		dropped := map[string]struct{}{}
		cur := s.All().AtRoughPlace(g.cell)
		for _, p := range cur.places {
			for _, t := range p.Tags {
				k := t.Name.Key()
				if _, ok := keep[k]; ok {
					continue
				}
				if _, ok := dropped[k]; ok {
					continue
				}
				dropped[k] = struct{}{}
				drop = append(drop, t.Name)
			}
		}
		if len(drop) > 0 {
			r := query.Select(nil, drop).At(today, 0, 0)
			o := cur.update(r, g.anchor, Edit{AllowRemove: true})
			touched = append(touched, o.changed...)
			touched = append(touched, o.removed...)
		}
	}

	res.Added += len(added)
	seen := map[*Place]struct{}{}
	for _, p := range added {
		seen[p] = struct{}{}
	}
	for _, p := range before.places {
		if !s.contains(p) {
			res.Removed++
			seen[p] = struct{}{}
		}
	}
	for _, p := range touched {
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		res.Changed++
	}
}
