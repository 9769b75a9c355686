package places

// Store owns one player's places for the duration of a command. It is not
// safe for concurrent use; callers serialize access per player.
type Store struct {
	grid   Grid
	places []*Place
	dirty  bool
}

// NewStore copies ps, dropping duplicate tags and places left without tags.
func NewStore(grid Grid, ps []Place) *Store {
	s := &Store{grid: grid.Normalize()}
	for _, p := range ps {
		p = p.Sanitize()
		if !p.Valid() {
			s.dirty = true
			continue
		}
		cp := p
		s.places = append(s.places, &cp)
	}
	return s
}

func (s *Store) Grid() Grid { return s.grid }
func (s *Store) Len() int   { return len(s.places) }

// Dirty reports whether the store diverged from what it was built from.
func (s *Store) Dirty() bool { return s.dirty }

// All is the view over every stored place.
func (s *Store) All() Collection {
	return Collection{store: s, places: append([]*Place(nil), s.places...)}
}

// Places returns detached copies in store order, ready to persist.
func (s *Store) Places() []Place {
	out := make([]Place, 0, len(s.places))
	for _, p := range s.places {
		out = append(out, p.Clone())
	}
	return out
}

func (s *Store) add(p *Place) {
	s.places = append(s.places, p)
	s.dirty = true
}

func (s *Store) remove(p *Place) bool {
	for i, q := range s.places {
		if q == p {
			s.places = append(s.places[:i], s.places[i+1:]...)
			s.dirty = true
			return true
		}
	}
	return false
}

func (s *Store) contains(p *Place) bool {
	for _, q := range s.places {
		if q == p {
			return true
		}
	}
	return false
}

func (s *Store) touch() { s.dirty = true }

// Clear drops every place.
func (s *Store) Clear() int {
	n := len(s.places)
	s.places = nil
	if n > 0 {
		s.dirty = true
	}
	return n
}
