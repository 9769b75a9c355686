package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"sync"

	"github.com/google/uuid"

	persistlog "voxeltags.ai/internal/persistence/log"
	"voxeltags.ai/internal/persistence/placestore"
	"voxeltags.ai/internal/sim/calendar"
	"voxeltags.ai/internal/sim/places"
	"voxeltags.ai/internal/sim/places/query"
	"voxeltags.ai/internal/sim/places/tags"
)

var (
	ErrTextTooLong    = errors.New("query text too long")
	ErrTooManyPlaces  = errors.New("too many places")
	ErrPlayerRequired = errors.New("player id required")
)

// Provider loads and saves one player's places. Load may return
// placestore.ErrNoPlayer for an unknown player and *placestore.LegacyFormatError
// for rows that need migrating.
type Provider interface {
	Load(ctx context.Context, playerID string) ([]places.Place, error)
	Save(ctx context.Context, playerID string, ps []places.Place) error
	Clear(ctx context.Context, playerID string) error
}

type Auditor interface {
	WriteAudit(e persistlog.EditAuditEntry) error
}

type Config struct {
	Grid          places.Grid
	DefaultRadius float64
	MaxRadius     float64
	MaxTextLen    int
	MaxImport     int
}

func (c Config) radius(r float64) float64 {
	if r <= 0 {
		r = c.DefaultRadius
	}
	if c.MaxRadius > 0 && r > c.MaxRadius {
		r = c.MaxRadius
	}
	return r
}

// Service runs place operations for many players. Calls for the same player
// are serialized; each call loads, runs the place engine, and saves at most
// once.
type Service struct {
	provider Provider
	cal      calendar.Source
	cfg      Config
	audit    Auditor
	logger   *log.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func New(p Provider, cal calendar.Source, cfg Config, audit Auditor, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	cfg.Grid = cfg.Grid.Normalize()
	return &Service{
		provider: p,
		cal:      cal,
		cfg:      cfg,
		audit:    audit,
		logger:   logger,
		locks:    map[string]*sync.Mutex{},
	}
}

func (s *Service) Config() Config { return s.cfg }
func (s *Service) Today() int     { return s.cal.Today() }

func (s *Service) lock(playerID string) func() {
	s.mu.Lock()
	m := s.locks[playerID]
	if m == nil {
		m = &sync.Mutex{}
		s.locks[playerID] = m
	}
	s.mu.Unlock()
	m.Lock()
	return m.Unlock
}

type session struct {
	playerID string
	store    *places.Store
	today    int
	migrated int
}

// open loads the player's store. Legacy rows are migrated and saved before
// the engine sees them.
func (s *Service) open(ctx context.Context, playerID string) (*session, error) {
	if playerID == "" {
		return nil, ErrPlayerRequired
	}
	ps, err := s.provider.Load(ctx, playerID)
	migrated := 0
	var legacy *placestore.LegacyFormatError
	switch {
	case err == nil:
	case errors.Is(err, placestore.ErrNoPlayer):
		ps = nil
	case errors.As(err, &legacy):
		ps, err = placestore.MigrateLegacy(legacy)
		if err != nil {
			return nil, err
		}
		if err := s.provider.Save(ctx, playerID, ps); err != nil {
			return nil, fmt.Errorf("save migrated places: %w", err)
		}
		migrated = len(ps)
		s.logger.Printf("migrated %d legacy places for player %s", migrated, playerID)
	default:
		return nil, fmt.Errorf("load places: %w", err)
	}
	return &session{
		playerID: playerID,
		store:    places.NewStore(s.cfg.Grid, ps),
		today:    s.cal.Today(),
		migrated: migrated,
	}, nil
}

func (s *Service) commit(ctx context.Context, ss *session) error {
	if !ss.store.Dirty() {
		return nil
	}
	if err := s.provider.Save(ctx, ss.playerID, ss.store.Places()); err != nil {
		return fmt.Errorf("save places: %w", err)
	}
	return nil
}

func (s *Service) checkText(text string) error {
	if s.cfg.MaxTextLen > 0 && len(text) > s.cfg.MaxTextLen {
		return fmt.Errorf("%w: %d > %d", ErrTextTooLong, len(text), s.cfg.MaxTextLen)
	}
	return nil
}

func (s *Service) resolve(text string, today int) query.Resolved {
	return query.Resolve(query.Parse(text), today, s.cal)
}

func (s *Service) record(ctx context.Context, e persistlog.EditAuditEntry) {
	if s.audit == nil {
		return
	}
	e.RequestID = RequestID(ctx)
	if err := s.audit.WriteAudit(e); err != nil {
		s.logger.Printf("audit write failed: %v", err)
	}
}

type NearestResult struct {
	Place    places.Place
	Distance float64
	Found    bool
}

// Nearest finds the place closest to pos among those matching text.
func (s *Service) Nearest(ctx context.Context, playerID string, pos places.Vec3, text string) (NearestResult, error) {
	if err := s.checkText(text); err != nil {
		return NearestResult{}, err
	}
	defer s.lock(playerID)()
	ss, err := s.open(ctx, playerID)
	if err != nil {
		return NearestResult{}, err
	}
	r := s.resolve(text, ss.today)
	p, ok := ss.store.All().Where(r).Nearest(pos)
	if !ok {
		return NearestResult{}, nil
	}
	return NearestResult{Place: p, Distance: distance(p.Pos, pos), Found: true}, nil
}

// TagsAround lists the active tag names within radius of (x, z) that the
// query's exclusions allow.
func (s *Service) TagsAround(ctx context.Context, playerID string, x, z, radius float64, text string) ([]tags.Name, error) {
	if err := s.checkText(text); err != nil {
		return nil, err
	}
	defer s.lock(playerID)()
	ss, err := s.open(ctx, playerID)
	if err != nil {
		return nil, err
	}
	r := s.resolve(text, ss.today)
	all := ss.store.All().AroundPoint(x, z, s.cfg.radius(radius)).ActiveTags(r.Day)
	out := make([]tags.Name, 0, len(all))
	for _, n := range all {
		if r.AllowsTag(n) {
			out = append(out, n)
		}
	}
	return out, nil
}

// Find returns matching places within radius of (x, z) in store order.
func (s *Service) Find(ctx context.Context, playerID string, x, z, radius float64, text string) ([]places.Place, error) {
	if err := s.checkText(text); err != nil {
		return nil, err
	}
	defer s.lock(playerID)()
	ss, err := s.open(ctx, playerID)
	if err != nil {
		return nil, err
	}
	r := s.resolve(text, ss.today)
	return ss.store.All().AroundPoint(x, z, s.cfg.radius(radius)).Where(r).Places(), nil
}

func distance(a, b places.Vec3) float64 { return math.Sqrt(a.Dist2(b)) }

type EditRequest struct {
	PlayerID string
	// Text is "<search> -> <update>" or just "<update>".
	Text   string
	Anchor places.Vec3
	// Radius <= 0 edits only the anchor's rough place.
	Radius float64
	Edit   places.Edit
}

type EditResult struct {
	places.Counts
	Day int
}

// Edit selects places near the anchor with the search half of the text and
// applies the update half to them, or creates a place at the anchor when
// nothing is selected.
func (s *Service) Edit(ctx context.Context, req EditRequest) (EditResult, error) {
	if err := s.checkText(req.Text); err != nil {
		return EditResult{}, err
	}
	defer s.lock(req.PlayerID)()
	ss, err := s.open(ctx, req.PlayerID)
	if err != nil {
		return EditResult{}, err
	}

	search, update := query.ParseSearchAndUpdate(req.Text)
	rs := query.Resolve(search, ss.today, s.cal)
	ru := query.Resolve(update, ss.today, s.cal)

	view := ss.store.All()
	if req.Radius > 0 {
		view = view.AroundPoint(req.Anchor.X, req.Anchor.Z, s.cfg.radius(req.Radius))
	} else {
		view = view.AtRoughPlace(ss.store.Grid().Cell(req.Anchor))
	}
	counts := view.Where(rs).Update(ru, req.Anchor, req.Edit)
	if err := s.commit(ctx, ss); err != nil {
		return EditResult{}, err
	}
	s.record(ctx, persistlog.EditAuditEntry{
		PlayerID: req.PlayerID,
		Op:       "edit",
		Query:    req.Text,
		Day:      ss.today,
		Added:    counts.Added,
		Changed:  counts.Changed,
		Removed:  counts.Removed,
		Migrated: ss.migrated,
	})
	return EditResult{Counts: counts, Day: ss.today}, nil
}

// Import merges incoming places into the player's store and saves once.
func (s *Service) Import(ctx context.Context, playerID string, incoming []places.Place, action places.ExistingPlaceAction) (places.ImportResult, error) {
	if s.cfg.MaxImport > 0 && len(incoming) > s.cfg.MaxImport {
		return places.ImportResult{}, fmt.Errorf("%w: %d > %d", ErrTooManyPlaces, len(incoming), s.cfg.MaxImport)
	}
	defer s.lock(playerID)()
	ss, err := s.open(ctx, playerID)
	if err != nil {
		return places.ImportResult{}, err
	}
	res := ss.store.Import(incoming, action, ss.today)
	if err := s.commit(ctx, ss); err != nil {
		return places.ImportResult{}, err
	}
	s.record(ctx, persistlog.EditAuditEntry{
		PlayerID: playerID,
		Op:       "import",
		Query:    action.String(),
		Day:      ss.today,
		Added:    res.Added,
		Changed:  res.Changed,
		Removed:  res.Removed,
		Skipped:  res.Skipped,
		Dropped:  res.Dropped,
		Migrated: ss.migrated,
	})
	return res, nil
}

// Export returns the player's places. An empty text exports everything,
// including places the default query would hide.
func (s *Service) Export(ctx context.Context, playerID string, text string) ([]places.Place, int, error) {
	if err := s.checkText(text); err != nil {
		return nil, 0, err
	}
	defer s.lock(playerID)()
	ss, err := s.open(ctx, playerID)
	if err != nil {
		return nil, 0, err
	}
	if text == "" {
		return ss.store.Places(), ss.today, nil
	}
	return ss.store.All().Where(s.resolve(text, ss.today)).Places(), ss.today, nil
}

// Clear deletes all of the player's places and reports how many there were.
func (s *Service) Clear(ctx context.Context, playerID string) (int, error) {
	defer s.lock(playerID)()
	ss, err := s.open(ctx, playerID)
	if err != nil {
		return 0, err
	}
	n := ss.store.Clear()
	if err := s.provider.Clear(ctx, playerID); err != nil {
		return 0, fmt.Errorf("clear places: %w", err)
	}
	s.record(ctx, persistlog.EditAuditEntry{PlayerID: playerID, Op: "clear", Day: ss.today, Removed: n})
	return n, nil
}

type requestIDKey struct{}

func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestID returns the id stored by WithRequestID, or a fresh one.
func RequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey{}).(string); ok && id != "" {
		return id
	}
	return uuid.NewString()
}
