package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	persistlog "voxeltags.ai/internal/persistence/log"
	"voxeltags.ai/internal/persistence/placestore"
	"voxeltags.ai/internal/sim/calendar"
	"voxeltags.ai/internal/sim/places"
	"voxeltags.ai/internal/sim/places/query"
	"voxeltags.ai/internal/sim/places/tags"
)

const today = 100

type memAudit struct {
	mu      sync.Mutex
	entries []persistlog.EditAuditEntry
}

func (a *memAudit) WriteAudit(e persistlog.EditAuditEntry) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, e)
	return nil
}

type countingProvider struct {
	*placestore.Memory
	saves int
}

func (p *countingProvider) Save(ctx context.Context, playerID string, ps []places.Place) error {
	p.saves++
	return p.Memory.Save(ctx, playerID, ps)
}

func newService(t *testing.T, seed ...places.Place) (*Service, *countingProvider, *memAudit) {
	t.Helper()
	prov := &countingProvider{Memory: placestore.NewMemory()}
	if len(seed) > 0 {
		if err := prov.Memory.Save(context.Background(), "P1", seed); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	audit := &memAudit{}
	cal := calendar.Fixed{Day: today, Lengths: query.DayTable{query.UnitMonth: 30, query.UnitQuarter: 120, query.UnitYear: 360}}
	cfg := Config{Grid: places.DefaultGrid, DefaultRadius: 64, MaxRadius: 256, MaxTextLen: 64, MaxImport: 10}
	return New(prov, cal, cfg, audit, nil), prov, audit
}

func at(x, y, z float64, names ...string) places.Place {
	p := places.Place{Pos: places.Vec3{X: x, Y: y, Z: z}}
	for _, n := range names {
		p.Tags = append(p.Tags, tags.New(tags.MustName(n), 0, 0))
	}
	return p
}

func namesOf(ns []tags.Name) string {
	out := make([]string, 0, len(ns))
	for _, n := range ns {
		out = append(out, n.String())
	}
	return strings.Join(out, ",")
}

func stored(t *testing.T, p *countingProvider) []places.Place {
	t.Helper()
	ps, err := p.Memory.Load(context.Background(), "P1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	return ps
}

func TestEdit_AddsAtNewSpot(t *testing.T) {
	svc, prov, audit := newService(t)
	ctx := WithRequestID(context.Background(), "req-1")

	res, err := svc.Edit(ctx, EditRequest{
		PlayerID: "P1",
		Text:     "copper 1w",
		Anchor:   places.Vec3{X: 10, Y: 64, Z: 10},
		Edit:     places.Edit{AllowAdd: true, AllowChange: true},
	})
	if err != nil {
		t.Fatalf("Edit: %v", err)
	}
	if res.Added != 1 || res.Changed != 0 || res.Removed != 0 || res.Day != today {
		t.Fatalf("counts mismatch: %+v", res)
	}
	ps := stored(t, prov)
	if len(ps) != 1 || ps[0].Tags[0].Name.String() != "copper" || ps[0].Tags[0].EndDay != today+7 {
		t.Fatalf("stored mismatch: %+v", ps)
	}
	if len(audit.entries) != 1 || audit.entries[0].RequestID != "req-1" || audit.entries[0].Added != 1 {
		t.Fatalf("audit mismatch: %+v", audit.entries)
	}

	// Same edit again changes nothing and does not save.
	res, err = svc.Edit(ctx, EditRequest{
		PlayerID: "P1",
		Text:     "copper 1w",
		Anchor:   places.Vec3{X: 11, Y: 65, Z: 9},
		Edit:     places.Edit{AllowAdd: true, AllowChange: true},
	})
	if err != nil {
		t.Fatalf("Edit: %v", err)
	}
	if res.Total() != 0 {
		t.Fatalf("second edit should be a no-op: %+v", res)
	}
	if prov.saves != 1 {
		t.Fatalf("saves mismatch: got %d want 1", prov.saves)
	}
}

func TestEdit_SearchAndRemove(t *testing.T) {
	svc, prov, _ := newService(t,
		at(10, 64, 10, "copper", "base"),
		at(12, 64, 12, "iron"),
		at(40, 64, 40, "copper"),
	)
	res, err := svc.Edit(context.Background(), EditRequest{
		PlayerID: "P1",
		Text:     "copper -> -copper -base",
		Anchor:   places.Vec3{X: 10, Y: 64, Z: 10},
		Edit:     places.Edit{AllowRemove: true},
	})
	if err != nil {
		t.Fatalf("Edit: %v", err)
	}
	if res.Removed != 1 || res.Changed != 0 {
		t.Fatalf("counts mismatch: %+v", res)
	}
	if ps := stored(t, prov); len(ps) != 2 {
		t.Fatalf("stored mismatch: got %d places want 2", len(ps))
	}
}

func TestEdit_RadiusView(t *testing.T) {
	svc, prov, _ := newService(t,
		at(0, 64, 0, "ore"),
		at(30, 64, 0, "ore"),
		at(200, 64, 0, "ore"),
	)
	res, err := svc.Edit(context.Background(), EditRequest{
		PlayerID: "P1",
		Text:     "ore -> mined",
		Anchor:   places.Vec3{X: 0, Y: 64, Z: 0},
		Radius:   50,
		Edit:     places.Edit{AllowChange: true},
	})
	if err != nil {
		t.Fatalf("Edit: %v", err)
	}
	if res.Changed != 2 {
		t.Fatalf("changed mismatch: got %d want 2", res.Changed)
	}
	ps := stored(t, prov)
	if !ps[1].HasTag(tags.MustName("mined")) || ps[2].HasTag(tags.MustName("mined")) {
		t.Fatalf("radius not honored: %+v", ps)
	}
}

func TestNearest(t *testing.T) {
	svc, _, _ := newService(t,
		at(0, 0, 0, "copper"),
		at(100, 0, 0, "iron"),
		at(8, 0, 0, "copper", "hidden"),
	)
	got, err := svc.Nearest(context.Background(), "P1", places.Vec3{X: 10}, "copper")
	if err != nil {
		t.Fatalf("Nearest: %v", err)
	}
	if !got.Found || got.Place.Pos.X != 0 || got.Distance != 10 {
		t.Fatalf("nearest mismatch: %+v", got)
	}
	got, _ = svc.Nearest(context.Background(), "P1", places.Vec3{X: 10}, "copper hidden")
	if !got.Found || got.Place.Pos.X != 8 {
		t.Fatalf("explicit hidden should find the hidden place: %+v", got)
	}
	got, _ = svc.Nearest(context.Background(), "P1", places.Vec3{}, "gold")
	if got.Found {
		t.Fatalf("expected no match")
	}
}

func TestTagsAround(t *testing.T) {
	festival := at(30, 0, 0, "iron")
	festival.Tags = append(festival.Tags, tags.New(tags.MustName("festival"), 200, 300))
	svc, _, _ := newService(t,
		at(0, 0, 0, "copper", "hidden"),
		festival,
		at(500, 0, 0, "gold"),
	)
	got, err := svc.TagsAround(context.Background(), "P1", 0, 0, 50, "")
	if err != nil {
		t.Fatalf("TagsAround: %v", err)
	}
	if s := namesOf(got); s != "copper,iron" {
		t.Fatalf("tags mismatch: got %q want %q", s, "copper,iron")
	}
	got, _ = svc.TagsAround(context.Background(), "P1", 0, 0, 50, "-~c*")
	if s := namesOf(got); s != "iron" {
		t.Fatalf("pattern exclusion mismatch: got %q", s)
	}
	got, _ = svc.TagsAround(context.Background(), "P1", 0, 0, 0, "")
	if s := namesOf(got); s != "copper,iron" {
		t.Fatalf("default radius mismatch: got %q", s)
	}
}

func TestFind(t *testing.T) {
	svc, _, _ := newService(t,
		at(0, 0, 0, "copper"),
		at(20, 0, 0, "copper", "base"),
		at(1000, 0, 0, "copper"),
	)
	got, err := svc.Find(context.Background(), "P1", 0, 0, 5000, "copper")
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("max radius should clamp: got %d places want 2", len(got))
	}
	got, _ = svc.Find(context.Background(), "P1", 0, 0, 100, "copper -base")
	if len(got) != 1 || got[0].Pos.X != 0 {
		t.Fatalf("find mismatch: %+v", got)
	}
}

func TestImport_SavesOnce(t *testing.T) {
	svc, prov, audit := newService(t, at(0, 64, 0, "base"))
	res, err := svc.Import(context.Background(), "P1", []places.Place{
		at(1, 65, 1, "copper"),
		at(100, 64, 100, "iron"),
		at(200, 64, 200),
	}, places.UpdateExisting)
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if res.Added != 1 || res.Changed != 1 || res.Dropped != 1 {
		t.Fatalf("import mismatch: %+v", res)
	}
	if prov.saves != 1 {
		t.Fatalf("saves mismatch: got %d want 1", prov.saves)
	}
	if len(audit.entries) != 1 || audit.entries[0].Op != "import" || audit.entries[0].Query != "update" {
		t.Fatalf("audit mismatch: %+v", audit.entries)
	}
	ps := stored(t, prov)
	if len(ps) != 2 || !ps[0].HasTag(tags.MustName("copper")) {
		t.Fatalf("stored mismatch: %+v", ps)
	}
}

func TestImport_Limit(t *testing.T) {
	svc, _, _ := newService(t)
	in := make([]places.Place, 11)
	for i := range in {
		in[i] = at(float64(i*100), 0, 0, "x")
	}
	if _, err := svc.Import(context.Background(), "P1", in, places.SkipExisting); !errors.Is(err, ErrTooManyPlaces) {
		t.Fatalf("got %v want ErrTooManyPlaces", err)
	}
}

func TestExportAndClear(t *testing.T) {
	svc, prov, _ := newService(t,
		at(0, 0, 0, "copper"),
		at(100, 0, 0, "iron", "hidden"),
	)
	all, day, err := svc.Export(context.Background(), "P1", "")
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if len(all) != 2 || day != today {
		t.Fatalf("export all: got %d places on day %d", len(all), day)
	}
	some, _, _ := svc.Export(context.Background(), "P1", "iron")
	if len(some) != 0 {
		t.Fatalf("default exclusion should hide the hidden place")
	}

	n, err := svc.Clear(context.Background(), "P1")
	if err != nil || n != 2 {
		t.Fatalf("Clear: got %d, %v want 2", n, err)
	}
	if _, err := prov.Memory.Load(context.Background(), "P1"); !errors.Is(err, placestore.ErrNoPlayer) {
		t.Fatalf("player should be gone: %v", err)
	}
}

func TestValidation(t *testing.T) {
	svc, _, _ := newService(t)
	if _, err := svc.Find(context.Background(), "", 0, 0, 0, ""); !errors.Is(err, ErrPlayerRequired) {
		t.Fatalf("got %v want ErrPlayerRequired", err)
	}
	long := strings.Repeat("a", 65)
	if _, err := svc.Find(context.Background(), "P1", 0, 0, 0, long); !errors.Is(err, ErrTextTooLong) {
		t.Fatalf("got %v want ErrTextTooLong", err)
	}
}

type legacyProvider struct {
	*countingProvider
	legacy *placestore.LegacyFormatError
}

func (p *legacyProvider) Load(ctx context.Context, playerID string) ([]places.Place, error) {
	if p.legacy != nil {
		return nil, p.legacy
	}
	return p.countingProvider.Load(ctx, playerID)
}

func (p *legacyProvider) Save(ctx context.Context, playerID string, ps []places.Place) error {
	p.legacy = nil
	return p.countingProvider.Save(ctx, playerID, ps)
}

func TestOpen_MigratesLegacy(t *testing.T) {
	prov := &legacyProvider{
		countingProvider: &countingProvider{Memory: placestore.NewMemory()},
		legacy: &placestore.LegacyFormatError{PlayerID: "P1", Rows: []placestore.Row{
			{Seq: 0, Pos: places.Vec3{X: 1}, Format: placestore.FormatLegacy, TagsJSON: `["copper","base"]`},
			{Seq: 1, Pos: places.Vec3{X: 50}, Format: placestore.FormatLegacy, TagsJSON: `[]`},
		}},
	}
	audit := &memAudit{}
	svc := New(prov, calendar.Fixed{Day: today}, Config{DefaultRadius: 64}, audit, nil)

	res, err := svc.Edit(context.Background(), EditRequest{
		PlayerID: "P1",
		Text:     "copper -> iron",
		Anchor:   places.Vec3{X: 1},
		Edit:     places.Edit{AllowChange: true},
	})
	if err != nil {
		t.Fatalf("Edit: %v", err)
	}
	if res.Changed != 1 {
		t.Fatalf("changed mismatch: got %d want 1", res.Changed)
	}
	if prov.saves != 2 {
		t.Fatalf("saves mismatch: got %d want 2 (migration + edit)", prov.saves)
	}
	if len(audit.entries) != 1 || audit.entries[0].Migrated != 1 {
		t.Fatalf("audit mismatch: %+v", audit.entries)
	}
}

func TestOpen_MigrationFailure(t *testing.T) {
	prov := &legacyProvider{
		countingProvider: &countingProvider{Memory: placestore.NewMemory()},
		legacy: &placestore.LegacyFormatError{PlayerID: "P1", Rows: []placestore.Row{
			{Seq: 0, Format: placestore.FormatLegacy, TagsJSON: `{`},
		}},
	}
	svc := New(prov, calendar.Fixed{Day: today}, Config{}, nil, nil)
	if _, err := svc.Find(context.Background(), "P1", 0, 0, 10, ""); err == nil {
		t.Fatalf("expected migration error")
	}
	if prov.saves != 0 {
		t.Fatalf("failed migration must not save")
	}
}

func TestEdit_SerializedPerPlayer(t *testing.T) {
	svc, prov, _ := newService(t)
	const n = 16
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := svc.Edit(context.Background(), EditRequest{
				PlayerID: "P1",
				Text:     fmt.Sprintf("t%d", i),
				Anchor:   places.Vec3{X: 1, Y: 1, Z: 1},
				Edit:     places.Edit{AllowAdd: true, AllowChange: true},
			})
			if err != nil {
				t.Errorf("Edit: %v", err)
			}
		}(i)
	}
	wg.Wait()
	ps := stored(t, prov)
	if len(ps) != 1 || len(ps[0].Tags) != n {
		t.Fatalf("lost updates: %d places, %d tags", len(ps), len(ps[0].Tags))
	}
}
