package placestore

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"voxeltags.ai/internal/sim/places"
	"voxeltags.ai/internal/sim/places/tags"
)

func openTemp(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "db", "places.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func tagged(x, y, z float64, names ...string) places.Place {
	p := places.Place{Pos: places.Vec3{X: x, Y: y, Z: z}}
	for _, n := range names {
		p.Tags = append(p.Tags, tags.New(tags.MustName(n), 0, 0))
	}
	return p
}

func TestSQLiteStore_SaveLoad(t *testing.T) {
	ctx := context.Background()
	s := openTemp(t)

	if _, err := s.Load(ctx, "P1"); !errors.Is(err, ErrNoPlayer) {
		t.Fatalf("Load unknown player: got %v want ErrNoPlayer", err)
	}

	festival := tagged(3, 4, 5, "festival")
	festival.Tags[0].StartDay, festival.Tags[0].EndDay = 10, 20
	in := []places.Place{
		tagged(1.5, 64, -2, "copper", "Base"),
		tagged(9, 9, 9),
		festival,
	}
	if err := s.Save(ctx, "P1", in); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := s.Load(ctx, "P1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("tagless place should not be stored: got %d places", len(got))
	}
	if got[0].Pos != in[0].Pos || got[0].Tags[1].Name.String() != "Base" {
		t.Fatalf("place mismatch: %+v", got[0])
	}
	if tg := got[1].Tags[0]; tg.StartDay != 10 || tg.EndDay != 20 {
		t.Fatalf("window mismatch: got %d..%d want 10..20", tg.StartDay, tg.EndDay)
	}

	// Save replaces.
	if err := s.Save(ctx, "P1", in[:1]); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, _ = s.Load(ctx, "P1")
	if len(got) != 1 {
		t.Fatalf("after replace: got %d places want 1", len(got))
	}
}

func TestSQLiteStore_EmptySaveKeepsPlayer(t *testing.T) {
	ctx := context.Background()
	s := openTemp(t)
	if err := s.Save(ctx, "P1", nil); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := s.Load(ctx, "P1")
	if err != nil || len(got) != 0 {
		t.Fatalf("Load: got %v, %v want empty", got, err)
	}
}

func TestSQLiteStore_ClearAndPlayers(t *testing.T) {
	ctx := context.Background()
	s := openTemp(t)
	_ = s.Save(ctx, "B", []places.Place{tagged(0, 0, 0, "x")})
	_ = s.Save(ctx, "A", []places.Place{tagged(0, 0, 0, "x"), tagged(20, 0, 0, "y")})

	ps, err := s.Players(ctx)
	if err != nil {
		t.Fatalf("Players: %v", err)
	}
	if len(ps) != 2 || ps[0].PlayerID != "A" || ps[0].Places != 2 || ps[1].Places != 1 {
		t.Fatalf("players mismatch: %+v", ps)
	}

	if err := s.Clear(ctx, "A"); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if _, err := s.Load(ctx, "A"); !errors.Is(err, ErrNoPlayer) {
		t.Fatalf("Load after clear: got %v want ErrNoPlayer", err)
	}
	ps, _ = s.Players(ctx)
	if len(ps) != 1 || ps[0].PlayerID != "B" {
		t.Fatalf("players after clear mismatch: %+v", ps)
	}
}

func TestSQLiteStore_LegacyRows(t *testing.T) {
	ctx := context.Background()
	s := openTemp(t)
	if err := s.Save(ctx, "P1", []places.Place{tagged(1, 2, 3, "new")}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if _, err := s.db.Exec(`INSERT INTO places(player_id,seq,x,y,z,format,tags_json) VALUES('P1',1,4,5,6,0,'["old","OLD"," "]'),('P1',2,7,8,9,0,'[]')`); err != nil {
		t.Fatalf("insert legacy: %v", err)
	}

	_, err := s.Load(ctx, "P1")
	var le *LegacyFormatError
	if !errors.As(err, &le) {
		t.Fatalf("Load: got %v want LegacyFormatError", err)
	}
	if le.PlayerID != "P1" || len(le.Rows) != 3 {
		t.Fatalf("legacy error mismatch: %+v", le)
	}

	migrated, err := MigrateLegacy(le)
	if err != nil {
		t.Fatalf("MigrateLegacy: %v", err)
	}
	if len(migrated) != 2 {
		t.Fatalf("migrated: got %d places want 2", len(migrated))
	}
	old := migrated[1]
	if old.Pos != (places.Vec3{X: 4, Y: 5, Z: 6}) || len(old.Tags) != 1 || old.Tags[0].Name.String() != "old" {
		t.Fatalf("migrated place mismatch: %+v", old)
	}
	if old.Tags[0].StartDay != 0 || old.Tags[0].EndDay != 0 {
		t.Fatalf("legacy tags should have open windows")
	}

	if err := s.Save(ctx, "P1", migrated); err != nil {
		t.Fatalf("Save migrated: %v", err)
	}
	if got, err := s.Load(ctx, "P1"); err != nil || len(got) != 2 {
		t.Fatalf("Load after migration: got %d, %v", len(got), err)
	}
}

func TestMigrateLegacy_BadJSON(t *testing.T) {
	le := &LegacyFormatError{PlayerID: "P1", Rows: []Row{{Seq: 0, Format: FormatLegacy, TagsJSON: "{"}}}
	if _, err := MigrateLegacy(le); err == nil {
		t.Fatalf("expected error")
	}
}

func TestMemory(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	if _, err := m.Load(ctx, "P1"); !errors.Is(err, ErrNoPlayer) {
		t.Fatalf("Load unknown: got %v", err)
	}
	in := []places.Place{tagged(1, 1, 1, "a"), tagged(2, 2, 2)}
	if err := m.Save(ctx, "P1", in); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, _ := m.Load(ctx, "P1")
	if len(got) != 1 {
		t.Fatalf("got %d places want 1", len(got))
	}
	got[0].Tags[0].EndDay = 99
	again, _ := m.Load(ctx, "P1")
	if again[0].Tags[0].EndDay != 0 {
		t.Fatalf("Load should return copies")
	}
	ps, _ := m.Players(ctx)
	if len(ps) != 1 || ps[0].Places != 1 {
		t.Fatalf("players mismatch: %+v", ps)
	}
	_ = m.Clear(ctx, "P1")
	if _, err := m.Load(ctx, "P1"); !errors.Is(err, ErrNoPlayer) {
		t.Fatalf("Load after clear: got %v", err)
	}
}
