package placestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"voxeltags.ai/internal/sim/places"
	"voxeltags.ai/internal/sim/places/tags"
)

// Row formats stored in places.format.
const (
	FormatLegacy  = 0 // tags_json is a bare list of names
	FormatCurrent = 1 // tags_json is a list of tagRow
)

var ErrNoPlayer = errors.New("placestore: no such player")

type tagRow struct {
	Name     string `json:"name"`
	StartDay int    `json:"start_day,omitempty"`
	EndDay   int    `json:"end_day,omitempty"`
}

// Row is one stored place as it sits on disk.
type Row struct {
	Seq      int
	Pos      places.Vec3
	Format   int
	TagsJSON string
}

type PlayerInfo struct {
	PlayerID  string
	Places    int
	UpdatedAt string
}

type SQLiteStore struct {
	db *sql.DB
}

func OpenSQLite(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS players (
			player_id TEXT PRIMARY KEY,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS places (
			player_id TEXT NOT NULL REFERENCES players(player_id) ON DELETE CASCADE,
			seq INTEGER NOT NULL,
			x REAL NOT NULL,
			y REAL NOT NULL,
			z REAL NOT NULL,
			format INTEGER NOT NULL,
			tags_json TEXT NOT NULL,
			PRIMARY KEY (player_id, seq)
		);`,
		`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1');`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Load returns the player's places in stored order. A player with legacy rows
// gets a *LegacyFormatError instead; see MigrateLegacy.
func (s *SQLiteStore) Load(ctx context.Context, playerID string) ([]places.Place, error) {
	var updated string
	err := s.db.QueryRowContext(ctx, `SELECT updated_at FROM players WHERE player_id=?`, playerID).Scan(&updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoPlayer
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `SELECT seq,x,y,z,format,tags_json FROM places WHERE player_id=? ORDER BY seq`, playerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var (
		out    []Row
		legacy bool
	)
	for rows.Next() {
		var r Row
		if err := rows.Scan(&r.Seq, &r.Pos.X, &r.Pos.Y, &r.Pos.Z, &r.Format, &r.TagsJSON); err != nil {
			return nil, err
		}
		if r.Format == FormatLegacy {
			legacy = true
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if legacy {
		return nil, &LegacyFormatError{PlayerID: playerID, Rows: out}
	}

	ps := make([]places.Place, 0, len(out))
	for _, r := range out {
		p, err := decodeRow(r)
		if err != nil {
			return nil, fmt.Errorf("player %s seq %d: %w", playerID, r.Seq, err)
		}
		ps = append(ps, p)
	}
	return ps, nil
}

// Save replaces the player's places. Places without tags are not stored.
func (s *SQLiteStore) Save(ctx context.Context, playerID string, ps []places.Place) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC().Format(time.RFC3339Nano)
	if _, err := tx.ExecContext(ctx, `INSERT INTO players(player_id,updated_at) VALUES(?,?)
		ON CONFLICT(player_id) DO UPDATE SET updated_at=excluded.updated_at`, playerID, now); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM places WHERE player_id=?`, playerID); err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO places(player_id,seq,x,y,z,format,tags_json) VALUES(?,?,?,?,?,?,?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	seq := 0
	for _, p := range ps {
		if len(p.Tags) == 0 {
			continue
		}
		b, err := encodeTags(p.Tags)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, playerID, seq, p.Pos.X, p.Pos.Y, p.Pos.Z, FormatCurrent, b); err != nil {
			return err
		}
		seq++
	}
	return tx.Commit()
}

func (s *SQLiteStore) Clear(ctx context.Context, playerID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.ExecContext(ctx, `DELETE FROM places WHERE player_id=?`, playerID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM players WHERE player_id=?`, playerID); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStore) Players(ctx context.Context) ([]PlayerInfo, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT p.player_id, p.updated_at, COUNT(pl.seq)
		FROM players p LEFT JOIN places pl ON pl.player_id = p.player_id
		GROUP BY p.player_id, p.updated_at
		ORDER BY p.player_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []PlayerInfo
	for rows.Next() {
		var pi PlayerInfo
		if err := rows.Scan(&pi.PlayerID, &pi.UpdatedAt, &pi.Places); err != nil {
			return nil, err
		}
		out = append(out, pi)
	}
	return out, rows.Err()
}

func encodeTags(ts []tags.Tag) (string, error) {
	out := make([]tagRow, 0, len(ts))
	for _, t := range ts {
		out = append(out, tagRow{Name: t.Name.String(), StartDay: t.StartDay, EndDay: t.EndDay})
	}
	b, err := json.Marshal(out)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeRow(r Row) (places.Place, error) {
	p := places.Place{Pos: r.Pos}
	switch r.Format {
	case FormatLegacy:
		var names []string
		if err := json.Unmarshal([]byte(r.TagsJSON), &names); err != nil {
			return p, fmt.Errorf("legacy tags: %w", err)
		}
		for _, s := range names {
			n, err := tags.ParseName(s)
			if err != nil {
				continue
			}
			p.Tags = append(p.Tags, tags.New(n, 0, 0))
		}
	case FormatCurrent:
		var trs []tagRow
		if err := json.Unmarshal([]byte(r.TagsJSON), &trs); err != nil {
			return p, fmt.Errorf("tags: %w", err)
		}
		for _, tr := range trs {
			n, err := tags.ParseName(tr.Name)
			if err != nil {
				continue
			}
			p.Tags = append(p.Tags, tags.New(n, tr.StartDay, tr.EndDay))
		}
	default:
		return p, fmt.Errorf("unknown row format %d", r.Format)
	}
	return p.Sanitize(), nil
}
