package snapshot

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"

	"voxeltags.ai/internal/sim/places"
	"voxeltags.ai/internal/sim/places/tags"
)

const Version = 1

type Header struct {
	Version    int    `json:"version"`
	PlayerID   string `json:"player_id,omitempty"`
	Day        int    `json:"day,omitempty"`
	ExportedAt string `json:"exported_at,omitempty"`
	Query      string `json:"query,omitempty"`
}

// PlacesV1 is the portable form of a player's places: a header followed by
// the place list. On disk it is one JSON header line and one JSON body line,
// optionally inside a zstd stream.
type PlacesV1 struct {
	Header Header    `json:"header"`
	Places []PlaceV1 `json:"places"`
}

type PlaceV1 struct {
	Pos  [3]float64 `json:"pos"`
	Tags []TagV1    `json:"tags"`
}

type TagV1 struct {
	Name     string `json:"name"`
	StartDay int    `json:"start_day,omitempty"`
	EndDay   int    `json:"end_day,omitempty"`
}

func New(playerID string, day int, query string, ps []places.Place) PlacesV1 {
	return PlacesV1{
		Header: Header{
			Version:    Version,
			PlayerID:   playerID,
			Day:        day,
			ExportedAt: time.Now().UTC().Format(time.RFC3339),
			Query:      query,
		},
		Places: FromPlaces(ps),
	}
}

func FromPlaces(ps []places.Place) []PlaceV1 {
	out := make([]PlaceV1, 0, len(ps))
	for _, p := range ps {
		pv := PlaceV1{Pos: [3]float64{p.Pos.X, p.Pos.Y, p.Pos.Z}}
		for _, t := range p.Tags {
			pv.Tags = append(pv.Tags, TagV1{Name: t.Name.String(), StartDay: t.StartDay, EndDay: t.EndDay})
		}
		out = append(out, pv)
	}
	return out
}

// ToPlaces converts without validating. Unusable tag names become zero
// names, which the place engine drops on import.
func ToPlaces(ps []PlaceV1) []places.Place {
	out := make([]places.Place, 0, len(ps))
	for _, pv := range ps {
		p := places.Place{Pos: places.Vec3{X: pv.Pos[0], Y: pv.Pos[1], Z: pv.Pos[2]}}
		for _, tv := range pv.Tags {
			n, _ := tags.ParseName(tv.Name)
			p.Tags = append(p.Tags, tags.New(n, tv.StartDay, tv.EndDay))
		}
		out = append(out, p)
	}
	return out
}

func isZstd(path string) bool { return strings.HasSuffix(path, ".zst") }

func Write(path string, snap PlacesV1) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	return Encode(f, snap, isZstd(path))
}

func Encode(w io.Writer, snap PlacesV1, compress bool) error {
	if compress {
		enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return err
		}
		if err := encodeLines(enc, snap); err != nil {
			_ = enc.Close()
			return err
		}
		return enc.Close()
	}
	return encodeLines(w, snap)
}

func encodeLines(w io.Writer, snap PlacesV1) error {
	bw := bufio.NewWriterSize(w, 64*1024)
	hb, err := json.Marshal(snap.Header)
	if err != nil {
		return err
	}
	if _, err := bw.Write(hb); err != nil {
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		return err
	}
	body := snap.Places
	if body == nil {
		body = []PlaceV1{}
	}
	pb, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("json encode: %w", err)
	}
	if _, err := bw.Write(pb); err != nil {
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		return err
	}
	return bw.Flush()
}

func Read(path string) (PlacesV1, error) {
	f, err := os.Open(path)
	if err != nil {
		return PlacesV1{}, err
	}
	defer f.Close()
	return Decode(f, isZstd(path))
}

// Decode reads the two-line form and validates it against the embedded
// schema before converting.
func Decode(r io.Reader, compressed bool) (PlacesV1, error) {
	var snap PlacesV1
	if compressed {
		dec, err := zstd.NewReader(r)
		if err != nil {
			return snap, err
		}
		defer dec.Close()
		r = dec
	}
	raw, err := io.ReadAll(r)
	if err != nil {
		return snap, err
	}
	head, body, ok := bytes.Cut(raw, []byte{'\n'})
	if !ok {
		return snap, fmt.Errorf("snapshot: missing header line")
	}
	doc, err := joinDocument(head, bytes.TrimSpace(body))
	if err != nil {
		return snap, err
	}
	if err := Validate(doc); err != nil {
		return snap, err
	}
	if err := json.Unmarshal(doc, &snap); err != nil {
		return snap, fmt.Errorf("json decode: %w", err)
	}
	if snap.Header.Version != Version {
		return snap, fmt.Errorf("snapshot: unsupported version %d", snap.Header.Version)
	}
	return snap, nil
}

func joinDocument(head, body []byte) ([]byte, error) {
	if len(body) == 0 {
		body = []byte("[]")
	}
	doc := struct {
		Header json.RawMessage `json:"header"`
		Places json.RawMessage `json:"places"`
	}{Header: head, Places: body}
	b, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}
	return b, nil
}
