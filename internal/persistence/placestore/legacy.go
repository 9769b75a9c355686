package placestore

import (
	"fmt"

	"voxeltags.ai/internal/sim/places"
)

// LegacyFormatError is returned by Load when some of the player's rows still
// use FormatLegacy. Rows holds every row for the player in stored order.
type LegacyFormatError struct {
	PlayerID string
	Rows     []Row
}

func (e *LegacyFormatError) Error() string {
	n := 0
	for _, r := range e.Rows {
		if r.Format == FormatLegacy {
			n++
		}
	}
	return fmt.Sprintf("placestore: player %s has %d legacy rows", e.PlayerID, n)
}

// MigrateLegacy converts all rows to current places. Legacy names become
// tags with an open window; places left without tags are dropped.
func MigrateLegacy(e *LegacyFormatError) ([]places.Place, error) {
	out := make([]places.Place, 0, len(e.Rows))
	for _, r := range e.Rows {
		p, err := decodeRow(r)
		if err != nil {
			return nil, fmt.Errorf("migrate player %s seq %d: %w", e.PlayerID, r.Seq, err)
		}
		if !p.Valid() {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}
