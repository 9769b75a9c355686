package placestore

import (
	"context"
	"sort"
	"sync"
	"time"

	"voxeltags.ai/internal/sim/places"
)

// Memory keeps places in process. Used by tests and VT_STORE_BACKEND=memory.
type Memory struct {
	mu      sync.Mutex
	players map[string]memoryPlayer
}

type memoryPlayer struct {
	places  []places.Place
	updated string
}

func NewMemory() *Memory {
	return &Memory{players: map[string]memoryPlayer{}}
}

func (m *Memory) Load(_ context.Context, playerID string) ([]places.Place, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mp, ok := m.players[playerID]
	if !ok {
		return nil, ErrNoPlayer
	}
	return clonePlaces(mp.places), nil
}

func (m *Memory) Save(_ context.Context, playerID string, ps []places.Place) error {
	kept := make([]places.Place, 0, len(ps))
	for _, p := range ps {
		if len(p.Tags) == 0 {
			continue
		}
		kept = append(kept, p.Clone())
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.players[playerID] = memoryPlayer{places: kept, updated: time.Now().UTC().Format(time.RFC3339Nano)}
	return nil
}

func (m *Memory) Clear(_ context.Context, playerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.players, playerID)
	return nil
}

func (m *Memory) Players(_ context.Context) ([]PlayerInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]PlayerInfo, 0, len(m.players))
	for id, mp := range m.players {
		out = append(out, PlayerInfo{PlayerID: id, Places: len(mp.places), UpdatedAt: mp.updated})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PlayerID < out[j].PlayerID })
	return out, nil
}

func (m *Memory) Close() error { return nil }

func clonePlaces(ps []places.Place) []places.Place {
	out := make([]places.Place, 0, len(ps))
	for _, p := range ps {
		out = append(out, p.Clone())
	}
	return out
}
