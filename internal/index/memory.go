package index

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/halcyonlabs/pharos/internal/vec"
)

// Memory is an in-memory index with brute-force search. It backs development
// setups without Postgres and doubles as the exact-search reference in tests.
type Memory struct {
	mu      sync.RWMutex
	entries map[uuid.UUID]Entry
}

// NewMemory creates an empty in-memory index.
func NewMemory() *Memory {
	return &Memory{entries: make(map[uuid.UUID]Entry)}
}

// Upsert stores or replaces an item's vector and metadata.
func (m *Memory) Upsert(_ context.Context, itemID, channelID uuid.UUID, vector []float32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := make([]float32, len(vector))
	copy(copied, vector)
	m.entries[itemID] = Entry{ItemID: itemID, ChannelID: channelID, Vector: copied}
	return nil
}

// Delete removes an item's vector.
func (m *Memory) Delete(_ context.Context, itemID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, itemID)
	return nil
}

// Search scans every entry and returns the TopK most similar.
func (m *Memory) Search(_ context.Context, q Query) ([]Match, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	channels := uuidSet(q.Channels)
	restrict := uuidSet(q.RestrictTo)

	matches := make([]Match, 0, len(m.entries))
	for _, e := range m.entries {
		if channels != nil {
			if _, ok := channels[e.ChannelID]; !ok {
				continue
			}
		}
		if restrict != nil {
			if _, ok := restrict[e.ItemID]; !ok {
				continue
			}
		}
		matches = append(matches, Match{
			ItemID:     e.ItemID,
			ChannelID:  e.ChannelID,
			Similarity: vec.Cosine(q.Vector, e.Vector),
		})
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Similarity != matches[j].Similarity {
			return matches[i].Similarity > matches[j].Similarity
		}
		return matches[i].ItemID.String() < matches[j].ItemID.String()
	})
	if q.TopK > 0 && len(matches) > q.TopK {
		matches = matches[:q.TopK]
	}
	return matches, nil
}

// Vectors fetches stored vectors for a set of ids.
func (m *Memory) Vectors(_ context.Context, itemIDs []uuid.UUID) (map[uuid.UUID][]float32, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make(map[uuid.UUID][]float32, len(itemIDs))
	for _, id := range itemIDs {
		if e, ok := m.entries[id]; ok {
			result[id] = e.Vector
		}
	}
	return result, nil
}

// All returns every stored entry ordered by item id.
func (m *Memory) All(_ context.Context) ([]Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entries := make([]Entry, 0, len(m.entries))
	for _, e := range m.entries {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].ItemID.String() < entries[j].ItemID.String()
	})
	return entries, nil
}

// Count returns the number of stored entries.
func (m *Memory) Count(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries), nil
}

func uuidSet(ids []uuid.UUID) map[uuid.UUID]struct{} {
	if len(ids) == 0 {
		return nil
	}
	set := make(map[uuid.UUID]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}
