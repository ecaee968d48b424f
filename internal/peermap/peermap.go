// Package peermap implements the badge's peer-discovery bookkeeping: the
// bounded PeerMap of badge sightings drained into heartbeats, and the
// SeenEventMap used to trigger an immediate heartbeat on first sight of a
// new event (spec §3, §4.10).
package peermap

import (
	"sync"

	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/cornelk/hashmap"
)

// Capacity is the maximum number of distinct badges tracked between drains
// (spec §3's "bounded array of PeerReport (cap = 25)").
const Capacity = 25

// Report is one observed peer sighting, keyed by badge id (spec §3's
// PeerReport).
type Report struct {
	BadgeIDB64 string
	EventIDB64 string
	PeakRSSI   int16
	BadgeType  uint8
}

// Size implements bus.Sized.
func (Report) Size() int { return 64 }

// PeerMap tracks the best (highest RSSI) sighting of each distinct badge
// since the last drain. An ordered map is used rather than a plain map so
// drain order is deterministic (oldest-inserted first), which keeps
// heartbeat payload snapshots reproducible in tests.
type PeerMap struct {
	mu      sync.Mutex
	entries *orderedmap.OrderedMap[string, Report]
}

// New creates an empty PeerMap.
func New() *PeerMap {
	return &PeerMap{entries: orderedmap.New[string, Report]()}
}

// Observe records a sighting (spec §4.10):
//   - if the badge is already tracked, overwrite its event id and replace
//     the stored RSSI only if the new RSSI is higher (less negative);
//   - else if there is capacity, insert a new entry;
//   - else, drop it silently.
func (m *PeerMap) Observe(r Report) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.entries.Get(r.BadgeIDB64); ok {
		existing.EventIDB64 = r.EventIDB64
		if r.PeakRSSI > existing.PeakRSSI {
			existing.PeakRSSI = r.PeakRSSI
		}
		m.entries.Set(r.BadgeIDB64, existing)
		return
	}
	if m.entries.Len() >= Capacity {
		return
	}
	m.entries.Set(r.BadgeIDB64, r)
}

// Len returns the number of tracked badges.
func (m *PeerMap) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.entries.Len()
}

// Drain returns all tracked reports, oldest-inserted first, and clears the
// map atomically (spec §3: "drained atomically when a heartbeat is
// dispatched").
func (m *PeerMap) Drain() []Report {
	m.mu.Lock()
	defer m.mu.Unlock()

	reports := make([]Report, 0, m.entries.Len())
	for pair := m.entries.Oldest(); pair != nil; pair = pair.Next() {
		reports = append(reports, pair.Value)
	}
	m.entries = orderedmap.New[string, Report]()
	return reports
}

// SeenEventMap is the set of event ids observed via peer beacons, used to
// detect "first sighting of a new event" (spec §3, §4.10). Backed by a
// lock-free concurrent map since it is written from the BLE scan callback
// and read from the game-state task.
type SeenEventMap struct {
	seen *hashmap.Map[string, struct{}]
}

// NewSeenEventMap creates an empty SeenEventMap.
func NewSeenEventMap() *SeenEventMap {
	return &SeenEventMap{seen: hashmap.New[string, struct{}]()}
}

// Observe records eventIDB64 (a no-op for a blank id) and reports whether
// this is the first time it has been seen.
func (s *SeenEventMap) Observe(eventIDB64 string) (firstSighting bool) {
	if eventIDB64 == "" {
		return false
	}
	_, loaded := s.seen.GetOrInsert(eventIDB64, struct{}{})
	return !loaded
}

// Contains reports whether eventIDB64 has already been observed.
func (s *SeenEventMap) Contains(eventIDB64 string) bool {
	_, ok := s.seen.Get(eventIDB64)
	return ok
}
