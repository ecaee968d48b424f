package peermap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveInsertsNewEntry(t *testing.T) {
	m := New()
	m.Observe(Report{BadgeIDB64: "a", EventIDB64: "e1", PeakRSSI: -50})
	require.Equal(t, 1, m.Len())
	reports := m.Drain()
	require.Len(t, reports, 1)
	assert.Equal(t, "a", reports[0].BadgeIDB64)
}

func TestObserveKeepsHigherRSSIAndUpdatesEventID(t *testing.T) {
	m := New()
	m.Observe(Report{BadgeIDB64: "a", EventIDB64: "e1", PeakRSSI: -80})
	m.Observe(Report{BadgeIDB64: "a", EventIDB64: "e2", PeakRSSI: -40})
	m.Observe(Report{BadgeIDB64: "a", EventIDB64: "e2", PeakRSSI: -90})

	reports := m.Drain()
	require.Len(t, reports, 1)
	assert.Equal(t, int16(-40), reports[0].PeakRSSI)
	assert.Equal(t, "e2", reports[0].EventIDB64)
}

func TestObserveDropsBeyondCapacity(t *testing.T) {
	m := New()
	for i := 0; i < Capacity+5; i++ {
		m.Observe(Report{BadgeIDB64: string(rune('a' + i)), PeakRSSI: -50})
	}
	assert.Equal(t, Capacity, m.Len())
}

func TestDrainClearsMap(t *testing.T) {
	m := New()
	m.Observe(Report{BadgeIDB64: "a"})
	m.Drain()
	assert.Equal(t, 0, m.Len())
}

func TestDrainOrderIsInsertionOrder(t *testing.T) {
	m := New()
	m.Observe(Report{BadgeIDB64: "c"})
	m.Observe(Report{BadgeIDB64: "a"})
	m.Observe(Report{BadgeIDB64: "b"})

	reports := m.Drain()
	require.Len(t, reports, 3)
	assert.Equal(t, []string{"c", "a", "b"}, []string{reports[0].BadgeIDB64, reports[1].BadgeIDB64, reports[2].BadgeIDB64})
}

func TestSeenEventMapFirstSightingOnlyOnce(t *testing.T) {
	s := NewSeenEventMap()
	assert.True(t, s.Observe("e1"))
	assert.False(t, s.Observe("e1"))
	assert.True(t, s.Contains("e1"))
}

func TestSeenEventMapBlankIDNeverFirstSighting(t *testing.T) {
	s := NewSeenEventMap()
	assert.False(t, s.Observe(""))
}
