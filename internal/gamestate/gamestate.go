// Package gamestate assembles and schedules the badge's heartbeat traffic
// and applies the cloud server's responses to persisted game status
// (spec §4.10, grounded on GameState.c).
package gamestate

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/joehacksalot/badgecore/internal/audio"
	"github.com/joehacksalot/badgecore/internal/bus"
	"github.com/joehacksalot/badgecore/internal/httpclient"
	"github.com/joehacksalot/badgecore/internal/identity"
	"github.com/joehacksalot/badgecore/internal/peermap"
	"github.com/joehacksalot/badgecore/internal/store"
)

// FirstHeartbeatDelay is how long after boot the first heartbeat fires
// (GameState.c's FIRST_HEARTBEAT_POWERON_DELAY_MS).
const FirstHeartbeatDelay = 5 * time.Second

// EventHeartbeatInterval is the scheduling interval while enrolled in an
// event (GameState.h's EVENT_HEARTBEAT_INTERVAL_MS).
const EventHeartbeatInterval = 60 * time.Second

// IdleHeartbeatInterval is the scheduling interval outside an event
// (GameState.c's GAME_HEARTBEAT_INTERVAL_MS).
const IdleHeartbeatInterval = 5 * time.Minute

// TaskInterval is the background task's polling period (GAME_TASK_DELAY_MS).
const TaskInterval = 100 * time.Millisecond

// BatteryReader reports the current battery percentage.
type BatteryReader interface {
	Percent() int
}

// SongQueuer enqueues a song index for playback (internal/audio.Engine
// satisfies this without gamestate importing it concretely).
type SongQueuer interface {
	PlaySong(songIndex int) error
}

// Manager schedules and assembles heartbeats, tracks peer sightings, and
// applies heartbeat responses to persisted game status (spec §4.10).
type Manager struct {
	logger  *logrus.Logger
	bus     *bus.Bus
	status  *store.GameStatus
	stats   *store.BadgeStats
	battery BatteryReader
	audio   SongQueuer

	peers       *peermap.PeerMap
	seenEvents  *peermap.SeenEventMap
	badgeIDB64  string
	keyB64      string
	badgeType   uint8

	mu              sync.Mutex
	nextHeartbeat   time.Time
	eventEndTime    time.Time
	sendImmediately bool

	now func() time.Time
}

// New creates a Manager. badgeID/key are the badge's derived identity
// (spec §3); badgeType is the compiled-in badge model (spec §6).
func New(logger *logrus.Logger, b *bus.Bus, status *store.GameStatus, stats *store.BadgeStats,
	battery BatteryReader, audioEngine SongQueuer, badgeID, key identity.ID, badgeType uint8) *Manager {
	return &Manager{
		logger: logger, bus: b, status: status, stats: stats, battery: battery, audio: audioEngine,
		peers: peermap.New(), seenEvents: peermap.NewSeenEventMap(),
		badgeIDB64: badgeID.Base64(), keyB64: key.Base64(), badgeType: badgeType,
		now: time.Now,
	}
}

// Run subscribes to the bus and launches the background scheduling task
// (spec §5).
func (m *Manager) Run(ctx context.Context) {
	m.mu.Lock()
	m.nextHeartbeat = m.now().Add(FirstHeartbeatDelay)
	m.mu.Unlock()

	m.bus.Subscribe(bus.PeerHeartbeatDetected, func(p any) {
		report, ok := p.(peermap.Report)
		if !ok {
			return
		}
		m.handlePeerHeartbeat(report)
	})
	m.bus.Subscribe(bus.WifiHeartbeatResponseReceived, func(p any) {
		status, ok := p.(store.GameStatusData)
		if !ok {
			return
		}
		m.applyStatus(status)
	})
	m.bus.Subscribe(bus.SendHeartbeat, func(any) {
		m.mu.Lock()
		m.sendImmediately = true
		m.mu.Unlock()
	})
	m.bus.Subscribe(bus.OcarinaSongMatched, func(p any) {
		songIndex, ok := p.(int)
		if !ok {
			return
		}
		m.handleSongMatched(songIndex)
	})

	go func() {
		ticker := time.NewTicker(TaskInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.tick()
			}
		}
	}()
}

func (m *Manager) tick() {
	now := m.now()

	if m.status.Snapshot().InEvent() {
		m.mu.Lock()
		endTime := m.eventEndTime
		m.mu.Unlock()
		if !endTime.IsZero() && !now.Before(endTime) {
			m.resetEvent()
		}
	}

	m.mu.Lock()
	due := !now.Before(m.nextHeartbeat) || m.sendImmediately
	m.mu.Unlock()
	if due {
		interval := IdleHeartbeatInterval
		if m.status.Snapshot().InEvent() {
			interval = EventHeartbeatInterval
		}
		m.sendHeartbeat(interval)
	}
}

// sendHeartbeat assembles and emits a HeartbeatRequest, then reschedules
// the next heartbeat and drains the peer map (spec §4.10).
func (m *Manager) sendHeartbeat(nextInterval time.Duration) {
	m.mu.Lock()
	m.nextHeartbeat = m.now().Add(nextInterval)
	m.sendImmediately = false
	m.mu.Unlock()

	status := m.status.Snapshot()
	battery := m.battery.Percent()
	batteryPercent := uint8(0)
	if battery > 0 {
		batteryPercent = uint8(battery)
	}

	req := httpclient.HeartbeatRequest{
		BadgeIDB64:         m.badgeIDB64,
		KeyB64:             m.keyB64,
		EnrolledEventIDB64: status.Event.EventIDB64,
		SongUnlockedBits:   status.SongUnlockedBits,
		PeerReports:        m.peers.Drain(),
		BadgeStats:         m.stats.Snapshot(),
		BatteryPercent:     batteryPercent,
		BadgeType:          m.badgeType,
	}
	if err := m.bus.Notify(bus.WifiHeartbeatReadyToSend, req, bus.DefaultNotifyTimeout); err != nil {
		m.logger.WithError(err).Warn("gamestate: notify failed")
	}
}

// handlePeerHeartbeat records the sighting and, for a new non-blank event
// id observed while not already enrolled in an event, requests an
// immediate heartbeat (spec §4.10, grounded on
// _GameState_NotificationHandler's BLE_PEER_HEARTBEAT_DETECTED case).
func (m *Manager) handlePeerHeartbeat(report peermap.Report) {
	m.peers.Observe(report)

	eventID, err := identity.ParseID(report.EventIDB64)
	if err != nil || eventID.IsZero() {
		return
	}
	newSighting := m.seenEvents.Observe(report.EventIDB64)
	if !newSighting {
		return
	}
	if m.status.Snapshot().InEvent() {
		return
	}
	if m.status.Snapshot().Event.EventIDB64 == report.EventIDB64 {
		return
	}
	m.mu.Lock()
	m.sendImmediately = true
	m.mu.Unlock()
}

// applyStatus applies a heartbeat response from the cloud server, persists
// it, and emits GameEventJoined/GameEventEnded on an event transition
// (spec §4.10, grounded on _GameState_ProcessHeartBeatResponse).
func (m *Manager) applyStatus(candidate store.GameStatusData) {
	wasInEvent, nowInEvent, changed := m.status.ApplyResponse(candidate)
	if !changed {
		return
	}
	m.status.Flush()

	if nowInEvent && !wasInEvent {
		m.mu.Lock()
		m.eventEndTime = m.now().Add(time.Duration(candidate.Event.MsRemaining) * time.Millisecond)
		m.mu.Unlock()
		if err := m.bus.Notify(bus.GameEventJoined, candidate.Event.EventIDB64, bus.DefaultNotifyTimeout); err != nil {
			m.logger.WithError(err).Warn("gamestate: notify failed")
		}
	} else if wasInEvent && !nowInEvent {
		if err := m.bus.Notify(bus.GameEventEnded, nil, bus.DefaultNotifyTimeout); err != nil {
			m.logger.WithError(err).Warn("gamestate: notify failed")
		}
	}
}

// resetEvent clears the current event (local expiry, spec §4.10's event
// end detection independent of a server response).
func (m *Manager) resetEvent() {
	candidate := m.status.Snapshot()
	candidate.Event = store.EventStatus{}
	m.applyStatus(candidate)
}

// handleSongMatched unlocks the matched song (if not already unlocked),
// plays the secret-sound sting, and requests an immediate heartbeat
// (spec §4.15, grounded on the OCARINA_SONG_MATCHED notification case).
func (m *Manager) handleSongMatched(songIndex int) {
	if !m.status.SetSongUnlocked(uint(songIndex)) {
		return
	}
	if err := m.audio.PlaySong(audio.SongSecretSound); err != nil {
		m.logger.WithError(err).Warn("gamestate: failed to queue secret sound")
	}
	m.mu.Lock()
	m.sendImmediately = true
	m.mu.Unlock()
}
