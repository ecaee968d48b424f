// Package coordinator implements the badge's central mode-arbitration hub:
// it owns the cross-cutting LED-mode flags, dispatches touch-action
// commands, and re-runs a fixed-priority LED mode arbitrator whenever a
// flag changes (spec §4.7, grounded on SystemState.c and LedModing.c).
package coordinator

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/joehacksalot/badgecore/internal/audio"
	"github.com/joehacksalot/badgecore/internal/bleperipheral"
	"github.com/joehacksalot/badgecore/internal/bus"
	"github.com/joehacksalot/badgecore/internal/groutine"
	"github.com/joehacksalot/badgecore/internal/led"
	"github.com/joehacksalot/badgecore/internal/ocarina"
	"github.com/joehacksalot/badgecore/internal/peermap"
	"github.com/joehacksalot/badgecore/internal/store"
	"github.com/joehacksalot/badgecore/internal/timeutil"
	"github.com/joehacksalot/badgecore/internal/touch"
	"github.com/joehacksalot/badgecore/internal/touchaction"
	"github.com/joehacksalot/badgecore/internal/wifi"
)

// Timer/window durations, named after SystemState.c's #define block.
const (
	TouchActiveDuration          = 5 * time.Second       // TOUCH_ACTIVE_TIMEOUT_DURATION_MSEC
	LedSequencePreviewDuration   = 2 * time.Second        // LED_PREVIEW_DRAW_DURATION_MSEC
	BatteryIndicatorDrawDuration = 3 * time.Second        // BATTERY_SEQUENCE_DRAW_DURATION_MSEC
	BatteryIndicatorHoldDuration = 2 * time.Second        // BATTERY_SEQUENCE_HOLD_DURATION_MSEC (Tron/Reactor variant; Crest/FMAN25 use 1s)
	NetworkTestDuration          = 10 * time.Second       // NETWORK_TEST_DRAW_DURATION_MSEC
	LedGameStatusToggleDuration  = 5 * time.Second        // LED_GAME_STATUS_TOGGLE_DURATION_MSEC
	PeerSongCooldownDuration     = 3 * time.Minute        // PEER_SONG_COOLDOWN_DURATION_MSEC
	VibrationPulse               = 500 * time.Millisecond
	TaskInterval                 = 100 * time.Millisecond
)

// BatteryIndicatorTotalDuration is the full active window armed by
// DisplayVoltageMeter (spec §4.7's "timer (total = draw-duration +
// hold-duration)").
const BatteryIndicatorTotalDuration = BatteryIndicatorDrawDuration + BatteryIndicatorHoldDuration

// VibrationDriver pulses the haptic motor for the given duration (out of
// scope per spec §1; supplied by the caller).
type VibrationDriver interface {
	Pulse(d time.Duration) error
}

// PeerSongSelector resolves a detected peer's badge type to the song to
// play and the RSSI threshold that must be exceeded to trigger it (spec
// §4.7's peer_song_playing/peer_song_cooldown flags, grounded on
// SystemState.c's per-badge-type PEER_RSSID_SONG_THRESHOLD_* table).
type PeerSongSelector func(badgeType uint8) (songIndex int, rssiThreshold int16)

// flags mirrors LedModing_t's boolean set 1:1, kept under the same names
// (translated to Go idiom) so the priority table stays easy to audit
// against LedModing.c.
type flags struct {
	touchActive                bool
	batteryIndicatorActive     bool
	gameEventActive            bool
	ledGameStatusActive        bool
	networkTestActive          bool
	peerSongPlaying            bool
	peerSongCooldown           bool
	bleReconnecting            bool
	bleServiceEnabled          bool
	bleConnected               bool
	otaDownloadInitiatedActive bool
	ledSequencePreviewActive   bool
	ledGameInteractiveActive   bool
	songActiveStatus           bool
	bleFileTransferInProgress  bool
}

// deadline is a one-shot armed timer checked against a Clock on every task
// tick, matching the firmware's FreeRTOS software-timer callbacks without
// pulling in a timer-per-goroutine model.
type deadline struct {
	armed bool
	at    timeutil.Tick
}

func (d *deadline) arm(now timeutil.Tick, dur time.Duration) {
	d.armed = true
	d.at = timeutil.Future(now, dur.Milliseconds())
}

func (d *deadline) stop() {
	d.armed = false
}

func (d *deadline) expired(now timeutil.Tick) bool {
	if !d.armed || !timeutil.Expired(now, d.at) {
		return false
	}
	d.armed = false
	return true
}

// Manager is the coordinator's runtime: flag owner, timer owner, and
// command dispatcher.
type Manager struct {
	logger *logrus.Logger
	bus    *bus.Bus
	clock  timeutil.Clock
	ctx    context.Context

	ledCtl       *led.Controller
	seqLib       *led.SequenceLibrary
	touchSampler *touch.Sampler
	touchProc    *touchaction.Processor
	bleService   *bleperipheral.Service
	audioEngine  *audio.Engine
	ocarina      *ocarina.Matcher
	wifiClient   *wifi.Client
	stats        *store.BadgeStats
	vibration    VibrationDriver
	peerSong     PeerSongSelector

	mu sync.Mutex
	f  flags

	touchTimer      deadline
	batteryTimer    deadline
	networkTimer    deadline
	previewTimer    deadline
	peerSongTimer   deadline
	gameStatusTimer timeutil.Tick
}

// New creates a Manager. All dependencies are wired by the caller; Manager
// itself holds no hardware knowledge (spec §1).
func New(
	logger *logrus.Logger, b *bus.Bus, clock timeutil.Clock,
	ledCtl *led.Controller, seqLib *led.SequenceLibrary,
	touchSampler *touch.Sampler, touchProc *touchaction.Processor,
	bleService *bleperipheral.Service, audioEngine *audio.Engine,
	ocarinaMatcher *ocarina.Matcher, wifiClient *wifi.Client,
	stats *store.BadgeStats, vibration VibrationDriver, peerSong PeerSongSelector,
) *Manager {
	return &Manager{
		logger: logger, bus: b, clock: clock,
		ledCtl: ledCtl, seqLib: seqLib,
		touchSampler: touchSampler, touchProc: touchProc,
		bleService: bleService, audioEngine: audioEngine, ocarina: ocarinaMatcher,
		wifiClient: wifiClient, stats: stats, vibration: vibration, peerSong: peerSong,
	}
}

// Run subscribes to every event the coordinator reacts to and launches the
// periodic timer-deadline task (spec §4.7, §5).
func (m *Manager) Run(ctx context.Context) {
	m.ctx = ctx
	m.gameStatusTimer = timeutil.Future(m.clock.Now(), LedGameStatusToggleDuration.Milliseconds())

	m.bus.Subscribe(bus.TouchActionCmd, func(p any) {
		if cmd, ok := p.(touchaction.Command); ok {
			m.handleCommand(cmd)
		}
	})
	m.bus.Subscribe(bus.TouchSenseAction, func(p any) {
		if a, ok := p.(touch.SenseAction); ok {
			m.handleTouchSense(a)
		}
	})
	m.bus.Subscribe(bus.BleServiceEnabled, func(any) { m.setFlag(&m.f.bleServiceEnabled, true) })
	m.bus.Subscribe(bus.BleServiceDisabled, func(any) {
		m.mu.Lock()
		m.f.bleServiceEnabled = false
		m.f.bleFileTransferInProgress = false
		m.f.ledGameInteractiveActive = false
		m.f.bleConnected = false
		m.mu.Unlock()
		m.arbitrate()
	})
	m.bus.Subscribe(bus.BleServiceConnected, func(any) {
		m.setFlag(&m.f.bleConnected, true)
		_ = m.audioEngine.PlaySong(audio.SongSuccessSound)
		m.setFlag(&m.f.bleReconnecting, false)
	})
	m.bus.Subscribe(bus.BleDropped, func(any) { m.setFlag(&m.f.bleReconnecting, true) })
	m.bus.Subscribe(bus.BleServiceDisconnected, func(any) { m.setFlag(&m.f.bleReconnecting, false) })
	m.bus.Subscribe(bus.BleFileServicePercentChanged, func(any) { m.setFlag(&m.f.bleFileTransferInProgress, true) })
	m.bus.Subscribe(bus.FileComplete, func(any) { m.setFlag(&m.f.bleFileTransferInProgress, false) })
	m.bus.Subscribe(bus.OtaDownloadInitiated, func(any) { m.setFlag(&m.f.otaDownloadInitiatedActive, true) })
	m.bus.Subscribe(bus.OtaDownloadComplete, func(any) { m.setFlag(&m.f.otaDownloadInitiatedActive, false) })
	m.bus.Subscribe(bus.GameEventJoined, func(any) { m.setFlag(&m.f.gameEventActive, true) })
	m.bus.Subscribe(bus.GameEventEnded, func(any) { m.setFlag(&m.f.gameEventActive, false) })
	m.bus.Subscribe(bus.SongNoteAction, func(p any) {
		if evt, ok := p.(audio.NoteEvent); ok {
			m.handleSongNote(evt)
		}
	})
	m.bus.Subscribe(bus.PeerHeartbeatDetected, func(p any) {
		if r, ok := p.(peermap.Report); ok {
			m.handlePeerHeartbeat(r)
		}
	})

	groutine.Go(ctx, "coordinator-task", func(ctx context.Context) {
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
	})
}

// HandleInteractiveGameActiveChange is the gameActiveChange callback
// supplied to bleperipheral.New: toggling the interactive-game
// characteristic's active bit flips LED mode and switches touch-to-tone to
// the 2nd octave (spec §4.9.2).
func (m *Manager) HandleInteractiveGameActiveChange(active bool) {
	m.setFlag(&m.f.ledGameInteractiveActive, active)
	if active {
		m.audioEngine.SetTouchSoundEnabled(true, 2)
	} else {
		m.audioEngine.SetTouchSoundEnabled(false, 0)
	}
}

func (m *Manager) tick() {
	now := m.clock.Now()

	m.mu.Lock()
	touchExpired := m.touchTimer.expired(now)
	batteryExpired := m.batteryTimer.expired(now)
	networkExpired := m.networkTimer.expired(now)
	previewExpired := m.previewTimer.expired(now)
	if m.peerSongTimer.expired(now) {
		m.f.peerSongCooldown = false
	}
	if timeutil.Expired(now, m.gameStatusTimer) {
		m.f.ledGameStatusActive = !m.f.ledGameStatusActive
		m.gameStatusTimer = timeutil.Future(now, LedGameStatusToggleDuration.Milliseconds())
	}
	m.mu.Unlock()

	// Network-test and battery-indicator expiry also force touch off, the
	// same cross-cancellation SystemState_NetworkTestActiveTimerCallback
	// and SystemState_BatteryIndicatorActiveTimerCallback perform.
	if networkExpired {
		m.setFlag(&m.f.networkTestActive, false)
		m.forceDisableTouch()
	}
	if batteryExpired {
		m.setFlag(&m.f.batteryIndicatorActive, false)
		m.forceDisableTouch()
	}
	if touchExpired {
		m.forceDisableTouch()
	}
	if previewExpired {
		m.setFlag(&m.f.ledSequencePreviewActive, false)
	}
	m.arbitrate()
}

func (m *Manager) handleCommand(cmd touchaction.Command) {
	if cmd != touchaction.Unknown && cmd != touchaction.Clear {
		m.stats.IncrementNumTouchCmds()
	}
	switch cmd {
	case touchaction.EnableTouch:
		m.mu.Lock()
		already := m.f.touchActive
		m.mu.Unlock()
		if !already {
			m.enableTouch()
		}
	case touchaction.DisableTouch:
		m.mu.Lock()
		active := m.f.touchActive
		m.mu.Unlock()
		if active {
			m.forceDisableTouch()
		}
	case touchaction.NextLedSequence:
		m.pulse()
		m.seqLib.Cycle(true)
		m.armPreview()
		m.stats.IncrementNumLedCycles()
	case touchaction.PrevLedSequence:
		m.pulse()
		m.seqLib.Cycle(false)
		m.armPreview()
		m.stats.IncrementNumLedCycles()
	case touchaction.DisplayVoltageMeter:
		m.pulse()
		m.mu.Lock()
		m.f.batteryIndicatorActive = true
		m.batteryTimer.arm(m.clock.Now(), BatteryIndicatorTotalDuration)
		m.mu.Unlock()
		m.arbitrate()
		m.stats.IncrementNumBattChecks()
	case touchaction.EnableBlePairing:
		m.pulse()
		if err := m.bleService.EnablePairing(); err != nil {
			m.logger.WithError(err).Warn("coordinator: enable ble pairing failed")
			break
		}
		m.setFlag(&m.f.bleServiceEnabled, true)
		m.stats.IncrementNumBleEnables()
	case touchaction.DisableBlePairing:
		m.pulse()
		if err := m.bleService.Disable(); err != nil {
			m.logger.WithError(err).Warn("coordinator: disable ble pairing failed")
		}
		m.mu.Lock()
		m.f.bleFileTransferInProgress = false
		m.f.ledGameInteractiveActive = false
		m.f.bleConnected = false
		m.f.bleServiceEnabled = false
		m.mu.Unlock()
		m.arbitrate()
		m.stats.IncrementNumBleDisables()
	case touchaction.NetworkTest:
		m.pulse()
		m.mu.Lock()
		m.f.networkTestActive = true
		m.networkTimer.arm(m.clock.Now(), NetworkTestDuration)
		m.mu.Unlock()
		m.arbitrate()
		m.stats.IncrementNumNetworkTests()
		if m.ctx != nil {
			go m.wifiClient.TestConnect(m.ctx)
		}
	case touchaction.ToggleSynthMode:
		m.pulse()
		enabled := !m.audioEngine.TouchSoundEnabled()
		m.audioEngine.SetTouchSoundEnabled(enabled, 0)
		m.ocarina.SetEnabled(enabled)
	default:
	}
}

func (m *Manager) enableTouch() {
	m.pulse()
	m.mu.Lock()
	m.f.touchActive = true
	m.touchTimer.arm(m.clock.Now(), TouchActiveDuration)
	m.mu.Unlock()
	m.touchSampler.SetEnabled(true)
	if err := m.bus.Notify(bus.TouchEnabled, nil, bus.DefaultNotifyTimeout); err != nil {
		m.logger.WithError(err).Warn("coordinator: notify failed")
	}
	m.arbitrate()
}

// forceDisableTouch turns touch mode off unconditionally, matching
// SystemState_TouchInactiveTimerExpired's behavior of also being invoked
// from other UI windows' expiry callbacks.
func (m *Manager) forceDisableTouch() {
	wasActive := m.setFlagReturningPrev(&m.f.touchActive, false)
	m.touchTimer.stop()
	m.touchSampler.SetEnabled(false)
	m.audioEngine.SetTouchSoundEnabled(false, 0)
	m.ocarina.SetEnabled(false)
	if wasActive {
		m.pulse()
		if err := m.bus.Notify(bus.TouchDisabled, nil, bus.DefaultNotifyTimeout); err != nil {
			m.logger.WithError(err).Warn("coordinator: notify failed")
		}
	}
	m.arbitrate()
}

func (m *Manager) armPreview() {
	m.mu.Lock()
	m.f.ledSequencePreviewActive = true
	m.previewTimer.arm(m.clock.Now(), LedSequencePreviewDuration)
	m.mu.Unlock()
	m.arbitrate()
}

func (m *Manager) handleTouchSense(a touch.SenseAction) {
	touched := a.State == touch.Touched
	m.audioEngine.HandleTouchSenseAction(a.Index, touched)
	m.ocarina.HandleTouchSenseAction(a.Index, touched)
	m.touchProc.HandleTouchSenseAction(a)

	m.mu.Lock()
	active := m.f.touchActive
	m.mu.Unlock()
	if active {
		m.mu.Lock()
		m.touchTimer.arm(m.clock.Now(), TouchActiveDuration)
		m.mu.Unlock()
	}
}

func (m *Manager) handleSongNote(evt audio.NoteEvent) {
	switch evt.Action {
	case audio.SongStart:
		m.setFlag(&m.f.songActiveStatus, true)
	case audio.SongStop:
		m.setFlag(&m.f.songActiveStatus, false)
		m.mu.Lock()
		if m.f.peerSongPlaying {
			m.f.peerSongPlaying = false
			m.f.peerSongCooldown = true
			m.peerSongTimer.arm(m.clock.Now(), PeerSongCooldownDuration)
		}
		m.mu.Unlock()
	}
}

// handlePeerHeartbeat plays a badge-type specific proximity song the first
// time a nearby peer is detected above threshold, gated by the
// playing/cooldown flags (spec §4.7, SystemState_PeerHeartbeatNotificationHandler).
func (m *Manager) handlePeerHeartbeat(r peermap.Report) {
	if m.peerSong == nil {
		return
	}
	songIndex, threshold := m.peerSong(r.BadgeType)

	m.mu.Lock()
	eligible := !m.f.peerSongPlaying && !m.f.peerSongCooldown && r.PeakRSSI > threshold
	if eligible {
		m.f.peerSongPlaying = true
	}
	m.mu.Unlock()

	if eligible {
		if err := m.audioEngine.PlaySong(songIndex); err != nil {
			m.logger.WithError(err).Warn("coordinator: queue peer song failed")
		}
	}
}

func (m *Manager) pulse() {
	if m.vibration == nil {
		return
	}
	if err := m.vibration.Pulse(VibrationPulse); err != nil {
		m.logger.WithError(err).Warn("coordinator: vibration pulse failed")
	}
}

func (m *Manager) setFlag(ptr *bool, active bool) {
	if m.setFlagReturningPrev(ptr, active) == active {
		return
	}
	m.arbitrate()
}

// setFlagReturningPrev sets *ptr and returns its value before the update.
func (m *Manager) setFlagReturningPrev(ptr *bool, active bool) bool {
	m.mu.Lock()
	prev := *ptr
	*ptr = active
	m.mu.Unlock()
	return prev
}

// arbitrate re-evaluates the fixed-priority LED mode table (spec §4.7,
// LedMode_SetLedMode's if/else chain, highest priority first) and applies
// the winning mode.
func (m *Manager) arbitrate() {
	m.mu.Lock()
	f := m.f
	m.mu.Unlock()

	var mode led.Mode
	switch {
	case f.bleReconnecting:
		mode = led.ModeBleReconnecting
	case f.ledGameInteractiveActive:
		mode = led.ModeInteractiveGame
	case f.songActiveStatus:
		mode = led.ModeSong
	case f.ledSequencePreviewActive:
		mode = led.ModeSequence
	case f.otaDownloadInitiatedActive:
		mode = led.ModeOtaDownload
	case f.bleFileTransferInProgress:
		mode = led.ModeBleXferPercent
	case f.bleConnected:
		mode = led.ModeBleXferConnected
	case f.bleServiceEnabled:
		mode = led.ModeBleXferEnabled
	case f.networkTestActive:
		mode = led.ModeNetworkTest
	case f.batteryIndicatorActive:
		mode = led.ModeBattery
	case f.touchActive:
		mode = led.ModeTouch
	case f.gameEventActive:
		mode = led.ModeGameEvent
	case f.ledGameStatusActive:
		mode = led.ModeGameStatus
	default:
		mode = led.ModeSequence
	}
	m.ledCtl.SetMode(mode)
}
