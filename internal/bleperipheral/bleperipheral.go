// Package bleperipheral implements the badge's GATT peripheral service:
// advertising lifecycle, the file-transfer frame-reassembly protocol, and
// the interactive-game characteristic (spec §4.9).
package bleperipheral

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"

	"github.com/joehacksalot/badgecore/internal/blewire"
	"github.com/joehacksalot/badgecore/internal/bus"
	"github.com/joehacksalot/badgecore/internal/groutine"
	"github.com/joehacksalot/badgecore/internal/identity"
	"github.com/joehacksalot/badgecore/internal/timeutil"
)

// Default and reconnect inactivity windows (spec §4.9).
const (
	DefaultInactivityTimeout   = 60 * time.Second
	ReconnectInactivityTimeout = 10 * time.Second
)

// Host is the hardware-facing port the Service drives. The concrete
// adapter (out of scope per spec §1) owns the actual go-ble/tinygo
// advertising and GATT registration calls.
type Host interface {
	StartNonConnectableAdvertising(peerBeaconPayload []byte) error
	StartConnectableAdvertising(serviceUUID ble.UUID) error
	StopAdvertising() error
	RegisterService(uuid ble.UUID) error
	DeregisterService() error
	UpdateConnectionParams(intervalMin, intervalMax, supervisionTimeout time.Duration) error
	SetPreferredMTU(mtu int) error
}

// FileHandlers are the store-side effects of a completed file transfer,
// injected so this package stays decoupled from internal/store and
// internal/led (spec §4.9.1's completion dispatch).
type FileHandlers struct {
	// InstallLedSequence validates and installs a received LED sequence
	// document as custom slot 0, returning the installed slot index.
	InstallLedSequence func(data []byte) (slotIndex int, err error)
	// UpdateSettings applies a received settings JSON document.
	UpdateSettings func(data []byte) error
}

// PeerBeacon returns the current non-connectable advertising payload,
// queried fresh on every disable (it changes if badge identity fields do).
type PeerBeacon func() []byte

// frameContext is the file-transfer reassembly state for one session
// (spec §3's FrameContext). It is reset on connect, disconnect, success,
// and failure.
type frameContext struct {
	configProcessed bool
	fileProcessed   bool
	fileType        blewire.FileType
	expectedFrames  uint16
	frameLen        uint16
	frameReceived   map[uint16]bool
	bytesReceived   uint32
	buffer          [blewire.MaxFileSize]byte
}

func (f *frameContext) reset() {
	f.configProcessed = false
	f.fileProcessed = false
	f.fileType = 0
	f.expectedFrames = 0
	f.frameLen = 0
	f.frameReceived = make(map[uint16]bool)
	f.bytesReceived = 0
}

func (f *frameContext) receivedCount() int {
	return len(f.frameReceived)
}

// Service owns the GATT service's enable/disable lifecycle, the
// file-transfer reassembly state machine, and the interactive-game bits.
type Service struct {
	logger  *logrus.Logger
	bus     *bus.Bus
	host    Host
	clock   timeutil.Clock
	files   FileHandlers
	beacon  PeerBeacon
	baseUUID ble.UUID

	pairID    func() identity.ID
	setPairID func(identity.ID)
	badgeID   func() identity.ID

	fileTransferRead func() blewire.FileTransferReadResponse

	mu               sync.Mutex
	enabled          bool
	frame            frameContext
	inactivityTimer  *time.Timer
	game             blewire.InteractiveGameBits
	localActiveBits  func() uint16
	gameActiveChange func(active bool)
}

// New creates a Service.
func New(logger *logrus.Logger, b *bus.Bus, host Host, clock timeutil.Clock, baseUUID ble.UUID,
	pairID func() identity.ID, setPairID func(identity.ID), badgeID func() identity.ID,
	beacon PeerBeacon, files FileHandlers,
	fileTransferRead func() blewire.FileTransferReadResponse,
	localActiveBits func() uint16, gameActiveChange func(active bool),
) *Service {
	s := &Service{
		logger: logger, bus: b, host: host, clock: clock, baseUUID: baseUUID,
		pairID: pairID, setPairID: setPairID, badgeID: badgeID,
		beacon: beacon, files: files, fileTransferRead: fileTransferRead,
		localActiveBits: localActiveBits, gameActiveChange: gameActiveChange,
	}
	s.frame.reset()
	return s
}

// IsServiceEnabled reports whether the GATT service is currently enabled.
func (s *Service) IsServiceEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabled
}

// EnableWithoutNewPairID satisfies bleobserver.PeripheralEnabler: the
// paired-peer remote wake-up case (spec §4.8), which enables the service
// without clearing or refreshing the pair id.
func (s *Service) EnableWithoutNewPairID() error {
	return s.enable(ReconnectInactivityTimeout)
}

// EnablePairing clears the stored pair id (spec §4.7's EnableBlePairing)
// and enables the service in pairing mode.
func (s *Service) EnablePairing() error {
	s.setPairID(identity.ID{})
	return s.enable(DefaultInactivityTimeout)
}

func (s *Service) enable(inactivityTimeout time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.enabled {
		return nil
	}

	uuid := blewire.ServiceUUID(s.baseUUID, s.pairID())
	if err := s.host.StopAdvertising(); err != nil {
		s.logger.WithError(err).Warn("bleperipheral: stop advertising failed")
	}
	if err := s.host.StartConnectableAdvertising(uuid); err != nil {
		return fmt.Errorf("bleperipheral: start connectable advertising: %w", err)
	}
	if err := s.host.RegisterService(uuid); err != nil {
		return fmt.Errorf("bleperipheral: register service: %w", err)
	}
	s.armInactivityTimer(inactivityTimeout)
	s.enabled = true
	if err := s.bus.Notify(bus.BleServiceEnabled, nil, bus.DefaultNotifyTimeout); err != nil {
		s.logger.WithError(err).Warn("bleperipheral: notify failed")
	}
	return nil
}

// Disable deregisters the service and resumes non-connectable (peer
// beacon) advertising (spec §4.9).
func (s *Service) Disable() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disableLocked()
}

func (s *Service) disableLocked() error {
	if !s.enabled {
		return nil
	}
	s.stopInactivityTimerLocked()
	if err := s.host.DeregisterService(); err != nil {
		s.logger.WithError(err).Warn("bleperipheral: deregister service failed")
	}
	if err := s.host.StopAdvertising(); err != nil {
		s.logger.WithError(err).Warn("bleperipheral: stop advertising failed")
	}
	if err := s.host.StartNonConnectableAdvertising(s.beacon()); err != nil {
		s.logger.WithError(err).Warn("bleperipheral: resume beacon advertising failed")
	}
	s.enabled = false
	if err := s.bus.Notify(bus.BleServiceDisabled, nil, bus.DefaultNotifyTimeout); err != nil {
		s.logger.WithError(err).Warn("bleperipheral: notify failed")
	}
	return nil
}

func (s *Service) armInactivityTimer(d time.Duration) {
	s.stopInactivityTimerLocked()
	s.inactivityTimer = time.AfterFunc(d, func() {
		_ = s.Disable()
	})
}

func (s *Service) stopInactivityTimerLocked() {
	if s.inactivityTimer != nil {
		s.inactivityTimer.Stop()
		s.inactivityTimer = nil
	}
}

func (s *Service) resetInactivityTimer() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.enabled {
		s.armInactivityTimer(DefaultInactivityTimeout)
	}
}

// HandleConnect resets the file-transfer frame context and updates link
// parameters and preferred MTU on connection (spec §4.9: 7.5-30ms interval,
// 200ms supervision timeout).
func (s *Service) HandleConnect() {
	s.mu.Lock()
	s.frame.reset()
	s.mu.Unlock()

	if err := s.host.UpdateConnectionParams(7500*time.Microsecond, 30*time.Millisecond, 200*time.Millisecond); err != nil {
		s.logger.WithError(err).Warn("bleperipheral: update connection params failed")
	}
	if err := s.host.SetPreferredMTU(247); err != nil {
		s.logger.WithError(err).Warn("bleperipheral: set MTU failed")
	}
	if err := s.bus.Notify(bus.BleServiceConnected, nil, bus.DefaultNotifyTimeout); err != nil {
		s.logger.WithError(err).Warn("bleperipheral: notify failed")
	}
}

// HandleDisconnect resets session state and re-enables the service with a
// short reconnect window (spec §4.9).
func (s *Service) HandleDisconnect() {
	s.mu.Lock()
	s.frame.reset()
	s.game = blewire.InteractiveGameBits{}
	s.disableLocked()
	s.mu.Unlock()

	if err := s.bus.Notify(bus.BleDropped, nil, bus.DefaultNotifyTimeout); err != nil {
		s.logger.WithError(err).Warn("bleperipheral: notify failed")
	}
	if err := s.bus.Notify(bus.BleServiceDisconnected, nil, bus.DefaultNotifyTimeout); err != nil {
		s.logger.WithError(err).Warn("bleperipheral: notify failed")
	}
	_ = s.enable(ReconnectInactivityTimeout)
}

// WriteFileTransfer handles a write to the file-transfer characteristic:
// either a config frame (exactly 15 bytes) or a data frame (spec §4.9.1).
func (s *Service) WriteFileTransfer(data []byte) error {
	s.resetInactivityTimer()

	if len(data) == blewire.ConfigFrameSize {
		return s.handleConfigFrame(data)
	}
	return s.handleDataFrame(data)
}

func (s *Service) handleConfigFrame(data []byte) error {
	cfg, err := blewire.ParseConfigFrame(data)
	if err != nil {
		s.fail(err)
		return err
	}

	s.mu.Lock()
	if cfg.PairID != s.pairID() {
		s.setPairID(cfg.PairID)
	}
	if cfg.PairingTouchUp {
		s.mu.Unlock()
		return nil
	}
	s.frame.reset()
	s.frame.configProcessed = true
	s.frame.fileType = cfg.FileType
	s.frame.frameLen = cfg.FrameLen
	s.frame.expectedFrames = cfg.NumFrames + 1
	s.frame.frameReceived[0] = true
	s.mu.Unlock()
	return nil
}

func (s *Service) handleDataFrame(data []byte) error {
	df, err := blewire.ParseDataFrame(data)
	if err != nil {
		s.fail(err)
		return err
	}

	s.mu.Lock()
	if !s.frame.configProcessed || uint32(df.FrameIndex) >= blewire.MaxFrames {
		s.mu.Unlock()
		s.fail(blewire.ErrBadDataFrame)
		return blewire.ErrBadDataFrame
	}
	payloadSize := len(df.Payload)
	offset := int(df.FrameIndex-1) * (int(s.frame.frameLen) - blewire.DataHeaderSize)
	if offset < 0 || offset+payloadSize > blewire.MaxFileSize {
		s.mu.Unlock()
		s.fail(blewire.ErrBadDataFrame)
		return blewire.ErrBadDataFrame
	}
	copy(s.frame.buffer[offset:offset+payloadSize], df.Payload)
	s.frame.frameReceived[df.FrameIndex] = true
	s.frame.bytesReceived += uint32(payloadSize)

	percent := ((int(df.FrameIndex) + 1) * 100) / int(s.frame.expectedFrames)
	if percent > 100 {
		percent = 100
	}
	received := s.frame.receivedCount()
	expected := int(s.frame.expectedFrames)
	var (
		fileType blewire.FileType
		fileData []byte
	)
	complete := received == expected
	if complete {
		fileType = s.frame.fileType
		fileData = append([]byte(nil), s.frame.buffer[:s.frame.bytesReceived]...)
	}
	s.mu.Unlock()

	if err := s.bus.Notify(bus.BleFileServicePercentChanged, percent, bus.DefaultNotifyTimeout); err != nil {
		s.logger.WithError(err).Warn("bleperipheral: notify failed")
	}
	if complete {
		s.completeTransfer(fileType, fileData)
	}
	return nil
}

func (s *Service) completeTransfer(fileType blewire.FileType, data []byte) {
	var err error
	switch fileType {
	case blewire.FileTypeLedSequence:
		var slot int
		slot, err = s.files.InstallLedSequence(data)
		if err == nil {
			notifyErr := s.bus.Notify(bus.FileLedJsonReceived, slot, bus.DefaultNotifyTimeout)
			if notifyErr != nil {
				s.logger.WithError(notifyErr).Warn("bleperipheral: notify failed")
			}
		}
	case blewire.FileTypeSettings:
		err = s.files.UpdateSettings(data)
		if err == nil {
			if notifyErr := s.bus.Notify(bus.FileSettingsReceived, nil, bus.DefaultNotifyTimeout); notifyErr != nil {
				s.logger.WithError(notifyErr).Warn("bleperipheral: notify failed")
			}
		}
	case blewire.FileTypePairTest:
		if notifyErr := s.bus.Notify(bus.NewPairReceived, nil, bus.DefaultNotifyTimeout); notifyErr != nil {
			s.logger.WithError(notifyErr).Warn("bleperipheral: notify failed")
		}
	default:
		err = fmt.Errorf("bleperipheral: unknown file type %d", fileType)
	}

	s.mu.Lock()
	s.frame.reset()
	s.mu.Unlock()

	if err != nil {
		s.fail(err)
		return
	}
	if notifyErr := s.bus.Notify(bus.FileComplete, nil, bus.DefaultNotifyTimeout); notifyErr != nil {
		s.logger.WithError(notifyErr).Warn("bleperipheral: notify failed")
	}
}

func (s *Service) fail(err error) {
	s.logger.WithError(err).Warn("bleperipheral: file transfer failed")
	s.mu.Lock()
	s.frame.reset()
	s.mu.Unlock()
	if notifyErr := s.bus.Notify(bus.FileFailed, nil, bus.DefaultNotifyTimeout); notifyErr != nil {
		s.logger.WithError(notifyErr).Warn("bleperipheral: notify failed")
	}
}

// ReadFileTransfer composes the fixed read response for the file-transfer
// characteristic (spec §4.9.1).
func (s *Service) ReadFileTransfer() []byte {
	s.resetInactivityTimer()
	return s.fileTransferRead().Encode()
}

// WriteInteractiveGame handles a 2-byte write to the interactive-game
// characteristic (spec §4.9.2), toggling game mode on an active-bit edge.
func (s *Service) WriteInteractiveGame(data []byte) error {
	s.resetInactivityTimer()
	bits, err := blewire.ParseInteractiveGameBits(data)
	if err != nil {
		return err
	}

	s.mu.Lock()
	prevActive := s.game.Active
	s.game = bits
	s.mu.Unlock()

	if err := s.bus.Notify(bus.InteractiveGameAction, bits, bus.DefaultNotifyTimeout); err != nil {
		s.logger.WithError(err).Warn("bleperipheral: notify failed")
	}
	if bits.Active != prevActive && s.gameActiveChange != nil {
		s.gameActiveChange(bits.Active)
	}
	return nil
}

// ReadInteractiveGame composes the read response: local touch-active bits
// ORed with the remote active/last-failed bits (spec §4.9.2).
func (s *Service) ReadInteractiveGame() []byte {
	s.resetInactivityTimer()
	s.mu.Lock()
	remote := s.game
	s.mu.Unlock()
	resp := blewire.InteractiveGameBits{
		TouchSensorsToLight: s.localActiveBits(),
		LastFailed:          remote.LastFailed,
		Active:              remote.Active,
	}
	return resp.Encode()
}

// Run waits for ctx to end and then stops the inactivity timer. The
// service's work is entirely event/callback-driven (GATT writes, the
// inactivity timer, and bleobserver's remote wake-up), so there is no
// ticking loop.
func (s *Service) Run(ctx context.Context) {
	groutine.Go(ctx, "ble-peripheral", func(ctx context.Context) {
		<-ctx.Done()
		s.mu.Lock()
		s.stopInactivityTimerLocked()
		s.mu.Unlock()
	})
}
