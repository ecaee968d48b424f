package store

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

// EventColor enumerates the stone/event colors (spec §3).
type EventColor uint8

const (
	ColorRed EventColor = iota
	ColorYellow
	ColorGreen
	ColorCyan
	ColorBlue
	ColorMagenta
)

const eventIDB64Len = 13

// gameStatusRecordSize: stone_bits(1) + song_unlocked_bits(2) +
// event_id_b64(13) + color(1) + power_level(1) + ms_remaining(4).
const gameStatusRecordSize = 1 + 2 + eventIDB64Len + 1 + 1 + 4

// EventStatus is the currently-known event state (spec §3).
type EventStatus struct {
	EventIDB64  string
	Color       EventColor
	PowerLevel  uint8
	MsRemaining uint32
}

// GameStatusData is the fixed-layout persisted game status record.
type GameStatusData struct {
	StoneBits        uint8
	SongUnlockedBits uint16
	Event            EventStatus
}

// MarshalBinary encodes the record to its exact fixed-layout wire form.
func (f GameStatusData) MarshalBinary() ([]byte, error) {
	return encodeFixed(gameStatusRecordSize, func(buf *bytes.Buffer) {
		mustWrite(buf, f.StoneBits)
		mustWrite(buf, f.SongUnlockedBits)
		buf.Write(fixedWidth(f.Event.EventIDB64, eventIDB64Len))
		mustWrite(buf, uint8(f.Event.Color))
		mustWrite(buf, f.Event.PowerLevel)
		mustWrite(buf, f.Event.MsRemaining)
	})
}

// UnmarshalBinary decodes a record previously produced by MarshalBinary.
func (f *GameStatusData) UnmarshalBinary(data []byte) error {
	if len(data) != gameStatusRecordSize {
		return fmt.Errorf("store: game status record must be %d bytes, got %d", gameStatusRecordSize, len(data))
	}
	r := bytes.NewReader(data)
	if err := binary.Read(r, binary.BigEndian, &f.StoneBits); err != nil {
		return err
	}
	if err := binary.Read(r, binary.BigEndian, &f.SongUnlockedBits); err != nil {
		return err
	}
	eventID := make([]byte, eventIDB64Len)
	if _, err := r.Read(eventID); err != nil {
		return err
	}
	f.Event.EventIDB64 = trimZero(eventID)
	var color uint8
	if err := binary.Read(r, binary.BigEndian, &color); err != nil {
		return err
	}
	f.Event.Color = EventColor(color)
	if err := binary.Read(r, binary.BigEndian, &f.Event.PowerLevel); err != nil {
		return err
	}
	return binary.Read(r, binary.BigEndian, &f.Event.MsRemaining)
}

// InEvent reports whether the badge currently belongs to a non-blank event.
func (f GameStatusData) InEvent() bool {
	return f.Event.EventIDB64 != ""
}

// GameStatus is the mutex-guarded in-memory GameStatusData.
type GameStatus struct {
	logger  *logrus.Logger
	path    string
	battery BatteryReader

	mu    sync.Mutex
	file  GameStatusData
	dirty bool
}

// NewGameStatus loads path (or writes defaults on mismatch/absence).
func NewGameStatus(logger *logrus.Logger, path string, battery BatteryReader) *GameStatus {
	s := &GameStatus{logger: logger, path: path, battery: battery}
	if err := loadFile(logger, path, &s.file, gameStatusRecordSize); err != nil {
		logger.WithError(err).Warn("game status: load error (already handled by defaults)")
	}
	return s
}

// Snapshot returns a copy of the current game status.
func (s *GameStatus) Snapshot() GameStatusData {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file
}

// SetSongUnlocked sets bit songIndex (0-based) in SongUnlockedBits if not
// already set. It reports whether the bit was newly set (false if it was
// already set, matching the idempotence requirement in spec §8).
func (s *GameStatus) SetSongUnlocked(songIndex uint) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	mask := uint16(1) << songIndex
	if s.file.SongUnlockedBits&mask != 0 {
		return false
	}
	s.file.SongUnlockedBits |= mask
	s.dirty = true
	return true
}

// SetStoneBit sets bit colorIndex in StoneBits.
func (s *GameStatus) SetStoneBit(colorIndex uint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.file.StoneBits |= 1 << colorIndex
	s.dirty = true
}

// ApplyResponse compares candidate to the current status and, if it
// differs, replaces it and marks the record dirty. It returns the previous
// and new InEvent() state so the caller can decide whether to emit
// GameEventJoined/GameEventEnded (spec §4.10). Applying the same response
// twice in a row is a no-op the second time (spec §8 idempotence).
func (s *GameStatus) ApplyResponse(candidate GameStatusData) (wasInEvent, nowInEvent bool, changed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	wasInEvent = s.file.InEvent()
	if s.file == candidate {
		return wasInEvent, wasInEvent, false
	}
	s.file = candidate
	s.dirty = true
	return wasInEvent, candidate.InEvent(), true
}

// Flush performs one battery-gated flush attempt.
func (s *GameStatus) Flush() {
	flush(s.logger, &s.mu, s.path, s.battery, &s.dirty,
		func() Record {
			rec := s.file
			return &rec
		},
		func() { s.dirty = false },
	)
}
