package store

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
	"github.com/sirupsen/logrus"

	"github.com/joehacksalot/badgecore/internal/groutine"
	"github.com/joehacksalot/badgecore/internal/identity"
)

const (
	maxSSIDLength     = 32
	maxPasswordLength = 64

	// userSettingsRecordSize is the exact on-disk layout size: u32 + u8 +
	// u8 + 8 + 32 + 64 + u8.
	userSettingsRecordSize = 4 + 1 + 1 + identity.IDLen + maxSSIDLength + maxPasswordLength + 1

	// SettingsFlushInterval matches spec §4.3: settings flush every 60s.
	SettingsFlushInterval = 60 * time.Second
)

// WifiSettings holds the compiled/stored Wi-Fi credentials, fixed-width on
// disk so the record's size never depends on string content.
type WifiSettings struct {
	SSID     string
	Password string
}

// UserSettingsFile is the fixed-layout persisted record (spec §3).
type UserSettingsFile struct {
	SelectedLedSequenceIndex uint32
	SoundEnabled             bool
	VibrationEnabled         bool
	PairID                   identity.ID
	Wifi                     WifiSettings
	Reserved                 uint8
}

// MarshalBinary encodes the record to its exact fixed-layout wire form.
func (f UserSettingsFile) MarshalBinary() ([]byte, error) {
	return encodeFixed(userSettingsRecordSize, func(buf *bytes.Buffer) {
		mustWrite(buf, f.SelectedLedSequenceIndex)
		mustWrite(buf, boolToByte(f.SoundEnabled))
		mustWrite(buf, boolToByte(f.VibrationEnabled))
		buf.Write(f.PairID[:])
		buf.Write(fixedWidth(f.Wifi.SSID, maxSSIDLength))
		buf.Write(fixedWidth(f.Wifi.Password, maxPasswordLength))
		mustWrite(buf, f.Reserved)
	})
}

// UnmarshalBinary decodes a record previously produced by MarshalBinary.
func (f *UserSettingsFile) UnmarshalBinary(data []byte) error {
	if len(data) != userSettingsRecordSize {
		return fmt.Errorf("store: user settings record must be %d bytes, got %d", userSettingsRecordSize, len(data))
	}
	r := bytes.NewReader(data)
	if err := binary.Read(r, binary.BigEndian, &f.SelectedLedSequenceIndex); err != nil {
		return err
	}
	var soundByte, vibByte uint8
	if err := binary.Read(r, binary.BigEndian, &soundByte); err != nil {
		return err
	}
	if err := binary.Read(r, binary.BigEndian, &vibByte); err != nil {
		return err
	}
	f.SoundEnabled = soundByte != 0
	f.VibrationEnabled = vibByte != 0
	if _, err := r.Read(f.PairID[:]); err != nil {
		return err
	}
	ssid := make([]byte, maxSSIDLength)
	if _, err := r.Read(ssid); err != nil {
		return err
	}
	pass := make([]byte, maxPasswordLength)
	if _, err := r.Read(pass); err != nil {
		return err
	}
	f.Wifi.SSID = trimZero(ssid)
	f.Wifi.Password = trimZero(pass)
	return binary.Read(r, binary.BigEndian, &f.Reserved)
}

func boolToByte(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}

func fixedWidth(s string, width int) []byte {
	out := make([]byte, width)
	copy(out, s)
	return out
}

func trimZero(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

// settingsUpdate is the JSON shape accepted by UpdateFromJSON (spec §4.3).
// Unknown fields are ignored by the decoder; absent fields leave the
// corresponding setting untouched.
type settingsUpdate struct {
	VibrationEnabled *bool   `json:"vibrations"`
	SoundEnabled     *bool   `json:"sounds"`
	SSID             *string `json:"ssid" validate:"omitempty,max=32"`
	Password         *string `json:"pass" validate:"omitempty,max=64"`
}

// UserSettings is the mutex-guarded in-memory UserSettingsFile plus the
// derived badge identity cached alongside it.
type UserSettings struct {
	logger  *logrus.Logger
	path    string
	battery BatteryReader
	validate *validator.Validate

	mu    sync.Mutex
	file  UserSettingsFile
	dirty bool

	badgeID identity.ID
	key     identity.ID
}

// NewUserSettings loads path (or writes defaults on mismatch/absence) and
// returns a ready-to-use UserSettings store.
func NewUserSettings(logger *logrus.Logger, path string, battery BatteryReader, badgeID, key identity.ID) *UserSettings {
	s := &UserSettings{
		logger:   logger,
		path:     path,
		battery:  battery,
		validate: validator.New(),
		badgeID:  badgeID,
		key:      key,
	}
	if err := loadFile(logger, path, &s.file, userSettingsRecordSize); err != nil {
		logger.WithError(err).Warn("user settings: load error (already handled by defaults)")
	}
	return s
}

// BadgeID returns the badge's derived identifier.
func (s *UserSettings) BadgeID() identity.ID { return s.badgeID }

// Key returns the badge's derived key.
func (s *UserSettings) Key() identity.ID { return s.key }

// Snapshot returns a copy of the current settings.
func (s *UserSettings) Snapshot() UserSettingsFile {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file
}

// SetSelectedIndex updates the selected LED sequence index and marks the
// record dirty.
func (s *UserSettings) SetSelectedIndex(index uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.file.SelectedLedSequenceIndex = index
	s.dirty = true
}

// SetPairID updates the stored pair id and marks the record dirty.
func (s *UserSettings) SetPairID(pairID identity.ID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.file.PairID = pairID
	s.dirty = true
}

// IsDirty reports whether the in-memory record has unflushed changes.
func (s *UserSettings) IsDirty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dirty
}

// UpdateFromJSON applies a settings-update JSON document and writes the
// record to disk immediately (bypassing the dirty-flag flush path, per
// spec §4.3). Oversize ssid/pass values are rejected rather than
// truncated (spec §9 Open Question 3).
func (s *UserSettings) UpdateFromJSON(data []byte) error {
	var update settingsUpdate
	if err := json.Unmarshal(data, &update); err != nil {
		return fmt.Errorf("store: settings update decode: %w", err)
	}
	if err := s.validate.Struct(update); err != nil {
		return fmt.Errorf("store: settings update validation: %w", err)
	}

	s.mu.Lock()
	if update.VibrationEnabled != nil {
		s.file.VibrationEnabled = *update.VibrationEnabled
	}
	if update.SoundEnabled != nil {
		s.file.SoundEnabled = *update.SoundEnabled
	}
	if update.SSID != nil {
		s.file.Wifi.SSID = *update.SSID
	}
	if update.Password != nil {
		s.file.Wifi.Password = *update.Password
	}
	rec := s.file
	s.mu.Unlock()

	data, err := rec.MarshalBinary()
	if err != nil {
		return fmt.Errorf("store: settings update encode: %w", err)
	}
	return writeFile(s.path, data)
}

// RunFlushLoop launches the periodic flush task (spec §4.3, §5).
func (s *UserSettings) RunFlushLoop(ctx context.Context) {
	groutine.Go(ctx, "settings-flush", func(ctx context.Context) {
		ticker := time.NewTicker(SettingsFlushInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.Flush()
			}
		}
	})
}

// Flush performs one flush attempt (exposed so tests can trigger it
// deterministically).
func (s *UserSettings) Flush() {
	flush(s.logger, &s.mu, s.path, s.battery, &s.dirty,
		func() Record {
			rec := s.file
			return &rec
		},
		func() { s.dirty = false },
	)
}
