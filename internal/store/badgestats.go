package store

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/joehacksalot/badgecore/internal/groutine"
)

// badgeStatsRecordSize is 11 monotonic u32 counters (spec §3).
const badgeStatsRecordSize = 11 * 4

// StatsFlushInterval matches spec §4.3: stats flush every 15 minutes.
const StatsFlushInterval = 15 * time.Minute

// BadgeStatsFile is the fixed-layout persisted counters record (spec §3).
// Every field is monotonic increment-only.
type BadgeStatsFile struct {
	NumPowerOns     uint32
	NumTouches      uint32
	NumTouchCmds    uint32
	NumLedCycles    uint32
	NumBattChecks   uint32
	NumBleEnables   uint32
	NumBleDisables  uint32
	NumBleSeqXfers  uint32
	NumBleSetXfers  uint32
	NumUartInputs   uint32
	NumNetworkTests uint32
}

// MarshalBinary encodes the record to its exact fixed-layout wire form.
func (f BadgeStatsFile) MarshalBinary() ([]byte, error) {
	return encodeFixed(badgeStatsRecordSize, func(buf *bytes.Buffer) {
		for _, v := range f.fields() {
			mustWrite(buf, v)
		}
	})
}

// UnmarshalBinary decodes a record previously produced by MarshalBinary.
func (f *BadgeStatsFile) UnmarshalBinary(data []byte) error {
	if len(data) != badgeStatsRecordSize {
		return fmt.Errorf("store: badge stats record must be %d bytes, got %d", badgeStatsRecordSize, len(data))
	}
	r := bytes.NewReader(data)
	for _, field := range []*uint32{
		&f.NumPowerOns, &f.NumTouches, &f.NumTouchCmds, &f.NumLedCycles,
		&f.NumBattChecks, &f.NumBleEnables, &f.NumBleDisables,
		&f.NumBleSeqXfers, &f.NumBleSetXfers, &f.NumUartInputs, &f.NumNetworkTests,
	} {
		if err := binary.Read(r, binary.BigEndian, field); err != nil {
			return err
		}
	}
	return nil
}

func (f BadgeStatsFile) fields() []uint32 {
	return []uint32{
		f.NumPowerOns, f.NumTouches, f.NumTouchCmds, f.NumLedCycles,
		f.NumBattChecks, f.NumBleEnables, f.NumBleDisables,
		f.NumBleSeqXfers, f.NumBleSetXfers, f.NumUartInputs, f.NumNetworkTests,
	}
}

// BadgeStats is the mutex-guarded in-memory BadgeStatsFile.
type BadgeStats struct {
	logger  *logrus.Logger
	path    string
	battery BatteryReader

	mu    sync.Mutex
	file  BadgeStatsFile
	dirty bool
}

// NewBadgeStats loads path (or writes defaults on mismatch/absence).
func NewBadgeStats(logger *logrus.Logger, path string, battery BatteryReader) *BadgeStats {
	s := &BadgeStats{logger: logger, path: path, battery: battery}
	if err := loadFile(logger, path, &s.file, badgeStatsRecordSize); err != nil {
		logger.WithError(err).Warn("badge stats: load error (already handled by defaults)")
	}
	return s
}

// Snapshot returns a copy of the current counters.
func (s *BadgeStats) Snapshot() BadgeStatsFile {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file
}

func (s *BadgeStats) increment(field *uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	*field++
	s.dirty = true
}

func (s *BadgeStats) IncrementNumPowerOns()     { s.increment(&s.file.NumPowerOns) }
func (s *BadgeStats) IncrementNumTouches()      { s.increment(&s.file.NumTouches) }
func (s *BadgeStats) IncrementNumTouchCmds()    { s.increment(&s.file.NumTouchCmds) }
func (s *BadgeStats) IncrementNumLedCycles()    { s.increment(&s.file.NumLedCycles) }
func (s *BadgeStats) IncrementNumBattChecks()   { s.increment(&s.file.NumBattChecks) }
func (s *BadgeStats) IncrementNumBleEnables()   { s.increment(&s.file.NumBleEnables) }
func (s *BadgeStats) IncrementNumBleDisables()  { s.increment(&s.file.NumBleDisables) }
func (s *BadgeStats) IncrementNumBleSeqXfers()  { s.increment(&s.file.NumBleSeqXfers) }
func (s *BadgeStats) IncrementNumBleSetXfers()  { s.increment(&s.file.NumBleSetXfers) }
func (s *BadgeStats) IncrementNumUartInputs()   { s.increment(&s.file.NumUartInputs) }
func (s *BadgeStats) IncrementNumNetworkTests() { s.increment(&s.file.NumNetworkTests) }

// RunFlushLoop launches the periodic flush task (spec §4.3, §5).
func (s *BadgeStats) RunFlushLoop(ctx context.Context) {
	groutine.Go(ctx, "stats-flush", func(ctx context.Context) {
		ticker := time.NewTicker(StatsFlushInterval)
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

// Flush performs one flush attempt.
func (s *BadgeStats) Flush() {
	flush(s.logger, &s.mu, s.path, s.battery, &s.dirty,
		func() Record {
			rec := s.file
			return &rec
		},
		func() { s.dirty = false },
	)
}
