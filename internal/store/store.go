// Package store implements the badge's persistent records: UserSettings,
// BadgeStats, and GameStatus. Each record owns a mutex, a dirty flag, and a
// battery-gated flush path that writes a fixed-layout file.
package store

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// MutexWaitTimeout bounds how long a flush waits to acquire a store's
// mutex before logging and skipping that tick (spec §4.3 step 1).
const MutexWaitTimeout = 50 * time.Millisecond

// BatteryFlushThresholdPercent is the minimum battery percent required for
// a flush to actually write to disk (spec §4.3 step 4, §8).
const BatteryFlushThresholdPercent = 10

// BatteryReader returns the most recently sampled battery percent.
type BatteryReader interface {
	Percent() int
}

// Record is a fixed-layout value that can encode/decode itself to the exact
// byte layout persisted on disk.
type Record interface {
	MarshalBinary() ([]byte, error)
	UnmarshalBinary([]byte) error
}

// errSizeMismatch describes a loaded file whose size does not match the
// record's encoded size. loadFile logs that case and writes defaults; it
// does not return this error.
var errSizeMismatch = errors.New("store: file size does not match record layout")

// tryLock attempts to acquire mu within MutexWaitTimeout, polling briefly.
// sync.Mutex has no native timed lock, so this mirrors the firmware's
// bounded-wait mutex semantics with a short poll loop.
func tryLock(mu *sync.Mutex) bool {
	deadline := time.Now().Add(MutexWaitTimeout)
	for {
		if mu.TryLock() {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(time.Millisecond)
	}
}

// loadFile reads path and decodes it into rec. On any I/O error or a size
// mismatch against want, it logs the cause, writes defaults (the zero value
// of rec, encoded) and returns the error from writing them (nil on
// success); callers should proceed with rec left at its pre-call (default)
// contents.
func loadFile(logger *logrus.Logger, path string, rec Record, want int) error {
	data, err := os.ReadFile(path)
	if err != nil {
		logger.WithError(err).WithField("path", path).Warn("store: load failed, using defaults")
		return writeDefaults(path, rec)
	}
	if len(data) != want {
		logger.WithFields(logrus.Fields{
			"path": path, "got": len(data), "want": want,
		}).Warn("store: size mismatch, using defaults")
		return writeDefaults(path, rec)
	}
	if err := rec.UnmarshalBinary(data); err != nil {
		logger.WithError(err).WithField("path", path).Warn("store: decode failed, using defaults")
		return writeDefaults(path, rec)
	}
	return nil
}

func writeDefaults(path string, rec Record) error {
	data, err := rec.MarshalBinary()
	if err != nil {
		return fmt.Errorf("store: encode defaults: %w", err)
	}
	return writeFile(path, data)
}

func writeFile(path string, data []byte) error {
	return os.WriteFile(path, data, 0o600)
}

// flush performs the bounded-mutex-wait, copy, release, battery-gate, write
// sequence shared by every persistent store (spec §4.3).
//
// flush reads *dirty with mu held and, only if it is set, calls snapshot
// (still under mu) for an encodable copy of the record. clearDirty is
// called under mu only after a successful write.
func flush(logger *logrus.Logger, mu *sync.Mutex, path string, battery BatteryReader, dirty *bool, snapshot func() Record, clearDirty func()) {
	if !tryLock(mu) {
		logger.WithField("path", path).Warn("store: flush mutex timeout, skipping tick")
		return
	}
	isDirty := *dirty
	var rec Record
	if isDirty {
		rec = snapshot()
	}
	mu.Unlock()

	if !isDirty {
		return
	}

	if battery.Percent() < BatteryFlushThresholdPercent {
		logger.WithField("path", path).Debug("store: battery below flush threshold, skipping write")
		return
	}

	data, err := rec.MarshalBinary()
	if err != nil {
		logger.WithError(err).WithField("path", path).Error("store: encode failed")
		return
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		logger.WithError(err).WithField("path", path).Error("store: write failed, dirty flag remains set")
		return
	}

	mu.Lock()
	clearDirty()
	mu.Unlock()
}

// encodeFixed writes fields to a fixed-layout big-endian buffer of the
// given total size, returning an error if the encoded length differs from
// want.
func encodeFixed(want int, write func(buf *bytes.Buffer)) ([]byte, error) {
	var buf bytes.Buffer
	write(&buf)
	if buf.Len() != want {
		return nil, fmt.Errorf("store: encoded %d bytes, want %d", buf.Len(), want)
	}
	return buf.Bytes(), nil
}

func mustWrite(buf *bytes.Buffer, v any) {
	if err := binary.Write(buf, binary.BigEndian, v); err != nil {
		panic(fmt.Sprintf("store: binary.Write failed for in-memory buffer: %v", err))
	}
}
