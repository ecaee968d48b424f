// Package battery samples the badge's battery ADC channel and exposes a
// mutex-guarded last-known percentage.
package battery

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/joehacksalot/badgecore/internal/groutine"
)

const (
	// SampleCount is the number of raw ADC readings averaged per sample
	// (spec §4.4).
	SampleCount = 64

	// SampleInterval is how often the sampler task runs (spec §4.4, §5).
	SampleInterval = 5 * time.Second

	// MutexWaitTimeout bounds how long GetBatteryPercent waits for the
	// mutex before returning -1 (spec §4.4).
	MutexWaitTimeout = 50 * time.Millisecond

	minVolts = 3.0
	maxVolts = 4.18
	divider  = 2.0
)

// Reader samples one raw ADC reading. The caller supplies the concrete
// hardware driver; the ADC itself is out of scope for this core (spec §1).
type Reader func() (raw uint16, err error)

// RawToMilliVolts converts one raw ADC reading to calibrated millivolts.
// The concrete calibration curve is hardware-specific and supplied by the
// caller.
type RawToMilliVolts func(raw uint16) int

// Sensor periodically samples the battery ADC and exposes the last
// computed percentage.
type Sensor struct {
	logger    *logrus.Logger
	read      Reader
	calibrate RawToMilliVolts

	mu      sync.Mutex
	percent int
}

// New creates a Sensor. calibrate may be nil, in which case raw readings
// are treated as already being in millivolts (useful for tests and
// simulators).
func New(logger *logrus.Logger, read Reader, calibrate RawToMilliVolts) *Sensor {
	if calibrate == nil {
		calibrate = func(raw uint16) int { return int(raw) }
	}
	return &Sensor{logger: logger, read: read, calibrate: calibrate}
}

// Percent returns the last computed battery percentage in [0, 100], or -1
// if the mutex could not be acquired within MutexWaitTimeout.
func (s *Sensor) Percent() int {
	done := make(chan int, 1)
	go func() {
		s.mu.Lock()
		done <- s.percent
		s.mu.Unlock()
	}()
	select {
	case p := <-done:
		return p
	case <-time.After(MutexWaitTimeout):
		s.logger.Warn("battery: failed to take percent mutex within 50ms")
		return -1
	}
}

// sampleOnce averages SampleCount raw readings, converts to volts, and
// updates the cached percent.
func (s *Sensor) sampleOnce() {
	var sum int
	for i := 0; i < SampleCount; i++ {
		raw, err := s.read()
		if err != nil {
			s.logger.WithError(err).Warn("battery: ADC read failed")
			return
		}
		sum += s.calibrate(raw)
	}
	milliVolts := sum / SampleCount
	volts := float64(milliVolts) / 1000.0 * divider

	if volts > maxVolts {
		volts = maxVolts
	}
	pct := (volts - minVolts) * 100.0 / (maxVolts - minVolts)
	if pct < 0 {
		pct = 0
	}

	s.mu.Lock()
	s.percent = int(pct)
	s.mu.Unlock()
}

// Run launches the periodic sampler task (spec §4.4, §5).
func (s *Sensor) Run(ctx context.Context) {
	groutine.Go(ctx, "battery-sensor", func(ctx context.Context) {
		ticker := time.NewTicker(SampleInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.sampleOnce()
			}
		}
	})
}
