// Package touch implements the capacitive touch electrode sampler: raw
// delta detection for press/release, and elapsed-time classification into
// short/long/very-long presses.
package touch

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/joehacksalot/badgecore/internal/bus"
	"github.com/joehacksalot/badgecore/internal/groutine"
	"github.com/joehacksalot/badgecore/internal/timeutil"
)

// NumElectrodes is the number of capacitive touch pads on the badge.
const NumElectrodes = 9

const (
	ActiveDeltaThreshold   = 150
	SamplePeriod           = 100 * time.Millisecond
	ShortPressThreshold    = 1 * time.Second
	LongPressThreshold     = 3 * time.Second
	VeryLongPressThreshold = 5 * time.Second
	StuckReleaseThreshold  = 7 * time.Second
)

// State is an electrode's current classification.
type State int

const (
	Released State = iota
	Touched
	ShortPressed
	LongPressed
	VeryLongPressed
)

func (s State) String() string {
	switch s {
	case Released:
		return "Released"
	case Touched:
		return "Touched"
	case ShortPressed:
		return "ShortPressed"
	case LongPressed:
		return "LongPressed"
	case VeryLongPressed:
		return "VeryLongPressed"
	default:
		return "Unknown"
	}
}

// SenseAction is the payload of a TouchSenseAction event.
type SenseAction struct {
	Index int
	State State
}

// Size implements bus.Sized.
func (SenseAction) Size() int { return 16 }

// RawReader samples one electrode's raw capacitive touch value. The
// caller supplies the concrete hardware driver (out of scope per spec §1).
type RawReader func(electrodeIndex int) (uint16, error)

type electrode struct {
	state       State
	activeSince timeutil.Tick
	prevRaw     uint16
	havePrev    bool
}

// Sampler periodically reads all electrodes, classifies press/release
// transitions, and emits TouchSenseAction events (spec §4.5).
type Sampler struct {
	logger    *logrus.Logger
	bus       *bus.Bus
	clock     timeutil.Clock
	read      RawReader
	permute   func(logicalIndex int) int
	electrode [NumElectrodes]electrode

	enabled bool
}

// NewSampler creates a Sampler. permute maps a logical electrode index to
// the hardware-variant-specific physical index; pass nil for an identity
// mapping.
func NewSampler(logger *logrus.Logger, b *bus.Bus, clock timeutil.Clock, read RawReader, permute func(int) int) *Sampler {
	if permute == nil {
		permute = func(i int) int { return i }
	}
	return &Sampler{logger: logger, bus: b, clock: clock, read: read, permute: permute, enabled: true}
}

// SetEnabled records whether touch is globally enabled; it does not stop
// sampling. While touch is disabled, an electrode that has stayed
// VeryLongPressed for longer than StuckReleaseThreshold is force-released
// (anti-stick); while enabled, no force-release happens.
func (s *Sampler) SetEnabled(enabled bool) {
	s.enabled = enabled
}

// SampleOnce reads every electrode once and emits transitions.
func (s *Sampler) SampleOnce() {
	now := s.clock.Now()
	for i := 0; i < NumElectrodes; i++ {
		physical := s.permute(i)
		raw, err := s.read(physical)
		if err != nil {
			s.logger.WithError(err).WithField("electrode", i).Warn("touch: read failed")
			continue
		}
		s.sampleElectrode(i, raw, now)
	}
}

func (s *Sampler) sampleElectrode(i int, raw uint16, now timeutil.Tick) {
	e := &s.electrode[i]
	delta := 0
	if e.havePrev {
		delta = int(raw) - int(e.prevRaw)
	}
	e.prevRaw = raw
	e.havePrev = true

	if abs(delta) > ActiveDeltaThreshold {
		if delta < 0 {
			if e.state == Released {
				s.transition(i, Touched, now)
			}
		} else {
			if e.state != Released {
				s.transition(i, Released, now)
			}
		}
		return
	}

	if e.state == Released {
		return
	}
	elapsed := time.Duration(now-e.activeSince) * time.Millisecond

	switch {
	case e.state == Touched && elapsed > ShortPressThreshold:
		s.transition(i, ShortPressed, now)
	case e.state == ShortPressed && elapsed > LongPressThreshold:
		s.transition(i, LongPressed, now)
	case e.state == LongPressed && elapsed > VeryLongPressThreshold:
		s.transition(i, VeryLongPressed, now)
	case e.state == VeryLongPressed && elapsed > StuckReleaseThreshold && !s.enabled:
		s.transition(i, Released, now)
	}
}

func (s *Sampler) transition(i int, next State, now timeutil.Tick) {
	s.electrode[i].state = next
	s.electrode[i].activeSince = now
	if err := s.bus.Notify(bus.TouchSenseAction, SenseAction{Index: i, State: next}, bus.DefaultNotifyTimeout); err != nil {
		s.logger.WithError(err).WithField("electrode", i).Warn("touch: notify failed")
	}
}

// State returns electrode i's current classification.
func (s *Sampler) State(i int) State {
	return s.electrode[i].state
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// Run launches the periodic sampling task (spec §4.5, §5).
func (s *Sampler) Run(ctx context.Context) {
	groutine.Go(ctx, "touch-sampler", func(ctx context.Context) {
		ticker := time.NewTicker(SamplePeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.SampleOnce()
			}
		}
	})
}
