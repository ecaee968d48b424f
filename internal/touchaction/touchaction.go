// Package touchaction maps per-electrode touch classifications into
// high-level gesture commands, gated by a clear-required flag so a
// recognized gesture must be followed by an all-released touch state
// before another gesture can fire.
package touchaction

import (
	"github.com/sirupsen/logrus"

	"github.com/joehacksalot/badgecore/internal/bus"
	"github.com/joehacksalot/badgecore/internal/touch"
)

// Command is a high-level gesture command (spec §4.6).
type Command int

const (
	Unknown Command = iota
	Clear
	EnableTouch
	DisableTouch
	NextLedSequence
	PrevLedSequence
	DisplayVoltageMeter
	EnableBlePairing
	DisableBlePairing
	ToggleSynthMode
	NetworkTest
)

func (c Command) String() string {
	switch c {
	case Clear:
		return "Clear"
	case EnableTouch:
		return "EnableTouch"
	case DisableTouch:
		return "DisableTouch"
	case NextLedSequence:
		return "NextLedSequence"
	case PrevLedSequence:
		return "PrevLedSequence"
	case DisplayVoltageMeter:
		return "DisplayVoltageMeter"
	case EnableBlePairing:
		return "EnableBlePairing"
	case DisableBlePairing:
		return "DisableBlePairing"
	case ToggleSynthMode:
		return "ToggleSynthMode"
	case NetworkTest:
		return "NetworkTest"
	default:
		return "Unknown"
	}
}

// Size implements bus.Sized.
func (Command) Size() int { return 8 }

// ElectrodeMatch constrains one electrode's state for a Pattern. A zero
// value matches any state (don't-care).
type ElectrodeMatch struct {
	Care   bool
	Negate bool
	State  touch.State
}

// Pattern maps an exact (or negated) per-electrode state vector to a
// command. Patterns are hardware-variant specific (spec §4.6).
type Pattern struct {
	Command   Command
	Electrode [touch.NumElectrodes]ElectrodeMatch
}

func (p Pattern) matches(states [touch.NumElectrodes]touch.State) bool {
	for i, m := range p.Electrode {
		if !m.Care {
			continue
		}
		equal := states[i] == m.State
		if m.Negate {
			equal = !equal
		}
		if !equal {
			return false
		}
	}
	return true
}

// Processor tracks the last-seen classification per electrode and emits at
// most one TouchActionCmd event per recognized gesture transition.
type Processor struct {
	logger   *logrus.Logger
	bus      *bus.Bus
	patterns []Pattern

	states        [touch.NumElectrodes]touch.State
	clearRequired bool
	lastCommand   Command
}

// NewProcessor creates a Processor over the given hardware-variant pattern
// table.
func NewProcessor(logger *logrus.Logger, b *bus.Bus, patterns []Pattern) *Processor {
	return &Processor{logger: logger, bus: b, patterns: patterns}
}

// HandleTouchSenseAction updates the tracked state for one electrode and
// re-evaluates the pattern table.
func (p *Processor) HandleTouchSenseAction(a touch.SenseAction) {
	p.states[a.Index] = a.State
	p.evaluate()
}

func (p *Processor) allReleased() bool {
	for _, s := range p.states {
		if s != touch.Released {
			return false
		}
	}
	return true
}

func (p *Processor) evaluate() {
	var matched Command
	if p.allReleased() {
		matched = Clear
	} else if !p.clearRequired {
		for _, pattern := range p.patterns {
			if pattern.matches(p.states) {
				matched = pattern.Command
				break
			}
		}
	}

	if matched == Unknown || matched == p.lastCommand {
		return
	}

	if matched == Clear {
		p.clearRequired = false
	} else {
		p.clearRequired = true
	}
	p.lastCommand = matched

	if err := p.bus.Notify(bus.TouchActionCmd, matched, bus.DefaultNotifyTimeout); err != nil {
		p.logger.WithError(err).WithField("command", matched).Warn("touchaction: notify failed")
	}
}
