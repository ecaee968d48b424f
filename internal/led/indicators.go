package led

import (
	"time"

	"github.com/joehacksalot/badgecore/internal/timeutil"
	"github.com/joehacksalot/badgecore/internal/touch"
)

var (
	batteryGreatColor = Color{R: 0, G: 0, B: 200, I: 100}
	batteryGoodColor  = Color{R: 0, G: 200, B: 0, I: 100}
	batteryWarnColor  = Color{R: 211, G: 117, B: 6, I: 100}
	batteryBadColor   = Color{R: 200, G: 0, B: 0, I: 100}
)

// batteryColorForPercent picks the battery indicator's band color (spec
// §4.13, grounded on LedControl.c's >=90/>=50/>=25/else ladder).
func batteryColorForPercent(percent int) Color {
	switch {
	case percent >= 90:
		return batteryGreatColor
	case percent >= 50:
		return batteryGoodColor
	case percent >= 25:
		return batteryWarnColor
	default:
		return batteryBadColor
	}
}

// BatteryIndicator fills the two rings incrementally over a hold duration,
// color-banded by percent (spec §4.13).
type BatteryIndicator struct {
	geometry     Geometry
	percent      func() int
	holdMs       uint32
	startedAt    timeutil.Tick
	started      bool
	lastPercent  int
	lastOuterLit int
	lastInnerLit int
}

// NewBatteryIndicator creates a BatteryIndicator. percent is polled on
// every Render while the indicator is active.
func NewBatteryIndicator(geometry Geometry, percent func() int, holdMs uint32) *BatteryIndicator {
	return &BatteryIndicator{geometry: geometry, percent: percent, holdMs: holdMs}
}

// Activate (re)starts the fill animation at the current tick.
func (b *BatteryIndicator) Activate(now timeutil.Tick) {
	b.startedAt = now
	b.started = true
	b.lastPercent = -1
	b.lastOuterLit = -1
	b.lastInnerLit = -1
}

// Render implements Handler.
func (b *BatteryIndicator) Render(now timeutil.Tick, pixels []Color) bool {
	if !b.started {
		return false
	}
	percent := b.percent()
	elapsed := int64(now - b.startedAt)
	if elapsed < 0 {
		elapsed = 0
	}
	frac := float64(elapsed) / float64(b.holdMs)
	if frac > 1 {
		frac = 1
	}

	color := batteryColorForPercent(percent)
	outerLit := int(frac * float64(b.geometry.OuterRingCount))
	innerLit := int(frac * float64(b.geometry.InnerRingCount))

	if percent == b.lastPercent && outerLit == b.lastOuterLit && innerLit == b.lastInnerLit {
		return false
	}
	b.lastPercent = percent
	b.lastOuterLit = outerLit
	b.lastInnerLit = innerLit

	setRange(pixels, b.geometry.OuterRingOffset, b.geometry.OuterRingOffset+b.geometry.OuterRingCount-1, Color{})
	setRange(pixels, b.geometry.InnerRingOffset, b.geometry.InnerRingOffset+b.geometry.InnerRingCount-1, Color{})
	if outerLit > 0 {
		setRange(pixels, b.geometry.OuterRingOffset, b.geometry.OuterRingOffset+outerLit-1, color)
	}
	if innerLit > 0 {
		setRange(pixels, b.geometry.InnerRingOffset, b.geometry.InnerRingOffset+innerLit-1, color)
	}
	return true
}

// BleXferPercent fills the rings proportional to the last reported
// BLE-file-transfer percent, refreshing only on change (spec §4.13).
type BleXferPercent struct {
	geometry       Geometry
	color          Color
	percentComplete uint32
	prevPercent     uint32
	dirty           bool
}

// NewBleXferPercent creates a BleXferPercent indicator.
func NewBleXferPercent(geometry Geometry, color Color) *BleXferPercent {
	return &BleXferPercent{geometry: geometry, color: color, prevPercent: 0xFFFFFFFF}
}

// SetPercent updates the displayed transfer percent.
func (x *BleXferPercent) SetPercent(percent uint32) {
	x.percentComplete = percent
	x.dirty = true
}

// Render implements Handler.
func (x *BleXferPercent) Render(now timeutil.Tick, pixels []Color) bool {
	if !x.dirty && x.percentComplete == x.prevPercent {
		return false
	}
	x.dirty = false
	x.prevPercent = x.percentComplete

	lit := int(float64(x.percentComplete) / 100.0 * float64(x.geometry.OuterRingCount+x.geometry.InnerRingCount))
	setRange(pixels, x.geometry.OuterRingOffset, x.geometry.OuterRingOffset+x.geometry.OuterRingCount-1, Color{})
	setRange(pixels, x.geometry.InnerRingOffset, x.geometry.InnerRingOffset+x.geometry.InnerRingCount-1, Color{})

	total := x.geometry.OuterRingCount + x.geometry.InnerRingCount
	if lit > total {
		lit = total
	}
	if lit <= x.geometry.OuterRingCount {
		if lit > 0 {
			setRange(pixels, x.geometry.OuterRingOffset, x.geometry.OuterRingOffset+lit-1, x.color)
		}
	} else {
		setRange(pixels, x.geometry.OuterRingOffset, x.geometry.OuterRingOffset+x.geometry.OuterRingCount-1, x.color)
		innerLit := lit - x.geometry.OuterRingCount
		setRange(pixels, x.geometry.InnerRingOffset, x.geometry.InnerRingOffset+innerLit-1, x.color)
	}
	return true
}

// StatusIndicator rotates a colored sliding window around a ring at a
// configured revolutions/second; BLE-enabled/connected/reconnecting and
// OTA indicators are all instances of this shared engine (spec §4.13).
type StatusIndicator struct {
	ringOffset, ringCount int
	windowWidth           int
	color                 Color
	revolutionsPerSecond  float64
	updatePeriod          time.Duration

	position   int
	nextDrawAt timeutil.Tick
	started    bool
}

// NewStatusIndicator creates a rotation-engine indicator over one ring.
func NewStatusIndicator(ringOffset, ringCount, windowWidth int, color Color, revolutionsPerSecond float64, updatePeriod time.Duration) *StatusIndicator {
	return &StatusIndicator{
		ringOffset: ringOffset, ringCount: ringCount, windowWidth: windowWidth,
		color: color, revolutionsPerSecond: revolutionsPerSecond, updatePeriod: updatePeriod,
	}
}

// Render implements Handler.
func (s *StatusIndicator) Render(now timeutil.Tick, pixels []Color) bool {
	if !s.started {
		s.started = true
		s.nextDrawAt = now
	}
	if timeutil.Expired(now, s.nextDrawAt) {
		s.nextDrawAt = timeutil.Future(now, s.updatePeriod.Milliseconds())
	} else {
		return false
	}

	ticksPerRevolution := (1000.0 / float64(s.updatePeriod.Milliseconds())) / s.revolutionsPerSecond
	if ticksPerRevolution < 1 {
		ticksPerRevolution = 1
	}
	advance := s.ringCount / int(ticksPerRevolution)
	if advance < 1 {
		advance = 1
	}
	s.position = (s.position + advance) % s.ringCount

	setRange(pixels, s.ringOffset, s.ringOffset+s.ringCount-1, Color{})
	for i := 0; i < s.windowWidth; i++ {
		idx := s.ringOffset + (s.position+i)%s.ringCount
		pixels[idx] = s.color
	}
	return true
}

// GameEvent rotates the outer ring through the event color at four
// equally-spaced positions and pulses the inner ring's intensity at a
// rate that grows with (1 - msRemaining/maxEventMs), so the pulse speeds
// up as the event nears its end (spec §4.13).
type GameEvent struct {
	geometry   Geometry
	color      Color
	maxEventMs uint32
	minPulses  float64
	maxPulses  float64

	msRemaining func() uint32
	position    int
	intensity   float64
	direction   int8
	nextDrawAt  timeutil.Tick
	started     bool
}

// NewGameEvent creates a GameEvent handler. msRemaining reports the
// current event's remaining duration in milliseconds.
func NewGameEvent(geometry Geometry, color Color, maxEventMs uint32, minPulses, maxPulses float64, msRemaining func() uint32) *GameEvent {
	return &GameEvent{geometry: geometry, color: color, maxEventMs: maxEventMs, minPulses: minPulses, maxPulses: maxPulses, msRemaining: msRemaining, direction: 1}
}

// Render implements Handler.
func (g *GameEvent) Render(now timeutil.Tick, pixels []Color) bool {
	const period = 100 * time.Millisecond
	if !g.started {
		g.started = true
		g.nextDrawAt = now
		g.intensity = g.minPulses
	}
	if !timeutil.Expired(now, g.nextDrawAt) {
		return false
	}
	g.nextDrawAt = timeutil.Future(now, period.Milliseconds())

	remaining := g.msRemaining()
	frac := 1.0
	if g.maxEventMs > 0 {
		frac = 1.0 - float64(remaining)/float64(g.maxEventMs)
	}
	pulseRate := g.minPulses + frac*(g.maxPulses-g.minPulses)
	step := pulseRate * period.Seconds() * (g.maxPulses - g.minPulses)
	g.intensity += float64(g.direction) * step
	if g.intensity >= g.maxPulses {
		g.intensity = g.maxPulses
		g.direction = -1
	} else if g.intensity <= g.minPulses {
		g.intensity = g.minPulses
		g.direction = 1
	}

	setRange(pixels, g.geometry.OuterRingOffset, g.geometry.OuterRingOffset+g.geometry.OuterRingCount-1, Color{})
	step4 := g.geometry.OuterRingCount / 4
	for k := 0; k < 4; k++ {
		idx := g.geometry.OuterRingOffset + (k*step4+g.position)%g.geometry.OuterRingCount
		pixels[idx] = g.color
	}
	g.position = (g.position + 1) % g.geometry.OuterRingCount

	innerColor := g.color
	innerColor.I = uint8(clampPercent(g.intensity))
	setRange(pixels, g.geometry.InnerRingOffset, g.geometry.InnerRingOffset+g.geometry.InnerRingCount-1, innerColor)
	return true
}

func clampPercent(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

var (
	touchTouchedColor    = Color{R: 0, G: 0, B: 128, I: 100}
	touchShortColor      = Color{R: 0, G: 0, B: 255, I: 100}
	touchLongColor       = Color{R: 0, G: 255, B: 255, I: 100}
	touchVeryLongColor   = Color{R: 255, G: 255, B: 255, I: 100}
)

// TouchMode paints each electrode's LED group with a color indexed by its
// current classification (spec §4.13).
type TouchMode struct {
	groups [touch.NumElectrodes][2]int // inclusive [lo, hi] pixel range per electrode
	state  func(int) touch.State
}

// NewTouchMode creates a TouchMode handler over a per-electrode pixel-range
// table and a state accessor (normally touch.Sampler.State).
func NewTouchMode(groups [touch.NumElectrodes][2]int, state func(int) touch.State) *TouchMode {
	return &TouchMode{groups: groups, state: state}
}

// Render implements Handler.
func (t *TouchMode) Render(now timeutil.Tick, pixels []Color) bool {
	changed := false
	for i := 0; i < touch.NumElectrodes; i++ {
		var color Color
		switch t.state(i) {
		case touch.Touched:
			color = touchTouchedColor
		case touch.ShortPressed:
			color = touchShortColor
		case touch.LongPressed:
			color = touchLongColor
		case touch.VeryLongPressed:
			color = touchVeryLongColor
		default:
			color = Color{}
		}
		lo, hi := t.groups[i][0], t.groups[i][1]
		for p := lo; p <= hi && p < len(pixels); p++ {
			if pixels[p] != color {
				changed = true
			}
			pixels[p] = color
		}
	}
	return changed
}

// OffHandler clears the strip once, then goes idle (spec §4.13).
type OffHandler struct {
	cleared bool
}

// NewOffHandler creates an OffHandler.
func NewOffHandler() *OffHandler {
	return &OffHandler{}
}

// Render implements Handler.
func (o *OffHandler) Render(now timeutil.Tick, pixels []Color) bool {
	if o.cleared {
		return false
	}
	setRange(pixels, 0, len(pixels)-1, Color{})
	o.cleared = true
	return true
}

// Reset re-arms the OffHandler to clear again next render.
func (o *OffHandler) Reset() {
	o.cleared = false
}
