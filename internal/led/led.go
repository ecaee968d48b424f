// Package led implements the badge's LED render pipeline: a 50ms render
// tick that dispatches to the current mode's handler, which updates pixel
// state and flags the strip for a flush (spec §4.13).
package led

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/joehacksalot/badgecore/internal/bus"
	"github.com/joehacksalot/badgecore/internal/groutine"
	"github.com/joehacksalot/badgecore/internal/timeutil"
)

// RenderPeriod is the render tick interval (spec §4.13, §5).
const RenderPeriod = 50 * time.Millisecond

// BrightnessNormal is the global brightness scalar applied on top of each
// pixel's own intensity (spec §4.13's "(i/100) · (BRIGHTNESS_NORMAL/255)").
// Not specified numerically in the source material; chosen to leave
// meaningful headroom above strip saturation. See DESIGN.md Open Questions.
const BrightnessNormal = 180

// Mode selects which handler the render loop runs each tick.
type Mode int

const (
	ModeOff Mode = iota
	ModeSequence
	ModeTouch
	ModeBattery
	ModeGameEvent
	ModeGameStatus
	ModeBleXferEnabled
	ModeBleXferConnected
	ModeStatusIndicator
	ModeBleXferPercent
	ModeNetworkTest
	ModeBleReconnecting
	ModeInteractiveGame
	ModeSong
	ModeOtaDownload
)

// Color is an RGB triple plus a 0-100 intensity scalar, matching the
// firmware's color_t (spec §4.13, §6's pixel JSON schema).
type Color struct {
	R, G, B uint8
	I       uint8 // 0..100
}

// Scaled returns the color after applying its own intensity and the global
// brightness scalar.
func (c Color) Scaled() Color {
	scale := (float64(c.I) / 100.0) * (float64(BrightnessNormal) / 255.0)
	return Color{
		R: scaleByte(c.R, scale),
		G: scaleByte(c.G, scale),
		B: scaleByte(c.B, scale),
		I: c.I,
	}
}

func scaleByte(v uint8, scale float64) uint8 {
	scaled := float64(v) * scale
	if scaled < 0 {
		return 0
	}
	if scaled > 255 {
		return 255
	}
	return uint8(scaled)
}

// Geometry describes a hardware variant's ring layout: a strip of
// StripLen pixels with a contiguous inner-ring run and a contiguous
// outer-ring run (spec §4.13's "per-hardware-variant permutation table").
type Geometry struct {
	StripLen        int
	InnerRingOffset int
	InnerRingCount  int
	OuterRingOffset int
	OuterRingCount  int
}

// TronGeometry, ReactorGeometry, CrestGeometry mirror the three hardware
// variants' #define blocks in LedControl.h.
var (
	TronGeometry    = Geometry{StripLen: 77, OuterRingOffset: 27, OuterRingCount: 50, InnerRingOffset: 0, InnerRingCount: 27}
	ReactorGeometry = Geometry{StripLen: 48, OuterRingOffset: 24, OuterRingCount: 24, InnerRingOffset: 0, InnerRingCount: 24}
	CrestGeometry   = Geometry{StripLen: 59, OuterRingOffset: 6, OuterRingCount: 53, InnerRingOffset: 0, InnerRingCount: 6}
)

// StripWriter pushes a full pixel buffer to the physical LED strip driver
// (out of scope per spec §1; supplied by the caller).
type StripWriter interface {
	WriteAll(pixels []Color) error
}

// Handler renders one mode's pixel state for the current tick. It returns
// true if the strip needs to be flushed.
type Handler interface {
	Render(now timeutil.Tick, pixels []Color) bool
}

// Controller owns the pixel buffer and the current mode, and drives the
// render loop (spec §4.13). Strip writes are single-writer by construction
// (only the render loop goroutine touches pixels/strip), matching the
// firmware's spin-lock-like non-blocking write discipline (spec §5).
type Controller struct {
	logger *logrus.Logger
	bus    *bus.Bus
	clock  timeutil.Clock
	strip  StripWriter

	geometry Geometry
	pixels   []Color

	mode     Mode
	handlers map[Mode]Handler
}

// New creates a Controller for the given geometry and strip driver.
func New(logger *logrus.Logger, b *bus.Bus, clock timeutil.Clock, geometry Geometry, strip StripWriter) *Controller {
	return &Controller{
		logger:   logger,
		bus:      b,
		clock:    clock,
		strip:    strip,
		geometry: geometry,
		pixels:   make([]Color, geometry.StripLen),
		handlers: make(map[Mode]Handler),
	}
}

// RegisterHandler installs the handler responsible for rendering mode.
func (c *Controller) RegisterHandler(mode Mode, h Handler) {
	c.handlers[mode] = h
}

// SetMode switches the active render mode.
func (c *Controller) SetMode(mode Mode) {
	c.mode = mode
}

// Mode returns the currently active render mode.
func (c *Controller) Mode() Mode {
	return c.mode
}

// Geometry returns the controller's ring layout.
func (c *Controller) Geometry() Geometry {
	return c.geometry
}

// Pixels returns the controller's live pixel buffer. Handlers mutate it
// directly; callers must not retain it across render ticks.
func (c *Controller) Pixels() []Color {
	return c.pixels
}

// RenderOnce runs a single render tick: invoke the current mode's handler,
// then flush the strip iff it reports dirty pixels.
func (c *Controller) RenderOnce() {
	h, ok := c.handlers[c.mode]
	if !ok {
		return
	}
	now := c.clock.Now()
	if !h.Render(now, c.pixels) {
		return
	}
	scaled := make([]Color, len(c.pixels))
	for i, p := range c.pixels {
		scaled[i] = p.Scaled()
	}
	if err := c.strip.WriteAll(scaled); err != nil {
		c.logger.WithError(err).Warn("led: strip write failed")
	}
}

// Run launches the periodic render task (spec §4.13, §5).
func (c *Controller) Run(ctx context.Context) {
	groutine.Go(ctx, "led-render", func(ctx context.Context) {
		ticker := time.NewTicker(RenderPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.RenderOnce()
			}
		}
	})
}

// setRange sets pixels[lo..hi] inclusive to color, clamped to buffer bounds.
func setRange(pixels []Color, lo, hi int, color Color) {
	if lo < 0 {
		lo = 0
	}
	if hi >= len(pixels) {
		hi = len(pixels) - 1
	}
	for i := lo; i <= hi; i++ {
		pixels[i] = color
	}
}
