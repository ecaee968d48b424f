package led

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joehacksalot/badgecore/internal/timeutil"
)

func TestColorScaledAppliesIntensityAndGlobalBrightness(t *testing.T) {
	c := Color{R: 255, G: 255, B: 255, I: 100}
	scaled := c.Scaled()
	expected := uint8(255 * (float64(BrightnessNormal) / 255.0))
	assert.Equal(t, expected, scaled.R)
	assert.Equal(t, expected, scaled.G)
	assert.Equal(t, expected, scaled.B)
}

func TestColorScaledZeroIntensityIsBlack(t *testing.T) {
	c := Color{R: 255, G: 255, B: 255, I: 0}
	assert.Equal(t, Color{I: 0}, c.Scaled())
}

func intPtr(v int) *int     { return &v }
func u8Ptr(v uint8) *uint8  { return &v }

func TestPixelAddressingSinglePixelViaN1(t *testing.T) {
	buf := make([]Color, 10)
	p := Pixel{N1: intPtr(3), R: u8Ptr(10)}
	p.apply(buf)
	assert.Equal(t, uint8(10), buf[3].R)
	assert.Equal(t, uint8(0), buf[2].R)
	assert.Equal(t, uint8(0), buf[4].R)
}

func TestPixelAddressingSinglePixelViaN2(t *testing.T) {
	buf := make([]Color, 10)
	p := Pixel{N2: intPtr(7), G: u8Ptr(20)}
	p.apply(buf)
	assert.Equal(t, uint8(20), buf[7].G)
}

func TestPixelAddressingInclusiveRange(t *testing.T) {
	buf := make([]Color, 10)
	p := Pixel{N1: intPtr(2), N2: intPtr(5), B: u8Ptr(30)}
	p.apply(buf)
	for i := 2; i <= 5; i++ {
		assert.Equal(t, uint8(30), buf[i].B, "index %d", i)
	}
	assert.Equal(t, uint8(0), buf[1].B)
	assert.Equal(t, uint8(0), buf[6].B)
}

func TestPixelAddressingAllPixelsOnNegativeOne(t *testing.T) {
	buf := make([]Color, 10)
	p := Pixel{N1: intPtr(-1), R: u8Ptr(5)}
	p.apply(buf)
	for i := range buf {
		assert.Equal(t, uint8(5), buf[i].R)
	}
}

func TestSequenceHandlerAdvancesFrameAfterHoldExpires(t *testing.T) {
	doc := &Document{Frames: []Frame{
		{HoldMs: 100, Pixels: []Pixel{{N1: intPtr(0), R: u8Ptr(1)}}},
		{HoldMs: 100, Pixels: []Pixel{{N1: intPtr(0), R: u8Ptr(2)}}},
	}}
	h := NewSequenceHandler()
	h.Load(doc)

	buf := make([]Color, 5)
	require.True(t, h.Render(timeutil.Tick(0), buf))
	assert.Equal(t, uint8(1), buf[0].R)

	// Before the hold expires, no redraw.
	assert.False(t, h.Render(timeutil.Tick(50), buf))

	require.True(t, h.Render(timeutil.Tick(150), buf))
	assert.Equal(t, uint8(2), buf[0].R)
}

func TestSequenceHandlerWrapsCursor(t *testing.T) {
	doc := &Document{Frames: []Frame{
		{HoldMs: 10, Pixels: []Pixel{{N1: intPtr(0), R: u8Ptr(1)}}},
		{HoldMs: 10, Pixels: []Pixel{{N1: intPtr(0), R: u8Ptr(2)}}},
	}}
	h := NewSequenceHandler()
	h.Load(doc)

	buf := make([]Color, 5)
	h.Render(timeutil.Tick(0), buf)
	h.Render(timeutil.Tick(20), buf)
	require.True(t, h.Render(timeutil.Tick(40), buf))
	assert.Equal(t, uint8(1), buf[0].R)
}

func TestBatteryColorBands(t *testing.T) {
	assert.Equal(t, batteryGreatColor, batteryColorForPercent(95))
	assert.Equal(t, batteryGoodColor, batteryColorForPercent(60))
	assert.Equal(t, batteryWarnColor, batteryColorForPercent(30))
	assert.Equal(t, batteryBadColor, batteryColorForPercent(10))
}

func TestBatteryIndicatorFillsProportionallyToElapsed(t *testing.T) {
	b := NewBatteryIndicator(ReactorGeometry, func() int { return 90 }, 1000)
	buf := make([]Color, ReactorGeometry.StripLen)
	b.Activate(timeutil.Tick(0))

	require.True(t, b.Render(timeutil.Tick(500), buf))
	litOuter := 0
	for i := ReactorGeometry.OuterRingOffset; i < ReactorGeometry.OuterRingOffset+ReactorGeometry.OuterRingCount; i++ {
		if buf[i] != (Color{}) {
			litOuter++
		}
	}
	assert.InDelta(t, ReactorGeometry.OuterRingCount/2, litOuter, 2)
}

func TestOffHandlerClearsOnceThenIdle(t *testing.T) {
	buf := []Color{{R: 1}, {G: 2}}
	h := NewOffHandler()
	assert.True(t, h.Render(timeutil.Tick(0), buf))
	assert.Equal(t, Color{}, buf[0])
	assert.False(t, h.Render(timeutil.Tick(1), buf))
}
