package battery

import (
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func newTestLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func constantReader(mv uint16) Reader {
	return func() (uint16, error) { return mv, nil }
}

func TestSampleOnceComputesExpectedPercent(t *testing.T) {
	// Reader values are pre-divider millivolts; the sensor multiplies by
	// the divider constant to recover actual battery voltage. 1795mV here
	// yields 3.59V, the midpoint of [3.0, 4.18], so percent should be ~50.
	s := New(newTestLogger(), constantReader(1795), nil)
	s.sampleOnce()
	assert.InDelta(t, 50, s.Percent(), 1)
}

func TestSampleOnceClampsAboveMax(t *testing.T) {
	s := New(newTestLogger(), constantReader(3000), nil)
	s.sampleOnce()
	assert.Equal(t, 100, s.Percent())
}

func TestSampleOnceClampsBelowMin(t *testing.T) {
	s := New(newTestLogger(), constantReader(1000), nil)
	s.sampleOnce()
	assert.Equal(t, 0, s.Percent())
}

func TestPercentDefaultsToZeroBeforeFirstSample(t *testing.T) {
	s := New(newTestLogger(), constantReader(3590), nil)
	assert.Equal(t, 0, s.Percent())
}
